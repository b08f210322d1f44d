package provider

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Chainlink price feeds on Polygon. Read-only, no credential surface, and only
// the ticker kind.
const (
	polygonRPC = "https://polygon-rpc.com"

	// latestRoundData() function selector.
	latestRoundDataSelector = "feaf968c"
)

// chainlinkFeeds maps relay symbols to feed contract addresses.
var chainlinkFeeds = map[string]string{
	"BTC/USD": "0xc907E116054Ad103354f2D350FD2514433D57F6f",
	"ETH/USD": "0xF9680D99D6C9589e2a93a78A04A279e509205945",
	"SOL/USD": "0x10C8264C0935b3B9870013e057f330Ff3e9C56dC",
}

// ChainlinkClient reads aggregated oracle prices over raw JSON-RPC.
type ChainlinkClient struct {
	rpcURL     string
	decimals   int32
	httpClient *http.Client
}

// NewChainlinkClient creates a Chainlink reader. Credentials are ignored, the
// feeds are public contract state.
func NewChainlinkClient() *ChainlinkClient {
	return &ChainlinkClient{
		rpcURL:     polygonRPC,
		decimals:   8, // USD feeds use 8 decimals
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ChainlinkClient) Name() string { return "chainlink" }

// Supports is ticker-only; subscriptions for other kinds are dropped upstream.
func (c *ChainlinkClient) Supports(k Kind) bool { return k == KindTicker }

func (c *ChainlinkClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// FetchTicker reads latestRoundData from the symbol's feed contract.
func (c *ChainlinkClient) FetchTicker(symbol string) (*Ticker, error) {
	feed, ok := chainlinkFeeds[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("chainlink: no feed for %s", symbol)
	}

	result, err := c.ethCall(feed, latestRoundDataSelector)
	if err != nil {
		return nil, err
	}
	// (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	if len(result) < 160 {
		return nil, fmt.Errorf("chainlink: short response (%d bytes)", len(result))
	}

	answer := new(big.Int).SetBytes(result[32:64])
	updatedAt := new(big.Int).SetBytes(result[96:128]).Int64()

	price := decimal.NewFromBigInt(answer, -c.decimals)
	return &Ticker{
		Symbol:    symbol,
		Last:      price,
		Bid:       price,
		Ask:       price,
		Timestamp: updatedAt * 1000,
	}, nil
}

// FetchOHLCV is not served by oracle feeds.
func (c *ChainlinkClient) FetchOHLCV(symbol, interval string, limit int) ([]Candle, error) {
	return nil, fmt.Errorf("chainlink: ohlcv not supported")
}

// FetchTrades is not served by oracle feeds.
func (c *ChainlinkClient) FetchTrades(symbol string, limit int) ([]Trade, error) {
	return nil, fmt.Errorf("chainlink: trades not supported")
}

// FetchOrderBook is not served by oracle feeds.
func (c *ChainlinkClient) FetchOrderBook(symbol string, limit int) (*OrderBook, error) {
	return nil, fmt.Errorf("chainlink: orderbook not supported")
}

// LoadMarkets lists the configured feeds.
func (c *ChainlinkClient) LoadMarkets() (map[string]Market, error) {
	markets := make(map[string]Market, len(chainlinkFeeds))
	for symbol := range chainlinkFeeds {
		parts := strings.SplitN(symbol, "/", 2)
		markets[symbol] = Market{Symbol: symbol, Base: parts[0], Quote: parts[1], Active: true}
	}
	return markets, nil
}

// VerifyCredentials always passes; there is nothing to authenticate.
func (c *ChainlinkClient) VerifyCredentials() error { return nil }

// ethCall performs a raw eth_call against the feed contract.
func (c *ChainlinkClient) ethCall(to, selector string) ([]byte, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_call",
		"params": []interface{}{
			map[string]string{"to": to, "data": "0x" + selector},
			"latest",
		},
	}
	body, _ := json.Marshal(payload)

	resp, err := c.httpClient.Post(c.rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chainlink rpc: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("chainlink", resp.StatusCode, string(respBody))
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("chainlink rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return hex.DecodeString(strings.TrimPrefix(rpcResp.Result, "0x"))
}
