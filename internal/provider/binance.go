package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const binanceRESTURL = "https://api.binance.com"

// BinanceClient pulls spot market data from the Binance REST API. Credentials
// are only needed for VerifyCredentials; all market-data endpoints are public.
type BinanceClient struct {
	restURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewBinanceClient creates a Binance client. Empty credentials give an
// anonymous client that still serves all four stream kinds.
func NewBinanceClient(creds Credentials) *BinanceClient {
	return &BinanceClient{
		restURL:    binanceRESTURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *BinanceClient) Name() string { return "binance" }

// Supports reports stream capability; Binance serves every kind.
func (c *BinanceClient) Supports(k Kind) bool { return true }

func (c *BinanceClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// binanceSymbol maps "BTC/USDT" to "BTCUSDT".
func binanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *BinanceClient) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.restURL + path)
	if err != nil {
		return fmt.Errorf("binance get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("binance", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

// FetchTicker fetches a 24h rolling ticker.
func (c *BinanceClient) FetchTicker(symbol string) (*Ticker, error) {
	var raw struct {
		LastPrice  string `json:"lastPrice"`
		BidPrice   string `json:"bidPrice"`
		AskPrice   string `json:"askPrice"`
		HighPrice  string `json:"highPrice"`
		LowPrice   string `json:"lowPrice"`
		Volume     string `json:"volume"`
		CloseTime  int64  `json:"closeTime"`
	}
	path := fmt.Sprintf("/api/v3/ticker/24hr?symbol=%s", binanceSymbol(symbol))
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	t := &Ticker{Symbol: symbol, Timestamp: raw.CloseTime}
	t.Last, _ = decimal.NewFromString(raw.LastPrice)
	t.Bid, _ = decimal.NewFromString(raw.BidPrice)
	t.Ask, _ = decimal.NewFromString(raw.AskPrice)
	t.High, _ = decimal.NewFromString(raw.HighPrice)
	t.Low, _ = decimal.NewFromString(raw.LowPrice)
	t.Volume, _ = decimal.NewFromString(raw.Volume)
	return t, nil
}

// FetchOHLCV fetches klines. Binance interval strings match the wire format
// ("1m", "1h", ...) so they pass through unchanged.
func (c *BinanceClient) FetchOHLCV(symbol, interval string, limit int) ([]Candle, error) {
	var raw [][]interface{}
	path := fmt.Sprintf("/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		binanceSymbol(symbol), interval, limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		cd := Candle{Timestamp: int64(openTime)}
		cd.Open = parseJSONDecimal(k[1])
		cd.High = parseJSONDecimal(k[2])
		cd.Low = parseJSONDecimal(k[3])
		cd.Close = parseJSONDecimal(k[4])
		cd.Volume = parseJSONDecimal(k[5])
		candles = append(candles, cd)
	}
	return candles, nil
}

// FetchTrades fetches the recent trade tape.
func (c *BinanceClient) FetchTrades(symbol string, limit int) ([]Trade, error) {
	var raw []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	path := fmt.Sprintf("/api/v3/trades?symbol=%s&limit=%d", binanceSymbol(symbol), limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	trades := make([]Trade, len(raw))
	for i, r := range raw {
		side := "buy"
		if r.IsBuyerMaker {
			side = "sell"
		}
		trades[i] = Trade{
			ID:        fmt.Sprintf("%d", r.ID),
			Side:      side,
			Timestamp: r.Time,
		}
		trades[i].Price, _ = decimal.NewFromString(r.Price)
		trades[i].Amount, _ = decimal.NewFromString(r.Qty)
	}
	return trades, nil
}

// FetchOrderBook fetches a depth snapshot.
func (c *BinanceClient) FetchOrderBook(symbol string, limit int) (*OrderBook, error) {
	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	path := fmt.Sprintf("/api/v3/depth?symbol=%s&limit=%d", binanceSymbol(symbol), limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	book := &OrderBook{
		Symbol:    symbol,
		Bids:      make([]BookLevel, len(raw.Bids)),
		Asks:      make([]BookLevel, len(raw.Asks)),
		Timestamp: time.Now().UnixMilli(),
	}
	for i, b := range raw.Bids {
		book.Bids[i].Price, _ = decimal.NewFromString(b[0])
		book.Bids[i].Amount, _ = decimal.NewFromString(b[1])
	}
	for i, a := range raw.Asks {
		book.Asks[i].Price, _ = decimal.NewFromString(a[0])
		book.Asks[i].Amount, _ = decimal.NewFromString(a[1])
	}
	return book, nil
}

// LoadMarkets fetches the exchange catalog.
func (c *BinanceClient) LoadMarkets() (map[string]Market, error) {
	var raw struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if err := c.get("/api/v3/exchangeInfo", &raw); err != nil {
		return nil, err
	}

	markets := make(map[string]Market, len(raw.Symbols))
	for _, s := range raw.Symbols {
		key := s.BaseAsset + "/" + s.QuoteAsset
		markets[key] = Market{
			Symbol: key,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		}
	}
	return markets, nil
}

// VerifyCredentials makes one signed account call. A rejection means the
// caller should fall back to an anonymous client.
func (c *BinanceClient) VerifyCredentials() error {
	if c.creds.Missing() {
		return fmt.Errorf("binance: no credentials configured")
	}

	query := fmt.Sprintf("timestamp=%d&recvWindow=5000", time.Now().UnixMilli())
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	url := fmt.Sprintf("%s/api/v3/account?%s&signature=%s", c.restURL, query, signature)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance account check: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return statusError("binance", resp.StatusCode, string(body))
	}
	return nil
}

// parseJSONDecimal handles kline fields that arrive as JSON strings.
func parseJSONDecimal(v interface{}) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(s)
	return d
}
