package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	okxRESTURL = "https://www.okx.com"

	// OKX signals rate limiting with this business code even on HTTP 200.
	okxRateLimitCode = 50011
)

// OKXClient pulls spot market data from the OKX v5 REST API. OKX is the venue
// that exercises the full credential triple (key, secret, passphrase).
type OKXClient struct {
	restURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewOKXClient creates an OKX client.
func NewOKXClient(creds Credentials) *OKXClient {
	return &OKXClient{
		restURL:    okxRESTURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *OKXClient) Name() string { return "okx" }

func (c *OKXClient) Supports(k Kind) bool { return true }

func (c *OKXClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// okxInstID maps "BTC/USDT" to "BTC-USDT".
func okxInstID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// okxBar maps wire intervals to OKX bar strings (hours and above are uppercase).
func okxBar(interval string) string {
	if strings.HasSuffix(interval, "m") || strings.HasSuffix(interval, "s") {
		return interval
	}
	return strings.ToUpper(interval)
}

// okxEnvelope is the common v5 response wrapper.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *OKXClient) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.restURL + path)
	if err != nil {
		return fmt.Errorf("okx get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("okx read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("okx", resp.StatusCode, string(body))
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("okx decode %s: %w", path, err)
	}
	if env.Code != "0" {
		code, _ := strconv.Atoi(env.Code)
		if code == okxRateLimitCode {
			return &RateLimitError{Provider: "okx", Code: code, Message: env.Msg}
		}
		return fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	}
	return json.Unmarshal(env.Data, out)
}

// FetchTicker fetches the instrument ticker.
func (c *OKXClient) FetchTicker(symbol string) (*Ticker, error) {
	var raw []struct {
		Last   string `json:"last"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		High24 string `json:"high24h"`
		Low24  string `json:"low24h"`
		Vol24  string `json:"vol24h"`
		TS     string `json:"ts"`
	}
	path := fmt.Sprintf("/api/v5/market/ticker?instId=%s", okxInstID(symbol))
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("okx: empty ticker for %s", symbol)
	}

	r := raw[0]
	ts, _ := strconv.ParseInt(r.TS, 10, 64)
	t := &Ticker{Symbol: symbol, Timestamp: ts}
	t.Last, _ = decimal.NewFromString(r.Last)
	t.Bid, _ = decimal.NewFromString(r.BidPx)
	t.Ask, _ = decimal.NewFromString(r.AskPx)
	t.High, _ = decimal.NewFromString(r.High24)
	t.Low, _ = decimal.NewFromString(r.Low24)
	t.Volume, _ = decimal.NewFromString(r.Vol24)
	return t, nil
}

// FetchOHLCV fetches candles. OKX returns newest first; the relay delivers
// oldest first, so the batch is reversed.
func (c *OKXClient) FetchOHLCV(symbol, interval string, limit int) ([]Candle, error) {
	var raw [][]string
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		okxInstID(symbol), okxBar(interval), limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		k := raw[i]
		if len(k) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(k[0], 10, 64)
		cd := Candle{Timestamp: ts}
		cd.Open, _ = decimal.NewFromString(k[1])
		cd.High, _ = decimal.NewFromString(k[2])
		cd.Low, _ = decimal.NewFromString(k[3])
		cd.Close, _ = decimal.NewFromString(k[4])
		cd.Volume, _ = decimal.NewFromString(k[5])
		candles = append(candles, cd)
	}
	return candles, nil
}

// FetchTrades fetches the recent trade tape.
func (c *OKXClient) FetchTrades(symbol string, limit int) ([]Trade, error) {
	var raw []struct {
		TradeID string `json:"tradeId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		TS      string `json:"ts"`
	}
	path := fmt.Sprintf("/api/v5/market/trades?instId=%s&limit=%d", okxInstID(symbol), limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}

	trades := make([]Trade, len(raw))
	for i, r := range raw {
		ts, _ := strconv.ParseInt(r.TS, 10, 64)
		trades[i] = Trade{ID: r.TradeID, Side: r.Side, Timestamp: ts}
		trades[i].Price, _ = decimal.NewFromString(r.Px)
		trades[i].Amount, _ = decimal.NewFromString(r.Sz)
	}
	return trades, nil
}

// FetchOrderBook fetches a depth snapshot.
func (c *OKXClient) FetchOrderBook(symbol string, limit int) (*OrderBook, error) {
	var raw []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	}
	path := fmt.Sprintf("/api/v5/market/books?instId=%s&sz=%d", okxInstID(symbol), limit)
	if err := c.get(path, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("okx: empty book for %s", symbol)
	}

	ts, _ := strconv.ParseInt(raw[0].TS, 10, 64)
	book := &OrderBook{
		Symbol:    symbol,
		Bids:      make([]BookLevel, len(raw[0].Bids)),
		Asks:      make([]BookLevel, len(raw[0].Asks)),
		Timestamp: ts,
	}
	for i, b := range raw[0].Bids {
		book.Bids[i].Price, _ = decimal.NewFromString(b[0])
		book.Bids[i].Amount, _ = decimal.NewFromString(b[1])
	}
	for i, a := range raw[0].Asks {
		book.Asks[i].Price, _ = decimal.NewFromString(a[0])
		book.Asks[i].Amount, _ = decimal.NewFromString(a[1])
	}
	return book, nil
}

// LoadMarkets fetches the spot instrument catalog.
func (c *OKXClient) LoadMarkets() (map[string]Market, error) {
	var raw []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
	}
	if err := c.get("/api/v5/public/instruments?instType=SPOT", &raw); err != nil {
		return nil, err
	}

	markets := make(map[string]Market, len(raw))
	for _, r := range raw {
		key := r.BaseCcy + "/" + r.QuoteCcy
		markets[key] = Market{
			Symbol: key,
			Base:   r.BaseCcy,
			Quote:  r.QuoteCcy,
			Active: r.State == "live",
		}
	}
	return markets, nil
}

// VerifyCredentials makes one signed balance call using the full triple.
func (c *OKXClient) VerifyCredentials() error {
	if c.creds.Missing() || c.creds.Passphrase == "" {
		return fmt.Errorf("okx: incomplete credentials")
	}

	const requestPath = "/api/v5/account/balance"
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(timestamp + http.MethodGet + requestPath))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodGet, c.restURL+requestPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("okx balance check: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return statusError("okx", resp.StatusCode, string(body))
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if env.Code != "0" {
		return fmt.Errorf("okx credentials rejected: %s", env.Msg)
	}
	return nil
}
