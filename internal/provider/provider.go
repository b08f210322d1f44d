// Package provider defines the upstream market-data client contract and the
// typed payloads the relay forwards downstream.
package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Kind identifies one stream family a provider can serve.
type Kind int

const (
	KindTicker Kind = iota
	KindOHLCV
	KindTrades
	KindOrderBook
)

// String returns the wire name used in subscription messages and stream keys.
func (k Kind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindOHLCV:
		return "ohlcv"
	case KindTrades:
		return "trades"
	case KindOrderBook:
		return "orderbook"
	}
	return "unknown"
}

// ParseKind maps a wire string onto a Kind. Unknown strings are an error, the
// boundary must reject them rather than coerce.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "ticker":
		return KindTicker, nil
	case "ohlcv":
		return KindOHLCV, nil
	case "trades":
		return KindTrades, nil
	case "orderbook":
		return KindOrderBook, nil
	}
	return 0, fmt.Errorf("unknown stream type %q", s)
}

// Credentials is the triple looked up from the environment per provider.
// Passphrase is optional; only some venues require it.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Missing reports whether the credentials are unusable for an authenticated client.
func (c Credentials) Missing() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// Ticker is a top-of-book snapshot.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// Candle is one OHLCV period.
type Candle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Trade is one print from the trade tape.
type Trade struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      string          `json:"side"`
	Timestamp int64           `json:"timestamp"`
}

// BookLevel is a single price level.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// Market describes one tradable instrument from the provider catalog.
type Market struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// Client is the upstream connection for one venue. Implementations are REST
// pollers; each call is one network round-trip.
type Client interface {
	Name() string
	FetchTicker(symbol string) (*Ticker, error)
	FetchOHLCV(symbol, interval string, limit int) ([]Candle, error)
	FetchTrades(symbol string, limit int) ([]Trade, error)
	FetchOrderBook(symbol string, limit int) (*OrderBook, error)
	LoadMarkets() (map[string]Market, error)
	VerifyCredentials() error
	Supports(k Kind) bool
	Close()
}

// Factory builds a client for a named provider. The exchange manager holds one
// so tests can substitute fakes without touching the network.
type Factory func(name string, creds Credentials) (Client, error)

// Handle is the process-wide view of one live provider connection. At most one
// handle is active at a time; the exchange manager owns replacement and teardown.
type Handle struct {
	Provider      string
	Client        Client
	Authenticated bool

	mu      sync.RWMutex
	live    bool
	markets map[string]Market
}

// NewHandle wraps a client. The handle starts live; Close flips it.
func NewHandle(name string, client Client, authenticated bool) *Handle {
	return &Handle{
		Provider:      name,
		Client:        client,
		Authenticated: authenticated,
		live:          true,
	}
}

// Live reports whether the handle is still usable.
func (h *Handle) Live() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// SetMarkets stores the loaded catalog.
func (h *Handle) SetMarkets(m map[string]Market) {
	h.mu.Lock()
	h.markets = m
	h.mu.Unlock()
}

// Market looks up one instrument from the cached catalog.
func (h *Handle) Market(symbol string) (Market, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.markets[symbol]
	return m, ok
}

// Supports delegates to the underlying client's capability set.
func (h *Handle) Supports(k Kind) bool {
	return h.Client.Supports(k)
}

// Close tears down the underlying client. Safe to call twice.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return
	}
	h.live = false
	h.Client.Close()
}
