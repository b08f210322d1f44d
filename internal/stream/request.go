// Package stream runs one handler per stream kind: it registers downstream
// subscriptions, pulls from the active provider in per-key loops, coalesces
// the latest result per frontend key, and flushes on a fixed interval.
package stream

import (
	"fmt"
	"strconv"

	"github.com/tarikulceo/marketrelay/internal/provider"
)

// Defaults applied when a subscription omits optional parameters.
const (
	defaultInterval       = "1h"
	defaultOHLCVLimit     = 100
	defaultTradesLimit    = 20
	defaultOrderBookLimit = 50
)

// SubscribeMessage is the inbound wire format:
// {"payload": {"symbol": "...", "type": "...", "interval": "...", "limit": n}}
type SubscribeMessage struct {
	Payload struct {
		Symbol   string `json:"symbol"`
		Type     string `json:"type"`
		Interval string `json:"interval,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	} `json:"payload"`
}

// Request is one parsed downstream interest.
type Request struct {
	Symbol   string
	Kind     provider.Kind
	Interval string // OHLCV only
	Limit    int    // OHLCV, trades, order book
}

// ParseRequest validates a subscription message and fills kind-specific
// defaults. Unknown types are an error the caller must surface.
func ParseRequest(msg SubscribeMessage) (Request, error) {
	if msg.Payload.Symbol == "" {
		return Request{}, fmt.Errorf("missing symbol")
	}

	kind, err := provider.ParseKind(msg.Payload.Type)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Symbol:   msg.Payload.Symbol,
		Kind:     kind,
		Interval: msg.Payload.Interval,
		Limit:    msg.Payload.Limit,
	}

	switch kind {
	case provider.KindOHLCV:
		if req.Interval == "" {
			req.Interval = defaultInterval
		}
		if req.Limit <= 0 {
			req.Limit = defaultOHLCVLimit
		}
	case provider.KindTrades:
		if req.Limit <= 0 {
			req.Limit = defaultTradesLimit
		}
	case provider.KindOrderBook:
		if req.Limit <= 0 {
			req.Limit = defaultOrderBookLimit
		}
	}

	return req, nil
}

// InternalKey identifies one running pull loop: symbol:kind[:interval][:limit].
func (r Request) InternalKey() string {
	return r.Symbol + ":" + r.FrontendKey()
}

// FrontendKey is the broadcast discriminator: kind[:interval][:limit]. The
// symbol is omitted because one route serves every symbol; it travels in the
// payload body instead.
func (r Request) FrontendKey() string {
	switch r.Kind {
	case provider.KindOHLCV:
		return r.Kind.String() + ":" + r.Interval + ":" + strconv.Itoa(r.Limit)
	case provider.KindTrades, provider.KindOrderBook:
		return r.Kind.String() + ":" + strconv.Itoa(r.Limit)
	}
	return r.Kind.String()
}
