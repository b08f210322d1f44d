package stream

import (
	"time"

	"github.com/tarikulceo/marketrelay/internal/provider"
)

// Per-kind cadence constants. Pacing is the provider pull interval, flush the
// downstream delivery interval; they are deliberately independent.
const (
	tickerPacing    = 250 * time.Millisecond
	ohlcvPacing     = 400 * time.Millisecond
	tradesPacing    = 700 * time.Millisecond
	orderBookPacing = 600 * time.Millisecond

	tickerFlush    = 500 * time.Millisecond
	ohlcvFlush     = 400 * time.Millisecond
	tradesFlush    = 700 * time.Millisecond
	orderBookFlush = 600 * time.Millisecond
)

// Registry owns the four stream handlers, one per kind. It is created once by
// the process entry point and injected into request routing; there are no
// package-level singletons.
type Registry struct {
	handlers map[provider.Kind]*Handler
}

// NewRegistry builds the handler set against one exchange manager and one
// fan-out hub, all broadcasting on the same logical route.
func NewRegistry(ex Exchange, hub Broadcaster, route string) *Registry {
	return &Registry{
		handlers: map[provider.Kind]*Handler{
			provider.KindTicker:    NewHandler(provider.KindTicker, route, tickerPacing, tickerFlush, ex, hub),
			provider.KindOHLCV:     NewHandler(provider.KindOHLCV, route, ohlcvPacing, ohlcvFlush, ex, hub),
			provider.KindTrades:    NewHandler(provider.KindTrades, route, tradesPacing, tradesFlush, ex, hub),
			provider.KindOrderBook: NewHandler(provider.KindOrderBook, route, orderBookPacing, orderBookFlush, ex, hub),
		},
	}
}

// Handler returns the handler for a kind.
func (r *Registry) Handler(k provider.Kind) *Handler {
	return r.handlers[k]
}

// Dispatch routes a parsed subscription to its kind handler.
func (r *Registry) Dispatch(req Request) {
	if h, ok := r.handlers[req.Kind]; ok {
		h.Start(req)
	}
}

// StopAll stops every handler.
func (r *Registry) StopAll() {
	for _, h := range r.handlers {
		h.Stop()
	}
}
