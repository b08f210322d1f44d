package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tarikulceo/marketrelay/internal/provider"
)

// Exchange is the slice of the connection manager the handlers need.
type Exchange interface {
	StartExchange() *provider.Handle
	StopExchange()
	Banned() bool
	HandleError(err error) *provider.Handle
}

// Broadcaster is the downstream fan-out contract.
type Broadcaster interface {
	HasSubscribers(route string) bool
	Broadcast(route string, envelope Envelope)
}

// Envelope is one broadcast frame. Stream is the frontend key clients use to
// demultiplex; Data carries the symbol and the kind-specific payload.
type Envelope struct {
	Stream string      `json:"stream"`
	Data   StreamData  `json:"data"`
}

// StreamData is the broadcast body.
type StreamData struct {
	Symbol   string      `json:"symbol"`
	Type     string      `json:"type"`
	Interval string      `json:"interval,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Result   interface{} `json:"result"`
}

// update is the coalescing slot: at most one pending update per frontend key,
// newest pull result wins.
type update struct {
	req  Request
	data interface{}
}

// Handler runs the state machine for one stream kind. One instance per kind;
// the buffer and subscription set are shared across all symbols of that kind.
type Handler struct {
	kind       provider.Kind
	route      string
	pacing     time.Duration
	flushEvery time.Duration

	exchange Exchange
	hub      Broadcaster

	// backoff knobs, injectable for tests
	banPoll      time.Duration
	errorBackoff time.Duration
	sleep        func(time.Duration)

	mu           sync.Mutex
	subs         map[string]bool
	buffer       map[string]*update
	flushRunning bool
	flushStop    chan struct{}
}

// NewHandler builds a handler for one kind.
func NewHandler(kind provider.Kind, route string, pacing, flushEvery time.Duration, ex Exchange, hub Broadcaster) *Handler {
	return &Handler{
		kind:         kind,
		route:        route,
		pacing:       pacing,
		flushEvery:   flushEvery,
		exchange:     ex,
		hub:          hub,
		banPoll:      time.Second,
		errorBackoff: 5 * time.Second,
		sleep:        time.Sleep,
		subs:         make(map[string]bool),
		buffer:       make(map[string]*update),
	}
}

// Kind returns the stream kind this handler serves.
func (h *Handler) Kind() provider.Kind { return h.kind }

// Start registers a subscription and launches its pull loop unless an
// identical internal key is already active. A failed provider start or an
// unsupported kind aborts this call only; the handler stays healthy.
func (h *Handler) Start(req Request) {
	h.startFlusher()

	handle := h.exchange.StartExchange()
	if handle == nil {
		log.Warn().
			Str("kind", h.kind.String()).
			Str("symbol", req.Symbol).
			Msg("No provider handle available, dropping subscription")
		return
	}

	if !handle.Supports(h.kind) {
		log.Info().
			Str("provider", handle.Provider).
			Str("kind", h.kind.String()).
			Msg("Provider does not support stream kind, ignoring")
		return
	}

	key := req.InternalKey()
	h.mu.Lock()
	if h.subs[key] {
		h.mu.Unlock()
		return
	}
	h.subs[key] = true
	h.mu.Unlock()

	log.Info().
		Str("key", key).
		Str("route", h.route).
		Msg("📡 Stream subscription started")

	go h.pullLoop(req, handle)
}

// Stop clears every subscription marker (loops self-terminate on their next
// guard check), cancels the flush timer, and releases the provider handle.
func (h *Handler) Stop() {
	h.mu.Lock()
	h.subs = make(map[string]bool)
	h.buffer = make(map[string]*update)
	if h.flushRunning {
		close(h.flushStop)
		h.flushRunning = false
	}
	h.mu.Unlock()

	h.exchange.StopExchange()
	log.Info().Str("kind", h.kind.String()).Msg("Stream handler stopped")
}

// ActiveKeys returns the currently subscribed internal keys.
func (h *Handler) ActiveKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	return keys
}

// pullLoop is one internal key's Active state: pull, buffer, pace, until the
// key is unmarked or the route has no subscribers left.
func (h *Handler) pullLoop(req Request, handle *provider.Handle) {
	key := req.InternalKey()
	fkey := req.FrontendKey()

	for {
		h.mu.Lock()
		active := h.subs[key]
		h.mu.Unlock()
		if !active || !h.hub.HasSubscribers(h.route) {
			break
		}

		if h.exchange.Banned() {
			h.sleep(h.banPoll)
			continue
		}

		data, err := h.fetch(handle, req)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Stream pull failed")
			if refreshed := h.exchange.HandleError(err); refreshed != nil {
				handle = refreshed
			}
			h.sleep(h.errorBackoff)
			continue
		}

		h.mu.Lock()
		h.buffer[fkey] = &update{req: req, data: data}
		h.mu.Unlock()

		h.sleep(h.pacing)
	}

	h.mu.Lock()
	delete(h.subs, key)
	h.mu.Unlock()
	log.Debug().Str("key", key).Msg("Stream pull loop exited")
}

// fetch calls the typed provider method for this handler's kind.
func (h *Handler) fetch(handle *provider.Handle, req Request) (interface{}, error) {
	switch h.kind {
	case provider.KindTicker:
		return handle.Client.FetchTicker(req.Symbol)
	case provider.KindOHLCV:
		return handle.Client.FetchOHLCV(req.Symbol, req.Interval, req.Limit)
	case provider.KindTrades:
		return handle.Client.FetchTrades(req.Symbol, req.Limit)
	case provider.KindOrderBook:
		return handle.Client.FetchOrderBook(req.Symbol, req.Limit)
	}
	return nil, nil
}

// startFlusher lazily starts the one shared flush timer for this handler.
func (h *Handler) startFlusher() {
	h.mu.Lock()
	if h.flushRunning {
		h.mu.Unlock()
		return
	}
	h.flushRunning = true
	stop := make(chan struct{})
	h.flushStop = stop
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(h.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.flush()
			case <-stop:
				return
			}
		}
	}()
}

// flush emits every pending buffered update and clears the buffer. This is
// what bounds the downstream message rate regardless of pull cadence.
func (h *Handler) flush() {
	h.mu.Lock()
	if len(h.buffer) == 0 {
		h.mu.Unlock()
		return
	}
	pending := h.buffer
	h.buffer = make(map[string]*update)
	h.mu.Unlock()

	for fkey, u := range pending {
		h.hub.Broadcast(h.route, Envelope{
			Stream: fkey,
			Data: StreamData{
				Symbol:   u.req.Symbol,
				Type:     u.req.Kind.String(),
				Interval: u.req.Interval,
				Limit:    u.req.Limit,
				Result:   u.data,
			},
		})
	}
}
