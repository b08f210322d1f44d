package exchange

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tarikulceo/marketrelay/internal/provider"
)

// fakeBanStore records saves so tests can assert escalation.
type fakeBanStore struct {
	mu    sync.Mutex
	until int64
	saves []int64
}

func (s *fakeBanStore) LoadBanUntil() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.until
}

func (s *fakeBanStore) SaveBanUntil(until int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until = until
	s.saves = append(s.saves, until)
}

type fakeSource struct {
	name string
	err  error
}

func (s *fakeSource) ActiveProviderName() (string, error) { return s.name, s.err }

// fakeClient implements provider.Client with injectable failures.
type fakeClient struct {
	name       string
	creds      provider.Credentials
	verifyErr  error
	marketsErr error

	mu          sync.Mutex
	verifyCalls int
	marketCalls int
	closed      int
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) FetchTicker(symbol string) (*provider.Ticker, error) {
	return &provider.Ticker{Symbol: symbol}, nil
}

func (c *fakeClient) FetchOHLCV(symbol, interval string, limit int) ([]provider.Candle, error) {
	return nil, nil
}

func (c *fakeClient) FetchTrades(symbol string, limit int) ([]provider.Trade, error) {
	return nil, nil
}

func (c *fakeClient) FetchOrderBook(symbol string, limit int) (*provider.OrderBook, error) {
	return &provider.OrderBook{Symbol: symbol}, nil
}

func (c *fakeClient) LoadMarkets() (map[string]provider.Market, error) {
	c.mu.Lock()
	c.marketCalls++
	c.mu.Unlock()
	if c.marketsErr != nil {
		return nil, c.marketsErr
	}
	return map[string]provider.Market{"BTC/USDT": {Symbol: "BTC/USDT", Active: true}}, nil
}

func (c *fakeClient) VerifyCredentials() error {
	c.mu.Lock()
	c.verifyCalls++
	c.mu.Unlock()
	return c.verifyErr
}

func (c *fakeClient) Supports(k provider.Kind) bool { return true }

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

// testRig bundles a manager with its fakes and a controllable clock.
type testRig struct {
	manager *Manager
	bans    *fakeBanStore
	now     time.Time
	sleeps  []time.Duration

	mu           sync.Mutex
	factoryCalls []provider.Credentials
	clients      []*fakeClient

	buildClient func(creds provider.Credentials) *fakeClient
	creds       provider.Credentials
}

func newTestRig() *testRig {
	rig := &testRig{
		bans:  &fakeBanStore{},
		now:   time.Unix(1700000000, 0),
		creds: provider.Credentials{APIKey: "key", APISecret: "secret"},
	}
	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		return &fakeClient{name: "binance", creds: creds}
	}

	factory := func(name string, creds provider.Credentials) (provider.Client, error) {
		rig.mu.Lock()
		defer rig.mu.Unlock()
		rig.factoryCalls = append(rig.factoryCalls, creds)
		c := rig.buildClient(creds)
		rig.clients = append(rig.clients, c)
		return c, nil
	}

	m := NewManager(DefaultOptions(), factory, rig.bans, &fakeSource{name: "binance"}, func(string) provider.Credentials {
		return rig.creds
	})
	m.now = func() time.Time { return rig.now }
	m.sleep = func(d time.Duration) { rig.sleeps = append(rig.sleeps, d) }

	rig.manager = m
	return rig
}

func (rig *testRig) factoryCount() int {
	rig.mu.Lock()
	defer rig.mu.Unlock()
	return len(rig.factoryCalls)
}

func TestBanGateBlocksAllEntryPoints(t *testing.T) {
	rig := newTestRig()
	rig.bans.until = rig.now.Add(10 * time.Second).UnixMilli()

	if h := rig.manager.StartExchange(); h != nil {
		t.Error("StartExchange should return nil while banned")
	}
	if h := rig.manager.InitializeProvider("binance", 3); h != nil {
		t.Error("InitializeProvider should return nil while banned")
	}
	if ok, _ := rig.manager.TestExchangeCredentials("binance"); ok {
		t.Error("TestExchangeCredentials should fail while banned")
	}
	if rig.factoryCount() != 0 {
		t.Errorf("No client should be constructed while banned, got %d", rig.factoryCount())
	}
}

func TestBanExpiryAllowsStart(t *testing.T) {
	rig := newTestRig()
	rig.bans.until = rig.now.Add(10 * time.Second).UnixMilli()

	if h := rig.manager.StartExchange(); h != nil {
		t.Fatal("Expected nil while banned")
	}

	rig.now = rig.now.Add(11 * time.Second)
	if h := rig.manager.StartExchange(); h == nil {
		t.Fatal("Expected handle after ban expiry")
	}
}

func TestStartExchangeIdempotent(t *testing.T) {
	rig := newTestRig()

	h1 := rig.manager.StartExchange()
	if h1 == nil {
		t.Fatal("Expected handle")
	}
	h2 := rig.manager.StartExchange()
	if h1 != h2 {
		t.Error("Second StartExchange should return the cached handle")
	}
	if rig.factoryCount() != 1 {
		t.Errorf("Expected 1 client construction, got %d", rig.factoryCount())
	}
	if !h1.Authenticated {
		t.Error("Handle should be authenticated with accepted credentials")
	}
}

func TestMissingCredentialsCountedWithoutNetwork(t *testing.T) {
	rig := newTestRig()
	rig.creds = provider.Credentials{}

	if h := rig.manager.InitializeProvider("binance", 3); h != nil {
		t.Error("Expected nil with missing credentials")
	}
	if rig.factoryCount() != 0 {
		t.Errorf("No client should be constructed, got %d", rig.factoryCount())
	}
	if rig.manager.failures != 1 {
		t.Errorf("Expected failure count 1, got %d", rig.manager.failures)
	}
}

func TestCooldownAfterThreeStrikes(t *testing.T) {
	rig := newTestRig()
	rig.creds = provider.Credentials{}

	for i := 0; i < 3; i++ {
		rig.manager.InitializeProvider("binance", 0)
		rig.now = rig.now.Add(time.Minute)
	}

	// Credentials are now present, but the cooldown refuses before looking.
	rig.creds = provider.Credentials{APIKey: "key", APISecret: "secret"}
	if h := rig.manager.InitializeProvider("binance", 3); h != nil {
		t.Error("Expected refusal during cooldown")
	}
	if rig.factoryCount() != 0 {
		t.Errorf("Cooldown refusal must not construct a client, got %d", rig.factoryCount())
	}

	// After the window elapses the attempt goes through.
	rig.now = rig.now.Add(31 * time.Minute)
	if h := rig.manager.InitializeProvider("binance", 3); h == nil {
		t.Error("Expected attempt after cooldown window elapsed")
	}
	if rig.factoryCount() != 1 {
		t.Errorf("Expected 1 client construction after window, got %d", rig.factoryCount())
	}
}

func TestCredentialRejectionFallsBackAnonymous(t *testing.T) {
	rig := newTestRig()
	first := true
	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		c := &fakeClient{name: "binance", creds: creds}
		if first {
			first = false
			c.verifyErr = errors.New("invalid API key")
		}
		return c
	}

	h := rig.manager.InitializeProvider("binance", 3)
	if h == nil {
		t.Fatal("Expected degraded-mode handle")
	}
	if h.Authenticated {
		t.Error("Fallback handle should not be authenticated")
	}
	if rig.factoryCount() != 2 {
		t.Fatalf("Expected 2 constructions (auth then anonymous), got %d", rig.factoryCount())
	}
	if !rig.factoryCalls[1].Missing() {
		t.Error("Second construction should be anonymous")
	}
}

func TestCatalogRateLimitEscalatesToBan(t *testing.T) {
	rig := newTestRig()
	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		return &fakeClient{
			name:       "binance",
			marketsErr: &provider.RateLimitError{Provider: "binance", Code: 429},
		}
	}

	if h := rig.manager.InitializeProvider("binance", 3); h != nil {
		t.Error("Expected nil on rate-limited catalog load")
	}

	if len(rig.bans.saves) != 1 {
		t.Fatalf("Expected 1 ban save, got %d", len(rig.bans.saves))
	}
	want := rig.now.Add(60 * time.Second).UnixMilli()
	if rig.bans.saves[0] != want {
		t.Errorf("Expected ban until %d, got %d", want, rig.bans.saves[0])
	}
	// The recursion must be stopped by the ban gate, not spin.
	if rig.factoryCount() != 1 {
		t.Errorf("Expected 1 construction, got %d", rig.factoryCount())
	}
}

func TestCatalogErrorRetriesAnonymous(t *testing.T) {
	rig := newTestRig()
	first := true
	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		c := &fakeClient{name: "binance", creds: creds}
		if first {
			first = false
			c.marketsErr = errors.New("exchange maintenance")
		}
		return c
	}

	h := rig.manager.InitializeProvider("binance", 3)
	if h == nil {
		t.Fatal("Expected handle from anonymous retry")
	}
	if h.Authenticated {
		t.Error("Recreated client should be anonymous")
	}
	if rig.factoryCount() != 2 {
		t.Errorf("Expected 2 constructions, got %d", rig.factoryCount())
	}
}

func TestInitRetriesExhausted(t *testing.T) {
	rig := newTestRig()
	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		return &fakeClient{name: "binance", marketsErr: errors.New("down")}
	}

	if h := rig.manager.InitializeProvider("binance", 1); h != nil {
		t.Error("Expected nil after exhausting retries")
	}
	// retries=1 means one retry after the first failed attempt.
	if len(rig.sleeps) != 1 {
		t.Errorf("Expected 1 retry delay, got %d", len(rig.sleeps))
	}
	if rig.manager.failures != 2 {
		t.Errorf("Expected 2 recorded failures, got %d", rig.manager.failures)
	}
}

func TestHandleErrorClassifier(t *testing.T) {
	rig := newTestRig()
	h := rig.manager.StartExchange()
	if h == nil {
		t.Fatal("Expected handle")
	}

	// Generic errors hand back a (cached) handle to keep pulling with.
	if got := rig.manager.HandleError(errors.New("read timeout")); got != h {
		t.Error("Generic error should return the active handle")
	}

	// Rate-limit errors escalate and return nil.
	if got := rig.manager.HandleError(&provider.RateLimitError{Provider: "binance", Code: 429}); got != nil {
		t.Error("Rate-limit error should return nil")
	}
	if len(rig.bans.saves) != 1 {
		t.Fatalf("Expected ban persisted, got %d saves", len(rig.bans.saves))
	}
	want := rig.now.Add(60 * time.Second).UnixMilli()
	if rig.bans.saves[0] != want {
		t.Errorf("Expected ban until %d, got %d", want, rig.bans.saves[0])
	}
}

func TestStopExchangeIdempotent(t *testing.T) {
	rig := newTestRig()
	rig.manager.StartExchange()

	rig.manager.StopExchange()
	if rig.clients[0].closed != 1 {
		t.Errorf("Expected client closed once, got %d", rig.clients[0].closed)
	}

	// Safe to call with nothing active.
	rig.manager.StopExchange()

	// A fresh start builds a new client.
	if h := rig.manager.StartExchange(); h == nil {
		t.Fatal("Expected new handle after stop")
	}
	if rig.factoryCount() != 2 {
		t.Errorf("Expected 2 constructions, got %d", rig.factoryCount())
	}
}

func TestRemoveExchange(t *testing.T) {
	rig := newTestRig()
	rig.manager.StartExchange()

	if err := rig.manager.RemoveExchange(""); err == nil {
		t.Error("Empty name must fail loudly")
	}

	if err := rig.manager.RemoveExchange("binance"); err != nil {
		t.Fatalf("RemoveExchange failed: %v", err)
	}
	if rig.clients[0].closed != 1 {
		t.Error("Evicted handle should be closed")
	}

	// Active pointer was cleared, so a restart re-initializes.
	rig.manager.StartExchange()
	if rig.factoryCount() != 2 {
		t.Errorf("Expected re-initialization, got %d constructions", rig.factoryCount())
	}
}

func TestTestExchangeCredentials(t *testing.T) {
	rig := newTestRig()

	ok, msg := rig.manager.TestExchangeCredentials("binance")
	if !ok {
		t.Errorf("Expected pass, got %q", msg)
	}
	// Throwaway client is closed, never cached.
	if rig.clients[0].closed != 1 {
		t.Error("Throwaway client should be closed")
	}
	if h := rig.manager.InitializeProvider("binance", 0); h == nil {
		t.Error("Credential test must not poison the cache")
	}

	rig.buildClient = func(creds provider.Credentials) *fakeClient {
		return &fakeClient{name: "binance", verifyErr: errors.New("signature mismatch")}
	}
	rig.manager.RemoveExchange("binance")
	ok, msg = rig.manager.TestExchangeCredentials("binance")
	if ok {
		t.Error("Expected failure with rejected credentials")
	}
	if msg == "" {
		t.Error("Expected a human-readable reason")
	}
}

func TestNoProviderEnabled(t *testing.T) {
	rig := newTestRig()
	rig.manager.providers = &fakeSource{name: ""}

	if h := rig.manager.StartExchange(); h != nil {
		t.Error("Expected nil with no enabled provider")
	}
	if rig.factoryCount() != 0 {
		t.Error("No client should be constructed")
	}
}

func TestProviderSourceError(t *testing.T) {
	rig := newTestRig()
	rig.manager.providers = &fakeSource{err: fmt.Errorf("db closed")}

	if h := rig.manager.StartExchange(); h != nil {
		t.Error("Expected nil on provider lookup error")
	}
}
