// Package exchange owns the single active upstream connection: lazy
// initialization from stored credentials, failure cooldown, rate-limit ban
// escalation, and idempotent start/stop/restart.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tarikulceo/marketrelay/internal/provider"
)

// BanStore persists the "do not call upstream until" timestamp. It is shared
// state: every process pointed at the same database observes the same ban.
type BanStore interface {
	LoadBanUntil() int64
	SaveBanUntil(until int64)
}

// ProviderSource answers "which provider is currently enabled".
type ProviderSource interface {
	ActiveProviderName() (string, error)
}

// Notifier receives operator-facing events. May be nil.
type Notifier interface {
	NotifyBan(providerName string, until time.Time)
	NotifyCredentialFailure(providerName, reason string)
}

// Options are the failure-policy knobs.
type Options struct {
	BanDuration     time.Duration
	CooldownWindow  time.Duration
	CooldownStrikes int
	InitRetries     int
	InitRetryDelay  time.Duration
}

// DefaultOptions matches the documented policy: 60s bans, 3 strikes in 30
// minutes, 3 init retries.
func DefaultOptions() Options {
	return Options{
		BanDuration:     60 * time.Second,
		CooldownWindow:  30 * time.Minute,
		CooldownStrikes: 3,
		InitRetries:     3,
		InitRetryDelay:  2 * time.Second,
	}
}

// Manager is the provider connection manager. At most one handle is active
// process-wide; the manager is the only component that replaces or clears it.
type Manager struct {
	opts      Options
	factory   provider.Factory
	bans      BanStore
	providers ProviderSource
	notifier  Notifier

	lookupCreds func(name string) provider.Credentials

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)

	mu          sync.Mutex
	active      *provider.Handle
	cache       map[string]*provider.Handle
	failures    int
	lastFailure time.Time
}

// NewManager creates a connection manager.
func NewManager(opts Options, factory provider.Factory, bans BanStore, providers ProviderSource, lookupCreds func(string) provider.Credentials) *Manager {
	return &Manager{
		opts:        opts,
		factory:     factory,
		bans:        bans,
		providers:   providers,
		lookupCreds: lookupCreds,
		now:         time.Now,
		sleep:       time.Sleep,
		cache:       make(map[string]*provider.Handle),
	}
}

// SetNotifier attaches an operator notifier.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// Banned reports whether the persisted ban is still in force. Every upstream
// entry point checks this first; while banned, no network call is attempted.
func (m *Manager) Banned() bool {
	return m.bans.LoadBanUntil() > m.now().UnixMilli()
}

// StartExchange returns the active handle, initializing one if needed.
// Idempotent; returns nil while banned or when no provider is enabled.
func (m *Manager) StartExchange() *provider.Handle {
	if m.Banned() {
		log.Debug().Msg("Exchange start skipped: ban in force")
		return nil
	}

	m.mu.Lock()
	if m.active != nil && m.active.Live() {
		h := m.active
		m.mu.Unlock()
		return h
	}
	m.mu.Unlock()

	name, err := m.providers.ActiveProviderName()
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve active provider")
		return nil
	}
	if name == "" {
		log.Warn().Msg("No provider enabled")
		return nil
	}

	h := m.InitializeProvider(name, m.opts.InitRetries)
	if h != nil {
		m.mu.Lock()
		m.active = h
		m.mu.Unlock()
	}
	return h
}

// InitializeProvider obtains or builds a handle for a named provider. Returns
// nil when banned, in cooldown, missing credentials, or out of retries.
func (m *Manager) InitializeProvider(name string, retries int) *provider.Handle {
	if m.Banned() {
		log.Debug().Str("provider", name).Msg("Init skipped: ban in force")
		return nil
	}

	m.mu.Lock()
	if h, ok := m.cache[name]; ok && h.Live() {
		m.mu.Unlock()
		return h
	}
	if m.inCooldownLocked() {
		m.mu.Unlock()
		log.Warn().
			Str("provider", name).
			Int("failures", m.failures).
			Msg("Init refused: failure cooldown active")
		return nil
	}
	m.mu.Unlock()

	creds := m.lookupCreds(name)
	if provider.RequiresCredentials(name) && creds.Missing() {
		m.recordFailure()
		log.Error().Str("provider", name).Msg("Missing API credentials")
		return nil
	}

	h, err := m.buildHandle(name, creds)
	if err != nil {
		if provider.IsRateLimit(err) {
			m.recordBan(name, err)
			// Re-enter with the same retry count; the ban gate stops the recursion.
			return m.InitializeProvider(name, retries)
		}

		m.recordFailure()
		log.Error().Err(err).Str("provider", name).Int("retries_left", retries).Msg("Provider init failed")
		if retries > 0 {
			m.sleep(m.opts.InitRetryDelay)
			return m.InitializeProvider(name, retries-1)
		}
		return nil
	}

	m.mu.Lock()
	m.cache[name] = h
	m.failures = 0
	m.mu.Unlock()

	log.Info().
		Str("provider", name).
		Bool("authenticated", h.Authenticated).
		Msg("🔌 Provider initialized")
	return h
}

// buildHandle constructs a client, verifies credentials (falling back to an
// anonymous client on rejection), and loads the market catalog.
func (m *Manager) buildHandle(name string, creds provider.Credentials) (*provider.Handle, error) {
	client, err := m.factory(name, creds)
	if err != nil {
		return nil, err
	}

	authenticated := false
	if !creds.Missing() {
		if verr := client.VerifyCredentials(); verr != nil {
			if provider.IsRateLimit(verr) {
				client.Close()
				return nil, verr
			}
			log.Warn().Err(verr).Str("provider", name).Msg("Credentials rejected, continuing anonymous")
			if m.notifier != nil {
				m.notifier.NotifyCredentialFailure(name, verr.Error())
			}
			client.Close()
			client, err = m.factory(name, provider.Credentials{})
			if err != nil {
				return nil, err
			}
		} else {
			authenticated = true
		}
	}

	markets, err := client.LoadMarkets()
	if err != nil {
		if provider.IsRateLimit(err) {
			client.Close()
			return nil, err
		}
		// Catalog failure on a (possibly) authenticated client: drop it and
		// try once more anonymously before giving up on this attempt.
		log.Warn().Err(err).Str("provider", name).Msg("Market catalog load failed, retrying anonymous")
		client.Close()
		client, err = m.factory(name, provider.Credentials{})
		if err != nil {
			return nil, err
		}
		authenticated = false
		markets, err = client.LoadMarkets()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("load markets: %w", err)
		}
	}

	h := provider.NewHandle(name, client, authenticated)
	h.SetMarkets(markets)
	return h, nil
}

// StopExchange closes and clears the active handle. Safe to call when nothing
// is active.
func (m *Manager) StopExchange() {
	m.mu.Lock()
	h := m.active
	m.active = nil
	if h != nil {
		delete(m.cache, h.Provider)
	}
	m.mu.Unlock()

	if h != nil {
		h.Close()
		log.Info().Str("provider", h.Provider).Msg("Provider stopped")
	}
}

// RemoveExchange evicts a cached handle by name, clearing the active pointer
// when it matches. An empty name is a caller bug and fails loudly.
func (m *Manager) RemoveExchange(name string) error {
	if name == "" {
		return fmt.Errorf("remove exchange: empty provider name")
	}

	m.mu.Lock()
	h, ok := m.cache[name]
	delete(m.cache, name)
	if m.active != nil && m.active.Provider == name {
		m.active = nil
	}
	m.mu.Unlock()

	if ok {
		h.Close()
	}
	return nil
}

// TestExchangeCredentials builds a throwaway client and makes one
// authenticated call, independent of any cached handle.
func (m *Manager) TestExchangeCredentials(name string) (bool, string) {
	if m.Banned() {
		return false, "provider is rate-limit banned, try again later"
	}

	creds := m.lookupCreds(name)
	if provider.RequiresCredentials(name) && creds.Missing() {
		return false, "missing API credentials"
	}

	client, err := m.factory(name, creds)
	if err != nil {
		return false, err.Error()
	}
	defer client.Close()

	if err := client.VerifyCredentials(); err != nil {
		if provider.IsRateLimit(err) {
			m.recordBan(name, err)
		}
		return false, err.Error()
	}
	return true, "credentials accepted"
}

// HandleError is the classifier stream loops call on a pull failure. A
// rate-limit error escalates to a ban and returns nil; anything else returns a
// refreshed handle to keep pulling with.
func (m *Manager) HandleError(err error) *provider.Handle {
	if provider.IsRateLimit(err) {
		m.mu.Lock()
		name := ""
		if m.active != nil {
			name = m.active.Provider
		}
		m.mu.Unlock()
		m.recordBan(name, err)
		return nil
	}
	return m.StartExchange()
}

// recordBan persists a fresh ban window and tells the operator.
func (m *Manager) recordBan(name string, err error) {
	until := m.now().Add(m.opts.BanDuration)
	m.bans.SaveBanUntil(until.UnixMilli())

	log.Warn().
		Err(err).
		Str("provider", name).
		Time("until", until).
		Msg("🚨 Rate limit hit, banning upstream calls")

	if m.notifier != nil {
		m.notifier.NotifyBan(name, until)
	}
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	m.failures++
	m.lastFailure = m.now()
	m.mu.Unlock()
}

// inCooldownLocked implements the self-imposed policy: after CooldownStrikes
// consecutive failures inside CooldownWindow, refuse further attempts until
// the window has elapsed. Caller holds m.mu.
func (m *Manager) inCooldownLocked() bool {
	if m.failures < m.opts.CooldownStrikes {
		return false
	}
	return m.now().Sub(m.lastFailure) < m.opts.CooldownWindow
}
