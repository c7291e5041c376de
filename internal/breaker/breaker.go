// Package breaker implements the Circuit Breaker Registry: a per-resource
// -key closed/open/half-open state machine guarding exchange calls, trade
// submission, and risk-threshold-triggered kill switches from cascading
// failures. Generalized from an internal/gateway connection pool,
// which tracked failure counts and a cooldown timeout per connection; this
// package tracks the same shape per arbitrary string key instead.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the circuit breaker's state machine position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes one breaker's thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping open
	FailureWindow    time.Duration // window over which failures count
	Cooldown         time.Duration // time spent open before allowing a probe
	ProbeLimit       int           // concurrent half-open probes allowed
}

// DefaultConfig mirrors the original gateway pool's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
		ProbeLimit:       1,
	}
}

type entry struct {
	mu           sync.Mutex
	state        State
	failures     int
	windowStart  time.Time
	openedAt     time.Time
	probesInFlight int
}

// Registry holds one breaker per resource key (e.g. "exchange:binance",
// "trade_execution", "risk_threshold:<userID>").
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*entry
}

// NewRegistry creates a Registry with the given default config, applied to
// every key unless overridden by a future per-key config call.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, entries: make(map[string]*entry)}
}

func (r *Registry) get(key string) *entry {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e
	}
	e = &entry{state: StateClosed}
	r.entries[key] = e
	return e
}

// Allow reports whether a call against key may proceed, and transitions
// OPEN -> HALF_OPEN once the cooldown has elapsed.
func (r *Registry) Allow(key string) bool {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.openedAt) >= r.cfg.Cooldown {
			e.state = StateHalfOpen
			e.probesInFlight = 0
			log.Info().Str("breaker", key).Msg("breaker cooldown elapsed, entering half-open")
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if e.probesInFlight >= r.cfg.ProbeLimit {
			return false
		}
		e.probesInFlight++
		return true
	}
	return false
}

// RecordSuccess closes the breaker (from half-open) or keeps it closed,
// resetting the failure count.
func (r *Registry) RecordSuccess(key string) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateHalfOpen {
		log.Info().Str("breaker", key).Msg("probe succeeded, closing breaker")
	}
	e.state = StateClosed
	e.failures = 0
	e.probesInFlight = 0
}

// RecordFailure counts a failure and trips the breaker open once the
// threshold within the failure window is reached, or immediately if the
// failure occurred during a half-open probe.
func (r *Registry) RecordFailure(key string) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateHalfOpen {
		e.state = StateOpen
		e.openedAt = time.Now()
		e.probesInFlight = 0
		log.Warn().Str("breaker", key).Msg("probe failed, reopening breaker")
		return
	}

	now := time.Now()
	if now.Sub(e.windowStart) > r.cfg.FailureWindow {
		e.windowStart = now
		e.failures = 0
	}
	e.failures++
	if e.failures >= r.cfg.FailureThreshold {
		e.state = StateOpen
		e.openedAt = now
		log.Warn().Str("breaker", key).Int("failures", e.failures).Msg("breaker tripped open")
	}
}

// State returns the current state of a breaker (StateClosed if never seen).
func (r *Registry) State(key string) State {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Trip forces a breaker open immediately, bypassing the failure count.
// Used by the Risk Engine's kill-switch to gate trade_execution directly.
func (r *Registry) Trip(key string) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateOpen
	e.openedAt = time.Now()
	log.Warn().Str("breaker", key).Msg("breaker force-tripped")
}

// Reset forces a breaker back to closed, clearing its failure count.
func (r *Registry) Reset(key string) {
	e := r.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateClosed
	e.failures = 0
	e.probesInFlight = 0
}

// Snapshot describes one breaker's observable state, used by /metrics and
// the audit journal.
type Snapshot struct {
	Key      string
	State    State
	Failures int
}

// Snapshot returns the state of every tracked breaker.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.entries))
	for key, e := range r.entries {
		e.mu.Lock()
		out = append(out, Snapshot{Key: key, State: e.state, Failures: e.failures})
		e.mu.Unlock()
	}
	return out
}
