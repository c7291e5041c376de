// Package notify implements the Notification/Alert Engine: a per-user set
// of armed price alerts evaluated against every Market Data Aggregator
// tick, and a cron-scheduled opportunity scan. Adapted from an
// internal/monitor package (a thin Bus-subscribing Monitor with a
// build-tagged-out RuleEvaluator stub and an AlertSink interface) fleshed
// out into the fingerprinted arm/trigger/dismiss lifecycle spec.md names,
// scheduled with the cron library the rest of the pack (aristath-sentinel)
// uses for its own scheduler.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"trading-core/internal/aggregator"
	"trading-core/internal/events"
	"trading-core/pkg/money"
)

// Condition is the comparison a price alert arms against.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// Alert is one user's armed price condition on a symbol.
type Alert struct {
	ID          string
	UserID      string
	Symbol      string
	Condition   Condition
	Target      money.Amount
	Fingerprint string
	Armed       bool
	Triggered   bool
	CreatedAt   time.Time
}

// Fingerprint derives a stable identity for an alert from its parameters,
// so re-arming the same condition reuses the same alert slot instead of
// accumulating duplicates.
func Fingerprint(userID, symbol string, cond Condition, target money.Amount) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s", userID, symbol, cond, target.String())))
	return hex.EncodeToString(h[:])
}

func (a Alert) matches(price money.Amount) bool {
	switch a.Condition {
	case ConditionAbove:
		return price.GreaterOrEqual(a.Target)
	case ConditionBelow:
		return price.LessOrEqual(a.Target)
	default:
		return false
	}
}

// Notification is a single delivered event, backed by pkg/db's
// notifications table in production.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Message   string
	Payload   any
	CreatedAt time.Time
}

// Opportunity is a per-symbol scan result, deduplicated by fingerprint
// for a given owner (a userID, or "" for a platform-wide opportunity).
type Opportunity struct {
	Owner       string
	Symbol      string
	Fingerprint string
	Summary     string
	ExpiresAt   time.Time
}

// Scanner computes the current set of opportunities. Implementations
// typically inspect recent aggregator quotes or risk/portfolio state;
// kept as an interface so the engine has no dependency on any specific
// heuristic.
type Scanner interface {
	Scan(ctx context.Context) ([]Opportunity, error)
}

// Sink receives every notification the engine emits, backed by pkg/db
// plus internal/stream in production.
type Sink func(Notification)

// Engine evaluates armed alerts against every price tick published on
// the shared events.Bus and runs scheduled opportunity scans, matching
// a Monitor's Bus-subscription shape but replacing its
// single AlertFn callback with per-user fingerprinted alert state and a
// real scan scheduler instead of a build-tagged-out stub.
type Engine struct {
	mu     sync.Mutex
	alerts map[string]map[string]*Alert // userID -> fingerprint -> Alert

	bus  *events.Bus
	sink Sink

	cron         *cron.Cron
	scanners     []Scanner
	scanInterval time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time // owner|fingerprint -> expiry, for opportunity dedup
}

// Config tunes the Engine's opportunity-scan cadence.
type Config struct {
	ScanInterval time.Duration // default 60s per spec.md
}

func DefaultConfig() Config {
	return Config{ScanInterval: 60 * time.Second}
}

// New constructs an Engine. bus is the shared events.Bus the Market Data
// Aggregator publishes EventPriceTick on.
func New(cfg Config, bus *events.Bus, sink Sink, scanners []Scanner) *Engine {
	return &Engine{
		alerts:       make(map[string]map[string]*Alert),
		bus:          bus,
		sink:         sink,
		cron:         cron.New(),
		scanners:     scanners,
		scanInterval: cfg.ScanInterval,
		seen:         make(map[string]time.Time),
	}
}

// Start subscribes to price ticks and schedules the opportunity scan.
func (e *Engine) Start(ctx context.Context) {
	if e.bus != nil {
		stream, unsub := e.bus.Subscribe(events.EventPriceTick, 256)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					if q, ok := msg.(aggregator.Quote); ok {
						e.EvaluateTick(q.Symbol, q.Price)
					}
				}
			}
		}()
	}

	seconds := int(e.scanInterval.Seconds())
	if seconds < 1 {
		seconds = 60
	}
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), func() {
		e.runScans(ctx)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule opportunity scan")
	}
	e.cron.Start()
}

// Stop halts the opportunity-scan scheduler.
func (e *Engine) Stop() {
	c := e.cron.Stop()
	<-c.Done()
}

// Arm installs or re-arms an alert by fingerprint; re-arming an already
// triggered alert clears its triggered state so it can fire again.
func (e *Engine) Arm(a Alert) Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	a.Fingerprint = Fingerprint(a.UserID, a.Symbol, a.Condition, a.Target)
	a.Armed = true
	a.Triggered = false
	a.CreatedAt = time.Now()

	byUser, ok := e.alerts[a.UserID]
	if !ok {
		byUser = make(map[string]*Alert)
		e.alerts[a.UserID] = byUser
	}
	byUser[a.Fingerprint] = &a
	return a
}

// Dismiss disarms an alert so it no longer evaluates against ticks.
func (e *Engine) Dismiss(userID, fingerprint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byUser, ok := e.alerts[userID]
	if !ok {
		return
	}
	delete(byUser, fingerprint)
}

// Alerts returns a snapshot of a user's currently armed alerts.
func (e *Engine) Alerts(userID string) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	byUser := e.alerts[userID]
	out := make([]Alert, 0, len(byUser))
	for _, a := range byUser {
		out = append(out, *a)
	}
	return out
}

// EvaluateTick checks every user's armed alerts for the given symbol
// against the new price, emitting a notification for each transition
// from armed to triggered. Exported directly (in addition to the bus
// subscription in Start) so callers in tests or synchronous code paths
// can drive evaluation without needing a running event loop.
func (e *Engine) EvaluateTick(symbol string, price money.Amount) {
	e.mu.Lock()
	var fired []Alert
	for _, byUser := range e.alerts {
		for _, a := range byUser {
			if a.Symbol != symbol || !a.Armed || a.Triggered {
				continue
			}
			if a.matches(price) {
				a.Triggered = true
				fired = append(fired, *a)
			}
		}
	}
	e.mu.Unlock()

	for _, a := range fired {
		e.deliver(Notification{
			ID:        a.Fingerprint,
			UserID:    a.UserID,
			Kind:      "price_alert_triggered",
			Message:   fmt.Sprintf("%s %s %s triggered at %s", a.Symbol, a.Condition, a.Target.String(), price.String()),
			Payload:   a,
			CreatedAt: time.Now(),
		})
	}
}

func (e *Engine) runScans(ctx context.Context) {
	for _, scanner := range e.scanners {
		opps, err := scanner.Scan(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("opportunity scan failed")
			continue
		}
		for _, opp := range opps {
			e.publishOpportunity(opp)
		}
	}
}

func (e *Engine) publishOpportunity(opp Opportunity) {
	key := opp.Owner + "|" + opp.Fingerprint

	e.seenMu.Lock()
	expiry, exists := e.seen[key]
	if exists && time.Now().Before(expiry) {
		e.seenMu.Unlock()
		return
	}
	e.seen[key] = opp.ExpiresAt
	e.seenMu.Unlock()

	e.deliver(Notification{
		ID:        opp.Fingerprint,
		UserID:    opp.Owner,
		Kind:      "opportunity",
		Message:   opp.Summary,
		Payload:   opp,
		CreatedAt: time.Now(),
	})
}

func (e *Engine) deliver(n Notification) {
	if e.sink != nil {
		e.sink(n)
	}
}
