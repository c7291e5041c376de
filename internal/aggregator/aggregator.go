// Package aggregator implements the Market Data Aggregator: a ranked
// set of quote sources per symbol, a freshness cache, request coalescing
// so concurrent callers for the same symbol share one upstream fetch, and
// a synthetic fallback source for local development. Generalized from the
// teacher's internal/market.Feed (websocket + polling fallback against a
// single Binance client) and internal/market.MockFeed (synthetic random
// walk), which only ever had one source; this package ranks several and
// fails over between them with circuit-breaker gating per source.
package aggregator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trading-core/internal/breaker"
	"trading-core/internal/events"
	"trading-core/pkg/money"
)

// Quote is a single price observation for a symbol. Change24hPct,
// Volume24h, High24h and Low24h are best-effort: sources that can't
// supply them (the synthetic fallback, a minimal FX client) leave them
// zero rather than fail the quote outright.
type Quote struct {
	Symbol       string
	Price        money.Amount
	Change24hPct float64
	Volume24h    float64
	High24h      float64
	Low24h       float64
	AssetClass   string
	Source       string
	Timestamp    time.Time
}

// IsStale reports whether the quote is older than maxAge.
func (q Quote) IsStale(maxAge time.Duration) bool {
	return time.Since(q.Timestamp) > maxAge
}

// Source fetches a live quote for a symbol from one upstream (an exchange
// REST endpoint, a websocket last-tick cache, etc).
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Config tunes the aggregator's caching and source timeouts.
type Config struct {
	Freshness     time.Duration // cache entries older than this are refetched
	SourceTimeout time.Duration // per-source fetch deadline
}

func DefaultConfig() Config {
	return Config{Freshness: 5 * time.Second, SourceTimeout: 2 * time.Second}
}

type cacheEntry struct {
	quote Quote
}

// Aggregator ranks sources (first = most preferred) per asset class and
// serves the freshest available quote, falling back down the rank list as
// breakers trip, and never making two concurrent upstream calls for the
// same symbol.
type Aggregator struct {
	mu      sync.RWMutex
	sources []Source
	cache   map[string]cacheEntry
	cfg     Config
	breakers *breaker.Registry
	group   singleflight.Group
	bus     *events.Bus
}

// New constructs an Aggregator. Sources are tried in the order given;
// earlier entries are preferred.
func New(sources []Source, breakers *breaker.Registry, bus *events.Bus, cfg Config) *Aggregator {
	return &Aggregator{
		sources:  sources,
		cache:    make(map[string]cacheEntry),
		cfg:      cfg,
		breakers: breakers,
		bus:      bus,
	}
}

func sourceBreakerKey(name string) string { return "quote_source:" + name }

// GetQuote returns the freshest cached quote if within the freshness
// window, otherwise coalesces concurrent callers into one upstream fetch
// that walks the ranked source list until one succeeds.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	a.mu.RLock()
	entry, ok := a.cache[symbol]
	a.mu.RUnlock()
	if ok && !entry.quote.IsStale(a.cfg.Freshness) {
		return entry.quote, nil
	}

	v, err, _ := a.group.Do(symbol, func() (any, error) {
		return a.fetch(ctx, symbol)
	})
	if err != nil {
		// Serve a stale cached quote rather than fail outright, matching
		// a polling-fallback philosophy of preferring a
		// slightly-stale price over no price.
		a.mu.RLock()
		entry, ok := a.cache[symbol]
		a.mu.RUnlock()
		if ok {
			log.Warn().Str("symbol", symbol).Err(err).Msg("all quote sources failed, serving stale cache")
			return entry.quote, nil
		}
		return Quote{}, err
	}
	return v.(Quote), nil
}

func (a *Aggregator) fetch(ctx context.Context, symbol string) (Quote, error) {
	var lastErr error
	for _, src := range a.sources {
		key := sourceBreakerKey(src.Name())
		if !a.breakers.Allow(key) {
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
		q, err := src.Quote(fetchCtx, symbol)
		cancel()
		if err != nil {
			lastErr = err
			a.breakers.RecordFailure(key)
			log.Warn().Str("symbol", symbol).Str("source", src.Name()).Err(err).Msg("quote source failed")
			continue
		}
		a.breakers.RecordSuccess(key)

		a.mu.Lock()
		a.cache[symbol] = cacheEntry{quote: q}
		a.mu.Unlock()

		if a.bus != nil {
			a.bus.Publish(events.EventPriceTick, q)
		}
		return q, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no quote source available for %s", symbol)
	}
	return Quote{}, lastErr
}

// SyntheticSource generates a random-walk quote, used as the lowest-ranked
// fallback source in development and in tests, mirroring the original
// MockFeed random-walk generator.
type SyntheticSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]float64
	start   float64
	step    float64
}

// NewSyntheticSource builds a synthetic source with the given starting
// price and per-tick step size.
func NewSyntheticSource(startPrice, step float64) *SyntheticSource {
	return &SyntheticSource{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		prices: make(map[string]float64),
		start:  startPrice,
		step:   step,
	}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prices[symbol]
	if !ok {
		p = s.start
	}
	p += (s.rng.Float64()*2 - 1) * s.step
	if p <= 0 {
		p = s.step
	}
	s.prices[symbol] = p

	return Quote{Symbol: symbol, Price: money.FromFloat(p), Source: s.Name(), Timestamp: time.Now()}, nil
}
