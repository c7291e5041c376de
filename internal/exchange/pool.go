// Package exchange implements the Exchange Adapter: a uniform Gateway per
// platform (binance, bybit, okx, paper) plus the connection pool that
// caches decrypted-credential gateways per user/platform pair. Adapted
// from an internal/gateway.Manager, which pooled per-connection
// Binance gateways with LRU eviction and its own failure-threshold/
// circuit-timeout bookkeeping; that bookkeeping now lives in
// internal/breaker so every caller (aggregator, router, reconciliation)
// shares one breaker registry instead of each package tracking its own.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"trading-core/internal/breaker"
	"trading-core/internal/exchange/common"
	"trading-core/internal/vault"
)

var (
	ErrConnectionNotFound = errors.New("platform connection not found")
	ErrBreakerOpen        = errors.New("exchange breaker open")
	ErrPoolFull           = errors.New("gateway pool is full")
)

// Factory creates a Gateway for a platform from decrypted credentials.
type Factory func(platform common.Platform, apiKey, apiSecret string) (common.Gateway, error)

type cachedGateway struct {
	gateway   common.Gateway
	platform  common.Platform
	userID    string
	createdAt time.Time
	lastUsed  time.Time
}

// PoolConfig tunes the connection pool's lifecycle.
type PoolConfig struct {
	MaxSize     int
	IdleTimeout time.Duration
}

// DefaultPoolConfig mirrors the original gateway pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxSize: 200, IdleTimeout: 30 * time.Minute}
}

// Pool caches one Gateway per (userID, platform) pair, decrypting API
// credentials via the Secret Vault on first use and gating every call
// through the shared breaker registry.
type Pool struct {
	mu       sync.RWMutex
	cache    map[string]*cachedGateway // key: userID + ":" + platform
	lruOrder []string

	cfg      PoolConfig
	vault    *vault.Vault
	breakers *breaker.Registry
	factory  Factory

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a connection pool.
func NewPool(v *vault.Vault, breakers *breaker.Registry, factory Factory, cfg PoolConfig) *Pool {
	return &Pool{
		cache:    make(map[string]*cachedGateway),
		cfg:      cfg,
		vault:    v,
		breakers: breakers,
		factory:  factory,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background idle-eviction loop.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.evictIdle()
			}
		}
	}()
}

// Stop halts the background loop.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func poolKey(userID string, platform common.Platform) string {
	return userID + ":" + string(platform)
}

// breakerKey returns the shared breaker resource key for a platform,
// so every user's gateway to the same venue trips the same breaker.
func breakerKey(platform common.Platform) string {
	return "exchange:" + string(platform)
}

// Get returns a cached gateway, or builds one from the given encrypted
// credentials via the factory, failing fast if the platform's breaker is
// open.
func (p *Pool) Get(ctx context.Context, userID string, platform common.Platform, encryptedAPIKey, encryptedAPISecret string) (common.Gateway, error) {
	if !p.breakers.Allow(breakerKey(platform)) {
		return nil, ErrBreakerOpen
	}

	key := poolKey(userID, platform)

	p.mu.RLock()
	if cg, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		p.touch(key)
		return cg.gateway, nil
	}
	p.mu.RUnlock()

	apiKey, err := p.vault.Decrypt(encryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := p.vault.Decrypt(encryptedAPISecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	gw, err := p.factory(platform, apiKey, apiSecret)
	if err != nil {
		p.breakers.RecordFailure(breakerKey(platform))
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cache) >= p.cfg.MaxSize {
		p.evictOldestLocked()
	}
	p.cache[key] = &cachedGateway{gateway: gw, platform: platform, userID: userID, createdAt: time.Now(), lastUsed: time.Now()}
	p.lruOrder = append(p.lruOrder, key)
	return gw, nil
}

// RecordResult feeds a call outcome back into the shared breaker for the
// platform; the API's platform status check calls this after fetching
// balances through a pooled gateway.
func (p *Pool) RecordResult(platform common.Platform, err error) {
	if err != nil {
		p.breakers.RecordFailure(breakerKey(platform))
		return
	}
	p.breakers.RecordSuccess(breakerKey(platform))
}

func (p *Pool) touch(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cg, ok := p.cache[key]; ok {
		cg.lastUsed = time.Now()
	}
}

func (p *Pool) evictOldestLocked() {
	if len(p.lruOrder) == 0 {
		return
	}
	oldest := p.lruOrder[0]
	p.lruOrder = p.lruOrder[1:]
	delete(p.cache, oldest)
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.lruOrder[:0]
	for _, key := range p.lruOrder {
		cg, ok := p.cache[key]
		if !ok {
			continue
		}
		if now.Sub(cg.lastUsed) > p.cfg.IdleTimeout {
			delete(p.cache, key)
			log.Info().Str("key", key).Msg("evicted idle exchange gateway")
			continue
		}
		kept = append(kept, key)
	}
	p.lruOrder = kept
}

// Stats reports pool occupancy for /metrics.
type Stats struct {
	Size     int
	MaxSize  int
	Breakers []breaker.Snapshot
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Size: len(p.cache), MaxSize: p.cfg.MaxSize, Breakers: p.breakers.Snapshot()}
}
