// Package reconciliation implements the Portfolio Accounting drift check:
// a periodic comparison of each user's local cash ledger against the
// balance their connected exchange actually reports. Adapted from a
// gateway.Manager-style reconciliation pass, generalized from a
// single global account to one ledger per user and driven by the same
// robfig/cron "@every" scheduling the opportunity-scan engine uses.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	exchangecommon "trading-core/internal/exchange/common"
	"trading-core/internal/portfolio"
	"trading-core/internal/router"
	"trading-core/pkg/money"
)

// GatewayGetter resolves a live Gateway for a connected platform, the
// same shape the Trade Router uses to resolve its own submission path.
type GatewayGetter func(ctx context.Context, conn router.PlatformConnection) (exchangecommon.Gateway, error)

// Drift records one user/platform pair whose locally tracked cash balance
// disagrees with the venue's reported balance by more than tolerance.
type Drift struct {
	UserID      string
	Platform    exchangecommon.Platform
	Asset       string
	LocalTotal  string
	RemoteTotal string
	DeltaAbs    string
	CheckedAt   time.Time
}

// Sink receives every drift found past tolerance, backed by
// internal/notify and pkg/db in production.
type Sink func(Drift)

// Config tunes the reconciliation cadence and drift tolerance.
type Config struct {
	Interval   time.Duration // default 5 minutes
	Tolerance  money.Amount  // absolute drift before a Drift is reported, default 0.01
	QuoteAsset string        // asset symbol the Portfolio ledger tracks, default "USD"
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, Tolerance: money.FromFloat(0.01), QuoteAsset: "USD"}
}

// Service periodically walks every tracked user's connected non-paper
// platforms and compares the venue's reported balance against the
// Portfolio Manager's local ledger, surfacing anything past tolerance.
type Service struct {
	cfg        Config
	portfolio  *portfolio.Manager
	platforms  router.PlatformProvider
	getGateway GatewayGetter
	sink       Sink
	cron       *cron.Cron
}

// New constructs a Service. platforms/getGateway may be nil in tests or
// single-platform deployments with no live connections to reconcile.
func New(cfg Config, pf *portfolio.Manager, platforms router.PlatformProvider, getGateway GatewayGetter, sink Sink) *Service {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USD"
	}
	return &Service{
		cfg:        cfg,
		portfolio:  pf,
		platforms:  platforms,
		getGateway: getGateway,
		sink:       sink,
		cron:       cron.New(),
	}
}

// Start schedules the recurring reconciliation sweep.
func (s *Service) Start(ctx context.Context) {
	seconds := int(s.cfg.Interval.Seconds())
	if seconds < 1 {
		seconds = 300
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule balance reconciliation")
	}
	s.cron.Start()
}

// Stop halts the reconciliation scheduler.
func (s *Service) Stop() {
	c := s.cron.Stop()
	<-c.Done()
}

// RunOnce reconciles every known user's cash balance in a single pass,
// for an on-demand check (operator endpoint, test) instead of waiting on
// the cron tick.
func (s *Service) RunOnce(ctx context.Context) []Drift {
	if s.portfolio == nil || s.platforms == nil || s.getGateway == nil {
		return nil
	}

	var drifts []Drift
	for _, userID := range s.portfolio.ListUserIDs() {
		drifts = append(drifts, s.reconcileUser(ctx, userID)...)
	}
	return drifts
}

func (s *Service) reconcileUser(ctx context.Context, userID string) []Drift {
	account := s.portfolio.GetAccount(userID)

	var drifts []Drift
	for _, conn := range s.platforms.PlatformsForUser(userID) {
		if conn.Status != "connected" || conn.Kind == exchangecommon.PlatformPaper {
			continue
		}

		gw, err := s.getGateway(ctx, conn)
		if err != nil {
			log.Warn().Str("user", userID).Str("platform", string(conn.Kind)).Err(err).Msg("reconciliation: gateway unavailable")
			continue
		}
		balances, err := gw.GetBalances(ctx)
		if err != nil {
			log.Warn().Str("user", userID).Str("platform", string(conn.Kind)).Err(err).Msg("reconciliation: balance fetch failed")
			continue
		}

		for _, bal := range balances {
			if bal.Asset != s.cfg.QuoteAsset {
				continue
			}
			remote, err := money.New(bal.Total)
			if err != nil {
				continue
			}
			delta := account.Total.Sub(remote).Abs()
			if !delta.GreaterThan(s.cfg.Tolerance) {
				continue
			}

			d := Drift{
				UserID:      userID,
				Platform:    conn.Kind,
				Asset:       bal.Asset,
				LocalTotal:  account.Total.String(),
				RemoteTotal: bal.Total,
				DeltaAbs:    delta.String(),
				CheckedAt:   time.Now(),
			}
			drifts = append(drifts, d)
			if s.sink != nil {
				s.sink(d)
			}
			log.Warn().
				Str("user", userID).
				Str("platform", string(conn.Kind)).
				Str("asset", bal.Asset).
				Str("local", d.LocalTotal).
				Str("remote", d.RemoteTotal).
				Str("delta", d.DeltaAbs).
				Msg("balance reconciliation drift detected")
		}
	}
	return drifts
}
