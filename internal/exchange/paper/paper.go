// Package paper implements the paper-trading Exchange Adapter: a
// common.Gateway that fills every order immediately in-memory, applying
// simulated fee and slippage. Adapted from
// internal/order.DryRunExecutor/MockExecutor, which did the same thing
// wired directly into its order Executor; here it is promoted to a
// first-class Gateway so the Trade Router can treat "paper" as just
// another platform rather than a special execution mode.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-core/internal/exchange/common"
)

// Config tunes the paper adapter's fill simulation.
type Config struct {
	FeeRate     float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps float64 // basis points of slippage applied on fills
}

// DefaultConfig matches the original DryRunSimConfig defaults.
func DefaultConfig() Config {
	return Config{FeeRate: 0.0004, SlippageBps: 2}
}

type position struct {
	qty   decimal.Decimal
	entry decimal.Decimal
}

// Gateway simulates fills without touching any real venue.
type Gateway struct {
	mu        sync.Mutex
	cfg       Config
	rng       *rand.Rand
	balances  map[string]decimal.Decimal
	positions map[string]*position
}

// New constructs a paper Gateway seeded with an initial USD balance.
func New(seedBalanceUSD float64, cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		balances:  map[string]decimal.Decimal{"USD": decimal.NewFromFloat(seedBalanceUSD)},
		positions: make(map[string]*position),
	}
}

func (g *Gateway) Platform() common.Platform { return common.PlatformPaper }

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("invalid qty: %w", err)
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsZero() {
		// Market order with no indicative price supplied: caller (router)
		// is expected to pass the last aggregator quote as Price even for
		// MARKET orders so the paper fill has something to settle against.
		return common.OrderResult{}, fmt.Errorf("paper adapter requires an indicative price")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	slippageFrac := decimal.NewFromFloat(g.cfg.SlippageBps / 10000.0)
	if !slippageFrac.IsZero() {
		noise := decimal.NewFromFloat(g.rng.Float64()).Mul(slippageFrac)
		if req.Side == common.SideBuy {
			price = price.Add(price.Mul(noise))
		} else {
			price = price.Sub(price.Mul(noise))
		}
	}

	notional := qty.Mul(price)
	fee := notional.Abs().Mul(decimal.NewFromFloat(g.cfg.FeeRate))
	bal := g.balances["USD"]

	if req.Side == common.SideBuy {
		if notional.Add(fee).GreaterThan(bal) {
			return common.OrderResult{}, fmt.Errorf("insufficient paper balance: need %s, have %s", notional.Add(fee), bal)
		}
		g.balances["USD"] = bal.Sub(notional).Sub(fee)
	} else {
		g.balances["USD"] = bal.Add(notional).Sub(fee)
	}

	g.applyPosition(req.Symbol, req.Side, qty, price)

	orderID := uuid.NewString()
	return common.OrderResult{
		ExchangeOrderID: orderID,
		Status:          common.StatusFilled,
		ClientID:        req.ClientID,
		FilledQty:       qty.StringFixed(8),
		AvgPrice:        price.StringFixed(8),
	}, nil
}

func (g *Gateway) applyPosition(symbol string, side common.Side, qty, price decimal.Decimal) {
	pos, exists := g.positions[symbol]
	if !exists {
		signedQty := qty
		if side == common.SideSell {
			signedQty = qty.Neg()
		}
		g.positions[symbol] = &position{qty: signedQty, entry: price}
		return
	}

	delta := qty
	if side == common.SideSell {
		delta = qty.Neg()
	}

	sameDirection := (pos.qty.IsPositive() && delta.IsPositive()) || (pos.qty.IsNegative() && delta.IsNegative())
	if sameDirection || pos.qty.IsZero() {
		totalValue := pos.qty.Abs().Mul(pos.entry).Add(delta.Abs().Mul(price))
		newQty := pos.qty.Add(delta)
		if !newQty.IsZero() {
			pos.entry = totalValue.Div(newQty.Abs())
		}
		pos.qty = newQty
	} else {
		pos.qty = pos.qty.Add(delta)
		if pos.qty.IsZero() {
			delete(g.positions, symbol)
		}
	}
}

// CancelOrder is a no-op: paper fills are synchronous, so by the time a
// cancel could arrive the order has already settled.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}

func (g *Gateway) GetBalances(ctx context.Context) ([]common.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]common.Balance, 0, len(g.balances))
	for asset, bal := range g.balances {
		out = append(out, common.Balance{Asset: asset, Total: bal.StringFixed(6), Available: bal.StringFixed(6)})
	}
	return out, nil
}

// PositionQty reports the current simulated position size for a symbol,
// used by tests to assert on fills without reaching into Gateway internals.
func (g *Gateway) PositionQty(symbol string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[symbol]
	if !ok {
		return "0.00000000"
	}
	return pos.qty.StringFixed(8)
}
