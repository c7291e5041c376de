// Package portfolio implements Portfolio Accounting: a per-user balance
// and position ledger with a single writer per account and a monotonic,
// msgpack-encoded mutation journal. Adapted from
// internal/balance.Manager (lock/unlock/deduct/add on one shared account)
// and internal/state.Manager (position averaging on fills), generalized
// from a single global account to one ledger per user.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"trading-core/pkg/money"
)

// Position is one symbol's open exposure for a user.
type Position struct {
	Symbol     string
	Qty        money.Amount // signed: positive long, negative short
	AvgPrice   money.Amount
	UpdatedAt  time.Time
}

// Account is a user's balance snapshot.
type Account struct {
	UserID    string
	Total     money.Amount
	Available money.Amount
	Locked    money.Amount
}

// Equity returns total account value (cash only; callers add position
// mark-to-market on top when computing true equity for risk checks).
func (a Account) Equity() money.Amount { return a.Total }

// JournalEntry is one append-only, sequence-numbered mutation record,
// msgpack-encoded for compact storage in the audit log (pkg/db).
type JournalEntry struct {
	Seq       uint64
	UserID    string
	Kind      string // "lock","unlock","deduct","add","fill"
	Amount    string // decimal string
	Symbol    string
	Timestamp time.Time
}

// Encode serializes a JournalEntry to msgpack bytes.
func (e JournalEntry) Encode() ([]byte, error) {
	return msgpack.Marshal(e)
}

// DecodeJournalEntry deserializes msgpack bytes back into a JournalEntry.
func DecodeJournalEntry(b []byte) (JournalEntry, error) {
	var e JournalEntry
	err := msgpack.Unmarshal(b, &e)
	return e, err
}

type ledger struct {
	mu        sync.Mutex
	account   Account
	positions map[string]*Position
	seq       uint64
}

// JournalSink receives every mutation's encoded journal entry, typically
// backed by pkg/db's append-only audit log table.
type JournalSink func(entry JournalEntry, encoded []byte)

// Manager owns one ledger per user, guaranteeing each user's account is
// only ever mutated by a single goroutine at a time (the ledger's mutex),
// matching the original single-account assumption but scoped per user.
type Manager struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	sink    JournalSink
}

// New constructs a Manager. sink may be nil to discard journal entries
// (e.g. in tests).
func New(sink JournalSink) *Manager {
	return &Manager{ledgers: make(map[string]*ledger), sink: sink}
}

func (m *Manager) ledgerFor(userID string) *ledger {
	m.mu.RLock()
	l, ok := m.ledgers[userID]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[userID]; ok {
		return l
	}
	l = &ledger{positions: make(map[string]*Position)}
	m.ledgers[userID] = l
	return l
}

// SeedAccount initializes a user's account, e.g. with the configured
// SEED_BALANCE_USD on first login.
func (m *Manager) SeedAccount(userID string, initial money.Amount) {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = Account{UserID: userID, Total: initial, Available: initial, Locked: money.Zero}
	log.Info().Str("user", userID).Str("amount", initial.String()).Msg("portfolio account seeded")
}

func (m *Manager) journal(userID, kind string, amount money.Amount, symbol string) {
	l := m.ledgerFor(userID)
	l.seq++
	entry := JournalEntry{Seq: l.seq, UserID: userID, Kind: kind, Amount: amount.String(), Symbol: symbol, Timestamp: time.Now()}
	if m.sink == nil {
		return
	}
	encoded, err := entry.Encode()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode portfolio journal entry")
		return
	}
	m.sink(entry, encoded)
}

// Lock reserves balance ahead of an order submission.
func (m *Manager) Lock(ctx context.Context, userID string, amount money.Amount) error {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.account.Available) {
		return fmt.Errorf("insufficient balance: need %s, have %s", amount, l.account.Available)
	}
	l.account.Available = l.account.Available.Sub(amount)
	l.account.Locked = l.account.Locked.Add(amount)
	m.journal(userID, "lock", amount, "")
	return nil
}

// Unlock releases previously locked balance (order rejected/canceled).
func (m *Manager) Unlock(ctx context.Context, userID string, amount money.Amount) {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account.Locked = l.account.Locked.Sub(amount)
	l.account.Available = l.account.Available.Add(amount)
	m.journal(userID, "unlock", amount, "")
}

// Deduct removes balance once an order fills (buy side).
func (m *Manager) Deduct(ctx context.Context, userID string, amount money.Amount) {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account.Locked = l.account.Locked.Sub(amount)
	l.account.Total = l.account.Total.Sub(amount)
	m.journal(userID, "deduct", amount, "")
}

// Add credits balance (sell side proceeds).
func (m *Manager) Add(ctx context.Context, userID string, amount money.Amount) {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account.Total = l.account.Total.Add(amount)
	l.account.Available = l.account.Available.Add(amount)
	m.journal(userID, "add", amount, "")
}

// ListUserIDs returns every user ID with a ledger, for callers that need
// to sweep all known accounts (e.g. balance reconciliation).
func (m *Manager) ListUserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.ledgers))
	for userID := range m.ledgers {
		out = append(out, userID)
	}
	return out
}

// GetAccount returns a snapshot of a user's account.
func (m *Manager) GetAccount(userID string) Account {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

// ApplyFill updates a user's position average price and signed quantity
// after a fill, mirroring a state.Manager.RecordFill averaging
// logic but operating on money.Amount instead of float64.
func (m *Manager) ApplyFill(ctx context.Context, userID, symbol, side string, qty, price money.Amount) Position {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	signedQty := qty
	if side == "SELL" {
		signedQty = qty.Neg()
	}

	oldQty := pos.Qty
	newQty := oldQty.Add(signedQty)

	switch {
	case newQty.IsZero():
		pos.AvgPrice = money.Zero
	case oldQty.IsZero() || sameSign(oldQty, signedQty):
		oldNotional := oldQty.Abs().Mul(pos.AvgPrice)
		addedNotional := signedQty.Abs().Mul(price)
		pos.AvgPrice = oldNotional.Add(addedNotional).Div(newQty.Abs())
	case sameSign(newQty, oldQty):
		// partial close in the same direction: average price unchanged
	default:
		// flipped direction: new average is the fill price
		pos.AvgPrice = price
	}
	pos.Qty = newQty
	pos.UpdatedAt = time.Now()

	m.journal(userID, "fill", qty.Mul(price), symbol)
	return *pos
}

func sameSign(a, b money.Amount) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// Positions returns a snapshot of all of a user's open positions.
func (m *Manager) Positions(userID string) []Position {
	l := m.ledgerFor(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if !p.Qty.IsZero() {
			out = append(out, *p)
		}
	}
	return out
}

// OpenExposure sums the absolute notional of all open positions at their
// average price, used by the Risk Engine's exposure check.
func (m *Manager) OpenExposure(userID string) money.Amount {
	total := money.Zero
	for _, p := range m.Positions(userID) {
		total = total.Add(p.Qty.Abs().Mul(p.AvgPrice))
	}
	return total
}
