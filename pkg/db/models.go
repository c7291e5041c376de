package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// User represents an application user. Role gates the admin-only routes
// (manual circuit-breaker reset, kill-switch) per spec.md §3; TOTPSecret
// is empty when 2FA has never been enabled for the account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	TOTPSecret   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Connection represents a user's exchange platform binding: either a
// live exchange's encrypted API credentials, or the implicit paper
// platform (ExchangeType "paper", no credentials).
type Connection struct {
	ID                 string
	UserID             string
	ExchangeType       string
	Name               string
	APIKey             string
	APISecret          string
	APIKeyEncrypted    string
	APISecretEncrypted string
	KeyVersion         int
	IsDefault          bool
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Portfolio is the durable snapshot row backing internal/portfolio's
// in-memory ledger; amounts are decimal strings (pkg/money.Amount.String()),
// never float64, per spec.md §9.
type Portfolio struct {
	UserID    string
	Total     string
	Available string
	Locked    string
	UpdatedAt time.Time
}

// Position tracks one user's net exposure in one symbol.
type Position struct {
	UserID    string
	Symbol    string
	Qty       string
	AvgPrice  string
	UpdatedAt time.Time
}

// Order represents a trade order accepted by the Trade Router, tracked
// through its Idle->Proposing->RiskChecking->BreakerChecking->
// Submitting->Recording lifecycle.
type Order struct {
	ID            string
	UserID        string
	ConnectionID  string
	Symbol        string
	Side          string
	Type          string
	Source        string
	Notional      string
	Qty           string
	Price         string
	FilledQty     string
	Status        string
	ExecutionKind string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Trade represents a fill stored in the DB.
type Trade struct {
	ID        string
	OrderID   string
	UserID    string
	Symbol    string
	Side      string
	Price     string
	Qty       string
	Fee       string
	CreatedAt time.Time
}

// Quote is the last-known aggregator price for a symbol, persisted by the
// quote poller; freshness checks and REST quote reads do not consult it.
type Quote struct {
	Symbol    string
	Price     string
	Source    string
	FetchedAt time.Time
}

// SmartAlert is the durable counterpart of internal/notify.Alert.
type SmartAlert struct {
	Fingerprint string
	UserID      string
	Symbol      string
	Condition   string
	Target      string
	Armed       bool
	Triggered   bool
	CreatedAt   time.Time
}

// Notification is a persisted internal/notify.Notification.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Message   string
	Payload   string
	ReadAt    sql.NullTime
	CreatedAt time.Time
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, totp_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.Role, u.TOTPSecret, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, totp_secret, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	return scanUser(row)
}

// GetUserByID returns a user by id or nil if not found.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, totp_secret, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.TOTPSecret, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// SetTOTPSecret enables (non-empty secret) or disables (empty secret)
// 2FA for a user.
func (d *Database) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE users SET totp_secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, secret, userID)
	return err
}

// UpsertPortfolio stores the latest balance snapshot for a user.
func (d *Database) UpsertPortfolio(ctx context.Context, p Portfolio) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, total, available, locked, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			total = excluded.total,
			available = excluded.available,
			locked = excluded.locked,
			updated_at = CURRENT_TIMESTAMP
	`, p.UserID, p.Total, p.Available, p.Locked)
	return err
}

// GetPortfolio returns a user's balance snapshot, or nil if never seeded.
func (d *Database) GetPortfolio(ctx context.Context, userID string) (*Portfolio, error) {
	var p Portfolio
	err := d.DB.QueryRowContext(ctx, `
		SELECT user_id, total, available, locked, updated_at
		FROM portfolios WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Total, &p.Available, &p.Locked, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPosition stores the latest position for a user's symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (user_id, symbol, qty, avg_price, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			updated_at = CURRENT_TIMESTAMP
	`, p.UserID, p.Symbol, p.Qty, p.AvgPrice)
	return err
}

// UpsertQuote stores the latest aggregator quote for a symbol.
func (d *Database) UpsertQuote(ctx context.Context, q Quote) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO quotes (symbol, price, source, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`, q.Symbol, q.Price, q.Source, q.FetchedAt)
	return err
}

// GetQuote returns the last-known quote for a symbol, or nil if none.
func (d *Database) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, price, source, fetched_at FROM quotes WHERE symbol = ?
	`, symbol).Scan(&q.Symbol, &q.Price, &q.Source, &q.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// UpsertSmartAlert persists an armed/triggered alert, keyed by fingerprint.
func (d *Database) UpsertSmartAlert(ctx context.Context, a SmartAlert) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO smart_alerts (fingerprint, user_id, symbol, condition, target, armed, triggered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(user_id, fingerprint) DO UPDATE SET
			armed = excluded.armed,
			triggered = excluded.triggered
	`, a.Fingerprint, a.UserID, a.Symbol, a.Condition, a.Target, a.Armed, a.Triggered, a.CreatedAt)
	return err
}

// DeleteSmartAlert removes a dismissed alert.
func (d *Database) DeleteSmartAlert(ctx context.Context, userID, fingerprint string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM smart_alerts WHERE user_id = ? AND fingerprint = ?
	`, userID, fingerprint)
	return err
}

// CreateNotification persists a delivered notification.
func (d *Database) CreateNotification(ctx context.Context, n Notification) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, n.ID, n.UserID, n.Kind, n.Message, n.Payload, n.CreatedAt)
	return err
}

// AppendJournalEntry inserts one append-only audit journal row. Callers
// (internal/portfolio's JournalSink) must never update or delete a row
// once written.
func (d *Database) AppendJournalEntry(ctx context.Context, userID string, seq uint64, kind string, encoded []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_journal (user_id, seq, kind, encoded)
		VALUES (?, ?, ?, ?)
	`, userID, seq, kind, encoded)
	return err
}
