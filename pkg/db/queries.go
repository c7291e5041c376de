// Package db provides user-isolated database queries for multi-tenant architecture.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

// GetPositionsByUser returns all positions for a specific user.
func (q *UserQueries) GetPositionsByUser(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, qty, avg_price, updated_at
		FROM positions
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgPrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpsertPositionWithUser creates or updates a position for a user.
func (q *UserQueries) UpsertPositionWithUser(ctx context.Context, userID, symbol, qty, avgPrice string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (user_id, symbol, qty, avg_price, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			updated_at = CURRENT_TIMESTAMP
	`, userID, symbol, qty, avgPrice)

	return err
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// GetOrdersByUser returns orders for a specific user.
func (q *UserQueries) GetOrdersByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(connection_id, ''), symbol, side, type, source,
		       notional, qty, price, filled_qty, status, execution_kind, created_at, updated_at
		FROM trade_orders
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ConnectionID, &o.Symbol, &o.Side, &o.Type, &o.Source,
			&o.Notional, &o.Qty, &o.Price, &o.FilledQty, &o.Status, &o.ExecutionKind, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOpenOrdersByUser returns open orders for a specific user.
func (q *UserQueries) GetOpenOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(connection_id, ''), symbol, side, type, source,
		       notional, qty, price, filled_qty, status, execution_kind, created_at, updated_at
		FROM trade_orders
		WHERE user_id = ?
		  AND status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ConnectionID, &o.Symbol, &o.Side, &o.Type, &o.Source,
			&o.Notional, &o.Qty, &o.Price, &o.FilledQty, &o.Status, &o.ExecutionKind, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateOrderWithUser inserts a new order with user_id.
func (q *UserQueries) CreateOrderWithUser(ctx context.Context, o Order) error {
	if o.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_orders (
			id, user_id, connection_id, symbol, side, type, source,
			notional, qty, price, filled_qty, status, execution_kind, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, o.ID, o.UserID, o.ConnectionID, o.Symbol, o.Side, o.Type, o.Source,
		o.Notional, o.Qty, o.Price, o.FilledQty, o.Status, o.ExecutionKind, o.CreatedAt, o.UpdatedAt)

	return err
}

// UpdateOrderStatus sets the status of an order, verifying user ownership.
func (q *UserQueries) UpdateOrderStatus(ctx context.Context, userID, id, status string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE trade_orders SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, status, id, userID)
	return err
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// GetTradesByUser returns trades for a specific user.
func (q *UserQueries) GetTradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, symbol, side, price, qty, COALESCE(fee, '0'), created_at
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Side, &t.Price, &t.Qty, &t.Fee, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateTradeWithUser inserts a new trade with user_id.
func (q *UserQueries) CreateTradeWithUser(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, price, qty, fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.OrderID, t.UserID, t.Symbol, t.Side, t.Price, t.Qty, t.Fee, t.CreatedAt)

	return err
}

// ----------------------------------------
// Connection Queries (with encryption support)
// ----------------------------------------

// GetConnectionsByUser returns all active connections for a user.
func (q *UserQueries) GetConnectionsByUser(ctx context.Context, userID string) ([]Connection, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, exchange_type, name,
		       COALESCE(api_key, ''), COALESCE(api_secret, ''),
		       COALESCE(api_key_encrypted, ''), COALESCE(api_secret_encrypted, ''),
		       COALESCE(key_version, 1), COALESCE(is_default, 0), is_active, created_at, updated_at
		FROM connections
		WHERE user_id = ? AND is_active = 1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExchangeType, &c.Name,
			&c.APIKey, &c.APISecret, &c.APIKeyEncrypted, &c.APISecretEncrypted,
			&c.KeyVersion, &c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// GetConnectionByID returns a connection by ID, verifying user ownership.
func (q *UserQueries) GetConnectionByID(ctx context.Context, userID, connectionID string) (*Connection, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var c Connection
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, exchange_type, name,
		       COALESCE(api_key, ''), COALESCE(api_secret, ''),
		       COALESCE(api_key_encrypted, ''), COALESCE(api_secret_encrypted, ''),
		       COALESCE(key_version, 1), COALESCE(is_default, 0), is_active, created_at, updated_at
		FROM connections
		WHERE id = ? AND user_id = ?
	`, connectionID, userID).Scan(&c.ID, &c.UserID, &c.ExchangeType, &c.Name,
		&c.APIKey, &c.APISecret, &c.APIKeyEncrypted, &c.APISecretEncrypted,
		&c.KeyVersion, &c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query connection: %w", err)
	}
	return &c, nil
}

// CreateConnectionEncrypted creates a new connection with encrypted API keys.
func (q *UserQueries) CreateConnectionEncrypted(ctx context.Context, c Connection) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO connections (
			id, user_id, exchange_type, name,
			api_key, api_secret,
			api_key_encrypted, api_secret_encrypted,
			key_version, is_default, is_active, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, '', '', ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, c.ID, c.UserID, c.ExchangeType, c.Name, c.APIKeyEncrypted, c.APISecretEncrypted, c.KeyVersion, c.IsDefault)

	return err
}

// DeactivateConnection marks a connection as inactive for a user.
func (q *UserQueries) DeactivateConnection(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE connections
		SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, id, userID)
	return err
}

// SetDefaultConnection clears any existing default for the user and marks
// id as the default platform the Trade Router should prefer.
func (q *UserQueries) SetDefaultConnection(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE connections SET is_default = 0 WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE connections SET is_default = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, id, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// ----------------------------------------
// Notification / Alert Queries
// ----------------------------------------

// GetNotificationsByUser returns a user's notifications, newest first.
func (q *UserQueries) GetNotificationsByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, COALESCE(payload, ''), read_at, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead stamps read_at on one notification owned by userID.
func (q *UserQueries) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ? AND read_at IS NULL
	`, id, userID)
	return err
}

// GetSmartAlertsByUser returns a user's armed/triggered alerts.
func (q *UserQueries) GetSmartAlertsByUser(ctx context.Context, userID string) ([]SmartAlert, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT fingerprint, user_id, symbol, condition, target, armed, triggered, created_at
		FROM smart_alerts
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query smart alerts: %w", err)
	}
	defer rows.Close()

	var out []SmartAlert
	for rows.Next() {
		var a SmartAlert
		if err := rows.Scan(&a.Fingerprint, &a.UserID, &a.Symbol, &a.Condition, &a.Target, &a.Armed, &a.Triggered, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan smart alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
