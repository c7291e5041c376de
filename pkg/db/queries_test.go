package db

import (
	"context"
	"testing"
	"time"
)

func TestUserQueriesRequireUserID(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	q := database.Queries()
	ctx := context.Background()

	t.Run("GetPositionsByUser requires userID", func(t *testing.T) {
		_, err := q.GetPositionsByUser(ctx, "")
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetOrdersByUser requires userID", func(t *testing.T) {
		_, err := q.GetOrdersByUser(ctx, "", 100)
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetTradesByUser requires userID", func(t *testing.T) {
		_, err := q.GetTradesByUser(ctx, "", 100)
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetConnectionsByUser requires userID", func(t *testing.T) {
		_, err := q.GetConnectionsByUser(ctx, "")
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestUserQueriesDataIsolation(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	q := database.Queries()
	ctx := context.Background()

	userA := "user-a-123"
	userB := "user-b-456"

	orderA := Order{
		ID:        "order-a-1",
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		Type:      "MARKET",
		Source:    "USER",
		Notional:  "5000.000000",
		Qty:       "0.100000",
		Price:     "50000.000000",
		FilledQty: "0.100000",
		Status:    "RECORDING",
		UserID:    userA,
		CreatedAt: time.Now(),
	}
	orderB := Order{
		ID:        "order-b-1",
		Symbol:    "ETHUSDT",
		Side:      "SELL",
		Type:      "MARKET",
		Source:    "USER",
		Notional:  "3000.000000",
		Qty:       "1.000000",
		Price:     "3000.000000",
		FilledQty: "1.000000",
		Status:    "RECORDING",
		UserID:    userB,
		CreatedAt: time.Now(),
	}

	if err := q.CreateOrderWithUser(ctx, orderA); err != nil {
		t.Fatalf("Failed to create order A: %v", err)
	}
	if err := q.CreateOrderWithUser(ctx, orderB); err != nil {
		t.Fatalf("Failed to create order B: %v", err)
	}

	t.Run("User A sees only their orders", func(t *testing.T) {
		orders, err := q.GetOrdersByUser(ctx, userA, 100)
		if err != nil {
			t.Fatalf("Failed to get orders: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
		if len(orders) > 0 && orders[0].ID != "order-a-1" {
			t.Errorf("expected order-a-1, got %s", orders[0].ID)
		}
	})

	t.Run("User B sees only their orders", func(t *testing.T) {
		orders, err := q.GetOrdersByUser(ctx, userB, 100)
		if err != nil {
			t.Fatalf("Failed to get orders: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
		if len(orders) > 0 && orders[0].ID != "order-b-1" {
			t.Errorf("expected order-b-1, got %s", orders[0].ID)
		}
	})

	t.Run("Unknown user sees no orders", func(t *testing.T) {
		orders, err := q.GetOrdersByUser(ctx, "user-unknown", 100)
		if err != nil {
			t.Fatalf("Failed to get orders: %v", err)
		}
		if len(orders) != 0 {
			t.Errorf("expected 0 orders, got %d", len(orders))
		}
	})
}

func TestUpsertPositionWithUserIsolatesBySymbolAndUser(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	q := database.Queries()
	ctx := context.Background()

	if err := q.UpsertPositionWithUser(ctx, "u1", "BTCUSDT", "1.000000", "50000.000000"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := q.UpsertPositionWithUser(ctx, "u2", "BTCUSDT", "2.000000", "51000.000000"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	positions, err := q.GetPositionsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(positions) != 1 || positions[0].Qty != "1.000000" {
		t.Fatalf("expected u1's own position, got %+v", positions)
	}
}

func TestOpenOrdersExcludeTerminalStatuses(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	q := database.Queries()
	ctx := context.Background()

	open := Order{ID: "o-open", UserID: "u1", Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Source: "USER", Notional: "100", Status: "SUBMITTING"}
	closed := Order{ID: "o-closed", UserID: "u1", Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Source: "USER", Notional: "100", Status: "FILLED"}

	if err := q.CreateOrderWithUser(ctx, open); err != nil {
		t.Fatalf("create open: %v", err)
	}
	if err := q.CreateOrderWithUser(ctx, closed); err != nil {
		t.Fatalf("create closed: %v", err)
	}

	orders, err := q.GetOpenOrdersByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o-open" {
		t.Fatalf("expected only o-open, got %+v", orders)
	}
}

func TestPortfolioSnapshotRoundTrips(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	ctx := context.Background()

	if err := database.UpsertPortfolio(ctx, Portfolio{UserID: "u1", Total: "10000.000000", Available: "9000.000000", Locked: "1000.000000"}); err != nil {
		t.Fatalf("upsert portfolio: %v", err)
	}

	got, err := database.GetPortfolio(ctx, "u1")
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	if got == nil || got.Available != "9000.000000" {
		t.Fatalf("expected snapshot to round-trip, got %+v", got)
	}
}

func TestGetPortfolioReturnsNilWhenUnseeded(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	got, err := database.GetPortfolio(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unseeded user, got %+v", got)
	}
}

func TestAppendJournalEntryIsAppendOnly(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	ctx := context.Background()

	if err := database.AppendJournalEntry(ctx, "u1", 1, "lock", []byte("entry-1")); err != nil {
		t.Fatalf("append seq 1: %v", err)
	}
	if err := database.AppendJournalEntry(ctx, "u1", 2, "unlock", []byte("entry-2")); err != nil {
		t.Fatalf("append seq 2: %v", err)
	}

	if err := database.AppendJournalEntry(ctx, "u1", 1, "lock", []byte("entry-1-dup")); err == nil {
		t.Fatalf("expected duplicate seq to violate primary key")
	}
}

func TestSmartAlertUpsertAndDismiss(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	ctx := context.Background()

	alert := SmartAlert{Fingerprint: "fp1", UserID: "u1", Symbol: "BTCUSDT", Condition: "ABOVE", Target: "60000.000000", Armed: true}
	if err := database.UpsertSmartAlert(ctx, alert); err != nil {
		t.Fatalf("upsert alert: %v", err)
	}
	if err := database.DeleteSmartAlert(ctx, "u1", "fp1"); err != nil {
		t.Fatalf("dismiss alert: %v", err)
	}
}
