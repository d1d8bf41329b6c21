package journal_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/journal"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

// setupStore starts a disposable PostgreSQL container, applies the real
// migrations with the Migrator, and returns a connected Store.
func setupStore(t *testing.T) *journal.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping testcontainers test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("valor_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, journal.NewMigrator(db, "../../migrations").Migrate(ctx))

	store, err := journal.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestSettlementRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := treasury.SettlementRecord{
		SettlementID: "rt-1",
		SlotID:       "slot_1",
		NetPnL:       decimal.RequireFromString("123.45678901"),
		CapitalAfter: decimal.NewFromInt(1000),
		Routing: cascade.Routing{
			Kind:         cascade.RouteSlot,
			TargetSlotID: "slot_2",
			Amount:       decimal.RequireFromString("123.45678901"),
		},
		Status:    treasury.StatusApplied,
		Details:   "take profit",
		Timestamp: time.Now().UTC(),
	}
	second := first
	second.SettlementID = "rt-2"
	second.NetPnL = decimal.RequireFromString("-50.5")
	second.Routing = cascade.Routing{Kind: cascade.RouteNone, Amount: decimal.Zero}
	second.Timestamp = first.Timestamp.Add(time.Second)

	require.NoError(t, store.AppendSettlement(ctx, first))
	require.NoError(t, store.AppendSettlement(ctx, second))

	recs, err := store.ListSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Apply order survives the round trip.
	assert.Equal(t, "rt-1", recs[0].SettlementID)
	assert.Equal(t, "rt-2", recs[1].SettlementID)

	got := recs[0]
	assert.Equal(t, "slot_1", got.SlotID)
	assert.True(t, got.NetPnL.Equal(first.NetPnL), "net pnl = %s", got.NetPnL)
	assert.True(t, got.CapitalAfter.Equal(first.CapitalAfter))
	assert.Equal(t, cascade.RouteSlot, got.Routing.Kind)
	assert.Equal(t, "slot_2", got.Routing.TargetSlotID)
	assert.True(t, got.Routing.Amount.Equal(first.Routing.Amount))
	assert.Equal(t, treasury.StatusApplied, got.Status)
	assert.Equal(t, "take profit", got.Details)
	assert.WithinDuration(t, first.Timestamp, got.Timestamp, time.Second)

	assert.Equal(t, cascade.RouteNone, recs[1].Routing.Kind)
	assert.True(t, recs[1].NetPnL.Equal(second.NetPnL))
}

func TestAppendSettlementIdempotentOnConflict(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rec := treasury.SettlementRecord{
		SettlementID: "dup-1",
		SlotID:       "slot_1",
		NetPnL:       decimal.NewFromInt(100),
		CapitalAfter: decimal.NewFromInt(900),
		Routing:      cascade.Routing{Kind: cascade.RouteNone, Amount: decimal.Zero},
		Status:       treasury.StatusApplied,
		Timestamp:    time.Now().UTC(),
	}

	require.NoError(t, store.AppendSettlement(ctx, rec))

	// Same id with different numbers: the original row wins.
	altered := rec
	altered.NetPnL = decimal.NewFromInt(999)
	require.NoError(t, store.AppendSettlement(ctx, altered))

	recs, err := store.ListSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].NetPnL.Equal(decimal.NewFromInt(100)))
}

func TestPositionLifecyclePersistence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p := position.Position{
		ID:            "binance_BTCUSDT_1700000000000000000",
		SlotID:        "slot_1",
		Venue:         "binance",
		Symbol:        "BTC/USDT",
		Side:          fees.SideShort,
		EntryPrice:    decimal.RequireFromString("50000"),
		AmountBase:    decimal.RequireFromString("0.01"),
		NotionalQuote: decimal.RequireFromString("500"),
		TPPrice:       decimal.RequireFromString("49550"),
		SLPrice:       decimal.RequireFromString("51500"),
		Confidence:    0.82,
		Status:        position.StatusOpen,
		OpenedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.UpsertPosition(ctx, p))

	open, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)
	assert.Equal(t, fees.SideShort, open[0].Side)
	assert.Equal(t, position.StatusOpen, open[0].Status)
	assert.True(t, open[0].TPPrice.Equal(p.TPPrice))
	assert.InDelta(t, 0.82, open[0].Confidence, 0.0001)

	p.Status = position.StatusClosed
	p.ExitPrice = decimal.RequireFromString("49550")
	p.CloseReason = position.CloseTakeProfit
	p.GrossQuote = decimal.RequireFromString("4.5")
	p.FeesQuote = decimal.RequireFromString("0.9955")
	p.NetQuote = decimal.RequireFromString("3.5045")
	p.ClosedAt = p.OpenedAt.Add(30 * time.Minute)
	require.NoError(t, store.ClosePosition(ctx, p))

	open, err = store.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestClosePositionUnknownID(t *testing.T) {
	store := setupStore(t)

	p := position.Position{
		ID:          "ghost",
		Status:      position.StatusClosed,
		CloseReason: position.CloseManual,
		ClosedAt:    time.Now().UTC(),
	}
	err := store.ClosePosition(context.Background(), p)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "position not found")
}

// Running the migrator against an already-migrated database is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping testcontainers test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("valor_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := journal.NewMigrator(db, "../../migrations")
	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, 1, version)
}
