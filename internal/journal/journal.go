// Package journal persists settlements and positions to PostgreSQL.
//
// The settlement log is the recovery source of truth: on startup the
// treasury router replays it to rebuild ladder state, and the position
// store reloads whatever was open when the process died. A nil *Store is
// valid and drops every write, so paper setups run without a database.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

// PoolInterface abstracts the pgx pool so tests can substitute pgxmock.
// Both *pgxpool.Pool and pgxmock.PgxPoolIface satisfy it.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL-backed journal. It satisfies both
// treasury.Journal and position.Journal.
type Store struct {
	pool   PoolInterface
	logger zerolog.Logger
}

// New connects to PostgreSQL and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Configure connection pool
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger := config.NewLogger("journal")
	logger.Info().Msg("Journal store connected")

	return &Store{pool: pool, logger: logger}, nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool PoolInterface) *Store {
	return &Store{pool: pool, logger: config.NewLogger("journal")}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
	s.logger.Info().Msg("Journal store closed")
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// AppendSettlement writes one settlement record. The settlement_id primary
// key makes the write idempotent; re-appending an already journalled id is
// a silent no-op so crash-retry loops cannot duplicate rows.
func (s *Store) AppendSettlement(ctx context.Context, rec treasury.SettlementRecord) error {
	if s == nil || s.pool == nil {
		return nil
	}

	query := `
		INSERT INTO settlements (
			settlement_id, slot_id, net_pnl, capital_after,
			route_kind, route_target, route_amount, status, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (settlement_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		rec.SettlementID,
		rec.SlotID,
		rec.NetPnL,
		rec.CapitalAfter,
		string(rec.Routing.Kind),
		rec.Routing.TargetSlotID,
		rec.Routing.Amount,
		string(rec.Status),
		rec.Details,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append settlement %s: %w", rec.SettlementID, err)
	}

	return nil
}

// ListSettlements returns every journalled settlement in apply order.
func (s *Store) ListSettlements(ctx context.Context) ([]treasury.SettlementRecord, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}

	query := `
		SELECT settlement_id, slot_id, net_pnl, capital_after,
		       route_kind, route_target, route_amount, status, details, created_at
		FROM settlements
		ORDER BY created_at, settlement_id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var recs []treasury.SettlementRecord
	for rows.Next() {
		var (
			rec       treasury.SettlementRecord
			routeKind string
			status    string
		)
		err := rows.Scan(
			&rec.SettlementID,
			&rec.SlotID,
			&rec.NetPnL,
			&rec.CapitalAfter,
			&routeKind,
			&rec.Routing.TargetSlotID,
			&rec.Routing.Amount,
			&status,
			&rec.Details,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		rec.Routing.Kind = cascade.RouteKind(routeKind)
		rec.Status = treasury.SettlementStatus(status)
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}

	return recs, nil
}

// UpsertPosition records an opened position. Re-upserting the same id only
// refreshes the status column, so retried opens stay idempotent.
func (s *Store) UpsertPosition(ctx context.Context, p position.Position) error {
	if s == nil || s.pool == nil {
		return nil
	}

	query := `
		INSERT INTO positions (
			position_id, slot_id, venue, symbol, side, entry_price, amount_base,
			notional_quote, tp_price, sl_price, confidence, status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id) DO UPDATE SET status = EXCLUDED.status
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.SlotID,
		p.Venue,
		p.Symbol,
		string(p.Side),
		p.EntryPrice,
		p.AmountBase,
		p.NotionalQuote,
		p.TPPrice,
		p.SLPrice,
		p.Confidence,
		string(p.Status),
		p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.ID, err)
	}

	return nil
}

// ClosePosition writes the close-side fields of a settled position.
func (s *Store) ClosePosition(ctx context.Context, p position.Position) error {
	if s == nil || s.pool == nil {
		return nil
	}

	query := `
		UPDATE positions
		SET status = $2, exit_price = $3, close_reason = $4, gross_quote = $5,
		    fees_quote = $6, net_quote = $7, closed_at = $8
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		string(p.Status),
		p.ExitPrice,
		string(p.CloseReason),
		p.GrossQuote,
		p.FeesQuote,
		p.NetQuote,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position not found: %s", p.ID)
	}

	return nil
}

// OpenPositions loads every position still marked OPEN, oldest first.
// Called once on startup to resume monitoring after a restart.
func (s *Store) OpenPositions(ctx context.Context) ([]position.Position, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}

	query := `
		SELECT position_id, slot_id, venue, symbol, side, entry_price, amount_base,
		       notional_quote, tp_price, sl_price, confidence, opened_at
		FROM positions
		WHERE status = 'OPEN'
		ORDER BY opened_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var out []position.Position
	for rows.Next() {
		var (
			p    position.Position
			side string
		)
		err := rows.Scan(
			&p.ID,
			&p.SlotID,
			&p.Venue,
			&p.Symbol,
			&side,
			&p.EntryPrice,
			&p.AmountBase,
			&p.NotionalQuote,
			&p.TPPrice,
			&p.SLPrice,
			&p.Confidence,
			&p.OpenedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Side = fees.Side(side)
		p.Status = position.StatusOpen
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}

	return out, nil
}
