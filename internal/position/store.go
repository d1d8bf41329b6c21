package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/events"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
)

// ErrPositionNotFound is returned for lookups and closes on unknown or
// already-closed position ids.
var ErrPositionNotFound = errors.New("position not found")

// closedHistoryLimit bounds the in-memory closed ring. The journal keeps
// the full record.
const closedHistoryLimit = 1000

// Journal persists positions. The pgx store implements it; a nil Journal
// disables persistence for paper runs.
type Journal interface {
	UpsertPosition(ctx context.Context, p Position) error
	ClosePosition(ctx context.Context, p Position) error
	OpenPositions(ctx context.Context) ([]Position, error)
}

// Store owns the position table. Open positions hold a capital reservation
// against their slot for as long as they live; everything handed out is a
// value copy.
type Store struct {
	mu       sync.RWMutex
	open     map[string]*Position
	closed   []Position
	reserved map[string]decimal.Decimal

	journal Journal
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewStore creates an empty position store. journal and bus may be nil.
func NewStore(journal Journal, bus *events.Bus) *Store {
	return &Store{
		open:     make(map[string]*Position),
		reserved: make(map[string]decimal.Decimal),
		journal:  journal,
		bus:      bus,
		logger:   config.NewLogger("position"),
	}
}

// Add registers a freshly opened position, reserves its notional against
// its slot, journals it, and announces it on the bus.
func (s *Store) Add(ctx context.Context, p Position) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("position %s is not open", p.ID)
	}

	s.mu.Lock()
	if _, exists := s.open[p.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("position %s already tracked", p.ID)
	}
	owned := p
	s.open[p.ID] = &owned
	s.reserved[p.SlotID] = s.reserved[p.SlotID].Add(p.NotionalQuote)
	count := len(s.open)
	s.mu.Unlock()

	metrics.SetOpenPositions(count)
	s.persistOpen(ctx, p)
	s.bus.PositionOpened(ctx, events.PositionOpenedEvent{
		PositionID:    p.ID,
		SlotID:        p.SlotID,
		Venue:         p.Venue,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		EntryPrice:    p.EntryPrice,
		AmountBase:    p.AmountBase,
		NotionalQuote: p.NotionalQuote,
		TPPrice:       p.TPPrice,
		SLPrice:       p.SLPrice,
		Confidence:    p.Confidence,
	})

	s.logger.Info().
		Str("position_id", p.ID).
		Str("slot_id", p.SlotID).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Str("entry_price", p.EntryPrice.String()).
		Str("notional", p.NotionalQuote.String()).
		Msg("Position opened")

	return nil
}

// Close marks an open position closed with its exit accounting, releases
// its reservation, journals the close, and announces it on the bus.
// Returns the closed snapshot.
func (s *Store) Close(ctx context.Context, id string, exitPrice decimal.Decimal, reason CloseReason, gross, feesQuote, net decimal.Decimal) (Position, error) {
	s.mu.Lock()
	p, ok := s.open[id]
	if !ok {
		s.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	p.Status = StatusClosed
	p.ExitPrice = exitPrice
	p.CloseReason = reason
	p.GrossQuote = gross
	p.FeesQuote = feesQuote
	p.NetQuote = net
	p.ClosedAt = time.Now().UTC()

	closed := *p
	delete(s.open, id)
	s.release(p.SlotID, p.NotionalQuote)
	s.closed = append(s.closed, closed)
	if len(s.closed) > closedHistoryLimit {
		s.closed = s.closed[len(s.closed)-closedHistoryLimit:]
	}
	count := len(s.open)
	s.mu.Unlock()

	metrics.SetOpenPositions(count)
	metrics.RecordTrade(net.Sign() > 0)
	s.persistClose(ctx, closed)
	s.bus.PositionClosed(ctx, events.PositionClosedEvent{
		PositionID:  closed.ID,
		SlotID:      closed.SlotID,
		Venue:       closed.Venue,
		Symbol:      closed.Symbol,
		Side:        string(closed.Side),
		EntryPrice:  closed.EntryPrice,
		ExitPrice:   closed.ExitPrice,
		CloseReason: string(closed.CloseReason),
		GrossQuote:  closed.GrossQuote,
		FeesQuote:   closed.FeesQuote,
		NetQuote:    closed.NetQuote,
	})

	s.logger.Info().
		Str("position_id", closed.ID).
		Str("slot_id", closed.SlotID).
		Str("symbol", closed.Symbol).
		Str("close_reason", string(closed.CloseReason)).
		Str("exit_price", closed.ExitPrice.String()).
		Str("net_quote", closed.NetQuote.String()).
		Msg("Position closed")

	return closed, nil
}

// Restore reloads open positions from the journal after a restart,
// rebuilding reservations. No events fire: the positions were already
// announced in their first life.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}

	positions, err := s.journal.OpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore open positions: %w", err)
	}

	s.mu.Lock()
	for i := range positions {
		p := positions[i]
		if _, exists := s.open[p.ID]; exists {
			continue
		}
		s.open[p.ID] = &p
		s.reserved[p.SlotID] = s.reserved[p.SlotID].Add(p.NotionalQuote)
	}
	count := len(s.open)
	s.mu.Unlock()

	metrics.SetOpenPositions(count)
	if len(positions) > 0 {
		s.logger.Info().
			Int("count", len(positions)).
			Msg("Restored open positions from journal")
	}
	return len(positions), nil
}

// Get returns a copy of a tracked position, open or recently closed.
func (s *Store) Get(id string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.open[id]; ok {
		return *p, true
	}
	for i := len(s.closed) - 1; i >= 0; i-- {
		if s.closed[i].ID == id {
			return s.closed[i], true
		}
	}
	return Position{}, false
}

// Open returns copies of all open positions ordered by open time, oldest
// first, ties broken by id.
func (s *Store) Open() []Position {
	s.mu.RLock()
	out := make([]Position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Closed returns up to limit of the most recently closed positions, newest
// first. limit <= 0 returns the whole retained ring.
func (s *Store) Closed(limit int) []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.closed)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Position, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.closed[n-1-i]
	}
	return out
}

// OpenCount returns the number of open positions.
func (s *Store) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

// OpenOnVenue counts open positions on one venue.
func (s *Store) OpenOnVenue(venue string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.open {
		if p.Venue == venue {
			count++
		}
	}
	return count
}

// HasOpen reports whether any open position exists for a venue and symbol.
func (s *Store) HasOpen(venue, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.open {
		if p.Venue == venue && p.Symbol == symbol {
			return true
		}
	}
	return false
}

// Reserved returns the total notional currently reserved against a slot.
func (s *Store) Reserved(slotID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserved[slotID]
}

// TotalOpenNotional sums the notional of every open position.
func (s *Store) TotalOpenNotional() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, n := range s.reserved {
		total = total.Add(n)
	}
	return total
}

// release must be called with the write lock held.
func (s *Store) release(slotID string, notional decimal.Decimal) {
	remaining := s.reserved[slotID].Sub(notional)
	if remaining.Sign() <= 0 {
		delete(s.reserved, slotID)
		return
	}
	s.reserved[slotID] = remaining
}

// persistOpen journals an open write-through. One retry, then an alert;
// the in-memory table is authoritative either way.
func (s *Store) persistOpen(ctx context.Context, p Position) {
	if s.journal == nil {
		return
	}
	err := s.journal.UpsertPosition(ctx, p)
	if err != nil {
		err = s.journal.UpsertPosition(ctx, p)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("position_id", p.ID).
			Msg("Failed to journal position open")
		notify.AlertSystemError(ctx, "position journal", err)
	}
}

func (s *Store) persistClose(ctx context.Context, p Position) {
	if s.journal == nil {
		return
	}
	err := s.journal.ClosePosition(ctx, p)
	if err != nil {
		err = s.journal.ClosePosition(ctx, p)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("position_id", p.ID).
			Msg("Failed to journal position close")
		notify.AlertSystemError(ctx, "position journal", err)
	}
}
