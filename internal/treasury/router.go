// Package treasury owns the money after the trade: every realized P&L flows
// through the Router exactly once, moves slot capital, cascades excess down
// the ladder, and lands in a journalled settlement record. The router holds
// the only mutable reference to the ladder and the treasury balance.
package treasury

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/events"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
)

// SettlementStatus classifies the outcome of one settle call.
type SettlementStatus string

const (
	StatusApplied          SettlementStatus = "APPLIED"
	StatusAlreadyProcessed SettlementStatus = "ALREADY_PROCESSED"
	StatusError            SettlementStatus = "ERROR"
)

// sweepPrefix marks settlement ids minted by ForceSweep. Records carrying
// it move capital without counting a trade, live and in replay alike.
const sweepPrefix = "sweep_"

// historyLimit bounds the in-memory settlement ring. The journal keeps the
// full record.
const historyLimit = 1000

// SettlementRecord is the immutable outcome of one settlement.
type SettlementRecord struct {
	SettlementID string           `json:"settlement_id"`
	SlotID       string           `json:"slot_id"`
	NetPnL       decimal.Decimal  `json:"net_pnl"`
	CapitalAfter decimal.Decimal  `json:"capital_after"`
	Routing      cascade.Routing  `json:"routing"`
	Status       SettlementStatus `json:"status"`
	Details      string           `json:"details,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Journal persists settlement records. The pgx store implements it; a nil
// Journal disables persistence for paper runs.
type Journal interface {
	AppendSettlement(ctx context.Context, rec SettlementRecord) error
	ListSettlements(ctx context.Context) ([]SettlementRecord, error)
}

// CascadeState is a point-in-time snapshot of the ladder and treasury.
type CascadeState struct {
	Slots          []cascade.Slot  `json:"slots"`
	TotalCapital   decimal.Decimal `json:"total_capital"`
	Treasury       decimal.Decimal `json:"treasury"`
	NextTargetID   string          `json:"next_target_id,omitempty"`
	OperatingSlots int             `json:"operating_slots"`
	Settlements    int             `json:"settlements"`
}

// Router applies settlements to the ladder. All mutation is serialized under
// one mutex; every mutation path funnels through the same idempotency check
// so a settlement id can only ever move capital once.
type Router struct {
	mu        sync.RWMutex
	ladder    *cascade.Ladder
	balance   decimal.Decimal
	history   []SettlementRecord
	processed map[string]struct{}
	settled   int

	journal Journal
	bus     *events.Bus
	logger  zerolog.Logger
}

// New creates a Router over the given ladder. journal and bus may be nil.
func New(ladder *cascade.Ladder, journal Journal, bus *events.Bus) *Router {
	r := &Router{
		ladder:    ladder,
		balance:   decimal.Zero,
		processed: make(map[string]struct{}),
		journal:   journal,
		bus:       bus,
		logger:    config.NewLogger("treasury"),
	}
	r.publishGauges()
	return r
}

// Settle applies one trade's net P&L to its slot, cascades any excess, and
// journals the outcome. Safe to call twice with the same settlement id: the
// duplicate reports StatusAlreadyProcessed and moves nothing.
func (r *Router) Settle(ctx context.Context, slotID string, netPnL decimal.Decimal, settlementID, details string) (SettlementRecord, error) {
	r.mu.Lock()
	rec, err := r.apply(slotID, netPnL, settlementID, details)
	r.mu.Unlock()

	metrics.RecordSettlement(string(rec.Status))
	if err != nil || rec.Status != StatusApplied {
		return rec, err
	}

	r.commit(ctx, rec)
	return rec, nil
}

// ForceSweep routes excess for every slot in ladder order. Normal settles
// leave no slot over VB, so this is an operator action for drift introduced
// outside the settle path. Sweeps count no trades.
func (r *Router) ForceSweep(ctx context.Context) ([]SettlementRecord, error) {
	r.mu.Lock()
	var recs []SettlementRecord
	for _, s := range r.ladder.Slots() {
		excess := s.Excess()
		if excess.Sign() <= 0 {
			continue
		}
		// Pull the off-books drift, then re-enter it through the normal
		// settlement path. The record's NetPnL carries the swept amount,
		// which is what lets a replay rebuild it from the journal.
		if _, err := r.ladder.ApplyPnL(s.ID, excess.Neg()); err != nil {
			r.mu.Unlock()
			return recs, err
		}
		rec, err := r.apply(s.ID, excess, sweepID(s.ID), "forced sweep")
		if err != nil {
			r.mu.Unlock()
			return recs, err
		}
		if rec.Status == StatusApplied {
			recs = append(recs, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range recs {
		metrics.RecordSettlement(string(rec.Status))
		r.commit(ctx, rec)
	}
	return recs, nil
}

// Replay re-applies journalled settlements in order through the same
// idempotency check. Records already seen in memory are skipped, so a replay
// over a live router is harmless. Nothing is re-journalled.
func (r *Router) Replay(ctx context.Context, j Journal) error {
	if j == nil {
		return nil
	}
	recs, err := j.ListSettlements(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replayed := 0
	for _, past := range recs {
		if _, seen := r.processed[past.SettlementID]; seen {
			continue
		}
		rec, err := r.apply(past.SlotID, past.NetPnL, past.SettlementID, past.Details)
		if err != nil {
			r.logger.Error().Err(err).
				Str("settlement_id", past.SettlementID).
				Str("slot_id", past.SlotID).
				Msg("Replay failed for settlement")
			continue
		}
		replayed++

		// The journalled capital is the ground truth the rebuilt ladder
		// must land on.
		if !rec.CapitalAfter.Equal(past.CapitalAfter) {
			r.logger.Warn().
				Str("settlement_id", past.SettlementID).
				Str("slot_id", past.SlotID).
				Str("journalled", past.CapitalAfter.String()).
				Str("replayed", rec.CapitalAfter.String()).
				Msg("Replay capital mismatch")
		}
	}

	r.logger.Info().
		Int("journalled", len(recs)).
		Int("replayed", replayed).
		Str("treasury", r.balance.String()).
		Msg("Settlement journal replayed")

	r.publishGaugesLocked()
	return nil
}

// apply is the single mutation path. Callers hold r.mu. Sweep ids move
// capital without a trade behind them and leave the counters alone.
func (r *Router) apply(slotID string, netPnL decimal.Decimal, settlementID, details string) (SettlementRecord, error) {
	if _, seen := r.processed[settlementID]; seen {
		r.logger.Warn().
			Str("settlement_id", settlementID).
			Str("slot_id", slotID).
			Msg("Duplicate settlement ignored")
		return SettlementRecord{
			SettlementID: settlementID,
			SlotID:       slotID,
			NetPnL:       netPnL,
			Status:       StatusAlreadyProcessed,
			Timestamp:    time.Now().UTC(),
		}, nil
	}

	// Sweeps are pure routing; the id prefix is what tells them apart,
	// in live calls and in replay alike.
	isSweep := strings.HasPrefix(settlementID, sweepPrefix)

	slot, err := r.ladder.ApplyPnL(slotID, netPnL)
	if err != nil {
		return SettlementRecord{
			SettlementID: settlementID,
			SlotID:       slotID,
			NetPnL:       netPnL,
			Status:       StatusError,
			Timestamp:    time.Now().UTC(),
		}, err
	}

	if !isSweep {
		slot.TradesDone++
		if netPnL.Sign() > 0 {
			slot.Wins++
		}
		slot.NetPnL = slot.NetPnL.Add(netPnL)
	}

	routing := r.routeChain(slot)

	if netPnL.Sign() < 0 {
		if demoted, _ := r.ladder.MaybeDowngrade(slotID); demoted {
			r.logger.Warn().
				Str("slot_id", slotID).
				Int("trades", slot.TradesDone).
				Float64("win_rate", slot.WinRate()).
				Str("net_pnl", slot.NetPnL.String()).
				Msg("Slot demoted to cascade target")
		}
	}

	rec := SettlementRecord{
		SettlementID: settlementID,
		SlotID:       slotID,
		NetPnL:       netPnL,
		CapitalAfter: slot.Capital,
		Routing:      routing,
		Status:       StatusApplied,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}

	r.processed[settlementID] = struct{}{}
	r.history = append(r.history, rec)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
	r.settled++

	r.logger.Info().
		Str("settlement_id", settlementID).
		Str("slot_id", slotID).
		Str("net_pnl", netPnL.String()).
		Str("capital_after", slot.Capital.String()).
		Str("route", string(routing.Kind)).
		Str("route_amount", routing.Amount.String()).
		Msg("Settlement applied")

	return rec, nil
}

// routeChain drains excess from the settled slot and then chases every
// overfull target until no slot holds more than its VB. Each hop is atomic
// and unsplit; only the first hop goes on the settlement record.
func (r *Router) routeChain(s *cascade.Slot) cascade.Routing {
	first := r.ladder.RouteExcess(s)
	cur := first
	for {
		switch cur.Kind {
		case cascade.RouteNone:
			return first
		case cascade.RouteTreasury:
			r.balance = r.balance.Add(cur.Amount)
			return first
		}

		target, ok := r.ladder.Slot(cur.TargetSlotID)
		if !ok {
			return first
		}
		next := r.ladder.RouteExcess(target)
		if next.Kind == cascade.RouteSlot {
			r.logger.Debug().
				Str("from", target.ID).
				Str("to", next.TargetSlotID).
				Str("amount", next.Amount.String()).
				Msg("Cascade chained through overfull slot")
		}
		cur = next
	}
}

// commit handles the write-through side effects of an applied settlement:
// journal, event, gauges. Called without the lock held; the record is a
// value copy.
func (r *Router) commit(ctx context.Context, rec SettlementRecord) {
	if r.journal != nil {
		if err := r.journal.AppendSettlement(ctx, rec); err != nil {
			r.logger.Error().Err(err).
				Str("settlement_id", rec.SettlementID).
				Msg("Journal write failed, retrying")
			if err := r.journal.AppendSettlement(ctx, rec); err != nil {
				r.logger.Error().Err(err).
					Str("settlement_id", rec.SettlementID).
					Msg("Journal write failed twice, settlement committed in memory only")
				notify.AlertJournalWriteFailed(ctx, rec.SettlementID, err)
			}
		}
	}

	r.bus.SettlementApplied(ctx, events.SettlementEvent{
		SettlementID: rec.SettlementID,
		SlotID:       rec.SlotID,
		NetPnL:       rec.NetPnL,
		CapitalAfter: rec.CapitalAfter,
		RouteKind:    string(rec.Routing.Kind),
		RouteTarget:  rec.Routing.TargetSlotID,
		RouteAmount:  rec.Routing.Amount,
		Status:       string(rec.Status),
	})

	r.publishGauges()
}

func (r *Router) publishGauges() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.publishGaugesLocked()
}

func (r *Router) publishGaugesLocked() {
	for _, s := range r.ladder.Slots() {
		metrics.SetSlotCapital(s.ID, s.Capital.InexactFloat64())
	}
	metrics.SetTreasuryBalance(r.balance.InexactFloat64())
}

// CascadeStatus returns a snapshot of the whole ladder.
func (r *Router) CascadeStatus() CascadeState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := CascadeState{
		Slots:        make([]cascade.Slot, 0, r.ladder.Size()),
		TotalCapital: r.ladder.TotalCapital(),
		Treasury:     r.balance,
		Settlements:  r.settled,
	}
	for _, s := range r.ladder.Slots() {
		state.Slots = append(state.Slots, s.Clone())
		if s.Status == cascade.StatusOperating {
			state.OperatingSlots++
		}
	}
	if next := r.ladder.NextTarget(); next != nil {
		state.NextTargetID = next.ID
	}
	return state
}

// SlotStates returns value copies of all slots in ladder order.
func (r *Router) SlotStates() []cascade.Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cascade.Slot, 0, r.ladder.Size())
	for _, s := range r.ladder.Slots() {
		out = append(out, s.Clone())
	}
	return out
}

// SlotState returns a value copy of one slot.
func (r *Router) SlotState(slotID string) (cascade.Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.ladder.Slot(slotID)
	if !ok {
		return cascade.Slot{}, false
	}
	return s.Clone(), true
}

// SettlementHistory returns the most recent settlements, newest first.
// limit <= 0 returns the whole ring.
func (r *Router) SettlementHistory(limit int) []SettlementRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]SettlementRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// TreasuryBalance returns the overflow balance held outside the ladder.
func (r *Router) TreasuryBalance() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance
}

// TotalCapital returns the sum of all slot capitals.
func (r *Router) TotalCapital() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ladder.TotalCapital()
}

func sweepID(slotID string) string {
	return fmt.Sprintf("%s%s_%d", sweepPrefix, slotID, time.Now().UnixNano())
}
