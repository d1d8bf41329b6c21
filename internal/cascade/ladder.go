package cascade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/config"
)

// ErrSlotNotFound is returned for lookups with an unknown slot id.
var ErrSlotNotFound = errors.New("slot not found")

// RouteKind classifies where one routing call moved the excess.
type RouteKind string

const (
	RouteNone     RouteKind = "NONE"
	RouteSlot     RouteKind = "SLOT"
	RouteTreasury RouteKind = "TREASURY"
)

// Routing describes the outcome of a single RouteExcess call. The whole
// excess goes to exactly one destination; it is never split.
type Routing struct {
	Kind         RouteKind       `json:"kind"`
	TargetSlotID string          `json:"target_slot_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// Downgrade policy thresholds. A slot on ≥5 trades demotes when its win
// rate falls under 40% or its cumulative P&L under −15% of VB.
const (
	downgradeMinTrades = 5
	downgradeWinRate   = 0.40
)

var downgradeLossRatio = decimal.NewFromFloat(-0.15)

// Ladder is the ordered slot array. Not safe for concurrent use: the
// treasury router holds the only mutable reference and locks around it.
type Ladder struct {
	slots           []*Slot
	index           map[string]*Slot
	enableDowngrade bool
}

// NewLadder builds slot_1..slot_N with a uniform VB. slot_1 starts fully
// capitalized and OPERATING, the rest empty in BOOTSTRAP.
func NewLadder(cfg config.CascadeConfig) *Ladder {
	n := cfg.Slots
	if n < 1 {
		n = 10
	}
	vb := decimal.NewFromFloat(cfg.ValorBase)
	if vb.Sign() <= 0 {
		vb = decimal.NewFromInt(1000)
	}

	l := &Ladder{
		slots:           make([]*Slot, 0, n),
		index:           make(map[string]*Slot, n),
		enableDowngrade: cfg.EnableDowngrade,
	}

	now := time.Now()
	for i := 1; i <= n; i++ {
		s := &Slot{
			ID:        fmt.Sprintf("slot_%d", i),
			VB:        vb,
			CreatedAt: now,
		}
		if i == 1 {
			s.Capital = vb
		}
		s.recompute()
		l.slots = append(l.slots, s)
		l.index[s.ID] = s
	}
	return l
}

// Size returns the number of slots.
func (l *Ladder) Size() int {
	return len(l.slots)
}

// DowngradeEnabled reports whether the downgrade policy is active.
func (l *Ladder) DowngradeEnabled() bool {
	return l.enableDowngrade
}

// Slot returns the live slot for id.
func (l *Ladder) Slot(id string) (*Slot, bool) {
	s, ok := l.index[id]
	return s, ok
}

// Slots returns the live slots in ladder order. Mutating them is the
// owner's privilege.
func (l *Ladder) Slots() []*Slot {
	return l.slots
}

// NextTarget returns the first slot in ladder order that has never been
// fully capitalized, or nil when the cascade is complete. Slots that
// reached VB once are never refilled here; losses pull their capital
// down but not their rung.
func (l *Ladder) NextTarget() *Slot {
	for _, s := range l.slots {
		if !s.reached && s.Capital.LessThan(s.VB) {
			return s
		}
	}
	return nil
}

// ApplyPnL adjusts a slot's capital by a signed amount and recomputes its
// status. Trade counters are the settler's business, not this method's.
func (l *Ladder) ApplyPnL(slotID string, delta decimal.Decimal) (*Slot, error) {
	s, ok := l.index[slotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	s.Capital = s.Capital.Add(delta)
	s.recompute()
	return s, nil
}

// RouteExcess moves a slot's entire excess to the next target slot, or
// reports RouteTreasury when the cascade is complete. The caller owns the
// treasury balance and applies treasury routings itself. A target credited
// past its VB is left overfull; callers chase the chain with further
// RouteExcess calls until it returns RouteNone.
func (l *Ladder) RouteExcess(s *Slot) Routing {
	excess := s.Excess()
	if excess.Sign() <= 0 {
		return Routing{Kind: RouteNone, Amount: decimal.Zero}
	}

	s.Capital = s.VB
	s.ProfitSent = s.ProfitSent.Add(excess)
	s.recompute()

	target := l.NextTarget()
	if target == nil {
		return Routing{Kind: RouteTreasury, Amount: excess}
	}

	target.Capital = target.Capital.Add(excess)
	target.ProfitReceived = target.ProfitReceived.Add(excess)
	target.recompute()
	return Routing{Kind: RouteSlot, TargetSlotID: target.ID, Amount: excess}
}

// TotalCapital sums all slot capitals.
func (l *Ladder) TotalCapital() decimal.Decimal {
	total := decimal.Zero
	for _, s := range l.slots {
		total = total.Add(s.Capital)
	}
	return total
}

// MaybeDowngrade demotes an underperforming slot one rung by clearing its
// reached latch, making it a cascade target again. Advisory policy, off by
// default; enabling it relaxes the ladder's monotone fill order.
func (l *Ladder) MaybeDowngrade(slotID string) (bool, error) {
	if !l.enableDowngrade {
		return false, nil
	}
	s, ok := l.index[slotID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	if !s.reached || s.TradesDone < downgradeMinTrades {
		return false, nil
	}

	lossRatio := s.NetPnL.Div(s.VB)
	if s.WinRate() >= downgradeWinRate && lossRatio.GreaterThanOrEqual(downgradeLossRatio) {
		return false, nil
	}

	// A slot still holding VB has nothing to demote; recompute would just
	// re-latch it.
	if s.Capital.GreaterThanOrEqual(s.VB) {
		return false, nil
	}

	s.reached = false
	s.recompute()
	return true, nil
}
