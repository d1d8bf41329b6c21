// Package events publishes trading lifecycle events on NATS. Events are
// advisory: publish failures are logged, never propagated, and a bus built
// without a NATS connection is a silent no-op so paper runs work offline.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subjects carried on the bus.
const (
	SubjectPositionOpened    = "valor.position.opened"
	SubjectPositionClosed    = "valor.position.closed"
	SubjectSettlementApplied = "valor.settlement.applied"
	SubjectDecisionMade      = "valor.decision.made"
	SubjectSystemStatus      = "valor.system.status"

	// SubjectWildcard matches every valor event, for relays and dashboards.
	SubjectWildcard = "valor.>"
)

// Envelope wraps every published event with identity and timing.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PositionOpenedEvent announces a freshly opened position.
type PositionOpenedEvent struct {
	PositionID    string          `json:"position_id"`
	SlotID        string          `json:"slot_id"`
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	AmountBase    decimal.Decimal `json:"amount_base"`
	NotionalQuote decimal.Decimal `json:"notional_quote"`
	TPPrice       decimal.Decimal `json:"tp_price"`
	SLPrice       decimal.Decimal `json:"sl_price"`
	Confidence    float64         `json:"confidence"`
}

// PositionClosedEvent announces a position close with its P&L breakdown.
type PositionClosedEvent struct {
	PositionID  string          `json:"position_id"`
	SlotID      string          `json:"slot_id"`
	Venue       string          `json:"venue"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	CloseReason string          `json:"close_reason"`
	GrossQuote  decimal.Decimal `json:"gross_quote"`
	FeesQuote   decimal.Decimal `json:"fees_quote"`
	NetQuote    decimal.Decimal `json:"net_quote"`
}

// SettlementEvent announces one applied settlement and its routing.
type SettlementEvent struct {
	SettlementID string          `json:"settlement_id"`
	SlotID       string          `json:"slot_id"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
	CapitalAfter decimal.Decimal `json:"capital_after"`
	RouteKind    string          `json:"route_kind"`
	RouteTarget  string          `json:"route_target,omitempty"`
	RouteAmount  decimal.Decimal `json:"route_amount"`
	Status       string          `json:"status"`
}

// DecisionEvent announces one consensus round result.
type DecisionEvent struct {
	Symbol     string             `json:"symbol"`
	Outcome    string             `json:"outcome"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Supporters []string           `json:"supporters,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// SystemStatusEvent announces orchestrator state changes.
type SystemStatusEvent struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
