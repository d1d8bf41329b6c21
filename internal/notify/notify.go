// Package notify fans trade and system notifications out to one or more
// channels. Delivery is fire-and-forget: a failing channel is logged and
// counted, never surfaced to the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/metrics"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an operational alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// TradeOpen describes a newly opened position for notification purposes.
type TradeOpen struct {
	PositionID string
	SlotID     string
	Venue      string
	Symbol     string
	Side       string
	EntryPrice decimal.Decimal
	Notional   decimal.Decimal
	TPPrice    decimal.Decimal
	SLPrice    decimal.Decimal
	Confidence float64
}

// TradeClose describes a closed position and its settled outcome.
type TradeClose struct {
	PositionID  string
	SlotID      string
	Venue       string
	Symbol      string
	Side        string
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	CloseReason string
	NetPnL      decimal.Decimal
	Held        time.Duration
}

// Summary aggregates one day of trading for the daily report.
type Summary struct {
	Date          time.Time
	TradesTotal   int
	Wins          int
	NetPnL        decimal.Decimal
	TotalCapital  decimal.Decimal
	Treasury      decimal.Decimal
	OpenPositions int
}

// Notifier defines a single notification channel
type Notifier interface {
	Name() string
	TradeOpened(ctx context.Context, t TradeOpen) error
	TradeClosed(ctx context.Context, t TradeClose) error
	SystemStatus(ctx context.Context, status, detail string) error
	DailySummary(ctx context.Context, s Summary) error
	Alert(ctx context.Context, alert Alert) error
}

// Manager fans notifications out to all configured channels
type Manager struct {
	channels []Notifier
}

// NewManager creates a new notification manager
func NewManager(channels ...Notifier) *Manager {
	return &Manager{
		channels: channels,
	}
}

func (m *Manager) each(ctx context.Context, kind string, send func(Notifier) error) {
	for _, ch := range m.channels {
		if err := send(ch); err != nil {
			log.Error().
				Err(err).
				Str("channel", ch.Name()).
				Str("kind", kind).
				Msg("Failed to send notification")
			metrics.RecordNotifyFailure(ch.Name())
		}
	}
}

// TradeOpened notifies all channels of an opened position
func (m *Manager) TradeOpened(ctx context.Context, t TradeOpen) {
	m.each(ctx, "trade_opened", func(n Notifier) error {
		return n.TradeOpened(ctx, t)
	})
}

// TradeClosed notifies all channels of a closed position
func (m *Manager) TradeClosed(ctx context.Context, t TradeClose) {
	m.each(ctx, "trade_closed", func(n Notifier) error {
		return n.TradeClosed(ctx, t)
	})
}

// SystemStatus notifies all channels of a lifecycle transition
func (m *Manager) SystemStatus(ctx context.Context, status, detail string) {
	m.each(ctx, "system_status", func(n Notifier) error {
		return n.SystemStatus(ctx, status, detail)
	})
}

// DailySummary sends the daily trading report to all channels
func (m *Manager) DailySummary(ctx context.Context, s Summary) {
	m.each(ctx, "daily_summary", func(n Notifier) error {
		return n.DailySummary(ctx, s)
	})
}

// Send sends an alert to all configured channels
func (m *Manager) Send(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	m.each(ctx, "alert", func(n Notifier) error {
		return n.Alert(ctx, alert)
	})
}

// SendCritical is a convenience method for sending critical alerts
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) {
	m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityCritical,
		Metadata: metadata,
	})
}

// SendWarning is a convenience method for sending warning alerts
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) {
	m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityWarning,
		Metadata: metadata,
	})
}

// SendInfo is a convenience method for sending info alerts
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) {
	m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
		Metadata: metadata,
	})
}

// Default global notification manager (can be replaced with custom configuration)
var defaultManager *Manager

func init() {
	defaultManager = NewManager(NewLogNotifier())
}

// GetDefaultManager returns the default notification manager
func GetDefaultManager() *Manager {
	return defaultManager
}

// SetDefaultManager sets the default notification manager
func SetDefaultManager(manager *Manager) {
	defaultManager = manager
}

// Package-level helpers routed through the default manager

// TradeOpened notifies the default manager's channels of an opened position
func TradeOpened(ctx context.Context, t TradeOpen) {
	defaultManager.TradeOpened(ctx, t)
}

// TradeClosed notifies the default manager's channels of a closed position
func TradeClosed(ctx context.Context, t TradeClose) {
	defaultManager.TradeClosed(ctx, t)
}

// SystemStatus notifies the default manager's channels of a lifecycle transition
func SystemStatus(ctx context.Context, status, detail string) {
	defaultManager.SystemStatus(ctx, status, detail)
}

// DailySummary sends the daily report through the default manager
func DailySummary(ctx context.Context, s Summary) {
	defaultManager.DailySummary(ctx, s)
}

// AlertOrderFailed sends an alert for order placement failure
func AlertOrderFailed(ctx context.Context, venue, symbol, side string, err error) {
	defaultManager.SendCritical(ctx, "Order Placement Failed", fmt.Sprintf(
		"Failed to place %s order for %s on %s: %v", side, symbol, venue, err,
	), map[string]interface{}{
		"venue":  venue,
		"symbol": symbol,
		"side":   side,
		"error":  err.Error(),
	})
}

// AlertUnclosablePosition sends an alert when a close order keeps failing
// and the position remains open on the venue.
func AlertUnclosablePosition(ctx context.Context, positionID, symbol string, err error) {
	defaultManager.SendCritical(ctx, "Position Close Failed", fmt.Sprintf(
		"Unable to close position %s (%s), manual intervention required: %v", positionID, symbol, err,
	), map[string]interface{}{
		"position_id": positionID,
		"symbol":      symbol,
		"error":       err.Error(),
	})
}

// AlertJournalWriteFailed sends an alert when a settlement could not be
// persisted after retrying. The in-memory ledger and the journal have
// diverged until a replay reconciles them.
func AlertJournalWriteFailed(ctx context.Context, settlementID string, err error) {
	defaultManager.SendCritical(ctx, "Settlement Journal Write Failed", fmt.Sprintf(
		"Settlement %s applied in memory but not persisted: %v", settlementID, err,
	), map[string]interface{}{
		"settlement_id": settlementID,
		"error":         err.Error(),
	})
}

// AlertVenueDown sends an alert for exchange connection issues
func AlertVenueDown(ctx context.Context, venue string, err error) {
	defaultManager.SendCritical(ctx, "Exchange Connection Error", fmt.Sprintf(
		"Lost connection to %s: %v", venue, err,
	), map[string]interface{}{
		"venue": venue,
		"error": err.Error(),
	})
}

// AlertSystemError sends an alert for critical system errors
func AlertSystemError(ctx context.Context, component string, err error) {
	defaultManager.SendCritical(ctx, "System Error", fmt.Sprintf(
		"Critical error in %s: %v", component, err,
	), map[string]interface{}{
		"component": component,
		"error":     err.Error(),
	})
}
