package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// LogNotifier writes notifications to the structured log. It is always
// registered so every notification leaves a trace even when no external
// channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a new log-based notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Name identifies the channel in failure metrics
func (l *LogNotifier) Name() string { return "log" }

// TradeOpened logs an opened position
func (l *LogNotifier) TradeOpened(ctx context.Context, t TradeOpen) error {
	log.Info().
		Str("position_id", t.PositionID).
		Str("slot_id", t.SlotID).
		Str("venue", t.Venue).
		Str("symbol", t.Symbol).
		Str("side", t.Side).
		Str("entry_price", t.EntryPrice.String()).
		Str("notional", t.Notional.String()).
		Str("tp_price", t.TPPrice.String()).
		Str("sl_price", t.SLPrice.String()).
		Float64("confidence", t.Confidence).
		Msg("📈 Trade opened")
	return nil
}

// TradeClosed logs a closed position
func (l *LogNotifier) TradeClosed(ctx context.Context, t TradeClose) error {
	event := log.Info()
	if t.NetPnL.IsNegative() {
		event = log.Warn()
	}
	event.
		Str("position_id", t.PositionID).
		Str("slot_id", t.SlotID).
		Str("symbol", t.Symbol).
		Str("side", t.Side).
		Str("close_reason", t.CloseReason).
		Str("net_pnl", t.NetPnL.String()).
		Dur("held", t.Held).
		Msg("📉 Trade closed")
	return nil
}

// SystemStatus logs a lifecycle transition
func (l *LogNotifier) SystemStatus(ctx context.Context, status, detail string) error {
	log.Info().
		Str("status", status).
		Str("detail", detail).
		Msg("System status changed")
	return nil
}

// DailySummary logs the daily trading report
func (l *LogNotifier) DailySummary(ctx context.Context, s Summary) error {
	log.Info().
		Time("date", s.Date).
		Int("trades", s.TradesTotal).
		Int("wins", s.Wins).
		Str("net_pnl", s.NetPnL.String()).
		Str("total_capital", s.TotalCapital.String()).
		Str("treasury", s.Treasury.String()).
		Int("open_positions", s.OpenPositions).
		Msg("📊 Daily summary")
	return nil
}

// Alert logs an alert at a level matching its severity
func (l *LogNotifier) Alert(ctx context.Context, alert Alert) error {
	event := log.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	if alert.Metadata != nil {
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("🚨 ALERT: %s", alert.Message))

	return nil
}
