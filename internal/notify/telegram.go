package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram sends notifications to a Telegram chat
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a new Telegram-based notifier
// botToken: Telegram bot API token
// chatID: chat to send notifications to
func NewTelegram(botToken string, chatID int64) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int64("chat_id", chatID).
		Msg("Telegram notifier initialized")

	return &Telegram{
		api:    api,
		chatID: chatID,
	}, nil
}

// Name identifies the channel in failure metrics
func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}

// TradeOpened sends an opened-position notification
func (t *Telegram) TradeOpened(ctx context.Context, tr TradeOpen) error {
	return t.send(formatTradeOpen(tr))
}

// TradeClosed sends a closed-position notification
func (t *Telegram) TradeClosed(ctx context.Context, tr TradeClose) error {
	return t.send(formatTradeClose(tr))
}

// SystemStatus sends a lifecycle transition notification
func (t *Telegram) SystemStatus(ctx context.Context, status, detail string) error {
	return t.send(formatSystemStatus(status, detail))
}

// DailySummary sends the daily trading report
func (t *Telegram) DailySummary(ctx context.Context, s Summary) error {
	return t.send(formatSummary(s))
}

// Alert sends an operational alert
func (t *Telegram) Alert(ctx context.Context, alert Alert) error {
	return t.send(formatAlert(alert))
}

func formatTradeOpen(t TradeOpen) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 *Trade Opened*\n\n")
	fmt.Fprintf(&b, "`%s` %s on %s\n", t.Symbol, t.Side, t.Venue)
	fmt.Fprintf(&b, "• Entry: `%s`\n", t.EntryPrice)
	fmt.Fprintf(&b, "• Size: `%s`\n", t.Notional)
	fmt.Fprintf(&b, "• TP: `%s` / SL: `%s`\n", t.TPPrice, t.SLPrice)
	fmt.Fprintf(&b, "• Confidence: `%.0f%%`\n", t.Confidence*100)
	fmt.Fprintf(&b, "• Slot: `%s`", t.SlotID)
	return b.String()
}

func formatTradeClose(t TradeClose) string {
	emoji := "💰"
	if t.NetPnL.IsNegative() {
		emoji = "📉"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Trade Closed* (%s)\n\n", emoji, t.CloseReason)
	fmt.Fprintf(&b, "`%s` %s on %s\n", t.Symbol, t.Side, t.Venue)
	fmt.Fprintf(&b, "• Entry: `%s` → Exit: `%s`\n", t.EntryPrice, t.ExitPrice)
	fmt.Fprintf(&b, "• Net P&L: `%s`\n", t.NetPnL)
	fmt.Fprintf(&b, "• Held: `%s`\n", t.Held.Round(time.Second))
	fmt.Fprintf(&b, "• Slot: `%s`", t.SlotID)
	return b.String()
}

func formatSystemStatus(status, detail string) string {
	var emoji string
	switch status {
	case "RUNNING":
		emoji = "🟢"
	case "PAUSED":
		emoji = "⏸"
	case "STOPPED":
		emoji = "🔴"
	case "EMERGENCY_STOP":
		emoji = "🚨"
	default:
		emoji = "📢"
	}

	message := fmt.Sprintf("%s *System %s*", emoji, status)
	if detail != "" {
		message += fmt.Sprintf("\n\n%s", detail)
	}
	return message
}

func formatSummary(s Summary) string {
	winRate := 0.0
	if s.TradesTotal > 0 {
		winRate = float64(s.Wins) / float64(s.TradesTotal) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Daily Summary* — %s\n\n", s.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "• Trades: `%d` (wins: `%d`, rate: `%.0f%%`)\n", s.TradesTotal, s.Wins, winRate)
	fmt.Fprintf(&b, "• Net P&L: `%s`\n", s.NetPnL)
	fmt.Fprintf(&b, "• Ladder capital: `%s`\n", s.TotalCapital)
	fmt.Fprintf(&b, "• Treasury: `%s`\n", s.Treasury)
	fmt.Fprintf(&b, "• Open positions: `%d`", s.OpenPositions)
	return b.String()
}

func formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	default:
		emoji = "📢"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}

	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))

	return message
}
