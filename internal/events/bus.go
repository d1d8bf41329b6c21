package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/metrics"
)

// Bus publishes lifecycle events. A nil or disconnected Bus swallows
// publishes silently; trading never blocks on the event plane.
type Bus struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS and returns a live bus.
func Connect(url string) (*Bus, error) {
	logger := config.NewLogger("events")

	nc, err := nats.Connect(
		url,
		nats.Name("valord"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info().Str("url", url).Msg("Event bus connected")
	return &Bus{nc: nc, logger: logger}, nil
}

// NewNop returns a bus that drops everything. Used when NATS is not
// configured.
func NewNop() *Bus {
	return &Bus{logger: config.NewLogger("events")}
}

// Connected reports whether a live NATS connection is behind the bus.
func (b *Bus) Connected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// publish wraps the payload in an Envelope and fires it at the subject.
func (b *Bus) publish(ctx context.Context, subject string, payload interface{}) {
	if b == nil || b.nc == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	if !b.nc.IsConnected() {
		b.logger.Debug().Str("subject", subject).Msg("Bus not connected, dropping event")
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event payload")
		return
	}

	env := Envelope{
		ID:        uuid.New(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event envelope")
		return
	}

	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}
	metrics.RecordBusPublish()
}

// PositionOpened publishes a position-opened event.
func (b *Bus) PositionOpened(ctx context.Context, ev PositionOpenedEvent) {
	b.publish(ctx, SubjectPositionOpened, ev)
}

// PositionClosed publishes a position-closed event.
func (b *Bus) PositionClosed(ctx context.Context, ev PositionClosedEvent) {
	b.publish(ctx, SubjectPositionClosed, ev)
}

// SettlementApplied publishes a settlement event.
func (b *Bus) SettlementApplied(ctx context.Context, ev SettlementEvent) {
	b.publish(ctx, SubjectSettlementApplied, ev)
}

// DecisionMade publishes a consensus decision event.
func (b *Bus) DecisionMade(ctx context.Context, ev DecisionEvent) {
	b.publish(ctx, SubjectDecisionMade, ev)
}

// SystemStatus publishes an orchestrator status change.
func (b *Bus) SystemStatus(ctx context.Context, status, detail string) {
	b.publish(ctx, SubjectSystemStatus, SystemStatusEvent{Status: status, Detail: detail})
}

// Handler receives decoded envelopes from a subscription.
type Handler func(env Envelope)

// Subscription is an active NATS subscription.
type Subscription struct {
	sub *nats.Subscription
}

// Unsubscribe stops delivery.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Subscribe delivers envelopes published on subject. Malformed messages are
// logged and dropped.
func (b *Bus) Subscribe(subject string, handler Handler) (*Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, fmt.Errorf("bus not connected")
	}

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.logger.Info().Str("subject", subject).Msg("Subscribed")
	return &Subscription{sub: sub}, nil
}

// SubscribeAll delivers every valor event.
func (b *Bus) SubscribeAll(handler Handler) (*Subscription, error) {
	return b.Subscribe(SubjectWildcard, handler)
}

// Close flushes and closes the underlying connection.
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	b.nc.Close()
	b.logger.Info().Msg("Event bus closed")
}
