package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
)

// Breaker thresholds for venue calls: five requests minimum before
// tripping, 60% failure ratio, 30s open, three probes half-open.
const (
	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 30 * time.Second
	breakerHalfOpenMax  = 3
	breakerInterval     = 10 * time.Second
)

// newBreaker builds the circuit breaker guarding one venue. State changes
// land in the breaker gauge; a trip to open raises a venue-down alert.
func newBreaker(venue string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue,
		MaxRequests: breakerHalfOpenMax,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, breakerStateValue(to))
			log.Warn().
				Str("venue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Venue circuit breaker state changed")
			if to == gobreaker.StateOpen {
				notify.AlertVenueDown(context.Background(), name, errors.New("circuit breaker open"))
			}
		},
	})
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
