package metrics

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Order rejection reasons (bounded set)
	RejectInsufficientCapital = "insufficient_capital"
	RejectMaxPositions        = "max_positions"
	RejectBelowMinSize        = "below_min_size"
	RejectSlotReserved        = "slot_reserved"
	RejectOther               = "other"

	// Exchange API error categories (bounded set)
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeRejectReason maps arbitrary rejection reasons to bounded set
func NormalizeRejectReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "capital") || strings.Contains(lower, "balance") || strings.Contains(lower, "funds"):
		return RejectInsufficientCapital
	case strings.Contains(lower, "concurrent") || strings.Contains(lower, "max position"):
		return RejectMaxPositions
	case strings.Contains(lower, "minimum") || strings.Contains(lower, "min size") || strings.Contains(lower, "too small"):
		return RejectBelowMinSize
	case strings.Contains(lower, "reserv") || strings.Contains(lower, "slot"):
		return RejectSlotReserved
	default:
		return RejectOther
	}
}

// NormalizeExchangeError maps arbitrary error messages to bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Consensus Metrics
var (
	// Decisions by outcome (BUY, SELL, HOLD, NO_CONSENSUS)
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_decisions_total",
		Help: "Total consensus decisions by outcome",
	}, []string{"outcome"})

	// Weighted score distribution per signal
	ConsensusScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valor_consensus_score",
		Help:    "Weighted consensus score per signal (0.0 to 1.0)",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.8, 0.9, 1.0},
	}, []string{"signal"})

	// Agent analysis failures
	AgentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_agent_failures_total",
		Help: "Total agent analysis failures by agent id",
	}, []string{"agent_id"})
)

// Trading Metrics
var (
	// Open positions
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valor_open_positions",
		Help: "Number of currently open positions",
	})

	// Closed trades by result
	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_trades_total",
		Help: "Total closed trades by result (win or loss)",
	}, []string{"result"})

	// Total net P&L
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valor_total_pnl",
		Help: "Total net profit and loss in quote currency",
	})

	// Win rate (0.0 to 1.0)
	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valor_win_rate",
		Help: "Win rate as a ratio (0.0 to 1.0)",
	})

	// Rejected order intents
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_orders_rejected_total",
		Help: "Total rejected order intents by reason",
	}, []string{"reason"})
)

// Cascade and Treasury Metrics
var (
	// Capital per cascade slot
	SlotCapital = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valor_cascade_slot_capital",
		Help: "Current capital per cascade slot in quote currency",
	}, []string{"slot"})

	// Treasury balance
	TreasuryBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valor_treasury_balance",
		Help: "Treasury balance in quote currency",
	})

	// Settlements by status
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_settlements_total",
		Help: "Total settlements by status",
	}, []string{"status"})
)

// Exchange Metrics
var (
	// Exchange call latency
	ExchangeCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valor_exchange_call_duration_ms",
		Help:    "Exchange API call duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"venue", "endpoint"})

	// Exchange call errors
	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_exchange_errors_total",
		Help: "Total exchange API errors by category",
	}, []string{"venue", "category"})

	// Circuit breaker state (0 = closed, 1 = half-open, 2 = open)
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "valor_exchange_breaker_state",
		Help: "Circuit breaker state per venue (0 = closed, 1 = half-open, 2 = open)",
	}, []string{"venue"})
)

// System Health Metrics
var (
	// Orchestrator cycle latency
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "valor_cycle_duration_ms",
		Help:    "Orchestrator trading cycle duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valor_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path", "status_code"})

	// HTTP requests
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	// Errors by type and component
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	// Price cache operations
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_cache_operations_total",
		Help: "Total number of price cache operations by type",
	}, []string{"operation"})

	// Price cache hit rate
	CacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valor_cache_hit_rate",
		Help: "Price cache hit rate as a ratio (0.0 to 1.0)",
	})

	// Bus messages published
	BusMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "valor_bus_messages_published_total",
		Help: "Total number of event bus messages published",
	})

	// Notification delivery failures
	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valor_notify_failures_total",
		Help: "Total notification delivery failures by channel",
	}, []string{"channel"})
)

var (
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
)

// Helper functions to update metrics

// RecordDecision records a consensus decision outcome
func RecordDecision(outcome string) {
	Decisions.WithLabelValues(outcome).Inc()
}

// ObserveConsensusScore records a weighted score for one signal
func ObserveConsensusScore(signal string, score float64) {
	ConsensusScore.WithLabelValues(signal).Observe(score)
}

// RecordAgentFailure records a failed agent analysis
func RecordAgentFailure(agentID string) {
	AgentFailures.WithLabelValues(agentID).Inc()
}

// SetOpenPositions updates the open position count
func SetOpenPositions(count int) {
	OpenPositions.Set(float64(count))
}

// RecordTrade records a closed trade
func RecordTrade(win bool) {
	result := "loss"
	if win {
		result = "win"
	}
	Trades.WithLabelValues(result).Inc()
}

// SetTotalPnL updates the cumulative net P&L gauge
func SetTotalPnL(pnl float64) {
	TotalPnL.Set(pnl)
}

// SetWinRate updates the win rate gauge
func SetWinRate(rate float64) {
	WinRate.Set(rate)
}

// RecordOrderRejected records a rejected order intent with normalized reason
func RecordOrderRejected(reason string) {
	OrdersRejected.WithLabelValues(NormalizeRejectReason(reason)).Inc()
}

// SetSlotCapital updates the capital gauge for a cascade slot
func SetSlotCapital(slotID string, capital float64) {
	SlotCapital.WithLabelValues(slotID).Set(capital)
}

// SetTreasuryBalance updates the treasury balance gauge
func SetTreasuryBalance(balance float64) {
	TreasuryBalance.Set(balance)
}

// RecordSettlement records a settlement by status
func RecordSettlement(status string) {
	Settlements.WithLabelValues(status).Inc()
}

// RecordExchangeCall records an exchange API call with normalized error category
func RecordExchangeCall(venue, endpoint string, durationMs float64, err error) {
	ExchangeCallDuration.WithLabelValues(venue, endpoint).Observe(durationMs)
	if err != nil {
		ExchangeErrors.WithLabelValues(venue, NormalizeExchangeError(err)).Inc()
	}
}

// SetBreakerState updates the circuit breaker state gauge for a venue
func SetBreakerState(venue string, state float64) {
	BreakerState.WithLabelValues(venue).Set(state)
}

// ObserveCycleDuration records an orchestrator cycle duration
func ObserveCycleDuration(durationMs float64) {
	CycleDuration.Observe(durationMs)
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordCacheLookup records a price cache read and updates the hit rate
func RecordCacheLookup(hit bool) {
	CacheOperations.WithLabelValues("get").Inc()
	if hit {
		cacheHits.Add(1)
	} else {
		cacheMisses.Add(1)
	}
	total := cacheHits.Load() + cacheMisses.Load()
	if total > 0 {
		CacheHitRate.Set(float64(cacheHits.Load()) / float64(total))
	}
}

// RecordCacheWrite records a price cache write
func RecordCacheWrite() {
	CacheOperations.WithLabelValues("set").Inc()
}

// RecordBusPublish records an event bus publish
func RecordBusPublish() {
	BusMessagesPublished.Inc()
}

// RecordNotifyFailure records a notification delivery failure
func RecordNotifyFailure(channel string) {
	NotifyFailures.WithLabelValues(channel).Inc()
}
