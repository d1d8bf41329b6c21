// Package consensus turns a committee of strategy agents into a single
// tradable decision. The engine owns the agent weights and the bounded
// decision history; each round is single-threaded, rounds for different
// symbols may run concurrently.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/agent"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/metrics"
)

// Outcome of a consensus round.
type Outcome string

const (
	OutcomeBuy         Outcome = "BUY"
	OutcomeSell        Outcome = "SELL"
	OutcomeHold        Outcome = "HOLD"
	OutcomeNoConsensus Outcome = "NO_CONSENSUS"
)

// Refusal reasons carried on NO_CONSENSUS results.
const (
	ReasonNoAgents          = "no agents"
	ReasonInsufficientVotes = "insufficient votes"
)

// ErrAgentNotFound is returned by weight and enablement updates for unknown ids.
var ErrAgentNotFound = errors.New("agent not found")

// Result is the outcome of one voting round.
type Result struct {
	Symbol     string                   `json:"symbol"`
	Outcome    Outcome                  `json:"outcome"`
	Confidence float64                  `json:"confidence"`
	Scores     map[agent.Signal]float64 `json:"scores"`
	Votes      []agent.Vote             `json:"votes"`
	Supporters []string                 `json:"supporters,omitempty"`
	Reason     string                   `json:"reason"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Actionable reports whether the round produced a tradable direction.
func (r *Result) Actionable() bool {
	return r.Outcome == OutcomeBuy || r.Outcome == OutcomeSell
}

// AgentStat is a read-only view of one registered agent.
type AgentStat struct {
	ID         string       `json:"id"`
	Group      string       `json:"group"`
	Strategy   string       `json:"strategy"`
	Weight     float64      `json:"weight"`
	Enabled    bool         `json:"enabled"`
	Votes      int          `json:"votes"`
	Failures   int          `json:"failures"`
	LastSignal agent.Signal `json:"last_signal,omitempty"`
	LastVoteAt time.Time    `json:"last_vote_at,omitempty"`
}

type registration struct {
	agent      agent.Agent
	group      string
	enabled    bool
	votes      int
	failures   int
	lastSignal agent.Signal
	lastVoteAt time.Time
}

// Engine runs weighted voting rounds over the registered agents.
type Engine struct {
	mu    sync.RWMutex
	reg   map[string]*registration
	order []string

	// Weights are read-copy-update: rounds load the current map without
	// taking the engine lock, UpdateWeight swaps in a fresh copy.
	weights atomic.Pointer[map[string]float64]

	threshold    float64
	minVoting    int
	agentTimeout time.Duration
	history      *historyRing
	logger       zerolog.Logger
}

// New creates an engine from configuration.
func New(cfg config.ConsensusConfig) *Engine {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.65
	}
	minVoting := cfg.MinAgentsVoting
	if minVoting < 1 {
		minVoting = 2
	}
	timeout := cfg.AgentTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	e := &Engine{
		reg:          make(map[string]*registration),
		threshold:    threshold,
		minVoting:    minVoting,
		agentTimeout: timeout,
		history:      newHistoryRing(cfg.HistorySize),
		logger:       config.NewLogger("consensus"),
	}
	empty := map[string]float64{}
	e.weights.Store(&empty)
	return e
}

// Register adds one agent to the committee.
func (e *Engine) Register(entry agent.Entry) error {
	if entry.Agent == nil {
		return fmt.Errorf("nil agent")
	}
	id := entry.Agent.ID()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.reg[id]; exists {
		return fmt.Errorf("agent %s already registered", id)
	}
	e.reg[id] = &registration{
		agent:   entry.Agent,
		group:   entry.Group,
		enabled: entry.Enabled,
	}
	e.order = append(e.order, id)
	e.storeWeightLocked(id, entry.Weight)

	e.logger.Info().
		Str("agent_id", id).
		Str("strategy", string(entry.Agent.Strategy())).
		Str("group", entry.Group).
		Float64("weight", entry.Weight).
		Bool("enabled", entry.Enabled).
		Msg("Agent registered")
	return nil
}

// RegisterAll adds a whole registry in order.
func (e *Engine) RegisterAll(entries []agent.Entry) error {
	for _, entry := range entries {
		if err := e.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWeight changes an agent's voting weight; the next round sees it.
func (e *Engine) UpdateWeight(agentID string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("weight must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.reg[agentID]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	e.storeWeightLocked(agentID, weight)

	e.logger.Info().
		Str("agent_id", agentID).
		Float64("weight", weight).
		Msg("Agent weight updated")
	return nil
}

// SetEnabled includes or excludes an agent from future rounds.
func (e *Engine) SetEnabled(agentID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, exists := e.reg[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	r.enabled = enabled
	return nil
}

// storeWeightLocked swaps in a fresh weights map. Caller holds e.mu.
func (e *Engine) storeWeightLocked(agentID string, weight float64) {
	old := *e.weights.Load()
	next := make(map[string]float64, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[agentID] = weight
	e.weights.Store(&next)
}

// Decide runs one voting round over the snapshot.
func (e *Engine) Decide(ctx context.Context, snapshot *market.Snapshot) *Result {
	started := time.Now()

	type voter struct {
		id     string
		agent  agent.Agent
		weight float64
	}

	weights := *e.weights.Load()
	e.mu.RLock()
	voters := make([]voter, 0, len(e.order))
	for _, id := range e.order {
		r := e.reg[id]
		if r.enabled {
			voters = append(voters, voter{id: id, agent: r.agent, weight: weights[id]})
		}
	}
	e.mu.RUnlock()

	result := &Result{
		Symbol:    snapshot.Symbol,
		Scores:    map[agent.Signal]float64{agent.SignalBuy: 0, agent.SignalSell: 0, agent.SignalHold: 0},
		Timestamp: started,
	}

	if len(voters) == 0 {
		result.Outcome = OutcomeNoConsensus
		result.Reason = ReasonNoAgents
		e.record(result)
		return result
	}

	// Ask every agent in order; a failed agent is skipped, never fatal.
	weightedConf := map[agent.Signal]float64{}
	totalWeight := 0.0
	for _, v := range voters {
		voteCtx, cancel := context.WithTimeout(ctx, e.agentTimeout)
		vote, err := v.agent.Analyze(voteCtx, snapshot)
		cancel()
		if err != nil {
			e.noteFailure(v.id)
			metrics.RecordAgentFailure(v.id)
			e.logger.Warn().
				Err(err).
				Str("agent_id", v.id).
				Str("symbol", snapshot.Symbol).
				Msg("Agent failed, skipping vote")
			continue
		}

		conf := vote.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}

		e.noteVote(v.id, vote.Signal)
		result.Votes = append(result.Votes, *vote)
		weightedConf[vote.Signal] += conf * v.weight
		totalWeight += v.weight
	}

	if len(result.Votes) < e.minVoting {
		result.Outcome = OutcomeNoConsensus
		result.Reason = ReasonInsufficientVotes
		e.record(result)
		return result
	}

	// Scores normalize against the weight of every voter, not only the
	// winner's supporters; a split committee cannot clear the threshold.
	if totalWeight > 0 {
		for signal, wc := range weightedConf {
			result.Scores[signal] = wc / totalWeight
		}
	}

	winner := agent.SignalBuy
	for _, s := range []agent.Signal{agent.SignalSell, agent.SignalHold} {
		if result.Scores[s] > result.Scores[winner] {
			winner = s
		}
	}

	if result.Scores[winner] < e.threshold {
		result.Outcome = OutcomeNoConsensus
		result.Reason = fmt.Sprintf("top score %.3f below threshold %.2f", result.Scores[winner], e.threshold)
		e.record(result)
		return result
	}

	result.Outcome = Outcome(winner)
	result.Confidence = result.Scores[winner]
	result.Supporters, result.Reason = supporterSummary(result.Votes, winner)
	e.record(result)

	e.logger.Info().
		Str("symbol", snapshot.Symbol).
		Str("outcome", string(result.Outcome)).
		Float64("confidence", result.Confidence).
		Int("votes", len(result.Votes)).
		Dur("round_time", time.Since(started)).
		Msg("Consensus reached")

	return result
}

// History returns up to limit recent results, newest first.
func (e *Engine) History(limit int) []*Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.snapshot(limit)
}

// AgentStats returns a point-in-time view of the committee.
func (e *Engine) AgentStats() []AgentStat {
	weights := *e.weights.Load()

	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := make([]AgentStat, 0, len(e.order))
	for _, id := range e.order {
		r := e.reg[id]
		stats = append(stats, AgentStat{
			ID:         id,
			Group:      r.group,
			Strategy:   string(r.agent.Strategy()),
			Weight:     weights[id],
			Enabled:    r.enabled,
			Votes:      r.votes,
			Failures:   r.failures,
			LastSignal: r.lastSignal,
			LastVoteAt: r.lastVoteAt,
		})
	}
	return stats
}

func (e *Engine) record(result *Result) {
	metrics.RecordDecision(string(result.Outcome))
	for sig, score := range result.Scores {
		metrics.ObserveConsensusScore(string(sig), score)
	}

	e.mu.Lock()
	e.history.push(result)
	e.mu.Unlock()

	if result.Outcome == OutcomeNoConsensus {
		e.logger.Debug().
			Str("symbol", result.Symbol).
			Str("reason", result.Reason).
			Msg("No consensus")
	}
}

func (e *Engine) noteFailure(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.reg[agentID]; ok {
		r.failures++
	}
}

func (e *Engine) noteVote(agentID string, signal agent.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.reg[agentID]; ok {
		r.votes++
		r.lastSignal = signal
		r.lastVoteAt = time.Now()
	}
}

// supporterSummary lists winner-side agent ids and joins the top three
// reasons by confidence.
func supporterSummary(votes []agent.Vote, winner agent.Signal) ([]string, string) {
	var supporters []agent.Vote
	for _, v := range votes {
		if v.Signal == winner {
			supporters = append(supporters, v)
		}
	}
	sort.SliceStable(supporters, func(i, j int) bool {
		return supporters[i].Confidence > supporters[j].Confidence
	})

	ids := make([]string, 0, len(supporters))
	reasons := make([]string, 0, 3)
	for i, v := range supporters {
		ids = append(ids, v.AgentID)
		if i < 3 && v.Reason != "" {
			reasons = append(reasons, v.Reason)
		}
	}
	return ids, strings.Join(reasons, "; ")
}
