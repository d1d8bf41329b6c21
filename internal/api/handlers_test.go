package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valortrade/valor/internal/agent"
	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/exchange"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stubController records transitions so tests can assert routing without a
// live orchestrator.
type stubController struct {
	state string
	err   error
	calls []string
}

func (s *stubController) Start() error               { return s.transition("start") }
func (s *stubController) Pause() error               { return s.transition("pause") }
func (s *stubController) Stop(context.Context) error { return s.transition("stop") }
func (s *stubController) State() string              { return s.state }

func (s *stubController) EmergencyStop(context.Context) error {
	return s.transition("emergency-stop")
}

func (s *stubController) transition(name string) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, name)
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubController) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ladder := cascade.NewLadder(config.CascadeConfig{ValorBase: 1000, Slots: 3})
	router := treasury.New(ladder, nil, nil)

	entries, err := agent.BuildRegistry([]config.AgentConfig{
		{ID: "momentum_1", Group: config.GroupPrimary, Weight: 1.2, Strategy: "MOMENTUM", Enabled: true},
		{ID: "trend_1", Group: config.GroupPrimary, Weight: 1.0, Strategy: "TREND", Enabled: true},
	})
	require.NoError(t, err)

	engine := consensus.New(config.ConsensusConfig{
		Threshold:       0.65,
		MinAgentsVoting: 2,
		MinConfidence:   0.70,
		AgentTimeout:    time.Second,
		HistorySize:     50,
	})
	require.NoError(t, engine.RegisterAll(entries))

	feeModel := fees.New(map[string]fees.Rates{
		"paper": fees.RatesFromFloat(0.001, 0.001),
	}, decimal.Zero)

	paper := exchange.NewPaper("paper")
	paper.SetPrice("BTCUSDT", d("50000"))
	venues := exchange.NewRegistry()
	venues.Add(paper)

	store := position.NewStore(nil, nil)
	executor := position.NewExecutor(store, router, feeModel, venues, config.TradingConfig{
		Mode:                   "paper",
		MaxRiskPerTradePct:     10,
		MaxExposurePct:         50,
		MaxConcurrentPositions: 3,
		MinPositionSize:        1,
		MaxLossPct:             0.03,
	})

	control := &stubController{state: "running"}
	server := NewServer(config.APIConfig{Host: "localhost", Port: 8080}, Deps{
		Router:    router,
		Positions: store,
		Executor:  executor,
		Engine:    engine,
		Control:   control,
	})
	return server, control
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var parsed map[string]any
	if json.Valid(w.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func openTestPosition(t *testing.T, s *Server, symbol string) position.Position {
	t.Helper()

	res, err := s.deps.Executor.Open(context.Background(), position.OpenRequest{
		Venue:      "paper",
		Symbol:     symbol,
		Side:       fees.SideLong,
		Confidence: 0.8,
	})
	require.NoError(t, err)
	require.Equal(t, position.OutcomeOpened, res.Outcome)
	return res.Position
}

func TestRootEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valor", parsed["service"])
	assert.Equal(t, "running", parsed["status"])
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", parsed["status"])
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", parsed["status"])
	assert.Contains(t, parsed, "uptime")

	trading := parsed["trading"].(map[string]any)
	assert.Equal(t, "running", trading["state"])
	assert.Equal(t, float64(0), trading["open_positions"])
	assert.Equal(t, "1000", trading["total_capital"])

	components := parsed["components"].(map[string]any)
	journal := components["journal"].(map[string]any)
	assert.Equal(t, "not_configured", journal["status"])
}

func TestCascadeEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/cascade", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000", parsed["total_capital"])
	assert.Equal(t, "0", parsed["treasury"])
	assert.Equal(t, float64(0), parsed["settlements"])
	assert.Equal(t, float64(1), parsed["operating_slots"])
	assert.Len(t, parsed["slots"], 3)
}

func TestSlotEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/slots", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), parsed["total"])

	slots := parsed["slots"].([]any)
	first := slots[0].(map[string]any)
	assert.Equal(t, "slot_1", first["id"])
	assert.Equal(t, "OPERATING", first["status"])

	w, parsed = doJSON(t, s, "GET", "/api/v1/slots/slot_2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "slot_2", parsed["id"])
	assert.Equal(t, "BOOTSTRAP", parsed["status"])

	w, _ = doJSON(t, s, "GET", "/api/v1/slots/slot_99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettlementsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"s_1", "s_2", "s_3"} {
		_, err := s.deps.Router.Settle(ctx, "slot_1", d("5"), id, "test fill")
		require.NoError(t, err)
	}

	w, parsed := doJSON(t, s, "GET", "/api/v1/settlements", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), parsed["total"])

	w, parsed = doJSON(t, s, "GET", "/api/v1/settlements?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), parsed["total"])

	recs := parsed["settlements"].([]any)
	newest := recs[0].(map[string]any)
	assert.Equal(t, "s_3", newest["settlement_id"])
}

func TestPositionsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	p := openTestPosition(t, s, "BTCUSDT")

	w, parsed := doJSON(t, s, "GET", "/api/v1/positions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "open", parsed["state"])
	assert.Equal(t, float64(1), parsed["total"])

	w, parsed = doJSON(t, s, "GET", "/api/v1/positions?state=closed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), parsed["total"])

	_, err := s.deps.Positions.Close(context.Background(), p.ID, d("50500"), position.CloseManual, d("1"), d("0.2"), d("0.8"))
	require.NoError(t, err)

	w, parsed = doJSON(t, s, "GET", "/api/v1/positions?state=closed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), parsed["total"])

	w, parsed = doJSON(t, s, "GET", "/api/v1/positions?state=all", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), parsed["total"])

	w, _ = doJSON(t, s, "GET", "/api/v1/positions?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPositionByID(t *testing.T) {
	s, _ := newTestServer(t)
	p := openTestPosition(t, s, "BTCUSDT")

	w, parsed := doJSON(t, s, "GET", "/api/v1/positions/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, p.ID, parsed["id"])
	assert.Equal(t, "OPEN", parsed["status"])

	w, _ = doJSON(t, s, "GET", "/api/v1/positions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClosePositionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	p := openTestPosition(t, s, "BTCUSDT")

	w, parsed := doJSON(t, s, "POST", "/api/v1/positions/"+p.ID+"/close", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CLOSED", parsed["status"])
	assert.Equal(t, "MANUAL", parsed["close_reason"])

	// Already closed; a second close is a 404.
	w, _ = doJSON(t, s, "POST", "/api/v1/positions/"+p.ID+"/close", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, s, "POST", "/api/v1/positions/ghost/close", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/agents", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), parsed["total"])

	agents := parsed["agents"].([]any)
	ids := make(map[string]map[string]any, len(agents))
	for _, raw := range agents {
		stat := raw.(map[string]any)
		ids[stat["id"].(string)] = stat
	}
	require.Contains(t, ids, "momentum_1")
	assert.Equal(t, 1.2, ids["momentum_1"]["weight"])
	assert.Equal(t, "MOMENTUM", ids["momentum_1"]["strategy"])
}

func TestAgentWeightEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "POST", "/api/v1/agents/momentum_1/weight", gin.H{"weight": 2.5})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.5, parsed["weight"])

	var found bool
	for _, stat := range s.deps.Engine.AgentStats() {
		if stat.ID == "momentum_1" {
			found = true
			assert.Equal(t, 2.5, stat.Weight)
		}
	}
	require.True(t, found)

	w, _ = doJSON(t, s, "POST", "/api/v1/agents/ghost/weight", gin.H{"weight": 2.5})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, s, "POST", "/api/v1/agents/momentum_1/weight", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, s, "POST", "/api/v1/agents/momentum_1/weight", gin.H{"weight": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentEnabledEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "POST", "/api/v1/agents/trend_1/enabled", gin.H{"enabled": false})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, parsed["enabled"])

	for _, stat := range s.deps.Engine.AgentStats() {
		if stat.ID == "trend_1" {
			assert.False(t, stat.Enabled)
		}
	}

	w, _ = doJSON(t, s, "POST", "/api/v1/agents/ghost/enabled", gin.H{"enabled": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, s, "POST", "/api/v1/agents/trend_1/enabled", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsensusHistoryEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "GET", "/api/v1/consensus/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), parsed["total"])
}

func TestControlEndpoints(t *testing.T) {
	s, control := newTestServer(t)

	for _, name := range []string{"start", "pause", "stop", "emergency-stop"} {
		w, parsed := doJSON(t, s, "POST", "/api/v1/control/"+name, nil)
		assert.Equal(t, http.StatusOK, w.Code, name)
		assert.Equal(t, "running", parsed["state"], name)
	}
	assert.Equal(t, []string{"start", "pause", "stop", "emergency-stop"}, control.calls)
}

func TestControlConflict(t *testing.T) {
	s, control := newTestServer(t)
	control.err = errors.New("already running")

	w, parsed := doJSON(t, s, "POST", "/api/v1/control/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already running", parsed["error"])
}

func TestControlDetached(t *testing.T) {
	s, _ := newTestServer(t)
	s.deps.Control = nil

	w, _ := doJSON(t, s, "POST", "/api/v1/control/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Status still answers, reporting the loop as detached.
	w, parsed := doJSON(t, s, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	trading := parsed["trading"].(map[string]any)
	assert.Equal(t, "detached", trading["state"])
}

func TestSweepEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, parsed := doJSON(t, s, "POST", "/api/v1/cascade/sweep", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), parsed["swept"])
}
