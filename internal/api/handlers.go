package api

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/position"
)

const version = "1.0.0"

var startTime = time.Now()

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "valor",
		"version": version,
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleStatus returns the full system snapshot: trading state, capital,
// component health and process stats.
func (s *Server) handleStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	journalStatus := "not_configured"
	if s.deps.Journal != nil {
		journalStatus = "healthy"
		if err := s.deps.Journal.Health(c.Request.Context()); err != nil {
			journalStatus = "unhealthy"
			s.logger.Warn().Err(err).Msg("Journal health check failed")
		}
	}

	busStatus := "not_configured"
	if s.deps.Bus != nil {
		busStatus = "connected"
	}

	tradingState := "detached"
	if s.deps.Control != nil {
		tradingState = s.deps.Control.State()
	}

	systemStatus := "healthy"
	if journalStatus == "unhealthy" {
		systemStatus = "degraded"
	}

	cascade := s.deps.Router.CascadeStatus()

	c.JSON(http.StatusOK, gin.H{
		"status":    systemStatus,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).Seconds(),
		"version":   version,
		"trading": gin.H{
			"state":          tradingState,
			"open_positions": s.deps.Positions.OpenCount(),
			"total_capital":  cascade.TotalCapital,
			"treasury":       cascade.Treasury,
			"settlements":    cascade.Settlements,
		},
		"components": gin.H{
			"journal": gin.H{"status": journalStatus},
			"bus":     gin.H{"status": busStatus},
			"stream":  gin.H{"clients": s.hub.ClientCount()},
		},
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb":       toMB(memStats.Alloc),
				"total_alloc_mb": toMB(memStats.TotalAlloc),
				"sys_mb":         toMB(memStats.Sys),
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		},
	})
}

// handleHealth is the load-balancer probe: cheap, no process stats.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "journal unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleCascade(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.CascadeStatus())
}

func (s *Server) handleSlots(c *gin.Context) {
	slots := s.deps.Router.SlotStates()
	c.JSON(http.StatusOK, gin.H{
		"slots": slots,
		"total": len(slots),
	})
}

func (s *Server) handleSlot(c *gin.Context) {
	id := c.Param("id")
	slot, ok := s.deps.Router.SlotState(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "slot " + id + " not found",
		})
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (s *Server) handleSettlements(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	recs := s.deps.Router.SettlementHistory(limit)
	c.JSON(http.StatusOK, gin.H{
		"settlements": recs,
		"total":       len(recs),
	})
}

// handlePositions lists positions by state: open (default), closed, or all.
func (s *Server) handlePositions(c *gin.Context) {
	state := c.DefaultQuery("state", "open")
	limit := queryInt(c, "limit", 100)

	var positions []position.Position
	switch state {
	case "open":
		positions = s.deps.Positions.Open()
	case "closed":
		positions = s.deps.Positions.Closed(limit)
	case "all":
		positions = append(s.deps.Positions.Open(), s.deps.Positions.Closed(limit)...)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "state must be open, closed or all",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"state":     state,
		"total":     len(positions),
	})
}

func (s *Server) handlePosition(c *gin.Context) {
	id := c.Param("id")
	p, ok := s.deps.Positions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "position " + id + " not found",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleClosePosition force-closes one open position at market.
func (s *Server) handleClosePosition(c *gin.Context) {
	if s.deps.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "executor not attached",
		})
		return
	}

	id := c.Param("id")
	closed, err := s.deps.Executor.CloseManual(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, position.ErrPositionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "position " + id + " not found",
			})
			return
		}
		s.logger.Error().Err(err).Str("position_id", id).Msg("Manual close failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, closed)
}

func (s *Server) handleAgents(c *gin.Context) {
	stats := s.deps.Engine.AgentStats()
	c.JSON(http.StatusOK, gin.H{
		"agents": stats,
		"total":  len(stats),
	})
}

// handleAgentWeight updates one agent's voting weight. The next consensus
// round sees the new value.
func (s *Server) handleAgentWeight(c *gin.Context) {
	var req struct {
		Weight *float64 `json:"weight" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "body must carry a numeric weight",
		})
		return
	}

	id := c.Param("id")
	if err := s.deps.Engine.UpdateWeight(id, *req.Weight); err != nil {
		if errors.Is(err, consensus.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "agent " + id + " not found",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id": id,
		"weight":   *req.Weight,
	})
}

func (s *Server) handleAgentEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "body must carry an enabled flag",
		})
		return
	}

	id := c.Param("id")
	if err := s.deps.Engine.SetEnabled(id, *req.Enabled); err != nil {
		if errors.Is(err, consensus.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "agent " + id + " not found",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id": id,
		"enabled":  *req.Enabled,
	})
}

func (s *Server) handleConsensusHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	history := s.deps.Engine.History(limit)
	c.JSON(http.StatusOK, gin.H{
		"decisions": history,
		"total":     len(history),
	})
}

// handleSweep pulls off-books excess from every slot through the normal
// settlement path.
func (s *Server) handleSweep(c *gin.Context) {
	recs, err := s.deps.Router.ForceSweep(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Force sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"swept":       len(recs),
		"settlements": recs,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	s.control(c, func() error { return s.deps.Control.Start() })
}

func (s *Server) handlePause(c *gin.Context) {
	s.control(c, func() error { return s.deps.Control.Pause() })
}

func (s *Server) handleStop(c *gin.Context) {
	s.control(c, func() error { return s.deps.Control.Stop(c.Request.Context()) })
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	s.control(c, func() error { return s.deps.Control.EmergencyStop(c.Request.Context()) })
}

// control runs one orchestrator transition. State conflicts (already
// running, not running) come back as 409, not 500.
func (s *Server) control(c *gin.Context, fn func() error) {
	if s.deps.Control == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "orchestrator not attached",
		})
		return
	}

	if err := fn(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"state": s.deps.Control.State(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state": s.deps.Control.State(),
		"time":  time.Now().UTC(),
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func toMB(bytes uint64) uint64 {
	return bytes / 1024 / 1024
}
