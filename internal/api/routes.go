package api

// setupRoutes mounts the v1 surface: read-only snapshots, control
// endpoints and the event stream.
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/health", s.handleHealth)

		v1.GET("/cascade", s.handleCascade)
		v1.POST("/cascade/sweep", s.handleSweep)

		slots := v1.Group("/slots")
		{
			slots.GET("", s.handleSlots)
			slots.GET("/:id", s.handleSlot)
		}

		v1.GET("/settlements", s.handleSettlements)

		positions := v1.Group("/positions")
		{
			positions.GET("", s.handlePositions)
			positions.GET("/:id", s.handlePosition)
			positions.POST("/:id/close", s.handleClosePosition)
		}

		agents := v1.Group("/agents")
		{
			agents.GET("", s.handleAgents)
			agents.POST("/:id/weight", s.handleAgentWeight)
			agents.POST("/:id/enabled", s.handleAgentEnabled)
		}

		v1.GET("/consensus/history", s.handleConsensusHistory)

		control := v1.Group("/control")
		{
			control.POST("/start", s.handleStart)
			control.POST("/pause", s.handlePause)
			control.POST("/stop", s.handleStop)
			control.POST("/emergency-stop", s.handleEmergencyStop)
		}

		v1.GET("/stream", s.handleStream)
	}

	s.router.GET("/", s.handleRoot)
}
