package http

// registerV1Routes sets up the v1 API structure
// Groups: /api/v1/aggregates, /api/v1/core, /api/v1/admin
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header
	v1.Use(authMiddleware(s.deps.Auth))

	// Aggregates - one summary per entity and window
	aggregates := v1.Group("/aggregates")
	{
		aggregates.GET("/sector", s.handleV1SectorAggregate)
		aggregates.GET("/states/:id", s.handleV1StateAggregate)
		aggregates.GET("/plants/:id", s.handleV1PlantAggregate)
		aggregates.GET("/equipment/:id", s.handleV1EquipmentAggregate)
	}

	// Core endpoints - hierarchy browse, filtered by access scope
	core := v1.Group("/core")
	{
		core.GET("/states", s.handleV1ListStates)
		core.GET("/states/:id/plants", s.handleV1ListPlants)
		core.GET("/plants/:id/equipment", s.handleV1ListEquipment)
	}

	// Admin endpoints - cache control and realtime counters
	admin := v1.Group("/admin", requireUnrestricted())
	{
		admin.POST("/cache/invalidate", s.handleV1InvalidateCache)
		admin.DELETE("/cache", s.handleV1ClearCache)
		admin.GET("/cache/stats", s.handleV1CacheStats)
		admin.GET("/realtime/stats", s.handleV1RealtimeStats)
	}
}
