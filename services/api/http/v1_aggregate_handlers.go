package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

// handleV1SectorAggregate returns the sector summary
// GET /api/v1/aggregates/sector?window=1h
func (s *Server) handleV1SectorAggregate(c *gin.Context) {
	s.serveAggregate(c, models.LevelSector, models.AllEntities)
}

// handleV1StateAggregate returns one state's summary
// GET /api/v1/aggregates/states/:id?window=1h
func (s *Server) handleV1StateAggregate(c *gin.Context) {
	s.serveAggregate(c, models.LevelState, c.Param("id"))
}

// handleV1PlantAggregate returns one plant's summary
// GET /api/v1/aggregates/plants/:id?window=1h
func (s *Server) handleV1PlantAggregate(c *gin.Context) {
	s.serveAggregate(c, models.LevelPlant, c.Param("id"))
}

// handleV1EquipmentAggregate returns one unit's summary
// GET /api/v1/aggregates/equipment/:id?window=1h
func (s *Server) handleV1EquipmentAggregate(c *gin.Context) {
	s.serveAggregate(c, models.LevelEquipment, c.Param("id"))
}

func (s *Server) serveAggregate(c *gin.Context, level models.Level, entityID string) {
	if entityID == "" {
		writeError(c, apperr.Invalid("aggregate", "entity id is required"))
		return
	}
	window := s.defaultWindow
	if raw := c.Query("window"); raw != "" {
		w, err := aggregation.ParseWindow(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		window = w
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Realtime.Authorize(ctx, identity(c), level, entityID); err != nil {
		writeError(c, apperr.FromContext("authorize", err))
		return
	}
	res, err := s.deps.Engine.Aggregate(ctx, level, entityID, window)
	if err != nil {
		writeError(c, apperr.FromContext("aggregate", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": res,
		"meta": gin.H{
			"window":        res.Window,
			"cacheDegraded": s.deps.Engine.Degraded(),
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}
