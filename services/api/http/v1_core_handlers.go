package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

// handleV1ListStates returns the states visible to the caller
// GET /api/v1/core/states
func (s *Server) handleV1ListStates(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	states, err := s.deps.Hierarchy.ChildrenOf(ctx, models.LevelSector, models.AllEntities)
	if err != nil {
		writeError(c, apperr.FromContext("list states", err))
		return
	}

	scope := identity(c).Scope
	visible := filterNodes(states, func(n models.Node) bool {
		return scope.IsUnrestricted() || scope.HasState(n.ID)
	})
	c.JSON(http.StatusOK, gin.H{
		"data": visible,
		"meta": gin.H{
			"count": len(visible),
		},
	})
}

// handleV1ListPlants returns the visible plants of one state
// GET /api/v1/core/states/:id/plants
func (s *Server) handleV1ListPlants(c *gin.Context) {
	stateID := c.Param("id")

	ctx, cancel := s.requestContext(c)
	defer cancel()

	ok, err := s.deps.Hierarchy.Exists(ctx, models.LevelState, stateID)
	if err != nil {
		writeError(c, apperr.FromContext("list plants", err))
		return
	}
	if !ok {
		writeError(c, apperr.NotFound("list plants", "state %q does not exist", stateID))
		return
	}

	plants, err := s.deps.Hierarchy.ChildrenOf(ctx, models.LevelState, stateID)
	if err != nil {
		writeError(c, apperr.FromContext("list plants", err))
		return
	}

	scope := identity(c).Scope
	visible := filterNodes(plants, func(n models.Node) bool {
		return scope.IsUnrestricted() || scope.HasPlant(n.ID)
	})
	c.JSON(http.StatusOK, gin.H{
		"data": visible,
		"meta": gin.H{
			"state": stateID,
			"count": len(visible),
		},
	})
}

// handleV1ListEquipment returns the equipment of a plant in scope
// GET /api/v1/core/plants/:id/equipment
func (s *Server) handleV1ListEquipment(c *gin.Context) {
	plantID := c.Param("id")

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Realtime.Authorize(ctx, identity(c), models.LevelPlant, plantID); err != nil {
		writeError(c, apperr.FromContext("list equipment", err))
		return
	}
	ok, err := s.deps.Hierarchy.Exists(ctx, models.LevelPlant, plantID)
	if err != nil {
		writeError(c, apperr.FromContext("list equipment", err))
		return
	}
	if !ok {
		writeError(c, apperr.NotFound("list equipment", "plant %q does not exist", plantID))
		return
	}

	equipment, err := s.deps.Hierarchy.ChildrenOf(ctx, models.LevelPlant, plantID)
	if err != nil {
		writeError(c, apperr.FromContext("list equipment", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": equipment,
		"meta": gin.H{
			"plant": plantID,
			"count": len(equipment),
		},
	})
}

func filterNodes(nodes []models.Node, keep func(models.Node) bool) []models.Node {
	out := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}
