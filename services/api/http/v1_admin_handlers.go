package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

type invalidateRequest struct {
	Level    string `json:"level"`
	EntityID string `json:"entityId"`
	Window   string `json:"window"`
}

// handleV1InvalidateCache drops cached results matching a selector. Empty
// fields or "ALL" match everything.
// POST /api/v1/admin/cache/invalidate
func (s *Server) handleV1InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid("invalidate", "malformed body: %v", err))
		return
	}
	sel, err := selectorFrom(req)
	if err != nil {
		writeError(c, err)
		return
	}
	s.invalidate(c, sel)
}

// handleV1ClearCache drops every cached result
// DELETE /api/v1/admin/cache
func (s *Server) handleV1ClearCache(c *gin.Context) {
	s.invalidate(c, aggregation.Selector{})
}

func (s *Server) invalidate(c *gin.Context, sel aggregation.Selector) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	removed, err := s.deps.Engine.Invalidate(ctx, sel)
	if err != nil {
		writeError(c, apperr.FromContext("invalidate", err))
		return
	}
	s.logger.Info("cache invalidated by admin", "identity", identity(c).ID, "removed", removed)

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"removed": removed,
		},
		"meta": gin.H{
			"level":  sel.Level,
			"entity": sel.EntityID,
			"window": sel.Window,
		},
	})
}

// handleV1CacheStats reports cached keys grouped by level and window
// GET /api/v1/admin/cache/stats
func (s *Server) handleV1CacheStats(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	stats, err := s.deps.Engine.CacheStats(ctx)
	if err != nil {
		writeError(c, apperr.FromContext("cache stats", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// selectorFrom validates the non-wildcard parts of req.
func selectorFrom(req invalidateRequest) (aggregation.Selector, error) {
	sel := aggregation.Selector{
		Level:    strings.TrimSpace(req.Level),
		EntityID: strings.TrimSpace(req.EntityID),
		Window:   strings.TrimSpace(req.Window),
	}
	if !isWildcard(sel.Level) {
		level, err := models.ParseLevel(sel.Level)
		if err != nil {
			return aggregation.Selector{}, apperr.Invalid("invalidate", "%v", err)
		}
		sel.Level = string(level)
	}
	if !isWildcard(sel.Window) {
		w, err := aggregation.ParseWindow(sel.Window)
		if err != nil {
			return aggregation.Selector{}, err
		}
		sel.Window = string(w)
	}
	return sel, nil
}

func isWildcard(s string) bool {
	return s == "" || strings.EqualFold(s, models.AllEntities)
}
