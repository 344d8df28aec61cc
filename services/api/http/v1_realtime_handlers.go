package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1RealtimeStats returns live connection and topic counts
// GET /api/v1/admin/realtime/stats
func (s *Server) handleV1RealtimeStats(c *gin.Context) {
	stats := s.deps.Realtime.Stats()

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
		"meta": gin.H{
			"topics_count": len(stats.Topics),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
