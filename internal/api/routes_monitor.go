package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LeonardBesson/lobby-client-lib/internal/db"
	"github.com/LeonardBesson/lobby-client-lib/internal/util"
)

const maxHistoryLimit = 500

// handleGetStatus returns the full runner snapshot.
func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Snapshot())
}

// handleGetConnections returns the state of every managed connection.
func (s *Server) handleGetConnections(c *gin.Context) {
	status := s.backend.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"server":      status.Server,
		"connections": status.Connections,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Snapshot().Session)
}

// handleGetHistory returns stored history, newest first.
// Query: kind (optional, one of the recorded event types), limit (1-500).
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	kind := c.Query("kind")
	if kind != "" && !knownKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown history kind", "kinds": db.Kinds()})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(kind, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	if entries == nil {
		entries = []db.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetSystem returns host information and current resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	usage, err := util.GetResourceUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"system":            util.GetSystemInfo(),
		"usage":             usage,
		"websocket_clients": s.hub.ClientCount(),
	})
}

func knownKind(kind string) bool {
	for _, k := range db.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
