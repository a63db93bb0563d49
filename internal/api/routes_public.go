package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lobbyclient",
	})
}

// handleGetVersion returns the client version.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    s.version,
		"name":       "lobbyclient",
		"go_version": runtime.Version(),
	})
}
