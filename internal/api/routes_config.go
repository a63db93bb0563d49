package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LeonardBesson/lobby-client-lib/internal/app"
)

const redacted = "********"

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Login    bool   `json:"login"`
}

// handleGetConfig returns the current configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	lobby := s.cfg.GetLobby()
	if lobby.Password != "" {
		lobby.Password = redacted
	}
	apiCfg := s.cfg.GetAPI()
	if apiCfg.Token != "" {
		apiCfg.Token = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    s.cfg.Path(),
		"lobby":   lobby,
		"api":     apiCfg,
		"mqtt":    s.cfg.GetMQTT(),
		"history": s.cfg.GetHistory(),
		"logging": s.cfg.GetLogging(),
	})
}

// handleSetCredentials stores new login credentials and optionally logs in
// with them right away.
func (s *Server) handleSetCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetCredentials(req.Email, req.Password)
	if err := s.cfg.Save(); err != nil {
		s.logger.Error().Err(err).Msg("failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}
	s.logger.Info().Str("email", req.Email).Msg("credentials updated")

	if req.Login {
		s.submit(c, app.Login(req.Email, req.Password))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
