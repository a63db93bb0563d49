package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LeonardBesson/lobby-client-lib/internal/app"
	"github.com/LeonardBesson/lobby-client-lib/internal/client"
	"github.com/LeonardBesson/lobby-client-lib/internal/network"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

const actionTimeout = 5 * time.Second

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userTagRequest struct {
	UserTag string `json:"user_tag" binding:"required"`
}

type choiceRequest struct {
	Choice string `json:"choice" binding:"required"`
}

type messageRequest struct {
	UserTag string `json:"user_tag" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type lobbyMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// submit forwards an action to the runner and writes the outcome.
func (s *Server) submit(c *gin.Context, a app.Action) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()

	if err := s.backend.Submit(ctx, a); err != nil {
		status := actionStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("action", string(a.Kind)).Msg("action failed")
		}
		c.JSON(status, gin.H{"error": err.Error(), "action": a.Kind})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "action": a.Kind})
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, client.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, app.ErrNoCredentials):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrNoConnection), errors.Is(err, app.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleLogin authenticates. An empty body uses the configured credentials.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.submit(c, app.Login(req.Email, req.Password))
}

func (s *Server) handleSimpleAction(build func() app.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.submit(c, build())
	}
}

func (s *Server) handleAddFriend(c *gin.Context) {
	var req userTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, app.AddFriend(req.UserTag))
}

func (s *Server) handleRemoveFriend(c *gin.Context) {
	var req userTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, app.RemoveFriend(req.UserTag))
}

// handleFriendRequest accepts or declines the friend request in the path.
func (s *Server) handleFriendRequest(c *gin.Context) {
	choice, ok := bindChoice(c)
	if !ok {
		return
	}
	s.submit(c, app.AnswerFriendRequest(c.Param("id"), choice))
}

func (s *Server) handlePrivateMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, app.PrivateMessage(req.UserTag, req.Content))
}

func (s *Server) handleInviteUser(c *gin.Context) {
	var req userTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, app.InviteUser(req.UserTag))
}

// handleLobbyInvite accepts or declines the lobby invite in the path.
func (s *Server) handleLobbyInvite(c *gin.Context) {
	choice, ok := bindChoice(c)
	if !ok {
		return
	}
	s.submit(c, app.AnswerLobbyInvite(c.Param("id"), choice))
}

func (s *Server) handleLobbyMessage(c *gin.Context) {
	var req lobbyMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, app.LobbyMessage(req.Content))
}

func bindChoice(c *gin.Context) (protocol.ActionChoice, bool) {
	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	choice, err := protocol.ParseActionChoice(req.Choice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return choice, true
}
