package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/app"
	"github.com/LeonardBesson/lobby-client-lib/internal/config"
	"github.com/LeonardBesson/lobby-client-lib/internal/db"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/transport"
)

// Backend is the part of the runner the API drives.
type Backend interface {
	Snapshot() app.Status
	Submit(ctx context.Context, a app.Action) error
}

// HistoryReader serves stored history.
type HistoryReader interface {
	Recent(kind string, limit int) ([]db.Entry, error)
}

// Server is the REST and websocket API of the lobby client.
type Server struct {
	cfg      *config.Config
	backend  Backend
	history  HistoryReader
	eventBus *events.EventBus
	hub      *Hub
	version  string

	httpServer *http.Server
	router     *gin.Engine
	logger     zerolog.Logger
}

// NewServer creates the API server. history may be nil when history is
// disabled.
func NewServer(cfg *config.Config, backend Backend, history HistoryReader, eventBus *events.EventBus, version string) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		backend:  backend,
		history:  history,
		eventBus: eventBus,
		hub:      NewHub(cfg.GetAPI().AllowedOrigins),
		version:  version,
		logger:   log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lc := transport.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.eventBus.Subscribe(events.EventAny, hubSubscriber, s.hub.OnEvent)
	defer s.eventBus.Unsubscribe(events.EventAny, hubSubscriber)

	s.logger.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.Close()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	auth := NewAuthMiddleware(apiCfg.Token, apiCfg.IPWhitelist)
	protected := router.Group("/api")
	protected.Use(auth.IPWhitelist(), auth.RequireAuth())
	{
		protected.GET("/status", s.handleGetStatus)
		protected.GET("/connections", s.handleGetConnections)
		protected.GET("/session", s.handleGetSession)
		protected.GET("/history", s.handleGetHistory)
		protected.GET("/system", s.handleGetSystem)
		protected.GET("/events", s.handleEvents)

		protected.GET("/config", s.handleGetConfig)
		protected.PUT("/config/credentials", s.handleSetCredentials)
	}

	actions := protected.Group("/actions")
	{
		actions.POST("/login", s.handleLogin)
		actions.POST("/connect", s.handleSimpleAction(app.Connect))
		actions.POST("/disconnect", s.handleSimpleAction(app.Disconnect))
		actions.POST("/refresh", s.handleSimpleAction(app.Refresh))
		actions.POST("/friends/add", s.handleAddFriend)
		actions.POST("/friends/remove", s.handleRemoveFriend)
		actions.POST("/friends/requests/:id", s.handleFriendRequest)
		actions.POST("/messages", s.handlePrivateMessage)
		actions.POST("/invite", s.handleInviteUser)
		actions.POST("/lobby/invites/:id", s.handleLobbyInvite)
		actions.POST("/lobby/messages", s.handleLobbyMessage)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "lobby client API is running"})
	})

	return router
}
