package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/events"
)

const hubSubscriber = "api.websocket"

// Hub streams bus events to websocket clients as JSON text frames.
type Hub struct {
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// NewHub creates a hub accepting the given browser origins. Requests
// without an Origin header are always accepted.
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin || a == u.Host {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and keeps the client registered
// until it disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debug().Err(err).Str("component", "api").Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// OnEvent is the bus handler broadcasting every event.
func (h *Hub) OnEvent(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	s.hub.HandleWebSocket(c.Writer, c.Request)
}
