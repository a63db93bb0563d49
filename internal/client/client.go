// Package client is the high-level lobby client: one server address, a
// reconnect policy and typed requests over a network.Manager.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/network"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

var (
	// ErrNotReady is returned by Authenticate before the handshake completes
	// or after the connection closed.
	ErrNotReady = errors.New("connection is not ready")

	// ErrInvalidAddress is returned by New for an unusable server address.
	ErrInvalidAddress = errors.New("invalid server address")
)

// Options configures a Client.
type Options struct {
	// Addr is the lobby server host:port.
	Addr string

	// ReconnectInterval is the minimum time between automatic reconnect
	// attempts. Zero disables reconnection.
	ReconnectInterval time.Duration

	// TargetBufferSize is the encoder batching target in bytes.
	TargetBufferSize int

	// Processors builds the transform pipeline for every opened socket.
	Processors func() []buffer.Processor

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Poller and Dial replace the platform implementations.
	Poller network.Poller
	Dial   network.Dialer
}

// Client talks to a single lobby server. All methods must be called from
// the goroutine that calls Tick.
type Client struct {
	addr     string
	interval time.Duration
	clock    func() time.Time

	manager *network.Manager
	queue   *events.Queue
	scratch *events.Queue
	batch   []events.Event

	// wanted is false after a caller Disconnect; automatic reconnects stop
	// until the next Connect.
	wanted      bool
	lastAttempt time.Time
	lostAt      time.Time

	logger zerolog.Logger
}

// New validates opts and creates a client. It does not connect.
func New(opts Options) (*Client, error) {
	if _, err := net.ResolveTCPAddr("tcp", opts.Addr); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, opts.Addr, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	reg := protocol.DefaultRegistry()
	mopts := network.ManagerOptions{
		TargetBufferSize: opts.TargetBufferSize,
		Processors:       opts.Processors,
		Now:              clock,
		Dial:             opts.Dial,
	}
	var manager *network.Manager
	if opts.Poller != nil {
		manager = network.NewManagerWithPoller(reg, opts.Poller, mopts)
	} else {
		m, err := network.NewManager(reg, mopts)
		if err != nil {
			return nil, err
		}
		manager = m
	}

	return &Client{
		addr:     opts.Addr,
		interval: opts.ReconnectInterval,
		clock:    clock,
		manager:  manager,
		queue:    events.NewQueue(),
		scratch:  events.NewQueue(),
		logger:   log.With().Str("component", "client").Str("addr", opts.Addr).Logger(),
	}, nil
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// Connect opens the connection, or reopens it if it is closed.
func (c *Client) Connect() {
	c.wanted = true
	c.manager.Connect(c.addr)
}

// Disconnect closes the connection. With free the connection slot is
// released as well. No reconnect is attempted until the next Connect.
func (c *Client) Disconnect(free bool) {
	c.wanted = false
	c.manager.Disconnect(c.addr, free)
}

// Close frees every connection and the poller.
func (c *Client) Close() error {
	c.wanted = false
	return c.manager.Close()
}

// State returns the connection state; a freed connection reports Closed.
func (c *Client) State() network.ConnState {
	state, _ := c.manager.State(c.addr)
	return state
}

// Connections returns the manager's connection snapshot.
func (c *Client) Connections() []network.ConnectionStatus {
	return c.manager.Connections()
}

// Tick runs one network iteration, waiting at most timeout for readiness,
// then applies the reconnect policy.
func (c *Client) Tick(timeout time.Duration) error {
	if err := c.manager.Tick(timeout, c.scratch); err != nil {
		return err
	}
	for c.scratch.Drain(&c.batch, c.scratch.Len()) > 0 {
		for _, e := range c.batch {
			c.observe(e)
		}
		c.queue.PushAll(c.batch)
	}
	c.maybeReconnect()
	return nil
}

func (c *Client) observe(e events.Event) {
	switch e.Type {
	case events.EventConnectionEstablished:
		c.lastAttempt = time.Time{}
		c.lostAt = time.Time{}
	case events.EventDisconnected:
		c.lostAt = e.Time
	}
}

func (c *Client) maybeReconnect() {
	if c.interval <= 0 || !c.wanted {
		return
	}
	state, exists := c.manager.State(c.addr)
	if exists && state != network.StateClosed {
		return
	}

	now := c.clock()
	if c.lastAttempt.IsZero() {
		closedAt := c.lostAt
		if exists {
			closedAt, _ = c.manager.ClosedTime(c.addr)
		}
		if !now.After(closedAt.Add(c.interval)) {
			return
		}
	} else if !now.After(c.lastAttempt.Add(c.interval)) {
		return
	}

	c.logger.Info().Msg("reconnecting")
	metrics.ReconnectAttemptsTotal.Inc()
	c.lastAttempt = now
	c.manager.Connect(c.addr)
}

// PollEvents clears sink and moves up to limit pending events into it.
func (c *Client) PollEvents(sink *[]events.Event, limit int) int {
	return c.queue.Drain(sink, limit)
}

// PendingEvents returns the number of events waiting for PollEvents.
func (c *Client) PendingEvents() int {
	return c.queue.Len()
}

// Authenticate sends the login request. It fails locally unless the
// handshake has completed and the connection is still open.
func (c *Client) Authenticate(email, password string) error {
	state := c.State()
	if state < network.StateAuthenticating || state == network.StateClosed {
		c.logger.Warn().Str("state", state.String()).Msg("cannot authenticate before the handshake completes")
		return fmt.Errorf("%w: state is %s", ErrNotReady, state)
	}
	return c.send(&protocol.AuthenticationRequest{Email: email, Password: password})
}

// AddFriend sends a friend request to the user with the given tag.
func (c *Client) AddFriend(userTag string) error {
	return c.send(&protocol.AddFriendRequest{UserTag: userTag})
}

// RemoveFriend removes a user from the friend list.
func (c *Client) RemoveFriend(userTag string) error {
	return c.send(&protocol.RemoveFriend{UserTag: userTag})
}

// FriendRequestAction accepts or declines a pending friend request.
func (c *Client) FriendRequestAction(requestID string, choice protocol.ActionChoice) error {
	return c.send(&protocol.FriendRequestAction{RequestID: requestID, Action: choice})
}

// RefreshFriendRequests asks for the pending friend requests.
func (c *Client) RefreshFriendRequests() error {
	return c.send(&protocol.FetchPendingFriendRequests{})
}

// RefreshFriendList asks for the friend list.
func (c *Client) RefreshFriendList() error {
	return c.send(&protocol.FetchFriendList{})
}

func (c *Client) SendPrivateMessage(userTag, content string) error {
	return c.send(&protocol.SendPrivateMessage{UserTag: userTag, Content: content})
}

func (c *Client) InviteUser(userTag string) error {
	return c.send(&protocol.InviteUser{UserTag: userTag})
}

// LobbyInviteAction accepts or declines a lobby invite.
func (c *Client) LobbyInviteAction(inviteID string, choice protocol.ActionChoice) error {
	return c.send(&protocol.LobbyInviteAction{InviteID: inviteID, Action: choice})
}

func (c *Client) SendLobbyMessage(content string) error {
	return c.send(&protocol.SendLobbyMessage{Content: content})
}

func (c *Client) send(msg protocol.Message) error {
	if err := c.manager.Send(c.addr, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type(), err)
	}
	return nil
}
