// Package network drives lobby connections: the per-peer protocol state
// machine and the manager that multiplexes them over one poller.
package network

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/codec"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
	"github.com/LeonardBesson/lobby-client-lib/internal/transport"
)

// ConnState is the lifecycle stage of a connection. States are ordered, so
// gates are written as comparisons.
type ConnState int

const (
	StateInitializing   ConnState = iota // Socket open, handshake pending
	StateAuthenticating                  // Versions agreed, not logged in
	StateRunning                         // Authenticated
	StateClosed                          // Socket closed
)

var connStateStrings = map[ConnState]string{
	StateInitializing:   "initializing",
	StateAuthenticating: "authenticating",
	StateRunning:        "running",
	StateClosed:         "closed",
}

// String returns the string representation of ConnState.
func (s ConnState) String() string {
	if str, ok := connStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes ConnState as a JSON string (e.g. "running").
func (s ConnState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Disconnect reasons produced locally.
const (
	ReasonProtocolError = "Protocol error"
	ReasonClientClosed  = "disconnected by client"
)

// Labels for metrics.ConnectionsClosedTotal.
const (
	closeByClient    = "client"
	closeByPeer      = "peer"
	closeByProtocol  = "protocol"
	closeByTransport = "transport"
)

// errProtocol marks failures that close the connection with a FatalError.
var errProtocol = errors.New(ReasonProtocolError)

// Connection is one peer: its socket, codec state and pending events. It is
// driven exclusively by the Manager's goroutine.
type Connection struct {
	addr    string
	token   transport.Token
	state   ConnState
	reg     *protocol.Registry
	socket  *transport.Socket
	encoder *codec.Encoder
	decoder *codec.Decoder

	events     []events.Event
	openedAt   time.Time
	closedTime time.Time
	now        func() time.Time

	// Write error raised while flushing from inside packet handling.
	deferredErr error

	// Consecutive unclassified I/O errors; reset by any transferred byte.
	unknownErrors int
	registered    bool

	logger zerolog.Logger
}

// connConfig carries the Manager options a connection needs.
type connConfig struct {
	reg              *protocol.Registry
	targetBufferSize int
	processors       func() []buffer.Processor
	now              func() time.Time
}

func newConnection(addr string, token transport.Token, stream transport.Stream, cfg connConfig) *Connection {
	c := &Connection{
		addr:   addr,
		token:  token,
		reg:    cfg.reg,
		now:    cfg.now,
		logger: log.With().Str("component", "connection").Str("addr", addr).Uint32("token", uint32(token)).Logger(),
	}
	c.open(stream, cfg)
	return c
}

// open resets the connection around a freshly dialed stream and queues the
// handshake.
func (c *Connection) open(stream transport.Stream, cfg connConfig) {
	var procs []buffer.Processor
	if cfg.processors != nil {
		procs = cfg.processors()
	}
	c.socket = transport.NewSocket(stream, buffer.NewPipeline(procs...))
	c.encoder = codec.NewEncoder(cfg.reg, cfg.targetBufferSize)
	c.decoder = codec.NewDecoder(cfg.reg)
	c.state = StateInitializing
	c.openedAt = c.now()
	c.deferredErr = nil
	c.unknownErrors = 0

	metrics.ConnectionsOpenedTotal.Inc()
	metrics.ActiveConnections.Inc()

	if err := c.Send(&protocol.PacketInit{
		ProtocolVersion: protocol.ProtocolVersion,
		AppVersion:      protocol.AppVersion,
	}); err != nil {
		c.logger.Error().Err(err).Msg("failed to queue handshake")
	}
	c.logger.Debug().Msg("connection opened")
}

// Addr returns the peer address string the connection was opened with.
func (c *Connection) Addr() string { return c.addr }

// Token returns the connection's slot.
func (c *Connection) Token() transport.Token { return c.token }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState { return c.state }

// ClosedTime returns when the connection last closed, or zero.
func (c *Connection) ClosedTime() time.Time { return c.closedTime }

// OpenedAt returns when the current socket was opened.
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// Fd returns the socket descriptor.
func (c *Connection) Fd() int { return c.socket.Fd() }

// QueuedBytes returns the number of encoded bytes not yet written.
func (c *Connection) QueuedBytes() int { return c.socket.PendingOut() }

// QueuedPackets returns the number of packets not yet encoded.
func (c *Connection) QueuedPackets() int { return c.encoder.Pending() }

// Send encodes msg and queues it for the next flush.
func (c *Connection) Send(msg protocol.Message) error {
	pkt, err := protocol.Encode(c.reg, msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}
	c.encoder.Add(pkt)
	return nil
}

// SendPacket queues an already built packet.
func (c *Connection) SendPacket(pkt *protocol.Packet) {
	c.encoder.Add(pkt)
}

// Read drains the socket into the inbound queue.
func (c *Connection) Read() (int, error) {
	if c.state == StateClosed {
		return 0, nil
	}
	n, err := c.socket.Read()
	if n > 0 {
		c.unknownErrors = 0
	}
	return n, err
}

// OnWritable handles a writable trigger: the connect has completed, so the
// socket is marked connected and queued bytes are written.
func (c *Connection) OnWritable() error {
	if c.state == StateClosed {
		return nil
	}
	c.socket.MarkConnected()
	return c.write()
}

func (c *Connection) write() error {
	n, err := c.socket.Write()
	if n > 0 {
		c.unknownErrors = 0
	}
	return err
}

// Flush decodes and dispatches every complete inbound packet, then encodes
// and writes outbound packets. Protocol failures close the connection
// internally; the returned error is always a transport error.
func (c *Connection) Flush() error {
	if c.state == StateClosed {
		return nil
	}
	if err := c.flushIn(); err != nil {
		c.protocolFailure(err)
		return nil
	}
	if c.state == StateClosed {
		return nil
	}
	if err := c.flushOut(); err != nil {
		if errors.Is(err, errProtocol) {
			c.protocolFailure(err)
			return nil
		}
		return err
	}
	err := c.deferredErr
	c.deferredErr = nil
	return err
}

func (c *Connection) flushIn() error {
	if err := c.socket.ProcessIn(); err != nil {
		return fmt.Errorf("%w: %v", errProtocol, err)
	}
	for {
		buf, ok := c.socket.PopIn()
		if !ok {
			break
		}
		c.decoder.Push(buf)
	}

	for c.state != StateClosed {
		pkt, err := c.decoder.Next()
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		if pkt == nil {
			return nil
		}
		if err := c.handlePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

// flushOut moves encoded buffers through the pipeline and writes them once
// the connect has completed.
func (c *Connection) flushOut() error {
	for {
		buf, ok := c.encoder.NextBuffer()
		if !ok {
			break
		}
		c.socket.QueueOut(buf)
	}
	if err := c.socket.ProcessOut(); err != nil {
		return fmt.Errorf("%w: %v", errProtocol, err)
	}
	if !c.socket.IsConnected() || c.socket.PendingOut() == 0 {
		return nil
	}
	return c.write()
}

func (c *Connection) protocolFailure(err error) {
	c.logger.Error().Err(err).Msg("protocol failure")
	c.disconnect(ReasonProtocolError, closeByProtocol)
}

func (c *Connection) handlePacket(pkt *protocol.Packet) error {
	msg, err := protocol.Decode(c.reg, pkt)
	if err != nil {
		return fmt.Errorf("%w: %v", errProtocol, err)
	}

	switch m := msg.(type) {
	case *protocol.PacketInit:
		c.handleInit(m)
	case *protocol.Ping:
		return c.handlePing(m)
	case *protocol.AuthenticationResponse:
		return c.handleAuthResponse(m)
	case *protocol.FatalError:
		c.logger.Warn().Str("reason", m.Message).Msg("peer sent fatal error")
		c.closeWith(m.Message, closeByPeer)
	case *protocol.AddFriendRequestResponse:
		code, err := optErrorCode(m.ErrorCode)
		if err != nil {
			return err
		}
		c.emit(events.EventAddFriendResponse, events.AddFriendResponsePayload{UserTag: m.UserTag, ErrorCode: code})
	case *protocol.FriendRequestActionResponse:
		code, err := optErrorCode(m.ErrorCode)
		if err != nil {
			return err
		}
		c.emit(events.EventFriendRequestActionResponse, events.FriendRequestActionResponsePayload{RequestID: m.RequestID, ErrorCode: code})
	case *protocol.FetchPendingFriendRequestsResponse:
		c.emit(events.EventFriendRequestsUpdated, events.FriendRequestsUpdatedPayload{
			AsInviter: m.PendingAsInviter,
			AsInvitee: m.PendingAsInvitee,
		})
	case *protocol.FetchFriendListResponse:
		c.emit(events.EventFriendListUpdated, events.FriendListUpdatedPayload{Friends: m.FriendList})
	case *protocol.RemoveFriendResponse:
		code, err := optErrorCode(m.ErrorCode)
		if err != nil {
			return err
		}
		c.emit(events.EventRemoveFriendResponse, events.RemoveFriendResponsePayload{ErrorCode: code})
	case *protocol.NewPrivateMessage:
		c.emit(events.EventNewPrivateMessage, events.NewPrivateMessagePayload{Profile: m.Profile, Content: m.Content, IsSelf: m.IsSelf})
	case *protocol.SystemNotification:
		c.emit(events.EventSystemNotification, events.SystemNotificationPayload{Content: m.Content})
	case *protocol.LobbyInvite:
		c.emit(events.EventLobbyInvite, events.LobbyInvitePayload{InviteID: m.ID, Inviter: m.Inviter})
	case *protocol.LobbyJoined:
		c.emit(events.EventLobbyJoined, events.LobbyJoinedPayload{LobbyID: m.LobbyID})
	case *protocol.LobbyMemberUpdate:
		c.emit(events.EventLobbyMemberUpdate, events.LobbyMemberUpdatePayload{LobbyID: m.LobbyID, Members: m.Members})
	case *protocol.LobbyLeft:
		c.emit(events.EventLobbyLeft, events.LobbyLeftPayload{LobbyID: m.LobbyID})
	case *protocol.NewLobbyMessage:
		c.emit(events.EventNewLobbyMessage, events.NewLobbyMessagePayload{LobbyID: m.LobbyID, Profile: m.Profile, Content: m.Content})
	default:
		c.logger.Warn().Str("packet", pkt.Type.String()).Msg("unhandled packet")
	}
	return nil
}

func (c *Connection) handleInit(m *protocol.PacketInit) {
	var mismatches []string
	if m.ProtocolVersion != protocol.ProtocolVersion {
		mismatches = append(mismatches, fmt.Sprintf("protocol version %d (expected %d)", m.ProtocolVersion, protocol.ProtocolVersion))
	}
	if m.AppVersion != protocol.AppVersion {
		mismatches = append(mismatches, fmt.Sprintf("app version %d (expected %d)", m.AppVersion, protocol.AppVersion))
	}
	if len(mismatches) > 0 {
		reason := "Version mismatch: " + strings.Join(mismatches, ", ")
		c.logger.Error().Str("reason", reason).Msg("handshake failed")
		c.disconnect(reason, closeByProtocol)
		return
	}

	c.state = StateAuthenticating
	c.logger.Info().Msg("handshake complete")
	c.emit(events.EventConnectionEstablished, events.ConnectionEstablishedPayload{
		ProtocolVersion: m.ProtocolVersion,
		AppVersion:      m.AppVersion,
	})
}

// handlePing answers immediately, bypassing the end-of-tick flush.
func (c *Connection) handlePing(m *protocol.Ping) error {
	pong := &protocol.Pong{ID: m.ID, PeerTime: uint64(c.now().UnixMilli())}
	if err := c.Send(pong); err != nil {
		return err
	}
	err := c.flushOut()
	switch {
	case errors.Is(err, errProtocol):
		return err
	case transport.Classify(err) == transport.ClassFatal, transport.Classify(err) == transport.ClassUnknown:
		c.deferredErr = err
	}
	return nil
}

func (c *Connection) handleAuthResponse(m *protocol.AuthenticationResponse) error {
	switch {
	case m.ErrorCode != nil && m.SessionToken == nil && m.UserProfile == nil:
		code, err := protocol.ParseErrorCode(*m.ErrorCode)
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		c.logger.Warn().Str("error_code", string(code)).Msg("authentication failed")
		c.emit(events.EventAuthFailure, events.AuthFailurePayload{ErrorCode: code})
	case m.ErrorCode == nil && m.SessionToken != nil && m.UserProfile != nil:
		c.state = StateRunning
		c.logger.Info().Str("user_tag", m.UserProfile.UserTag).Msg("authenticated")
		c.emit(events.EventAuthSuccess, events.AuthSuccessPayload{
			SessionToken: *m.SessionToken,
			Profile:      *m.UserProfile,
		})
	default:
		return fmt.Errorf("%w: malformed authentication response", errProtocol)
	}
	return nil
}

func optErrorCode(s *string) (*protocol.ErrorCode, error) {
	if s == nil {
		return nil, nil
	}
	code, err := protocol.ParseErrorCode(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errProtocol, err)
	}
	return &code, nil
}

// Disconnect sends FatalError{reason} if the socket is connected, closes it
// and emits Disconnected. It does nothing once the connection is closed.
func (c *Connection) Disconnect(reason string) {
	c.disconnect(reason, closeByClient)
}

func (c *Connection) disconnect(reason, kind string) {
	if c.state == StateClosed {
		return
	}
	if c.socket.IsConnected() {
		if err := c.Send(&protocol.FatalError{Message: reason}); err == nil {
			if err := c.flushOut(); err != nil {
				c.logger.Debug().Err(err).Msg("failed to flush fatal error")
			}
		}
	}
	c.closeWith(reason, kind)
}

// abort closes without notifying the peer. Used when the transport is gone.
func (c *Connection) abort(reason string) {
	c.closeWith(reason, closeByTransport)
}

func (c *Connection) closeWith(reason, kind string) {
	if c.state == StateClosed {
		return
	}
	if err := c.socket.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close socket")
	}
	// Closing the descriptor also removes it from the poller.
	c.registered = false
	c.state = StateClosed
	c.closedTime = c.now()

	metrics.ConnectionsClosedTotal.WithLabelValues(kind).Inc()
	metrics.ActiveConnections.Dec()

	c.logger.Info().Str("reason", reason).Msg("connection closed")
	c.emit(events.EventDisconnected, events.DisconnectedPayload{Reason: reason})
}

func (c *Connection) emit(t events.EventType, payload interface{}) {
	c.events = append(c.events, events.Event{Type: t, Source: c.addr, Time: c.now(), Payload: payload})
}

// takeEvents returns and clears the pending events.
func (c *Connection) takeEvents() []events.Event {
	evs := c.events
	c.events = nil
	return evs
}
