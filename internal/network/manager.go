package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
	"github.com/LeonardBesson/lobby-client-lib/internal/transport"
)

// MaxUnknownErrors is the number of consecutive unclassified I/O errors
// after which a connection is torn down.
const MaxUnknownErrors = 3

// ErrNoConnection is returned when an address has no connection slot and
// one could not be created.
var ErrNoConnection = errors.New("no connection for address")

// Poller is the readiness source the manager multiplexes on.
// *transport.Poller implements it.
type Poller interface {
	Register(fd int, token transport.Token) error
	Deregister(fd int) error
	Tick(timeout time.Duration) (map[transport.Token]transport.Trigger, error)
	Close() error
}

// Dialer opens a non-blocking stream to addr.
type Dialer func(addr *net.TCPAddr) (transport.Stream, error)

// ManagerOptions tunes every connection the manager opens.
type ManagerOptions struct {
	// TargetBufferSize is the encoder's batching target. Zero selects
	// codec.DefaultTargetBufferSize.
	TargetBufferSize int

	// Processors builds a fresh processor list for each opened socket.
	Processors func() []buffer.Processor

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time

	// Dial overrides transport.DialTCP.
	Dial Dialer
}

// ConnectionStatus is a point-in-time view of one connection.
type ConnectionStatus struct {
	Addr          string    `json:"addr"`
	Token         uint32    `json:"token"`
	State         ConnState `json:"state"`
	QueuedBytes   int       `json:"queued_bytes"`
	QueuedPackets int       `json:"queued_packets"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at,omitempty"`
}

// Manager owns every connection and drives them from a single goroutine.
// Connections live in a dense slice indexed by token; freed tokens are
// reused in the order they were released.
type Manager struct {
	reg    *protocol.Registry
	poller Poller
	dial   Dialer
	cfg    connConfig

	connections []*Connection
	freeTokens  *queue.Queue
	addrs       map[string]transport.Token

	pending      map[transport.Token]struct{}
	pendingOrder []transport.Token

	// Readiness is edge-triggered: a read that failed with an unknown
	// error may leave data behind without a new edge, so it is retried.
	retryRead map[transport.Token]struct{}

	// Events of connections freed before they could be drained.
	orphaned []events.Event

	logger zerolog.Logger
}

// NewManager creates a manager using the platform poller.
func NewManager(reg *protocol.Registry, opts ManagerOptions) (*Manager, error) {
	p, err := transport.NewPoller(transport.PollerCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}
	return NewManagerWithPoller(reg, p, opts), nil
}

// NewManagerWithPoller creates a manager multiplexing on p.
func NewManagerWithPoller(reg *protocol.Registry, p Poller, opts ManagerOptions) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dial := opts.Dial
	if dial == nil {
		dial = transport.DialTCP
	}
	return &Manager{
		reg:    reg,
		poller: p,
		dial:   dial,
		cfg: connConfig{
			reg:              reg,
			targetBufferSize: opts.TargetBufferSize,
			processors:       opts.Processors,
			now:              now,
		},
		freeTokens: queue.New(),
		addrs:      make(map[string]transport.Token),
		pending:    make(map[transport.Token]struct{}),
		retryRead:  make(map[transport.Token]struct{}),
		logger:     log.With().Str("component", "manager").Logger(),
	}
}

// Connect opens a connection to addr. It is idempotent while the
// connection is open and reconnects in place once it is Closed. Failures
// are logged and leave the manager unchanged.
func (m *Manager) Connect(addr string) {
	if tok, ok := m.addrs[addr]; ok {
		conn := m.connections[tok]
		if conn.State() != StateClosed {
			return
		}
		if err := m.reopen(conn); err != nil {
			m.logger.Error().Err(err).Str("addr", addr).Msg("failed to reconnect")
		}
		return
	}
	if _, err := m.create(addr); err != nil {
		m.logger.Error().Err(err).Str("addr", addr).Msg("failed to connect")
	}
}

func (m *Manager) create(addr string) (*Connection, error) {
	stream, err := m.dialAddr(addr)
	if err != nil {
		return nil, err
	}

	tok := m.allocToken()
	conn := newConnection(addr, tok, stream, m.cfg)
	if err := m.register(conn); err != nil {
		conn.abort(err.Error())
		m.releaseToken(tok)
		return nil, err
	}

	if int(tok) == len(m.connections) {
		m.connections = append(m.connections, conn)
	} else {
		m.connections[tok] = conn
	}
	m.addrs[addr] = tok
	m.markPending(tok)
	return conn, nil
}

func (m *Manager) reopen(conn *Connection) error {
	stream, err := m.dialAddr(conn.Addr())
	if err != nil {
		return err
	}
	conn.open(stream, m.cfg)
	if err := m.register(conn); err != nil {
		conn.abort(err.Error())
		return err
	}
	m.markPending(conn.Token())
	return nil
}

func (m *Manager) dialAddr(addr string) (transport.Stream, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	stream, err := m.dial(tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return stream, nil
}

func (m *Manager) register(conn *Connection) error {
	if err := m.poller.Register(conn.Fd(), conn.Token()); err != nil {
		return err
	}
	conn.registered = true
	return nil
}

func (m *Manager) deregister(conn *Connection) {
	if !conn.registered {
		return
	}
	conn.registered = false
	if err := m.poller.Deregister(conn.Fd()); err != nil {
		m.logger.Warn().Err(err).Str("addr", conn.Addr()).Msg("failed to deregister connection")
	}
}

func (m *Manager) allocToken() transport.Token {
	if m.freeTokens.Length() > 0 {
		return m.freeTokens.Remove().(transport.Token)
	}
	return transport.Token(len(m.connections))
}

func (m *Manager) releaseToken(tok transport.Token) {
	if int(tok) < len(m.connections) {
		m.connections[tok] = nil
		m.freeTokens.Add(tok)
	}
}

// Send encodes msg for addr, connecting first if needed.
func (m *Manager) Send(addr string, msg protocol.Message) error {
	conn, err := m.connFor(addr)
	if err != nil {
		return err
	}
	if err := conn.Send(msg); err != nil {
		return err
	}
	m.markPending(conn.Token())
	return nil
}

// SendPacket queues pkt for addr, connecting first if needed.
func (m *Manager) SendPacket(addr string, pkt *protocol.Packet) error {
	conn, err := m.connFor(addr)
	if err != nil {
		return err
	}
	conn.SendPacket(pkt)
	m.markPending(conn.Token())
	return nil
}

func (m *Manager) connFor(addr string) (*Connection, error) {
	m.Connect(addr)
	tok, ok := m.addrs[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, addr)
	}
	return m.connections[tok], nil
}

// Disconnect closes the connection to addr. With free the slot and the
// address mapping are released too; otherwise a later Connect reuses them.
func (m *Manager) Disconnect(addr string, free bool) {
	tok, ok := m.addrs[addr]
	if !ok {
		return
	}
	conn := m.connections[tok]
	m.deregister(conn)
	conn.Disconnect(ReasonClientClosed)
	if free {
		m.free(conn)
	}
}

// free releases conn's slot, keeping its undelivered events.
func (m *Manager) free(conn *Connection) {
	m.orphaned = append(m.orphaned, conn.takeEvents()...)
	delete(m.addrs, conn.Addr())
	delete(m.pending, conn.Token())
	delete(m.retryRead, conn.Token())
	m.releaseToken(conn.Token())
	m.logger.Debug().Str("addr", conn.Addr()).Uint32("token", uint32(conn.Token())).Msg("connection freed")
}

// teardown closes a connection whose transport failed and frees it.
func (m *Manager) teardown(conn *Connection, reason string) {
	m.deregister(conn)
	conn.abort(reason)
	m.free(conn)
}

// State returns the state of the connection to addr.
func (m *Manager) State(addr string) (ConnState, bool) {
	tok, ok := m.addrs[addr]
	if !ok {
		return StateClosed, false
	}
	return m.connections[tok].State(), true
}

// ClosedTime returns when the connection to addr last closed.
func (m *Manager) ClosedTime(addr string) (time.Time, bool) {
	tok, ok := m.addrs[addr]
	if !ok {
		return time.Time{}, false
	}
	return m.connections[tok].ClosedTime(), true
}

func (m *Manager) markPending(tok transport.Token) {
	if _, ok := m.pending[tok]; ok {
		return
	}
	m.pending[tok] = struct{}{}
	m.pendingOrder = append(m.pendingOrder, tok)
}

func (m *Manager) conn(tok transport.Token) *Connection {
	if int(tok) >= len(m.connections) {
		return nil
	}
	return m.connections[tok]
}

// Tick polls once, services every triggered connection, flushes each
// connection marked during the tick exactly once and moves all produced
// events into sink.
func (m *Manager) Tick(timeout time.Duration, sink *events.Queue) error {
	start := time.Now()
	defer func() {
		metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if len(m.retryRead) > 0 {
		timeout = 0
	}
	triggers, err := m.poller.Tick(timeout)
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	if len(m.retryRead) > 0 {
		if triggers == nil {
			triggers = make(map[transport.Token]transport.Trigger, len(m.retryRead))
		}
		for tok := range m.retryRead {
			triggers[tok] |= transport.Readable
			delete(m.retryRead, tok)
		}
	}

	tokens := make([]transport.Token, 0, len(triggers))
	for tok := range triggers {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	for _, tok := range tokens {
		conn := m.conn(tok)
		if conn == nil {
			continue
		}
		m.service(conn, triggers[tok])
	}

	order := m.pendingOrder
	m.pendingOrder = nil
	for _, tok := range order {
		if _, ok := m.pending[tok]; !ok {
			continue
		}
		delete(m.pending, tok)
		if conn := m.conn(tok); conn != nil {
			m.handleIO(conn, conn.Flush())
		}
	}
	if len(m.pending) != 0 || len(m.pendingOrder) != 0 {
		panic(fmt.Sprintf("network: %d connections still pending flush after tick", len(m.pending)))
	}

	m.drain(sink)
	return nil
}

func (m *Manager) service(conn *Connection, tr transport.Trigger) {
	tok := conn.Token()
	if tr.Has(transport.Readable) {
		_, err := conn.Read()
		switch transport.Classify(err) {
		case transport.ClassFatal:
			// Bytes read before the failure may hold a FatalError whose
			// message must become the disconnect reason.
			m.decodeBeforeTeardown(conn)
		case transport.ClassUnknown:
			m.retryRead[tok] = struct{}{}
		}
		if !m.handleIO(conn, err) {
			return
		}
		m.markPending(tok)
	}
	if tr.Has(transport.Writable) {
		if !m.handleIO(conn, conn.OnWritable()) {
			return
		}
		m.markPending(tok)
	}
	if tr.Has(transport.Closed) {
		reason := transport.ErrPeerClosed.Error()
		if err := conn.socket.Err(); err != nil {
			reason = err.Error()
		}
		m.decodeBeforeTeardown(conn)
		m.teardown(conn, reason)
	}
}

// decodeBeforeTeardown processes what arrived before the transport failed
// so a peer FatalError becomes the disconnect reason.
func (m *Manager) decodeBeforeTeardown(conn *Connection) {
	m.deregister(conn)
	if conn.State() == StateClosed {
		return
	}
	if err := conn.flushIn(); err != nil {
		conn.logger.Debug().Err(err).Msg("failed to decode before hang-up")
	}
}

// handleIO classifies an I/O error and reports whether conn survived it.
func (m *Manager) handleIO(conn *Connection, err error) bool {
	class := transport.Classify(err)
	switch class {
	case transport.ClassNone, transport.ClassWouldBlock:
		return true
	case transport.ClassFatal:
		metrics.IOErrorsTotal.WithLabelValues(class.String()).Inc()
		conn.logger.Info().Err(err).Msg("transport failure")
		m.teardown(conn, err.Error())
		return false
	default:
		metrics.IOErrorsTotal.WithLabelValues(class.String()).Inc()
		conn.unknownErrors++
		if conn.unknownErrors >= MaxUnknownErrors {
			conn.logger.Error().Err(err).Int("count", conn.unknownErrors).Msg("too many unknown I/O errors")
			m.teardown(conn, err.Error())
			return false
		}
		conn.logger.Warn().Err(err).Int("count", conn.unknownErrors).Msg("unknown I/O error")
		return true
	}
}

func (m *Manager) drain(sink *events.Queue) {
	sink.PushAll(m.orphaned)
	m.orphaned = nil
	for _, conn := range m.connections {
		if conn != nil {
			sink.PushAll(conn.takeEvents())
		}
	}
}

// Connections returns a status snapshot ordered by token.
func (m *Manager) Connections() []ConnectionStatus {
	out := make([]ConnectionStatus, 0, len(m.addrs))
	for _, conn := range m.connections {
		if conn == nil {
			continue
		}
		out = append(out, ConnectionStatus{
			Addr:          conn.Addr(),
			Token:         uint32(conn.Token()),
			State:         conn.State(),
			QueuedBytes:   conn.QueuedBytes(),
			QueuedPackets: conn.QueuedPackets(),
			OpenedAt:      conn.OpenedAt(),
			ClosedAt:      conn.ClosedTime(),
		})
	}
	return out
}

// Close disconnects and frees every connection and releases the poller.
func (m *Manager) Close() error {
	for _, conn := range m.connections {
		if conn != nil {
			m.Disconnect(conn.Addr(), true)
		}
	}
	return m.poller.Close()
}
