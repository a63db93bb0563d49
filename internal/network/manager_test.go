package network

import (
	"bytes"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/codec"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
	"github.com/LeonardBesson/lobby-client-lib/internal/transport"
)

const testAddr = "127.0.0.1:9000"

// fakePoller replays scripted trigger sets, one per Tick.
type fakePoller struct {
	registered map[int]transport.Token
	script     []map[transport.Token]transport.Trigger
	closed     bool
}

func (p *fakePoller) Register(fd int, token transport.Token) error {
	p.registered[fd] = token
	return nil
}

func (p *fakePoller) Deregister(fd int) error {
	delete(p.registered, fd)
	return nil
}

func (p *fakePoller) Tick(timeout time.Duration) (map[transport.Token]transport.Trigger, error) {
	if len(p.script) == 0 {
		return map[transport.Token]transport.Trigger{}, nil
	}
	next := p.script[0]
	p.script = p.script[1:]
	return next, nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

// pipeStream is an in-memory Stream. Reads consume in, writes append to out.
type pipeStream struct {
	fd      int
	in      []byte
	out     bytes.Buffer
	readErr error
	sockErr error
	closed  bool
}

func (s *pipeStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, transport.ErrSocketClosed
	}
	if len(s.in) > 0 {
		n := copy(p, s.in)
		s.in = s.in[n:]
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return 0, syscall.EAGAIN
}

func (s *pipeStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, transport.ErrSocketClosed
	}
	return s.out.Write(p)
}

func (s *pipeStream) SetNoDelay(bool) error { return nil }
func (s *pipeStream) Err() error            { return s.sockErr }
func (s *pipeStream) Fd() int               { return s.fd }
func (s *pipeStream) Close() error          { s.closed = true; return nil }

type harness struct {
	t       *testing.T
	reg     *protocol.Registry
	poller  *fakePoller
	streams []*pipeStream
	m       *Manager
	queue   *events.Queue
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		reg:    protocol.DefaultRegistry(),
		poller: &fakePoller{registered: make(map[int]transport.Token)},
		queue:  events.NewQueue(),
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.m = NewManagerWithPoller(h.reg, h.poller, ManagerOptions{
		Now: func() time.Time { return h.now },
		Dial: func(addr *net.TCPAddr) (transport.Stream, error) {
			s := &pipeStream{fd: 100 + len(h.streams)}
			h.streams = append(h.streams, s)
			return s, nil
		},
	})
	return h
}

func (h *harness) token(addr string) transport.Token {
	tok, ok := h.m.addrs[addr]
	require.True(h.t, ok, "no token for %s", addr)
	return tok
}

func (h *harness) tick(triggers map[transport.Token]transport.Trigger) []events.Event {
	if triggers != nil {
		h.poller.script = append(h.poller.script, triggers)
	}
	require.NoError(h.t, h.m.Tick(0, h.queue))
	var sink []events.Event
	h.queue.Drain(&sink, 1000)
	return sink
}

func (h *harness) deliver(addr string, s *pipeStream, msgs ...protocol.Message) []events.Event {
	s.in = append(s.in, encodeAll(h.t, h.reg, msgs...)...)
	return h.tick(map[transport.Token]transport.Trigger{h.token(addr): transport.Readable})
}

// establish connects to addr and completes the version handshake.
func (h *harness) establish(addr string) *pipeStream {
	h.m.Connect(addr)
	s := h.streams[len(h.streams)-1]
	h.tick(map[transport.Token]transport.Trigger{h.token(addr): transport.Writable})

	evs := h.deliver(addr, s, &protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1})
	require.Len(h.t, evs, 1)
	require.Equal(h.t, events.EventConnectionEstablished, evs[0].Type)
	s.out.Reset()
	return s
}

func encodeAll(t *testing.T, reg *protocol.Registry, msgs ...protocol.Message) []byte {
	enc := codec.NewEncoder(reg, 0)
	for _, m := range msgs {
		pkt, err := protocol.Encode(reg, m)
		require.NoError(t, err)
		enc.Add(pkt)
	}
	var out []byte
	for {
		buf, ok := enc.NextBuffer()
		if !ok {
			return out
		}
		out = append(out, buf.Bytes()...)
	}
}

func decodeAll(t *testing.T, reg *protocol.Registry, data []byte) []protocol.Message {
	d := codec.NewDecoder(reg)
	d.Push(buffer.FromCopy(data))
	var out []protocol.Message
	for {
		pkt, err := d.Next()
		require.NoError(t, err)
		if pkt == nil {
			return out
		}
		msg, err := protocol.Decode(reg, pkt)
		require.NoError(t, err)
		out = append(out, msg)
	}
}

func strPtr(s string) *string { return &s }

func TestHandshakeSentOnceConnected(t *testing.T) {
	h := newHarness(t)
	h.m.Connect(testAddr)
	require.Len(t, h.streams, 1)
	s := h.streams[0]

	h.tick(nil)
	assert.Zero(t, s.out.Len(), "nothing is written before the connect completes")
	assert.Equal(t, transport.Token(0), h.poller.registered[s.fd])

	h.tick(map[transport.Token]transport.Trigger{0: transport.Writable})
	msgs := decodeAll(t, h.reg, s.out.Bytes())
	require.Len(t, msgs, 1)
	assert.Equal(t, &protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1}, msgs[0])

	state, ok := h.m.State(testAddr)
	require.True(t, ok)
	assert.Equal(t, StateInitializing, state)

	evs := h.deliver(testAddr, s, &protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1})
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventConnectionEstablished, evs[0].Type)
	assert.Equal(t, testAddr, evs[0].Source)
	state, _ = h.m.State(testAddr)
	assert.Equal(t, StateAuthenticating, state)
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.m.Connect(testAddr)
	h.m.Connect(testAddr)
	assert.Len(t, h.streams, 1)
	assert.Len(t, h.m.Connections(), 1)
}

func TestVersionMismatchCloses(t *testing.T) {
	h := newHarness(t)
	h.m.Connect(testAddr)
	s := h.streams[0]
	h.tick(map[transport.Token]transport.Trigger{0: transport.Writable})
	s.out.Reset()

	evs := h.deliver(testAddr, s, &protocol.PacketInit{ProtocolVersion: 2, AppVersion: 1})
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDisconnected, evs[0].Type)
	reason := evs[0].Payload.(events.DisconnectedPayload).Reason
	assert.Contains(t, reason, "Version mismatch")
	assert.Contains(t, reason, "protocol version 2")

	msgs := decodeAll(t, h.reg, s.out.Bytes())
	require.Len(t, msgs, 1)
	assert.Equal(t, &protocol.FatalError{Message: reason}, msgs[0])

	state, ok := h.m.State(testAddr)
	require.True(t, ok, "mismatch keeps the slot")
	assert.Equal(t, StateClosed, state)
	assert.True(t, s.closed)
	closedAt, _ := h.m.ClosedTime(testAddr)
	assert.Equal(t, h.now, closedAt)
}

func TestPingAnsweredBeforeLaterPackets(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)

	// The peer closes right after pinging; the pong must already be out.
	evs := h.deliver(testAddr, s,
		&protocol.Ping{ID: "p1", PeerTime: 5},
		&protocol.FatalError{Message: "server shutting down"},
	)
	require.Len(t, evs, 1)
	assert.Equal(t, events.DisconnectedPayload{Reason: "server shutting down"}, evs[0].Payload)

	msgs := decodeAll(t, h.reg, s.out.Bytes())
	require.Len(t, msgs, 1, "fatal errors from the peer are not echoed")
	assert.Equal(t, &protocol.Pong{ID: "p1", PeerTime: uint64(h.now.UnixMilli())}, msgs[0])
}

func TestAuthenticationResponses(t *testing.T) {
	profile := &protocol.UserProfile{UserTag: "neo#0001", DisplayName: "Neo"}

	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		s := h.establish(testAddr)
		evs := h.deliver(testAddr, s, &protocol.AuthenticationResponse{SessionToken: strPtr("tok"), UserProfile: profile})
		require.Len(t, evs, 1)
		assert.Equal(t, events.EventAuthSuccess, evs[0].Type)
		assert.Equal(t, events.AuthSuccessPayload{SessionToken: "tok", Profile: *profile}, evs[0].Payload)
		state, _ := h.m.State(testAddr)
		assert.Equal(t, StateRunning, state)
	})

	t.Run("failure", func(t *testing.T) {
		h := newHarness(t)
		s := h.establish(testAddr)
		evs := h.deliver(testAddr, s, &protocol.AuthenticationResponse{ErrorCode: strPtr("InvalidCredentials")})
		require.Len(t, evs, 1)
		assert.Equal(t, events.AuthFailurePayload{ErrorCode: protocol.ErrorInvalidCredentials}, evs[0].Payload)
		state, _ := h.m.State(testAddr)
		assert.Equal(t, StateAuthenticating, state)
	})

	for name, resp := range map[string]*protocol.AuthenticationResponse{
		"unknown code": {ErrorCode: strPtr("NotARealCode")},
		"empty":        {},
		"mixed":        {ErrorCode: strPtr("InvalidCredentials"), SessionToken: strPtr("tok")},
		"token only":   {SessionToken: strPtr("tok")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			s := h.establish(testAddr)
			evs := h.deliver(testAddr, s, resp)
			require.Len(t, evs, 1)
			assert.Equal(t, events.DisconnectedPayload{Reason: ReasonProtocolError}, evs[0].Payload)
			msgs := decodeAll(t, h.reg, s.out.Bytes())
			require.Len(t, msgs, 1)
			assert.Equal(t, &protocol.FatalError{Message: ReasonProtocolError}, msgs[0])
		})
	}
}

func TestDomainPacketsBecomeEvents(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	member := protocol.LobbyMember{UserProfile: protocol.UserProfile{UserTag: "a#1"}, IsOwner: true}

	evs := h.deliver(testAddr, s,
		&protocol.AddFriendRequestResponse{UserTag: "b#2", ErrorCode: strPtr("AlreadyFriends")},
		&protocol.FetchFriendListResponse{FriendList: []protocol.Friend{{UserProfile: protocol.UserProfile{UserTag: "b#2"}, IsOnline: true}}},
		&protocol.SystemNotification{Content: "maintenance at noon"},
		&protocol.LobbyJoined{LobbyID: "L1"},
		&protocol.LobbyMemberUpdate{LobbyID: "L1", Members: []protocol.LobbyMember{member}},
		&protocol.NewLobbyMessage{LobbyID: "L1", Content: "gl hf"},
		&protocol.LobbyLeft{LobbyID: "L1"},
	)

	var types []events.EventType
	for _, e := range evs {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventAddFriendResponse,
		events.EventFriendListUpdated,
		events.EventSystemNotification,
		events.EventLobbyJoined,
		events.EventLobbyMemberUpdate,
		events.EventNewLobbyMessage,
		events.EventLobbyLeft,
	}, types)

	code := protocol.ErrorAlreadyFriends
	assert.Equal(t, events.AddFriendResponsePayload{UserTag: "b#2", ErrorCode: &code}, evs[0].Payload)
	assert.Equal(t, events.LobbyMemberUpdatePayload{LobbyID: "L1", Members: []protocol.LobbyMember{member}}, evs[4].Payload)
	assert.Nil(t, evs[5].Payload.(events.NewLobbyMessagePayload).Profile)
}

func TestUnhandledPacketIgnored(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	evs := h.deliver(testAddr, s, &protocol.AddFriendRequest{UserTag: "x#1"})
	assert.Empty(t, evs)
	state, _ := h.m.State(testAddr)
	assert.Equal(t, StateAuthenticating, state)
}

func TestCorruptStreamIsProtocolFatal(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.in = []byte{0x01, 0x02}
	evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	require.Len(t, evs, 1)
	assert.Equal(t, events.DisconnectedPayload{Reason: ReasonProtocolError}, evs[0].Payload)
	state, _ := h.m.State(testAddr)
	assert.Equal(t, StateClosed, state)
}

func TestTransportFatalTearsDownAndFrees(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = syscall.ECONNRESET

	evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDisconnected, evs[0].Type)
	assert.Equal(t, syscall.ECONNRESET.Error(), evs[0].Payload.(events.DisconnectedPayload).Reason)

	_, ok := h.m.State(testAddr)
	assert.False(t, ok, "fatal teardown frees the slot")
	assert.Empty(t, h.m.Connections())
	assert.True(t, s.closed)
	assert.Empty(t, h.poller.registered)
}

func TestClosedTriggerUsesSocketError(t *testing.T) {
	h := newHarness(t)
	h.m.Connect(testAddr)
	s := h.streams[0]
	s.sockErr = syscall.ECONNREFUSED

	evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Closed | transport.Writable})
	require.Len(t, evs, 1)
	assert.Equal(t, events.DisconnectedPayload{Reason: syscall.ECONNREFUSED.Error()}, evs[0].Payload)
	_, ok := h.m.State(testAddr)
	assert.False(t, ok)
}

func TestUnknownErrorsFailClosedAfterThreshold(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = syscall.EIO

	for i := 1; i < MaxUnknownErrors; i++ {
		evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
		assert.Empty(t, evs)
		state, ok := h.m.State(testAddr)
		require.True(t, ok)
		assert.Equal(t, StateAuthenticating, state)
	}

	evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDisconnected, evs[0].Type)
	_, ok := h.m.State(testAddr)
	assert.False(t, ok)
}

func TestUnknownErrorCounterResetsOnSuccess(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)

	s.readErr = syscall.EIO
	for i := 1; i < MaxUnknownErrors; i++ {
		h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	}
	s.readErr = nil
	h.deliver(testAddr, s, &protocol.SystemNotification{Content: "still here"})

	s.readErr = syscall.EIO
	for i := 1; i < MaxUnknownErrors; i++ {
		h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	}
	state, ok := h.m.State(testAddr)
	require.True(t, ok)
	assert.Equal(t, StateAuthenticating, state)
}

func TestPeerFatalErrorBeforeCloseIsReason(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = transport.ErrPeerClosed

	evs := h.deliver(testAddr, s, &protocol.FatalError{Message: "server full"})
	require.Len(t, evs, 1)
	assert.Equal(t, events.DisconnectedPayload{Reason: "server full"}, evs[0].Payload)

	_, ok := h.m.State(testAddr)
	assert.False(t, ok, "closed connection is freed")
	assert.True(t, s.closed)
	assert.Empty(t, h.poller.registered)
}

func TestPacketsBeforeResetAreDelivered(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = syscall.ECONNRESET

	evs := h.deliver(testAddr, s, &protocol.SystemNotification{Content: "going down"})
	require.Len(t, evs, 2)
	assert.Equal(t, events.EventSystemNotification, evs[0].Type)
	assert.Equal(t, events.DisconnectedPayload{Reason: syscall.ECONNRESET.Error()}, evs[1].Payload)
	_, ok := h.m.State(testAddr)
	assert.False(t, ok)
}

func TestUnknownReadErrorIsRetriedWithoutNewEdge(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = syscall.EIO

	evs := h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})
	assert.Empty(t, evs)

	// No further readiness is reported; the failed read is retried anyway.
	for i := 2; i < MaxUnknownErrors; i++ {
		assert.Empty(t, h.tick(nil))
		_, ok := h.m.State(testAddr)
		require.True(t, ok)
	}
	evs = h.tick(nil)
	require.Len(t, evs, 1)
	assert.Equal(t, events.DisconnectedPayload{Reason: syscall.EIO.Error()}, evs[0].Payload)
	_, ok := h.m.State(testAddr)
	assert.False(t, ok)
	assert.Empty(t, h.m.retryRead)
}

func TestRetriedReadRecoversData(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)
	s.readErr = syscall.EIO
	h.tick(map[transport.Token]transport.Trigger{0: transport.Readable})

	s.readErr = nil
	s.in = encodeAll(t, h.reg, &protocol.SystemNotification{Content: "late"})
	evs := h.tick(nil)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventSystemNotification, evs[0].Type)
	assert.Empty(t, h.m.retryRead)

	state, ok := h.m.State(testAddr)
	require.True(t, ok)
	assert.Equal(t, StateAuthenticating, state)
}

func TestTokensReusedInFreeOrder(t *testing.T) {
	h := newHarness(t)
	for _, addr := range []string{"127.0.0.1:1", "127.0.0.1:2", "127.0.0.1:3"} {
		h.m.Connect(addr)
	}
	assert.Equal(t, transport.Token(1), h.token("127.0.0.1:2"))

	h.m.Disconnect("127.0.0.1:2", true)
	h.m.Disconnect("127.0.0.1:1", true)

	h.m.Connect("127.0.0.1:4")
	h.m.Connect("127.0.0.1:5")
	h.m.Connect("127.0.0.1:6")
	assert.Equal(t, transport.Token(1), h.token("127.0.0.1:4"))
	assert.Equal(t, transport.Token(0), h.token("127.0.0.1:5"))
	assert.Equal(t, transport.Token(3), h.token("127.0.0.1:6"))

	evs := h.tick(nil)
	var disconnected int
	for _, e := range evs {
		if e.Type == events.EventDisconnected {
			disconnected++
		}
	}
	assert.Equal(t, 2, disconnected, "events of freed connections are still delivered")
}

func TestDisconnectKeepsSlotAndReconnectsInPlace(t *testing.T) {
	h := newHarness(t)
	s := h.establish(testAddr)

	h.m.Disconnect(testAddr, false)
	msgs := decodeAll(t, h.reg, s.out.Bytes())
	require.Len(t, msgs, 1)
	assert.Equal(t, &protocol.FatalError{Message: ReasonClientClosed}, msgs[0])
	assert.True(t, s.closed)

	evs := h.tick(nil)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDisconnected, evs[0].Type)

	h.m.Disconnect(testAddr, false)
	assert.Empty(t, h.tick(nil), "disconnect is idempotent")

	h.m.Connect(testAddr)
	require.Len(t, h.streams, 2)
	assert.Equal(t, transport.Token(0), h.token(testAddr))
	state, _ := h.m.State(testAddr)
	assert.Equal(t, StateInitializing, state)
	assert.Equal(t, transport.Token(0), h.poller.registered[h.streams[1].fd])
}

func TestSendConnectsAndQueueGrowsWithoutWritable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Send(testAddr, &protocol.SendLobbyMessage{Content: "hello"}))
	require.Len(t, h.streams, 1)

	h.tick(nil)
	first := h.m.Connections()[0].QueuedBytes
	assert.Positive(t, first)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.m.Send(testAddr, &protocol.SendLobbyMessage{Content: "more"}))
		h.tick(nil)
	}
	assert.Greater(t, h.m.Connections()[0].QueuedBytes, first)
	assert.Zero(t, h.streams[0].out.Len())

	h.tick(map[transport.Token]transport.Trigger{0: transport.Writable})
	assert.Zero(t, h.m.Connections()[0].QueuedBytes)
	msgs := decodeAll(t, h.reg, h.streams[0].out.Bytes())
	assert.Len(t, msgs, 7)
	assert.IsType(t, &protocol.PacketInit{}, msgs[0])
}

func TestSendFailsForBadAddress(t *testing.T) {
	h := newHarness(t)
	err := h.m.Send("not an address", &protocol.SendLobbyMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.Empty(t, h.streams)
}

func TestCloseFreesEverything(t *testing.T) {
	h := newHarness(t)
	h.establish(testAddr)
	require.NoError(t, h.m.Close())
	assert.True(t, h.poller.closed)
	assert.Empty(t, h.m.Connections())
}
