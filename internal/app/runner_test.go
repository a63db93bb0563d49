package app

import (
	"bytes"
	"context"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/client"
	"github.com/LeonardBesson/lobby-client-lib/internal/codec"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/network"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
	"github.com/LeonardBesson/lobby-client-lib/internal/transport"
)

// readyPoller reports token 0 as readable and writable on every tick.
type readyPoller struct{}

func (readyPoller) Register(int, transport.Token) error { return nil }
func (readyPoller) Deregister(int) error                { return nil }
func (readyPoller) Close() error                        { return nil }

func (readyPoller) Tick(time.Duration) (map[transport.Token]transport.Trigger, error) {
	return map[transport.Token]transport.Trigger{0: transport.Readable | transport.Writable}, nil
}

// serverStream plays the lobby server side of a connection.
type serverStream struct {
	mu  sync.Mutex
	in  []byte
	out bytes.Buffer
}

func (s *serverStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.in) == 0 {
		return 0, syscall.EAGAIN
	}
	n := copy(p, s.in)
	s.in = s.in[n:]
	return n, nil
}

func (s *serverStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *serverStream) SetNoDelay(bool) error { return nil }
func (s *serverStream) Err() error            { return nil }
func (s *serverStream) Fd() int               { return 7 }
func (s *serverStream) Close() error          { return nil }

func (s *serverStream) send(t *testing.T, msgs ...protocol.Message) {
	t.Helper()
	reg := protocol.DefaultRegistry()
	enc := codec.NewEncoder(reg, 0)
	for _, m := range msgs {
		pkt, err := protocol.Encode(reg, m)
		require.NoError(t, err)
		enc.Add(pkt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		buf, ok := enc.NextBuffer()
		if !ok {
			return
		}
		s.in = append(s.in, buf.Bytes()...)
	}
}

func (s *serverStream) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Len()
}

// received decodes and clears everything the client wrote.
func (s *serverStream) received(t *testing.T) []protocol.PacketType {
	t.Helper()
	s.mu.Lock()
	data := append([]byte(nil), s.out.Bytes()...)
	s.out.Reset()
	s.mu.Unlock()

	dec := codec.NewDecoder(protocol.DefaultRegistry())
	dec.Push(buffer.FromCopy(data))
	var types []protocol.PacketType
	for {
		pkt, err := dec.Next()
		require.NoError(t, err)
		if pkt == nil {
			return types
		}
		types = append(types, pkt.Type)
	}
}

func newTestRunner(t *testing.T, opts Options) (*Runner, *serverStream) {
	t.Helper()
	server := &serverStream{}
	c, err := client.New(client.Options{
		Addr:   "127.0.0.1:9000",
		Poller: readyPoller{},
		Dial: func(*net.TCPAddr) (transport.Stream, error) {
			return server, nil
		},
	})
	require.NoError(t, err)
	opts.Client = c
	return NewRunner(opts), server
}

func strPtr(s string) *string { return &s }

func TestAutoLoginAndRefresh(t *testing.T) {
	r, server := newTestRunner(t, Options{Email: "a@b.c", Password: "pw", AutoLogin: true})
	r.client.Connect()

	require.NoError(t, r.step())
	assert.Equal(t, []protocol.PacketType{protocol.PacketTypeInit}, server.received(t))

	server.send(t, &protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1})
	require.NoError(t, r.step())
	require.NoError(t, r.step())
	assert.Equal(t, []protocol.PacketType{protocol.PacketTypeAuthenticationRequest}, server.received(t))

	profile := protocol.UserProfile{UserTag: "ann#1", DisplayName: "Ann"}
	server.send(t, &protocol.AuthenticationResponse{SessionToken: strPtr("tok"), UserProfile: &profile})
	require.NoError(t, r.step())
	require.NoError(t, r.step())
	assert.Equal(t, []protocol.PacketType{
		protocol.PacketTypeFetchPendingFriendRequests,
		protocol.PacketTypeFetchFriendList,
	}, server.received(t))

	server.send(t, &protocol.FetchFriendListResponse{FriendList: []protocol.Friend{
		{UserProfile: protocol.UserProfile{UserTag: "bob#2", DisplayName: "Bob"}, IsOnline: true},
	}})
	require.NoError(t, r.step())

	status := r.Snapshot()
	assert.Equal(t, network.StateRunning, status.Session.State)
	assert.True(t, status.Session.Authenticated)
	require.NotNil(t, status.Session.Profile)
	assert.Equal(t, "ann#1", status.Session.Profile.UserTag)
	require.Len(t, status.Session.Friends, 1)
	assert.Equal(t, "bob#2", status.Session.Friends[0].UserProfile.UserTag)
	require.Len(t, status.Connections, 1)
}

func TestNoAutoLoginWithoutFlag(t *testing.T) {
	r, server := newTestRunner(t, Options{Email: "a@b.c", Password: "pw"})
	r.client.Connect()
	require.NoError(t, r.step())
	server.received(t)

	server.send(t, &protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1})
	require.NoError(t, r.step())
	require.NoError(t, r.step())
	assert.Empty(t, server.received(t))
	assert.Equal(t, network.StateAuthenticating, r.Snapshot().Session.State)
}

func TestEventsReachBusInOrder(t *testing.T) {
	bus := events.NewEventBus(16)
	var (
		mu  sync.Mutex
		got []events.EventType
	)
	bus.Subscribe(events.EventAny, "test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
		return nil
	})

	r, server := newTestRunner(t, Options{Bus: bus})
	r.client.Connect()
	require.NoError(t, r.step())
	server.send(t,
		&protocol.PacketInit{ProtocolVersion: 1, AppVersion: 1},
		&protocol.SystemNotification{Content: "welcome"},
		&protocol.LobbyJoined{LobbyID: "lobby-1"},
	)
	require.NoError(t, r.step())

	bus.Start(context.Background())
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventConnectionEstablished,
		events.EventSystemNotification,
		events.EventLobbyJoined,
	}, got)
	assert.Equal(t, "lobby-1", r.Snapshot().Session.LobbyID)
}

func TestRunSubmitAndExit(t *testing.T) {
	r, server := newTestRunner(t, Options{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The handshake goes out once the socket reports writable.
	require.Eventually(t, func() bool { return server.written() > 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, r.Submit(ctx, AddFriend("bob#2")))
	assert.ErrorIs(t, r.Submit(ctx, Login("", "")), ErrNoCredentials)
	require.NoError(t, r.Submit(ctx, Exit()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("runner did not exit")
	}

	assert.ErrorIs(t, r.Submit(context.Background(), Refresh()), ErrStopped)
	assert.Contains(t, server.received(t), protocol.PacketTypeAddFriendRequest)
	assert.Empty(t, r.Snapshot().Connections, "shutdown frees the connection")
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newTestRunner(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	<-r.Done()
}

func TestTickTimeout(t *testing.T) {
	r, _ := newTestRunner(t, Options{TickRate: 50})
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 20*time.Millisecond, r.tickTimeout(t0))
	assert.Equal(t, 15*time.Millisecond, r.tickTimeout(t0.Add(5*time.Millisecond)))
	assert.Equal(t, 20*time.Millisecond, r.tickTimeout(t0.Add(20*time.Millisecond)))
	assert.Equal(t, 20*time.Millisecond, r.tickTimeout(t0.Add(time.Second)))
}

func TestSessionLobbyLifecycle(t *testing.T) {
	var s Session
	inviter := protocol.UserProfile{UserTag: "cat#3"}

	s.apply(events.Event{Payload: events.LobbyInvitePayload{InviteID: "i1", Inviter: inviter}})
	s.apply(events.Event{Payload: events.LobbyInvitePayload{InviteID: "i2", Inviter: inviter}})
	s.apply(events.Event{Payload: events.LobbyInvitePayload{InviteID: "i1", Inviter: inviter}})
	require.Len(t, s.PendingInvites, 2)

	s.dropInvite("i2")
	require.Len(t, s.PendingInvites, 1)
	assert.Equal(t, "i1", s.PendingInvites[0].InviteID)

	s.apply(events.Event{Payload: events.LobbyJoinedPayload{LobbyID: "L"}})
	s.apply(events.Event{Payload: events.LobbyMemberUpdatePayload{LobbyID: "other", Members: make([]protocol.LobbyMember, 3)}})
	assert.Empty(t, s.LobbyMembers)
	s.apply(events.Event{Payload: events.LobbyMemberUpdatePayload{LobbyID: "L", Members: make([]protocol.LobbyMember, 2)}})
	assert.Len(t, s.LobbyMembers, 2)

	code := protocol.ErrorUserNotFound
	s.apply(events.Event{Payload: events.AddFriendResponsePayload{UserTag: "x", ErrorCode: &code}})
	assert.Equal(t, string(protocol.ErrorUserNotFound), s.LastError)

	s.apply(events.Event{Payload: events.DisconnectedPayload{Reason: "bye"}})
	assert.Equal(t, network.StateClosed, s.State)
	assert.Empty(t, s.LobbyID)
	assert.Empty(t, s.PendingInvites)
	assert.Equal(t, "bye", s.LastDisconnect)
}
