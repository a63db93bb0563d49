//go:build linux

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	p, err := NewPoller(0)
	require.NoError(t, err)
	defer p.Close()

	stream, err := DialTCP(ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer stream.Close()

	const token Token = 3
	require.NoError(t, p.Register(stream.Fd(), token))

	triggers := waitFor(t, p, token, Writable)
	assert.False(t, triggers.Has(Closed))
	require.NoError(t, stream.Err())

	peer := <-accepted
	defer peer.Close()

	_, err = peer.Write([]byte("ping"))
	require.NoError(t, err)
	waitFor(t, p, token, Readable)

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = stream.Read(buf)
	assert.Equal(t, ClassWouldBlock, Classify(err))

	require.NoError(t, peer.Close())
	waitFor(t, p, token, Readable)
	_, err = stream.Read(buf)
	assert.ErrorIs(t, err, ErrPeerClosed)

	require.NoError(t, p.Deregister(stream.Fd()))
}

func TestPollerTimeoutReturnsEmpty(t *testing.T) {
	p, err := NewPoller(4)
	require.NoError(t, err)
	defer p.Close()

	triggers, err := p.Tick(5 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestTimeoutMillisRoundsUp(t *testing.T) {
	assert.Equal(t, -1, timeoutMillis(-time.Second))
	assert.Equal(t, 0, timeoutMillis(0))
	assert.Equal(t, 1, timeoutMillis(time.Microsecond))
	assert.Equal(t, 16, timeoutMillis(16*time.Millisecond))
}

func waitFor(t *testing.T, p *Poller, token Token, want Trigger) Trigger {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		triggers, err := p.Tick(50 * time.Millisecond)
		require.NoError(t, err)
		if tr, ok := triggers[token]; ok && tr.Has(want) {
			return tr
		}
	}
	t.Fatalf("token %d never became %d", token, want)
	return 0
}
