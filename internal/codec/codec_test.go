package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

func payload(n int) []byte {
	return bytes.Repeat([]byte{0x5A}, n)
}

func drain(t *testing.T, e *Encoder) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		buf, ok := e.NextBuffer()
		if !ok {
			return out
		}
		out = append(out, buf.Bytes())
	}
}

func TestEncoderHeaderSizes(t *testing.T) {
	reg := protocol.DefaultRegistry()
	for _, tc := range []struct {
		size   int
		header int
	}{
		{25, 3},
		{255, 3},
		{256, 5},
	} {
		e := NewEncoder(reg, 0)
		e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(tc.size)))

		bufs := drain(t, e)
		require.Len(t, bufs, 1)
		assert.Len(t, bufs[0], tc.header+tc.size, "payload of %d bytes", tc.size)
	}
}

func TestEncoderBatchesSmallPackets(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 0)
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(25)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeSystemNotification, payload(30)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeFetchFriendList, nil))
	assert.Equal(t, 3, e.Pending())

	bufs := drain(t, e)
	require.Len(t, bufs, 1)
	assert.Len(t, bufs[0], 3+25+3+30+2)
	assert.Equal(t, 0, e.Pending())

	// Enqueue order is preserved.
	d := NewDecoder(reg)
	d.Push(buffer.New(bufs[0]))
	for _, want := range []protocol.PacketType{
		protocol.PacketTypeInit,
		protocol.PacketTypeSystemNotification,
		protocol.PacketTypeFetchFriendList,
	} {
		p, err := d.Next()
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, want, p.Type)
	}
}

func TestEncoderDefersOverflowingPacket(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 100)
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(60)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(60)))

	first, ok := e.NextBuffer()
	require.True(t, ok)
	assert.Equal(t, 63, first.Len())
	assert.Equal(t, 1, e.Pending())

	second, ok := e.NextBuffer()
	require.True(t, ok)
	assert.Equal(t, 63, second.Len())

	_, ok = e.NextBuffer()
	assert.False(t, ok)
}

func TestEncoderFillsExactlyToTarget(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 126)
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(60)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(60)))

	bufs := drain(t, e)
	require.Len(t, bufs, 1)
	assert.Len(t, bufs[0], 126)
}

func TestEncoderAdmitsOversizedPacket(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 64)
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(10)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(500)))
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(10)))

	bufs := drain(t, e)
	require.Len(t, bufs, 3)
	assert.Len(t, bufs[0], 13)
	assert.Len(t, bufs[1], 505)
	assert.Len(t, bufs[2], 13)
}

func TestRoundTrip(t *testing.T) {
	reg := protocol.DefaultRegistry()
	packets := []*protocol.Packet{
		protocol.NewPacket(reg, protocol.PacketTypeInit, payload(4)),
		protocol.NewPacket(reg, protocol.PacketTypeFetchPendingFriendRequests, nil),
		protocol.NewPacket(reg, protocol.PacketTypeNewLobbyMessage, payload(255)),
		protocol.NewPacket(reg, protocol.PacketTypeNewLobbyMessage, payload(256)),
		protocol.NewPacket(reg, protocol.PacketTypeFetchFriendListResponse, payload(70000)),
	}

	e := NewEncoder(reg, 0)
	for _, p := range packets {
		e.Add(p)
	}
	d := NewDecoder(reg)
	for _, b := range drain(t, e) {
		d.Push(buffer.New(b))
	}

	for _, want := range packets {
		got, err := d.Next()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got)
	}
	got, err := d.Next()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoderLongSizeExample(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 0)
	e.Add(protocol.NewPacket(reg, protocol.PacketTypeInit, payload(300)))
	bufs := drain(t, e)
	require.Len(t, bufs, 1)

	header := bufs[0][:5]
	assert.Equal(t, []byte{0xC0, 0x01, 0x00, 0x01, 0x2C}, header)
	assert.NotZero(t, header[0]&protocol.FlagShortType)
	assert.Zero(t, header[0]&protocol.FlagShortSize)

	d := NewDecoder(reg)
	d.Push(buffer.New(bufs[0]))
	p, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Payload, 300)
}

func TestDecoderPartialStream(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 0)
	want := protocol.NewPacket(reg, protocol.PacketTypeSystemNotification, payload(300))
	e.Add(want)
	bufs := drain(t, e)
	require.Len(t, bufs, 1)
	wire := bufs[0]

	d := NewDecoder(reg)

	// Less than a full header.
	d.Push(buffer.FromCopy(wire[:3]))
	p, err := d.Next()
	require.NoError(t, err)
	assert.Nil(t, p)

	// Full header, partial payload.
	d.Push(buffer.FromCopy(wire[3:100]))
	p, err = d.Next()
	require.NoError(t, err)
	assert.Nil(t, p)

	d.Push(buffer.FromCopy(wire[100:]))
	p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, want, p)

	p, err = d.Next()
	require.NoError(t, err)
	assert.Nil(t, p, "packet must not be emitted twice")
}

func TestDecoderByteByByte(t *testing.T) {
	reg := protocol.DefaultRegistry()
	e := NewEncoder(reg, 0)
	first := protocol.NewPacket(reg, protocol.PacketTypeLobbyJoined, payload(7))
	second := protocol.NewPacket(reg, protocol.PacketTypeFetchFriendList, nil)
	e.Add(first)
	e.Add(second)
	wire := drain(t, e)[0]

	d := NewDecoder(reg)
	var got []*protocol.Packet
	for i := range wire {
		d.Push(buffer.FromCopy(wire[i : i+1]))
		p, err := d.Next()
		require.NoError(t, err)
		if p != nil {
			got = append(got, p)
		}
	}
	assert.Equal(t, []*protocol.Packet{first, second}, got)
}

func TestDecoderCorruptStream(t *testing.T) {
	reg := protocol.DefaultRegistry()
	d := NewDecoder(reg)
	d.Push(buffer.New([]byte{0x40, 0x01, 0x00}))

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrCorruptStream)

	// Poisoned: valid bytes afterwards do not resync.
	d.Push(buffer.New([]byte{0xE0, 0x12, 0x00}))
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrCorruptStream)
	assert.ErrorIs(t, d.Err(), ErrCorruptStream)
}

func TestDecoderUnknownType(t *testing.T) {
	reg := protocol.DefaultRegistry()
	d := NewDecoder(reg)
	d.Push(buffer.New([]byte{0xE0, 0xC8, 0x00}))

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrUnknownPacketType)
}
