package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wideRegistry registers two extra variable-size types around the
// short/long type boundary.
func wideRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := DefaultRegistry()
	require.NoError(t, reg.Register(PacketInfo{Type: 255, Name: "Short"}))
	require.NoError(t, reg.Register(PacketInfo{Type: 256, Name: "Long"}))
	return reg
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, int(PacketTypeLast), reg.Count())

	info, ok := reg.Lookup(PacketTypeFetchFriendList)
	require.True(t, ok)
	assert.True(t, info.Fixed)
	assert.Equal(t, 0, info.FixedSize)

	info, ok = reg.Lookup(PacketTypeInit)
	require.True(t, ok)
	assert.False(t, info.Fixed)
	assert.Equal(t, "PacketInit", info.Name)

	assert.False(t, reg.Has(PacketTypeLast))
	assert.False(t, reg.Has(MaxPacketTypes+1))
}

func TestRegistryRegisterErrors(t *testing.T) {
	reg := NewRegistry(4)
	require.NoError(t, reg.Register(PacketInfo{Type: 1, Name: "One"}))

	assert.ErrorIs(t, reg.Register(PacketInfo{Type: 1, Name: "Again"}), ErrTypeRegistered)
	assert.ErrorIs(t, reg.Register(PacketInfo{Type: 4, Name: "TooFar"}), ErrTypeOutOfRange)
	assert.ErrorIs(t, reg.Register(PacketInfo{Type: 2, Fixed: true, FixedSize: -1}), ErrInvalidFixedSize)

	_, err := reg.NewMessage(3)
	assert.ErrorIs(t, err, ErrUnregisteredType)
}

func TestNewPacketFlags(t *testing.T) {
	reg := wideRegistry(t)

	p := NewPacket(reg, PacketTypeInit, make([]byte, 255))
	assert.Equal(t, FlagFixedHeader|FlagShortType|FlagShortSize, p.Flags)
	assert.Equal(t, 3, HeaderSize(p.Flags, false))

	p = NewPacket(reg, PacketTypeInit, make([]byte, 256))
	assert.Equal(t, FlagFixedHeader|FlagShortType, p.Flags)
	assert.Equal(t, 5, HeaderSize(p.Flags, false))

	p = NewPacket(reg, 255, nil)
	assert.NotZero(t, p.Flags&FlagShortType)

	p = NewPacket(reg, 256, nil)
	assert.Zero(t, p.Flags&FlagShortType)
	assert.Equal(t, 4, HeaderSize(p.Flags, false))
}

func TestNewPacketFixedSize(t *testing.T) {
	reg := DefaultRegistry()

	p := NewPacket(reg, PacketTypeFetchFriendList, nil)
	assert.Zero(t, p.Flags&FlagShortSize, "fixed-size types carry no size field")
	assert.Equal(t, 2, HeaderSize(p.Flags, true))

	assert.Panics(t, func() {
		NewPacket(reg, PacketTypeFetchFriendList, []byte{1})
	})
	assert.Panics(t, func() {
		NewPacket(reg, PacketTypeLast, nil)
	})
}

func TestBuilderLongSizeHeader(t *testing.T) {
	reg := DefaultRegistry()
	payload := bytes.Repeat([]byte{0xAB}, 300)
	p := NewPacket(reg, PacketTypeInit, payload)
	info, _ := reg.Lookup(PacketTypeInit)

	out := NewPacketBuilder(0).PutPacket(p, info).Build()
	require.Len(t, out, 5+300)
	assert.Equal(t, []byte{FlagFixedHeader | FlagShortType, 0x01, 0x00, 0x01, 0x2C}, out[:5])
	assert.Equal(t, payload, out[5:])
	assert.Equal(t, 305, p.EncodedSize(info))
}

func TestBuilderLongType(t *testing.T) {
	reg := wideRegistry(t)
	p := NewPacket(reg, 256, []byte{7})
	info, _ := reg.Lookup(256)

	out := NewPacketBuilder(8).PutPacket(p, info).Build()
	assert.Equal(t, []byte{FlagFixedHeader | FlagShortSize, 0x01, 0x00, 0x01, 7}, out)
}
