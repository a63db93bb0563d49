package protocol

import "fmt"

// PacketBuilder assembles packet headers and payloads into a contiguous
// byte slice. Multi-byte header fields are written big-endian.
type PacketBuilder struct {
	buf []byte
}

// NewPacketBuilder creates a builder with room for capacity bytes.
func NewPacketBuilder(capacity int) *PacketBuilder {
	return &PacketBuilder{buf: make([]byte, 0, capacity)}
}

// Reset clears the builder for reuse, keeping its storage.
func (b *PacketBuilder) Reset() {
	b.buf = b.buf[:0]
}

// PutByte writes a single byte.
func (b *PacketBuilder) PutByte(v byte) *PacketBuilder {
	b.buf = append(b.buf, v)
	return b
}

// PutUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) PutUint16(v uint16) *PacketBuilder {
	b.buf = append(b.buf, byte(v>>8), byte(v))
	return b
}

// PutUint24 writes the low 24 bits of v in big-endian order.
func (b *PacketBuilder) PutUint24(v uint32) *PacketBuilder {
	b.buf = append(b.buf, byte(v>>16), byte(v>>8), byte(v))
	return b
}

// PutBytes writes raw bytes.
func (b *PacketBuilder) PutBytes(data []byte) *PacketBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// PutHeader writes the header of p. Fixed-size types carry no size field.
func (b *PacketBuilder) PutHeader(p *Packet, info PacketInfo) *PacketBuilder {
	b.PutByte(p.Flags)
	if p.Flags&FlagShortType != 0 {
		b.PutByte(byte(p.Type))
	} else {
		b.PutUint16(uint16(p.Type))
	}
	if info.Fixed {
		return b
	}
	if p.Flags&FlagShortSize != 0 {
		b.PutByte(byte(len(p.Payload)))
	} else {
		b.PutUint24(uint32(len(p.Payload)))
	}
	return b
}

// PutPacket writes the full header and payload of p.
func (b *PacketBuilder) PutPacket(p *Packet, info PacketInfo) *PacketBuilder {
	return b.PutHeader(p, info).PutBytes(p.Payload)
}

// Build hands the written bytes to the caller. The builder starts over with
// fresh storage of the same capacity, so the returned slice is never reused.
func (b *PacketBuilder) Build() []byte {
	out := b.buf
	b.buf = make([]byte, 0, cap(out))
	return out
}

// Len returns the number of bytes written so far.
func (b *PacketBuilder) Len() int {
	return len(b.buf)
}

// String returns a hex dump of the current contents for debugging.
func (b *PacketBuilder) String() string {
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(b.buf), b.buf)
}
