package protocol

import "fmt"

// Packet is one framed unit on the wire.
type Packet struct {
	Flags   byte
	Type    PacketType
	Payload []byte
}

// NewPacket builds a packet for a registered type, computing its flags from
// the type value and payload length. It panics if t is not registered, if a
// fixed-size type gets a payload of the wrong length, or if the payload does
// not fit a 24-bit size field.
func NewPacket(reg *Registry, t PacketType, payload []byte) *Packet {
	info, ok := reg.Lookup(t)
	if !ok {
		panic(fmt.Sprintf("packet type %d is not registered", t))
	}
	if info.Fixed && len(payload) != info.FixedSize {
		panic(fmt.Sprintf("packet %s has fixed size %d, got payload of %d bytes",
			info.Name, info.FixedSize, len(payload)))
	}
	if len(payload) > MaxPayloadSize {
		panic(fmt.Sprintf("packet %s payload of %d bytes exceeds %d", info.Name, len(payload), MaxPayloadSize))
	}
	return &Packet{
		Flags:   computeFlags(t, len(payload), info.Fixed),
		Type:    t,
		Payload: payload,
	}
}

func computeFlags(t PacketType, size int, fixed bool) byte {
	flags := FlagFixedHeader
	if t < 256 {
		flags |= FlagShortType
	}
	if !fixed && size < 256 {
		flags |= FlagShortSize
	}
	return flags
}

// TypeFieldSize returns the length of the type field announced by flags.
func TypeFieldSize(flags byte) int {
	if flags&FlagShortType != 0 {
		return 1
	}
	return 2
}

// SizeFieldSize returns the length of the size field announced by flags.
// Fixed-size types have none.
func SizeFieldSize(flags byte, fixed bool) int {
	switch {
	case fixed:
		return 0
	case flags&FlagShortSize != 0:
		return 1
	default:
		return 3
	}
}

// HeaderSize returns the full header length for a flags byte.
func HeaderSize(flags byte, fixed bool) int {
	return 1 + TypeFieldSize(flags) + SizeFieldSize(flags, fixed)
}

// EncodedSize returns the number of bytes p occupies on the wire.
func (p *Packet) EncodedSize(info PacketInfo) int {
	return HeaderSize(p.Flags, info.Fixed) + len(p.Payload)
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{type=%s flags=%#02x size=%d}", p.Type, p.Flags, len(p.Payload))
}
