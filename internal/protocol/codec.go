package protocol

import (
	"errors"
	"fmt"

	bstd "github.com/deneonet/benc/std"
)

// ErrTrailingBytes is returned when a payload holds more bytes than its
// message consumed.
var ErrTrailingBytes = errors.New("trailing bytes after message")

// Message is any payload that can be carried by a Packet. Implementations
// use benc primitives; optional fields are a presence bool followed by the
// value and slices are a uint32 count followed by the elements.
type Message interface {
	Type() PacketType
	Size() int
	Marshal(b []byte)
	Unmarshal(b []byte) error
}

// Encode serializes msg into a new packet.
func Encode(reg *Registry, msg Message) (*Packet, error) {
	if !reg.Has(msg.Type()) {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredType, msg.Type())
	}
	size := msg.Size()
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s payload of %d bytes", ErrPayloadTooLarge, msg.Type(), size)
	}
	b := make([]byte, size)
	msg.Marshal(b)
	return NewPacket(reg, msg.Type(), b), nil
}

// Decode deserializes the payload of pkt into a message of its type.
func Decode(reg *Registry, pkt *Packet) (Message, error) {
	msg, err := reg.NewMessage(pkt.Type)
	if err != nil {
		return nil, err
	}
	if msg.Type() != pkt.Type {
		return nil, fmt.Errorf("%w: registry built %s for %s", ErrTypeMismatch, msg.Type(), pkt.Type)
	}
	if err := msg.Unmarshal(pkt.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", pkt.Type, err)
	}
	return msg, nil
}

func expectEnd(n int, b []byte, err error) error {
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d consumed", ErrTrailingBytes, n, len(b))
	}
	return nil
}

func sizeOptString(s *string) int {
	if s == nil {
		return bstd.SizeBool()
	}
	return bstd.SizeBool() + bstd.SizeString(*s)
}

func marshalOptString(n int, b []byte, s *string) int {
	n = bstd.MarshalBool(n, b, s != nil)
	if s != nil {
		n = bstd.MarshalString(n, b, *s)
	}
	return n
}

func unmarshalOptString(n int, b []byte) (int, *string, error) {
	n, present, err := bstd.UnmarshalBool(n, b)
	if err != nil || !present {
		return n, nil, err
	}
	n, s, err := bstd.UnmarshalString(n, b)
	if err != nil {
		return n, nil, err
	}
	return n, &s, nil
}

func sizeOptProfile(p *UserProfile) int {
	if p == nil {
		return bstd.SizeBool()
	}
	return bstd.SizeBool() + p.size()
}

func marshalOptProfile(n int, b []byte, p *UserProfile) int {
	n = bstd.MarshalBool(n, b, p != nil)
	if p != nil {
		n = p.marshal(n, b)
	}
	return n
}

func unmarshalOptProfile(n int, b []byte) (int, *UserProfile, error) {
	n, present, err := bstd.UnmarshalBool(n, b)
	if err != nil || !present {
		return n, nil, err
	}
	p := &UserProfile{}
	n, err = p.unmarshal(n, b)
	if err != nil {
		return n, nil, err
	}
	return n, p, nil
}

// element is implemented by the structs carried in slices.
type element interface {
	size() int
	marshal(n int, b []byte) int
	unmarshal(n int, b []byte) (int, error)
}

func sizeSlice[T any, P interface {
	*T
	element
}](s []T) int {
	size := bstd.SizeUint32()
	for i := range s {
		size += P(&s[i]).size()
	}
	return size
}

func marshalSlice[T any, P interface {
	*T
	element
}](n int, b []byte, s []T) int {
	n = bstd.MarshalUint32(n, b, uint32(len(s)))
	for i := range s {
		n = P(&s[i]).marshal(n, b)
	}
	return n
}

func unmarshalSlice[T any, P interface {
	*T
	element
}](n int, b []byte) (int, []T, error) {
	n, count, err := bstd.UnmarshalUint32(n, b)
	if err != nil {
		return n, nil, err
	}
	// Every element takes at least one byte; reject counts the payload cannot hold.
	if int(count) > len(b)-n {
		return n, nil, fmt.Errorf("slice count %d exceeds remaining %d bytes", count, len(b)-n)
	}
	out := make([]T, count)
	for i := range out {
		if n, err = P(&out[i]).unmarshal(n, b); err != nil {
			return n, nil, err
		}
	}
	return n, out, nil
}
