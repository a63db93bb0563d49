package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

var (
	// ErrCorruptStream means a packet did not start with the fixed header bit.
	ErrCorruptStream = errors.New("corrupt packet stream")

	// ErrUnknownPacketType means the stream named a type missing from the registry.
	ErrUnknownPacketType = errors.New("unknown packet type")
)

// Decoder reassembles packets from an append-only byte stream. Once it has
// reported ErrCorruptStream or ErrUnknownPacketType it keeps returning that
// error: the stream cannot be resynchronised.
type Decoder struct {
	reg    *protocol.Registry
	stream []byte
	err    error
}

// NewDecoder creates a decoder resolving types through reg.
func NewDecoder(reg *protocol.Registry) *Decoder {
	return &Decoder{reg: reg}
}

// Push appends the contents of buf to the stream and releases buf.
func (d *Decoder) Push(buf *buffer.ByteBuffer) {
	data := buf.Bytes()
	if len(d.stream) == 0 {
		// Adopt the bytes; the cap limit forces the next append to reallocate.
		d.stream = data[:len(data):len(data)]
	} else {
		d.stream = append(d.stream, data...)
	}
	buf.Release()
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.stream)
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Next returns the next complete packet, or nil when more bytes are needed.
func (d *Decoder) Next() (*protocol.Packet, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.stream) < 1 {
		return nil, nil
	}

	flags := d.stream[0]
	if flags&protocol.FlagFixedHeader == 0 {
		d.err = fmt.Errorf("%w: flags byte %#02x", ErrCorruptStream, flags)
		return nil, d.err
	}

	typeLen := protocol.TypeFieldSize(flags)
	if len(d.stream) < 1+typeLen {
		return nil, nil
	}
	var t protocol.PacketType
	if typeLen == 1 {
		t = protocol.PacketType(d.stream[1])
	} else {
		t = protocol.PacketType(binary.BigEndian.Uint16(d.stream[1:3]))
	}
	info, ok := d.reg.Lookup(t)
	if !ok {
		d.err = fmt.Errorf("%w: %d", ErrUnknownPacketType, t)
		return nil, d.err
	}

	sizeLen := protocol.SizeFieldSize(flags, info.Fixed)
	headerLen := 1 + typeLen + sizeLen
	if len(d.stream) < headerLen {
		return nil, nil
	}

	var size int
	sizeField := d.stream[1+typeLen : headerLen]
	switch sizeLen {
	case 0:
		size = info.FixedSize
	case 1:
		size = int(sizeField[0])
	default:
		size = int(sizeField[0])<<16 | int(sizeField[1])<<8 | int(sizeField[2])
	}

	total := headerLen + size
	if len(d.stream) < total {
		return nil, nil
	}

	var payload []byte
	if size > 0 {
		payload = d.stream[headerLen:total:total]
	}
	d.stream = d.stream[total:]
	if len(d.stream) == 0 {
		d.stream = nil
	}

	metrics.PacketsDecodedTotal.WithLabelValues(info.Name).Inc()
	return &protocol.Packet{Flags: flags, Type: t, Payload: payload}, nil
}
