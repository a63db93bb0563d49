// Package codec turns queued packets into transport-sized buffers and
// reassembles packets from the inbound byte stream.
package codec

import (
	"github.com/eapache/queue"

	"github.com/LeonardBesson/lobby-client-lib/internal/buffer"
	"github.com/LeonardBesson/lobby-client-lib/internal/metrics"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

// DefaultTargetBufferSize is the preferred size of an outbound buffer.
const DefaultTargetBufferSize = 8 * 1024

// Encoder batches queued packets into buffers of at most targetSize bytes.
// A packet larger than targetSize is emitted alone rather than dropped.
type Encoder struct {
	reg        *protocol.Registry
	targetSize int

	packets *queue.Queue // *protocol.Packet, FIFO
	buffers *queue.Queue // *buffer.ByteBuffer, FIFO
	builder *protocol.PacketBuilder
}

// NewEncoder creates an encoder. A non-positive targetSize selects the default.
func NewEncoder(reg *protocol.Registry, targetSize int) *Encoder {
	if targetSize <= 0 {
		targetSize = DefaultTargetBufferSize
	}
	return &Encoder{
		reg:        reg,
		targetSize: targetSize,
		packets:    queue.New(),
		buffers:    queue.New(),
		builder:    protocol.NewPacketBuilder(targetSize),
	}
}

// Add queues a packet for encoding.
func (e *Encoder) Add(p *protocol.Packet) {
	e.packets.Add(p)
}

// Pending returns the number of packets not yet packed into a buffer.
func (e *Encoder) Pending() int {
	return e.packets.Length()
}

// TargetSize returns the preferred buffer size.
func (e *Encoder) TargetSize() int {
	return e.targetSize
}

// NextBuffer returns the next completed buffer, packing queued packets if
// none is ready. It returns false when nothing is queued.
func (e *Encoder) NextBuffer() (*buffer.ByteBuffer, bool) {
	if e.buffers.Length() == 0 {
		e.pack()
	}
	if e.buffers.Length() == 0 {
		return nil, false
	}
	return e.buffers.Remove().(*buffer.ByteBuffer), true
}

// pack fills one buffer greedily, stopping before the packet that would push
// a non-empty buffer over the target size.
func (e *Encoder) pack() {
	e.builder.Reset()
	packed := 0
	for e.packets.Length() > 0 {
		p := e.packets.Peek().(*protocol.Packet)
		info, ok := e.reg.Lookup(p.Type)
		if !ok {
			// Packets are built through NewPacket, which rejects unknown types.
			panic("encoder: queued packet of unregistered type " + p.Type.String())
		}
		size := p.EncodedSize(info)
		if e.builder.Len() > 0 && e.builder.Len()+size > e.targetSize {
			break
		}
		e.packets.Remove()
		e.builder.PutPacket(p, info)
		packed++
	}
	if packed == 0 {
		return
	}
	e.buffers.Add(buffer.New(e.builder.Build()))
	metrics.PacketsEncodedTotal.Add(float64(packed))
	metrics.BuffersEncodedTotal.Inc()
}
