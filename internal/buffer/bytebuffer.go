// Package buffer provides the byte containers moved between the codec and
// the socket, and the ordered transform pipeline applied to them.
package buffer

import (
	"fmt"
	"sync/atomic"
)

// ByteBuffer is an owned, shareable view over a byte region. Slices share
// storage and reference count with their parent; Skip drops a prefix without
// copying. The region is dropped once every holder has called Release.
type ByteBuffer struct {
	data     []byte
	refs     *atomic.Int32
	released bool
}

// New wraps data. The buffer takes ownership of the slice.
func New(data []byte) *ByteBuffer {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &ByteBuffer{data: data, refs: refs}
}

// FromCopy returns a buffer holding a private copy of data.
func FromCopy(data []byte) *ByteBuffer {
	cp := make([]byte, len(data))
	copy(cp, data)
	return New(cp)
}

// Bytes returns the current view. Callers must not retain it past Release.
func (b *ByteBuffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes in the current view.
func (b *ByteBuffer) Len() int {
	return len(b.data)
}

// Skip drops the first n bytes of the view. It panics if n exceeds Len.
func (b *ByteBuffer) Skip(n int) {
	if n < 0 || n > len(b.data) {
		panic(fmt.Sprintf("buffer: skip %d out of range [0, %d]", n, len(b.data)))
	}
	b.data = b.data[n:]
}

// Slice returns a new buffer viewing [from, to) of this one. The new buffer
// holds its own reference on the shared region.
func (b *ByteBuffer) Slice(from, to int) *ByteBuffer {
	if from < 0 || to < from || to > len(b.data) {
		panic(fmt.Sprintf("buffer: slice [%d:%d] out of range [0, %d]", from, to, len(b.data)))
	}
	b.refs.Add(1)
	return &ByteBuffer{data: b.data[from:to:to], refs: b.refs}
}

// Share returns a second handle on the whole current view.
func (b *ByteBuffer) Share() *ByteBuffer {
	return b.Slice(0, len(b.data))
}

// Release drops this handle's reference and clears its view. Releasing a
// handle twice is a no-op.
func (b *ByteBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.refs.Add(-1)
	b.data = nil
}

// Refs returns the number of live references on the shared region.
func (b *ByteBuffer) Refs() int32 {
	return b.refs.Load()
}

// Copy returns a standalone copy of the current view.
func (b *ByteBuffer) Copy() []byte {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp
}

func (b *ByteBuffer) String() string {
	return fmt.Sprintf("ByteBuffer[%d bytes, refs=%d]", len(b.data), b.refs.Load())
}
