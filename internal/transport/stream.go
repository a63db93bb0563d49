package transport

import "time"

// Stream is a non-blocking byte stream. Read and Write return EAGAIN-class
// errors instead of blocking; Read returns ErrPeerClosed at end of stream.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// SetNoDelay toggles send coalescing (Nagle) off when enabled is true.
	SetNoDelay(enabled bool) error

	// Err returns the pending socket error, such as a refused connect.
	Err() error

	// Fd returns the descriptor registered with the Poller.
	Fd() int

	Close() error
}

// Token identifies a connection slot in readiness notifications.
type Token uint32

// Trigger is a bitmask of readiness conditions for one Token.
type Trigger uint8

const (
	Readable Trigger = 1 << 0
	Writable Trigger = 1 << 1
	Closed   Trigger = 1 << 2
)

// Has reports whether every bit of x is set in t.
func (t Trigger) Has(x Trigger) bool {
	return t&x == x
}

// PollerCapacity is the number of readiness events fetched per Tick.
const PollerCapacity = 256

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	// Round up so a sub-millisecond wait does not become a busy poll.
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
