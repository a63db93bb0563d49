// Package transport wraps non-blocking TCP sockets, their buffer queues and
// the readiness poller that drives them.
package transport

import (
	"errors"
	"syscall"
)

var (
	// ErrPeerClosed is returned by reads that hit end of stream.
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrUnsupportedPlatform is returned where epoll is unavailable.
	ErrUnsupportedPlatform = errors.New("transport: this platform is not supported")

	// ErrSocketClosed is returned by I/O on a socket after Close.
	ErrSocketClosed = errors.New("socket is closed")
)

// ErrorClass tells the connection manager how to react to an I/O error.
type ErrorClass int

const (
	ClassNone       ErrorClass = iota // No error
	ClassWouldBlock                   // Retry on the next readiness event
	ClassFatal                        // Peer unusable: tear down and free
	ClassUnknown                      // Logged; fatal after repeated occurrences
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassWouldBlock:
		return "would_block"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an I/O error to its ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
		return ClassWouldBlock
	case errors.Is(err, ErrPeerClosed),
		errors.Is(err, ErrSocketClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return ClassFatal
	default:
		return ClassUnknown
	}
}
