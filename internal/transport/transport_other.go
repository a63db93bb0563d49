//go:build !linux

package transport

import (
	"net"
	"time"
)

// DialTCP is unavailable on this platform.
func DialTCP(addr *net.TCPAddr) (Stream, error) {
	return nil, ErrUnsupportedPlatform
}

// Poller is unavailable on this platform.
type Poller struct{}

// NewPoller is unavailable on this platform.
func NewPoller(capacity int) (*Poller, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *Poller) Register(fd int, token Token) error { return ErrUnsupportedPlatform }
func (p *Poller) Deregister(fd int) error            { return ErrUnsupportedPlatform }
func (p *Poller) Close() error                       { return nil }

func (p *Poller) Tick(timeout time.Duration) (map[Token]Trigger, error) {
	return nil, ErrUnsupportedPlatform
}

// ReuseAddrListenConfig returns the default listen config on this platform.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
