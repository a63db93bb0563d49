//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tcpStream is a raw non-blocking TCP socket.
type tcpStream struct {
	fd     int
	closed bool
}

// DialTCP creates a non-blocking socket and starts connecting to addr.
// The connect completes asynchronously; the first writable readiness
// event (or a Closed one on failure) reports the outcome.
func DialTCP(addr *net.TCPAddr) (Stream, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if ip4 := addr.IP.To4(); ip4 != nil {
		family = unix.AF_INET
		s := &unix.SockaddrInet4{Port: addr.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		family = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: addr.Port}
		copy(s.Addr[:], addr.IP.To16())
		sa = s
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &tcpStream{fd: fd}, nil
}

func (s *tcpStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	for {
		n, err := unix.Read(s.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 && len(p) > 0 {
			return 0, ErrPeerClosed
		}
		return n, nil
	}
}

func (s *tcpStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSocketClosed
	}
	for {
		n, err := unix.Write(s.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (s *tcpStream) SetNoDelay(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

func (s *tcpStream) Err() error {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return syscall.Errno(v)
	}
	return nil
}

func (s *tcpStream) Fd() int {
	return s.fd
}

func (s *tcpStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	// Shutdown fails with ENOTCONN when the connect never completed.
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	return unix.Close(s.fd)
}
