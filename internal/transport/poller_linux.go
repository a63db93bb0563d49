//go:build linux

package transport

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is an edge-triggered epoll(7) instance. The Token of each
// registration is stored in the event's Fd field; the descriptor itself is
// never read back from events.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates an epoll instance returning up to capacity events per
// Tick. A non-positive capacity selects PollerCapacity.
func NewPoller(capacity int) (*Poller, error) {
	if capacity <= 0 {
		capacity = PollerCapacity
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, capacity)}, nil
}

// Register starts watching fd for read, write and hang-up readiness.
func (p *Poller) Register(fd int, token Token) error {
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(token),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("failed to register fd %d: %w", fd, err)
	}
	return nil
}

// Deregister stops watching fd.
func (p *Poller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("failed to deregister fd %d: %w", fd, err)
	}
	return nil
}

// Tick waits up to timeout (negative waits forever) and returns the
// triggers that fired, OR-coalesced per token.
func (p *Poller) Tick(timeout time.Duration) (map[Token]Trigger, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return map[Token]Trigger{}, nil
		}
		return nil, fmt.Errorf("epoll wait failed: %w", err)
	}

	triggers := make(map[Token]Trigger, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var t Trigger
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
			t |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			t |= Writable
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			t |= Closed
		}
		triggers[Token(ev.Fd)] |= t
	}
	return triggers, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
