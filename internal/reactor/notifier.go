// Package reactor implements the core's readiness multiplexer: an
// edge-triggered epoll notifier (component A), a deferred-deletion queue
// (component B), and timerfd-backed timers (component J). It is the Linux-
// only half of the design — the non-goals here exclude ("cross-platform
// non-Linux event notification").
//
// There is no OS-level thread-local storage in Go the way there is in the
// C++ original (goroutines are not 1:1 with OS threads), so "at most one
// notifier per worker thread" is expressed by construction instead of by a
// magic Current() accessor: each server.Worker owns exactly one *Notifier as
// a field and pins its run loop to an OS thread with runtime.LockOSThread.
// See DESIGN.md, Open Questions.
package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Source is a (file-descriptor, interest-mask, on-event) triple registered
// with exactly one Notifier at a time.
type Source struct {
	FD       int
	Interest uint32 // unix.EPOLLIN / EPOLLOUT, OR'd together
	OnEvent  func(mask uint32)

	notifier *Notifier
	enabled  bool
}

// Enabled reports whether the source currently participates in the
// notifier's interest set.
func (s *Source) Enabled() bool { return s.enabled }

// SetEnabled toggles membership in the active interest set without
// unregistering (and without reallocating any notifier-side state), per
// the set-enabled-interest contract.
func (s *Source) SetEnabled(enabled bool) error {
	if s.notifier == nil || s.enabled == enabled {
		s.enabled = enabled
		return nil
	}
	return s.notifier.setEnabled(s, enabled)
}

// Notifier manages one epoll instance and dispatches readiness events to
// registered sources.
type Notifier struct {
	epfd    int
	sources map[int]*Source
	events  []unix.EpollEvent
}

// New creates a new epoll instance. Failure here is a startup precondition
// callers should treat a non-nil error as fatal.
func New() (*Notifier, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Notifier{
		epfd:    fd,
		sources: make(map[int]*Source),
		events:  make([]unix.EpollEvent, 256),
	}, nil
}

// Close releases the epoll descriptor. Registered sources are not closed.
func (n *Notifier) Close() error {
	return unix.Close(n.epfd)
}

// Register associates source's descriptor with its interest mask. Idempotent:
// calling it twice for the same FD just updates the interest mask.
func (n *Notifier) Register(s *Source) error {
	op := unix.EPOLL_CTL_ADD
	if existing, ok := n.sources[s.FD]; ok {
		if existing != s {
			return fmt.Errorf("reactor: fd %d already registered", s.FD)
		}
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: s.Interest | unix.EPOLLET, Fd: int32(s.FD)}
	if err := unix.EpollCtl(n.epfd, op, s.FD, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", s.FD, err)
	}
	s.notifier = n
	s.enabled = true
	n.sources[s.FD] = s
	return nil
}

// Unregister removes source from the notifier. The descriptor itself is not
// closed — ownership of the FD stays with whoever created the source.
func (n *Notifier) Unregister(s *Source) error {
	if _, ok := n.sources[s.FD]; !ok {
		return nil
	}
	delete(n.sources, s.FD)
	s.notifier = nil
	s.enabled = false
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, s.FD, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", s.FD, err)
	}
	return nil
}

func (n *Notifier) setEnabled(s *Source, enabled bool) error {
	mask := uint32(0)
	if enabled {
		mask = s.Interest | unix.EPOLLET
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(s.FD)}
	if err := unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, s.FD, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", s.FD, err)
	}
	s.enabled = enabled
	return nil
}

// DispatchOnce blocks up to timeout (negative means "forever") for
// readiness, then invokes on-event exactly once per ready source.
// It is safe for a handler fired in this batch to disable, re-enable, or
// schedule the destruction of any source — including ones later in the same
// ready list, which are simply skipped if found disabled or unregistered by
// the time their turn comes.
func (n *Notifier) DispatchOnce(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	count, err := unix.EpollWait(n.epfd, n.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < count; i++ {
		fd := int(n.events[i].Fd)
		s, ok := n.sources[fd]
		if !ok || !s.enabled {
			continue
		}
		s.OnEvent(n.events[i].Events)
	}
	return nil
}
