package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a single-shot or periodic timeout scheduled over the notifier via
// a timerfd, component J. Cancellation is immediate: the next dispatch will
// not fire a stopped timer.
type Timer struct {
	fd        int
	source    *Source
	OnTimeout func()
	active    bool
	periodic  bool
}

// NewTimer creates a timerfd-backed timer and registers it with n. The timer
// is inactive until Start is called.
func NewTimer(n *Notifier, onTimeout func()) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	t := &Timer{fd: fd, OnTimeout: onTimeout}
	t.source = &Source{FD: fd, Interest: unix.EPOLLIN, OnEvent: t.onEvent}
	if err := n.Register(t.source); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Start arms the timer to fire after d, repeating every d if periodic.
func (t *Timer) Start(d time.Duration, periodic bool) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(int64(d)),
	}
	if periodic {
		spec.Interval = unix.NsecToTimespec(int64(d))
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("reactor: timerfd_settime: %w", err)
	}
	t.active = true
	t.periodic = periodic
	return nil
}

// Stop disarms the timer. The next dispatch will not invoke OnTimeout.
func (t *Timer) Stop() error {
	if !t.active {
		return nil
	}
	t.active = false
	var zero unix.ItimerSpec
	return unix.TimerfdSettime(t.fd, 0, &zero, nil)
}

// Active reports whether the timer is currently armed.
func (t *Timer) Active() bool { return t.active }

// Close unregisters and closes the underlying timerfd.
func (t *Timer) Close(n *Notifier) error {
	n.Unregister(t.source)
	return unix.Close(t.fd)
}

func (t *Timer) onEvent(mask uint32) {
	var buf [8]byte
	unix.Read(t.fd, buf[:])
	if !t.periodic {
		t.active = false
	}
	if t.OnTimeout != nil {
		t.OnTimeout()
	}
}
