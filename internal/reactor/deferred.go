package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Deletable is anything that can be scheduled for deferred destruction: the
// signalslot.Object's ID dedupes repeated Schedule calls, Destroy performs
// the actual teardown.
type Deletable interface {
	ID() uint64
	Destroy()
}

// DeferredQueue defers object destruction to the next notifier dispatch,
// per component B: signal dispatch (C) may need to destroy an object, but
// destruction mid-dispatch would invalidate the dispatch iteration.
type DeferredQueue struct {
	fd        int
	source    *Source
	pending   []Deletable
	scheduled map[uint64]bool
	signaled  bool
}

// NewDeferredQueue creates an eventfd-backed queue and registers it with n.
func NewDeferredQueue(n *Notifier) (*DeferredQueue, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	q := &DeferredQueue{fd: fd, scheduled: make(map[uint64]bool)}
	q.source = &Source{FD: fd, Interest: unix.EPOLLIN, OnEvent: q.onEvent}
	if err := n.Register(q.source); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return q, nil
}

// Close unregisters the queue and closes its descriptor. Anything still
// pending is dropped without being destroyed.
func (q *DeferredQueue) Close(n *Notifier) error {
	n.Unregister(q.source)
	return unix.Close(q.fd)
}

// Schedule enqueues obj for destruction at the next dispatch. Idempotent:
// scheduling the same object twice before it is drained is a no-op.
func (q *DeferredQueue) Schedule(obj Deletable) {
	id := obj.ID()
	if q.scheduled[id] {
		return
	}
	q.scheduled[id] = true
	q.pending = append(q.pending, obj)
	if !q.signaled {
		q.signaled = true
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		unix.Write(q.fd, buf[:])
	}
}

func (q *DeferredQueue) onEvent(mask uint32) {
	var buf [8]byte
	unix.Read(q.fd, buf[:])
	q.signaled = false

	items := q.pending
	q.pending = nil
	q.scheduled = make(map[uint64]bool)

	// A destructor may itself Schedule further objects; those land in the
	// (now empty) pending slice above and are picked up on the next
	// dispatch, never re-entering this loop.
	for _, obj := range items {
		obj.Destroy()
	}
}
