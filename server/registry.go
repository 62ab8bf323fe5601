// Package server assembles the per-worker pieces — the reactor notifier,
// the deferred-deletion queue, the connection registry, and the accept loop
// that feeds them — into a running HTTP server.
package server

import (
	"errors"

	khttp "github.com/kourier-go/kourier/http"
	"github.com/kourier-go/kourier/internal/metrics"
	"github.com/kourier-go/kourier/internal/reactor"
)

// ErrTooManyConnections is returned by Registry.Add when limits.MaxConnectionCount
// is non-zero and already reached.
var ErrTooManyConnections = errors.New("server: max connection count reached")

// Registry tracks every live ConnHandler owned by one worker and enforces
// that worker's connection-count ceiling. Destruction always goes through
// the worker's deferred-deletion queue: a handler that just signaled
// "finished" is still inside that signal's dispatch, so removing it from
// the graph right away would violate the no-destruction-while-dispatching
// invariant the observer graph enforces.
type Registry struct {
	deferred *reactor.DeferredQueue
	limits   *khttp.Limits
	mx       *metrics.Metrics

	live map[uint64]*khttp.ConnHandler
}

// NewRegistry returns a registry that schedules evictions on deferred.
func NewRegistry(deferred *reactor.DeferredQueue, limits *khttp.Limits, mx *metrics.Metrics) *Registry {
	return &Registry{
		deferred: deferred,
		limits:   limits,
		mx:       mx,
		live:     make(map[uint64]*khttp.ConnHandler),
	}
}

// Len reports how many connections are currently tracked.
func (r *Registry) Len() int { return len(r.live) }

// Add registers h and connects its "finished" signal to the eviction path.
// Fails with ErrTooManyConnections if the worker's connection ceiling is
// already at capacity.
func (r *Registry) Add(h *khttp.ConnHandler) error {
	if r.limits.MaxConnectionCount != 0 && len(r.live) >= r.limits.MaxConnectionCount {
		return ErrTooManyConnections
	}
	r.live[h.ID()] = h
	r.mx.ObserveAccept()
	h.Connect(khttp.SignalFinished, nil, func(args ...any) {
		r.evict(h)
	})
	return nil
}

func (r *Registry) evict(h *khttp.ConnHandler) {
	if _, ok := r.live[h.ID()]; !ok {
		return
	}
	delete(r.live, h.ID())
	r.mx.ObserveClose()
	r.deferred.Schedule(h)
}
