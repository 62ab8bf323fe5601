package server

import (
	"runtime"
	"syscall"
	"time"

	khttp "github.com/kourier-go/kourier/http"
	"github.com/kourier-go/kourier/internal/klog"
	"github.com/kourier-go/kourier/internal/metrics"
	"github.com/kourier-go/kourier/internal/reactor"
	"github.com/kourier-go/kourier/internal/signalslot"
)

// dispatchTimeout bounds how long one DispatchOnce call blocks waiting for
// events; the worker loop re-checks its stop channel and accept queue on
// every return, so this is a liveness knob, not a protocol one.
const dispatchTimeout = 1 * time.Second

// Worker runs one single-threaded cooperative event loop: one notifier, one
// signal/slot graph, one deferred-deletion queue, and the connection
// registry built over them. Go has no language-level thread-local storage,
// so "per-worker-thread singleton" from the concurrency model is expressed
// instead as these being unshared fields of one Worker value, with Run
// pinning the goroutine that drives them to a single OS thread so a future
// syscall-heavy socket option can rely on thread affinity if needed.
type Worker struct {
	Graph    *signalslot.Graph
	Notifier *reactor.Notifier
	Deferred *reactor.DeferredQueue
	Registry *Registry
	Factory  *HandlerFactory
	Date     *khttp.DateHeaderCache

	dateTimer *reactor.Timer
	accept    chan int
	stop      chan struct{}
}

// NewWorker constructs a worker's notifier, deferred queue, graph, registry,
// and handler factory, wiring them to router/limits/errs/metrics shared
// across every worker in the process.
func NewWorker(router *khttp.Router, limits *khttp.Limits, errs khttp.ErrorHandler, mx *metrics.Metrics) (*Worker, error) {
	notifier, err := reactor.New()
	if err != nil {
		return nil, err
	}
	deferred, err := reactor.NewDeferredQueue(notifier)
	if err != nil {
		return nil, err
	}
	graph := signalslot.NewGraph()
	date := khttp.NewDateHeaderCache()
	registry := NewRegistry(deferred, limits, mx)
	factory := NewHandlerFactory(graph, notifier, registry, router, limits, date, errs, mx)

	w := &Worker{
		Graph:    graph,
		Notifier: notifier,
		Deferred: deferred,
		Registry: registry,
		Factory:  factory,
		Date:     date,
		accept:   make(chan int, 256),
		stop:     make(chan struct{}),
	}

	dateTimer, err := reactor.NewTimer(notifier, date.Refresh)
	if err != nil {
		return nil, err
	}
	w.dateTimer = dateTimer
	if err := dateTimer.Start(time.Second, true); err != nil {
		return nil, err
	}
	return w, nil
}

// Submit hands an accepted descriptor to this worker's accept loop. Safe to
// call from a different goroutine (the listener's accept loop); the
// descriptor itself must not be touched again by the caller.
func (w *Worker) Submit(fd int) {
	select {
	case w.accept <- fd:
	case <-w.stop:
		klog.L.Warn("server: worker stopped, closing late-submitted descriptor")
		syscall.Close(fd)
	}
}

// Stop requests the worker's Run loop to exit after its current dispatch.
func (w *Worker) Stop() { close(w.stop) }

// Run drives this worker's event loop until Stop is called. It locks the
// calling goroutine to its current OS thread for the duration, since the
// notifier, deferred queue, and every Object created on this graph are only
// ever meant to be touched from one thread.
func (w *Worker) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-w.stop:
			return
		case fd := <-w.accept:
			w.Factory.Accept(fd)
		default:
		}

		if err := w.Notifier.DispatchOnce(dispatchTimeout); err != nil {
			klog.L.WithError(err).Error("server: dispatch failed")
			return
		}

		// Drain any descriptors that arrived while dispatching, so a
		// burst of accepts doesn't wait a full dispatch timeout each.
		drained := true
		for drained {
			select {
			case fd := <-w.accept:
				w.Factory.Accept(fd)
			default:
				drained = false
			}
		}
	}
}
