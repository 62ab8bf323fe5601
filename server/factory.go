package server

import (
	"syscall"

	khttp "github.com/kourier-go/kourier/http"
	"github.com/kourier-go/kourier/internal/klog"
	"github.com/kourier-go/kourier/internal/metrics"
	"github.com/kourier-go/kourier/internal/reactor"
	"github.com/kourier-go/kourier/internal/signalslot"
	"github.com/kourier-go/kourier/internal/tcpsock"
)

// HandlerFactory turns an accepted file descriptor into a registered
// ConnHandler without the listener needing to know about routing, limits,
// or error reporting — it only ever hands over ownership of a descriptor.
type HandlerFactory struct {
	graph    *signalslot.Graph
	notifier *reactor.Notifier
	registry *Registry
	router   *khttp.Router
	limits   *khttp.Limits
	date     *khttp.DateHeaderCache
	errs     khttp.ErrorHandler
	mx       *metrics.Metrics
	opts     tcpsock.Options
}

// NewHandlerFactory builds a factory sharing graph/notifier/registry with
// one worker, and router/limits/errs across every worker (those are
// constructed once and shared by reference-counted pointer, per the
// concurrency model).
func NewHandlerFactory(
	graph *signalslot.Graph,
	notifier *reactor.Notifier,
	registry *Registry,
	router *khttp.Router,
	limits *khttp.Limits,
	date *khttp.DateHeaderCache,
	errs khttp.ErrorHandler,
	mx *metrics.Metrics,
) *HandlerFactory {
	return &HandlerFactory{
		graph:    graph,
		notifier: notifier,
		registry: registry,
		router:   router,
		limits:   limits,
		date:     date,
		errs:     errs,
		mx:       mx,
		opts:     tcpsock.DefaultOptions(),
	}
}

// Accept wraps fd in a Socket, builds a ConnHandler over it, and registers
// the handler with this worker's registry. On any failure the descriptor is
// closed and ownership never transfers, per the listener-interface
// contract.
func (f *HandlerFactory) Accept(fd int) {
	sock, err := tcpsock.FromAcceptedFD(f.graph, f.notifier, fd, f.opts)
	if err != nil {
		klog.L.WithError(err).Warn("server: failed to wrap accepted descriptor")
		syscall.Close(fd)
		return
	}
	h, err := khttp.NewConnHandler(f.graph, f.notifier, sock, f.router, f.limits, f.date, f.errs, f.mx)
	if err != nil {
		klog.L.WithError(err).Warn("server: failed to construct connection handler")
		sock.Abort()
		return
	}
	if err := f.registry.Add(h); err != nil {
		klog.L.WithError(err).Debug("server: rejecting connection over the configured ceiling")
		sock.Abort()
		return
	}
}
