package http

import (
	"time"

	"github.com/kourier-go/kourier/internal/metrics"
	"github.com/kourier-go/kourier/internal/reactor"
	"github.com/kourier-go/kourier/internal/signalslot"
	"github.com/kourier-go/kourier/internal/tcpsock"
)

// SignalFinished fires once the connection has been fully torn down (either
// because the peer disconnected, an error forced closure, or keep-alive was
// not requested and the response was sent). The worker listens for this to
// evict the handler from its registry.
const SignalFinished = "finished"

// ConnHandler owns one accepted socket and drives it through the
// parse-route-respond cycle for as many requests as the connection's
// keep-alive state allows. It is itself an Object so the worker that owns
// it can be notified of its demise via the deferred-deletion queue instead
// of destroying it mid-dispatch.
type ConnHandler struct {
	*signalslot.Object

	sock     *tcpsock.Socket
	notifier *reactor.Notifier
	parser   *Parser
	router   *Router
	limits   *Limits
	date     *DateHeaderCache
	errs     ErrorHandler
	mx       *metrics.Metrics

	broker *Broker

	// idleTimer and requestTimer are mutually exclusive: idleTimer runs
	// while waiting for the first byte of a new request, requestTimer
	// runs from that first byte until the request is fully parsed.
	idleTimer    *reactor.Timer
	requestTimer *reactor.Timer

	finished bool
}

// NewConnHandler wires a freshly accepted socket to router/limits/date and
// begins parsing immediately (the peer may already have sent bytes that
// arrived between accept() and this call).
func NewConnHandler(g *signalslot.Graph, n *reactor.Notifier, sock *tcpsock.Socket, router *Router, limits *Limits, date *DateHeaderCache, errs ErrorHandler, mx *metrics.Metrics) (*ConnHandler, error) {
	h := &ConnHandler{
		Object:   signalslot.NewObject(g),
		sock:     sock,
		notifier: n,
		router:   router,
		limits:   limits,
		date:     date,
		errs:     errs,
		mx:       mx,
	}
	h.parser = NewParser(sock.Channel(), limits)
	h.parser.OnRequest = h.onRequest
	h.parser.OnBodyPart = h.onBodyPart
	h.parser.OnError = h.onParseError

	if limits.IdleTimeoutSeconds > 0 {
		t, err := reactor.NewTimer(n, h.onIdleTimeout)
		if err != nil {
			return nil, err
		}
		h.idleTimer = t
	}
	if limits.RequestTimeoutSeconds > 0 {
		t, err := reactor.NewTimer(n, h.onRequestTimeout)
		if err != nil {
			return nil, err
		}
		h.requestTimer = t
	}

	sock.OnBytesRead = mx.ObserveRead
	sock.OnBytesWritten = mx.ObserveWrite

	sock.Connect(tcpsock.SignalReceivedData, h.Object, func(args ...any) { h.onReceivedData() })
	sock.Connect(tcpsock.SignalDisconnected, h.Object, func(args ...any) { h.onSocketClosed() })
	sock.Connect(tcpsock.SignalError, h.Object, func(args ...any) { h.onSocketClosed() })

	h.armIdleTimer()
	h.onReceivedData()
	return h, nil
}

func (h *ConnHandler) armIdleTimer() {
	if h.idleTimer != nil {
		h.idleTimer.Start(time.Duration(h.limits.IdleTimeoutSeconds)*time.Second, false)
	}
}

func (h *ConnHandler) armRequestTimer() {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
	}
	if h.requestTimer != nil {
		h.requestTimer.Start(time.Duration(h.limits.RequestTimeoutSeconds)*time.Second, false)
	}
}

func (h *ConnHandler) disarmTimers() {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
	}
	if h.requestTimer != nil {
		h.requestTimer.Stop()
	}
}

func (h *ConnHandler) onIdleTimeout() {
	if h.finished {
		return
	}
	h.onParseError(RequestTimeout)
}

func (h *ConnHandler) onRequestTimeout() {
	if h.finished {
		return
	}
	h.onParseError(RequestTimeout)
}

func (h *ConnHandler) onReceivedData() {
	if h.finished {
		return
	}
	if h.sock.Channel().InboundLen() > 0 && (h.requestTimer == nil || !h.requestTimer.Active()) {
		h.armRequestTimer()
	}
	h.parser.Feed()
}

func (h *ConnHandler) onRequest(req *Request) {
	b := NewBroker(h.sock.Channel(), h.date)
	h.broker = b
	if req.Expect100 {
		b.WriteContinue()
	}

	handler := h.router.GetHandler(req.Method, req.Path)
	if handler == nil {
		b.WriteResponse([]byte(StatusText(StatusNotFound)), StatusNotFound, nil)
		if h.errs != nil {
			h.errs.HandleError(MalformedRequest, h.sock.PeerAddr(), h.sock.PeerPort())
		}
		h.finishCycleWithBroker(false)
		return
	}

	h.mx.ObserveRequest()

	keepAlive := req.KeepAlive
	func() {
		defer func() {
			if r := recover(); r != nil {
				if !b.HeadersWritten() {
					b.WriteResponse([]byte(StatusText(StatusInternalServerError)), StatusInternalServerError, nil)
				}
				keepAlive = false
			}
		}()
		handler(req, b)
	}()

	if b.Continuation() != nil {
		// The handler owns the rest of the response asynchronously; resume
		// the connection lifecycle once the broker finally latches.
		b.OnWroteResponse = func() { h.finishCycleWithBroker(keepAlive && !b.CloseAfter()) }
		return
	}
	if !b.HeadersWritten() {
		// The handler returned without writing anything and without
		// installing a continuation: nothing will ever respond to the
		// peer, so the connection cannot stay open regardless of
		// keep-alive (spec §4.9: "If the response is not latched and the
		// broker has no continuation object, disconnect").
		keepAlive = false
	}
	h.finishCycleWithBroker(keepAlive && !b.CloseAfter())
}

func (h *ConnHandler) onBodyPart(part *BodyPart) {
	// Route handlers in this server only see the request line and header
	// block. Every body part is dropped here, and the parser has already
	// consumed its bytes from the socket's channel, so a route handler has
	// no way to read the request body.
	_ = part
}

func (h *ConnHandler) finishCycleWithBroker(keepAlive bool) {
	h.broker = nil
	if !keepAlive {
		h.disarmTimers()
		h.sock.DisconnectFromPeer()
		return
	}
	h.armIdleTimer()
	if h.requestTimer != nil {
		h.requestTimer.Stop()
	}
	h.parser.Feed()
}

func (h *ConnHandler) onParseError(kind ErrorKind) {
	if h.finished {
		return
	}
	if h.errs != nil {
		h.errs.HandleError(kind, h.sock.PeerAddr(), h.sock.PeerPort())
	}
	h.mx.ObserveParserFailure(kind.String())
	status := statusForError(kind)
	b := NewBroker(h.sock.Channel(), h.date)
	b.WriteResponse([]byte(StatusText(status)), status, nil)
	h.disarmTimers()
	h.sock.DisconnectFromPeer()
}

func (h *ConnHandler) onSocketClosed() {
	if h.finished {
		return
	}
	h.finished = true
	h.disarmTimers()
	h.Emit(SignalFinished)
}

// ID satisfies reactor.Deletable, shadowing the embedded Object's ID method
// (which returns the distinct signalslot.ID type) so a ConnHandler can be
// scheduled on the deferred-deletion queue directly.
func (h *ConnHandler) ID() uint64 { return uint64(h.Object.ID()) }

// Destroy satisfies reactor.Deletable: it releases this handler's timers
// and graph node. Safe to call from the worker's deferred-deletion sweep,
// since it never touches another object's state.
func (h *ConnHandler) Destroy() {
	if h.idleTimer != nil {
		h.idleTimer.Close(h.notifier)
	}
	if h.requestTimer != nil {
		h.requestTimer.Close(h.notifier)
	}
	h.Object.Destroy()
}
