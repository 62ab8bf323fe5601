package http

import (
	"strconv"

	"github.com/kourier-go/kourier/internal/fields"
	"github.com/kourier-go/kourier/internal/iochan"
)

// Broker is the response-side API handed to route handlers. It buffers
// writes into the connection's outbound channel rather than the kernel
// directly, so ordering within one connection matches the order of the
// calls a handler makes.
type Broker struct {
	ch   *iochan.Channel
	date *DateHeaderCache

	wroteStatus bool
	inProgress  bool
	closed      bool

	// closeAfter records a call to CloseAfterResponding: the next response
	// carries Connection: close and the connection handler disconnects
	// once it completes.
	closeAfter bool

	// declaredTrailers holds names announced via DeclareTrailer, written
	// out as the response's own Trailer: header.
	declaredTrailers []string

	// continuation, once set by a handler, keeps the connection open
	// after the handler returns instead of closing it.
	continuation any

	// OnWroteResponse, if set, fires once the response latches complete
	// (the wrote-response signal of the broker's operation table). The
	// connection handler uses it to know when a deferred (continuation-
	// driven) response is finally done and the connection can move on.
	OnWroteResponse func()
}

// CloseAfterResponding marks the response currently or about to be written
// as the connection's last: it adds Connection: close to the header block
// and, once the response completes, the connection handler disconnects
// from the peer instead of parsing another request.
func (b *Broker) CloseAfterResponding() { b.closeAfter = true }

// CloseAfter reports whether CloseAfterResponding has been called.
func (b *Broker) CloseAfter() bool { return b.closeAfter }

// NewBroker wraps ch for one request-response cycle.
func NewBroker(ch *iochan.Channel, date *DateHeaderCache) *Broker {
	return &Broker{ch: ch, date: date}
}

// WriteContinue emits the interim "100 Continue" response. Called by the
// connection handler before the handler callback runs when the request
// carried Expect: 100-continue.
func (b *Broker) WriteContinue() {
	b.ch.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
}

// DeclareTrailer announces a trailer field name that will follow a chunked
// response body, emitted as a Trailer: header alongside the status line.
// Must be called before WriteHeader starts the chunked response.
func (b *Broker) DeclareTrailer(name string) {
	b.declaredTrailers = append(b.declaredTrailers, fields.CanonicalFieldName(name))
}

// WriteResponse writes a complete fixed-length response in one call: status
// line, Server/Date/Content-Length headers, any extra headers, then body.
// If a chunked response is already in progress, this instead finishes it
// (per the broker's "called while in-progress-chunked" contract) and
// ignores the new body/status/headers.
func (b *Broker) WriteResponse(body []byte, status int, extra *fields.Block) {
	b.WriteResponseType(body, "", status, extra)
}

// WriteResponseType is WriteResponse with an explicit Content-Type.
func (b *Broker) WriteResponseType(body []byte, mime string, status int, extra *fields.Block) {
	if b.finishIfChunked() {
		return
	}
	b.writeHeader(status, extra, int64(len(body)), false, mime)
	if len(body) > 0 {
		b.ch.Write(body)
	}
}

// WriteHeader starts a chunked response: status line plus headers declaring
// Transfer-Encoding: chunked. Subsequent calls to WriteChunk append chunks;
// WriteChunkedTrailer must be called last to terminate the body, even with
// zero trailers. If a chunked response is already in progress, this instead
// finishes it and ignores the new status/headers.
func (b *Broker) WriteHeader(status int, extra *fields.Block) {
	if b.finishIfChunked() {
		return
	}
	b.writeHeader(status, extra, -1, true, "")
}

// finishIfChunked reports whether the caller's response-starting call must
// be ignored. If a chunked response is in progress it completes that
// response first, per the broker's contract for a response-starting call
// arriving mid-chunked-response; it also reports true when a response has
// already latched complete.
func (b *Broker) finishIfChunked() bool {
	if b.wroteStatus && !b.inProgress {
		return true // already latched: every response-starting call is a no-op
	}
	if b.inProgress {
		b.WriteChunkedTrailer(nil)
		return true
	}
	return false
}

func (b *Broker) writeHeader(status int, extra *fields.Block, contentLength int64, chunked bool, mime string) {
	b.wroteStatus = true
	b.inProgress = chunked

	var buf []byte
	buf = append(buf, StatusLine(status)...)
	buf = append(buf, "\r\n"...)
	buf = append(buf, "Server: Kourier\r\n"...)
	buf = append(buf, b.date.Line()...)
	if b.closeAfter {
		buf = append(buf, "Connection: close\r\n"...)
	}
	if chunked {
		buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
	} else {
		buf = append(buf, "Content-Length: "...)
		buf = append(buf, strconv.FormatInt(contentLength, 10)...)
		buf = append(buf, "\r\n"...)
	}
	if mime != "" {
		buf = append(buf, "Content-Type: "...)
		buf = append(buf, mime...)
		buf = append(buf, "\r\n"...)
	}
	if len(b.declaredTrailers) > 0 {
		buf = append(buf, "Trailer: "...)
		for i, name := range b.declaredTrailers {
			if i > 0 {
				buf = append(buf, ", "...)
			}
			buf = append(buf, name...)
		}
		buf = append(buf, "\r\n"...)
	}
	if extra != nil {
		exclude := map[string]bool{
			fields.ServerHeader: true, fields.Date: true,
			fields.ContentLength: true, fields.TransferEncoding: true,
			fields.Connection: true,
		}
		for _, f := range extra.All() {
			if exclude[f.Name] {
				continue
			}
			buf = append(buf, f.Name...)
			buf = append(buf, ": "...)
			buf = append(buf, f.Value...)
			buf = append(buf, "\r\n"...)
		}
	}
	buf = append(buf, "\r\n"...)
	b.ch.Write(buf)
	if !chunked {
		b.wroteResponse()
	}
}

// WriteChunk appends one chunk of a chunked response body. A zero-length
// chunk is valid but does not terminate the body; call
// WriteChunkedTrailer to do that.
func (b *Broker) WriteChunk(data []byte) {
	if !b.inProgress || len(data) == 0 {
		return
	}
	var buf []byte
	buf = append(buf, strconv.FormatInt(int64(len(data)), 16)...)
	buf = append(buf, "\r\n"...)
	buf = append(buf, data...)
	buf = append(buf, "\r\n"...)
	b.ch.Write(buf)
}

// WriteChunkedTrailer writes the terminating 0-size chunk plus any trailer
// fields, completing a chunked response body.
func (b *Broker) WriteChunkedTrailer(trailers *fields.Block) {
	if !b.inProgress {
		return
	}
	var buf []byte
	buf = append(buf, "0\r\n"...)
	if trailers != nil {
		for _, f := range trailers.All() {
			buf = append(buf, f.Name...)
			buf = append(buf, ": "...)
			buf = append(buf, f.Value...)
			buf = append(buf, "\r\n"...)
		}
	}
	buf = append(buf, "\r\n"...)
	b.ch.Write(buf)
	b.inProgress = false
	b.wroteResponse()
}

// wroteResponse marks the response cycle complete. Named after the
// wrote-response signal the connection handler listens for; this module
// invokes the connection-handler callback directly rather than through the
// observer graph (see OnWroteResponse).
func (b *Broker) wroteResponse() {
	if b.OnWroteResponse != nil {
		b.OnWroteResponse()
	}
}

// SetContinuation installs a value the connection handler keeps alive after
// the route handler returns, signaling that the handler intends to keep
// interacting with the broker asynchronously instead of finishing the
// response synchronously.
func (b *Broker) SetContinuation(v any) { b.continuation = v }

// Continuation returns whatever SetContinuation installed, or nil.
func (b *Broker) Continuation() any { return b.continuation }

// HeadersWritten reports whether WriteResponse or WriteHeader has run.
func (b *Broker) HeadersWritten() bool { return b.wroteStatus }

// Close sets the flag that Closed reports. Neither the broker nor the
// connection handler reads this flag.
func (b *Broker) Close() { b.closed = true }

// Closed reports whether Close has been called.
func (b *Broker) Closed() bool { return b.closed }
