package http

import (
	"strings"
	"testing"

	"github.com/kourier-go/kourier/internal/fields"
	"github.com/kourier-go/kourier/internal/iochan"
	"github.com/kourier-go/kourier/internal/ringbuf"
)

type nopSource struct{}

func (nopSource) ReadInto(buf *ringbuf.Buffer) (int, error) { return 0, nil }

func newBrokerChannel() *iochan.Channel {
	return iochan.New(nopSource{}, discardSink{}, 0, 0)
}

func drain(ch *iochan.Channel) string {
	p, _ := ch.PeekAll()
	return string(p)
}

func TestBrokerWriteResponseFixedLength(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.WriteResponse([]byte("hi"), StatusOK, nil)

	out := drain(ch)
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("response does not start with the status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length header: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhi") {
		t.Fatalf("response body missing or misplaced: %q", out)
	}
	if !b.HeadersWritten() {
		t.Fatalf("HeadersWritten() = false after WriteResponse")
	}
}

func TestBrokerChunkedResponse(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.DeclareTrailer("X-Checksum")
	b.WriteHeader(StatusOK, nil)
	b.WriteChunk([]byte("abc"))
	b.WriteChunkedTrailer(nil)

	out := drain(ch)
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing Transfer-Encoding header: %q", out)
	}
	if !strings.Contains(out, "Trailer: X-Checksum\r\n") {
		t.Fatalf("missing Trailer header: %q", out)
	}
	if !strings.Contains(out, "3\r\nabc\r\n") {
		t.Fatalf("missing chunk framing: %q", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Fatalf("missing terminating chunk: %q", out)
	}
}

func TestBrokerWriteResponseOnlyAppliesOnce(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.WriteResponse([]byte("first"), StatusOK, nil)
	firstLen := ch.DataToWrite()
	b.WriteResponse([]byte("second"), StatusInternalServerError, nil)
	secondLen := ch.DataToWrite()

	if firstLen != secondLen {
		t.Fatalf("a second WriteResponse call after headers were written should be a no-op for the status line, outbound size changed from %d to %d", firstLen, secondLen)
	}
}

func TestBrokerExtraHeadersExcludeReservedNames(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	var extra fields.Block
	extra.Add("Server", "attacker-supplied")
	extra.Add("X-Request-Id", "abc123")
	b.WriteResponse([]byte("ok"), StatusOK, &extra)

	out := drain(ch)
	if strings.Contains(out, "attacker-supplied") {
		t.Fatalf("extra Server header should be excluded in favor of the broker's own: %q", out)
	}
	if !strings.Contains(out, "X-Request-Id: abc123\r\n") {
		t.Fatalf("missing passthrough extra header: %q", out)
	}
}

func TestBrokerCloseAfterRespondingAddsConnectionClose(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.CloseAfterResponding()
	b.WriteResponse([]byte("bye"), StatusOK, nil)

	out := drain(ch)
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Fatalf("missing Connection: close header: %q", out)
	}
	if !b.CloseAfter() {
		t.Fatalf("CloseAfter() = false after CloseAfterResponding()")
	}
}

func TestBrokerWriteResponseWithContentType(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.WriteResponseType([]byte("{}"), "application/json", StatusOK, nil)

	out := drain(ch)
	if !strings.Contains(out, "Content-Type: application/json\r\n") {
		t.Fatalf("missing Content-Type header: %q", out)
	}
}

func TestBrokerResponseStartDuringChunkedFinishesIt(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	b.WriteHeader(StatusOK, nil)
	b.WriteChunk([]byte("partial"))
	// A second response-starting call arriving while a chunked response is
	// in progress finishes the current one instead of starting a new one.
	b.WriteResponse([]byte("ignored"), StatusInternalServerError, nil)

	out := drain(ch)
	if strings.Contains(out, "ignored") {
		t.Fatalf("the second response-starting call's body should be ignored: %q", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Fatalf("expected the in-progress chunked response to be finished: %q", out)
	}
	if !b.HeadersWritten() {
		t.Fatalf("HeadersWritten() = false after the response was finished")
	}
}

func TestBrokerOnWroteResponseFiresOnce(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	var fired int
	b.OnWroteResponse = func() { fired++ }

	b.WriteHeader(StatusOK, nil)
	if fired != 0 {
		t.Fatalf("OnWroteResponse fired before the chunked response completed")
	}
	b.WriteChunkedTrailer(nil)
	if fired != 1 {
		t.Fatalf("OnWroteResponse fired %d times, want 1", fired)
	}
}

func TestBrokerContinuation(t *testing.T) {
	ch := newBrokerChannel()
	date := NewDateHeaderCache()
	b := NewBroker(ch, date)

	if b.Continuation() != nil {
		t.Fatalf("Continuation() should start nil")
	}
	b.SetContinuation(42)
	if got, ok := b.Continuation().(int); !ok || got != 42 {
		t.Fatalf("Continuation() = %v, want 42", b.Continuation())
	}
}
