package http

import (
	"bytes"
	"testing"

	"github.com/kourier-go/kourier/internal/iochan"
	"github.com/kourier-go/kourier/internal/ringbuf"
)

// feedSource is a DataSource that hands out pre-queued byte chunks one
// ReadInto call at a time, letting tests exercise the parser against
// requests arbitrarily fragmented across read events.
type feedSource struct {
	chunks [][]byte
}

func (f *feedSource) ReadInto(buf *ringbuf.Buffer) (int, error) {
	if len(f.chunks) == 0 {
		return 0, nil
	}
	next := f.chunks[0]
	f.chunks = f.chunks[1:]
	if err := buf.Append(next); err != nil {
		return 0, err
	}
	return len(next), nil
}

type discardSink struct{}

func (discardSink) WriteFrom(buf *ringbuf.Buffer) (int, error) {
	n := buf.Len()
	buf.Consume(n)
	return n, nil
}

func newTestChannel(chunks ...[]byte) (*iochan.Channel, *feedSource) {
	src := &feedSource{chunks: chunks}
	ch := iochan.New(src, discardSink{}, 0, 0)
	return ch, src
}

func splitIntoBytes(s string) [][]byte {
	out := make([][]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = []byte{s[i]}
	}
	return out
}

func TestParserParsesSimpleGET(t *testing.T) {
	raw := "GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var got *Request
	p.OnRequest = func(r *Request) { got = r }
	p.OnError = func(kind ErrorKind) { t.Fatalf("unexpected parse error: %v", kind) }

	for len(src.chunks) > 0 || got == nil {
		if err := ch.PumpRead(); err != nil {
			break
		}
		p.Feed()
		if got != nil {
			break
		}
	}

	if got == nil {
		t.Fatalf("request was never parsed")
	}
	if got.Method != "GET" || got.Path != "/hello" || got.Query != "x=1" {
		t.Fatalf("parsed request = %+v", got)
	}
	if got.Major != 1 || got.Minor != 1 {
		t.Fatalf("parsed version = %d.%d, want 1.1", got.Major, got.Minor)
	}
	if got.Host() != "example.com" {
		t.Fatalf("Host() = %q, want example.com", got.Host())
	}
	if !got.KeepAlive {
		t.Fatalf("KeepAlive = false, want true for HTTP/1.1 with no Connection header")
	}
}

func TestParserByteAtATimeMatchesWhole(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"
	ch, src := newTestChannel(splitIntoBytes(raw)...)

	p := NewParser(ch, limitsForTest())
	var gotReq *Request
	var gotBody []byte
	p.OnRequest = func(r *Request) { gotReq = r }
	p.OnBodyPart = func(bp *BodyPart) { gotBody = append(gotBody, bp.Data...) }
	p.OnError = func(kind ErrorKind) { t.Fatalf("unexpected parse error: %v", kind) }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if gotReq == nil {
		t.Fatalf("request was never parsed")
	}
	if gotReq.BodyKind != FixedLength || gotReq.ContentLength != 5 {
		t.Fatalf("BodyKind/ContentLength = %v/%d, want FixedLength/5", gotReq.BodyKind, gotReq.ContentLength)
	}
	if !bytes.Equal(gotBody, []byte("hello")) {
		t.Fatalf("body = %q, want hello", gotBody)
	}
}

func TestParserChunkedBodyAndTrailers(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\nX-Checksum: abc\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var gotReq *Request
	var gotBody []byte
	var lastPartSeen bool
	p.OnRequest = func(r *Request) { gotReq = r }
	p.OnBodyPart = func(bp *BodyPart) {
		gotBody = append(gotBody, bp.Data...)
		if bp.IsLastPart {
			lastPartSeen = true
		}
	}
	p.OnError = func(kind ErrorKind) { t.Fatalf("unexpected parse error: %v", kind) }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if gotReq == nil || gotReq.BodyKind != Chunked {
		t.Fatalf("request not parsed as chunked: %+v", gotReq)
	}
	if !bytes.Equal(gotBody, []byte("Wikipedia")) {
		t.Fatalf("body = %q, want Wikipedia", gotBody)
	}
	if !lastPartSeen {
		t.Fatalf("final body part never marked IsLastPart")
	}
}

func TestParserRejectsMalformedRequestLine(t *testing.T) {
	raw := "BOGUS / HTTP/9.9\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errKind ErrorKind
	var errored bool
	p.OnError = func(kind ErrorKind) { errKind = kind; errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored {
		t.Fatalf("expected a parse error for an unsupported HTTP version")
	}
	if errKind != MalformedRequest {
		t.Fatalf("errKind = %v, want MalformedRequest", errKind)
	}
}

func TestParserRejectsOversizedURL(t *testing.T) {
	longPath := "/" + string(bytes.Repeat([]byte("a"), 100))
	raw := "GET " + longPath + " HTTP/1.1\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	limits := limitsForTest()
	limits.MaxURLSize = 10
	p := NewParser(ch, limits)
	var errKind ErrorKind
	var errored bool
	p.OnError = func(kind ErrorKind) { errKind = kind; errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored || errKind != TooBigRequest {
		t.Fatalf("errored=%v kind=%v, want TooBigRequest", errored, errKind)
	}
}

func TestParserRejectsConflictingContentLength(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello!"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errored bool
	p.OnError = func(kind ErrorKind) { errored = true }
	p.OnRequest = func(r *Request) {}

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored {
		t.Fatalf("expected conflicting Content-Length values to be rejected")
	}
}

func TestParserAcceptsDuplicateIdenticalContentLength(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errored bool
	var gotReq *Request
	p.OnError = func(kind ErrorKind) { errored = true }
	p.OnRequest = func(r *Request) { gotReq = r }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if errored {
		t.Fatalf("duplicate identical Content-Length values should be accepted")
	}
	if gotReq == nil || gotReq.ContentLength != 5 {
		t.Fatalf("gotReq = %+v", gotReq)
	}
}

func TestParserConnectionCloseOverridesKeepAlive(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var gotReq *Request
	p.OnRequest = func(r *Request) { gotReq = r }
	p.OnError = func(kind ErrorKind) { t.Fatalf("unexpected parse error: %v", kind) }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if gotReq == nil || gotReq.KeepAlive {
		t.Fatalf("KeepAlive = true, want false with Connection: close")
	}
}

func TestParserRejectsMissingHost(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errKind ErrorKind
	var errored bool
	p.OnError = func(kind ErrorKind) { errKind = kind; errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored || errKind != MalformedRequest {
		t.Fatalf("errored=%v kind=%v, want MalformedRequest for a missing Host header", errored, errKind)
	}
}

func TestParserRejectsDuplicateHost(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errored bool
	p.OnError = func(kind ErrorKind) { errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored {
		t.Fatalf("expected a duplicated Host header to be rejected")
	}
}

func TestParserRejectsContentLengthWithTransferEncoding(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nhello"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errKind ErrorKind
	var errored bool
	p.OnError = func(kind ErrorKind) { errKind = kind; errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored || errKind != MalformedRequest {
		t.Fatalf("errored=%v kind=%v, want MalformedRequest for Content-Length with Transfer-Encoding", errored, errKind)
	}
}

func TestParserRejectsUnknownMethod(t *testing.T) {
	raw := "BOGUS2 / HTTP/1.1\r\nHost: h\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errKind ErrorKind
	var errored bool
	p.OnError = func(kind ErrorKind) { errKind = kind; errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored || errKind != MalformedRequest {
		t.Fatalf("errored=%v kind=%v, want MalformedRequest for an unregistered method", errored, errKind)
	}
}

func TestParserAcceptsOptionsServerWideTarget(t *testing.T) {
	raw := "OPTIONS * HTTP/1.1\r\nHost: h\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var gotReq *Request
	p.OnRequest = func(r *Request) { gotReq = r }
	p.OnError = func(kind ErrorKind) { t.Fatalf("unexpected parse error: %v", kind) }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if gotReq == nil || gotReq.Path != "*" {
		t.Fatalf("gotReq = %+v, want Path \"*\"", gotReq)
	}
}

func TestParserRejectsServerWideTargetForNonOptions(t *testing.T) {
	raw := "GET * HTTP/1.1\r\nHost: h\r\n\r\n"
	ch, src := newTestChannel([]byte(raw))

	p := NewParser(ch, limitsForTest())
	var errored bool
	p.OnError = func(kind ErrorKind) { errored = true }

	for len(src.chunks) > 0 {
		ch.PumpRead()
		p.Feed()
	}

	if !errored {
		t.Fatalf("expected GET * to be rejected as malformed")
	}
}

func limitsForTest() *Limits {
	l := DefaultLimits()
	return &l
}
