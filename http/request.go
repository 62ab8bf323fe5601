package http

import "github.com/kourier-go/kourier/internal/fields"

// BodyKind classifies how a request communicates its body length.
type BodyKind int

const (
	// NoBody means the request has no body at all (e.g. most GETs).
	NoBody BodyKind = iota
	// FixedLength means the body is exactly ContentLength bytes, known
	// up front from a Content-Length header.
	FixedLength
	// Chunked means the body arrives as a Transfer-Encoding: chunked
	// sequence whose total size is discovered only once the terminating
	// 0-size chunk is seen.
	Chunked
)

// Request is the parsed view of one request line plus its header block,
// valid for the duration of the handler call that receives it. Method,
// target path, and target query are plain strings rather than byte ranges
// into the connection's read buffer: see the fields.Block doc for why
// ranges aren't held across parser calls.
type Request struct {
	Method string
	Path   string
	Query  string

	// Major/Minor are the request line's HTTP version, 1.0 or 1.1.
	Major, Minor int

	Headers *fields.Block

	BodyKind      BodyKind
	ContentLength int64 // valid when BodyKind == FixedLength

	// Expect100 is true when the request carried "Expect: 100-continue".
	// The connection handler writes the interim 100 Continue response
	// before invoking the route handler; the flag is not cleared afterwards.
	Expect100 bool

	PeerIP   string
	PeerPort int

	// Trailers is filled in once the final chunk (and any trailer
	// fields) has been parsed. Nil until then.
	Trailers *fields.Block

	// KeepAlive reports whether the connection should stay open after
	// this request-response cycle, derived from the version and any
	// Connection header.
	KeepAlive bool
}

// Host returns the request's Host header value, or "" if absent.
func (r *Request) Host() string { return r.Headers.Get(fields.Host) }

// HasTrailers reports whether a non-empty trailer block has been parsed.
func (r *Request) HasTrailers() bool { return r.Trailers != nil && r.Trailers.Len() > 0 }

// Trailer returns the first trailer value stored under name.
func (r *Request) Trailer(name string) string {
	if r.Trailers == nil {
		return ""
	}
	return r.Trailers.Get(name)
}

// TrailerCount returns how many trailer fields are stored under name.
func (r *Request) TrailerCount(name string) int {
	if r.Trailers == nil {
		return 0
	}
	return r.Trailers.Count(name)
}

// BodyPart is one fragment of request body delivered to a handler's
// received-body-data slot. IsLastPart is true exactly once per request,
// on the fragment (possibly zero-length) that completes the body.
type BodyPart struct {
	Data       []byte
	IsLastPart bool
}
