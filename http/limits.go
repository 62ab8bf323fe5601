// Package http implements the HTTP/1.1 wire protocol on top of the core
// reactor primitives: request parsing, response composition, routing, and
// the per-connection handler that ties them to a socket.
package http

// Limits bounds the size and shape of an acceptable request, enforced by the
// parser as bytes arrive rather than after the fact. Every field is a
// positive integer; 0 means unbounded where noted below.
type Limits struct {
	MaxURLSize           int // path + query bytes
	MaxHeaderNameSize    int // per header name
	MaxHeaderValueSize   int // per header value
	MaxHeaderLineCount   int
	MaxTrailerNameSize   int
	MaxTrailerValueSize  int
	MaxTrailerLineCount  int
	MaxChunkMetadataSize int // bytes per chunk-size line
	MaxRequestSize       int // cumulative bytes for the whole request
	MaxBodySize          int // cumulative body bytes

	IdleTimeoutSeconds    int // 0 disables
	RequestTimeoutSeconds int // 0 disables
	MaxConnectionCount    int // per worker; 0 disables
}

// DefaultLimits returns the limits a freshly configured server uses absent
// any overrides.
func DefaultLimits() Limits {
	return Limits{
		MaxURLSize:           8192,
		MaxHeaderNameSize:    1024,
		MaxHeaderValueSize:   8192,
		MaxHeaderLineCount:   64,
		MaxTrailerNameSize:   1024,
		MaxTrailerValueSize:  8192,
		MaxTrailerLineCount:  64,
		MaxChunkMetadataSize:  1024,
		MaxRequestSize:        32 << 20,
		MaxBodySize:           32 << 20,
		IdleTimeoutSeconds:    60,
		RequestTimeoutSeconds: 60,
		MaxConnectionCount:    0,
	}
}
