package http

import (
	"errors"
	"sort"
	"strings"
)

// Handler processes a routed request against the broker handed to it. To
// keep interacting with the broker after returning (e.g. to stream a body
// asynchronously), a handler must install a continuation on the broker;
// otherwise the connection handler closes the connection once the handler
// returns.
type Handler func(req *Request, broker *Broker)

// ErrInvalidPath is returned by Router.AddRoute when path is neither "*"
// nor an absolute path with no scheme, authority, query, or fragment.
var ErrInvalidPath = errors.New("http: route path must be \"*\" or an absolute path")

// ErrNilHandler is returned by Router.AddRoute when handler is nil.
var ErrNilHandler = errors.New("http: route handler must not be nil")

type route struct {
	path    string
	handler Handler
}

// Router maps (method, path) to a Handler using longest-registered-prefix
// matching: most handlers are registered once at startup, so a flat,
// sorted-per-method slice gives O(n) lookup with better cache behavior than
// a trie would at the expected scale (tens of routes per method).
//
// A Router is immutable once construction completes and is shared by
// reference across every connection handler on every worker; AddRoute must
// only be called during setup, before any worker starts dispatching.
type Router struct {
	byMethod map[string][]route
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{byMethod: make(map[string][]route)}
}

// AddRoute registers handler for method+path. Paths are kept sorted in
// lexicographic descending order per method, so the first prefix match
// scanning from the head is always the longest one. Registering the same
// path twice for the same method replaces the existing handler in place.
func (r *Router) AddRoute(method, path string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if !validRoutePath(method, path) {
		return ErrInvalidPath
	}
	list := r.byMethod[method]
	i := sort.Search(len(list), func(i int) bool { return list[i].path <= path })
	if i < len(list) && list[i].path == path {
		list[i].handler = handler
		return nil
	}
	list = append(list, route{})
	copy(list[i+1:], list[i:])
	list[i] = route{path: path, handler: handler}
	r.byMethod[method] = list
	return nil
}

func validRoutePath(method, path string) bool {
	if path == "*" {
		return method == "OPTIONS"
	}
	if path == "" || path[0] != '/' {
		return false
	}
	if strings.HasPrefix(path, "//") {
		return false
	}
	return !strings.ContainsAny(path, "?#") && !strings.Contains(path, "://")
}

// GetHandler scans the per-method list from the head and returns the
// handler for the first entry whose stored path is a prefix of reqPath —
// the longest prefix match, guaranteed by the descending sort order. Returns
// nil if no registered path matches.
func (r *Router) GetHandler(method, reqPath string) Handler {
	for _, rt := range r.byMethod[method] {
		if strings.HasPrefix(reqPath, rt.path) {
			return rt.handler
		}
	}
	return nil
}
