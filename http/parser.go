package http

import (
	"strconv"
	"strings"

	"github.com/kourier-go/kourier/internal/charclass"
	"github.com/kourier-go/kourier/internal/fields"
	"github.com/kourier-go/kourier/internal/iochan"
)

// maxMethodLength bounds the request-line method token. It is a property of
// the grammar (no registered method exceeds it), not a configurable limit.
const maxMethodLength = 8

// hexDigits are the bytes allowed after '%' in a percent-encoded triplet.
const hexDigits = "0123456789abcdefABCDEF"

// validMethods is the closed set of methods the request-line parser accepts,
// per the data model's method enum.
var validMethods = map[string]bool{
	"GET":     true,
	"PUT":     true,
	"POST":    true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

type parserState int

const (
	stateRequestLine parserState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateTrailers
	stateDone
)

// Parser decodes one HTTP/1.1 request (and, for chunked bodies, its
// trailers) at a time off an iochan.Channel's inbound buffer, driven
// incrementally as more bytes arrive: every step either makes progress or
// returns needing more data, so a request split byte-by-byte across
// arbitrarily many read events parses identically to one delivered whole.
type Parser struct {
	ch     *iochan.Channel
	limits *Limits

	state parserState

	req        *Request
	bodySeen   int64
	chunkLeft  int64
	totalBytes int

	// OnRequest fires once the request line and header block are fully
	// parsed. OnBodyPart fires once per body fragment, with IsLastPart
	// true on the fragment that completes the body (possibly empty).
	// OnError fires when parsing cannot continue; the connection handler
	// is responsible for responding and tearing the connection down.
	OnRequest  func(*Request)
	OnBodyPart func(*BodyPart)
	OnError    func(kind ErrorKind)
}

// NewParser returns a parser reading from ch and enforcing limits.
func NewParser(ch *iochan.Channel, limits *Limits) *Parser {
	return &Parser{ch: ch, limits: limits, state: stateRequestLine}
}

// Feed is called after the channel receives more data (or once at startup).
// It parses as far as the buffered bytes allow, possibly completing several
// pipelined requests in one call, and returns once it needs bytes that
// haven't arrived yet or has reported a terminal error.
func (p *Parser) Feed() {
	for {
		progressed, err := p.step()
		if err {
			return
		}
		if !progressed {
			return
		}
	}
}

// step attempts one unit of progress. It returns (false, false) when more
// data is needed, and (_, true) once a terminal error has been reported.
func (p *Parser) step() (progressed bool, errored bool) {
	switch p.state {
	case stateRequestLine:
		return p.parseRequestLine()
	case stateHeaders:
		return p.parseHeaderLine()
	case stateBody:
		return p.parseFixedBody()
	case stateChunkSize:
		return p.parseChunkSize()
	case stateChunkData:
		return p.parseChunkData()
	case stateChunkCRLF:
		return p.parseChunkCRLF()
	case stateTrailers:
		return p.parseTrailerLine()
	default:
		return false, false
	}
}

func (p *Parser) fail(kind ErrorKind) (bool, bool) {
	p.state = stateDone
	if p.OnError != nil {
		p.OnError(kind)
	}
	return false, true
}

// scanToken finds the longest run of class-member bytes starting at offset
// start within the buffered inbound data, stopping at the first byte
// outside the class (the "terminator"). It reports needMore when the
// buffered data runs out before a terminator is seen, and tooLong when the
// run exceeds maxLen before terminating.
func scanToken(ch *iochan.Channel, start, maxLen int, class *charclass.Class) (tokenLen int, found, tooLong bool) {
	avail := ch.InboundLen()
	pos := start
	for {
		remaining := avail - pos
		if remaining <= 0 {
			return 0, false, false
		}
		winLen := remaining
		if winLen > charclass.WindowSize {
			winLen = charclass.WindowSize
		}
		window, err := ch.PeekAt(pos, winLen)
		if err != nil {
			return 0, false, false
		}
		run := charclass.ScanRun(window, class)
		pos += run
		if pos-start > maxLen {
			return 0, false, true
		}
		if run < winLen {
			return pos - start, true, false
		}
		if remaining <= charclass.WindowSize {
			return 0, false, false
		}
	}
}

// peekByte returns the single byte at offset, or ok=false if not yet
// buffered.
func peekByte(ch *iochan.Channel, offset int) (b byte, ok bool) {
	if ch.InboundLen() <= offset {
		return 0, false
	}
	w, err := ch.PeekAt(offset, 1)
	if err != nil || len(w) == 0 {
		return 0, false
	}
	return w[0], true
}

// hasCRLF reports whether the two bytes at offset are "\r\n".
func hasCRLF(ch *iochan.Channel, offset int) (yes bool, ok bool) {
	if ch.InboundLen() < offset+2 {
		return false, false
	}
	w, err := ch.PeekAt(offset, 2)
	if err != nil {
		return false, false
	}
	return w[0] == '\r' && w[1] == '\n', true
}

func (p *Parser) resetForNewRequest() {
	p.bodySeen = 0
	p.chunkLeft = 0
	p.totalBytes = 0
	p.req = &Request{
		Major:   1,
		Minor:   1,
		Headers: &fields.Block{},
	}
}

func (p *Parser) parseRequestLine() (bool, bool) {
	if p.req == nil {
		p.resetForNewRequest()
	}

	methodLen, found, tooLong := scanToken(p.ch, 0, maxMethodLength, charclass.FieldName)
	if tooLong {
		return p.fail(MalformedRequest)
	}
	if !found {
		return false, false
	}
	sp, ok := peekByte(p.ch, methodLen)
	if !ok {
		return false, false
	}
	if sp != ' ' || methodLen == 0 {
		return p.fail(MalformedRequest)
	}
	methodBytes, _ := p.ch.PeekAt(0, methodLen)
	method := string(methodBytes)

	targetStart := methodLen + 1
	targetLen, found, tooLong := scanToken(p.ch, targetStart, p.limits.MaxURLSize, charclass.URLQuery)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	sp, ok = peekByte(p.ch, targetStart+targetLen)
	if !ok {
		return false, false
	}
	if sp != ' ' || targetLen == 0 {
		return p.fail(MalformedRequest)
	}
	targetBytes, _ := p.ch.PeekAt(targetStart, targetLen)
	target := string(targetBytes)

	versionStart := targetStart + targetLen + 1
	if p.ch.InboundLen() < versionStart+10 { // "HTTP/1.x\r\n"
		return false, false
	}
	versionBytes, _ := p.ch.PeekAt(versionStart, 10)
	major, minor, ok := parseHTTPVersion(versionBytes[:8])
	if !ok || versionBytes[8] != '\r' || versionBytes[9] != '\n' {
		return p.fail(MalformedRequest)
	}

	if !validMethods[method] {
		return p.fail(MalformedRequest)
	}

	path, query, ok := splitTarget(target)
	if !ok {
		return p.fail(MalformedRequest)
	}
	for i := 0; i < len(target); i++ {
		if target[i] != '%' {
			continue
		}
		if i+2 >= len(target) || strings.IndexByte(hexDigits, target[i+1]) < 0 || strings.IndexByte(hexDigits, target[i+2]) < 0 {
			return p.fail(MalformedRequest)
		}
		i += 2
	}
	if path == "*" && method != "OPTIONS" {
		return p.fail(MalformedRequest)
	}

	p.req.Method = method
	p.req.Path = path
	p.req.Query = query
	p.req.Major = major
	p.req.Minor = minor

	consumed := versionStart + 10
	p.ch.Skip(consumed)
	p.totalBytes += consumed
	if p.limits.MaxRequestSize != 0 && p.totalBytes > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}
	p.state = stateHeaders
	return true, false
}

// parseHTTPVersion accepts exactly "HTTP/1.0" or "HTTP/1.1".
func parseHTTPVersion(b []byte) (major, minor int, ok bool) {
	if len(b) != 8 || string(b[:5]) != "HTTP/" || b[6] != '.' {
		return 0, 0, false
	}
	if b[5] != '1' {
		return 0, 0, false
	}
	switch b[7] {
	case '0':
		return 1, 0, true
	case '1':
		return 1, 1, true
	}
	return 0, 0, false
}

func splitTarget(target string) (path, query string, ok bool) {
	if target == "*" {
		return "*", "", true
	}
	if len(target) == 0 || target[0] != '/' {
		return "", "", false
	}
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:], true
	}
	return target, "", true
}

func (p *Parser) parseHeaderLine() (bool, bool) {
	if blank, ok := hasCRLF(p.ch, 0); ok {
		if blank {
			p.ch.Skip(2)
			p.totalBytes += 2
			return p.finishHeaders()
		}
	} else {
		return false, false
	}

	nameLen, found, tooLong := scanToken(p.ch, 0, p.limits.MaxHeaderNameSize, charclass.FieldName)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	colon, ok := peekByte(p.ch, nameLen)
	if !ok {
		return false, false
	}
	if colon != ':' || nameLen == 0 {
		return p.fail(MalformedRequest)
	}
	nameBytes, _ := p.ch.PeekAt(0, nameLen)
	name := string(nameBytes)

	valueStart := nameLen + 1
	valueLen, found, tooLong := scanToken(p.ch, valueStart, p.limits.MaxHeaderValueSize, charclass.FieldValue)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	if ok, have := hasCRLF(p.ch, valueStart+valueLen); !have {
		return false, false
	} else if !ok {
		return p.fail(MalformedRequest)
	}
	valueBytes, _ := p.ch.PeekAt(valueStart, valueLen)
	value := fields.TrimOWS(string(valueBytes))

	if p.req.Headers.Len() >= p.limits.MaxHeaderLineCount {
		return p.fail(TooBigRequest)
	}
	p.req.Headers.Add(name, value)

	consumed := valueStart + valueLen + 2
	p.ch.Skip(consumed)
	p.totalBytes += consumed
	if p.limits.MaxRequestSize != 0 && p.totalBytes > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}
	return true, false
}

func (p *Parser) finishHeaders() (bool, bool) {
	req := p.req

	if req.Headers.Count(fields.Host) != 1 {
		return p.fail(MalformedRequest)
	}

	if fields.TrimOWS(strings.ToLower(req.Headers.Get(fields.Expect))) == "100-continue" {
		req.Expect100 = true
	}

	req.KeepAlive = deriveKeepAlive(req.Major, req.Minor, req.Headers)

	chunked := false
	if req.Headers.Has(fields.TransferEncoding) {
		if !strings.EqualFold(req.Headers.Get(fields.TransferEncoding), "chunked") {
			return p.fail(MalformedRequest)
		}
		chunked = true
	}
	hasCL := req.Headers.Has(fields.ContentLength)
	if chunked && hasCL {
		return p.fail(MalformedRequest)
	}

	if chunked {
		req.BodyKind = Chunked
		p.state = stateChunkSize
	} else if cl := req.Headers.Get(fields.ContentLength); cl != "" {
		n, ok := parseContentLength(req.Headers)
		if !ok {
			return p.fail(MalformedRequest)
		}
		if p.limits.MaxBodySize != 0 && n > int64(p.limits.MaxBodySize) {
			return p.fail(TooBigRequest)
		}
		req.BodyKind = FixedLength
		req.ContentLength = n
		if n == 0 {
			p.state = stateDone
		} else {
			p.state = stateBody
		}
	} else {
		req.BodyKind = NoBody
		p.state = stateDone
	}

	if p.OnRequest != nil {
		p.OnRequest(req)
	}

	if p.state == stateDone {
		if p.OnBodyPart != nil {
			p.OnBodyPart(&BodyPart{IsLastPart: true})
		}
		p.req = nil
		p.state = stateRequestLine
	}
	return true, false
}

// parseContentLength rejects requests with conflicting Content-Length
// values and accepts duplicated-but-identical ones: the original server
// this one is descended from tolerates repeats of the same value, so this
// implementation does too, stricter RFC 9112 guidance notwithstanding.
func parseContentLength(h *fields.Block) (int64, bool) {
	var value string
	for i := 0; ; i++ {
		v, ok := h.Value(fields.ContentLength, i)
		if !ok {
			break
		}
		if i == 0 {
			value = v
			continue
		}
		if v != value {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func deriveKeepAlive(major, minor int, h *fields.Block) bool {
	conn := strings.ToLower(h.Get(fields.Connection))
	switch {
	case strings.Contains(conn, "close"):
		return false
	case strings.Contains(conn, "keep-alive"):
		return true
	default:
		return major == 1 && minor == 1
	}
}

func (p *Parser) parseFixedBody() (bool, bool) {
	avail := p.ch.InboundLen()
	remaining := p.req.ContentLength - p.bodySeen
	if avail == 0 {
		return false, false
	}
	n := int64(avail)
	if n > remaining {
		n = remaining
	}
	data, err := p.ch.Peek(int(n))
	if err != nil {
		return false, false
	}
	buf := append([]byte(nil), data...)
	p.ch.Skip(int(n))
	p.totalBytes += int(n)
	p.bodySeen += n
	last := p.bodySeen >= p.req.ContentLength
	if p.OnBodyPart != nil {
		p.OnBodyPart(&BodyPart{Data: buf, IsLastPart: last})
	}
	if last {
		p.req = nil
		p.state = stateRequestLine
	}
	return true, false
}

func (p *Parser) parseChunkSize() (bool, bool) {
	lineLen, found, tooLong := scanToken(p.ch, 0, p.limits.MaxChunkMetadataSize, charclass.FieldValue)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	if ok, have := hasCRLF(p.ch, lineLen); !have {
		return false, false
	} else if !ok {
		return p.fail(MalformedRequest)
	}
	lineBytes, _ := p.ch.PeekAt(0, lineLen)
	line := string(lineBytes)
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i] // chunk-ext, ignored
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return p.fail(MalformedRequest)
	}

	consumed := lineLen + 2
	p.ch.Skip(consumed)
	p.totalBytes += consumed
	if p.limits.MaxRequestSize != 0 && p.totalBytes > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}

	p.chunkLeft = size
	if size == 0 {
		p.state = stateTrailers
		return true, false
	}
	if p.limits.MaxBodySize != 0 && p.bodySeen+size > int64(p.limits.MaxBodySize) {
		return p.fail(TooBigRequest)
	}
	p.state = stateChunkData
	return true, false
}

func (p *Parser) parseChunkData() (bool, bool) {
	avail := p.ch.InboundLen()
	if avail == 0 {
		return false, false
	}
	n := int64(avail)
	if n > p.chunkLeft {
		n = p.chunkLeft
	}
	data, err := p.ch.Peek(int(n))
	if err != nil {
		return false, false
	}
	buf := append([]byte(nil), data...)
	p.ch.Skip(int(n))
	p.totalBytes += int(n)
	p.bodySeen += n
	p.chunkLeft -= n
	if p.OnBodyPart != nil && n > 0 {
		p.OnBodyPart(&BodyPart{Data: buf})
	}
	if p.chunkLeft == 0 {
		p.state = stateChunkCRLF
	}
	return true, false
}

func (p *Parser) parseChunkCRLF() (bool, bool) {
	ok, have := hasCRLF(p.ch, 0)
	if !have {
		return false, false
	}
	if !ok {
		return p.fail(MalformedRequest)
	}
	p.ch.Skip(2)
	p.totalBytes += 2
	p.state = stateChunkSize
	return true, false
}

func (p *Parser) parseTrailerLine() (bool, bool) {
	if p.req.Trailers == nil {
		p.req.Trailers = &fields.Block{}
	}
	if blank, ok := hasCRLF(p.ch, 0); ok {
		if blank {
			p.ch.Skip(2)
			p.totalBytes += 2
			if p.OnBodyPart != nil {
				p.OnBodyPart(&BodyPart{IsLastPart: true})
			}
			p.req = nil
			p.state = stateRequestLine
			return true, false
		}
	} else {
		return false, false
	}

	nameLen, found, tooLong := scanToken(p.ch, 0, p.limits.MaxTrailerNameSize, charclass.FieldName)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	colon, ok := peekByte(p.ch, nameLen)
	if !ok {
		return false, false
	}
	if colon != ':' || nameLen == 0 {
		return p.fail(MalformedRequest)
	}
	nameBytes, _ := p.ch.PeekAt(0, nameLen)
	name := string(nameBytes)

	valueStart := nameLen + 1
	valueLen, found, tooLong := scanToken(p.ch, valueStart, p.limits.MaxTrailerValueSize, charclass.FieldValue)
	if tooLong {
		return p.fail(TooBigRequest)
	}
	if !found {
		return false, false
	}
	if ok, have := hasCRLF(p.ch, valueStart+valueLen); !have {
		return false, false
	} else if !ok {
		return p.fail(MalformedRequest)
	}
	valueBytes, _ := p.ch.PeekAt(valueStart, valueLen)
	value := fields.TrimOWS(string(valueBytes))

	if p.req.Trailers.Len() >= p.limits.MaxTrailerLineCount {
		return p.fail(TooBigRequest)
	}
	p.req.Trailers.Add(name, value)

	consumed := valueStart + valueLen + 2
	p.ch.Skip(consumed)
	p.totalBytes += consumed
	return true, false
}
