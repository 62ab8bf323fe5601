/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package fields implements the ordered field-block shared by HTTP headers
// and trailers: canonicalization, a small set of well-known field names, and
// the wire writer. Adapted from badu-http's hdr package, trimmed to what a
// request/response field block actually needs (no textproto-style line
// reader: the request parser in package http owns line decoding).
package fields

const toLower = 'a' - 'A'

// Well-known field names, canonical form.
const (
	Connection       = "Connection"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	ServerHeader     = "Server"
	Trailer          = "Trailer"
	TransferEncoding = "Transfer-Encoding"
)

var commonHeader = map[string]string{}

func init() {
	for _, v := range []string{
		Connection, ContentLength, ContentType, Date, Expect, Host,
		ServerHeader, Trailer, TransferEncoding,
	} {
		commonHeader[v] = v
	}
}

// isTokenTable is a copy of net/http/lex.go's isTokenTable: RFC 7230 tchar.
var isTokenTable = [127]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
	'8': true, '9': true,

	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
	'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
	'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,

	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
	'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
	'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,

	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
	'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
}

func validHeaderFieldByte(b byte) bool {
	return int(b) < len(isTokenTable) && isTokenTable[b]
}

// IsTokenRune reports whether r is a valid tchar per RFC 7230.
func IsTokenRune(r rune) bool {
	i := int(r)
	return i < len(isTokenTable) && isTokenTable[i]
}

// ValidFieldName reports whether v is a syntactically valid field-name (token).
func ValidFieldName(v string) bool {
	if len(v) == 0 {
		return false
	}
	for _, r := range v {
		if !IsTokenRune(r) {
			return false
		}
	}
	return true
}

func isLWS(b byte) bool { return b == ' ' || b == '\t' }

func isCTL(b byte) bool {
	const del = 0x7f
	return b < ' ' || b == del
}

// ValidFieldValue reports whether v contains only bytes legal in a field-value.
func ValidFieldValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if isCTL(b) && !isLWS(b) {
			return false
		}
	}
	return true
}

// CanonicalFieldName converts the first letter and any letter following a
// hyphen to upper case, the rest to lower case, matching RFC 9110's
// recommended presentation form for field names. Fields that contain
// non-token bytes are returned unmodified.
func CanonicalFieldName(s string) string {
	upper := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !validHeaderFieldByte(c) {
			return s
		}
		if upper && 'a' <= c && c <= 'z' {
			return canonicalize([]byte(s))
		}
		if !upper && 'A' <= c && c <= 'Z' {
			return canonicalize([]byte(s))
		}
		upper = c == '-'
	}
	return s
}

func canonicalize(a []byte) string {
	for _, c := range a {
		if !validHeaderFieldByte(c) {
			return string(a)
		}
	}
	upper := true
	for i, c := range a {
		if upper && 'a' <= c && c <= 'z' {
			c -= toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += toLower
		}
		a[i] = c
		upper = c == '-'
	}
	if v := commonHeader[string(a)]; v != "" {
		return v
	}
	return string(a)
}

// TrimOWS returns s without leading/trailing optional whitespace (space, tab).
func TrimOWS(s string) string {
	i := 0
	for i < len(s) && isLWS(s[i]) {
		i++
	}
	n := len(s)
	for n > i && isLWS(s[n-1]) {
		n--
	}
	return s[i:n]
}
