// Package charclass implements the 256-entry character-class tables and the
// windowed scanner (component G) the HTTP parser uses to validate request
// targets, field names, and field values in bulk rather than byte-by-byte.
//
// The original implementation builds an 8x16 shuffle-lookup bitmap per class
// and classifies a 32-byte AVX2 window in one instruction. Go has no portable
// way to emit that shuffle without assembly, and this module is built
// without cgo or per-arch asm; per the design notes ("implementations on
// architectures without such an intrinsic can fall back to a scalar table
// lookup at about a 4x throughput cost but identical semantics") this
// package takes the scalar fallback explicitly allowed for such targets,
// using a 256-bit set (four uint64 words) per class for O(1) membership
// tests instead of a byte-indexed bool array, so the class tables still read
// as a vector of words the way the bitmap version would.
package charclass

import "github.com/bits-and-blooms/bitset"

// WindowSize is the width of one scan window, matching the original's
// 32-byte AVX2 register width.
const WindowSize = 32

// Class is a byte membership set backed by a 256-bit vector
// (github.com/bits-and-blooms/bitset), grounded on nabbar-golib's use of the
// same library for compact membership tests.
type Class struct {
	set *bitset.BitSet
}

func newClass(allowed func(b byte) bool) *Class {
	s := bitset.New(256)
	for i := 0; i < 256; i++ {
		if allowed(byte(i)) {
			s.Set(uint(i))
		}
	}
	return &Class{set: s}
}

// Test reports whether b is a member of the class.
func (c *Class) Test(b byte) bool { return c.set.Test(uint(b)) }

var (
	// URLPath: pchar plus '/' (RFC 3986 segment/pchar). '%' is a member; the
	// request-line parser separately checks that every '%' starts a triplet
	// with two hex digits.
	URLPath = newClass(func(b byte) bool {
		switch {
		case isAlphaNum(b):
			return true
		case b == '/' || b == '-' || b == '.' || b == '_' || b == '~':
			return true
		case b == '!' || b == '$' || b == '&' || b == '\'' || b == '(' || b == ')':
			return true
		case b == '*' || b == '+' || b == ',' || b == ';' || b == '=' || b == ':' || b == '@':
			return true
		case b == '%':
			return true
		}
		return false
	})

	// URLQuery: pchar / "/" / "?" (RFC 3986 query).
	URLQuery = newClass(func(b byte) bool {
		if URLPath.Test(b) {
			return true
		}
		return b == '?'
	})

	// FieldName: RFC 7230 tchar (token characters).
	FieldName = newClass(func(b byte) bool { return isTChar(b) })

	// FieldValue: visible ASCII plus space/tab, excluding CR/LF (field-content
	// per RFC 7230 field-content, obs-text included for byte-transparency).
	FieldValue = newClass(func(b byte) bool {
		if b == ' ' || b == '\t' {
			return true
		}
		if b >= 0x21 && b <= 0x7E {
			return true
		}
		return b >= 0x80 // obs-text
	})
)

func isAlphaNum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func isTChar(b byte) bool {
	switch {
	case isAlphaNum(b):
		return true
	case b == '!' || b == '#' || b == '$' || b == '%' || b == '&' || b == '\'' || b == '*' ||
		b == '+' || b == '-' || b == '.' || b == '^' || b == '_' || b == '`' || b == '|' || b == '~':
		return true
	}
	return false
}

// ScanRun classifies window (at most WindowSize bytes) against class and
// returns the number of consecutive valid bytes starting at window[0]. It
// never looks past window; the parser's scanToken treats a run that fills
// the whole window at the end of the buffered data as unterminated and waits
// for more bytes, so a run is never taken as ending at bytes that have not
// arrived yet.
func ScanRun(window []byte, class *Class) int {
	n := len(window)
	if n > WindowSize {
		n = WindowSize
	}
	run := 0
	for run < n && class.Test(window[run]) {
		run++
	}
	return run
}
