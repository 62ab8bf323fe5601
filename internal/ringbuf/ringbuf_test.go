package ringbuf

import (
	"bytes"
	"testing"
)

func TestAppendConsumeRoundTrip(t *testing.T) {
	b := New(0)
	if err := b.Append([]byte("hello ")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append([]byte("world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := b.Len(); got != 11 {
		t.Fatalf("Len() = %d, want 11", got)
	}
	got, err := b.Peek(11)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("Peek() = %q, want %q", got, "hello world")
	}
	b.Consume(6)
	if got := b.Len(); got != 5 {
		t.Fatalf("Len() after Consume = %d, want 5", got)
	}
	got, err = b.Peek(5)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !bytes.Equal(got, []byte("world")) {
		t.Fatalf("Peek() after Consume = %q, want %q", got, "world")
	}
}

func TestPeekAcrossBlockBoundaryCompacts(t *testing.T) {
	b := New(0)
	// blockSize is 4096; write enough to span two blocks, then request a
	// contiguous view straddling the boundary.
	first := bytes.Repeat([]byte("a"), blockSize-5)
	second := bytes.Repeat([]byte("b"), 20)
	if err := b.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append(second); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(b.blocks) < 2 {
		t.Fatalf("expected the data to span more than one block, got %d", len(b.blocks))
	}
	view, err := b.PeekAt(blockSize-10, 15)
	if err != nil {
		t.Fatalf("PeekAt: %v", err)
	}
	want := append(append([]byte(nil), first[len(first)-5:]...), second[:10]...)
	if !bytes.Equal(view, want) {
		t.Fatalf("PeekAt() = %q, want %q", view, want)
	}
}

func TestPeekAtSpanningBlockPreservesTrailingBytes(t *testing.T) {
	b := New(0)
	// Fill the first block to capacity, then spill a second block that
	// carries more bytes than a subsequent PeekAt window needs (e.g. a
	// pipelined request following the current body). Peeking only the
	// window must not discard the trailing bytes or shrink Len().
	first := bytes.Repeat([]byte("a"), blockSize)
	extra := bytes.Repeat([]byte("b"), 100)
	tail := bytes.Repeat([]byte("c"), 50)
	if err := b.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append(append(append([]byte(nil), extra...), tail...)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	total := b.Len()

	view, err := b.PeekAt(0, blockSize+len(extra))
	if err != nil {
		t.Fatalf("PeekAt: %v", err)
	}
	want := append(append([]byte(nil), first...), extra...)
	if !bytes.Equal(view, want) {
		t.Fatalf("PeekAt() = %d bytes, want %d matching bytes", len(view), len(want))
	}

	if got := b.Len(); got != total {
		t.Fatalf("Len() after PeekAt = %d, want unchanged %d", got, total)
	}

	rest, err := b.PeekAt(blockSize+len(extra), len(tail))
	if err != nil {
		t.Fatalf("PeekAt for trailing bytes: %v", err)
	}
	if !bytes.Equal(rest, tail) {
		t.Fatalf("trailing bytes lost by compaction: got %q, want %q", rest, tail)
	}
}

func TestAppendRespectsCapacity(t *testing.T) {
	b := New(4)
	if err := b.Append([]byte("abcd")); err != nil {
		t.Fatalf("Append within capacity: %v", err)
	}
	if err := b.Append([]byte("e")); err != ErrBufferFull {
		t.Fatalf("Append over capacity = %v, want ErrBufferFull", err)
	}
}

func TestSetCapacityTooSmall(t *testing.T) {
	b := New(0)
	b.Append([]byte("abcdef"))
	if err := b.SetCapacity(3); err != ErrCapacityTooSmall {
		t.Fatalf("SetCapacity(3) = %v, want ErrCapacityTooSmall", err)
	}
	if err := b.SetCapacity(10); err != nil {
		t.Fatalf("SetCapacity(10): %v", err)
	}
}

func TestConsumeReleasesFullyReadBlocks(t *testing.T) {
	b := New(0)
	b.Append(bytes.Repeat([]byte("x"), blockSize+10))
	b.Consume(blockSize)
	if got := b.Len(); got != 10 {
		t.Fatalf("Len() = %d, want 10", got)
	}
	if len(b.blocks) != 1 {
		t.Fatalf("expected the fully-consumed block to be released, got %d blocks", len(b.blocks))
	}
}

func TestPeekAtBeyondBufferedSizeErrors(t *testing.T) {
	b := New(0)
	b.Append([]byte("abc"))
	if _, err := b.PeekAt(0, 4); err == nil {
		t.Fatalf("PeekAt beyond buffered size should error")
	}
}
