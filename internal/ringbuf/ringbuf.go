// Package ringbuf implements the contiguous-view read/write buffer (D)
// underneath the I/O channel (E). Bytes are stored in a list of fixed-
// capacity, page-sized blocks; a request for a contiguous view spanning
// more than one block triggers compaction into a single freshly-allocated
// block.
package ringbuf

import "errors"

// blockSize matches a typical page size; it is not configurable because it
// is an implementation detail of how blocks are allocated, not a wire-level
// limit (those live in http.Limits).
const blockSize = 4096

// ErrBufferFull is returned by Append when a non-zero capacity limit would
// be exceeded.
var ErrBufferFull = errors.New("ringbuf: buffer full")

// ErrCapacityTooSmall is returned by SetCapacity when the requested limit is
// smaller than the bytes already buffered.
var ErrCapacityTooSmall = errors.New("ringbuf: capacity smaller than buffered size")

type block struct {
	buf []byte
	r   int // read offset within buf
	w   int // write offset within buf
}

func newBlock(capacity int) *block {
	if capacity < blockSize {
		capacity = blockSize
	}
	return &block{buf: make([]byte, capacity)}
}

func (b *block) readable() int { return b.w - b.r }
func (b *block) writable() int { return len(b.buf) - b.w }

// Buffer is an ordered byte sequence with a read-head and a write-head.
// Capacity, if non-zero, bounds the number of buffered-but-unconsumed bytes.
type Buffer struct {
	blocks   []*block
	capacity int // 0 = unbounded
	size     int // total unconsumed bytes across all blocks
}

// New returns an empty buffer. capacity of 0 means unbounded.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Len reports the number of unconsumed bytes currently buffered.
func (b *Buffer) Len() int { return b.size }

// Capacity reports the configured capacity limit (0 = unbounded).
func (b *Buffer) Capacity() int { return b.capacity }

// SetCapacity changes the capacity limit. Fails if the new limit (when
// non-zero) is smaller than the bytes currently buffered.
func (b *Buffer) SetCapacity(n int) error {
	if n != 0 && n < b.size {
		return ErrCapacityTooSmall
	}
	b.capacity = n
	return nil
}

// Append copies p into the buffer, allocating new blocks as needed.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if b.capacity != 0 && b.size+len(p) > b.capacity {
		return ErrBufferFull
	}
	for len(p) > 0 {
		var tail *block
		if n := len(b.blocks); n > 0 {
			tail = b.blocks[n-1]
		}
		if tail == nil || tail.writable() == 0 {
			tail = newBlock(blockSize)
			b.blocks = append(b.blocks, tail)
		}
		n := copy(tail.buf[tail.w:], p)
		tail.w += n
		p = p[n:]
		b.size += n
	}
	return nil
}

// Peek borrows a contiguous prefix of n bytes (n may be less than Len, but
// never more) without consuming it. If the prefix straddles more than one
// block, the relevant blocks are compacted into one newly allocated block
// first.
func (b *Buffer) Peek(n int) ([]byte, error) {
	return b.PeekAt(0, n)
}

// PeekAt borrows a contiguous slice of length bytes starting offset bytes
// after the read head, compacting if the requested window straddles block
// boundaries.
func (b *Buffer) PeekAt(offset, length int) ([]byte, error) {
	if offset+length > b.size {
		return nil, errors.New("ringbuf: requested window exceeds buffered size")
	}
	if length == 0 {
		return nil, nil
	}
	bi, bo := b.locate(offset)
	if bi >= len(b.blocks) {
		return nil, nil
	}
	first := b.blocks[bi]
	if first.r+bo+length <= first.w {
		start := first.r + bo
		return first.buf[start : start+length], nil
	}
	b.compact(bi, offset-bo, length+bo)
	bi, bo = b.locate(offset)
	first = b.blocks[bi]
	start := first.r + bo
	return first.buf[start : start+length], nil
}

// locate returns the block index and in-block offset (relative to that
// block's read head) of the byte `offset` positions after the overall read
// head.
func (b *Buffer) locate(offset int) (int, int) {
	for i, blk := range b.blocks {
		r := blk.readable()
		if offset < r {
			return i, offset
		}
		offset -= r
	}
	return len(b.blocks), 0
}

// compact merges every block touched by [blockStart, blockStart+span) bytes
// of buffered data (span measured from the read head) into one new block,
// replacing the covered blocks in place. The touched blocks' *entire*
// readable range is carried into the merged block, not just the span: a
// touched block may hold bytes beyond what the span needed (the rest of a
// pipelined request, or body bytes past the current read), and those bytes
// must survive compaction untouched and still ordered.
func (b *Buffer) compact(firstBlockIdx, blockStartOffset, span int) {
	_ = blockStartOffset
	remaining := span
	idx := firstBlockIdx
	collected := 0
	last := firstBlockIdx
	for idx < len(b.blocks) && remaining > 0 {
		blk := b.blocks[idx]
		avail := blk.readable()
		collected += avail
		if avail > remaining {
			remaining = 0
		} else {
			remaining -= avail
		}
		last = idx
		idx++
	}
	merged := newBlock(collected)
	w := 0
	for i := firstBlockIdx; i <= last; i++ {
		blk := b.blocks[i]
		n := copy(merged.buf[w:], blk.buf[blk.r:blk.w])
		w += n
	}
	merged.w = w
	newBlocks := make([]*block, 0, len(b.blocks)-(last-firstBlockIdx))
	newBlocks = append(newBlocks, b.blocks[:firstBlockIdx]...)
	newBlocks = append(newBlocks, merged)
	newBlocks = append(newBlocks, b.blocks[last+1:]...)
	b.blocks = newBlocks
}

// Consume advances the read head by n bytes, releasing any block that
// becomes fully consumed.
func (b *Buffer) Consume(n int) {
	if n > b.size {
		n = b.size
	}
	b.size -= n
	for n > 0 && len(b.blocks) > 0 {
		blk := b.blocks[0]
		avail := blk.readable()
		if n < avail {
			blk.r += n
			n = 0
			break
		}
		n -= avail
		blk.r = blk.w
		b.blocks = b.blocks[1:]
	}
}
