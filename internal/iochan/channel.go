// Package iochan implements the I/O channel (E): a pair of ring buffers
// (inbound, outbound) mediating between a kernel-facing DataSource/DataSink
// pair and the user-level readers/writers built on top — the HTTP parser
// reads the inbound buffer, the broker writes the outbound one.
package iochan

import (
	"io"

	"github.com/kourier-go/kourier/internal/ringbuf"
)

// DataSource pulls bytes from the kernel (or a TLS layer sitting in front of
// it) into the inbound ring buffer. Implementations report io.EOF once the
// peer half-closes.
type DataSource interface {
	ReadInto(buf *ringbuf.Buffer) (int, error)
}

// DataSink pushes bytes from the outbound ring buffer to the kernel (or a
// TLS layer). It must consume from buf via Peek/Consume, not replace it.
type DataSink interface {
	WriteFrom(buf *ringbuf.Buffer) (int, error)
}

// Channel pairs an inbound and an outbound ring buffer with the source/sink
// capable of moving bytes in and out of them.
type Channel struct {
	in  *ringbuf.Buffer
	out *ringbuf.Buffer

	src  DataSource
	sink DataSink

	wantRead  bool
	wantWrite bool

	// OnInterestChange is invoked whenever the channel's readability or
	// writability interest changes, so the backing event source's mask can
	// be kept minimal.
	OnInterestChange func(wantRead, wantWrite bool)

	// OnReceivedData fires after PumpRead appends at least one byte, with the
	// number of bytes actually read from the kernel.
	OnReceivedData func(n int)
	// OnSentData fires after PumpWrite drains at least one byte, with the
	// number of bytes actually written to the kernel.
	OnSentData func(n int)
}

// New creates a channel over src/sink with the given inbound/outbound
// capacity limits (0 = unbounded).
func New(src DataSource, sink DataSink, inCap, outCap int) *Channel {
	c := &Channel{
		in:       ringbuf.New(inCap),
		out:      ringbuf.New(outCap),
		src:      src,
		sink:     sink,
		wantRead: true,
	}
	c.notifyInterest()
	return c
}

func (c *Channel) notifyInterest() {
	if c.OnInterestChange != nil {
		c.OnInterestChange(c.wantRead, c.wantWrite)
	}
}

// SetReadInterest toggles whether the channel wants to be pumped for reads.
func (c *Channel) SetReadInterest(want bool) {
	if c.wantRead == want {
		return
	}
	c.wantRead = want
	c.notifyInterest()
}

// WantRead reports the current read interest.
func (c *Channel) WantRead() bool { return c.wantRead }

// WantWrite reports whether the outbound buffer has data to drain.
func (c *Channel) WantWrite() bool { return c.wantWrite }

// PumpRead pulls as many bytes as the source currently has ready into the
// inbound buffer.
func (c *Channel) PumpRead() error {
	n, err := c.src.ReadInto(c.in)
	if n > 0 && c.OnReceivedData != nil {
		c.OnReceivedData(n)
	}
	return err
}

// PumpWrite drains as many bytes as the sink currently accepts from the
// outbound buffer, updating write interest afterwards.
func (c *Channel) PumpWrite() error {
	n, err := c.sink.WriteFrom(c.out)
	if n > 0 && c.OnSentData != nil {
		c.OnSentData(n)
	}
	c.setWriteInterest(c.out.Len() > 0)
	return err
}

func (c *Channel) setWriteInterest(want bool) {
	if c.wantWrite == want {
		return
	}
	c.wantWrite = want
	c.notifyInterest()
}

// Write appends data to the outbound buffer, enabling write interest.
func (c *Channel) Write(data []byte) (int, error) {
	if err := c.out.Append(data); err != nil {
		return 0, err
	}
	c.setWriteInterest(true)
	return len(data), nil
}

// DataToWrite reports how many outbound bytes are still queued.
func (c *Channel) DataToWrite() int { return c.out.Len() }

// Read copies up to max buffered inbound bytes into out (which must be at
// least max long) and consumes them.
func (c *Channel) Read(out []byte, max int) (int, error) {
	n := c.in.Len()
	if n > max {
		n = max
	}
	if n > len(out) {
		n = len(out)
	}
	if n == 0 {
		return 0, nil
	}
	p, err := c.in.Peek(n)
	if err != nil {
		return 0, err
	}
	copy(out, p)
	c.in.Consume(n)
	return n, nil
}

// PeekAll borrows (without consuming) every currently-buffered inbound byte.
func (c *Channel) PeekAll() ([]byte, error) {
	return c.in.Peek(c.in.Len())
}

// PeekAt borrows length inbound bytes starting offset bytes past the read
// head, without consuming them — used by the parser to look ahead.
func (c *Channel) PeekAt(offset, length int) ([]byte, error) {
	return c.in.PeekAt(offset, length)
}

// Skip advances the inbound read head by n bytes.
func (c *Channel) Skip(n int) { c.in.Consume(n) }

// InboundLen reports how many unconsumed inbound bytes are buffered.
func (c *Channel) InboundLen() int { return c.in.Len() }

// SetInboundCapacity bounds the inbound buffer (maxRequestSize-style limits).
func (c *Channel) SetInboundCapacity(n int) error { return c.in.SetCapacity(n) }

var _ io.Writer = (*Channel)(nil)
