// Package tcpsock implements the non-blocking TCP socket state machine
// (component F): connect / read / write / graceful-disconnect, driven by
// readiness events from package reactor and exposing its bytes through an
// iochan.Channel.
package tcpsock

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kourier-go/kourier/internal/iochan"
	"github.com/kourier-go/kourier/internal/reactor"
	"github.com/kourier-go/kourier/internal/ringbuf"
	"github.com/kourier-go/kourier/internal/signalslot"
)

// State is one of the four states in the connection lifecycle.
type State int

const (
	Unconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Options are the socket options applied to every connected socket.
type Options struct {
	NoDelay     bool
	KeepAlive   bool
	SendBufSize int // 0 = OS default
	RecvBufSize int // 0 = OS default
}

// DefaultOptions recovers the original implementation's defaults
// (Src/Core/TcpSocket.h): NoDelay and KeepAlive both on.
func DefaultOptions() Options {
	return Options{NoDelay: true, KeepAlive: true}
}

const (
	connectTimeout  = 60 * time.Second
	disconnectGrace = 10 * time.Second
)

// Signals emitted on the embedded *signalslot.Object.
const (
	SignalConnected    = "connected"
	SignalDisconnected = "disconnected"
	SignalError        = "error"
	SignalReceivedData = "received-data"
	SignalSentData     = "sent-data"
)

// Socket is a non-blocking TCP connection. It embeds signalslot.Object so
// callers can Connect to its lifecycle signals the way they would any other
// Object in the graph.
type Socket struct {
	*signalslot.Object

	fd       int
	state    State
	notifier *reactor.Notifier
	source   *reactor.Source
	channel  *iochan.Channel
	opts     Options

	connectTimer  *reactor.Timer
	shutdownTimer *reactor.Timer

	shutdownWritten bool
	peerEOF         bool
	errorMessage    string

	peerIP   string
	peerPort int

	// OnBytesRead and OnBytesWritten, if set, are invoked with the number of
	// bytes actually moved across the kernel boundary on each pump — the
	// hook a connection handler uses to feed byte counters without this
	// package needing to know about metrics.
	OnBytesRead    func(n int)
	OnBytesWritten func(n int)
}

// FromAcceptedFD wraps an already-connected, already non-blocking descriptor
// (the "incoming descriptor" the out-of-scope listener hands to the core,
// as a Connected socket.
func FromAcceptedFD(g *signalslot.Graph, n *reactor.Notifier, fd int, opts Options) (*Socket, error) {
	s := &Socket{
		Object:   signalslot.NewObject(g),
		fd:       fd,
		state:    Connected,
		notifier: n,
		opts:     opts,
	}
	if err := s.applyOptions(); err != nil {
		return nil, err
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		s.peerIP, s.peerPort = sockaddrToIPPort(sa)
	}
	s.source = &reactor.Source{FD: fd, Interest: unix.EPOLLIN | unix.EPOLLOUT, OnEvent: s.onEvent}
	if err := n.Register(s.source); err != nil {
		return nil, err
	}
	s.channel = iochan.New(s, s, 0, 0)
	s.wireChannelSignals()
	s.channel.OnInterestChange = func(wantRead, wantWrite bool) { s.syncInterest(wantRead, wantWrite) }
	s.syncInterest(s.channel.WantRead(), s.channel.WantWrite())
	return s, nil
}

// wireChannelSignals connects the channel's byte-movement callbacks to both
// this socket's signals and its optional metrics hooks. Shared between
// FromAcceptedFD and the outbound Connect path's post-handshake setup.
func (s *Socket) wireChannelSignals() {
	s.channel.OnReceivedData = func(n int) {
		if s.OnBytesRead != nil {
			s.OnBytesRead(n)
		}
		s.Emit(SignalReceivedData)
	}
	s.channel.OnSentData = func(n int) {
		if s.OnBytesWritten != nil {
			s.OnBytesWritten(n)
		}
		s.Emit(SignalSentData)
	}
}

// Connect initiates a non-blocking connection to host:port, following the
// Unconnected -> Connecting transition. Safe to call again from inside an
// error slot (re-entrant), since it only ever touches this socket's own
// fields.
func Connect(g *signalslot.Graph, n *reactor.Notifier, host string, port int, opts Options) (*Socket, error) {
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("tcpsock: resolve %s: %w", host, err)
	}
	ip := net.ParseIP(addrs[0])
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		a := &unix.SockaddrInet4{Port: port}
		copy(a.Addr[:], ip4)
		sa = a
	} else {
		a := &unix.SockaddrInet6{Port: port}
		copy(a.Addr[:], ip.To16())
		sa = a
	}

	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("tcpsock: socket: %w", err)
	}

	s := &Socket{
		Object:   signalslot.NewObject(g),
		fd:       fd,
		state:    Connecting,
		notifier: n,
		opts:     opts,
		peerIP:   ip.String(),
		peerPort: port,
	}
	if err := s.applyOptions(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("tcpsock: connect: %w", err)
	}

	s.source = &reactor.Source{FD: fd, Interest: unix.EPOLLOUT, OnEvent: s.onEvent}
	if regErr := n.Register(s.source); regErr != nil {
		unix.Close(fd)
		return nil, regErr
	}
	t, timerErr := reactor.NewTimer(n, s.onConnectTimeout)
	if timerErr != nil {
		return nil, timerErr
	}
	s.connectTimer = t
	t.Start(connectTimeout, false)
	return s, nil
}

func (s *Socket) applyOptions() error {
	if s.opts.NoDelay {
		unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if s.opts.KeepAlive {
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
	if s.opts.SendBufSize > 0 {
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, s.opts.SendBufSize)
	}
	if s.opts.RecvBufSize > 0 {
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, s.opts.RecvBufSize)
	}
	return nil
}

// State returns the socket's current state.
func (s *Socket) State() State { return s.state }

// Channel returns the I/O channel backing this socket's buffers.
func (s *Socket) Channel() *iochan.Channel { return s.channel }

// PeerAddr / PeerPort expose the parsed request's "reference to the
// underlying channel (for peer address/port)" data-model field.
func (s *Socket) PeerAddr() string { return s.peerIP }
func (s *Socket) PeerPort() int    { return s.peerPort }

// ErrorMessage returns the last error's human-readable message.
func (s *Socket) ErrorMessage() string { return s.errorMessage }

func (s *Socket) syncInterest(wantRead, wantWrite bool) {
	if s.source == nil {
		return
	}
	mask := uint32(0)
	if wantRead {
		mask |= unix.EPOLLIN
	}
	if wantWrite {
		mask |= unix.EPOLLOUT
	}
	s.source.Interest = mask
	s.source.SetEnabled(true)
}

func (s *Socket) onConnectTimeout() {
	if s.state != Connecting {
		return
	}
	s.failConnecting("connect timed out")
}

func (s *Socket) failConnecting(msg string) {
	s.errorMessage = msg
	s.teardown()
	s.state = Unconnected
	s.Emit(SignalError)
}

func (s *Socket) teardown() {
	if s.connectTimer != nil {
		s.connectTimer.Close(s.notifier)
		s.connectTimer = nil
	}
	if s.shutdownTimer != nil {
		s.shutdownTimer.Close(s.notifier)
		s.shutdownTimer = nil
	}
	if s.source != nil {
		s.notifier.Unregister(s.source)
		s.source = nil
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
}

func (s *Socket) onEvent(mask uint32) {
	switch s.state {
	case Connecting:
		s.handleConnectingEvent(mask)
	case Connected, Disconnecting:
		s.handleDataEvent(mask)
	}
}

func (s *Socket) handleConnectingEvent(mask uint32) {
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		s.failConnecting("connect error")
		return
	}
	if mask&unix.EPOLLOUT == 0 {
		return
	}
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		s.failConnecting("connect refused")
		return
	}
	if s.connectTimer != nil {
		s.connectTimer.Close(s.notifier)
		s.connectTimer = nil
	}
	s.state = Connected
	s.channel = iochan.New(s, s, 0, 0)
	s.wireChannelSignals()
	s.channel.OnInterestChange = func(wantRead, wantWrite bool) { s.syncInterest(wantRead, wantWrite) }
	s.syncInterest(true, false)
	s.Emit(SignalConnected)
}

func (s *Socket) handleDataEvent(mask uint32) {
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		s.errorMessage = "connection reset"
		s.teardown()
		s.state = Unconnected
		s.Emit(SignalError)
		return
	}
	if mask&unix.EPOLLIN != 0 {
		if err := s.channel.PumpRead(); err != nil {
			s.onReadError(err)
			if err != errPeerEOF {
				return
			}
		}
	}
	if mask&unix.EPOLLOUT != 0 {
		if err := s.channel.PumpWrite(); err != nil {
			s.onWriteError(err)
			return
		}
	}
	if s.state == Disconnecting && !s.shutdownWritten && s.channel.DataToWrite() == 0 {
		s.beginShutdownWrite()
	}
	// Only finish the Disconnecting -> Unconnected transition once the
	// write buffer is empty and shutdown-write has been sent: a peer FIN
	// observed in the same (or an earlier) readiness batch as still-queued
	// outbound bytes must not cut the flush short.
	if s.peerEOF && s.state == Disconnecting && s.shutdownWritten && s.channel.DataToWrite() == 0 {
		s.finishDisconnect()
	}
}

func (s *Socket) onReadError(err error) {
	if err == errPeerEOF {
		// Record the FIN and defer completion to handleDataEvent's
		// drain-then-finish check above; the peer may have also handed us
		// a write-ready edge in this same batch that still needs to flush
		// outbound bytes before the Disconnecting -> Unconnected
		// transition can complete.
		s.peerEOF = true
		return
	}
	s.errorMessage = err.Error()
	s.teardown()
	s.state = Unconnected
	s.Emit(SignalError)
}

func (s *Socket) onWriteError(err error) {
	s.errorMessage = err.Error()
	s.teardown()
	s.state = Unconnected
	s.Emit(SignalError)
}

// DisconnectFromPeer begins a graceful, cooperative close: stop reading,
// drain the outbound buffer, shutdown-write, then wait up to 10s for the
// peer's FIN.
func (s *Socket) DisconnectFromPeer() {
	if s.state != Connected {
		return
	}
	s.state = Disconnecting
	s.channel.SetReadInterest(false)
	s.syncInterest(true, s.channel.WantWrite()) // still poll read to observe peer EOF
	if s.channel.DataToWrite() == 0 {
		s.beginShutdownWrite()
	}
}

func (s *Socket) beginShutdownWrite() {
	s.shutdownWritten = true
	unix.Shutdown(s.fd, unix.SHUT_WR)
	t, err := reactor.NewTimer(s.notifier, s.onShutdownTimeout)
	if err == nil {
		s.shutdownTimer = t
		t.Start(disconnectGrace, false)
	}
}

func (s *Socket) onShutdownTimeout() {
	if s.state != Disconnecting {
		return
	}
	s.errorMessage = "shutdown timed out"
	s.teardown()
	s.state = Unconnected
	s.Emit(SignalError)
}

func (s *Socket) finishDisconnect() {
	s.teardown()
	s.state = Unconnected
	s.Emit(SignalDisconnected)
}

// Abort force-closes the socket from any state with no signals emitted.
func (s *Socket) Abort() {
	s.teardown()
	s.state = Unconnected
}

var errPeerEOF = fmt.Errorf("tcpsock: peer closed connection")

// ReadInto implements iochan.DataSource by reading in a loop until the
// kernel reports EAGAIN, a read comes back short, or the peer closes
// (reported as errPeerEOF).
func (s *Socket) ReadInto(buf *ringbuf.Buffer) (int, error) {
	total := 0
	tmp := make([]byte, 64*1024)
	for {
		n, err := unix.Read(s.fd, tmp)
		if n > 0 {
			if appendErr := buf.Append(tmp[:n]); appendErr != nil {
				return total, appendErr
			}
			total += n
		}
		if err != nil {
			if err == unix.EAGAIN {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, errPeerEOF
		}
		if n < len(tmp) {
			return total, nil
		}
	}
}

// WriteFrom implements iochan.DataSink by writing as much of buf's
// contiguous prefix as the kernel currently accepts.
func (s *Socket) WriteFrom(buf *ringbuf.Buffer) (int, error) {
	total := 0
	for buf.Len() > 0 {
		n := buf.Len()
		if n > 64*1024 {
			n = 64 * 1024
		}
		p, err := buf.Peek(n)
		if err != nil {
			return total, err
		}
		written, werr := unix.Write(s.fd, p)
		if written > 0 {
			buf.Consume(written)
			total += written
		}
		if werr != nil {
			if werr == unix.EAGAIN {
				return total, nil
			}
			return total, werr
		}
		if written < len(p) {
			return total, nil
		}
	}
	return total, nil
}

func sockaddrToIPPort(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port
	}
	return "", 0
}
