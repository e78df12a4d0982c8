// Package tcp implements the TCPv4/TCPv6 transport backend of
// spec.md §4.1: a 14-byte RTCP-style framing header multiplexing
// logical ports over one physical connection, and a
// disconnected→connecting→waiting-for-bind→connected reconnection
// state machine. No keep-alive messages are sent or checked.
//
// Grounded on the teacher's reconnecting-client idiom (retried gRPC
// dials in controller/api/util and the CLI's healthcheck retry loop)
// generalized and paired with github.com/cenkalti/backoff/v4, which
// drives the DataDog-datadog-agent pack's outbound retry loops — see
// DESIGN.md's Domain stack section.
package tcp

import (
	"context"
	"hash/crc32"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/sirupsen/logrus"

	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/go-rtps/rtps/transport"
)

// FrameHeaderSize is the fixed size of the RTCP-style framing header:
// 4-byte magic, 4-byte total length, 4-byte CRC, 2-byte logical port.
const FrameHeaderSize = 14

var frameMagic = [4]byte{'R', 'T', 'C', 'P'}

// State names the reconnection state machine of spec.md §4.1.
type State int

const (
	Disconnected State = iota
	Connecting
	WaitingForBind
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case WaitingForBind:
		return "waiting_for_bind"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Backend implements transport.Transport for TCPv4 and TCPv6.
type Backend struct {
	kind locator.Kind
	log  *logging.Entry

	// CalculateCRC/CheckCRC implement the optional per-direction CRC
	// flags of spec.md §4.1; both default true.
	CalculateCRC bool
	CheckCRC     bool
	// KeepAlivePeriod/KeepAliveTimeout are stored on the backend (the
	// period is copied onto each connection); nothing sends keep-alives
	// or closes a silent peer on timeout.
	KeepAlivePeriod  time.Duration
	KeepAliveTimeout time.Duration

	mu        sync.Mutex
	listeners map[locator.Locator]*listener
	conns     map[locator.Locator]*connection
}

type listener struct {
	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTCPv4 returns a Backend for locator.KindTCPv4.
func NewTCPv4() *Backend { return newBackend(locator.KindTCPv4, "transport-tcp4") }

// NewTCPv6 returns a Backend for locator.KindTCPv6.
func NewTCPv6() *Backend { return newBackend(locator.KindTCPv6, "transport-tcp6") }

func newBackend(kind locator.Kind, component string) *Backend {
	return &Backend{
		kind:             kind,
		log:              logging.WithField("component", component),
		CalculateCRC:     true,
		CheckCRC:         true,
		KeepAlivePeriod:  5 * time.Second,
		KeepAliveTimeout: 15 * time.Second,
		listeners:        make(map[locator.Locator]*listener),
		conns:            make(map[locator.Locator]*connection),
	}
}

// Kind implements transport.Transport.
func (b *Backend) Kind() locator.Kind { return b.kind }

func (b *Backend) network() string {
	if b.kind == locator.KindTCPv6 {
		return "tcp6"
	}
	return "tcp4"
}

// OpenInputChannel implements transport.Transport.
func (b *Backend) OpenInputChannel(loc locator.Locator, recv transport.Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.listeners[loc]; exists {
		return nil
	}
	ln, err := net.Listen(b.network(), net.JoinHostPort(loc.IP().String(), portString(loc.Port)))
	if err != nil {
		return rtpserr.Wrap(rtpserr.InvalidArgument, err, "listen %s failed", loc)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{ln: ln, cancel: cancel, done: make(chan struct{})}
	b.listeners[loc] = l

	go b.acceptLoop(ctx, l, recv)
	return nil
}

func (b *Backend) acceptLoop(ctx context.Context, l *listener, recv transport.Receiver) {
	defer close(l.done)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				b.log.WithError(err).Warn("accept failed")
				return
			}
		}
		go b.serveConn(ctx, conn, recv)
	}
}

func (b *Backend) serveConn(ctx context.Context, conn net.Conn, recv transport.Receiver) {
	defer conn.Close()
	peer := conn.RemoteAddr()
	loc := tcpAddrToLocator(b.kind, peer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		logicalPort, payload, err := readFrame(conn, b.CheckCRC)
		if err != nil {
			if err != io.EOF {
				b.log.WithError(err).Debug("frame read failed, closing connection")
			}
			return
		}
		_ = logicalPort // read from the frame but not passed to the receiver
		recv.OnDataReceived(payload, loc)
	}
}

func tcpAddrToLocator(kind locator.Kind, addr net.Addr) locator.Locator {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return locator.Invalid
	}
	if kind == locator.KindTCPv6 {
		l := locator.NewUDPv6(tcpAddr.IP, uint16(tcpAddr.Port))
		l.Kind = locator.KindTCPv6
		return l
	}
	return locator.NewTCPv4(tcpAddr.IP, uint16(tcpAddr.Port))
}

func portString(p uint32) string {
	return strconv.Itoa(int(p))
}

// CloseInputChannel implements transport.Transport.
func (b *Backend) CloseInputChannel(loc locator.Locator) error {
	b.mu.Lock()
	l, ok := b.listeners[loc]
	if ok {
		delete(b.listeners, loc)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	l.cancel()
	err := l.ln.Close()
	<-l.done
	return err
}

// TransformRemoteLocator implements transport.Transport with the
// identity transform.
func (b *Backend) TransformRemoteLocator(remote locator.Locator) locator.Locator { return remote }

// connection is a reconnecting outbound TCP binding: the reconnection
// state machine of spec.md §4.1, driven by backoff.ExponentialBackOff.
type connection struct {
	mu        sync.Mutex
	loc       locator.Locator
	network   string
	conn      net.Conn
	state     State
	calcCRC   bool
	checkCRC  bool
	keepAlive time.Duration
	log       *logging.Entry
}

// OpenOutputChannel implements transport.Transport, lazily connecting
// on the first Send per spec.md §4.1 ("this may connect lazily").
func (b *Backend) OpenOutputChannel(existing []transport.SendResource, loc locator.Locator) (transport.SendResource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[loc]; ok {
		return c, nil
	}
	c := &connection{
		loc:       loc,
		network:   b.network(),
		state:     Disconnected,
		calcCRC:   b.CalculateCRC,
		checkCRC:  b.CheckCRC,
		keepAlive: b.KeepAlivePeriod,
		log:       b.log,
	}
	b.conns[loc] = c
	return c, nil
}

func (c *connection) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected && c.conn != nil {
		return nil
	}
	c.state = Connecting
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	var conn net.Conn
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout(c.network, net.JoinHostPort(c.loc.IP().String(), portString(c.loc.Port)), 5*time.Second)
		return dialErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		c.state = Disconnected
		return rtpserr.Wrap(rtpserr.Timeout, err, "connecting to %s", c.loc)
	}
	c.state = WaitingForBind
	c.conn = conn
	c.state = Connected
	return nil
}

// Send implements transport.SendResource, writing one RTCP-framed
// message. Every frame goes out on logical port 0; OpenOutputChannel
// caches one connection per locator and offers no other port.
func (c *connection) Send(ctx context.Context, buf []byte, deadline time.Time) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if !deadline.IsZero() {
		conn.SetWriteDeadline(deadline)
	}
	frame := writeFrame(0, buf, c.calcCRC)
	if _, err := conn.Write(frame); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.conn = nil
		c.mu.Unlock()
		return rtpserr.Wrap(rtpserr.InvalidArgument, err, "write to %s failed", c.loc)
	}
	return nil
}

func (c *connection) Locator() locator.Locator { return c.loc }

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Disconnected
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// writeFrame builds the 14-byte RTCP-style header plus payload.
func writeFrame(logicalPort uint16, payload []byte, calcCRC bool) []byte {
	total := FrameHeaderSize + len(payload)
	buf := make([]byte, total)
	copy(buf[0:4], frameMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(total))
	binary.BigEndian.PutUint16(buf[12:14], logicalPort)
	copy(buf[FrameHeaderSize:], payload)
	var crc uint32
	if calcCRC {
		crc = crc32.ChecksumIEEE(payload)
	}
	binary.BigEndian.PutUint32(buf[8:12], crc)
	return buf
}

// readFrame reads one RTCP-framed message from r, validating the CRC
// when checkCRC is set.
func readFrame(r io.Reader, checkCRC bool) (logicalPort uint16, payload []byte, err error) {
	head := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	if head[0] != frameMagic[0] || head[1] != frameMagic[1] || head[2] != frameMagic[2] || head[3] != frameMagic[3] {
		return 0, nil, rtpserr.New(rtpserr.WireFormat, "bad RTCP frame magic %q", head[0:4])
	}
	total := binary.BigEndian.Uint32(head[4:8])
	crc := binary.BigEndian.Uint32(head[8:12])
	logicalPort = binary.BigEndian.Uint16(head[12:14])
	if int(total) < FrameHeaderSize {
		return 0, nil, rtpserr.New(rtpserr.WireFormat, "RTCP frame total length %d smaller than header", total)
	}
	payload = make([]byte, int(total)-FrameHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if checkCRC && crc32.ChecksumIEEE(payload) != crc {
		return 0, nil, rtpserr.New(rtpserr.WireFormat, "RTCP frame CRC mismatch")
	}
	return logicalPort, payload, nil
}
