// Package udp implements the UDPv4/UDPv6 transport backend of
// spec.md §4.1: connectionless datagram send/receive with multicast
// group membership for SPDP/SEDP metatraffic.
//
// Grounded on the UDP listener/dialer idiom shown in the
// other_examples retrieval pack (nabbar-golib's socket-client/server-
// udp package docs, syncthing's discosrv multicast beacon), wired to
// golang.org/x/net/ipv4 and golang.org/x/net/ipv6 for JoinGroup —
// a dependency shared by the teacher and the DataDog-datadog-agent
// pack entry (see DESIGN.md's Domain stack section).
package udp

import (
	"context"
	"net"
	"sync"
	"time"

	logging "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/go-rtps/rtps/transport"
)

// MaxDatagramSize bounds a single UDP receive buffer.
const MaxDatagramSize = 65507

// Backend implements transport.Transport for UDPv4 and UDPv6.
type Backend struct {
	kind locator.Kind
	log  *logging.Entry

	mu     sync.Mutex
	inputs map[locator.Locator]*inputChannel
}

type inputChannel struct {
	conn   *net.UDPConn
	pc4    *ipv4.PacketConn
	pc6    *ipv6.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUDPv4 returns a Backend for locator.KindUDPv4.
func NewUDPv4() *Backend {
	return &Backend{kind: locator.KindUDPv4, log: logging.WithField("component", "transport-udp4"), inputs: make(map[locator.Locator]*inputChannel)}
}

// NewUDPv6 returns a Backend for locator.KindUDPv6.
func NewUDPv6() *Backend {
	return &Backend{kind: locator.KindUDPv6, log: logging.WithField("component", "transport-udp6"), inputs: make(map[locator.Locator]*inputChannel)}
}

// Kind implements transport.Transport.
func (b *Backend) Kind() locator.Kind { return b.kind }

func (b *Backend) network() string {
	if b.kind == locator.KindUDPv6 {
		return "udp6"
	}
	return "udp4"
}

// OpenInputChannel implements transport.Transport. Re-opening the same
// locator is a no-op success, per spec.md §4.1's idempotence rule.
func (b *Backend) OpenInputChannel(loc locator.Locator, recv transport.Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.inputs[loc]; exists {
		return nil
	}

	udpAddr := &net.UDPAddr{IP: loc.IP(), Port: int(loc.Port)}
	conn, err := net.ListenUDP(b.network(), udpAddr)
	if err != nil {
		return rtpserr.Wrap(rtpserr.InvalidArgument, err, "listen %s failed", loc)
	}

	ic := &inputChannel{conn: conn, done: make(chan struct{})}
	if loc.IsMulticast() {
		if err := joinMulticast(conn, b.kind, loc, ic); err != nil {
			conn.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ic.cancel = cancel
	b.inputs[loc] = ic

	go b.receiveLoop(ctx, ic, loc, recv)
	return nil
}

func joinMulticast(conn *net.UDPConn, kind locator.Kind, loc locator.Locator, ic *inputChannel) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return rtpserr.Wrap(rtpserr.InvalidArgument, err, "listing interfaces for multicast join")
	}
	group := &net.UDPAddr{IP: loc.IP()}
	if kind == locator.KindUDPv6 {
		pc := ipv6.NewPacketConn(conn)
		for _, ifi := range ifaces {
			_ = pc.JoinGroup(&ifi, group)
		}
		ic.pc6 = pc
		return nil
	}
	pc := ipv4.NewPacketConn(conn)
	for _, ifi := range ifaces {
		_ = pc.JoinGroup(&ifi, group)
	}
	ic.pc4 = pc
	return nil
}

func (b *Backend) receiveLoop(ctx context.Context, ic *inputChannel, loc locator.Locator, recv transport.Receiver) {
	defer close(ic.done)
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ic.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := ic.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				b.log.WithError(err).Warnf("reading from %s", loc)
				return
			}
		}
		from := locatorFromUDPAddr(loc.Kind, addr)
		payload := make([]byte, n)
		copy(payload, buf[:n])
		recv.OnDataReceived(payload, from)
	}
}

func locatorFromUDPAddr(kind locator.Kind, addr *net.UDPAddr) locator.Locator {
	if kind == locator.KindUDPv6 {
		return locator.NewUDPv6(addr.IP, uint16(addr.Port))
	}
	return locator.NewUDPv4(addr.IP, uint16(addr.Port))
}

// CloseInputChannel implements transport.Transport, waiting for the
// receive loop to exit before releasing the socket (spec.md §4.1
// "must wait until any in-flight receiver callback has returned").
func (b *Backend) CloseInputChannel(loc locator.Locator) error {
	b.mu.Lock()
	ic, ok := b.inputs[loc]
	if ok {
		delete(b.inputs, loc)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	ic.cancel()
	<-ic.done
	return ic.conn.Close()
}

// TransformRemoteLocator implements transport.Transport with the
// identity transform; loopback substitution is handled generically by
// package locator, which callers apply before reaching the transport.
func (b *Backend) TransformRemoteLocator(remote locator.Locator) locator.Locator { return remote }

// sendResource is a UDP outbound binding; UDP being connectionless,
// this is just a cached net.Conn dialed to the destination.
type sendResource struct {
	loc  locator.Locator
	conn *net.UDPConn
}

// OpenOutputChannel implements transport.Transport.
func (b *Backend) OpenOutputChannel(existing []transport.SendResource, loc locator.Locator) (transport.SendResource, error) {
	conn, err := net.DialUDP(b.network(), nil, &net.UDPAddr{IP: loc.IP(), Port: int(loc.Port)})
	if err != nil {
		return nil, rtpserr.Wrap(rtpserr.InvalidArgument, err, "dial %s failed", loc)
	}
	return &sendResource{loc: loc, conn: conn}, nil
}

func (r *sendResource) Send(ctx context.Context, buf []byte, deadline time.Time) error {
	if !deadline.IsZero() {
		r.conn.SetWriteDeadline(deadline)
	}
	_, err := r.conn.Write(buf)
	if err != nil {
		return rtpserr.Wrap(rtpserr.InvalidArgument, err, "write to %s failed", r.loc)
	}
	return nil
}

func (r *sendResource) Locator() locator.Locator { return r.loc }
func (r *sendResource) Close() error             { return r.conn.Close() }
