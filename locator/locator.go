// Package locator implements the transport-agnostic address model of
// spec.md §3: a Locator is a {kind, port, 16-byte address} triple that
// hides UDP/TCP/SHM specifics from the RTPS message and endpoint
// layers.
//
// Grounded on the teacher's pkg/addr package shape: a small value
// type with String()/equality helpers that higher layers pass around
// by value, generalized here from wrapping net.Addr to the fixed
// 24-byte RTPS locator representation (kind int32, port uint32,
// 16-byte address) used on the wire inside SPDP/SEDP parameter lists.
package locator

import (
	"fmt"
	"net"
)

// Kind selects which transport a Locator addresses.
type Kind int32

const (
	KindInvalid Kind = -1
	KindUDPv4   Kind = 1
	KindUDPv6   Kind = 2
	KindTCPv4   Kind = 4
	KindTCPv6   Kind = 8
	KindSHM     Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "UDPv4"
	case KindUDPv6:
		return "UDPv6"
	case KindTCPv4:
		return "TCPv4"
	case KindTCPv6:
		return "TCPv6"
	case KindSHM:
		return "SHM"
	default:
		return "Invalid"
	}
}

// Locator is the wire-level address of spec.md §3. Port zero means
// "unspecified/invalid".
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// Invalid is the zero-value-equivalent invalid locator.
var Invalid = Locator{Kind: KindInvalid}

// IsValid reports whether l carries a usable address.
func (l Locator) IsValid() bool { return l.Kind != KindInvalid && l.Kind != 0 }

// NewUDPv4 builds a UDPv4 locator, storing the IPv4 address in the
// last four bytes per spec.md §3 ("For IPv4, the address occupies the
// last four bytes; the remainder is zero").
func NewUDPv4(ip net.IP, port uint16) Locator {
	var l Locator
	l.Kind = KindUDPv4
	l.Port = uint32(port)
	ip4 := ip.To4()
	if ip4 != nil {
		copy(l.Address[12:16], ip4)
	}
	return l
}

// NewUDPv6 builds a UDPv6 locator from a 16-byte IPv6 address.
func NewUDPv6(ip net.IP, port uint16) Locator {
	var l Locator
	l.Kind = KindUDPv6
	l.Port = uint32(port)
	ip16 := ip.To16()
	if ip16 != nil {
		copy(l.Address[:], ip16)
	}
	return l
}

// NewTCPv4 builds a TCPv4 locator.
func NewTCPv4(ip net.IP, port uint16) Locator {
	l := NewUDPv4(ip, port)
	l.Kind = KindTCPv4
	return l
}

// NewSHM builds a shared-memory locator: Address[0:8] encodes a
// segment identifier, Port an enqueue port (spec.md §4.1).
func NewSHM(segmentID uint64, enqueuePort uint32) Locator {
	var l Locator
	l.Kind = KindSHM
	l.Port = enqueuePort
	for i := 0; i < 8; i++ {
		l.Address[i] = byte(segmentID >> (8 * i))
	}
	return l
}

// SegmentID extracts the SHM segment identifier encoded by NewSHM.
func (l Locator) SegmentID() uint64 {
	var id uint64
	for i := 0; i < 8; i++ {
		id |= uint64(l.Address[i]) << (8 * i)
	}
	return id
}

// IP returns the net.IP encoded in the locator for UDP/TCP kinds, or
// nil for SHM/invalid locators.
func (l Locator) IP() net.IP {
	switch l.Kind {
	case KindUDPv4, KindTCPv4:
		return net.IP(l.Address[12:16])
	case KindUDPv6, KindTCPv6:
		return net.IP(l.Address[:])
	default:
		return nil
	}
}

// IsMulticast reports whether the locator's address is a multicast
// group address (only meaningful for UDP kinds).
func (l Locator) IsMulticast() bool {
	ip := l.IP()
	return ip != nil && ip.IsMulticast()
}

func (l Locator) String() string {
	switch l.Kind {
	case KindUDPv4, KindUDPv6, KindTCPv4, KindTCPv6:
		return fmt.Sprintf("%s:%s:%d", l.Kind, l.IP(), l.Port)
	case KindSHM:
		return fmt.Sprintf("SHM:%d:%d", l.SegmentID(), l.Port)
	default:
		return "invalid-locator"
	}
}

// Equal reports whether two locators address the same endpoint.
func (l Locator) Equal(o Locator) bool {
	return l.Kind == o.Kind && l.Port == o.Port && l.Address == o.Address
}

// List is an ordered set of locators, as carried in participant and
// endpoint proxy data (spec.md §3).
type List []Locator

// Contains reports whether any locator in the list equals target.
func (ls List) Contains(target Locator) bool {
	for _, l := range ls {
		if l.Equal(target) {
			return true
		}
	}
	return false
}

// TransformRemote rewrites a remote-advertised locator for local
// reachability, substituting loopback when the remote address matches
// one of the local interface addresses supplied in localAddrs and the
// substitution is allowed. This implements the
// transform_remote_locator operation of spec.md §4.1.
func TransformRemote(remote Locator, localAddrs []net.IP, allowLoopback bool) Locator {
	if !allowLoopback {
		return remote
	}
	remoteIP := remote.IP()
	if remoteIP == nil {
		return remote
	}
	for _, addr := range localAddrs {
		if addr.Equal(remoteIP) {
			out := remote
			switch remote.Kind {
			case KindUDPv4, KindTCPv4:
				copy(out.Address[12:16], net.IPv4(127, 0, 0, 1).To4())
			case KindUDPv6, KindTCPv6:
				copy(out.Address[:], net.IPv6loopback)
			}
			return out
		}
	}
	return remote
}
