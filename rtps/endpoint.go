// Package rtps implements the Endpoint Layer of spec.md §4.4–§4.5:
// stateful and stateless Writer/Reader entities, their per-match
// ReaderProxy/WriterProxy state, and the reliable ACKNACK/HEARTBEAT/
// GAP protocol state machines.
//
// Per spec.md §9's redesign note, writers and readers are not a deep
// class hierarchy; they share the Endpoint capability interface below
// and specialize via a tagged variant (Kind) rather than virtual
// dispatch across every operation. Listener callbacks are a struct of
// optional handlers, not N abstract classes with dozens of virtuals.
// The async send path (send_queue.go) is grounded on the teacher's
// destinationUpdateQueue (controller/api/destination/update_queue.go)
// SPSC channel pattern.
package rtps

import (
	"context"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
)

// Kind tags an endpoint as stateful or stateless, per spec.md §9's
// "tagged variant (stateful vs stateless)" guidance.
type Kind int

const (
	Stateful Kind = iota
	Stateless
)

// Endpoint is the capability set common to every writer and reader:
// matched-peer enumeration, QoS query, and message dispatch (spec.md
// §9).
type Endpoint interface {
	GUID() guid.GUID
	Policies() qos.Policies
	Kind() Kind
	MatchedPeers() []guid.GUID
}

// ProxyHandle is a stable integer id into a ProxyTable, used so
// endpoints carry handles rather than pointers (spec.md §9 "Represent
// proxies as handles ... into a proxy table owned by the participant.
// Destruction walks ids, not pointers").
type ProxyHandle uint32

// Listener is a struct of optional event handlers, dispatched
// explicitly rather than through an abstract listener interface
// (spec.md §9).
type Listener struct {
	OnMatched        func(peer guid.GUID)
	OnUnmatched      func(peer guid.GUID)
	OnSampleLost     func(writer guid.GUID, seq guid.SequenceNumber)
	OnQoSMismatch    func(peer guid.GUID, mismatches []qos.MismatchedPolicy)
	OnLivelinessLost func(peer guid.GUID)
}

func (l Listener) notifyMatched(peer guid.GUID) {
	if l.OnMatched != nil {
		l.OnMatched(peer)
	}
}

func (l Listener) notifyUnmatched(peer guid.GUID) {
	if l.OnUnmatched != nil {
		l.OnUnmatched(peer)
	}
}

func (l Listener) notifySampleLost(writer guid.GUID, seq guid.SequenceNumber) {
	if l.OnSampleLost != nil {
		l.OnSampleLost(writer, seq)
	}
}

func (l Listener) notifyLivelinessLost(peer guid.GUID) {
	if l.OnLivelinessLost != nil {
		l.OnLivelinessLost(peer)
	}
}

// Sender is the narrow surface the endpoint layer needs from the
// transport layer: addressed message transmission. Kept separate from
// transport.Manager so rtps does not import net/socket concerns
// directly.
type Sender interface {
	Send(ctx context.Context, buf []byte, destinations []locator.Locator, deadline time.Time) bool
}
