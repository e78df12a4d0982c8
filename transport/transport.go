// Package transport implements the Locator & Transport Layer of
// spec.md §4.1: a uniform send/receive surface over UDPv4/v6, TCPv4/v6
// and SHM, addressed entirely through locator.Locator values.
//
// Grounded on the teacher's transport-agnostic `*k8s.API` shape (one
// interface, several concrete backends wired in by the caller) and on
// the `other_examples` UDP listener/dialer files (nabbar-golib's
// socket-client/server-udp package docs, syncthing's discosrv) for the
// net.PacketConn/net.Conn idiom used by the udp and tcp subpackages.
package transport

import (
	"context"
	"sync"
	"time"

	logging "github.com/sirupsen/logrus"

	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/rtpserr"
)

// Receiver is invoked for every RTPS message received on an input
// channel, with the locator the datagram/frame arrived from.
type Receiver interface {
	OnDataReceived(buf []byte, from locator.Locator)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(buf []byte, from locator.Locator)

// OnDataReceived implements Receiver.
func (f ReceiverFunc) OnDataReceived(buf []byte, from locator.Locator) { f(buf, from) }

// SendResource is an open (or lazily-connecting) outbound binding to
// one remote locator, created by OpenOutputChannel.
type SendResource interface {
	// Send transmits one RTPS message; it returns an error only when
	// the underlying channel is unambiguously dead (spec.md §4.1
	// "does not mark the channel dead unless ... connection reset/EOF
	// ... or the segment is gone").
	Send(ctx context.Context, buf []byte, deadline time.Time) error
	Locator() locator.Locator
	Close() error
}

// Transport is the per-kind backend factory interface of spec.md
// §4.1. Each concrete transport (udp, tcp, shm) implements this once
// and is registered under its locator.Kind via Register.
type Transport interface {
	Kind() locator.Kind
	OpenInputChannel(loc locator.Locator, recv Receiver) error
	OpenOutputChannel(existing []SendResource, loc locator.Locator) (SendResource, error)
	CloseInputChannel(loc locator.Locator) error
	TransformRemoteLocator(remote locator.Locator) locator.Locator
}

var (
	registryMu sync.RWMutex
	registry   = make(map[locator.Kind]Transport)
)

// Register installs t as the backend for its Kind, overwriting any
// previous registration — mirrors the teacher's pattern of registering
// named backends behind one interface rather than a type switch.
func Register(t Transport) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t.Kind()] = t
}

// Lookup returns the registered Transport for kind, if any.
func Lookup(kind locator.Kind) (Transport, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[kind]
	return t, ok
}

// Manager dispatches operations to the registered transport for each
// locator's kind, implementing spec.md §4.1's combined send/receive
// surface on top of per-kind backends.
type Manager struct {
	mu      sync.Mutex
	outputs map[locator.Locator][]SendResource
	log     *logging.Entry
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		outputs: make(map[locator.Locator][]SendResource),
		log:     logging.WithField("component", "transport-manager"),
	}
}

// OpenInputChannel binds a listening endpoint on loc, idempotent on
// the (logical_port, physical_port) pair per spec.md §4.1.
func (m *Manager) OpenInputChannel(loc locator.Locator, recv Receiver) error {
	t, ok := Lookup(loc.Kind)
	if !ok {
		return rtpserr.New(rtpserr.InvalidArgument, "no transport registered for kind %s", loc.Kind)
	}
	return t.OpenInputChannel(loc, recv)
}

// CloseInputChannel tears down a listening endpoint on loc.
func (m *Manager) CloseInputChannel(loc locator.Locator) error {
	t, ok := Lookup(loc.Kind)
	if !ok {
		return rtpserr.New(rtpserr.InvalidArgument, "no transport registered for kind %s", loc.Kind)
	}
	return t.CloseInputChannel(loc)
}

// openOutputLocked finds or creates a SendResource to loc, reusing one
// already open for that exact locator (spec.md §4.1 "creates or
// reuses a send resource targeting the locator").
func (m *Manager) openOutputLocked(loc locator.Locator) (SendResource, error) {
	for _, r := range m.outputs[loc] {
		if r.Locator().Equal(loc) {
			return r, nil
		}
	}
	t, ok := Lookup(loc.Kind)
	if !ok {
		return nil, rtpserr.New(rtpserr.InvalidArgument, "no transport registered for kind %s", loc.Kind)
	}
	r, err := t.OpenOutputChannel(m.outputs[loc], loc)
	if err != nil {
		return nil, err
	}
	m.outputs[loc] = append(m.outputs[loc], r)
	return r, nil
}

// Send transmits buf to every destination locator, returning true once
// at least one destination accepted the bytes (spec.md §4.1). Failures
// on individual destinations are logged, not returned, matching the
// "transient send errors are logged at warning level" rule.
func (m *Manager) Send(ctx context.Context, buf []byte, destinations []locator.Locator, deadline time.Time) bool {
	var sent bool
	for _, dst := range destinations {
		m.mu.Lock()
		r, err := m.openOutputLocked(dst)
		m.mu.Unlock()
		if err != nil {
			m.log.WithError(err).Warnf("opening output channel to %s", dst)
			continue
		}
		if err := r.Send(ctx, buf, deadline); err != nil {
			m.log.WithError(err).Warnf("sending to %s", dst)
			continue
		}
		sent = true
	}
	return sent
}

// TransformRemoteLocator delegates to the transport backend registered
// for the locator's kind; with none registered, remote is returned
// unchanged. Loopback substitution is done by locator.TransformRemote,
// not here.
func (m *Manager) TransformRemoteLocator(remote locator.Locator) locator.Locator {
	if t, ok := Lookup(remote.Kind); ok {
		return t.TransformRemoteLocator(remote)
	}
	return remote
}

