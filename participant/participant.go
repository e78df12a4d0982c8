// Package participant implements the Participant Layer of spec.md
// §4.8: transport ownership, entity id allocation, default QoS,
// receive-side dispatch by entity id, and ordered entity teardown. It
// wires the discovery layer (discovery/pdp, discovery/edp) and the
// endpoint layer (rtps) together behind the operations an external DDS
// layer would call to create publishers, subscribers, readers, and
// writers.
//
// Grounded on the teacher's controller/cmd/destination/main.go
// construction/shutdown sequencing (build dependencies bottom-up,
// start listeners, tear down top-down on signal) generalized from one
// fixed admin-plus-destination-server process to a participant that
// hosts an arbitrary number of dynamically created entities.
package participant

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/discovery/edp"
	"github.com/go-rtps/rtps/discovery/pdp"
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/pkg/admin"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/go-rtps/rtps/rtps"
	"github.com/go-rtps/rtps/transport"
	"github.com/go-rtps/rtps/wire"
)

// localBuiltinEndpoints is the set of built-in endpoints this
// implementation always offers.
const localBuiltinEndpoints = discovery.BuiltinParticipantAnnouncer |
	discovery.BuiltinParticipantDetector |
	discovery.BuiltinPublicationsAnnouncer |
	discovery.BuiltinPublicationsDetector |
	discovery.BuiltinSubscriptionsAnnouncer |
	discovery.BuiltinSubscriptionsDetector

type dataReceiver interface {
	HandleData(writer guid.GUID, d *wire.Data)
}

type heartbeatReceiver interface {
	HandleHeartbeat(writer guid.GUID, hb *wire.Heartbeat)
}

type gapReceiver interface {
	HandleGap(writer guid.GUID, g *wire.Gap)
}

type ackNackReceiver interface {
	HandleAckNack(from guid.GUID, an *wire.AckNack)
}

// Participant owns one transport send/receive surface, the built-in
// PDP/EDP discovery engines, the entity id pool, and every publisher,
// subscriber, writer, and reader created under it (spec.md §4.8).
type Participant struct {
	mu    sync.Mutex
	attrs Attributes
	guid  guid.GUID
	pool  guid.EntityPool
	trans *transport.Manager
	pdp   *pdp.PDP
	edp   *edp.EDP
	log   *logrus.Entry

	readersByEntity map[guid.EntityId]dataReceiver
	writersByEntity map[guid.EntityId]ackNackReceiver

	publishers  map[*Publisher]struct{}
	subscribers map[*Subscriber]struct{}

	closed bool
}

// New constructs a Participant and its built-in discovery engines, and
// opens no transport channels yet; call Start to begin operating.
func New(attrs Attributes) (*Participant, error) {
	if attrs.Sender == nil {
		return nil, rtpserr.New(rtpserr.InvalidArgument, "participant: Attributes.Sender must not be nil")
	}
	log := attrs.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	local := guid.GUID{Prefix: guid.NewGuidPrefix(), Entity: guid.EntityIdParticipant}
	log = log.WithFields(logrus.Fields{"component": "participant", "guid": local.String()})

	p := &Participant{
		attrs:           attrs,
		guid:            local,
		trans:           transport.NewManager(),
		log:             log,
		readersByEntity: make(map[guid.EntityId]dataReceiver),
		writersByEntity: make(map[guid.EntityId]ackNackReceiver),
		publishers:      make(map[*Publisher]struct{}),
		subscribers:     make(map[*Subscriber]struct{}),
	}

	localProxy := discovery.ParticipantProxyData{
		GUID:                         local,
		AvailableBuiltinEndpoints:    localBuiltinEndpoints,
		DefaultUnicastLocators:       attrs.DefaultUnicastLocators,
		MetatrafficUnicastLocators:   attrs.MetatrafficUnicastLocators,
		MetatrafficMulticastLocators: attrs.MetatrafficMulticastLocators,
		LeaseDuration:                attrs.LeaseDuration,
	}

	p.pdp = pdp.New(pdp.Config{
		Local:              localProxy,
		Mode:               attrs.Mode,
		Sender:             attrs.Sender,
		MulticastLocators:  attrs.MetatrafficMulticastLocators,
		ServerLocators:     attrs.ServerLocators,
		AnnouncementPeriod: attrs.AnnouncementPeriod,
		LeaseDuration:      attrs.LeaseDuration,
		Store:              attrs.Store,
		Listener:           pdp.Listener{OnDiscovered: p.onParticipantDiscovered, OnLost: p.onParticipantLost},
		Log:                log,
		Clock:              attrs.Clock,
		Metrics:            attrs.Metrics,
	})

	p.edp = edp.New(edp.Config{
		ParticipantGUID: local,
		Sender:          attrs.Sender,
		Listener: edp.MatchListener{
			OnMatched:         p.onMatched,
			OnUnmatched:       p.onUnmatched,
			OnIncompatibleQoS: p.onIncompatibleQoS,
		},
		Log:     log,
		Metrics: attrs.Metrics,
		Clock:   attrs.Clock,
	})

	return p, nil
}

// GUID returns the participant's own identity.
func (p *Participant) GUID() guid.GUID { return p.guid }

// Transport returns the transport manager this participant sends and
// receives through, so callers can register concrete backends with
// transport.Register before Start opens any channel.
func (p *Participant) Transport() *transport.Manager { return p.trans }

// ServeAdmin returns an *http.Server, not yet listening, exposing reg's
// collectors at /metrics alongside /ping and /ready (the latter backed
// by this participant's own open/closed state) for operators to bind
// and run alongside Start.
func (p *Participant) ServeAdmin(addr string, reg prometheus.Gatherer, enablePprof bool) *http.Server {
	return admin.NewServer(addr, reg, p.ready, enablePprof)
}

func (p *Participant) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Start opens the configured metatraffic/default input channels and
// begins periodic SPDP announcement (spec.md §4.6, §5's receive-thread
// model — one goroutine per open input channel, driven by the
// transport backend rather than spawned here).
func (p *Participant) Start(ctx context.Context) error {
	for _, loc := range append(append(locator.List{}, p.attrs.MetatrafficUnicastLocators...), p.attrs.MetatrafficMulticastLocators...) {
		if err := p.trans.OpenInputChannel(loc, transport.ReceiverFunc(p.onDataReceived)); err != nil {
			return err
		}
	}
	for _, loc := range p.attrs.DefaultUnicastLocators {
		if err := p.trans.OpenInputChannel(loc, transport.ReceiverFunc(p.onDataReceived)); err != nil {
			return err
		}
	}
	p.pdp.Start(ctx)
	return nil
}

// Close disposes the local participant (announcing immediate removal
// to peers per spec.md §4.6) and tears down every contained entity.
// Publishers/subscribers are closed first so their owned writers/
// readers go through the normal withdraw path before the participant
// itself announces its departure (spec.md §4.8's teardown ordering).
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pubs := make([]*Publisher, 0, len(p.publishers))
	for pub := range p.publishers {
		pubs = append(pubs, pub)
	}
	subs := make([]*Subscriber, 0, len(p.subscribers))
	for sub := range p.subscribers {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	var err error
	for _, pub := range pubs {
		err = multierr.Append(err, pub.forceClose())
	}
	for _, sub := range subs {
		err = multierr.Append(err, sub.forceClose())
	}
	p.pdp.Dispose()
	return err
}

func (p *Participant) onParticipantDiscovered(peer discovery.ParticipantProxyData) {
	locs := peer.MetatrafficUnicastLocators
	if len(locs) == 0 {
		locs = peer.MetatrafficMulticastLocators
	}
	p.edp.MatchPeerParticipant(peer.GUID, peer.AvailableBuiltinEndpoints, locs)
}

// onParticipantLost drops every match held against a participant that
// has disappeared, so no endpoint ever blocks on acknowledgement from
// a peer that is never coming back (spec.md §4.6's cascade-removal
// rule).
func (p *Participant) onParticipantLost(prefix guid.GuidPrefix) {
	p.mu.Lock()
	writers := make([]ackNackReceiver, 0, len(p.writersByEntity))
	for _, w := range p.writersByEntity {
		writers = append(writers, w)
	}
	readers := make([]dataReceiver, 0, len(p.readersByEntity))
	for _, r := range p.readersByEntity {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	for _, w := range writers {
		if sw, ok := w.(*rtps.StatefulWriter); ok {
			for _, peer := range sw.MatchedPeers() {
				if peer.Prefix == prefix {
					sw.UnmatchReader(peer)
				}
			}
		}
	}
	for _, r := range readers {
		if sr, ok := r.(*rtps.StatefulReader); ok {
			for _, peer := range sr.MatchedPeers() {
				if peer.Prefix == prefix {
					sr.UnmatchWriter(peer)
				}
			}
		}
	}
}

// onMatched seeds a ReaderProxy or WriterProxy on whichever side of
// the pair is local, per spec.md §4.7 step 4. Either side, or both
// (a reader and a writer of this same participant), may be local.
func (p *Participant) onMatched(reader, writer discovery.EndpointProxyData) {
	p.mu.Lock()
	localReader, readerIsLocal := p.readersByEntity[reader.GUID.Entity]
	localWriter, writerIsLocal := p.writersByEntity[writer.GUID.Entity]
	p.mu.Unlock()

	if sr, ok := localReader.(*rtps.StatefulReader); ok && readerIsLocal && sr.GUID() == reader.GUID {
		sr.MatchWriter(rtps.ReaderWriterMatch{
			GUID:       writer.GUID,
			Locators:   writer.UnicastLocators,
			Durability: writer.Durability,
			Reliable:   writer.Reliability == qos.Reliable,
		})
	}
	if sw, ok := localWriter.(*rtps.StatefulWriter); ok && writerIsLocal && sw.GUID() == writer.GUID {
		sw.MatchReader(rtps.ReaderWriterMatch{
			GUID:       reader.GUID,
			Locators:   reader.UnicastLocators,
			Durability: reader.Durability,
			Reliable:   reader.Reliability == qos.Reliable,
		})
	}
}

func (p *Participant) onUnmatched(reader, writer guid.GUID) {
	p.mu.Lock()
	localReader, readerIsLocal := p.readersByEntity[reader.Entity]
	localWriter, writerIsLocal := p.writersByEntity[writer.Entity]
	p.mu.Unlock()

	if sr, ok := localReader.(*rtps.StatefulReader); ok && readerIsLocal && sr.GUID() == reader {
		sr.UnmatchWriter(writer)
	}
	if sw, ok := localWriter.(*rtps.StatefulWriter); ok && writerIsLocal && sw.GUID() == writer {
		sw.UnmatchReader(reader)
	}
}

func (p *Participant) onIncompatibleQoS(reader, writer guid.GUID, mismatches []qos.MismatchedPolicy) {
	p.log.WithFields(logrus.Fields{"reader": reader.String(), "writer": writer.String()}).
		Warnf("incompatible QoS: %v", mismatches)
}

func (p *Participant) onDataReceived(buf []byte, from locator.Locator) {
	msg, err := wire.Decode(buf)
	if err != nil {
		p.log.WithError(err).WithField("from", from.String()).Warn("failed to decode RTPS message")
		return
	}
	for _, sm := range msg.Submessages {
		p.dispatchSubmessage(msg.Header.GuidPrefix, sm)
	}
}

func (p *Participant) dispatchSubmessage(remotePrefix guid.GuidPrefix, sm wire.Submessage) {
	switch m := sm.(type) {
	case *wire.Data:
		p.dispatchData(m.ReaderID, guid.GUID{Prefix: remotePrefix, Entity: m.WriterID}, m)
	case *wire.Heartbeat:
		p.dispatchHeartbeat(m.ReaderID, guid.GUID{Prefix: remotePrefix, Entity: m.WriterID}, m)
	case *wire.Gap:
		p.dispatchGap(m.ReaderID, guid.GUID{Prefix: remotePrefix, Entity: m.WriterID}, m)
	case *wire.AckNack:
		p.dispatchAckNack(m.WriterID, guid.GUID{Prefix: remotePrefix, Entity: m.ReaderID}, m)
	}
}

func (p *Participant) dispatchData(localReader guid.EntityId, remoteWriter guid.GUID, d *wire.Data) {
	if localReader == guid.EntityIdUnknown {
		// Built-in writers address their DATA to ENTITYID_UNKNOWN; route
		// it to the built-in reader paired with the sending writer.
		switch remoteWriter.Entity {
		case guid.EntityIdSPDPWriter:
			localReader = guid.EntityIdSPDPReader
		case guid.EntityIdSEDPPublicationsWriter:
			localReader = guid.EntityIdSEDPPublicationsReader
		case guid.EntityIdSEDPSubscriptionsWriter:
			localReader = guid.EntityIdSEDPSubscriptionsReader
		}
	}
	switch localReader {
	case guid.EntityIdSPDPReader:
		p.pdp.OnReceiveData(remoteWriter, d)
		return
	case guid.EntityIdSEDPPublicationsReader:
		p.edp.OnReceivePublicationData(remoteWriter, d)
		return
	case guid.EntityIdSEDPSubscriptionsReader:
		p.edp.OnReceiveSubscriptionData(remoteWriter, d)
		return
	}
	p.mu.Lock()
	r, ok := p.readersByEntity[localReader]
	p.mu.Unlock()
	if ok {
		r.HandleData(remoteWriter, d)
	}
}

func (p *Participant) dispatchHeartbeat(localReader guid.EntityId, remoteWriter guid.GUID, hb *wire.Heartbeat) {
	p.mu.Lock()
	r, ok := p.readersByEntity[localReader]
	p.mu.Unlock()
	if !ok {
		return
	}
	if hr, ok := r.(heartbeatReceiver); ok {
		hr.HandleHeartbeat(remoteWriter, hb)
	}
}

func (p *Participant) dispatchGap(localReader guid.EntityId, remoteWriter guid.GUID, g *wire.Gap) {
	p.mu.Lock()
	r, ok := p.readersByEntity[localReader]
	p.mu.Unlock()
	if !ok {
		return
	}
	if gr, ok := r.(gapReceiver); ok {
		gr.HandleGap(remoteWriter, g)
	}
}

func (p *Participant) dispatchAckNack(localWriter guid.EntityId, remoteReader guid.GUID, an *wire.AckNack) {
	p.mu.Lock()
	w, ok := p.writersByEntity[localWriter]
	p.mu.Unlock()
	if ok {
		w.HandleAckNack(remoteReader, an)
	}
}

// nextEntityId allocates a fresh, pool-disjoint entity id, rejecting
// duplicates by construction (spec.md §4.8).
func (p *Participant) nextEntityId(pool guid.EntityPoolKind, kindByte byte) guid.EntityId {
	return p.pool.Next(pool, kindByte)
}

func (p *Participant) registerReader(id guid.EntityId, r dataReceiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readersByEntity[id] = r
}

func (p *Participant) unregisterReader(id guid.EntityId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readersByEntity, id)
}

func (p *Participant) registerWriter(id guid.EntityId, w ackNackReceiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writersByEntity[id] = w
}

func (p *Participant) unregisterWriter(id guid.EntityId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.writersByEntity, id)
}

func (p *Participant) addPublisher(pub *Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishers[pub] = struct{}{}
}

func (p *Participant) removePublisher(pub *Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.publishers, pub)
}

func (p *Participant) addSubscriber(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[sub] = struct{}{}
}

func (p *Participant) removeSubscriber(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, sub)
}
