// Package edp implements the Endpoint Discovery Protocol of spec.md
// §4.7: the four built-in SEDP reader/writer endpoints that exchange
// publication and subscription discovery data, and the matching
// engine that applies QoS compatibility and partition rules before
// notifying the endpoint layer of a match.
package edp

import (
	"context"
	"sync"

	benclock "github.com/benbjohnson/clock"

	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/pkg/metrics"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtps"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
)

// MatchListener notifies the endpoint/participant layer of matching
// events (spec.md §4.7 step 4 and the mismatch-observability note).
type MatchListener struct {
	OnMatched         func(reader, writer discovery.EndpointProxyData)
	OnUnmatched       func(reader, writer guid.GUID)
	OnIncompatibleQoS func(reader, writer guid.GUID, mismatches []qos.MismatchedPolicy)
}

func (l MatchListener) notifyMatched(r, w discovery.EndpointProxyData) {
	if l.OnMatched != nil {
		l.OnMatched(r, w)
	}
}

func (l MatchListener) notifyUnmatched(r, w guid.GUID) {
	if l.OnUnmatched != nil {
		l.OnUnmatched(r, w)
	}
}

func (l MatchListener) notifyIncompatible(r, w guid.GUID, mismatches []qos.MismatchedPolicy) {
	if l.OnIncompatibleQoS != nil {
		l.OnIncompatibleQoS(r, w, mismatches)
	}
}

// Config bundles an EDP instance's construction-time attributes.
type Config struct {
	ParticipantGUID guid.GUID
	Sender          rtps.Sender
	Listener        MatchListener
	Log             *logrus.Entry
	Metrics         *metrics.Set
	Clock           benclock.Clock // optional, defaults to the real wall clock; tests inject *benclock.Mock
}

// sedpPolicies is the fixed QoS used for the built-in SEDP endpoints
// themselves (not the QoS of the user topics they carry): reliable,
// keep-all, so discovery data is never silently dropped.
func sedpPolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliable
	p.History = qos.History{Kind: qos.KeepAll}
	return p
}

type matchKey struct{ reader, writer guid.GUID }

// EDP owns the four built-in SEDP endpoints and the tables of local
// and remote publications/subscriptions.
type EDP struct {
	mu sync.Mutex
	cfg Config

	pubWriter *rtps.StatefulWriter // announces this participant's writers
	pubReader *rtps.StatefulReader // learns remote writers
	subWriter *rtps.StatefulWriter // announces this participant's readers
	subReader *rtps.StatefulReader // learns remote readers

	localWriters  map[guid.GUID]discovery.EndpointProxyData
	localReaders  map[guid.GUID]discovery.EndpointProxyData
	remoteWriters map[guid.GUID]discovery.EndpointProxyData
	remoteReaders map[guid.GUID]discovery.EndpointProxyData
	matched       map[matchKey]bool

	log *logrus.Entry
}

// New constructs an EDP engine and its four built-in SEDP endpoints.
func New(cfg Config) *EDP {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "edp")
	p := sedpPolicies()
	prefix := cfg.ParticipantGUID.Prefix

	return &EDP{
		cfg:           cfg,
		pubWriter:     rtps.NewStatefulWriter(rtps.StatefulWriterConfig{GUID: guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPPublicationsWriter}, Policies: p, Sender: cfg.Sender, Log: log, Metrics: cfg.Metrics, Clock: cfg.Clock}),
		pubReader:     rtps.NewStatefulReader(rtps.StatefulReaderConfig{GUID: guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPPublicationsReader}, Policies: p, Sender: cfg.Sender, Log: log, Metrics: cfg.Metrics, Clock: cfg.Clock}),
		subWriter:     rtps.NewStatefulWriter(rtps.StatefulWriterConfig{GUID: guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPSubscriptionsWriter}, Policies: p, Sender: cfg.Sender, Log: log, Metrics: cfg.Metrics, Clock: cfg.Clock}),
		subReader:     rtps.NewStatefulReader(rtps.StatefulReaderConfig{GUID: guid.GUID{Prefix: prefix, Entity: guid.EntityIdSEDPSubscriptionsReader}, Policies: p, Sender: cfg.Sender, Log: log, Metrics: cfg.Metrics, Clock: cfg.Clock}),
		localWriters:  make(map[guid.GUID]discovery.EndpointProxyData),
		localReaders:  make(map[guid.GUID]discovery.EndpointProxyData),
		remoteWriters: make(map[guid.GUID]discovery.EndpointProxyData),
		remoteReaders: make(map[guid.GUID]discovery.EndpointProxyData),
		matched:       make(map[matchKey]bool),
		log:           log,
	}
}

// MatchPeerParticipant matches this participant's SEDP endpoints to a
// newly discovered peer's, per spec.md §4.7 ("triggered by PDP
// matching"). bits reports the peer's available built-in endpoints;
// locators addresses the peer's metatraffic endpoints, without which
// no SEDP DATA could ever reach it.
func (e *EDP) MatchPeerParticipant(peer guid.GUID, bits discovery.BuiltinEndpoint, locators []locator.Locator) {
	if bits.Has(discovery.BuiltinPublicationsAnnouncer) {
		e.pubReader.MatchWriter(rtps.ReaderWriterMatch{GUID: guid.GUID{Prefix: peer.Prefix, Entity: guid.EntityIdSEDPPublicationsWriter}, Locators: locators, Reliable: true})
	}
	if bits.Has(discovery.BuiltinPublicationsDetector) {
		e.pubWriter.MatchReader(rtps.ReaderWriterMatch{GUID: guid.GUID{Prefix: peer.Prefix, Entity: guid.EntityIdSEDPPublicationsReader}, Locators: locators, Reliable: true})
	}
	if bits.Has(discovery.BuiltinSubscriptionsAnnouncer) {
		e.subReader.MatchWriter(rtps.ReaderWriterMatch{GUID: guid.GUID{Prefix: peer.Prefix, Entity: guid.EntityIdSEDPSubscriptionsWriter}, Locators: locators, Reliable: true})
	}
	if bits.Has(discovery.BuiltinSubscriptionsDetector) {
		e.subWriter.MatchReader(rtps.ReaderWriterMatch{GUID: guid.GUID{Prefix: peer.Prefix, Entity: guid.EntityIdSEDPSubscriptionsReader}, Locators: locators, Reliable: true})
	}
}

// AnnounceWriter publishes local writer proxy data over SEDP and
// attempts to match it against every known remote or local reader.
func (e *EDP) AnnounceWriter(w discovery.EndpointProxyData) {
	e.mu.Lock()
	e.localWriters[w.GUID] = w
	remoteReaders := append(e.snapshotRemoteReaders(), e.snapshotLocalReaders()...)
	e.mu.Unlock()

	e.pubWriter.Write(context.Background(), w.Encode(), history.Alive, history.InstanceHandle{})
	for _, r := range remoteReaders {
		e.tryMatch(r, w)
	}
}

// AnnounceReader publishes local reader proxy data over SEDP and
// attempts to match it against every known remote or local writer.
func (e *EDP) AnnounceReader(r discovery.EndpointProxyData) {
	e.mu.Lock()
	e.localReaders[r.GUID] = r
	remoteWriters := append(e.snapshotRemoteWriters(), e.snapshotLocalWriters()...)
	e.mu.Unlock()

	e.subWriter.Write(context.Background(), r.Encode(), history.Alive, history.InstanceHandle{})
	for _, w := range remoteWriters {
		e.tryMatch(r, w)
	}
}

// WithdrawWriter removes a local writer, disposing its SEDP
// announcement and unmatching every reader currently matched to it.
func (e *EDP) WithdrawWriter(w guid.GUID) {
	e.mu.Lock()
	data, ok := e.localWriters[w]
	delete(e.localWriters, w)
	var toUnmatch []guid.GUID
	for k := range e.matched {
		if k.writer == w {
			toUnmatch = append(toUnmatch, k.reader)
			delete(e.matched, k)
		}
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	data.Disposed = true
	e.pubWriter.Write(context.Background(), data.Encode(), history.NotAliveDisposed, history.InstanceHandle{})
	for _, r := range toUnmatch {
		e.cfg.Listener.notifyUnmatched(r, w)
		e.reportUnmatched(data.TopicName)
	}
}

// WithdrawReader removes a local reader, disposing its SEDP
// announcement and unmatching every writer currently matched to it.
func (e *EDP) WithdrawReader(r guid.GUID) {
	e.mu.Lock()
	data, ok := e.localReaders[r]
	delete(e.localReaders, r)
	var toUnmatch []guid.GUID
	for k := range e.matched {
		if k.reader == r {
			toUnmatch = append(toUnmatch, k.writer)
			delete(e.matched, k)
		}
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	data.Disposed = true
	e.subWriter.Write(context.Background(), data.Encode(), history.NotAliveDisposed, history.InstanceHandle{})
	for _, w := range toUnmatch {
		e.cfg.Listener.notifyUnmatched(r, w)
		e.reportUnmatched(data.TopicName)
	}
}

// OnReceivePublicationData feeds a SEDP-publications DATA submessage
// and runs matching for every resulting change.
func (e *EDP) OnReceivePublicationData(writer guid.GUID, d *wire.Data) {
	e.pubReader.HandleData(writer, d)
	for _, c := range e.pubReader.Take() {
		data, err := discovery.DecodeEndpointProxyData(c.SerializedPayload)
		if err != nil {
			e.log.WithError(err).Warn("failed to decode SEDP publication data")
			continue
		}
		e.upsertRemoteWriter(data, c.Kind != history.Alive)
	}
}

// OnReceiveSubscriptionData feeds a SEDP-subscriptions DATA
// submessage and runs matching for every resulting change.
func (e *EDP) OnReceiveSubscriptionData(writer guid.GUID, d *wire.Data) {
	e.subReader.HandleData(writer, d)
	for _, c := range e.subReader.Take() {
		data, err := discovery.DecodeEndpointProxyData(c.SerializedPayload)
		if err != nil {
			e.log.WithError(err).Warn("failed to decode SEDP subscription data")
			continue
		}
		e.upsertRemoteReader(data, c.Kind != history.Alive)
	}
}

func (e *EDP) upsertRemoteWriter(w discovery.EndpointProxyData, disposed bool) {
	e.mu.Lock()
	if disposed || w.Disposed {
		delete(e.remoteWriters, w.GUID)
		var toUnmatch []guid.GUID
		for k := range e.matched {
			if k.writer == w.GUID {
				toUnmatch = append(toUnmatch, k.reader)
				delete(e.matched, k)
			}
		}
		e.mu.Unlock()
		for _, r := range toUnmatch {
			e.cfg.Listener.notifyUnmatched(r, w.GUID)
			e.reportUnmatched(w.TopicName)
		}
		e.reportDiscoveredCount()
		return
	}
	e.remoteWriters[w.GUID] = w
	localReaders := e.snapshotLocalReaders()
	e.mu.Unlock()
	e.reportDiscoveredCount()
	for _, r := range localReaders {
		e.tryMatch(r, w)
	}
}

func (e *EDP) upsertRemoteReader(r discovery.EndpointProxyData, disposed bool) {
	e.mu.Lock()
	if disposed || r.Disposed {
		delete(e.remoteReaders, r.GUID)
		var toUnmatch []guid.GUID
		for k := range e.matched {
			if k.reader == r.GUID {
				toUnmatch = append(toUnmatch, k.writer)
				delete(e.matched, k)
			}
		}
		e.mu.Unlock()
		for _, w := range toUnmatch {
			e.cfg.Listener.notifyUnmatched(r.GUID, w)
			e.reportUnmatched(r.TopicName)
		}
		e.reportDiscoveredCount()
		return
	}
	e.remoteReaders[r.GUID] = r
	localWriters := e.snapshotLocalWriters()
	e.mu.Unlock()
	e.reportDiscoveredCount()
	for _, w := range localWriters {
		e.tryMatch(r, w)
	}
}

// tryMatch applies spec.md §4.7's matching steps: topic/type equality,
// QoS compatibility, and partition intersection.
func (e *EDP) tryMatch(r, w discovery.EndpointProxyData) {
	if r.TopicName != w.TopicName || r.TypeName != w.TypeName {
		return
	}
	if mismatches := qos.Compatible(r.Policies(), w.Policies()); len(mismatches) > 0 {
		e.cfg.Listener.notifyIncompatible(r.GUID, w.GUID, mismatches)
		return
	}
	if !qos.PartitionsMatch(r.Partitions, w.Partitions) {
		return
	}

	key := matchKey{reader: r.GUID, writer: w.GUID}
	e.mu.Lock()
	if e.matched[key] {
		e.mu.Unlock()
		return
	}
	e.matched[key] = true
	e.mu.Unlock()
	e.cfg.Listener.notifyMatched(r, w)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.MatchedEndpoints.WithLabelValues(r.TopicName).Inc()
	}
}

// reportUnmatched decrements the matched-endpoint gauge for topic when
// a previously matched pair is torn down.
func (e *EDP) reportUnmatched(topic string) {
	if e.cfg.Metrics == nil {
		return
	}
	e.cfg.Metrics.MatchedEndpoints.WithLabelValues(topic).Dec()
}

// reportDiscoveredCount publishes the current total of known remote
// writers and readers.
func (e *EDP) reportDiscoveredCount() {
	if e.cfg.Metrics == nil {
		return
	}
	e.mu.Lock()
	n := len(e.remoteWriters) + len(e.remoteReaders)
	e.mu.Unlock()
	e.cfg.Metrics.DiscoveredEndpoints.Set(float64(n))
}

func (e *EDP) snapshotRemoteReaders() []discovery.EndpointProxyData {
	out := make([]discovery.EndpointProxyData, 0, len(e.remoteReaders))
	for _, r := range e.remoteReaders {
		out = append(out, r)
	}
	return out
}

func (e *EDP) snapshotRemoteWriters() []discovery.EndpointProxyData {
	out := make([]discovery.EndpointProxyData, 0, len(e.remoteWriters))
	for _, w := range e.remoteWriters {
		out = append(out, w)
	}
	return out
}

func (e *EDP) snapshotLocalReaders() []discovery.EndpointProxyData {
	out := make([]discovery.EndpointProxyData, 0, len(e.localReaders))
	for _, r := range e.localReaders {
		out = append(out, r)
	}
	return out
}

func (e *EDP) snapshotLocalWriters() []discovery.EndpointProxyData {
	out := make([]discovery.EndpointProxyData, 0, len(e.localWriters))
	for _, w := range e.localWriters {
		out = append(out, w)
	}
	return out
}
