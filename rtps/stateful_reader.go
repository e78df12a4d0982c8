package rtps

import (
	"context"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"

	clockwheel "github.com/go-rtps/rtps/internal/clock"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/pkg/metrics"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
)

// WriterProxyState is a StatefulReader's per-matched-writer liveliness
// state (spec.md §4.5).
type WriterProxyState int

const (
	ProxyNotAlive WriterProxyState = iota
	ProxyAliveWaiting
	ProxyAliveProcessing
)

// StatefulReaderConfig bundles the construction-time attributes of a
// StatefulReader that are not QoS policies.
type StatefulReaderConfig struct {
	GUID                   guid.GUID
	Policies               qos.Policies
	Sender                 Sender
	HeartbeatResponseDelay time.Duration
	Listener               Listener
	Log                    *logrus.Entry
	Metrics                *metrics.Set
	Clock                  benclock.Clock // optional, defaults to the real wall clock; tests inject *benclock.Mock
}

// StatefulReader is a reliable or best-effort reader that tracks one
// WriterProxy per matched writer and drives the ACKNACK request side
// of the protocol (spec.md §4.5).
type StatefulReader struct {
	mu       sync.Mutex
	cfg      StatefulReaderConfig
	history  *history.ReaderHistory
	proxies  *ProxyTable[*WriterProxy]
	states   map[ProxyHandle]WriterProxyState
	ackCount uint32
	wheel    *clockwheel.Wheel
	log      *logrus.Entry
}

// NewStatefulReader constructs a StatefulReader and the ReaderHistory
// behind it.
func NewStatefulReader(cfg StatefulReaderConfig) *StatefulReader {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "stateful-reader", "guid": cfg.GUID.String()})
	wheel := clockwheel.New()
	if cfg.Clock != nil {
		wheel = clockwheel.NewWithClock(cfg.Clock)
	}
	return &StatefulReader{
		cfg:     cfg,
		history: history.NewReaderHistory(cfg.Policies),
		proxies: newProxyTable[*WriterProxy](),
		states:  make(map[ProxyHandle]WriterProxyState),
		wheel:   wheel,
		log:     log,
	}
}

// History returns the ReaderHistory backing this reader.
func (r *StatefulReader) History() *history.ReaderHistory { return r.history }

func (r *StatefulReader) GUID() guid.GUID        { return r.cfg.GUID }
func (r *StatefulReader) Policies() qos.Policies { return r.cfg.Policies }
func (r *StatefulReader) Kind() Kind             { return Stateful }

func (r *StatefulReader) MatchedPeers() []guid.GUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guid.GUID, 0, r.proxies.len())
	for _, h := range r.proxies.handles() {
		p, _ := r.proxies.get(h)
		out = append(out, p.GUID)
	}
	return out
}

// MatchWriter adds a WriterProxy for a newly discovered, QoS-compatible
// writer. The proxy starts in alive_waiting whatever the writer's
// durability, and moves to alive_processing on its first DATA.
func (r *StatefulReader) MatchWriter(m ReaderWriterMatch) {
	r.mu.Lock()
	if _, exists := r.proxies.lookupGUID(m.GUID); exists {
		r.mu.Unlock()
		return
	}
	h := r.proxies.insert(m.GUID, newWriterProxy(m))
	r.states[h] = ProxyAliveWaiting
	r.mu.Unlock()
	r.cfg.Listener.notifyMatched(m.GUID)
}

// UnmatchWriter drops the WriterProxy for peer, if any (spec.md §8
// scenario 5: a rematch under the same GUID must not replay already
// delivered sequence numbers as new).
func (r *StatefulReader) UnmatchWriter(peer guid.GUID) {
	r.mu.Lock()
	h, ok := r.proxies.lookupGUID(peer)
	if ok {
		delete(r.states, h)
		r.proxies.remove(h, peer)
	}
	r.mu.Unlock()
	if ok {
		r.log.WithField("writer", peer.String()).Debug("unmatched writer")
		r.cfg.Listener.notifyUnmatched(peer)
	}
}

// HandleData applies a received DATA submessage from writer to
// history and to the matching WriterProxy's received-set.
func (r *StatefulReader) HandleData(writer guid.GUID, d *wire.Data) {
	r.mu.Lock()
	h, ok := r.proxies.lookupGUID(writer)
	if !ok {
		r.mu.Unlock()
		return
	}
	wp, _ := r.proxies.get(h)
	wp.markReceived(d.WriterSN)
	r.states[h] = ProxyAliveProcessing
	r.mu.Unlock()

	c := &history.CacheChange{
		WriterGUID:        writer,
		SequenceNumber:    d.WriterSN,
		Kind:              history.Alive,
		SerializedPayload: append([]byte(nil), d.SerializedPayload...),
	}
	if d.KeyOnly {
		c.Kind = history.NotAliveDisposed
	}
	r.history.ReceivedChange(c, 0)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.HistoryDepth.WithLabelValues(r.cfg.GUID.String()).Set(float64(r.history.Len()))
	}
}

// HandleHeartbeat applies a received HEARTBEAT, updating the matching
// WriterProxy's known range. A reliable reader answers with an ACKNACK
// when the heartbeat is not final or anything is still missing; a
// best-effort reader never does (spec.md §4.5).
func (r *StatefulReader) HandleHeartbeat(writer guid.GUID, hb *wire.Heartbeat) {
	r.mu.Lock()
	h, ok := r.proxies.lookupGUID(writer)
	if !ok {
		r.mu.Unlock()
		return
	}
	wp, _ := r.proxies.get(h)
	if hb.LastSN > wp.maxReceivedSeq {
		wp.maxReceivedSeq = hb.LastSN
	}
	if hb.FirstSN > 1 {
		wp.irrelevantBelow = hb.FirstSN - 1
	}
	wp.lastHeartbeat = *hb
	wp.heartbeatCount++
	state := r.cfg.Policies.Reliability
	dests := append([]locator.Locator(nil), wp.Locators...)
	shouldRespond := !hb.Final || len(wp.MissingUpTo()) > 0
	r.mu.Unlock()

	if state != qos.Reliable {
		return // BEST_EFFORT never emits ACKNACK (spec.md §4.5).
	}
	if !shouldRespond {
		return
	}
	if r.cfg.HeartbeatResponseDelay <= 0 {
		r.sendAckNack(writer, wp, dests)
		return
	}
	r.wheel.AfterFunc(r.cfg.HeartbeatResponseDelay, func() { r.sendAckNack(writer, wp, dests) })
}

// HandleGap applies a received GAP, marking the announced sequence
// range as irrelevant so it is never requested via ACKNACK.
func (r *StatefulReader) HandleGap(writer guid.GUID, g *wire.Gap) {
	r.mu.Lock()
	h, ok := r.proxies.lookupGUID(writer)
	if !ok {
		r.mu.Unlock()
		return
	}
	wp, _ := r.proxies.get(h)
	for s := g.GapStart; s < g.GapList.Base; s++ {
		wp.markIrrelevant(s)
	}
	for _, s := range g.GapList.Seqs() {
		wp.markIrrelevant(s)
	}
	r.mu.Unlock()
}

func (r *StatefulReader) sendAckNack(writer guid.GUID, wp *WriterProxy, dests []locator.Locator) {
	r.mu.Lock()
	r.ackCount++
	an := &wire.AckNack{
		LittleEndian:  true,
		Final:         len(wp.MissingUpTo()) == 0,
		ReaderID:      r.cfg.GUID.Entity,
		WriterID:      writer.Entity,
		ReaderSNState: wp.ackNackState(),
		Count:         r.ackCount,
	}
	r.mu.Unlock()

	msg := wire.Message{
		Header:      wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: r.cfg.GUID.Prefix},
		Submessages: []wire.Submessage{an},
	}
	r.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})
}

// Take returns and removes every currently-held change, ordered per
// the reader's QoS (spec.md §4.3).
func (r *StatefulReader) Take() []*history.CacheChange {
	out := r.history.Take()
	for _, c := range out {
		r.history.RemoveChange(c)
	}
	return out
}

// ProxyState reports the liveliness state of the WriterProxy matched
// to peer, for tests and diagnostics.
func (r *StatefulReader) ProxyState(peer guid.GUID) (WriterProxyState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.proxies.lookupGUID(peer)
	if !ok {
		return ProxyNotAlive, false
	}
	return r.states[h], true
}

var _ Endpoint = (*StatefulReader)(nil)
