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

// WriterState is a StatefulWriter's coarse send-loop state (spec.md
// §4.4): idle when nothing is outstanding, sending while flushing
// newly added changes, waiting_for_ack once everything has been sent
// at least once but some reader proxy has not yet acked.
type WriterState int

const (
	WriterIdle WriterState = iota
	WriterSending
	WriterWaitingForAck
)

func (s WriterState) String() string {
	switch s {
	case WriterSending:
		return "sending"
	case WriterWaitingForAck:
		return "waiting_for_ack"
	default:
		return "idle"
	}
}

// PublishMode selects whether Write blocks the caller's goroutine
// while the RTPS send happens (SYNCHRONOUS) or hands the change to a
// background sendQueue (ASYNCHRONOUS), per spec.md §9.
type PublishMode int

const (
	SynchronousPublishMode PublishMode = iota
	AsynchronousPublishMode
)

// StatefulWriterConfig bundles the construction-time attributes of a
// StatefulWriter that are not QoS policies (spec.md §4.4).
type StatefulWriterConfig struct {
	GUID                 guid.GUID
	Policies             qos.Policies
	Sender               Sender
	PublishMode          PublishMode
	AsyncQueueDepth      int
	AsyncMaxBlockingTime time.Duration
	HeartbeatPeriod      time.Duration
	NackResponseDelay    time.Duration
	Listener             Listener
	Log                  *logrus.Entry
	Metrics              *metrics.Set
	Clock                benclock.Clock // optional, defaults to the real wall clock; tests inject *benclock.Mock
}

// StatefulWriter is a reliable or best-effort writer that tracks one
// ReaderProxy per matched reader and drives the HEARTBEAT/ACKNACK/GAP
// protocol (spec.md §4.4). Matched-reader state lives behind
// ProxyHandle indirection per spec.md §9.
type StatefulWriter struct {
	mu       sync.Mutex
	cfg      StatefulWriterConfig
	history  *history.WriterHistory
	proxies  *ProxyTable[*ReaderProxy]
	state    WriterState
	hbCount  uint32
	queue    *sendQueue
	queueCtx context.CancelFunc
	wheel    *clockwheel.Wheel
	log      *logrus.Entry
}

// NewStatefulWriter constructs a StatefulWriter and the WriterHistory
// behind it, wiring the history's acked callback back to the writer
// so that reliable changes are not reclaimed while a reader
// proxy still needs them (spec.md §4.3/§4.4).
func NewStatefulWriter(cfg StatefulWriterConfig) *StatefulWriter {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "stateful-writer", "guid": cfg.GUID.String()})
	wheel := clockwheel.New()
	if cfg.Clock != nil {
		wheel = clockwheel.NewWithClock(cfg.Clock)
	}
	w := &StatefulWriter{
		cfg:     cfg,
		proxies: newProxyTable[*ReaderProxy](),
		wheel:   wheel,
		log:     log,
	}
	w.history = history.NewWriterHistory(cfg.Policies, nil, w.IsAcked)
	if cfg.PublishMode == AsynchronousPublishMode {
		depth := cfg.AsyncQueueDepth
		if depth <= 0 {
			depth = 64
		}
		w.queue = newSendQueue(depth, log)
		ctx, cancel := context.WithCancel(context.Background())
		w.queueCtx = cancel
		go w.queue.Forward(ctx, w.sendChange)
	}
	return w
}

// History returns the WriterHistory backing this writer.
func (w *StatefulWriter) History() *history.WriterHistory { return w.history }

func (w *StatefulWriter) GUID() guid.GUID          { return w.cfg.GUID }
func (w *StatefulWriter) Policies() qos.Policies   { return w.cfg.Policies }
func (w *StatefulWriter) Kind() Kind               { return Stateful }

func (w *StatefulWriter) MatchedPeers() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]guid.GUID, 0, w.proxies.len())
	for _, h := range w.proxies.handles() {
		p, _ := w.proxies.get(h)
		out = append(out, p.GUID)
	}
	return out
}

// MatchReader adds a ReaderProxy for a newly discovered, QoS-compatible
// reader (spec.md §4.6/§4.7 EDP match result feeding §4.4).
func (w *StatefulWriter) MatchReader(m ReaderWriterMatch) {
	w.mu.Lock()
	if _, exists := w.proxies.lookupGUID(m.GUID); exists {
		w.mu.Unlock()
		return
	}
	w.proxies.insert(m.GUID, newReaderProxy(m))
	w.mu.Unlock()
	w.cfg.Listener.notifyMatched(m.GUID)
}

// UnmatchReader drops the ReaderProxy for peer, if any (spec.md §8
// scenario 5: a later rematch under the same GUID starts clean, with
// no memory of previously delivered sequence numbers held against it).
func (w *StatefulWriter) UnmatchReader(peer guid.GUID) {
	w.mu.Lock()
	h, ok := w.proxies.lookupGUID(peer)
	if ok {
		w.proxies.remove(h, peer)
	}
	w.mu.Unlock()
	if ok {
		w.cfg.Listener.notifyUnmatched(peer)
	}
}

// Write reserves and adds a new CacheChange to history and delivers it
// to every matched reader proxy, synchronously or via the async send
// queue per cfg.PublishMode.
func (w *StatefulWriter) Write(ctx context.Context, payload []byte, kind history.ChangeKind, instance history.InstanceHandle) (guid.SequenceNumber, error) {
	c, err := w.history.ReserveChange(len(payload))
	if err != nil {
		return 0, err
	}
	c.Kind = kind
	c.InstanceHandle = instance
	c.SerializedPayload = append(c.SerializedPayload[:0], payload...)
	if err := w.history.AddChange(c, history.WriteParams{}); err != nil {
		return 0, err
	}

	if w.cfg.PublishMode == AsynchronousPublishMode {
		if err := w.queue.Enqueue(ctx, c, w.cfg.AsyncMaxBlockingTime); err != nil {
			return c.SequenceNumber, err
		}
		return c.SequenceNumber, nil
	}
	w.sendChange(c)
	return c.SequenceNumber, nil
}

func (w *StatefulWriter) sendChange(c *history.CacheChange) {
	w.mu.Lock()
	w.state = WriterSending
	dests := w.matchedLocatorsLocked()
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.HistoryDepth.WithLabelValues(w.cfg.GUID.String()).Set(float64(w.history.Len()))
	}

	if len(dests) == 0 {
		return
	}
	msg := wire.Message{
		Header: wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: c.WriterGUID.Prefix},
		Submessages: []wire.Submessage{
			&wire.Data{
				LittleEndian:     true,
				InlineQosPresent: false,
				KeyOnly:          c.Kind != history.Alive,
				ReaderID:         guid.EntityIdUnknown,
				WriterID:         c.WriterGUID.Entity,
				WriterSN:         c.SequenceNumber,
				SerializedPayload: c.SerializedPayload,
			},
		},
	}
	w.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})

	w.mu.Lock()
	if w.allAckedLocked() {
		w.state = WriterIdle
	} else {
		w.state = WriterWaitingForAck
	}
	w.mu.Unlock()
}

func (w *StatefulWriter) matchedLocatorsLocked() []locator.Locator {
	var out []locator.Locator
	for _, h := range w.proxies.handles() {
		p, _ := w.proxies.get(h)
		out = append(out, p.Locators...)
	}
	return out
}

func (w *StatefulWriter) allAckedLocked() bool {
	_, max, ok := w.history.MinMaxSeq()
	if !ok {
		return true
	}
	for _, h := range w.proxies.handles() {
		p, _ := w.proxies.get(h)
		if p.Reliable && p.AckedUpTo() < max {
			return false
		}
	}
	return true
}

// IsAcked reports whether every reliable matched reader has
// acknowledged seq, for use as the WriterHistory's acked callback
// (spec.md §4.3's reliable-removal gate).
func (w *StatefulWriter) IsAcked(seq guid.SequenceNumber) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range w.proxies.handles() {
		p, _ := w.proxies.get(h)
		if p.Reliable && p.AckedUpTo() < seq {
			return false
		}
	}
	return true
}

// Heartbeat builds and sends a HEARTBEAT submessage announcing the
// current [min,max] sequence range to every matched reliable reader,
// suppressed entirely for best-effort-only writers (spec.md §4.4).
func (w *StatefulWriter) Heartbeat() {
	w.mu.Lock()
	if w.cfg.Policies.Reliability != qos.Reliable {
		w.mu.Unlock()
		return
	}
	min, max, ok := w.history.MinMaxSeq()
	if !ok {
		min, max = 1, 0
	}
	w.hbCount++
	hb := &wire.Heartbeat{
		LittleEndian: true,
		ReaderID:     guid.EntityIdUnknown,
		WriterID:     w.cfg.GUID.Entity,
		FirstSN:      min,
		LastSN:       max,
		Count:        w.hbCount,
	}
	dests := w.matchedLocatorsLocked()
	w.mu.Unlock()
	if len(dests) == 0 {
		return
	}
	msg := wire.Message{
		Header:      wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: w.cfg.GUID.Prefix},
		Submessages: []wire.Submessage{hb},
	}
	w.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Heartbeats.WithLabelValues(w.cfg.GUID.String()).Inc()
	}
}

// StartHeartbeatLoop emits a HEARTBEAT every cfg.HeartbeatPeriod until
// ctx is cancelled. A zero period disables the loop (the writer then
// relies on whatever calls Heartbeat directly, e.g. on every Write).
func (w *StatefulWriter) StartHeartbeatLoop(ctx context.Context) {
	if w.cfg.HeartbeatPeriod <= 0 {
		return
	}
	go func() {
		t := w.wheel.Ticker(w.cfg.HeartbeatPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.Heartbeat()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleAckNack applies a received ACKNACK to the sending reader's
// proxy and schedules a retransmission pass after cfg.NackResponseDelay,
// coalescing multiple ACKNACKs that arrive within that window into a
// single retransmit pass (spec.md §4.4). An ACKNACK whose base claims
// to acknowledge more than the writer has ever sent (base >
// lastSequenceNumber+1) or that is not a positive sequence number
// (base <= 0) is a protocol error: it is logged and otherwise ignored,
// leaving proxy state untouched, without ever reaching applyAckNack.
// A base that merely regresses the proxy's own watermark is caught by
// applyAckNack itself.
func (w *StatefulWriter) HandleAckNack(from guid.GUID, an *wire.AckNack) {
	w.mu.Lock()
	h, ok := w.proxies.lookupGUID(from)
	if !ok {
		w.mu.Unlock()
		return
	}
	p, _ := w.proxies.get(h)
	lastSeq := w.history.LastSequenceNumber()
	w.mu.Unlock()

	base := an.ReaderSNState.Base
	if base <= 0 || base > lastSeq+1 {
		w.log.WithFields(logrus.Fields{"reader": from.String(), "base": base, "lastSequenceNumber": lastSeq}).
			Warn("Inconsistent acknack received, ignoring")
		return
	}

	w.mu.Lock()
	if !p.applyAckNack(an) {
		w.mu.Unlock()
		w.log.WithField("reader", from.String()).Warn("Inconsistent acknack received, ignoring")
		return
	}
	alreadyScheduled := p.retransmitPending
	p.retransmitPending = true
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.AckNacks.WithLabelValues(w.cfg.GUID.String()).Inc()
	}

	if alreadyScheduled {
		return
	}
	if w.cfg.NackResponseDelay <= 0 {
		w.retransmit(from, p)
		return
	}
	w.wheel.AfterFunc(w.cfg.NackResponseDelay, func() { w.retransmit(from, p) })
}

func (w *StatefulWriter) retransmit(from guid.GUID, p *ReaderProxy) {
	w.mu.Lock()
	p.retransmitPending = false
	requested := p.RequestedSeqs()
	dests := append([]locator.Locator(nil), p.Locators...)
	w.mu.Unlock()

	for _, seq := range requested {
		c, ok := w.history.Get(seq)
		if !ok {
			w.sendGap(from, dests, seq)
			w.mu.Lock()
			p.clearRequested(seq)
			w.mu.Unlock()
			continue
		}
		w.sendChangeTo(c, dests)
		w.mu.Lock()
		p.clearRequested(seq)
		w.mu.Unlock()
	}
}

func (w *StatefulWriter) sendChangeTo(c *history.CacheChange, dests []locator.Locator) {
	msg := wire.Message{
		Header: wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: c.WriterGUID.Prefix},
		Submessages: []wire.Submessage{
			&wire.Data{
				LittleEndian:      true,
				KeyOnly:           c.Kind != history.Alive,
				ReaderID:          guid.EntityIdUnknown,
				WriterID:          c.WriterGUID.Entity,
				WriterSN:          c.SequenceNumber,
				SerializedPayload: c.SerializedPayload,
			},
		},
	}
	w.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})
}

// sendGap announces that seq will never be retransmitted, because it
// has already been reclaimed from history (spec.md §4.4: a writer
// must never silently drop a requested sequence number).
func (w *StatefulWriter) sendGap(to guid.GUID, dests []locator.Locator, seq guid.SequenceNumber) {
	gapList := wire.NewSequenceNumberSet(seq)
	gapList.Add(seq)
	gap := &wire.Gap{
		LittleEndian: true,
		ReaderID:     guid.EntityIdUnknown,
		WriterID:     w.cfg.GUID.Entity,
		GapStart:     seq,
		GapList:      gapList,
	}
	msg := wire.Message{
		Header:      wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: w.cfg.GUID.Prefix},
		Submessages: []wire.Submessage{gap},
	}
	w.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Gaps.WithLabelValues(w.cfg.GUID.String()).Inc()
	}
}

// State reports the writer's current coarse state, for tests and
// diagnostics.
func (w *StatefulWriter) State() WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Close stops the async send-queue goroutine, if any. Safe to call on
// a synchronous-mode writer.
func (w *StatefulWriter) Close() error {
	if w.queue != nil {
		w.queue.Close()
		w.queueCtx()
	}
	return nil
}

var _ Endpoint = (*StatefulWriter)(nil)
