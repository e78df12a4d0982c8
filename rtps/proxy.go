package rtps

import (
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
)

// ReaderProxy is a StatefulWriter's per-matched-reader state (spec.md
// §4.4): which sequence numbers it has acknowledged, which are
// currently requested via ACKNACK, and where to send.
type ReaderProxy struct {
	GUID             guid.GUID
	Locators         []locator.Locator
	Durability       qos.DurabilityKind
	Reliable         bool
	ackedUpTo        guid.SequenceNumber // highest seq this reader has acked (base-1 semantics)
	requested        map[guid.SequenceNumber]bool
	lastNackCount    uint32
	lastHeartbeatAck time.Time
	retransmitPending bool
}

func newReaderProxy(p ReaderWriterMatch) *ReaderProxy {
	return &ReaderProxy{
		GUID:       p.GUID,
		Locators:   p.Locators,
		Durability: p.Durability,
		Reliable:   p.Reliable,
		requested:  make(map[guid.SequenceNumber]bool),
	}
}

// AckedUpTo reports the highest sequence number this proxy has
// acknowledged; 0 means none yet.
func (r *ReaderProxy) AckedUpTo() guid.SequenceNumber { return r.ackedUpTo }

// LastAckNackTime reports when the proxy last sent an accepted
// ACKNACK, for liveliness bookkeeping.
func (r *ReaderProxy) LastAckNackTime() time.Time { return r.lastHeartbeatAck }

// Requested reports whether seq is currently outstanding in this
// proxy's NACK request set.
func (r *ReaderProxy) Requested(seq guid.SequenceNumber) bool { return r.requested[seq] }

// RequestedSeqs returns every outstanding requested sequence number.
func (r *ReaderProxy) RequestedSeqs() []guid.SequenceNumber {
	out := make([]guid.SequenceNumber, 0, len(r.requested))
	for s := range r.requested {
		out = append(out, s)
	}
	return out
}

// applyAckNack updates ack/request state from a received ACKNACK
// submessage. It reports whether the ACKNACK was accepted; a stale
// (out-of-order Count) or inconsistent (ack watermark would regress)
// ACKNACK is rejected without mutating state (spec.md §4.4 edge case,
// logged by the caller as "Inconsistent acknack").
func (r *ReaderProxy) applyAckNack(an *wire.AckNack) bool {
	if an.Count != 0 && an.Count <= r.lastNackCount && r.lastNackCount != 0 {
		return false // stale/duplicate, out of count order
	}
	base := an.ReaderSNState.Base
	if base-1 < r.ackedUpTo {
		return false // inconsistent: claims to acknowledge less than previously acked
	}
	r.lastNackCount = an.Count
	r.lastHeartbeatAck = time.Now()
	if base-1 > r.ackedUpTo {
		r.ackedUpTo = base - 1
	}
	for seq := range r.requested {
		if seq < base {
			delete(r.requested, seq)
		}
	}
	for _, seq := range an.ReaderSNState.Seqs() {
		r.requested[seq] = true
	}
	return true
}

func (r *ReaderProxy) clearRequested(seq guid.SequenceNumber) {
	delete(r.requested, seq)
}

// WriterProxy is a StatefulReader's per-matched-writer state (spec.md
// §4.5): which sequence numbers have been received, and what is known
// to be missing.
type WriterProxy struct {
	GUID            guid.GUID
	Locators        []locator.Locator
	received        map[guid.SequenceNumber]bool
	maxReceivedSeq  guid.SequenceNumber
	lastHeartbeat   wire.Heartbeat
	heartbeatCount  uint32
	lastAckNackSent time.Time
	ackNackCount    uint32
	irrelevantBelow guid.SequenceNumber
}

func newWriterProxy(p ReaderWriterMatch) *WriterProxy {
	return &WriterProxy{
		GUID:     p.GUID,
		Locators: p.Locators,
		received: make(map[guid.SequenceNumber]bool),
	}
}

func (w *WriterProxy) markReceived(seq guid.SequenceNumber) {
	w.received[seq] = true
	if seq > w.maxReceivedSeq {
		w.maxReceivedSeq = seq
	}
}

func (w *WriterProxy) markIrrelevant(seq guid.SequenceNumber) {
	delete(w.received, seq)
	if seq > w.irrelevantBelow && seq >= w.maxReceivedSeq {
		w.irrelevantBelow = seq
	}
	if seq > w.maxReceivedSeq {
		w.maxReceivedSeq = seq
	}
}

// MissingUpTo returns every sequence number in [1, w.maxReceivedSeq]
// not yet marked received or irrelevant, in ascending order.
func (w *WriterProxy) MissingUpTo() []guid.SequenceNumber {
	var out []guid.SequenceNumber
	for s := guid.SequenceNumber(1); s <= w.maxReceivedSeq; s++ {
		if s <= w.irrelevantBelow {
			continue
		}
		if !w.received[s] {
			out = append(out, s)
		}
	}
	return out
}

// ackNackState builds the SequenceNumberSet that should be sent in the
// next ACKNACK for this writer proxy: base is the lowest unreceived
// seq (or maxReceivedSeq+1 if none missing), bits mark every other
// missing seq up to maxReceivedSeq.
func (w *WriterProxy) ackNackState() wire.SequenceNumberSet {
	missing := w.MissingUpTo()
	base := w.maxReceivedSeq + 1
	if len(missing) > 0 {
		base = missing[0]
	}
	s := wire.NewSequenceNumberSet(base)
	for _, seq := range missing {
		s.Add(seq)
	}
	return s
}

// ReaderWriterMatch is the discovery-supplied description of a newly
// matched peer, used to seed a ReaderProxy or WriterProxy (spec.md
// §4.6/§4.7's EDP match result, narrowed to what the endpoint layer
// needs).
type ReaderWriterMatch struct {
	GUID       guid.GUID
	Locators   []locator.Locator
	Durability qos.DurabilityKind
	Reliable   bool
}

// ProxyTable owns a participant-scoped set of proxies addressed by
// handle rather than pointer, so that teardown can walk ids and so
// that no endpoint ever holds a dangling reference across an unmatch/
// rematch cycle with a reused GUID (spec.md §9's cyclic-reference
// guidance; spec.md §8 scenario 5 requires unmatch+rematch on the same
// GUID prefix not to duplicate delivery).
type ProxyTable[T any] struct {
	next    ProxyHandle
	entries map[ProxyHandle]T
	byGUID  map[guid.GUID]ProxyHandle
}

func newProxyTable[T any]() *ProxyTable[T] {
	return &ProxyTable[T]{entries: make(map[ProxyHandle]T), byGUID: make(map[guid.GUID]ProxyHandle)}
}

func (t *ProxyTable[T]) insert(g guid.GUID, v T) ProxyHandle {
	t.next++
	h := t.next
	t.entries[h] = v
	t.byGUID[g] = h
	return h
}

func (t *ProxyTable[T]) get(h ProxyHandle) (T, bool) {
	v, ok := t.entries[h]
	return v, ok
}

func (t *ProxyTable[T]) lookupGUID(g guid.GUID) (ProxyHandle, bool) {
	h, ok := t.byGUID[g]
	return h, ok
}

func (t *ProxyTable[T]) remove(h ProxyHandle, g guid.GUID) {
	delete(t.entries, h)
	delete(t.byGUID, g)
}

func (t *ProxyTable[T]) handles() []ProxyHandle {
	out := make([]ProxyHandle, 0, len(t.entries))
	for h := range t.entries {
		out = append(out, h)
	}
	return out
}

func (t *ProxyTable[T]) len() int { return len(t.entries) }
