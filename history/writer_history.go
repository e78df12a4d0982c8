package history

import (
	"sort"
	"sync"
	"time"

	logging "github.com/sirupsen/logrus"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtpserr"
)

// ChangeNotifier is invoked after a change is durably added to a
// writer history, so the owning writer can kick off a send pass
// (spec.md §4.3 "notifies the owning writer").
type ChangeNotifier func(c *CacheChange)

// WriterHistory is the writer-side ordered store of spec.md §4.3,
// indexed by sequence number with per-instance tracking for KEEP_LAST
// eviction. Grounded on the teacher's EndpointsWatcherCache locking
// idiom (embedded sync.RWMutex over a map, see change.go doc comment).
type WriterHistory struct {
	sync.RWMutex

	policies qos.Policies
	pool     Pool
	log      *logging.Entry

	nextSeq   guid.SequenceNumber
	changes   map[guid.SequenceNumber]*CacheChange
	instances map[InstanceHandle][]guid.SequenceNumber // ascending seq order

	notify ChangeNotifier
	// acked reports whether seq has been acknowledged by every
	// matched reliable reader proxy; nil means "treat as best-effort,
	// always acknowledged" so RemoveChange never blocks on it.
	acked func(seq guid.SequenceNumber) bool
}

// NewWriterHistory constructs an empty writer history for the given
// QoS. notify is called synchronously from AddChange; acked may be nil
// for best-effort writers.
func NewWriterHistory(policies qos.Policies, notify ChangeNotifier, acked func(guid.SequenceNumber) bool) *WriterHistory {
	limit := policies.ResourceLimits.MaxSamples
	return &WriterHistory{
		policies:  policies,
		pool:      NewPool(policies.PoolStrategy, limit),
		log:       logging.WithField("component", "writer-history"),
		nextSeq:   1,
		changes:   make(map[guid.SequenceNumber]*CacheChange),
		instances: make(map[InstanceHandle][]guid.SequenceNumber),
		notify:    notify,
		acked:     acked,
	}
}

// ReserveChange acquires a slot from the pool, per spec.md §4.3.
func (h *WriterHistory) ReserveChange(maxPayloadSize int) (*CacheChange, error) {
	return h.pool.Reserve(maxPayloadSize)
}

// AddChange assigns the next sequence number, stamps SourceTimestamp,
// applies KEEP_LAST/KEEP_ALL overflow handling, and notifies the
// owning writer (spec.md §4.3).
func (h *WriterHistory) AddChange(c *CacheChange, wp WriteParams) error {
	h.Lock()
	defer h.Unlock()

	if h.policies.History.Kind == qos.KeepAll {
		limit := h.policies.ResourceLimits.MaxSamples
		if limit > 0 && len(h.changes) >= limit {
			return rtpserr.New(rtpserr.OutOfResources, "KEEP_ALL history at max_samples (%d)", limit)
		}
	} else {
		depth := h.policies.History.Depth
		seqs := h.instances[c.InstanceHandle]
		for len(seqs) >= depth {
			oldest := seqs[0]
			seqs = seqs[1:]
			h.dropLocked(oldest)
		}
		h.instances[c.InstanceHandle] = seqs
	}

	c.SequenceNumber = h.nextSeq
	h.nextSeq++
	c.SourceTimestamp = time.Now()
	c.WriteParams = wp

	h.changes[c.SequenceNumber] = c
	h.instances[c.InstanceHandle] = append(h.instances[c.InstanceHandle], c.SequenceNumber)

	if h.notify != nil {
		h.notify(c)
	}
	return nil
}

// dropLocked evicts seq from both indices and returns its slot to the
// pool, without checking acknowledgement (used for KEEP_LAST overflow,
// which spec.md §4.3 permits unconditionally: "oldest sample per
// instance is dropped").
func (h *WriterHistory) dropLocked(seq guid.SequenceNumber) {
	c, ok := h.changes[seq]
	if !ok {
		return
	}
	delete(h.changes, seq)
	h.pool.Return(c)
}

// RemoveChange removes a specific change and returns its slot to the
// pool. Reliable writers refuse removal of a change not yet
// acknowledged by all matched readers unless force is set (spec.md
// §4.3); force bypasses the check. (KEEP_LAST overflow inside AddChange
// evicts through dropLocked and does not go through this method.)
func (h *WriterHistory) RemoveChange(seq guid.SequenceNumber, force bool) error {
	h.Lock()
	defer h.Unlock()

	c, ok := h.changes[seq]
	if !ok {
		return rtpserr.New(rtpserr.InvalidArgument, "no change with sequence number %d", seq)
	}
	if !force && h.policies.Reliability == qos.Reliable && h.acked != nil && !h.acked(seq) {
		return rtpserr.New(rtpserr.PreconditionNotMet, "change %d not yet acknowledged by all matched readers", seq)
	}
	delete(h.changes, seq)
	if seqs, ok := h.instances[c.InstanceHandle]; ok {
		h.instances[c.InstanceHandle] = removeSeq(seqs, seq)
	}
	h.pool.Return(c)
	return nil
}

func removeSeq(seqs []guid.SequenceNumber, target guid.SequenceNumber) []guid.SequenceNumber {
	out := seqs[:0]
	for _, s := range seqs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the change with the given sequence number, if still held.
func (h *WriterHistory) Get(seq guid.SequenceNumber) (*CacheChange, bool) {
	h.RLock()
	defer h.RUnlock()
	c, ok := h.changes[seq]
	return c, ok
}

// MinMaxSeq returns the lowest and highest sequence numbers currently
// held (used to populate outgoing HEARTBEATs); ok is false when empty.
func (h *WriterHistory) MinMaxSeq() (min, max guid.SequenceNumber, ok bool) {
	h.RLock()
	defer h.RUnlock()
	if len(h.changes) == 0 {
		return 0, 0, false
	}
	first := true
	for seq := range h.changes {
		if first || seq < min {
			min = seq
		}
		if first || seq > max {
			max = seq
		}
		first = false
	}
	return min, max, true
}

// LastSequenceNumber reports the highest sequence number ever assigned
// by AddChange, regardless of whether that change is still held (KEEP_LAST
// eviction does not lower it); 0 if AddChange has never been called.
func (h *WriterHistory) LastSequenceNumber() guid.SequenceNumber {
	h.RLock()
	defer h.RUnlock()
	return h.nextSeq - 1
}

// Range iterates all held changes in ascending sequence order.
func (h *WriterHistory) Range(fn func(c *CacheChange)) {
	h.RLock()
	seqs := make([]guid.SequenceNumber, 0, len(h.changes))
	for s := range h.changes {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	changes := make([]*CacheChange, len(seqs))
	for i, s := range seqs {
		changes[i] = h.changes[s]
	}
	h.RUnlock()

	for _, c := range changes {
		fn(c)
	}
}

// Len reports how many changes the history currently holds.
func (h *WriterHistory) Len() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.changes)
}
