package history

import (
	"sort"
	"sync"

	logging "github.com/sirupsen/logrus"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/qos"
)

// ReaderHistory is the reader-side store of spec.md §4.3, indexed by
// (writer GUID, sequence number) with per-instance sub-indexing for
// keyed topics. Delivery to the application respects spec.md §4.3's
// ordering rule: per-writer sequence order always; across writers,
// source-timestamp order when BY_SOURCE_TIMESTAMP destination order
// is in force, otherwise reception order.
type ReaderHistory struct {
	sync.RWMutex

	policies qos.Policies
	log      *logging.Entry

	byWriter         map[guid.GUID]map[guid.SequenceNumber]*CacheChange
	instances        map[InstanceHandle][]*CacheChange // ascending arrival order, for KEEP_LAST eviction
	highestDelivered map[guid.GUID]guid.SequenceNumber

	available    []*CacheChange
	receptionSeq int64
	recvOrder    map[*CacheChange]int64
}

// NewReaderHistory constructs an empty reader history for the given QoS.
func NewReaderHistory(policies qos.Policies) *ReaderHistory {
	return &ReaderHistory{
		policies:         policies,
		log:              logging.WithField("component", "reader-history"),
		byWriter:         make(map[guid.GUID]map[guid.SequenceNumber]*CacheChange),
		instances:        make(map[InstanceHandle][]*CacheChange),
		highestDelivered: make(map[guid.GUID]guid.SequenceNumber),
		recvOrder:        make(map[*CacheChange]int64),
	}
}

// ReceivedChange inserts or updates a change received from the wire,
// per spec.md §4.3. unknownMissingChangesBelow is the writer proxy's
// announced base for samples known-but-not-yet-received; it is
// accepted here purely for bookkeeping continuity checks by callers
// that need it (hole tracking itself lives in the stateful reader's
// writer-proxy state machine, spec.md §4.5). Returns false if the
// change was discarded (already delivered, or a duplicate).
func (h *ReaderHistory) ReceivedChange(c *CacheChange, unknownMissingChangesBelow guid.SequenceNumber) bool {
	h.Lock()
	defer h.Unlock()

	if highest, ok := h.highestDelivered[c.WriterGUID]; ok && c.SequenceNumber <= highest {
		return false
	}
	perWriter := h.byWriter[c.WriterGUID]
	if perWriter == nil {
		perWriter = make(map[guid.SequenceNumber]*CacheChange)
		h.byWriter[c.WriterGUID] = perWriter
	}
	if _, dup := perWriter[c.SequenceNumber]; dup {
		return false
	}
	perWriter[c.SequenceNumber] = c

	if h.policies.History.Kind == qos.KeepLast {
		depth := h.policies.History.Depth
		seqs := h.instances[c.InstanceHandle]
		for len(seqs) >= depth {
			oldest := seqs[0]
			seqs = seqs[1:]
			h.evictLocked(oldest)
		}
		h.instances[c.InstanceHandle] = append(seqs, c)
	} else {
		h.instances[c.InstanceHandle] = append(h.instances[c.InstanceHandle], c)
	}

	h.receptionSeq++
	h.recvOrder[c] = h.receptionSeq
	h.available = append(h.available, c)
	return true
}

// evictLocked drops the oldest undelivered change of an instance to
// make room under a KEEP_LAST depth, closing it out of every index.
func (h *ReaderHistory) evictLocked(c *CacheChange) {
	if perWriter, ok := h.byWriter[c.WriterGUID]; ok {
		delete(perWriter, c.SequenceNumber)
	}
	delete(h.recvOrder, c)
	h.available = removeChange(h.available, c)
}

func removeChange(list []*CacheChange, target *CacheChange) []*CacheChange {
	out := list[:0]
	for _, c := range list {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// RemoveChange deletes a change after a successful take by the
// application (spec.md §4.3).
func (h *ReaderHistory) RemoveChange(c *CacheChange) {
	h.Lock()
	defer h.Unlock()
	if perWriter, ok := h.byWriter[c.WriterGUID]; ok {
		delete(perWriter, c.SequenceNumber)
	}
	if seqs, ok := h.highestDelivered[c.WriterGUID]; !ok || c.SequenceNumber > seqs {
		h.highestDelivered[c.WriterGUID] = c.SequenceNumber
	}
	if list, ok := h.instances[c.InstanceHandle]; ok {
		h.instances[c.InstanceHandle] = removeChange(list, c)
	}
	delete(h.recvOrder, c)
	h.available = removeChange(h.available, c)
}

// Take returns every available sample in delivery order and leaves
// them in the history (the application must call RemoveChange after
// consuming each one, per spec.md §4.3).
func (h *ReaderHistory) Take() []*CacheChange {
	h.RLock()
	defer h.RUnlock()

	out := append([]*CacheChange(nil), h.available...)
	if h.policies.DestinationOrder == qos.BySourceTimestamp {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].SourceTimestamp.Before(out[j].SourceTimestamp)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return h.recvOrder[out[i]] < h.recvOrder[out[j]]
		})
	}
	// Within each writer, reorder by sequence number, keeping the slots
	// the cross-writer order above gave that writer.
	slots := make(map[guid.GUID][]int)
	for i, c := range out {
		slots[c.WriterGUID] = append(slots[c.WriterGUID], i)
	}
	for _, idx := range slots {
		seqs := make([]*CacheChange, len(idx))
		for k, i := range idx {
			seqs[k] = out[i]
		}
		sort.Slice(seqs, func(a, b int) bool { return seqs[a].SequenceNumber < seqs[b].SequenceNumber })
		for k, i := range idx {
			out[i] = seqs[k]
		}
	}
	return out
}

// Len reports how many samples are currently available to take.
func (h *ReaderHistory) Len() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.available)
}
