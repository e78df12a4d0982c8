// Package history implements the Writer/Reader History layer of
// spec.md §4.3: CacheChange records, pool-backed writer histories
// keyed by sequence number, and reader histories keyed by
// (writer GUID, sequence number) with per-instance sub-indexing.
//
// Grounded on the teacher's EndpointsWatcherCache
// (controller/api/destination/watcher/endpoints_watcher_cache.go):
// an embedded sync.RWMutex guarding a map, with a *logrus.Entry per
// instance, generalized from a cluster-name-keyed watcher cache to a
// sequence-number/instance-keyed change store.
package history

import (
	"time"

	"github.com/go-rtps/rtps/guid"
)

// ChangeKind classifies what a CacheChange represents (spec.md §3).
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
)

func (k ChangeKind) String() string {
	switch k {
	case Alive:
		return "ALIVE"
	case NotAliveDisposed:
		return "NOT_ALIVE_DISPOSED"
	case NotAliveUnregistered:
		return "NOT_ALIVE_UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// InstanceHandle identifies a keyed-topic instance, derived from the
// key fields of the payload, or from the writer GUID for keyless
// topics (spec.md §3).
type InstanceHandle [16]byte

// SampleIdentity names a single sample by its producing writer and
// sequence number, used for the write_params RPC correlation fields.
type SampleIdentity struct {
	Writer         guid.GUID
	SequenceNumber guid.SequenceNumber
}

// WriteParams is carried through the pipeline alongside a
// CacheChange for RPC request/reply correlation (spec.md §3). The RPC
// feed operations themselves are an explicit Open Question left
// unimplemented (see DESIGN.md); this struct still exists because
// CacheChange carries it regardless of whether anything consumes it.
type WriteParams struct {
	SampleIdentity        SampleIdentity
	RelatedSampleIdentity SampleIdentity
}

// CacheChange is the unit of data flow between a writer's history and
// a reader's history (spec.md §3). A change is owned by exactly one
// history for its lifetime; crossing the wire copies data rather than
// moving ownership.
type CacheChange struct {
	WriterGUID        guid.GUID
	SequenceNumber    guid.SequenceNumber
	InstanceHandle    InstanceHandle
	SourceTimestamp   time.Time
	Kind              ChangeKind
	SerializedPayload []byte // opaque octets; len is the in-use length
	MaxPayloadSize    int    // capacity this change's slot was reserved with
	WriteParams       WriteParams
}

// Clone returns a deep copy suitable for handing to a reader history
// across the transport boundary, where ownership must not be shared.
func (c *CacheChange) Clone() *CacheChange {
	cp := *c
	cp.SerializedPayload = append([]byte(nil), c.SerializedPayload...)
	return &cp
}
