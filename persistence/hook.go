// Package persistence implements the Persistence Hook of spec.md
// §4.9: durable storage for writer histories and reader ack
// watermarks, exercised when an entity declares a durability kind of
// TRANSIENT_LOCAL, TRANSIENT, or PERSISTENT.
//
// Memory provides the in-memory implementation spec.md §4.9 calls
// "sufficient for TRANSIENT_LOCAL" (and the only one an explicit
// Non-goal permits as a default); BoltStore backs TRANSIENT and
// PERSISTENT durability across process restarts, grounded on
// discovery/pdp/serverstore's bbolt idiom (SPEC_FULL.md §4.17).
package persistence

import (
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
)

// Hook is the persistence contract spec.md §4.9 names: writer-history
// load/store/remove, plus reader ack-watermark load/store.
// Implementations must be safe for concurrent use; a writer or reader
// calls its hook from whatever goroutine is holding its own lock (see
// spec.md §5's locking discipline), never the reverse.
type Hook interface {
	// LoadWriterHistory returns every change previously stored for
	// writerGUID, in no particular order; the caller re-sorts by
	// sequence number.
	LoadWriterHistory(writerGUID guid.GUID) ([]*history.CacheChange, error)
	// StoreChange durably records c as belonging to writerGUID.
	StoreChange(writerGUID guid.GUID, c *history.CacheChange) error
	// RemoveChange deletes the stored change at seq for writerGUID, if any.
	RemoveChange(writerGUID guid.GUID, seq guid.SequenceNumber) error

	// LoadReaderLastAcks returns, for readerGUID, the highest
	// sequence number acknowledged per matched writer GUID.
	LoadReaderLastAcks(readerGUID guid.GUID) (map[guid.GUID]guid.SequenceNumber, error)
	// StoreAckWatermark records that readerGUID has acknowledged up
	// to and including seq from writerGUID.
	StoreAckWatermark(readerGUID, writerGUID guid.GUID, seq guid.SequenceNumber) error
}
