package persistence

import (
	"sync"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
)

// Memory is an in-memory Hook, grounded on the same embedded-mutex-
// over-a-map idiom history.WriterHistory/ReaderHistory already use.
// It satisfies spec.md §4.9's TRANSIENT_LOCAL requirement; data does
// not survive a process restart.
type Memory struct {
	mu sync.RWMutex

	changes map[guid.GUID]map[guid.SequenceNumber]*history.CacheChange
	acks    map[guid.GUID]map[guid.GUID]guid.SequenceNumber
}

// NewMemory constructs an empty in-memory persistence hook.
func NewMemory() *Memory {
	return &Memory{
		changes: make(map[guid.GUID]map[guid.SequenceNumber]*history.CacheChange),
		acks:    make(map[guid.GUID]map[guid.GUID]guid.SequenceNumber),
	}
}

func (m *Memory) LoadWriterHistory(writerGUID guid.GUID) ([]*history.CacheChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byseq := m.changes[writerGUID]
	out := make([]*history.CacheChange, 0, len(byseq))
	for _, c := range byseq {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *Memory) StoreChange(writerGUID guid.GUID, c *history.CacheChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byseq := m.changes[writerGUID]
	if byseq == nil {
		byseq = make(map[guid.SequenceNumber]*history.CacheChange)
		m.changes[writerGUID] = byseq
	}
	byseq[c.SequenceNumber] = c.Clone()
	return nil
}

func (m *Memory) RemoveChange(writerGUID guid.GUID, seq guid.SequenceNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byseq, ok := m.changes[writerGUID]; ok {
		delete(byseq, seq)
	}
	return nil
}

func (m *Memory) LoadReaderLastAcks(readerGUID guid.GUID) (map[guid.GUID]guid.SequenceNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.acks[readerGUID]
	out := make(map[guid.GUID]guid.SequenceNumber, len(src))
	for w, seq := range src {
		out[w] = seq
	}
	return out, nil
}

func (m *Memory) StoreAckWatermark(readerGUID, writerGUID guid.GUID, seq guid.SequenceNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byWriter := m.acks[readerGUID]
	if byWriter == nil {
		byWriter = make(map[guid.GUID]guid.SequenceNumber)
		m.acks[readerGUID] = byWriter
	}
	if seq > byWriter[writerGUID] {
		byWriter[writerGUID] = seq
	}
	return nil
}
