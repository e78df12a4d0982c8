package history

import (
	"testing"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/qos"
	"github.com/stretchr/testify/require"
)

func testWriterGUID() guid.GUID {
	return guid.GUID{Prefix: guid.GuidPrefix{1, 2, 3}, Entity: guid.EntityId{0, 0, 1, 2}}
}

func TestReaderHistoryDeliversInSequenceOrderPerWriter(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	h := NewReaderHistory(p)
	w := testWriterGUID()

	for _, seq := range []guid.SequenceNumber{1, 2, 3} {
		c := &CacheChange{WriterGUID: w, SequenceNumber: seq}
		require.True(t, h.ReceivedChange(c, 1))
	}
	taken := h.Take()
	require.Len(t, taken, 3)
	require.Equal(t, guid.SequenceNumber(1), taken[0].SequenceNumber)
	require.Equal(t, guid.SequenceNumber(3), taken[2].SequenceNumber)
}

func TestReaderHistoryDiscardsAtOrBelowHighestDelivered(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	h := NewReaderHistory(p)
	w := testWriterGUID()

	c1 := &CacheChange{WriterGUID: w, SequenceNumber: 5}
	require.True(t, h.ReceivedChange(c1, 1))
	h.RemoveChange(c1)

	dup := &CacheChange{WriterGUID: w, SequenceNumber: 5}
	require.False(t, h.ReceivedChange(dup, 1))

	stale := &CacheChange{WriterGUID: w, SequenceNumber: 3}
	require.False(t, h.ReceivedChange(stale, 1))
}

func TestReaderHistoryKeepLastEvictsOldestUndeliveredOfInstance(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 2}
	h := NewReaderHistory(p)
	w := testWriterGUID()
	inst := InstanceHandle{9}

	var seqs []guid.SequenceNumber
	for i := 1; i <= 3; i++ {
		c := &CacheChange{WriterGUID: w, SequenceNumber: guid.SequenceNumber(i), InstanceHandle: inst}
		require.True(t, h.ReceivedChange(c, 1))
		seqs = append(seqs, c.SequenceNumber)
	}
	require.Equal(t, 2, h.Len())
	taken := h.Take()
	require.Len(t, taken, 2)
	for _, c := range taken {
		require.NotEqual(t, seqs[0], c.SequenceNumber)
	}
}

func TestReaderHistoryOrdersBySourceTimestampAcrossWriters(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	p.DestinationOrder = qos.BySourceTimestamp
	h := NewReaderHistory(p)

	w1 := guid.GUID{Prefix: guid.GuidPrefix{1}, Entity: guid.EntityId{0, 0, 1, 2}}
	w2 := guid.GUID{Prefix: guid.GuidPrefix{2}, Entity: guid.EntityId{0, 0, 1, 2}}
	now := time.Now()

	later := &CacheChange{WriterGUID: w1, SequenceNumber: 1, SourceTimestamp: now.Add(time.Second)}
	earlier := &CacheChange{WriterGUID: w2, SequenceNumber: 1, SourceTimestamp: now}
	require.True(t, h.ReceivedChange(later, 1))
	require.True(t, h.ReceivedChange(earlier, 1))

	taken := h.Take()
	require.Len(t, taken, 2)
	require.Equal(t, w2, taken[0].WriterGUID)
	require.Equal(t, w1, taken[1].WriterGUID)
}

func TestReaderHistoryOrdersByReceptionWhenNotSourceTimestamp(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	h := NewReaderHistory(p)

	w1 := guid.GUID{Prefix: guid.GuidPrefix{1}, Entity: guid.EntityId{0, 0, 1, 2}}
	w2 := guid.GUID{Prefix: guid.GuidPrefix{2}, Entity: guid.EntityId{0, 0, 1, 2}}

	first := &CacheChange{WriterGUID: w1, SequenceNumber: 1}
	second := &CacheChange{WriterGUID: w2, SequenceNumber: 1}
	require.True(t, h.ReceivedChange(first, 1))
	require.True(t, h.ReceivedChange(second, 1))

	taken := h.Take()
	require.Equal(t, w1, taken[0].WriterGUID)
	require.Equal(t, w2, taken[1].WriterGUID)
}
