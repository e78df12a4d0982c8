package history

import (
	"testing"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/stretchr/testify/require"
)

func newTestWriterHistory(p qos.Policies, notify ChangeNotifier) *WriterHistory {
	return NewWriterHistory(p, notify, nil)
}

func TestWriterHistoryAssignsSequenceNumbersAndNotifies(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	var notified []*CacheChange
	h := newTestWriterHistory(p, func(c *CacheChange) { notified = append(notified, c) })

	c1, err := h.ReserveChange(32)
	require.NoError(t, err)
	require.NoError(t, h.AddChange(c1, WriteParams{}))
	require.Equal(t, guid.SequenceNumber(1), c1.SequenceNumber)

	c2, err := h.ReserveChange(32)
	require.NoError(t, err)
	require.NoError(t, h.AddChange(c2, WriteParams{}))
	require.Equal(t, guid.SequenceNumber(2), c2.SequenceNumber)

	require.Len(t, notified, 2)
	require.Equal(t, 2, h.Len())
}

func TestWriterHistoryKeepAllRejectsWhenFull(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepAll}
	p.ResourceLimits = qos.ResourceLimits{MaxSamples: 1}
	h := newTestWriterHistory(p, nil)

	c1, _ := h.ReserveChange(16)
	require.NoError(t, h.AddChange(c1, WriteParams{}))

	c2, _ := h.ReserveChange(16)
	err := h.AddChange(c2, WriteParams{})
	require.ErrorIs(t, err, rtpserr.ErrOutOfResources)
}

func TestWriterHistoryKeepLastEvictsOldestPerInstance(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 2}
	h := newTestWriterHistory(p, nil)

	inst := InstanceHandle{1}
	var seqs []guid.SequenceNumber
	for i := 0; i < 3; i++ {
		c, _ := h.ReserveChange(16)
		c.InstanceHandle = inst
		require.NoError(t, h.AddChange(c, WriteParams{}))
		seqs = append(seqs, c.SequenceNumber)
	}
	require.Equal(t, 2, h.Len())
	_, ok := h.Get(seqs[0])
	require.False(t, ok, "oldest sample for the instance should have been evicted")
	_, ok = h.Get(seqs[2])
	require.True(t, ok)
}

func TestWriterHistoryRemoveChangeRequiresAckForReliable(t *testing.T) {
	p := qos.Default()
	p.Reliability = qos.Reliable
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	acked := false
	h := NewWriterHistory(p, nil, func(guid.SequenceNumber) bool { return acked })

	c, _ := h.ReserveChange(16)
	require.NoError(t, h.AddChange(c, WriteParams{}))

	err := h.RemoveChange(c.SequenceNumber, false)
	require.ErrorIs(t, err, rtpserr.ErrPreconditionNotMet)

	acked = true
	require.NoError(t, h.RemoveChange(c.SequenceNumber, false))
	require.Equal(t, 0, h.Len())
}

func TestWriterHistoryRemoveChangeForceBypassesAckCheck(t *testing.T) {
	p := qos.Default()
	p.Reliability = qos.Reliable
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	h := NewWriterHistory(p, nil, func(guid.SequenceNumber) bool { return false })

	c, _ := h.ReserveChange(16)
	require.NoError(t, h.AddChange(c, WriteParams{}))
	require.NoError(t, h.RemoveChange(c.SequenceNumber, true))
}

func TestWriterHistoryMinMaxSeq(t *testing.T) {
	p := qos.Default()
	p.History = qos.History{Kind: qos.KeepLast, Depth: 10}
	h := newTestWriterHistory(p, nil)

	_, _, ok := h.MinMaxSeq()
	require.False(t, ok)

	for i := 0; i < 3; i++ {
		c, _ := h.ReserveChange(16)
		require.NoError(t, h.AddChange(c, WriteParams{}))
	}
	min, max, ok := h.MinMaxSeq()
	require.True(t, ok)
	require.Equal(t, guid.SequenceNumber(1), min)
	require.Equal(t, guid.SequenceNumber(3), max)
}
