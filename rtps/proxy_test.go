package rtps

import (
	"testing"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/wire"
	"github.com/stretchr/testify/require"
)

func testGUID(b byte) guid.GUID {
	var prefix guid.GuidPrefix
	prefix[0] = b
	return guid.GUID{Prefix: prefix, Entity: guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}}
}

func TestReaderProxyApplyAckNackAdvancesAckWatermark(t *testing.T) {
	p := newReaderProxy(ReaderWriterMatch{GUID: testGUID(1), Reliable: true})
	an := &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(5), Count: 1}
	require.True(t, p.applyAckNack(an))
	require.Equal(t, guid.SequenceNumber(4), p.AckedUpTo())
}

func TestReaderProxyApplyAckNackTracksRequested(t *testing.T) {
	p := newReaderProxy(ReaderWriterMatch{GUID: testGUID(1), Reliable: true})
	s := wire.NewSequenceNumberSet(3)
	s.Add(3)
	s.Add(5)
	an := &wire.AckNack{ReaderSNState: s, Count: 1}
	require.True(t, p.applyAckNack(an))
	require.True(t, p.Requested(3))
	require.True(t, p.Requested(5))
	require.False(t, p.Requested(4))
}

func TestReaderProxyApplyAckNackRejectsInconsistent(t *testing.T) {
	p := newReaderProxy(ReaderWriterMatch{GUID: testGUID(1), Reliable: true})
	require.True(t, p.applyAckNack(&wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(10), Count: 1}))
	require.Equal(t, guid.SequenceNumber(9), p.AckedUpTo())

	// A later ACKNACK claiming a lower base would regress the ack
	// watermark, which is contradictory and must be rejected.
	require.False(t, p.applyAckNack(&wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(3), Count: 2}))
	require.Equal(t, guid.SequenceNumber(9), p.AckedUpTo())
}

func TestReaderProxyApplyAckNackRejectsStaleCount(t *testing.T) {
	p := newReaderProxy(ReaderWriterMatch{GUID: testGUID(1), Reliable: true})
	require.True(t, p.applyAckNack(&wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(2), Count: 5}))
	require.False(t, p.applyAckNack(&wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(3), Count: 3}))
	require.Equal(t, guid.SequenceNumber(1), p.AckedUpTo())
}

func TestWriterProxyMissingAndAckNackState(t *testing.T) {
	w := newWriterProxy(ReaderWriterMatch{GUID: testGUID(2)})
	w.markReceived(1)
	w.markReceived(3)
	w.markReceived(4)
	missing := w.MissingUpTo()
	require.Equal(t, []guid.SequenceNumber{2}, missing)

	set := w.ackNackState()
	require.Equal(t, guid.SequenceNumber(2), set.Base)
	require.True(t, set.Contains(2))
}

func TestWriterProxyMarkIrrelevantClearsMissing(t *testing.T) {
	w := newWriterProxy(ReaderWriterMatch{GUID: testGUID(2)})
	w.markReceived(1)
	w.markIrrelevant(2)
	w.markReceived(3)
	require.Empty(t, w.MissingUpTo())
}

func TestProxyTableInsertLookupRemove(t *testing.T) {
	tbl := newProxyTable[*ReaderProxy]()
	g := testGUID(9)
	h := tbl.insert(g, newReaderProxy(ReaderWriterMatch{GUID: g}))
	got, ok := tbl.get(h)
	require.True(t, ok)
	require.Equal(t, g, got.GUID)

	h2, ok := tbl.lookupGUID(g)
	require.True(t, ok)
	require.Equal(t, h, h2)

	tbl.remove(h, g)
	_, ok = tbl.get(h)
	require.False(t, ok)
	_, ok = tbl.lookupGUID(g)
	require.False(t, ok)
}

func TestProxyTableRematchAfterRemoveStartsClean(t *testing.T) {
	tbl := newProxyTable[*WriterProxy]()
	g := testGUID(3)
	h1 := tbl.insert(g, newWriterProxy(ReaderWriterMatch{GUID: g}))
	p1, _ := tbl.get(h1)
	p1.markReceived(1)
	tbl.remove(h1, g)

	h2 := tbl.insert(g, newWriterProxy(ReaderWriterMatch{GUID: g}))
	p2, _ := tbl.get(h2)
	require.Empty(t, p2.MissingUpTo())
	require.NotEqual(t, h1, h2)
}
