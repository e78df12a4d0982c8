package rtps

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/stretchr/testify/require"
)

// writerLink delivers one StatefulWriter's outbound DATA/HEARTBEAT/GAP
// submessages straight to a StatefulReader's Handle* methods, as if a
// transport connected the two directly. dropOnce names sequence
// numbers whose first DATA delivery is swallowed, to stand in for a
// lossy link.
type writerLink struct {
	mu       sync.Mutex
	from     guid.GUID
	reader   *StatefulReader
	dropOnce map[guid.SequenceNumber]bool
}

func (l *writerLink) Send(_ context.Context, buf []byte, _ []locator.Locator, _ time.Time) bool {
	msg, err := wire.Decode(buf)
	if err != nil {
		return false
	}
	for _, sm := range msg.Submessages {
		switch s := sm.(type) {
		case *wire.Data:
			l.mu.Lock()
			drop := l.dropOnce[s.WriterSN]
			if drop {
				delete(l.dropOnce, s.WriterSN)
			}
			l.mu.Unlock()
			if drop {
				continue
			}
			l.reader.HandleData(l.from, s)
		case *wire.Heartbeat:
			l.reader.HandleHeartbeat(l.from, s)
		case *wire.Gap:
			l.reader.HandleGap(l.from, s)
		}
	}
	return true
}

// readerLink delivers one StatefulReader's outbound ACKNACKs straight
// to a StatefulWriter's HandleAckNack.
type readerLink struct {
	from   guid.GUID
	writer *StatefulWriter
}

func (l *readerLink) Send(_ context.Context, buf []byte, _ []locator.Locator, _ time.Time) bool {
	msg, err := wire.Decode(buf)
	if err != nil {
		return false
	}
	for _, sm := range msg.Submessages {
		if an, ok := sm.(*wire.AckNack); ok {
			l.writer.HandleAckNack(l.from, an)
		}
	}
	return true
}

func TestBestEffortHelloWorldDeliversAllSamplesInOrderWithoutAckNack(t *testing.T) {
	wGUID, rGUID := testGUID(1), testGUID(2)
	policies := qos.Default() // best-effort, volatile, keep-last depth 10
	policies.History = qos.History{Kind: qos.KeepLast, Depth: 10}

	r := NewStatefulReader(StatefulReaderConfig{GUID: rGUID, Policies: policies, Sender: &fakeSender{}, Log: testLog()})
	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: policies, Sender: &writerLink{from: wGUID, reader: r}, Log: testLog()})

	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	r.MatchWriter(ReaderWriterMatch{GUID: wGUID})

	var published [][]byte
	for i := 0; i < 10; i++ {
		payload := []byte{byte(i)}
		published = append(published, payload)
		_, err := w.Write(context.Background(), payload, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}

	received := r.Take()
	require.Len(t, received, 10)
	for i, c := range received {
		require.Equal(t, published[i], c.SerializedPayload)
	}

	// best-effort never sends a heartbeat, so the reader never had a
	// reason to emit an ACKNACK.
	require.Equal(t, 0, r.cfg.Sender.(*fakeSender).count())
}

func TestReliableRecoveryOverLossyTransportRetransmitsDroppedSamples(t *testing.T) {
	wGUID, rGUID := testGUID(1), testGUID(2)
	policies := reliablePolicies()

	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: policies, Log: testLog()})
	r := NewStatefulReader(StatefulReaderConfig{GUID: rGUID, Policies: policies, Log: testLog()})
	w.cfg.Sender = &writerLink{from: wGUID, reader: r, dropOnce: map[guid.SequenceNumber]bool{3: true, 7: true}}
	r.cfg.Sender = &readerLink{from: rGUID, writer: w}

	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	r.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true})

	for i := 1; i <= 10; i++ {
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}

	// samples 3 and 7 never reached the reader; a heartbeat is what
	// gives it the range needed to notice the gap and NACK it. The
	// ACKNACK/retransmit chain below resolves synchronously because
	// both NackResponseDelay and HeartbeatResponseDelay are zero.
	w.Heartbeat()

	received := r.Take()
	require.Len(t, received, 10)
	sortBySequenceNumber(received)
	for i, c := range received {
		require.Equal(t, byte(i+1), c.SerializedPayload[0])
	}
}

// sortBySequenceNumber orders changes by sequence number; retransmitted
// changes reach a reader in whatever order the writer's requested-seq
// set iterates in, not necessarily the order they were written.
func sortBySequenceNumber(changes []*history.CacheChange) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].SequenceNumber < changes[j].SequenceNumber
	})
}

func TestDurableLateJoinerReceivesFullHistoryOnMatch(t *testing.T) {
	wGUID, rGUID := testGUID(1), testGUID(2)

	writerPolicies := reliablePolicies()
	writerPolicies.Durability = qos.TransientLocal
	writerPolicies.History = qos.History{Kind: qos.KeepLast, Depth: 10}

	readerPolicies := reliablePolicies()
	readerPolicies.Durability = qos.TransientLocal

	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: writerPolicies, Sender: &fakeSender{}, Log: testLog()})
	for i := 1; i <= 10; i++ {
		// No reader is matched yet: these sends are no-ops at the
		// transport layer (matchedLocatorsLocked is empty) but the
		// changes stay in history for the later joiner.
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}

	r := NewStatefulReader(StatefulReaderConfig{GUID: rGUID, Policies: readerPolicies, Log: testLog()})
	w.cfg.Sender = &writerLink{from: wGUID, reader: r}
	r.cfg.Sender = &readerLink{from: rGUID, writer: w}

	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Reliable: true, Durability: qos.TransientLocal, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	r.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true, Durability: qos.TransientLocal})

	state, ok := r.ProxyState(wGUID)
	require.True(t, ok)
	require.Equal(t, ProxyAliveWaiting, state)

	w.Heartbeat()

	received := r.Take()
	require.Len(t, received, 10)
	sortBySequenceNumber(received)
	for i, c := range received {
		require.Equal(t, byte(i+1), c.SerializedPayload[0])
	}
}

func TestUnmatchThenRematchUnderSameGUIDDeliversOnlyPostRematchSamples(t *testing.T) {
	wGUID, rGUID := testGUID(1), testGUID(2)
	policies := reliablePolicies()

	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: policies, Log: testLog()})
	r := NewStatefulReader(StatefulReaderConfig{GUID: rGUID, Policies: policies, Log: testLog()})
	w.cfg.Sender = &writerLink{from: wGUID, reader: r}
	r.cfg.Sender = &readerLink{from: rGUID, writer: w}

	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	r.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true})

	for i := 1; i <= 5; i++ {
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}
	require.Len(t, r.Take(), 5)

	// the remote participant restarts: its writer/reader go away and
	// come back with the same GUID (a fresh process reusing the same
	// guid prefix), so both sides unmatch and rematch that exact GUID.
	w.UnmatchReader(rGUID)
	r.UnmatchWriter(wGUID)
	require.Empty(t, w.MatchedPeers())
	require.Empty(t, r.MatchedPeers())

	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	r.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true})

	for i := 6; i <= 10; i++ {
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}

	received := r.Take()
	require.Len(t, received, 5)
	for i, c := range received {
		require.Equal(t, byte(i+6), c.SerializedPayload[0])
	}
}

func TestInconsistentAckNackIsLoggedAndLeavesProxyStateUntouched(t *testing.T) {
	wGUID, rGUID := testGUID(1), testGUID(2)
	policies := reliablePolicies()

	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: policies, Sender: &fakeSender{}, Log: testLog()})
	w.MatchReader(ReaderWriterMatch{GUID: rGUID, Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})

	for i := 1; i <= 3; i++ {
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}
	require.Equal(t, guid.SequenceNumber(3), w.history.LastSequenceNumber())

	// base = last_sent + 5, far beyond anything this writer ever sent
	// (spec.md §8 scenario 4).
	w.HandleAckNack(rGUID, &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(9), Count: 1})

	h, ok := w.proxies.lookupGUID(rGUID)
	require.True(t, ok)
	p, _ := w.proxies.get(h)
	require.Equal(t, guid.SequenceNumber(0), p.AckedUpTo())
	require.Empty(t, p.RequestedSeqs())
}

// fanoutSender delivers DATA to whichever reader a destination locator
// names, simulating two independently addressed unicast flows out of
// one writer rather than a single shared multicast destination.
type fanoutSender struct {
	from  guid.GUID
	byLoc map[locator.Locator]*StatefulReader
}

func (f *fanoutSender) Send(_ context.Context, buf []byte, dests []locator.Locator, _ time.Time) bool {
	msg, err := wire.Decode(buf)
	if err != nil {
		return false
	}
	for _, d := range dests {
		reader, ok := f.byLoc[d]
		if !ok {
			continue
		}
		for _, sm := range msg.Submessages {
			if data, ok := sm.(*wire.Data); ok {
				reader.HandleData(f.from, data)
			}
		}
	}
	return true
}

func TestStatefulWriterKeepsEachReaderProxysLocatorFlowIsolated(t *testing.T) {
	wGUID := testGUID(1)
	rAGUID, rBGUID := testGUID(2), testGUID(3)
	locA := locator.NewUDPv4(net.IPv4(10, 0, 0, 1), 7410)
	locB := locator.NewUDPv4(net.IPv4(10, 0, 0, 2), 7411)

	policies := reliablePolicies()
	rA := NewStatefulReader(StatefulReaderConfig{GUID: rAGUID, Policies: policies, Sender: &fakeSender{}, Log: testLog()})
	rB := NewStatefulReader(StatefulReaderConfig{GUID: rBGUID, Policies: policies, Sender: &fakeSender{}, Log: testLog()})
	rA.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true})
	rB.MatchWriter(ReaderWriterMatch{GUID: wGUID, Reliable: true})

	dests := &destCapturingSender{}
	w := NewStatefulWriter(StatefulWriterConfig{GUID: wGUID, Policies: policies, Log: testLog()})
	w.cfg.Sender = multiSender{
		dests,
		&fanoutSender{from: wGUID, byLoc: map[locator.Locator]*StatefulReader{locA: rA, locB: rB}},
	}

	w.MatchReader(ReaderWriterMatch{GUID: rAGUID, Reliable: true, Locators: []locator.Locator{locA}})
	w.MatchReader(ReaderWriterMatch{GUID: rBGUID, Reliable: true, Locators: []locator.Locator{locB}})

	for i := 1; i <= 10; i++ {
		_, err := w.Write(context.Background(), []byte{byte(i)}, history.Alive, history.InstanceHandle{})
		require.NoError(t, err)
	}

	require.Len(t, rA.Take(), 10)
	require.Len(t, rB.Take(), 10)

	// each send names both readers' own locators once; neither proxy's
	// locator ever leaks into a send meant for a single other proxy.
	for _, call := range dests.calls {
		require.ElementsMatch(t, []locator.Locator{locA, locB}, call)
	}
}

// destCapturingSender records the destination list of every Send call
// without otherwise delivering anything.
type destCapturingSender struct {
	mu    sync.Mutex
	calls [][]locator.Locator
}

func (d *destCapturingSender) Send(_ context.Context, _ []byte, dests []locator.Locator, _ time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]locator.Locator(nil), dests...))
	return true
}

// multiSender fans one Send call out to every sender in the slice,
// letting a test both record and actually deliver a single send.
type multiSender []Sender

func (m multiSender) Send(ctx context.Context, buf []byte, dests []locator.Locator, t time.Time) bool {
	ok := true
	for _, s := range m {
		if !s.Send(ctx, buf, dests, t) {
			ok = false
		}
	}
	return ok
}
