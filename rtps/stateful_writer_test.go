package rtps

import (
	"context"
	"testing"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func reliablePolicies() qos.Policies {
	p := qos.Default()
	p.Reliability = qos.Reliable
	p.History = qos.History{Kind: qos.KeepAll}
	return p
}

func newTestStatefulWriter(t *testing.T, sender Sender) *StatefulWriter {
	t.Helper()
	return NewStatefulWriter(StatefulWriterConfig{
		GUID:     testGUID(1),
		Policies: reliablePolicies(),
		Sender:   sender,
		Log:      testLog(),
	})
}

func TestStatefulWriterWriteDeliversToMatchedReader(t *testing.T) {
	s := &fakeSender{}
	w := newTestStatefulWriter(t, s)
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})

	seq, err := w.Write(context.Background(), []byte("payload"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err)
	require.Equal(t, int64(1), int64(seq))
	require.Equal(t, 1, s.count())
}

func TestStatefulWriterMatchReaderIsIdempotentAndNotifies(t *testing.T) {
	w := newTestStatefulWriter(t, &fakeSender{})
	var matched int
	w.cfg.Listener = Listener{OnMatched: func(guid.GUID) { matched++ }}
	m := ReaderWriterMatch{GUID: testGUID(2), Reliable: true}
	w.MatchReader(m)
	w.MatchReader(m)
	require.Equal(t, 1, matched)
	require.Len(t, w.MatchedPeers(), 1)
}

func TestStatefulWriterUnmatchThenRematchStartsClean(t *testing.T) {
	w := newTestStatefulWriter(t, &fakeSender{})
	peer := testGUID(2)
	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true})
	h, _ := w.proxies.lookupGUID(peer)
	p, _ := w.proxies.get(h)
	p.ackedUpTo = 10

	w.UnmatchReader(peer)
	require.Empty(t, w.MatchedPeers())

	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true})
	h2, _ := w.proxies.lookupGUID(peer)
	p2, _ := w.proxies.get(h2)
	require.Equal(t, guid.SequenceNumber(0), p2.AckedUpTo())
}

func TestStatefulWriterIsAckedGatesOnMatchedReliableReaders(t *testing.T) {
	w := newTestStatefulWriter(t, &fakeSender{})
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Reliable: true})
	require.False(t, w.IsAcked(1))

	h, _ := w.proxies.lookupGUID(testGUID(2))
	p, _ := w.proxies.get(h)
	p.applyAckNack(&wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(2), Count: 1})
	require.True(t, w.IsAcked(1))
}

func TestStatefulWriterHandleAckNackRetransmitsRequested(t *testing.T) {
	s := &fakeSender{}
	w := newTestStatefulWriter(t, s)
	peer := testGUID(2)
	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})

	_, err := w.Write(context.Background(), []byte("one"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err)
	require.Equal(t, 1, s.count())

	set := wire.NewSequenceNumberSet(1)
	set.Add(1)
	w.HandleAckNack(peer, &wire.AckNack{ReaderSNState: set, Count: 1})

	require.Eventually(t, func() bool { return s.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStatefulWriterHandleAckNackRejectsBaseAheadOfLastSequenceNumber(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(logrusDiscard{})
	hook := logrustest.NewLocal(logger)

	w := NewStatefulWriter(StatefulWriterConfig{
		GUID:     testGUID(1),
		Policies: reliablePolicies(),
		Sender:   &fakeSender{},
		Log:      logrus.NewEntry(logger),
	})
	peer := testGUID(2)
	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true})

	_, err := w.Write(context.Background(), []byte("one"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err)
	require.Equal(t, guid.SequenceNumber(1), w.history.LastSequenceNumber())

	// base = last_sent + 1 + 5, spec.md §8 scenario 4: far ahead of
	// anything this writer has ever sent.
	w.HandleAckNack(peer, &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(7), Count: 1})

	h, _ := w.proxies.lookupGUID(peer)
	p, _ := w.proxies.get(h)
	require.Equal(t, guid.SequenceNumber(0), p.AckedUpTo(), "proxy state must be untouched by an inconsistent acknack")
	require.Empty(t, p.RequestedSeqs())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Contains(t, entry.Message, "Inconsistent acknack")
}

func TestStatefulWriterHandleAckNackRejectsNonPositiveBase(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(logrusDiscard{})
	hook := logrustest.NewLocal(logger)

	w := NewStatefulWriter(StatefulWriterConfig{
		GUID:     testGUID(1),
		Policies: reliablePolicies(),
		Sender:   &fakeSender{},
		Log:      logrus.NewEntry(logger),
	})
	peer := testGUID(2)
	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true})

	w.HandleAckNack(peer, &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(0), Count: 1})

	h, _ := w.proxies.lookupGUID(peer)
	p, _ := w.proxies.get(h)
	require.Equal(t, guid.SequenceNumber(0), p.AckedUpTo())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Contains(t, entry.Message, "Inconsistent acknack")
}

func TestStatefulWriterHandleAckNackRejectsRegressingBase(t *testing.T) {
	w := newTestStatefulWriter(t, &fakeSender{})
	peer := testGUID(2)
	w.MatchReader(ReaderWriterMatch{GUID: peer, Reliable: true})

	_, err := w.Write(context.Background(), []byte("one"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err)

	w.HandleAckNack(peer, &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(2), Count: 1})
	h, _ := w.proxies.lookupGUID(peer)
	p, _ := w.proxies.get(h)
	require.Equal(t, guid.SequenceNumber(1), p.AckedUpTo())

	// A later ACKNACK whose base would regress the watermark is rejected
	// by applyAckNack itself, base here still satisfies the writer-wide
	// base <= lastSequenceNumber+1 check.
	w.HandleAckNack(peer, &wire.AckNack{ReaderSNState: wire.NewSequenceNumberSet(1), Count: 2})
	require.Equal(t, guid.SequenceNumber(1), p.AckedUpTo())
}

func TestStatefulWriterHeartbeatSuppressedForBestEffort(t *testing.T) {
	s := &fakeSender{}
	policies := qos.Default()
	w := NewStatefulWriter(StatefulWriterConfig{GUID: testGUID(1), Policies: policies, Sender: s, Log: testLog()})
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	w.Heartbeat()
	require.Equal(t, 0, s.count())
}

func TestStatefulWriterHeartbeatSentForReliable(t *testing.T) {
	s := &fakeSender{}
	w := newTestStatefulWriter(t, s)
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})
	w.Heartbeat()
	require.Equal(t, 1, s.count())
}

func TestStatefulWriterAsynchronousPublishModeDeliversEventually(t *testing.T) {
	s := &fakeSender{}
	w := NewStatefulWriter(StatefulWriterConfig{
		GUID:                 testGUID(1),
		Policies:             reliablePolicies(),
		Sender:               s,
		PublishMode:          AsynchronousPublishMode,
		AsyncQueueDepth:      4,
		AsyncMaxBlockingTime: time.Second,
		Log:                  testLog(),
	})
	defer w.Close()
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})

	_, err := w.Write(context.Background(), []byte("async"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)
}

type blockingSender struct{ release chan struct{} }

func (b *blockingSender) Send(_ context.Context, _ []byte, _ []locator.Locator, _ time.Time) bool {
	<-b.release
	return true
}

func TestStatefulWriterAsynchronousPublishModeTimesOutWhenQueueFull(t *testing.T) {
	s := &blockingSender{release: make(chan struct{})}
	defer close(s.release)
	w := NewStatefulWriter(StatefulWriterConfig{
		GUID:                 testGUID(1),
		Policies:             reliablePolicies(),
		Sender:               s,
		PublishMode:          AsynchronousPublishMode,
		AsyncQueueDepth:      1,
		AsyncMaxBlockingTime: 20 * time.Millisecond,
		Log:                  testLog(),
	})
	defer w.Close()
	w.MatchReader(ReaderWriterMatch{GUID: testGUID(2), Reliable: true, Locators: []locator.Locator{locator.NewUDPv4(nil, 7410)}})

	// First write is picked up by the Forward goroutine and blocks
	// inside Send; second fills the depth-1 queue; third must time out.
	_, err1 := w.Write(context.Background(), []byte("one"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err1)
	require.Eventually(t, func() bool { return true }, 10*time.Millisecond, time.Millisecond) // let Forward pick up #1
	_, err2 := w.Write(context.Background(), []byte("two"), history.Alive, history.InstanceHandle{})
	require.NoError(t, err2)
	_, err3 := w.Write(context.Background(), []byte("three"), history.Alive, history.InstanceHandle{})
	require.Error(t, err3)
}
