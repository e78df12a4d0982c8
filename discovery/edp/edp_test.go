package edp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeSender) Send(_ context.Context, _ []byte, _ []locator.Locator, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return true
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testEndpointGUID(prefixByte byte, entity guid.EntityId) guid.GUID {
	var g guid.GUID
	g.Prefix[0] = prefixByte
	g.Entity = entity
	return g
}

func newTestEDP(t *testing.T, listener MatchListener) *EDP {
	t.Helper()
	return New(Config{
		ParticipantGUID: testEndpointGUID(1, guid.EntityIdParticipant),
		Sender:          &fakeSender{},
		Listener:        listener,
		Log:             testLog(),
	})
}

func TestEDPLocalAnnounceMatchesOnCompatibleQoS(t *testing.T) {
	var matched []discovery.EndpointProxyData
	e := newTestEDP(t, MatchListener{OnMatched: func(r, w discovery.EndpointProxyData) { matched = append(matched, r, w) }})

	reader := discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType", Reliability: qos.BestEffort}
	writer := discovery.EndpointProxyData{GUID: testEndpointGUID(3, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Square", TypeName: "ShapeType", Reliability: qos.Reliable}

	e.AnnounceReader(reader)
	e.AnnounceWriter(writer)

	require.Len(t, matched, 2)
	require.Equal(t, reader.GUID, matched[0].GUID)
	require.Equal(t, writer.GUID, matched[1].GUID)
}

func TestEDPAnnounceDoesNotMatchOnTopicMismatch(t *testing.T) {
	var matched int
	e := newTestEDP(t, MatchListener{OnMatched: func(discovery.EndpointProxyData, discovery.EndpointProxyData) { matched++ }})

	e.AnnounceReader(discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType"})
	e.AnnounceWriter(discovery.EndpointProxyData{GUID: testEndpointGUID(3, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Circle", TypeName: "ShapeType"})

	require.Equal(t, 0, matched)
}

func TestEDPIncompatibleQoSReported(t *testing.T) {
	var mismatches []qos.MismatchedPolicy
	e := newTestEDP(t, MatchListener{OnIncompatibleQoS: func(_, _ guid.GUID, m []qos.MismatchedPolicy) { mismatches = m }})

	e.AnnounceReader(discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType", Reliability: qos.Reliable})
	e.AnnounceWriter(discovery.EndpointProxyData{GUID: testEndpointGUID(3, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Square", TypeName: "ShapeType", Reliability: qos.BestEffort})

	require.Contains(t, mismatches, qos.PolicyReliability)
}

func TestEDPWithdrawWriterUnmatchesReader(t *testing.T) {
	var unmatched [][2]guid.GUID
	e := newTestEDP(t, MatchListener{OnUnmatched: func(r, w guid.GUID) { unmatched = append(unmatched, [2]guid.GUID{r, w}) }})

	reader := discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	writer := discovery.EndpointProxyData{GUID: testEndpointGUID(3, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	e.AnnounceReader(reader)
	e.AnnounceWriter(writer)

	e.WithdrawWriter(writer.GUID)
	require.Len(t, unmatched, 1)
	require.Equal(t, reader.GUID, unmatched[0][0])
	require.Equal(t, writer.GUID, unmatched[0][1])
}

func TestEDPOnReceivePublicationDataMatchesLocalReader(t *testing.T) {
	var matched int
	e := newTestEDP(t, MatchListener{OnMatched: func(discovery.EndpointProxyData, discovery.EndpointProxyData) { matched++ }})

	reader := discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	e.AnnounceReader(reader)

	remoteWriter := discovery.EndpointProxyData{GUID: testEndpointGUID(9, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	// SEDP data is only accepted from the peer's matched built-in writer.
	sedpWriter := guid.GUID{Prefix: remoteWriter.GUID.Prefix, Entity: guid.EntityIdSEDPPublicationsWriter}
	e.MatchPeerParticipant(sedpWriter, discovery.BuiltinPublicationsAnnouncer, nil)
	e.OnReceivePublicationData(sedpWriter, &wire.Data{WriterSN: 1, SerializedPayload: remoteWriter.Encode()})

	require.Equal(t, 1, matched)
}

func TestEDPDisposeRemoteWriterUnmatches(t *testing.T) {
	var unmatched int
	e := newTestEDP(t, MatchListener{OnUnmatched: func(guid.GUID, guid.GUID) { unmatched++ }})

	reader := discovery.EndpointProxyData{GUID: testEndpointGUID(2, guid.EntityId{0, 0, 1, guid.KindUserReaderWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	e.AnnounceReader(reader)

	remoteWriter := discovery.EndpointProxyData{GUID: testEndpointGUID(9, guid.EntityId{0, 0, 1, guid.KindUserWriterWithKey}), TopicName: "Square", TypeName: "ShapeType"}
	// SEDP data is only accepted from the peer's matched built-in writer.
	sedpWriter := guid.GUID{Prefix: remoteWriter.GUID.Prefix, Entity: guid.EntityIdSEDPPublicationsWriter}
	e.MatchPeerParticipant(sedpWriter, discovery.BuiltinPublicationsAnnouncer, nil)
	e.OnReceivePublicationData(sedpWriter, &wire.Data{WriterSN: 1, SerializedPayload: remoteWriter.Encode()})

	remoteWriter.Disposed = true
	e.OnReceivePublicationData(sedpWriter, &wire.Data{WriterSN: 2, SerializedPayload: remoteWriter.Encode(), KeyOnly: true})

	require.Equal(t, 1, unmatched)
}
