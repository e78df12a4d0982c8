package participant

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/go-rtps/rtps/rtps"
)

// Publisher groups a set of data writers created under one
// Participant (spec.md §4.8). Deleting a publisher that still owns
// writers is refused.
type Publisher struct {
	mu      sync.Mutex
	p       *Participant
	writers map[*rtps.StatefulWriter]struct{}
}

// CreatePublisher constructs a Publisher under p.
func (p *Participant) CreatePublisher() *Publisher {
	pub := &Publisher{p: p, writers: make(map[*rtps.StatefulWriter]struct{})}
	p.addPublisher(pub)
	return pub
}

// DataWriterAttributes bundles a data writer's per-topic construction
// parameters; zero-value fields fall back to the participant's
// default writer QoS.
type DataWriterAttributes struct {
	TopicName   string
	TypeName    string
	Policies    *qos.Policies
	PublishMode rtps.PublishMode
}

// CreateDataWriter allocates a fresh entity id, constructs a
// StatefulWriter, registers it for receive dispatch, and announces it
// over SEDP (spec.md §4.7's publications announcer, §4.8's entity id
// allocation).
func (pub *Publisher) CreateDataWriter(attrs DataWriterAttributes) (*rtps.StatefulWriter, error) {
	if attrs.TopicName == "" || attrs.TypeName == "" {
		return nil, rtpserr.New(rtpserr.InvalidArgument, "publisher: topic and type name are required")
	}
	policies := pub.p.attrs.DefaultWriterQoS
	if attrs.Policies != nil {
		policies = *attrs.Policies
	}

	id := pub.p.nextEntityId(guid.PoolUserWriter, guid.KindUserWriterWithKey)
	wGUID := guid.GUID{Prefix: pub.p.guid.Prefix, Entity: id}

	w := rtps.NewStatefulWriter(rtps.StatefulWriterConfig{
		GUID:        wGUID,
		Policies:    policies,
		Sender:      pub.p.attrs.Sender,
		PublishMode: attrs.PublishMode,
		Log:         pub.p.log,
		Metrics:     pub.p.attrs.Metrics,
		Clock:       pub.p.attrs.Clock,
	})

	pub.p.registerWriter(id, w)
	pub.mu.Lock()
	pub.writers[w] = struct{}{}
	pub.mu.Unlock()

	pub.p.edp.AnnounceWriter(discovery.EndpointProxyData{
		GUID:        wGUID,
		TopicName:   attrs.TopicName,
		TypeName:    attrs.TypeName,
		Reliability: policies.Reliability,
		Durability:  policies.Durability,
		Partitions:  policies.Partitions,
	})
	return w, nil
}

// DeleteDataWriter withdraws w from discovery, removes it from
// dispatch, and closes its async send queue (if any).
func (pub *Publisher) DeleteDataWriter(w *rtps.StatefulWriter) error {
	pub.mu.Lock()
	_, owned := pub.writers[w]
	delete(pub.writers, w)
	pub.mu.Unlock()
	if !owned {
		return rtpserr.New(rtpserr.InvalidArgument, "publisher: writer not owned by this publisher")
	}
	pub.p.edp.WithdrawWriter(w.GUID())
	pub.p.unregisterWriter(w.GUID().Entity)
	return w.Close()
}

// Close deletes the publisher, refusing while it still owns writers
// (spec.md §4.8 "forbids destroying a publisher ... that still owns
// writers").
func (pub *Publisher) Close() error {
	pub.mu.Lock()
	n := len(pub.writers)
	pub.mu.Unlock()
	if n > 0 {
		return rtpserr.New(rtpserr.PreconditionNotMet, "publisher: %d writers still owned", n)
	}
	pub.p.removePublisher(pub)
	return nil
}

// forceClose is used by Participant.Close to tear down every owned
// writer regardless of the normal "no owned writers" precondition,
// aggregating any per-writer teardown failures into a single error
// (spec.md §4.8's "destroys contained entities ... in the correct
// order", which must still report every failure, not just the first).
func (pub *Publisher) forceClose() error {
	pub.mu.Lock()
	writers := make([]*rtps.StatefulWriter, 0, len(pub.writers))
	for w := range pub.writers {
		writers = append(writers, w)
	}
	pub.mu.Unlock()
	var err error
	for _, w := range writers {
		err = multierr.Append(err, pub.DeleteDataWriter(w))
	}
	pub.p.removePublisher(pub)
	return err
}
