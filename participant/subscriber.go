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

// Subscriber groups a set of data readers created under one
// Participant (spec.md §4.8). Deleting a subscriber that still owns
// readers is refused.
type Subscriber struct {
	mu      sync.Mutex
	p       *Participant
	readers map[*rtps.StatefulReader]struct{}
}

// CreateSubscriber constructs a Subscriber under p.
func (p *Participant) CreateSubscriber() *Subscriber {
	sub := &Subscriber{p: p, readers: make(map[*rtps.StatefulReader]struct{})}
	p.addSubscriber(sub)
	return sub
}

// DataReaderAttributes bundles a data reader's per-topic construction
// parameters; zero-value fields fall back to the participant's
// default reader QoS.
type DataReaderAttributes struct {
	TopicName string
	TypeName  string
	Policies  *qos.Policies
}

// CreateDataReader allocates a fresh entity id, constructs a
// StatefulReader, registers it for receive dispatch, and announces it
// over SEDP (spec.md §4.7's subscriptions announcer, §4.8's entity id
// allocation).
func (sub *Subscriber) CreateDataReader(attrs DataReaderAttributes) (*rtps.StatefulReader, error) {
	if attrs.TopicName == "" || attrs.TypeName == "" {
		return nil, rtpserr.New(rtpserr.InvalidArgument, "subscriber: topic and type name are required")
	}
	policies := sub.p.attrs.DefaultReaderQoS
	if attrs.Policies != nil {
		policies = *attrs.Policies
	}

	id := sub.p.nextEntityId(guid.PoolUserReader, guid.KindUserReaderWithKey)
	rGUID := guid.GUID{Prefix: sub.p.guid.Prefix, Entity: id}

	r := rtps.NewStatefulReader(rtps.StatefulReaderConfig{
		GUID:     rGUID,
		Policies: policies,
		Sender:   sub.p.attrs.Sender,
		Log:      sub.p.log,
		Metrics:  sub.p.attrs.Metrics,
		Clock:    sub.p.attrs.Clock,
	})

	sub.p.registerReader(id, r)
	sub.mu.Lock()
	sub.readers[r] = struct{}{}
	sub.mu.Unlock()

	sub.p.edp.AnnounceReader(discovery.EndpointProxyData{
		GUID:        rGUID,
		TopicName:   attrs.TopicName,
		TypeName:    attrs.TypeName,
		Reliability: policies.Reliability,
		Durability:  policies.Durability,
		Partitions:  policies.Partitions,
	})
	return r, nil
}

// DeleteDataReader withdraws r from discovery and removes it from
// dispatch.
func (sub *Subscriber) DeleteDataReader(r *rtps.StatefulReader) error {
	sub.mu.Lock()
	_, owned := sub.readers[r]
	delete(sub.readers, r)
	sub.mu.Unlock()
	if !owned {
		return rtpserr.New(rtpserr.InvalidArgument, "subscriber: reader not owned by this subscriber")
	}
	sub.p.edp.WithdrawReader(r.GUID())
	sub.p.unregisterReader(r.GUID().Entity)
	return nil
}

// Close deletes the subscriber, refusing while it still owns readers
// (spec.md §4.8).
func (sub *Subscriber) Close() error {
	sub.mu.Lock()
	n := len(sub.readers)
	sub.mu.Unlock()
	if n > 0 {
		return rtpserr.New(rtpserr.PreconditionNotMet, "subscriber: %d readers still owned", n)
	}
	sub.p.removeSubscriber(sub)
	return nil
}

// forceClose is used by Participant.Close to tear down every owned
// reader regardless of the normal "no owned readers" precondition,
// aggregating any per-reader teardown failures into a single error.
func (sub *Subscriber) forceClose() error {
	sub.mu.Lock()
	readers := make([]*rtps.StatefulReader, 0, len(sub.readers))
	for r := range sub.readers {
		readers = append(readers, r)
	}
	sub.mu.Unlock()
	var err error
	for _, r := range readers {
		err = multierr.Append(err, sub.DeleteDataReader(r))
	}
	sub.p.removeSubscriber(sub)
	return err
}
