package rtps

import (
	"context"
	"sync"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
)

// StatelessWriterConfig bundles the construction-time attributes of a
// StatelessWriter.
type StatelessWriterConfig struct {
	GUID     guid.GUID
	Policies qos.Policies
	Sender   Sender
	Listener Listener
	Log      *logrus.Entry
}

// StatelessWriter fires DATA at a fixed reader-locator list with no
// per-reader ack tracking: best-effort only (spec.md §4.4's
// "BEST_EFFORT readers never receive HEARTBEAT and never send
// ACKNACK"). Used for SPDP, where matching itself has not happened
// yet.
type StatelessWriter struct {
	mu       sync.Mutex
	cfg      StatelessWriterConfig
	history  *history.WriterHistory
	readers  []guid.GUID
	locators []locator.Locator
	log      *logrus.Entry
}

// NewStatelessWriter constructs a StatelessWriter and the WriterHistory
// behind it. Best-effort writers have no ack gate, so history never
// blocks RemoveChange on acknowledgement.
func NewStatelessWriter(cfg StatelessWriterConfig) *StatelessWriter {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "stateless-writer", "guid": cfg.GUID.String()})
	h := history.NewWriterHistory(cfg.Policies, nil, nil)
	return &StatelessWriter{cfg: cfg, history: h, log: log}
}

// History returns the WriterHistory backing this writer.
func (w *StatelessWriter) History() *history.WriterHistory { return w.history }

func (w *StatelessWriter) GUID() guid.GUID        { return w.cfg.GUID }
func (w *StatelessWriter) Policies() qos.Policies { return w.cfg.Policies }
func (w *StatelessWriter) Kind() Kind             { return Stateless }

func (w *StatelessWriter) MatchedPeers() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]guid.GUID(nil), w.readers...)
}

// AddReaderLocator registers a fixed destination, bypassing discovery
// matching entirely (spec.md §4.6's SPDP bootstrap use case).
func (w *StatelessWriter) AddReaderLocator(peer guid.GUID, locs []locator.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, g := range w.readers {
		if g == peer {
			return
		}
	}
	w.readers = append(w.readers, peer)
	w.locators = append(w.locators, locs...)
}

// RemoveReaderLocator drops peer from the destination list.
func (w *StatelessWriter) RemoveReaderLocator(peer guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, g := range w.readers {
		if g == peer {
			w.readers = append(w.readers[:i], w.readers[i+1:]...)
			w.log.WithField("reader", peer.String()).Debug("removed reader locator")
			break
		}
	}
}

// Write reserves a CacheChange, adds it to history, and unconditionally
// broadcasts it to every registered reader locator; there is no
// retransmission path.
func (w *StatelessWriter) Write(payload []byte, kind history.ChangeKind, instance history.InstanceHandle) (guid.SequenceNumber, error) {
	c, err := w.history.ReserveChange(len(payload))
	if err != nil {
		return 0, err
	}
	c.Kind = kind
	c.InstanceHandle = instance
	c.SerializedPayload = append(c.SerializedPayload[:0], payload...)
	if err := w.history.AddChange(c, history.WriteParams{}); err != nil {
		return 0, err
	}

	w.mu.Lock()
	dests := append([]locator.Locator(nil), w.locators...)
	w.mu.Unlock()
	if len(dests) == 0 {
		return c.SequenceNumber, nil
	}

	msg := wire.Message{
		Header: wire.Header{Version: wire.ProtocolVersion2_3, Vendor: wire.VendorIdThisImplementation, GuidPrefix: c.WriterGUID.Prefix},
		Submessages: []wire.Submessage{
			&wire.Data{
				LittleEndian:      true,
				KeyOnly:           kind != history.Alive,
				ReaderID:          guid.EntityIdUnknown,
				WriterID:          c.WriterGUID.Entity,
				WriterSN:          c.SequenceNumber,
				SerializedPayload: c.SerializedPayload,
			},
		},
	}
	w.cfg.Sender.Send(context.Background(), msg.Encode(), dests, time.Time{})
	return c.SequenceNumber, nil
}

var _ Endpoint = (*StatelessWriter)(nil)
