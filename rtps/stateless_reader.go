package rtps

import (
	"sync"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
)

// StatelessReaderConfig bundles the construction-time attributes of a
// StatelessReader.
type StatelessReaderConfig struct {
	GUID     guid.GUID
	Policies qos.Policies
	Listener Listener
	Log      *logrus.Entry
}

// StatelessReader accepts DATA from any writer with no per-writer
// proxy, no gap tracking, and no ACKNACK: best-effort only (spec.md
// §4.5). Used for SPDP, where the peer set is exactly what discovery
// is trying to establish.
type StatelessReader struct {
	mu      sync.Mutex
	cfg     StatelessReaderConfig
	history *history.ReaderHistory
	known   map[guid.GUID]bool
	log     *logrus.Entry
}

// NewStatelessReader constructs a StatelessReader and the ReaderHistory
// behind it.
func NewStatelessReader(cfg StatelessReaderConfig) *StatelessReader {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "stateless-reader", "guid": cfg.GUID.String()})
	h := history.NewReaderHistory(cfg.Policies)
	return &StatelessReader{cfg: cfg, history: h, known: make(map[guid.GUID]bool), log: log}
}

// History returns the ReaderHistory backing this reader.
func (r *StatelessReader) History() *history.ReaderHistory { return r.history }

func (r *StatelessReader) GUID() guid.GUID        { return r.cfg.GUID }
func (r *StatelessReader) Policies() qos.Policies { return r.cfg.Policies }
func (r *StatelessReader) Kind() Kind             { return Stateless }

func (r *StatelessReader) MatchedPeers() []guid.GUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]guid.GUID, 0, len(r.known))
	for g := range r.known {
		out = append(out, g)
	}
	return out
}

// HandleData accepts a DATA submessage from any writer, notifying the
// listener the first time a given writer GUID is observed.
func (r *StatelessReader) HandleData(writer guid.GUID, d *wire.Data) {
	r.mu.Lock()
	firstSeen := !r.known[writer]
	r.known[writer] = true
	r.mu.Unlock()
	if firstSeen {
		r.log.WithField("writer", writer.String()).Debug("first data from unmatched writer")
		r.cfg.Listener.notifyMatched(writer)
	}

	c := &history.CacheChange{
		WriterGUID:        writer,
		SequenceNumber:    d.WriterSN,
		Kind:              history.Alive,
		SerializedPayload: append([]byte(nil), d.SerializedPayload...),
	}
	if d.KeyOnly {
		c.Kind = history.NotAliveDisposed
	}
	r.history.ReceivedChange(c, 0)
}

// Take returns and removes every currently-held change.
func (r *StatelessReader) Take() []*history.CacheChange {
	out := r.history.Take()
	for _, c := range out {
		r.history.RemoveChange(c)
	}
	return out
}

var _ Endpoint = (*StatelessReader)(nil)
