// Package pdp implements the Participant Discovery Protocol of
// spec.md §4.6: a built-in SPDP writer/reader pair per participant
// that announces and learns participant proxy data, tracks lease
// timers, and cascades removal on lease expiry or explicit dispose.
package pdp

import (
	"context"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"
	clockwheel "github.com/go-rtps/rtps/internal/clock"

	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/discovery/pdp/serverstore"
	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/pkg/metrics"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtps"
	"github.com/go-rtps/rtps/wire"
	"github.com/sirupsen/logrus"
)

// Listener notifies a participant's owner of discovery events.
type Listener struct {
	OnDiscovered func(discovery.ParticipantProxyData)
	OnLost       func(guid.GuidPrefix)
}

func (l Listener) notifyDiscovered(p discovery.ParticipantProxyData) {
	if l.OnDiscovered != nil {
		l.OnDiscovered(p)
	}
}

func (l Listener) notifyLost(prefix guid.GuidPrefix) {
	if l.OnLost != nil {
		l.OnLost(prefix)
	}
}

// Config bundles a PDP instance's construction-time attributes.
type Config struct {
	Local              discovery.ParticipantProxyData
	Mode               Mode
	Sender             rtps.Sender
	MulticastLocators  locator.List
	ServerLocators     locator.List // used to address servers directly in Client mode
	AnnouncementPeriod time.Duration
	LeaseDuration      time.Duration
	Store              *serverstore.Store
	Listener           Listener
	Log                *logrus.Entry
	Clock              benclock.Clock // optional, defaults to the real wall clock; tests inject *benclock.Mock
	Metrics            *metrics.Set
}

// PDP runs one participant's SPDP writer/reader pair and maintains the
// table of discovered remote participants.
type PDP struct {
	mu     sync.Mutex
	cfg    Config
	writer *rtps.StatelessWriter
	reader *rtps.StatelessReader
	wheel  *clockwheel.Wheel
	peers  map[guid.GuidPrefix]discovery.ParticipantProxyData
	log    *logrus.Entry
}

// New constructs a PDP engine and its backing SPDP stateless writer
// and reader.
func New(cfg Config) *PDP {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "pdp", "mode": cfg.Mode.String()})

	writerGUID := guid.GUID{Prefix: cfg.Local.GUID.Prefix, Entity: guid.EntityIdSPDPWriter}
	readerGUID := guid.GUID{Prefix: cfg.Local.GUID.Prefix, Entity: guid.EntityIdSPDPReader}

	wheel := clockwheel.New()
	if cfg.Clock != nil {
		wheel = clockwheel.NewWithClock(cfg.Clock)
	}
	p := &PDP{
		cfg:    cfg,
		writer: rtps.NewStatelessWriter(rtps.StatelessWriterConfig{GUID: writerGUID, Policies: qos.Default(), Sender: cfg.Sender, Log: log}),
		reader: rtps.NewStatelessReader(rtps.StatelessReaderConfig{GUID: readerGUID, Policies: qos.Default(), Log: log}),
		wheel:  wheel,
		peers:  make(map[guid.GuidPrefix]discovery.ParticipantProxyData),
		log:    log,
	}

	switch cfg.Mode {
	case Client:
		for i, l := range cfg.ServerLocators {
			server := guid.GUID{Entity: guid.EntityIdSPDPReader}
			server.Prefix[0] = byte(i + 1) // distinct placeholder identity per configured server
			p.writer.AddReaderLocator(server, []locator.Locator{l})
		}
	default:
		p.writer.AddReaderLocator(guid.GUID{Entity: guid.EntityIdSPDPReader}, cfg.MulticastLocators)
	}
	return p
}

// Start announces the local participant periodically until ctx is
// cancelled.
func (p *PDP) Start(ctx context.Context) {
	p.announce()
	ticker := p.wheel.Ticker(p.cfg.AnnouncementPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.announce()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *PDP) announce() {
	if _, err := p.writer.Write(p.cfg.Local.Encode(), history.Alive, history.InstanceHandle{}); err != nil {
		p.log.WithError(err).Warn("failed to announce local participant")
	}
}

// Dispose announces local shutdown with the dispose flag set, so peers
// remove this participant immediately rather than waiting for lease
// expiry (spec.md §4.6 "DATA(p[UD])").
func (p *PDP) Dispose() {
	local := p.cfg.Local
	local.Disposed = true
	if _, err := p.writer.Write(local.Encode(), history.NotAliveDisposed, history.InstanceHandle{}); err != nil {
		p.log.WithError(err).Warn("failed to announce dispose")
	}
}

// OnReceiveData feeds a received DATA submessage from the SPDP writer
// into the reader and processes every resulting change.
func (p *PDP) OnReceiveData(writer guid.GUID, d *wire.Data) {
	p.reader.HandleData(writer, d)
	for _, c := range p.reader.Take() {
		proxy, err := discovery.DecodeParticipantProxyData(c.SerializedPayload)
		if err != nil {
			p.log.WithError(err).Warn("failed to decode SPDP data")
			continue
		}
		if proxy.Disposed || c.Kind != history.Alive {
			p.remove(proxy.GUID.Prefix)
			continue
		}
		p.upsert(proxy)
	}
}

func (p *PDP) upsert(proxy discovery.ParticipantProxyData) {
	p.mu.Lock()
	_, known := p.peers[proxy.GUID.Prefix]
	p.peers[proxy.GUID.Prefix] = proxy
	lease := proxy.LeaseDuration
	if lease <= 0 {
		lease = p.cfg.LeaseDuration
	}
	p.mu.Unlock()

	prefix := proxy.GUID.Prefix
	p.wheel.Schedule(leaseKey(prefix), lease, func() { p.expire(prefix) })

	if p.cfg.Store != nil {
		if err := p.cfg.Store.Put(proxy); err != nil {
			p.log.WithError(err).Warn("failed to persist participant proxy data")
		}
	}
	p.registerAsDestination(proxy)
	p.reannounce(proxy)
	if !known {
		p.log.WithField("participant", proxy.GUID.String()).Info("discovered participant")
		p.cfg.Listener.notifyDiscovered(proxy)
	}
	p.reportDiscoveredCount()
}

func (p *PDP) reportDiscoveredCount() {
	if p.cfg.Metrics == nil {
		return
	}
	p.mu.Lock()
	n := len(p.peers)
	p.mu.Unlock()
	p.cfg.Metrics.DiscoveredParticipants.Set(float64(n))
}

func (p *PDP) expire(prefix guid.GuidPrefix) {
	p.log.WithField("participant", prefix.String()).Warn("participant lease expired")
	p.remove(prefix)
}

func (p *PDP) remove(prefix guid.GuidPrefix) {
	p.mu.Lock()
	_, existed := p.peers[prefix]
	delete(p.peers, prefix)
	p.mu.Unlock()
	p.wheel.Cancel(leaseKey(prefix))
	if p.cfg.Store != nil {
		if err := p.cfg.Store.Delete(prefix); err != nil {
			p.log.WithError(err).Warn("failed to delete persisted participant")
		}
	}
	if existed {
		p.cfg.Listener.notifyLost(prefix)
	}
	p.reportDiscoveredCount()
}

// Peers returns every currently known remote participant.
func (p *PDP) Peers() []discovery.ParticipantProxyData {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]discovery.ParticipantProxyData, 0, len(p.peers))
	for _, proxy := range p.peers {
		out = append(out, proxy)
	}
	return out
}

// Peer looks up a single known remote participant by its GUID prefix.
func (p *PDP) Peer(prefix guid.GuidPrefix) (discovery.ParticipantProxyData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proxy, ok := p.peers[prefix]
	return proxy, ok
}

func leaseKey(prefix guid.GuidPrefix) string { return "lease:" + prefix.String() }
