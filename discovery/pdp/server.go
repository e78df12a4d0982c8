package pdp

import (
	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/history"
)

// registerAsDestination adds proxy's metatraffic unicast locators to
// the SPDP writer's destination list, so a server or backup server
// can re-announce to every client it has learned about (spec.md §4.6
// "servers re-announce aggregated information to their clients").
// A no-op outside SERVER/BACKUP mode.
func (p *PDP) registerAsDestination(proxy discovery.ParticipantProxyData) {
	if !p.cfg.Mode.IsServer() {
		return
	}
	if len(proxy.MetatrafficUnicastLocators) == 0 {
		return
	}
	p.writer.AddReaderLocator(proxy.GUID, proxy.MetatrafficUnicastLocators)
}

// reannounce re-broadcasts proxy's discovery data to every registered
// destination, implementing the server's aggregation role. A no-op
// outside SERVER/BACKUP mode, and for the server's own local data
// (already covered by the periodic Start announce loop).
func (p *PDP) reannounce(proxy discovery.ParticipantProxyData) {
	if !p.cfg.Mode.IsServer() || proxy.GUID.Prefix == p.cfg.Local.GUID.Prefix {
		return
	}
	if _, err := p.writer.Write(proxy.Encode(), history.Alive, history.InstanceHandle{}); err != nil {
		p.log.WithError(err).Warn("failed to reannounce participant")
	}
}
