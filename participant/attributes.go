package participant

import (
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/go-rtps/rtps/discovery/pdp"
	"github.com/go-rtps/rtps/discovery/pdp/serverstore"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/pkg/metrics"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtps"
)

// Attributes bundles a Participant's construction-time configuration
// (spec.md §4.8). Zero-value fields fall back to the defaults
// DefaultAttributes returns.
type Attributes struct {
	DomainId int
	Mode     pdp.Mode

	DefaultUnicastLocators       locator.List
	MetatrafficUnicastLocators   locator.List
	MetatrafficMulticastLocators locator.List
	ServerLocators               locator.List

	AnnouncementPeriod time.Duration
	LeaseDuration      time.Duration

	Store *serverstore.Store
	Sender rtps.Sender

	DefaultWriterQoS qos.Policies
	DefaultReaderQoS qos.Policies

	Log     *logrus.Entry
	Clock   benclock.Clock
	Metrics *metrics.Set
}

// DefaultAttributes returns the baseline configuration: SIMPLE mode,
// a 3s SPDP announcement period and 20s lease duration (the OMG
// RTPS-recommended defaults), best-effort default QoS.
func DefaultAttributes() Attributes {
	return Attributes{
		Mode:               pdp.Simple,
		AnnouncementPeriod: 3 * time.Second,
		LeaseDuration:      20 * time.Second,
		DefaultWriterQoS:   qos.Default(),
		DefaultReaderQoS:   qos.Default(),
	}
}
