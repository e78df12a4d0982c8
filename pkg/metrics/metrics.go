// Package metrics registers the Prometheus collectors named in
// SPEC_FULL.md §4.12: matched-endpoint gauges, ACKNACK/GAP/HEARTBEAT
// counters, history depth gauges, and discovery participant/endpoint
// counts.
//
// Grounded on the teacher's controller/api/destination/watcher/
// prometheus.go (a *Vecs struct of promauto-constructed Gauge/
// CounterVecs, one set per watcher) and pkg/prometheus's
// per-component metric naming; generalized from per-namespace/service
// labels to per-topic/writer_guid/reader_guid labels. Unlike the
// teacher (which always registers against the global default
// registry), New accepts an explicit prometheus.Registerer so a
// participant can opt out of metrics entirely: promauto.With(nil)
// constructs working, unregistered collectors, so every call site
// here stays nil-Registerer-safe without its own branching.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every collector this package registers.
type Set struct {
	MatchedEndpoints       *prometheus.GaugeVec
	Heartbeats             *prometheus.CounterVec
	AckNacks               *prometheus.CounterVec
	Gaps                   *prometheus.CounterVec
	HistoryDepth           *prometheus.GaugeVec
	DiscoveredParticipants prometheus.Gauge
	DiscoveredEndpoints    prometheus.Gauge
}

// New constructs and registers a Set against reg. reg may be nil, in
// which case the returned collectors work normally but are not
// exposed on any /metrics endpoint.
func New(reg prometheus.Registerer) *Set {
	f := promauto.With(reg)
	return &Set{
		MatchedEndpoints: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtps_matched_endpoints",
			Help: "Current number of matched reader/writer pairs, by topic.",
		}, []string{"topic"}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtps_heartbeats_sent_total",
			Help: "Total HEARTBEAT submessages sent by a writer.",
		}, []string{"writer_guid"}),
		AckNacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtps_acknacks_received_total",
			Help: "Total ACKNACK submessages received by a writer.",
		}, []string{"writer_guid"}),
		Gaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtps_gaps_sent_total",
			Help: "Total GAP submessages sent by a writer.",
		}, []string{"writer_guid"}),
		HistoryDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtps_history_depth",
			Help: "Current number of changes held in a writer or reader history.",
		}, []string{"guid"}),
		DiscoveredParticipants: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtps_discovered_participants",
			Help: "Current number of peer participants known to PDP.",
		}),
		DiscoveredEndpoints: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtps_discovered_endpoints",
			Help: "Current number of peer endpoints known to EDP.",
		}),
	}
}
