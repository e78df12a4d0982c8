// Package qos implements the Quality-of-Service policy structs and
// the compatibility table of spec.md §4.7, plus the immutability and
// internal-consistency checks of spec.md §7.
//
// Grounded on the teacher's QoS-adjacent "policy struct with explicit
// field-by-field compatibility checks" idiom used for traffic-split
// and server-authorization matching in
// controller/api/destination/watcher/traffic_split_watcher.go and
// opaque_ports_watcher.go (small, explicit predicate functions rather
// than a generic rules engine).
package qos

import (
	"time"

	"github.com/go-rtps/rtps/rtpserr"
)

// Reliability kinds; lower value is "weaker" per spec.md §4.7 table.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// Durability kinds, ordered weakest to strongest.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// Ownership kinds.
type OwnershipKind int

const (
	SharedOwnership OwnershipKind = iota
	ExclusiveOwnership
)

// Liveliness kinds, ordered weakest to strongest.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// DestinationOrderKind controls cross-writer delivery order at the reader.
type DestinationOrderKind int

const (
	ByReceptionTimestamp DestinationOrderKind = iota
	BySourceTimestamp
)

// PresentationAccessScope controls grouped-change visibility.
type PresentationAccessScope int

const (
	InstanceScope PresentationAccessScope = iota
	TopicScope
	GroupScope
)

// HistoryKind selects the writer/reader history retention strategy.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// PoolStrategy selects the writer-history change-pool allocation
// strategy (spec.md §4.3).
type PoolStrategy int

const (
	PreallocatedWithRealloc PoolStrategy = iota
	Dynamic
	Preallocated
)

// Liveliness holds the kind plus the lease duration used in the
// compatibility rule (reader.lease >= writer.lease).
type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration time.Duration
}

// Deadline is the maximum expected inter-arrival period for a topic instance.
type Deadline struct {
	Period time.Duration
}

// LatencyBudget bounds acceptable end-to-end latency; larger means more tolerant.
type LatencyBudget struct {
	Duration time.Duration
}

// Presentation controls grouped-change ordering/visibility.
type Presentation struct {
	AccessScope     PresentationAccessScope
	CoherentAccess  bool
	OrderedAccess   bool
}

// History bounds how many samples per instance (KeepLast) or in total
// (KeepAll) a writer/reader history retains.
type History struct {
	Kind  HistoryKind
	Depth int // meaningful for KeepLast only
}

// ResourceLimits bounds pool/history sizing (spec.md §6 "allocation").
type ResourceLimits struct {
	MaxSamples        int
	MaxInstances       int
	MaxSamplesPerInstance int
}

// Policies is the full QoS bundle carried by an endpoint (spec.md §3
// "Reader/Writer proxy data ... QoS summary").
type Policies struct {
	Reliability       ReliabilityKind
	Durability        DurabilityKind
	Ownership         OwnershipKind
	Liveliness        Liveliness
	Deadline          Deadline
	LatencyBudget     LatencyBudget
	DestinationOrder  DestinationOrderKind
	Presentation      Presentation
	History           History
	ResourceLimits    ResourceLimits
	Partitions        []string
	PoolStrategy      PoolStrategy
}

// Default returns the spec's baseline QoS: best-effort, volatile,
// shared ownership, keep-last depth 1 — the DDS default profile.
func Default() Policies {
	return Policies{
		Reliability:      BestEffort,
		Durability:       Volatile,
		Ownership:        SharedOwnership,
		Liveliness:       Liveliness{Kind: Automatic, LeaseDuration: 0},
		DestinationOrder: ByReceptionTimestamp,
		History:          History{Kind: KeepLast, Depth: 1},
		ResourceLimits:   ResourceLimits{MaxSamples: -1, MaxInstances: -1, MaxSamplesPerInstance: -1},
		PoolStrategy:     PreallocatedWithRealloc,
	}
}

// ApplyDefaults fills any zero-valued field of p from def, implementing
// the "apply participant defaults to entities that do not override"
// rule of spec.md §4.8. Only the handful of fields that have a
// meaningful "unset" sentinel are considered; QoS has no generic
// notion of "absent" so this is deliberately explicit rather than a
// reflection-based deep merge (see DESIGN.md).
func ApplyDefaults(p, def Policies) Policies {
	out := p
	if out.Liveliness.LeaseDuration == 0 {
		out.Liveliness.LeaseDuration = def.Liveliness.LeaseDuration
	}
	if out.History.Depth == 0 {
		out.History.Depth = def.History.Depth
	}
	if out.ResourceLimits.MaxSamples == 0 {
		out.ResourceLimits = def.ResourceLimits
	}
	if len(out.Partitions) == 0 {
		out.Partitions = def.Partitions
	}
	return out
}

// Validate checks internal consistency (spec.md §7 InconsistentPolicy):
// KEEP_LAST with a depth of zero or less, and a KEEP_LAST depth above a
// positive max_samples_per_instance. Resource limits are not otherwise
// checked.
func Validate(p Policies) error {
	if p.History.Kind == KeepLast && p.History.Depth <= 0 {
		return rtpserr.New(rtpserr.InconsistentPolicy, "KEEP_LAST history requires depth > 0, got %d", p.History.Depth)
	}
	if p.ResourceLimits.MaxSamplesPerInstance > 0 && p.History.Kind == KeepLast &&
		p.History.Depth > p.ResourceLimits.MaxSamplesPerInstance {
		return rtpserr.New(rtpserr.InconsistentPolicy,
			"history depth %d exceeds max_samples_per_instance %d", p.History.Depth, p.ResourceLimits.MaxSamplesPerInstance)
	}
	return nil
}

// MismatchedPolicy names a single policy id that failed compatibility,
// for the listener notification of spec.md §4.7 ("reports the
// mismatched policy id to the listener").
type MismatchedPolicy int

const (
	PolicyReliability MismatchedPolicy = iota
	PolicyDurability
	PolicyOwnership
	PolicyLiveliness
	PolicyDeadline
	PolicyLatencyBudget
	PolicyDestinationOrder
	PolicyPresentation
)

func (m MismatchedPolicy) String() string {
	switch m {
	case PolicyReliability:
		return "RELIABILITY"
	case PolicyDurability:
		return "DURABILITY"
	case PolicyOwnership:
		return "OWNERSHIP"
	case PolicyLiveliness:
		return "LIVELINESS"
	case PolicyDeadline:
		return "DEADLINE"
	case PolicyLatencyBudget:
		return "LATENCY_BUDGET"
	case PolicyDestinationOrder:
		return "DESTINATION_ORDER"
	case PolicyPresentation:
		return "PRESENTATION"
	default:
		return "UNKNOWN"
	}
}

// Compatible implements the requester(reader)/offerer(writer)
// compatibility table of spec.md §4.7. It returns the list of
// mismatched policy ids (empty slice means compatible).
func Compatible(reader, writer Policies) []MismatchedPolicy {
	var mismatches []MismatchedPolicy

	if reader.Reliability > writer.Reliability {
		mismatches = append(mismatches, PolicyReliability)
	}
	if reader.Durability > writer.Durability {
		mismatches = append(mismatches, PolicyDurability)
	}
	if reader.Ownership != writer.Ownership {
		mismatches = append(mismatches, PolicyOwnership)
	}
	if reader.Liveliness.Kind > writer.Liveliness.Kind || reader.Liveliness.LeaseDuration < writer.Liveliness.LeaseDuration {
		mismatches = append(mismatches, PolicyLiveliness)
	}
	if writer.Deadline.Period != 0 && reader.Deadline.Period != 0 && reader.Deadline.Period < writer.Deadline.Period {
		mismatches = append(mismatches, PolicyDeadline)
	}
	if reader.LatencyBudget.Duration < writer.LatencyBudget.Duration {
		mismatches = append(mismatches, PolicyLatencyBudget)
	}
	if reader.DestinationOrder > writer.DestinationOrder {
		mismatches = append(mismatches, PolicyDestinationOrder)
	}
	if reader.Presentation.AccessScope > writer.Presentation.AccessScope {
		mismatches = append(mismatches, PolicyPresentation)
	}
	return mismatches
}

// PartitionsMatch applies the glob-intersection rule of spec.md §4.7
// ("partition matching (set intersection where any element matches as
// a glob pattern)"). Two empty partition lists are both treated as the
// single default partition "" and therefore match.
func PartitionsMatch(a, b []string) bool {
	if len(a) == 0 {
		a = []string{""}
	}
	if len(b) == 0 {
		b = []string{""}
	}
	for _, pa := range a {
		for _, pb := range b {
			if globMatch(pa, pb) || globMatch(pb, pa) {
				return true
			}
		}
	}
	return false
}

// globMatch reports whether pattern (which may contain '*' and '?')
// matches s.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		if globMatchBytes(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatchBytes(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchBytes(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatchBytes(pattern[1:], s[1:])
	}
}
