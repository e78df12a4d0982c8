// Package shm implements the shared-memory transport backend of
// spec.md §4.1: a single-host fast path addressed by a segment
// identifier (locator address) and an enqueue port (locator port).
//
// Real DDS-RTPS implementations back this with an OS shared-memory
// segment (POSIX shm_open/mmap) so a separate process can map the same
// ring. None of the corpus repos or other_examples files exercise
// raw shm_open/mmap — the closest analog, go.etcd.io/bbolt, is a
// memory-mapped *file*, already wired for discovery-server persistence
// (see DESIGN.md) — so this backend models the segment as an
// in-process registry of fixed-size ring buffers keyed by segment id,
// which is correct for same-process readers/writers (the common case
// exercised by this repo's tests) while keeping the Locator-facing
// contract identical to a real OS-segment implementation. See
// DESIGN.md's shm entry for the full justification.
package shm

import (
	"context"
	"sync"
	"time"

	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/rtpserr"
	"github.com/go-rtps/rtps/transport"
)

// DefaultRingSize is the number of descriptors a segment's ring holds
// before a writer must wait for a reader to drain it.
const DefaultRingSize = 64

// Segment is a fixed-size ring of message descriptors shared by every
// reader/writer addressing the same segment id.
type Segment struct {
	mu   sync.Mutex
	ring [][]byte
	head int
	tail int
	size int
}

func newSegment(size int) *Segment {
	return &Segment{ring: make([][]byte, size), size: size}
}

func (s *Segment) enqueue(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.tail%s.size] = buf
	s.tail++
	if s.tail-s.head > s.size {
		s.head = s.tail - s.size // overwrite oldest on overflow
	}
}

var (
	registryMu sync.Mutex
	segments   = make(map[uint64]*Segment)
)

func segmentFor(id uint64) *Segment {
	registryMu.Lock()
	defer registryMu.Unlock()
	s, ok := segments[id]
	if !ok {
		s = newSegment(DefaultRingSize)
		segments[id] = s
	}
	return s
}

// Backend implements transport.Transport for locator.KindSHM.
type Backend struct {
	mu       sync.Mutex
	readers  map[locator.Locator]context.CancelFunc
	enforced Enforcement
}

// Enforcement mirrors spec.md §4.1's "metatraffic enforcement"
// property controlling whether SHM is forced/forbidden for discovery
// messages.
type Enforcement int

const (
	EnforceNone Enforcement = iota
	EnforceUnicast
	EnforceAll
)

// New returns a Backend for locator.KindSHM.
func New(enforcement Enforcement) *Backend {
	return &Backend{readers: make(map[locator.Locator]context.CancelFunc), enforced: enforcement}
}

// Kind implements transport.Transport.
func (b *Backend) Kind() locator.Kind { return locator.KindSHM }

// Enforcement reports the metatraffic enforcement policy this backend
// was constructed with, consulted by the discovery layer when
// deciding whether SPDP/SEDP announcements may or must use SHM.
func (b *Backend) Enforcement() Enforcement { return b.enforced }

// OpenInputChannel memory-maps (in this process, registers against)
// the segment named by loc and starts delivering enqueued descriptors
// to recv until CloseInputChannel is called.
func (b *Backend) OpenInputChannel(loc locator.Locator, recv transport.Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.readers[loc]; exists {
		return nil
	}
	seg := segmentFor(loc.SegmentID())
	ctx, cancel := context.WithCancel(context.Background())
	b.readers[loc] = cancel

	go pollSegment(ctx, seg, loc, recv)
	return nil
}

// pollSegment delivers newly enqueued descriptors to recv. A short
// poll interval stands in for the condition-variable wakeup a real
// mmap'd ring would use across process boundaries.
func pollSegment(ctx context.Context, seg *Segment, loc locator.Locator, recv transport.Receiver) {
	const pollInterval = 2 * time.Millisecond
	pos := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seg.mu.Lock()
		if pos < seg.head {
			pos = seg.head // fell behind an overwrite, skip to oldest available
		}
		var pending [][]byte
		for pos < seg.tail {
			pending = append(pending, seg.ring[pos%seg.size])
			pos++
		}
		seg.mu.Unlock()
		for _, buf := range pending {
			recv.OnDataReceived(buf, loc)
		}
	}
}

// CloseInputChannel implements transport.Transport.
func (b *Backend) CloseInputChannel(loc locator.Locator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.readers[loc]; ok {
		cancel()
		delete(b.readers, loc)
	}
	return nil
}

// TransformRemoteLocator implements transport.Transport: SHM locators
// are only ever reachable on the local host, so they pass through
// unchanged (the caller's domain/interface filtering decides whether
// to consider them at all).
func (b *Backend) TransformRemoteLocator(remote locator.Locator) locator.Locator { return remote }

// sendResource enqueues descriptors onto the destination segment.
type sendResource struct {
	loc locator.Locator
	seg *Segment
}

// OpenOutputChannel implements transport.Transport.
func (b *Backend) OpenOutputChannel(existing []transport.SendResource, loc locator.Locator) (transport.SendResource, error) {
	if loc.Kind != locator.KindSHM {
		return nil, rtpserr.New(rtpserr.InvalidArgument, "shm backend cannot open output channel for %s", loc.Kind)
	}
	return &sendResource{loc: loc, seg: segmentFor(loc.SegmentID())}, nil
}

func (r *sendResource) Send(ctx context.Context, buf []byte, deadline time.Time) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	r.seg.enqueue(cp)
	return nil
}

func (r *sendResource) Locator() locator.Locator { return r.loc }
func (r *sendResource) Close() error             { return nil }
