// Package clock provides the single per-participant timer facility
// used by lease timers, heartbeat periods, and SPDP announcement
// periods (spec.md §5, §9 "Timers"; SPEC_FULL.md §4.14).
//
// Built over github.com/benbjohnson/clock instead of bare
// time.AfterFunc/time.Ticker so that timer-driven behavior is
// deterministically testable with a fake clock, the same pattern the
// DataDog-datadog-agent dependency set uses for its scheduler code.
package clock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Wheel owns every named timer for one participant. Re-scheduling a
// key that already has a pending timer stops the old one first, so
// callers can implement "reset the lease timer on every received
// announcement" without leaking timers.
type Wheel struct {
	mu     sync.Mutex
	clock  clock.Clock
	timers map[string]*clock.Timer
}

// New returns a Wheel backed by the real wall clock.
func New() *Wheel { return NewWithClock(clock.New()) }

// NewWithClock returns a Wheel backed by c, typically a
// *clock.Mock in tests.
func NewWithClock(c clock.Clock) *Wheel {
	return &Wheel{clock: c, timers: make(map[string]*clock.Timer)}
}

// Now returns the wheel's current time.
func (w *Wheel) Now() time.Time { return w.clock.Now() }

// Schedule arms fn to run after d, replacing any timer already
// scheduled under key.
func (w *Wheel) Schedule(key string, d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = w.clock.AfterFunc(d, fn)
}

// Cancel stops and forgets the timer scheduled under key, if any.
func (w *Wheel) Cancel(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[key]; ok {
		t.Stop()
		delete(w.timers, key)
	}
}

// Pending reports whether a timer was scheduled under key and not
// cancelled since; a timer that has already fired still counts.
func (w *Wheel) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[key]
	return ok
}

// Ticker returns a clock.Ticker driven by the wheel's clock, for
// periodic work such as SPDP announcements or heartbeat emission.
func (w *Wheel) Ticker(d time.Duration) *clock.Ticker {
	return w.clock.Ticker(d)
}

// AfterFunc schedules fn once, without a key, for callers that do not
// need to cancel/reset it individually (e.g. a one-shot NACK response
// delay already guarded by its own pending flag).
func (w *Wheel) AfterFunc(d time.Duration, fn func()) *clock.Timer {
	return w.clock.AfterFunc(d, fn)
}
