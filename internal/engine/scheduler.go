package engine

import "time"

const prefetchLead = 10 * time.Second

// Scheduler computes fixed time-window boundaries and decides when the
// one-shot borrow-limit prefetch should fire: once per boundary, starting
// prefetchLead before the boundary arrives. It holds no timers of its own;
// the engine drives it only while trading is enabled and the signal source
// is live, so it is inert otherwise.
type Scheduler struct {
	window      time.Duration
	next        time.Time
	prefetched  bool
	hasBoundary bool
}

// NewScheduler creates a scheduler for the given window. Non-positive
// windows fall back to 5 minutes.
func NewScheduler(window time.Duration) *Scheduler {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Scheduler{window: window}
}

// NextBoundary returns the next window boundary strictly after now, except
// that an exact boundary instant returns itself advanced by one window.
func (s *Scheduler) NextBoundary(now time.Time) time.Time {
	b := now.UTC().Truncate(s.window)
	if !b.Before(now.UTC()) {
		return b
	}
	return b.Add(s.window)
}

// Tick advances boundary tracking and reports whether the prefetch should
// fire now. It returns true at most once per boundary value.
func (s *Scheduler) Tick(now time.Time) bool {
	now = now.UTC()
	nxt := s.NextBoundary(now)
	if !s.hasBoundary || !nxt.Equal(s.next) {
		s.next = nxt
		s.hasBoundary = true
		s.prefetched = false
	}
	if s.prefetched {
		return false
	}
	if now.Before(s.next.Add(-prefetchLead)) {
		return false
	}
	s.prefetched = true
	return true
}
