package binancemargin

import (
	"context"
	"sync"
	"time"
)

// defaultClockRefresh is how long a fetched server-time offset stays valid
// before signed requests trigger a refresh.
const defaultClockRefresh = 5 * time.Minute

// ClockSync caches the exchange server-time offset and refreshes it at most
// once per interval. Signed requests fail with a timestamp error when the
// local clock drifts, so every request path calls Ensure first; the cache
// keeps that cheap.
type ClockSync struct {
	mu       sync.Mutex
	syncFn   func(ctx context.Context) error
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

// NewClockSync wraps the given offset-refresh call. A non-positive interval
// falls back to the default.
func NewClockSync(syncFn func(ctx context.Context) error, interval time.Duration) *ClockSync {
	if interval <= 0 {
		interval = defaultClockRefresh
	}
	return &ClockSync{
		syncFn:   syncFn,
		interval: interval,
		now:      time.Now,
	}
}

// Ensure refreshes the offset if the cached one is older than the interval.
// A failed refresh leaves the previous offset in place and is retried on the
// next call.
func (c *ClockSync) Ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.IsZero() && c.now().Sub(c.last) < c.interval {
		return nil
	}
	if err := c.syncFn(ctx); err != nil {
		return err
	}
	c.last = c.now()
	return nil
}

// Invalidate forces the next Ensure to refresh. Called after a timestamp
// rejection from the exchange.
func (c *ClockSync) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
}
