package engine

import (
	"sync"

	"marginAutoBot/internal/domain"
)

// StatusBoard is the only engine state shared with external readers. Writes
// replace the whole snapshot under the lock, so a reader never observes a
// half-updated projection.
type StatusBoard struct {
	mu  sync.RWMutex
	cur domain.EngineStatus
}

// NewStatusBoard returns a board with an empty projection.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{cur: domain.EngineStatus{Decision: "-", Position: domain.PositionUnknown, LastAction: "-"}}
}

// Snapshot returns a copy of the current projection.
func (b *StatusBoard) Snapshot() domain.EngineStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur
}

// Publish replaces the projection atomically.
func (b *StatusBoard) Publish(s domain.EngineStatus) {
	b.mu.Lock()
	b.cur = s
	b.mu.Unlock()
}

// Update applies a mutation to a copy of the projection and publishes the
// result as one snapshot write.
func (b *StatusBoard) Update(fn func(*domain.EngineStatus)) {
	b.mu.Lock()
	next := b.cur
	fn(&next)
	b.cur = next
	b.mu.Unlock()
}
