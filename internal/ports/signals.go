package ports

import "marginAutoBot/internal/domain"

// SignalSource delivers already-normalized signal payloads to the engine.
// Transport concerns (polling, fallback endpoints, payload key aliases,
// transport-level duplicate suppression) live behind this interface.
type SignalSource interface {
	// Dequeue returns the next pending signal without blocking.
	// ok is false when the queue is empty.
	Dequeue() (sig *domain.Signal, ok bool)

	// Connected reports whether a successful poll occurred within the
	// liveness TTL window.
	Connected() bool
}
