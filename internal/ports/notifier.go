package ports

import "context"

// Notifier sends operator notifications. Calls are fire-and-forget: a
// delivery failure is logged by the caller and never blocks or aborts a
// trade.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}
