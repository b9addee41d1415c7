package ports

import (
	"context"
	"time"

	"marginAutoBot/internal/domain"
)

// EntryRecord is one journaled open, written after a successful open step.
type EntryRecord struct {
	ID          int64
	Symbol      string
	Side        domain.SignalKind
	EntryPrice  float64
	ExecutedQty float64
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason string
}

// TradeJournal persists opens and detected closes for operator review.
// Journal writes are best-effort: a storage failure must never block a trade.
type TradeJournal interface {
	// RecordOpen saves a new entry record and returns its assigned ID.
	RecordOpen(ctx context.Context, rec *EntryRecord) (int64, error)
	// RecordClose marks the most recent open entry for the symbol closed.
	RecordClose(ctx context.Context, symbol, reason string, at time.Time) error
	// RecentBySymbol retrieves the most recent entries for a symbol.
	RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*EntryRecord, error)
}
