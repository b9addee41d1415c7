package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginAutoBot/internal/adapters/logger"
	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(Config{
		DBPath: filepath.Join(t.TempDir(), "journal.db"),
		Logger: logger.NewStdLogger(logger.LevelError),
	})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalOpenCloseRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	openedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	rec := &ports.EntryRecord{
		Symbol:      "BTCUSDT",
		Side:        domain.SignalBuy,
		EntryPrice:  50000,
		ExecutedQty: 0.0099,
		OpenedAt:    openedAt,
	}
	id, err := j.RecordOpen(ctx, rec)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, id, rec.ID)

	closedAt := openedAt.Add(10 * time.Minute)
	require.NoError(t, j.RecordClose(ctx, "BTCUSDT", "signal-close", closedAt))

	entries, err := j.RecentBySymbol(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, domain.SignalBuy, got.Side)
	assert.Equal(t, 50000.0, got.EntryPrice)
	assert.Equal(t, 0.0099, got.ExecutedQty)
	assert.Equal(t, "signal-close", got.CloseReason)
	assert.False(t, got.ClosedAt.IsZero())
}

func TestJournalCloseWithNothingOpenIsNotAnError(t *testing.T) {
	j := newTestJournal(t)
	err := j.RecordClose(context.Background(), "BTCUSDT", "background-close", time.Now())
	assert.NoError(t, err)
}

func TestJournalCloseTargetsNewestOpenEntry(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		_, err := j.RecordOpen(ctx, &ports.EntryRecord{
			Symbol:      "BTCUSDT",
			Side:        domain.SignalBuy,
			EntryPrice:  50000 + float64(i),
			ExecutedQty: 0.01,
			OpenedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	require.NoError(t, j.RecordClose(ctx, "BTCUSDT", "signal-close", base.Add(5*time.Minute)))

	entries, err := j.RecentBySymbol(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first; only the newest is closed.
	assert.Equal(t, 50001.0, entries[0].EntryPrice)
	assert.Equal(t, "signal-close", entries[0].CloseReason)
	assert.True(t, entries[1].ClosedAt.IsZero())
	assert.Empty(t, entries[1].CloseReason)
}

func TestJournalRecentBySymbolFiltersAndLimits(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	symbols := []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "BTCUSDT"}
	for i, sym := range symbols {
		_, err := j.RecordOpen(ctx, &ports.EntryRecord{
			Symbol:      sym,
			Side:        domain.SignalSell,
			EntryPrice:  100,
			ExecutedQty: 1,
			OpenedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, err := j.RecentBySymbol(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "BTCUSDT", e.Symbol)
	}
	assert.True(t, entries[0].OpenedAt.After(entries[1].OpenedAt))
}

func TestJournalRecentBySymbolEmpty(t *testing.T) {
	j := newTestJournal(t)
	entries, err := j.RecentBySymbol(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
