package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDebt(t *testing.T) {
	// Quote debt wins over base debt when both are present.
	assert.Equal(t, PositionLong, ClassifyDebt(0, 120.5))
	assert.Equal(t, PositionShort, ClassifyDebt(0.01, 0))
	assert.Equal(t, PositionLong, ClassifyDebt(0.01, 120.5))
	assert.Equal(t, PositionFlat, ClassifyDebt(0, 0))
}

func TestPositionStateIsOpen(t *testing.T) {
	assert.True(t, PositionLong.IsOpen())
	assert.True(t, PositionShort.IsOpen())
	assert.False(t, PositionFlat.IsOpen())
	assert.False(t, PositionUnknown.IsOpen())
}

func TestOrderSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSDC", "ETH", "USDC"},
		{"ethbtc", "ETH", "BTC"},
		{"SOLFDUSD", "SOL", "FDUSD"},
		{"ABCDEFGH", "ABCD", "EFGH"}, // unknown quote falls back to 4-char suffix
	}
	for _, tt := range tests {
		base, quote := SplitSymbol(tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

func TestSnapshotEquity(t *testing.T) {
	s := PositionSnapshot{
		FreeBase:      0.5,
		FreeQuote:     1000,
		BorrowedBase:  0.1,
		BorrowedQuote: 2000,
		Price:         50000,
	}
	// 1000 + 0.5*50000 - 2000 - 0.1*50000 = 19000
	assert.InDelta(t, 19000.0, s.EstimatedEquity(), 1e-9)

	s.Price = 0
	assert.Equal(t, 0.0, s.EstimatedEquity())
}

func TestSnapshotTotalDebt(t *testing.T) {
	s := PositionSnapshot{BorrowedBase: 0.2, BorrowedQuote: 30}
	assert.InDelta(t, 30.2, s.TotalDebt(), 1e-12)
}
