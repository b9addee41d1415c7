package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

func TestExecuteTradeIdempotentWhenSideAlreadyHeld(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0.5, 0, 0, 20000)}, // quote debt: long
		maxBorrow: map[string]float64{"BTC": 1, "USDT": 1000},
	}
	sigs := &mockSignals{connected: true}
	e := newTestEngine(exch, sigs, &mockJournal{}, testSettings(), at(12, 0, 0))

	err := e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy)
	require.NoError(t, err)
	assert.Empty(t, exch.marketCalls, "a BUY while long must place nothing")
	assert.Zero(t, exch.cancelCalls, "idempotent exit happens before the cancel sweep")
}

func TestExecuteTradeSizesLongFromFreePlusBorrowable(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0, 100, 0, 0)},
		maxBorrow: map[string]float64{"BTC": 0, "USDT": 400},
		filters:   &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.0001, PriceTick: 0.01},
	}
	sigs := &mockSignals{connected: true}
	journal := &mockJournal{}
	e := newTestEngine(exch, sigs, journal, testSettings(), at(12, 0, 0))

	err := e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy)
	require.NoError(t, err)

	// (100 free + 400 borrowable) * 0.995 / 50000 = 0.00995, floored to 0.0099.
	require.Len(t, exch.marketCalls, 1)
	call := exch.marketCalls[0]
	assert.Equal(t, domain.Buy, call.side)
	assert.InDelta(t, 0.0099, call.quantity, 1e-12)
	assert.True(t, call.autoBorrow)
	assert.Equal(t, 1, exch.cancelCalls)

	require.Len(t, journal.opens, 1)
	assert.Equal(t, "BTCUSDT", journal.opens[0].Symbol)
	assert.Equal(t, domain.SignalBuy, journal.opens[0].Side)
}

func TestExecuteTradeUsesRealizedEntryPrice(t *testing.T) {
	exch := &mockExchange{
		price:      50000,
		sheets:     []*ports.BalanceSheet{crossSheet(0, 100, 0, 0)},
		maxBorrow:  map[string]float64{"BTC": 0, "USDT": 400},
		filters:    &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.0001},
		marketFill: &ports.OrderFill{OrderID: 7, ExecutedQty: 0.0099, CumulativeQuote: 495.2, Status: "FILLED"},
	}
	sigs := &mockSignals{connected: true}
	e := newTestEngine(exch, sigs, &mockJournal{}, testSettings(), at(12, 0, 0))

	require.NoError(t, e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy))

	require.NotNil(t, e.lastEntry)
	assert.InDelta(t, 495.2/0.0099, e.lastEntry.EntryPrice, 1e-6)
	assert.InDelta(t, 0.0099, e.lastEntry.ExecutedQty, 1e-12)
}

func TestExecuteTradeAbortsWhenCloseLeavesDebt(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0.5, 0, 0, 20000)}, // stays long forever
		maxBorrow: map[string]float64{"BTC": 1, "USDT": 1000},
	}
	sigs := &mockSignals{connected: true}
	journal := &mockJournal{}
	e := newTestEngine(exch, sigs, journal, testSettings(), at(12, 0, 0))

	err := e.executeTrade(context.Background(), "BTCUSDT", domain.SignalSell)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPositionNotFlat)

	// The close was attempted, the open was not.
	require.Len(t, exch.marketCalls, 1)
	assert.Equal(t, domain.Sell, exch.marketCalls[0].side)
	assert.InDelta(t, 0.5*closeLongFactor, exch.marketCalls[0].quantity, 1e-12)
	require.Len(t, journal.closes, 1)
	assert.Equal(t, "signal-close", journal.closes[0].reason)
	assert.Nil(t, e.lastEntry)
}

func TestExecuteTradeRejectsDustQuantity(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0, 2, 0, 0)}, // 2 USDT, nothing borrowable
		maxBorrow: map[string]float64{"BTC": 0, "USDT": 0},
		filters:   &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.001},
	}
	sigs := &mockSignals{connected: true}
	e := newTestEngine(exch, sigs, &mockJournal{}, testSettings(), at(12, 0, 0))

	err := e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrQuantityBelowMinimum)
	assert.Empty(t, exch.marketCalls)
}

func TestProtectionPrefersOCO(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0, 100, 0, 0)},
		maxBorrow: map[string]float64{"BTC": 0, "USDT": 400},
		filters:   &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.0001, PriceTick: 0.01},
	}
	sigs := &mockSignals{connected: true}
	set := testSettings()
	set.StopLossPct = 0.008
	set.TakeProfitPct = 0.012
	e := newTestEngine(exch, sigs, &mockJournal{}, set, at(12, 0, 0))

	require.NoError(t, e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy))

	require.Len(t, exch.ocoCalls, 1)
	assert.Empty(t, exch.slCalls)
	assert.Empty(t, exch.tpCalls)
	assert.Equal(t, domain.Sell, exch.ocoCalls[0].side)
	assert.Greater(t, exch.ocoCalls[0].price, exch.ocoCalls[0].stop, "TP leg must sit above the SL leg on a long")
}

func TestProtectionFallsBackToIndependentLegs(t *testing.T) {
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{crossSheet(0, 100, 0, 0)},
		maxBorrow: map[string]float64{"BTC": 0, "USDT": 400},
		filters:   &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.0001, PriceTick: 0.01},
		ocoErr:    ports.ErrOrderPlacementFailed,
	}
	sigs := &mockSignals{connected: true}
	set := testSettings()
	set.StopLossPct = 0.008
	set.TakeProfitPct = 0.012
	e := newTestEngine(exch, sigs, &mockJournal{}, set, at(12, 0, 0))

	require.NoError(t, e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy))

	// Both independent legs attempted after the OCO rejection.
	assert.Len(t, exch.ocoCalls, 1)
	assert.Len(t, exch.slCalls, 1)
	assert.Len(t, exch.tpCalls, 1)
}

func TestProtectivePrices(t *testing.T) {
	// Long legs floor to the tick, short legs ceil.
	sl, tp := ProtectivePrices(100, 0.01, 0.02, true, 0.5)
	assert.InDelta(t, 99.0, sl, 1e-9)
	assert.InDelta(t, 102.0, tp, 1e-9)

	sl, tp = ProtectivePrices(100, 0.01, 0.02, false, 0.5)
	assert.InDelta(t, 101.0, sl, 1e-9)
	assert.InDelta(t, 98.0, tp, 1e-9)

	// A zero percent disables that leg.
	sl, tp = ProtectivePrices(100, 0, 0.02, true, 0.5)
	assert.Zero(t, sl)
	assert.InDelta(t, 102.0, tp, 1e-9)
}

func TestExecuteTradeClosesShortBeforeOpeningLong(t *testing.T) {
	short := crossSheet(0, 100, 0.01, 0) // base debt: short
	flat := crossSheet(0, 600, 0, 0)
	exch := &mockExchange{
		price:     50000,
		sheets:    []*ports.BalanceSheet{short, short, flat}, // flat after the close
		maxBorrow: map[string]float64{"BTC": 0, "USDT": 0},
		filters:   &ports.SymbolFilters{LotStep: 0.0001, MinQty: 0.0001},
	}
	sigs := &mockSignals{connected: true}
	e := newTestEngine(exch, sigs, &mockJournal{}, testSettings(), at(12, 0, 0))

	require.NoError(t, e.executeTrade(context.Background(), "BTCUSDT", domain.SignalBuy))

	require.Len(t, exch.marketCalls, 2)
	// Close: buy back slightly more than the borrowed base.
	assert.Equal(t, domain.Buy, exch.marketCalls[0].side)
	assert.InDelta(t, 0.01*closeShortFactor, exch.marketCalls[0].quantity, 1e-12)
	assert.True(t, exch.marketCalls[0].autoRepay)
	// Open: a fresh long sized from the flat balances.
	assert.Equal(t, domain.Buy, exch.marketCalls[1].side)
	assert.Greater(t, exch.marketCalls[1].quantity, 0.0)
}
