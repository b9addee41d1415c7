package engine

import (
	"context"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

// Mock implementations

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type marketCall struct {
	symbol     string
	side       domain.OrderSide
	quantity   float64
	autoBorrow bool
	autoRepay  bool
}

type protectiveCall struct {
	symbol   string
	side     domain.OrderSide
	quantity float64
	price    float64
	stop     float64
}

type loanCall struct {
	asset  string
	amount float64
	action ports.LoanAction
}

type mockExchange struct {
	syncErr  error
	price    float64
	priceErr error

	// sheets are consumed in order, the last one repeating.
	sheets   []*ports.BalanceSheet
	sheetIdx int
	sheetErr error

	maxBorrow    map[string]float64
	maxBorrowErr error

	openOrders    []ports.OpenOrder
	openOrdersErr error
	cancelCalls   int
	cancelErr     error

	marketFill  *ports.OrderFill
	marketErr   error
	marketCalls []marketCall

	slErr    error
	tpErr    error
	ocoErr   error
	slCalls  []protectiveCall
	tpCalls  []protectiveCall
	ocoCalls []protectiveCall

	loanErr   error
	loanCalls []loanCall

	filters    *ports.SymbolFilters
	filtersErr error
}

func (m *mockExchange) SyncClock(ctx context.Context) error { return m.syncErr }

func (m *mockExchange) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockExchange) AccountBalances(ctx context.Context, symbol string, isolated bool) (*ports.BalanceSheet, error) {
	if m.sheetErr != nil {
		return nil, m.sheetErr
	}
	if len(m.sheets) == 0 {
		return &ports.BalanceSheet{}, nil
	}
	sheet := m.sheets[m.sheetIdx]
	if m.sheetIdx < len(m.sheets)-1 {
		m.sheetIdx++
	}
	return sheet, nil
}

func (m *mockExchange) MaxBorrowable(ctx context.Context, asset, symbol string, isolated bool) (float64, error) {
	if m.maxBorrowErr != nil {
		return 0, m.maxBorrowErr
	}
	return m.maxBorrow[asset], nil
}

func (m *mockExchange) CancelOpenOrders(ctx context.Context, symbol string, isolated bool) error {
	m.cancelCalls++
	return m.cancelErr
}

func (m *mockExchange) ListOpenOrders(ctx context.Context, symbol string, isolated bool) ([]ports.OpenOrder, error) {
	return m.openOrders, m.openOrdersErr
}

func (m *mockExchange) BorrowOrRepay(ctx context.Context, asset string, amount float64, action ports.LoanAction, symbol string, isolated bool) error {
	m.loanCalls = append(m.loanCalls, loanCall{asset: asset, amount: amount, action: action})
	return m.loanErr
}

func (m *mockExchange) MarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, isolated, autoBorrow, autoRepay bool) (*ports.OrderFill, error) {
	m.marketCalls = append(m.marketCalls, marketCall{symbol: symbol, side: side, quantity: quantity, autoBorrow: autoBorrow, autoRepay: autoRepay})
	if m.marketErr != nil {
		return nil, m.marketErr
	}
	if m.marketFill != nil {
		return m.marketFill, nil
	}
	return &ports.OrderFill{OrderID: 1, ExecutedQty: quantity, Status: "FILLED"}, nil
}

func (m *mockExchange) PlaceStopLossLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, isolated, autoRepay bool) error {
	m.slCalls = append(m.slCalls, protectiveCall{symbol: symbol, side: side, quantity: quantity, stop: stopPrice})
	return m.slErr
}

func (m *mockExchange) PlaceTakeProfitLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64, isolated, autoRepay bool) error {
	m.tpCalls = append(m.tpCalls, protectiveCall{symbol: symbol, side: side, quantity: quantity, price: price})
	return m.tpErr
}

func (m *mockExchange) PlaceOCO(ctx context.Context, symbol string, side domain.OrderSide, quantity, limitPrice, stopPrice float64, isolated, autoRepay bool) error {
	m.ocoCalls = append(m.ocoCalls, protectiveCall{symbol: symbol, side: side, quantity: quantity, price: limitPrice, stop: stopPrice})
	return m.ocoErr
}

func (m *mockExchange) SymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	if m.filtersErr != nil {
		return nil, m.filtersErr
	}
	if m.filters != nil {
		return m.filters, nil
	}
	return &ports.SymbolFilters{}, nil
}

type mockSignals struct {
	queue     []*domain.Signal
	connected bool
}

func (m *mockSignals) Dequeue() (*domain.Signal, bool) {
	if len(m.queue) == 0 {
		return nil, false
	}
	sig := m.queue[0]
	m.queue = m.queue[1:]
	return sig, true
}

func (m *mockSignals) Connected() bool { return m.connected }

type closeRecord struct {
	symbol string
	reason string
}

type mockJournal struct {
	opens     []*ports.EntryRecord
	closes    []closeRecord
	openErr   error
	closeErr  error
	recentErr error
}

func (m *mockJournal) RecordOpen(ctx context.Context, rec *ports.EntryRecord) (int64, error) {
	if m.openErr != nil {
		return 0, m.openErr
	}
	m.opens = append(m.opens, rec)
	return int64(len(m.opens)), nil
}

func (m *mockJournal) RecordClose(ctx context.Context, symbol, reason string, at time.Time) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	m.closes = append(m.closes, closeRecord{symbol: symbol, reason: reason})
	return nil
}

func (m *mockJournal) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]*ports.EntryRecord, error) {
	return nil, m.recentErr
}

type mockNotifier struct {
	subjects []string
	sendErr  error
}

func (m *mockNotifier) Send(ctx context.Context, subject, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.subjects = append(m.subjects, subject)
	return nil
}

// --- Test fixtures ---

func crossSheet(freeBase, freeQuote, borrowedBase, borrowedQuote float64) *ports.BalanceSheet {
	return &ports.BalanceSheet{Cross: []ports.AssetBalance{
		{Asset: "BTC", Free: freeBase, Borrowed: borrowedBase},
		{Asset: "USDT", Free: freeQuote, Borrowed: borrowedQuote},
	}}
}

func testSettings() Settings {
	return Settings{
		Symbol:     "BTCUSDT",
		Mode:       domain.MarginCross,
		AutoBorrow: true,
		AutoRepay:  true,
	}
}

// newTestEngine builds an engine with a fixed clock and a no-op sleep so
// tests run instantly and deterministically.
func newTestEngine(exch *mockExchange, sigs *mockSignals, journal *mockJournal, set Settings, now time.Time) *PositionEngine {
	e, err := New(Config{
		Settings: func() Settings { return set },
		Exchange: exch,
		Signals:  sigs,
		Logger:   &mockLogger{},
		Journal:  journal,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		panic(err)
	}
	e.sleep = func(time.Duration) {}
	return e
}
