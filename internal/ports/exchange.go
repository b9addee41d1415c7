package ports

import (
	"context"

	"marginAutoBot/internal/domain"
)

// AssetBalance is one raw per-asset row from a margin account read.
// Figures are kept separate so the classifier owns the borrowed+interest and
// free+locked aggregation rules.
type AssetBalance struct {
	Asset    string
	Free     float64
	Locked   float64
	Borrowed float64
	Interest float64
}

// IsolatedRow is one isolated-margin pair row (base and quote sides).
type IsolatedRow struct {
	Symbol string
	Base   AssetBalance
	Quote  AssetBalance
}

// BalanceSheet carries the raw balance rows of one account read, in either
// the cross or the isolated shape. Exactly one of the two slices is populated
// depending on the margin mode of the request.
type BalanceSheet struct {
	Cross    []AssetBalance
	Isolated []IsolatedRow
}

// OpenOrder is a live order as reported by the exchange, reduced to the
// fields the guard loop inspects.
type OpenOrder struct {
	OrderID   int64
	Side      domain.OrderSide
	Type      string
	Price     float64
	StopPrice float64
	Quantity  float64
}

// OrderFill is the result of a filled (or accepted) order.
type OrderFill struct {
	OrderID         int64
	ExecutedQty     float64
	CumulativeQuote float64
	Status          string
}

// SymbolFilters are the exchange trading rules for one symbol. Cached
// indefinitely per symbol within a client lifetime.
type SymbolFilters struct {
	LotStep   float64
	MinQty    float64
	PriceTick float64
}

// LoanAction selects the direction of a margin loan operation.
type LoanAction string

const (
	LoanBorrow LoanAction = "BORROW"
	LoanRepay  LoanAction = "REPAY"
)

// MarginExchange is the capability contract the engine requires from the
// exchange. Implementations handle request signing, clock-offset caching and
// endpoint details; the engine only sequences these calls.
type MarginExchange interface {
	// SyncClock refreshes the signed-request clock offset if the shared
	// cache is stale. Cheap to call often.
	SyncClock(ctx context.Context) error

	// TickerPrice returns the last traded price for the symbol.
	TickerPrice(ctx context.Context, symbol string) (float64, error)

	// AccountBalances reads the raw margin balance rows for the configured
	// mode. For isolated mode only the rows for the given symbol are
	// requested.
	AccountBalances(ctx context.Context, symbol string, isolated bool) (*BalanceSheet, error)

	// MaxBorrowable returns the raw maximum borrowable amount for the asset.
	MaxBorrowable(ctx context.Context, asset, symbol string, isolated bool) (float64, error)

	// CancelOpenOrders cancels every open order for the symbol. Best-effort:
	// individual cancel failures are swallowed by the adapter.
	CancelOpenOrders(ctx context.Context, symbol string, isolated bool) error

	// ListOpenOrders returns the currently open orders for the symbol.
	ListOpenOrders(ctx context.Context, symbol string, isolated bool) ([]OpenOrder, error)

	// BorrowOrRepay moves a margin loan in the given direction.
	BorrowOrRepay(ctx context.Context, asset string, amount float64, action LoanAction, symbol string, isolated bool) error

	// MarketOrder places a market order for a base quantity. autoBorrow and
	// autoRepay select the margin side effect applied by the exchange.
	MarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, isolated, autoBorrow, autoRepay bool) (*OrderFill, error)

	// PlaceStopLossLimit places a STOP_LOSS_LIMIT protective order with the
	// stop and limit legs at the same price.
	PlaceStopLossLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, isolated, autoRepay bool) error

	// PlaceTakeProfitLimit places a TAKE_PROFIT_LIMIT protective order.
	PlaceTakeProfitLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64, isolated, autoRepay bool) error

	// PlaceOCO places a combined conditional pair: take-profit limit leg plus
	// stop-loss stop-limit leg.
	PlaceOCO(ctx context.Context, symbol string, side domain.OrderSide, quantity, limitPrice, stopPrice float64, isolated, autoRepay bool) error

	// SymbolFilters returns the lot-size and price-tick rules for the symbol.
	SymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
}
