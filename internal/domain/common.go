package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MarginMode selects which margin account shape the bot operates on.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// IsIsolated reports whether the mode maps to the isolated account endpoints.
func (m MarginMode) IsIsolated() bool {
	return m == MarginIsolated
}

// PositionState is the debt-derived position of the account: the bot never
// tracks fills, it only looks at which asset currently carries borrowed
// balance.
type PositionState string

const (
	PositionUnknown PositionState = "unknown"
	PositionFlat    PositionState = "flat"
	PositionLong    PositionState = "long"
	PositionShort   PositionState = "short"
)

// IsOpen reports whether the state is long or short.
func (p PositionState) IsOpen() bool {
	return p == PositionLong || p == PositionShort
}

// ClassifyDebt derives the position state from outstanding debt.
// Quote debt is checked first: borrowed quote means the account bought base
// with borrowed quote (long), borrowed base means it sold borrowed base
// (short). The precedence is fixed; when both sides carry debt the position
// is long.
func ClassifyDebt(borrowedBase, borrowedQuote float64) PositionState {
	if borrowedQuote > 0 {
		return PositionLong
	}
	if borrowedBase > 0 {
		return PositionShort
	}
	return PositionFlat
}

// SignalKind is the decision carried by an external signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Signal is a normalized external trading signal. At is an opaque
// deduplication key taken verbatim from the transport payload; equal At
// values on consecutive signals are duplicates.
type Signal struct {
	Kind SignalKind
	Pair string
	At   string
}

// knownQuotes lists quote assets recognized when splitting a symbol.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "EUR", "BTC", "ETH"}

// SplitSymbol splits a trading pair like "BTCUSDC" into base and quote
// assets. Unknown quotes fall back to a four-character suffix.
func SplitSymbol(symbol string) (base, quote string) {
	symbol = strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	if len(symbol) <= 4 {
		return symbol, ""
	}
	return symbol[:len(symbol)-4], symbol[len(symbol)-4:]
}
