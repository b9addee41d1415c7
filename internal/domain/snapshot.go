package domain

import "time"

// PositionSnapshot is the account state derived from one balance read.
// It is recomputed every cycle and never persisted.
type PositionSnapshot struct {
	State         PositionState
	BorrowedBase  float64
	BorrowedQuote float64
	FreeBase      float64
	FreeQuote     float64
	Price         float64
	At            time.Time
}

// TotalDebt returns the combined outstanding debt across both assets.
func (s PositionSnapshot) TotalDebt() float64 {
	return s.BorrowedBase + s.BorrowedQuote
}

// EstimatedEquity values the account in quote terms at the given price.
// Zero when no price is known.
func (s PositionSnapshot) EstimatedEquity() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.FreeQuote + s.FreeBase*s.Price - s.BorrowedQuote - s.BorrowedBase*s.Price
}

// LastEntry records the most recent successful open. It is set exactly once
// per open (from the realized average fill when computable, else the ticker
// price) and cleared when a close is detected, bot-initiated or external.
type LastEntry struct {
	Symbol      string
	Side        SignalKind
	EntryPrice  float64
	ExecutedQty float64
}

// EngineStatus is the read-only projection of the engine state for external
// consumers. It is always published as a whole snapshot.
type EngineStatus struct {
	Decision      string
	Position      PositionState
	LastAction    string
	Symbol        string
	BorrowedBase  float64
	BorrowedQuote float64
	FreeBase      float64
	FreeQuote     float64
	HaveStopLoss  bool
	HaveTakeProf  bool
	Price         float64
	EquityQuote   float64
	Updated       time.Time
}
