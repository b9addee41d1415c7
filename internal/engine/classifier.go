package engine

import (
	"strings"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

// balances is the per-asset aggregate the engine works with, derived from one
// raw account read.
type balances struct {
	BorrowedBase  float64
	BorrowedQuote float64
	FreeBase      float64
	FreeQuote     float64
}

// State classifies the aggregate into a debt-derived position.
func (b balances) State() domain.PositionState {
	return domain.ClassifyDebt(b.BorrowedBase, b.BorrowedQuote)
}

// classifyBalances reduces a raw balance sheet to the base/quote aggregates
// for the active symbol. Pure transformation, no network: borrowed includes
// accrued interest, free includes locked. Missing or foreign rows contribute
// zero; classification never fails.
func classifyBalances(sheet *ports.BalanceSheet, symbol, base, quote string) balances {
	var out balances
	if sheet == nil {
		return out
	}

	if len(sheet.Isolated) > 0 {
		row := sheet.Isolated[0]
		for _, r := range sheet.Isolated {
			if strings.EqualFold(r.Symbol, symbol) {
				row = r
				break
			}
		}
		out.BorrowedBase = row.Base.Borrowed + row.Base.Interest
		out.BorrowedQuote = row.Quote.Borrowed + row.Quote.Interest
		out.FreeBase = row.Base.Free + row.Base.Locked
		out.FreeQuote = row.Quote.Free + row.Quote.Locked
		return out
	}

	for _, a := range sheet.Cross {
		switch {
		case strings.EqualFold(a.Asset, base):
			out.BorrowedBase = a.Borrowed + a.Interest
			out.FreeBase = a.Free + a.Locked
		case strings.EqualFold(a.Asset, quote):
			out.BorrowedQuote = a.Borrowed + a.Interest
			out.FreeQuote = a.Free + a.Locked
		}
	}
	return out
}
