package engine

import (
	"context"
	"strings"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

const (
	// residualDebtRatio: debt shrunk below this fraction of the previous
	// reading is treated as a leftover from an external close.
	residualDebtRatio = 0.2
	repayPause        = 300 * time.Millisecond
)

// tickGuard is the periodic background reconciliation pass: detect closes
// that happened outside the bot, repay residual debt, re-arm missing
// protective orders, and publish the status projection. Runs on its own
// cadence, only while enabled and live.
func (e *PositionEngine) tickGuard(ctx context.Context) {
	if !e.isEnabled || !e.signals.Connected() {
		return
	}
	now := e.clock()
	if now.Before(e.monitorNext) {
		return
	}
	e.monitorNext = now.Add(monitorInterval)

	set := e.settings()
	base, quote := domain.SplitSymbol(set.Symbol)

	if err := e.exchange.SyncClock(ctx); err != nil {
		e.logger.Debug(ctx, "Guard: clock sync failed", map[string]interface{}{"error": err.Error()})
	}

	price, err := e.exchange.TickerPrice(ctx, set.Symbol)
	if err != nil {
		price = 0
	}

	bal, err := e.readPosition(ctx, set)
	if err != nil {
		e.logger.Warn(ctx, "Guard: position read failed", map[string]interface{}{"symbol": set.Symbol, "error": err.Error()})
		return
	}
	state := bal.State()
	debtTotal := bal.BorrowedBase + bal.BorrowedQuote

	e.detectBackgroundTransitions(ctx, set, state, bal, debtTotal, base, quote)
	e.repayResidualDebt(ctx, set, bal, debtTotal, base, quote)
	e.guardProtectiveOrders(ctx, set, state, bal, price, now)
	e.publishStatus(set, state, bal, price, now)

	e.prev = prevPosition{
		symbol:        set.Symbol,
		state:         state,
		debtTotal:     debtTotal,
		borrowedBase:  bal.BorrowedBase,
		borrowedQuote: bal.BorrowedQuote,
		known:         true,
	}
}

// detectBackgroundTransitions compares against the previous guard cycle.
// A close that did not go through the engine (SL/TP fill, manual action)
// clears LastEntry and sweeps leftover orders; an open that did not go
// through the engine is logged only.
func (e *PositionEngine) detectBackgroundTransitions(ctx context.Context, set Settings, state domain.PositionState, bal balances, debtTotal float64, base, quote string) {
	if !e.prev.known || e.prev.symbol != set.Symbol {
		return
	}

	if e.prev.state.IsOpen() && state == domain.PositionFlat {
		e.status.Update(func(s *domain.EngineStatus) { s.LastAction = "CLOSE (BG)"; s.Updated = e.clock() })
		e.logger.Info(ctx, "Position closed in background (debt reached zero)", map[string]interface{}{
			"symbol": set.Symbol,
			"was":    string(e.prev.state),
		})
		e.logPortfolio(ctx, set, 0, "AfterCloseBG")
		if err := e.exchange.CancelOpenOrders(ctx, set.Symbol, set.Mode.IsIsolated()); err != nil {
			e.logger.Warn(ctx, "Guard: leftover order sweep failed", map[string]interface{}{"symbol": set.Symbol, "error": err.Error()})
		}
		e.lastEntry = nil
		e.recordClose(ctx, set.Symbol, "background-close")
		return
	}

	if e.prev.state == domain.PositionFlat && state.IsOpen() && debtTotal > 0 {
		// Informational only: this bot never manages positions it did not
		// open, beyond the debt and protection rules that follow.
		e.logger.Info(ctx, "Position opened outside the bot", map[string]interface{}{
			"symbol":        set.Symbol,
			"position":      string(state),
			"borrowedBase":  bal.BorrowedBase,
			"borrowedQuote": bal.BorrowedQuote,
		})
	}
}

// repayResidualDebt handles the tail of an external close: when total debt
// collapsed below residualDebtRatio of the previous reading and no orders
// remain open, each nonzero leg is repaid independently, best-effort.
func (e *PositionEngine) repayResidualDebt(ctx context.Context, set Settings, bal balances, debtTotal float64, base, quote string) {
	if debtTotal <= 0 || e.prev.debtTotal <= 0 || debtTotal >= e.prev.debtTotal*residualDebtRatio {
		return
	}
	isolated := set.Mode.IsIsolated()

	open, err := e.exchange.ListOpenOrders(ctx, set.Symbol, isolated)
	if err != nil || len(open) > 0 {
		return
	}

	e.logger.Warn(ctx, "Residual debt detected, attempting repay", map[string]interface{}{
		"symbol":   set.Symbol,
		"previous": e.prev.debtTotal,
		"current":  debtTotal,
	})
	if !set.AutoRepay {
		return
	}

	if bal.BorrowedBase > 0 {
		if err := e.exchange.BorrowOrRepay(ctx, base, bal.BorrowedBase, ports.LoanRepay, set.Symbol, isolated); err != nil {
			e.logger.Warn(ctx, "Residual repay failed", map[string]interface{}{"asset": base, "error": err.Error()})
		}
	}
	if bal.BorrowedQuote > 0 {
		if err := e.exchange.BorrowOrRepay(ctx, quote, bal.BorrowedQuote, ports.LoanRepay, set.Symbol, isolated); err != nil {
			e.logger.Warn(ctx, "Residual repay failed", map[string]interface{}{"asset": quote, "error": err.Error()})
		}
	}

	e.sleep(repayPause)
	after, err := e.readPosition(ctx, set)
	if err != nil {
		return
	}
	remaining := after.BorrowedBase + after.BorrowedQuote
	if remaining <= 0 {
		e.logger.Info(ctx, "Residual debt settled, account flat again")
	} else {
		e.logger.Warn(ctx, "Residual debt still present", map[string]interface{}{"debt": remaining})
	}
}

// guardProtectiveOrders re-arms missing protective legs for an open
// position. Additive only: an existing correctly-placed leg is never touched.
// Rate-limited to one inspection per guardCooldown.
func (e *PositionEngine) guardProtectiveOrders(ctx context.Context, set Settings, state domain.PositionState, bal balances, price float64, now time.Time) {
	if !state.IsOpen() || (set.StopLossPct <= 0 && set.TakeProfitPct <= 0) {
		return
	}
	if now.Before(e.guardNext) {
		return
	}
	e.guardNext = now.Add(guardCooldown)

	isolated := set.Mode.IsIsolated()
	open, err := e.exchange.ListOpenOrders(ctx, set.Symbol, isolated)
	if err != nil {
		e.logger.Warn(ctx, "Guard: open order read failed", map[string]interface{}{"symbol": set.Symbol, "error": err.Error()})
		open = nil
	}

	wantSide := domain.Sell
	if state == domain.PositionShort {
		wantSide = domain.Buy
	}
	haveSL, haveTP := protectiveLegs(open, wantSide)
	e.status.Update(func(s *domain.EngineStatus) { s.HaveStopLoss = haveSL; s.HaveTakeProf = haveTP })

	needSL := set.StopLossPct > 0 && !haveSL
	needTP := set.TakeProfitPct > 0 && !haveTP
	if !needSL && !needTP {
		return
	}

	// Prefer the recorded execution; derive from balances when the entry was
	// lost (process restart, externally opened position).
	var qty, entry float64
	if e.lastEntry != nil && e.lastEntry.Symbol == set.Symbol {
		qty = e.lastEntry.ExecutedQty
		entry = e.lastEntry.EntryPrice
	}
	if qty <= 0 {
		if state == domain.PositionLong {
			qty = bal.FreeBase * closeLongFactor
		} else if bal.BorrowedBase > 0 {
			qty = bal.BorrowedBase * closeShortFactor
		} else {
			qty = bal.FreeBase * closeLongFactor
		}
	}
	if entry <= 0 {
		entry = price
	}
	if qty <= 0 || entry <= 0 {
		return
	}

	var step, tick float64
	if filters, ferr := e.exchange.SymbolFilters(ctx, set.Symbol); ferr == nil && filters != nil {
		step, tick = filters.LotStep, filters.PriceTick
	}
	qty = domain.FloorToStep(qty, step)
	if qty <= 0 {
		return
	}

	long := state == domain.PositionLong
	slPrice, tpPrice := ProtectivePrices(entry, set.StopLossPct, set.TakeProfitPct, long, tick)

	if needSL && slPrice > 0 {
		e.logger.Info(ctx, "Guard: stop loss missing, re-arming", map[string]interface{}{"symbol": set.Symbol, "sl": slPrice, "qty": qty})
		if err := e.exchange.PlaceStopLossLimit(ctx, set.Symbol, wantSide, qty, slPrice, isolated, set.AutoRepay); err != nil {
			e.logger.Error(ctx, err, "Guard: stop loss re-arm failed", map[string]interface{}{"symbol": set.Symbol})
		}
	}
	if needTP && tpPrice > 0 {
		e.logger.Info(ctx, "Guard: take profit missing, re-arming", map[string]interface{}{"symbol": set.Symbol, "tp": tpPrice, "qty": qty})
		if err := e.exchange.PlaceTakeProfitLimit(ctx, set.Symbol, wantSide, qty, tpPrice, isolated, set.AutoRepay); err != nil {
			e.logger.Error(ctx, err, "Guard: take profit re-arm failed", map[string]interface{}{"symbol": set.Symbol})
		}
	}
}

// protectiveLegs scans open orders for the expected closing-side protective
// kinds: STOP_LOSS* counts as the stop leg; LIMIT, LIMIT_MAKER and
// TAKE_PROFIT* count as the take-profit leg.
func protectiveLegs(open []ports.OpenOrder, wantSide domain.OrderSide) (haveSL, haveTP bool) {
	for _, o := range open {
		if o.Side != wantSide {
			continue
		}
		typ := strings.ToUpper(o.Type)
		if strings.HasPrefix(typ, "STOP_LOSS") {
			haveSL = true
		}
		if typ == "LIMIT" || typ == "LIMIT_MAKER" || strings.HasPrefix(typ, "TAKE_PROFIT") {
			haveTP = true
		}
	}
	return haveSL, haveTP
}

// publishStatus writes the status projection as one snapshot.
func (e *PositionEngine) publishStatus(set Settings, state domain.PositionState, bal balances, price float64, now time.Time) {
	snap := domain.PositionSnapshot{
		State:         state,
		BorrowedBase:  bal.BorrowedBase,
		BorrowedQuote: bal.BorrowedQuote,
		FreeBase:      bal.FreeBase,
		FreeQuote:     bal.FreeQuote,
		Price:         price,
		At:            now,
	}
	e.status.Update(func(s *domain.EngineStatus) {
		s.Position = state
		s.Symbol = set.Symbol
		s.BorrowedBase = bal.BorrowedBase
		s.BorrowedQuote = bal.BorrowedQuote
		s.FreeBase = bal.FreeBase
		s.FreeQuote = bal.FreeQuote
		s.Price = price
		s.EquityQuote = snap.EstimatedEquity()
		s.Updated = now
		if !state.IsOpen() {
			// Protective flags describe the open position's legs; a flat
			// account has none.
			s.HaveStopLoss = false
			s.HaveTakeProf = false
		}
	})
}
