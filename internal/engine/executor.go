package engine

import (
	"context"
	"fmt"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

const (
	// closeLongFactor leaves a sliver of free base behind on close to absorb
	// fee and rounding drift.
	closeLongFactor = 0.999
	// closeShortFactor over-buys slightly so the borrowed base is fully
	// covered by the repay side effect.
	closeShortFactor = 1.001
	// openSafety discounts the spendable amount before sizing an open.
	openSafety = 0.995

	settlePause = 600 * time.Millisecond
)

// executeTrade runs the order execution protocol for one accepted buy/sell
// signal: idempotence check, cancel sweep, close opposite, verify flat, size
// and open, protect, record entry. Steps are strictly sequential; a failure
// in an early step aborts the rest.
func (e *PositionEngine) executeTrade(ctx context.Context, symbol string, kind domain.SignalKind) error {
	op := "ExecuteTrade"
	set := e.settings()
	if symbol == "" {
		symbol = set.Symbol
	}
	set.Symbol = symbol
	isolated := set.Mode.IsIsolated()

	if err := e.exchange.SyncClock(ctx); err != nil {
		e.logger.Warn(ctx, op+": clock sync failed", map[string]interface{}{"error": err.Error()})
	}
	e.limits.EnsureFresh(ctx, symbol, isolated, set.Leverage)

	price, err := e.exchange.TickerPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: ticker: %w", op, err)
	}

	bal, err := e.readPosition(ctx, set)
	if err != nil {
		return fmt.Errorf("%s: read position: %w", op, err)
	}
	e.logPortfolio(ctx, set, price, "Before")

	// Step 1: idempotence check, the requested side already holds.
	state := bal.State()
	if kind == domain.SignalBuy && state == domain.PositionLong {
		e.logger.Info(ctx, op+": BUY ignored, already long (quote debt present)")
		return nil
	}
	if kind == domain.SignalSell && state == domain.PositionShort {
		e.logger.Info(ctx, op+": SELL ignored, already short (base debt present)")
		return nil
	}

	// Step 2: best-effort cancel of everything open for the symbol. A failed
	// sweep must not block the trade.
	if err := e.exchange.CancelOpenOrders(ctx, symbol, isolated); err != nil {
		e.logger.Warn(ctx, op+": cancel sweep failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	// Step 3: close the opposite position, if any.
	if err := e.closeOpposite(ctx, set, state, bal); err != nil {
		return fmt.Errorf("%s: close opposite: %w", op, err)
	}

	// Step 4: verify flat. Opening on top of an unresolved position is
	// forbidden.
	bal, err = e.readPosition(ctx, set)
	if err != nil {
		return fmt.Errorf("%s: re-read position: %w", op, err)
	}
	e.logPortfolio(ctx, set, price, "AfterClose")
	if bal.State() != domain.PositionFlat {
		e.logger.Error(ctx, ports.ErrPositionNotFlat, op+": aborting open, operator attention required", map[string]interface{}{"symbol": symbol, "position": string(bal.State())})
		return fmt.Errorf("%s: %w (position=%s)", op, ports.ErrPositionNotFlat, bal.State())
	}

	// Step 5: size and open.
	fill, side, err := e.openPosition(ctx, set, kind, bal, price)
	if err != nil {
		return fmt.Errorf("%s: open: %w", op, err)
	}
	e.status.Update(func(s *domain.EngineStatus) {
		s.LastAction = "OPEN " + string(side)
		s.Symbol = symbol
		s.Updated = e.clock()
	})
	e.logger.Info(ctx, op+": open filled", map[string]interface{}{"symbol": symbol, "side": string(side), "orderID": fill.OrderID, "executedQty": fill.ExecutedQty})
	e.logPortfolio(ctx, set, price, "AfterOpen")

	// Step 7 (recorded before protection so the guard can re-arm from it):
	// realized average fill when computable, else the ticker price.
	entryPrice := price
	if fill.ExecutedQty > 0 && fill.CumulativeQuote > 0 {
		entryPrice = fill.CumulativeQuote / fill.ExecutedQty
	}
	e.lastEntry = &domain.LastEntry{Symbol: symbol, Side: kind, EntryPrice: entryPrice, ExecutedQty: fill.ExecutedQty}
	e.recordOpen(ctx, symbol, kind, entryPrice, fill.ExecutedQty)

	// Step 6: protective orders from the realized entry price.
	if fill.ExecutedQty > 0 && (set.StopLossPct > 0 || set.TakeProfitPct > 0) {
		e.placeProtection(ctx, set, kind, entryPrice, fill.ExecutedQty)
	}

	e.notify(ctx, set, fmt.Sprintf("Margin bot: %s %s", kind, symbol),
		fmt.Sprintf("Executed %s %s\norderId: %d\nentry: %.8f\nqty: %.8f\nUTC: %s\n",
			kind, symbol, fill.OrderID, entryPrice, fill.ExecutedQty, e.clock().Format(time.RFC3339)))
	return nil
}

// closeOpposite market-closes a position opposite to the requested side.
// A no-op when already flat or when the position matches the request (the
// idempotence check has already filtered that case).
func (e *PositionEngine) closeOpposite(ctx context.Context, set Settings, state domain.PositionState, bal balances) error {
	op := "CloseOpposite"
	isolated := set.Mode.IsIsolated()

	var side domain.OrderSide
	var qty float64
	switch state {
	case domain.PositionLong:
		side = domain.Sell
		qty = bal.FreeBase * closeLongFactor
	case domain.PositionShort:
		side = domain.Buy
		qty = bal.BorrowedBase * closeShortFactor
	default:
		return nil
	}
	if qty <= 0 {
		return nil
	}

	e.logger.Info(ctx, op+": closing "+string(state), map[string]interface{}{"symbol": set.Symbol, "qty": qty})
	fill, err := e.exchange.MarketOrder(ctx, set.Symbol, side, qty, isolated, false, set.AutoRepay)
	if err != nil {
		return err
	}
	e.logger.Info(ctx, op+": close filled", map[string]interface{}{"orderID": fill.OrderID})
	e.recordClose(ctx, set.Symbol, "signal-close")
	e.lastEntry = nil
	e.sleep(settlePause)
	return nil
}

// openPosition sizes and places the opening market order. Spendable =
// free balance plus the cached safety-discounted max borrowable (when
// auto-borrow is on), discounted again by openSafety, floored to the lot
// step. Quantities at zero or below the exchange minimum abort with a sizing
// error before any order is sent.
func (e *PositionEngine) openPosition(ctx context.Context, set Settings, kind domain.SignalKind, bal balances, price float64) (*ports.OrderFill, domain.OrderSide, error) {
	op := "OpenPosition"
	isolated := set.Mode.IsIsolated()

	var step, minQty float64
	if filters, err := e.exchange.SymbolFilters(ctx, set.Symbol); err == nil && filters != nil {
		step, minQty = filters.LotStep, filters.MinQty
	} else if err != nil {
		e.logger.Warn(ctx, op+": symbol filters unavailable, sizing without steps", map[string]interface{}{"symbol": set.Symbol, "error": err.Error()})
	}

	maxBase, maxQuote, _ := e.limits.Limits(set.Symbol)

	var side domain.OrderSide
	var qty float64
	switch kind {
	case domain.SignalBuy:
		side = domain.Buy
		spend := bal.FreeQuote
		if set.AutoBorrow {
			spend += maxQuote
		}
		spend *= openSafety
		if price <= 0 {
			return nil, side, ports.ErrNoPrice
		}
		qty = spend / price
	case domain.SignalSell:
		side = domain.Sell
		avail := bal.FreeBase
		if set.AutoBorrow {
			avail += maxBase
		}
		qty = avail * openSafety
	default:
		return nil, "", fmt.Errorf("unsupported signal kind %q", kind)
	}

	qty = domain.FloorToStep(qty, step)
	if qty <= 0 || (minQty > 0 && qty < minQty) {
		e.logger.Error(ctx, ports.ErrQuantityBelowMinimum, op+": sizing aborted", map[string]interface{}{"symbol": set.Symbol, "qty": qty, "minQty": minQty})
		return nil, side, fmt.Errorf("%w: qty=%.10f min=%.10f", ports.ErrQuantityBelowMinimum, qty, minQty)
	}

	e.logger.Info(ctx, op+": placing market order", map[string]interface{}{"symbol": set.Symbol, "side": string(side), "qty": qty})
	fill, err := e.exchange.MarketOrder(ctx, set.Symbol, side, qty, isolated, set.AutoBorrow, set.AutoRepay)
	if err != nil {
		return nil, side, err
	}
	return fill, side, nil
}

// placeProtection computes the protective prices from the realized entry and
// places them: a combined conditional pair first when both legs are
// configured, falling back to two independent orders, each attempted
// regardless of the other's outcome. Failures here are logged, never rolled
// back; the guard loop re-arms missing legs later.
func (e *PositionEngine) placeProtection(ctx context.Context, set Settings, kind domain.SignalKind, entry, execQty float64) {
	op := "PlaceProtection"
	isolated := set.Mode.IsIsolated()

	var tick float64
	var step float64
	if filters, err := e.exchange.SymbolFilters(ctx, set.Symbol); err == nil && filters != nil {
		tick, step = filters.PriceTick, filters.LotStep
	}
	qty := domain.FloorToStep(execQty, step)
	if qty <= 0 || entry <= 0 {
		e.logger.Warn(ctx, op+": nothing to protect", map[string]interface{}{"qty": qty, "entry": entry})
		return
	}

	long := kind == domain.SignalBuy
	closeSide := domain.Sell
	if !long {
		closeSide = domain.Buy
	}
	slPrice, tpPrice := ProtectivePrices(entry, set.StopLossPct, set.TakeProfitPct, long, tick)

	if slPrice > 0 && tpPrice > 0 {
		if err := e.exchange.PlaceOCO(ctx, set.Symbol, closeSide, qty, tpPrice, slPrice, isolated, set.AutoRepay); err == nil {
			e.logger.Info(ctx, op+": OCO placed", map[string]interface{}{"sl": slPrice, "tp": tpPrice, "qty": qty})
			return
		} else {
			e.logger.Warn(ctx, op+": OCO rejected, falling back to separate orders", map[string]interface{}{"error": err.Error()})
		}
	}
	if slPrice > 0 {
		if err := e.exchange.PlaceStopLossLimit(ctx, set.Symbol, closeSide, qty, slPrice, isolated, set.AutoRepay); err != nil {
			e.logger.Error(ctx, err, op+": stop loss not placed", map[string]interface{}{"sl": slPrice})
		} else {
			e.logger.Info(ctx, op+": stop loss placed", map[string]interface{}{"sl": slPrice, "qty": qty})
		}
	}
	if tpPrice > 0 {
		if err := e.exchange.PlaceTakeProfitLimit(ctx, set.Symbol, closeSide, qty, tpPrice, isolated, set.AutoRepay); err != nil {
			e.logger.Error(ctx, err, op+": take profit not placed", map[string]interface{}{"tp": tpPrice})
		} else {
			e.logger.Info(ctx, op+": take profit placed", map[string]interface{}{"tp": tpPrice, "qty": qty})
		}
	}
}

// ProtectivePrices computes the stop-loss and take-profit price levels for a
// position. Long legs round toward zero on the price tick, short legs round
// away, so the protective band never tightens past the configured percents.
// A zero percent disables that leg (price 0).
func ProtectivePrices(entry, slPct, tpPct float64, long bool, tick float64) (slPrice, tpPrice float64) {
	if long {
		if slPct > 0 {
			slPrice = domain.FloorToStep(entry*(1-slPct), tick)
		}
		if tpPct > 0 {
			tpPrice = domain.FloorToStep(entry*(1+tpPct), tick)
		}
		return slPrice, tpPrice
	}
	if slPct > 0 {
		slPrice = domain.CeilToStep(entry*(1+slPct), tick)
	}
	if tpPct > 0 {
		tpPrice = domain.CeilToStep(entry*(1-tpPct), tick)
	}
	return slPrice, tpPrice
}

// recordOpen appends an open to the journal; best-effort.
func (e *PositionEngine) recordOpen(ctx context.Context, symbol string, kind domain.SignalKind, entry, qty float64) {
	if e.journal == nil {
		return
	}
	_, err := e.journal.RecordOpen(ctx, &ports.EntryRecord{
		Symbol:      symbol,
		Side:        kind,
		EntryPrice:  entry,
		ExecutedQty: qty,
		OpenedAt:    e.clock(),
	})
	if err != nil {
		e.logger.Warn(ctx, "Journal open record failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

// recordClose marks the latest journaled entry closed; best-effort.
func (e *PositionEngine) recordClose(ctx context.Context, symbol, reason string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordClose(ctx, symbol, reason, e.clock()); err != nil {
		e.logger.Warn(ctx, "Journal close record failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}
