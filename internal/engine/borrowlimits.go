package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

// SafetyFactor converts the configured leverage-as-safety-percent into the
// discount applied to exchange-reported max borrowable amounts. Leverage is
// clamped to [0, 99]; the factor never drops below 0.01.
func SafetyFactor(leverage float64) float64 {
	if leverage < 0 {
		leverage = 0
	}
	if leverage > 99 {
		leverage = 99
	}
	f := 1.0 - leverage/100.0
	if f < 0.01 {
		f = 0.01
	}
	return f
}

// BorrowLimitCache holds one safety-discounted read of the per-asset maximum
// borrowable amounts, keyed by symbol. Values are reused across ticks until a
// forced refresh or a symbol change; a failed fetch keeps the previous values
// (stale-but-available beats unavailable).
type BorrowLimitCache struct {
	exchange ports.MarginExchange
	logger   ports.Logger

	mu         sync.Mutex
	symbol     string
	maxBase    float64
	maxQuote   float64
	computedAt time.Time
}

// NewBorrowLimitCache creates an empty cache bound to an exchange client.
func NewBorrowLimitCache(exchange ports.MarginExchange, logger ports.Logger) *BorrowLimitCache {
	return &BorrowLimitCache{exchange: exchange, logger: logger}
}

// Limits returns the cached discounted limits for the symbol. ok is false
// when the cache is empty or was computed for a different symbol.
func (c *BorrowLimitCache) Limits(symbol string) (maxBase, maxQuote float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbol != symbol || c.computedAt.IsZero() {
		return 0, 0, false
	}
	return c.maxBase, c.maxQuote, true
}

// Refresh re-reads both max-borrowable figures and stores them discounted by
// the safety factor for the given leverage. On fetch failure the previous
// cache entry is left intact and the error is returned for logging.
func (c *BorrowLimitCache) Refresh(ctx context.Context, symbol string, isolated bool, leverage float64) error {
	op := "BorrowLimitCache.Refresh"
	base, quote := domain.SplitSymbol(symbol)
	factor := SafetyFactor(leverage)

	rawQuote, err := c.exchange.MaxBorrowable(ctx, quote, symbol, isolated)
	if err != nil {
		c.logger.Warn(ctx, op+": keeping previous limits after fetch failure", map[string]interface{}{"symbol": symbol, "asset": quote, "error": err.Error()})
		return fmt.Errorf("max borrowable %s: %w", quote, err)
	}
	rawBase, err := c.exchange.MaxBorrowable(ctx, base, symbol, isolated)
	if err != nil {
		c.logger.Warn(ctx, op+": keeping previous limits after fetch failure", map[string]interface{}{"symbol": symbol, "asset": base, "error": err.Error()})
		return fmt.Errorf("max borrowable %s: %w", base, err)
	}

	c.mu.Lock()
	c.symbol = symbol
	c.maxBase = rawBase * factor
	c.maxQuote = rawQuote * factor
	c.computedAt = time.Now().UTC()
	maxBase, maxQuote := c.maxBase, c.maxQuote
	c.mu.Unlock()

	c.logger.Info(ctx, op+": limits cached", map[string]interface{}{
		"symbol":   symbol,
		"safety":   factor,
		"maxBase":  maxBase,
		"maxQuote": maxQuote,
	})
	return nil
}

// EnsureFresh refreshes on demand when the cache does not cover the symbol.
// Used by the trade path when a boundary prefetch has not run yet.
func (c *BorrowLimitCache) EnsureFresh(ctx context.Context, symbol string, isolated bool, leverage float64) {
	c.mu.Lock()
	covered := c.symbol == symbol && !c.computedAt.IsZero() && c.maxBase > 0
	c.mu.Unlock()
	if covered {
		return
	}
	if err := c.Refresh(ctx, symbol, isolated, leverage); err != nil {
		c.logger.Warn(ctx, "BorrowLimitCache.EnsureFresh: on-demand refresh failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

// Invalidate drops the cache entry. Called when the active symbol changes.
func (c *BorrowLimitCache) Invalidate() {
	c.mu.Lock()
	c.symbol = ""
	c.maxBase = 0
	c.maxQuote = 0
	c.computedAt = time.Time{}
	c.mu.Unlock()
}
