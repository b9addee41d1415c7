package binancemargin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.MarginExchange interface using the go-binance
// library against the spot/margin API.
type Client struct {
	api    *binance.Client
	logger ports.Logger
	clock  *ClockSync

	filtersMu sync.Mutex
	filters   map[string]*ports.SymbolFilters
}

// Config holds configuration specific to the Binance margin adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	Logger       ports.Logger
	ClockRefresh time.Duration // How long a server-time offset stays valid
}

// New creates a new Binance margin adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance margin client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		api.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance margin client configured for Testnet", map[string]interface{}{"baseURL": api.BaseURL})
	} else {
		api.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance margin client configured for Production", map[string]interface{}{"baseURL": api.BaseURL})
	}

	c := &Client{
		api:     api,
		logger:  cfg.Logger,
		filters: make(map[string]*ports.SymbolFilters),
	}
	c.clock = NewClockSync(func(ctx context.Context) error {
		_, err := api.NewSetServerTimeService().Do(ctx)
		return err
	}, cfg.ClockRefresh)
	return c, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			// Drop the cached offset so the next signed call resyncs first.
			c.clock.Invalidate()
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1115, -1116, -1117, -1120, -1121, -1125, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -1013: // Filter failure (LOT_SIZE, PRICE_FILTER, MIN_NOTIONAL)
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -3006: // Borrow amount exceeds maximum borrowable
			mappedErr = ports.ErrBorrowRepayFailed
		case -3015: // Repay amount exceeds borrowed amount
			mappedErr = ports.ErrBorrowRepayFailed
		case -3020: // Transfer out amount exceeds max amount
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Balance is not enough
			mappedErr = ports.ErrInsufficientFunds
		case -3045: // The system does not have enough asset now
			mappedErr = ports.ErrBorrowRepayFailed
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SyncClock refreshes the cached server-time offset if stale.
func (c *Client) SyncClock(ctx context.Context) error {
	op := "SyncClock"
	if err := c.clock.Ensure(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// TickerPrice retrieves the last traded price for a given symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "TickerPrice"
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// AccountBalances reads the raw margin balance rows for the requested mode.
func (c *Client) AccountBalances(ctx context.Context, symbol string, isolated bool) (*ports.BalanceSheet, error) {
	op := "AccountBalances"
	if err := c.clock.Ensure(ctx); err != nil {
		c.logger.Debug(ctx, op+": clock refresh failed, proceeding with cached offset", map[string]interface{}{"error": err.Error()})
	}

	if isolated {
		account, err := c.api.NewGetIsolatedMarginAccountService().Symbols(symbol).Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		sheet := &ports.BalanceSheet{}
		for _, row := range account.Assets {
			sheet.Isolated = append(sheet.Isolated, ports.IsolatedRow{
				Symbol: row.Symbol,
				Base:   translateIsolatedAsset(row.BaseAsset),
				Quote:  translateIsolatedAsset(row.QuoteAsset),
			})
		}
		return sheet, nil
	}

	account, err := c.api.NewGetMarginAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	sheet := &ports.BalanceSheet{}
	for _, ua := range account.UserAssets {
		sheet.Cross = append(sheet.Cross, translateUserAsset(ua))
	}
	return sheet, nil
}

// MaxBorrowable retrieves the maximum borrowable amount for an asset.
func (c *Client) MaxBorrowable(ctx context.Context, asset, symbol string, isolated bool) (float64, error) {
	op := "MaxBorrowable"
	svc := c.api.NewGetMaxBorrowableService().Asset(asset)
	if isolated {
		svc = svc.IsolatedSymbol(symbol)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	amount, err := strconv.ParseFloat(res.Amount, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse max borrowable '%s' for asset %s: %w", res.Amount, asset, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return amount, nil
}

// ListOpenOrders returns the currently open margin orders for the symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string, isolated bool) ([]ports.OpenOrder, error) {
	op := "ListOpenOrders"
	orders, err := c.api.NewListMarginOpenOrdersService().Symbol(symbol).IsIsolated(isolated).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		out = append(out, ports.OpenOrder{
			OrderID:   o.OrderID,
			Side:      domain.OrderSide(o.Side),
			Type:      string(o.Type),
			Price:     price,
			StopPrice: stopPrice,
			Quantity:  qty,
		})
	}
	return out, nil
}

// CancelOpenOrders cancels every open margin order for the symbol, one by
// one. Individual cancel failures are logged and skipped so one stuck order
// does not block the sweep.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string, isolated bool) error {
	op := "CancelOpenOrders"
	orders, err := c.ListOpenOrders(ctx, symbol, isolated)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(orders) == 0 {
		return nil
	}

	for _, o := range orders {
		_, cancelErr := c.api.NewCancelMarginOrderService().
			Symbol(symbol).
			OrderID(o.OrderID).
			IsIsolated(isolated).
			Do(ctx)
		if cancelErr != nil {
			c.handleError(ctx, cancelErr, op)
			continue
		}
		c.logger.Debug(ctx, op+": canceled order", map[string]interface{}{"symbol": symbol, "orderID": o.OrderID, "type": o.Type})
	}
	return nil
}

// BorrowOrRepay moves a margin loan in the given direction.
func (c *Client) BorrowOrRepay(ctx context.Context, asset string, amount float64, action ports.LoanAction, symbol string, isolated bool) error {
	op := "BorrowOrRepay"
	if amount <= 0 {
		return nil
	}
	amountStr := formatQuantity(amount)

	var err error
	switch action {
	case ports.LoanBorrow:
		svc := c.api.NewMarginLoanService().Asset(asset).Amount(amountStr)
		if isolated {
			svc = svc.IsIsolated(true).Symbol(symbol)
		}
		_, err = svc.Do(ctx)
	case ports.LoanRepay:
		svc := c.api.NewMarginRepayService().Asset(asset).Amount(amountStr)
		if isolated {
			svc = svc.IsIsolated(true).Symbol(symbol)
		}
		_, err = svc.Do(ctx)
	default:
		return fmt.Errorf("%s: unknown loan action %q", op, action)
	}
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"asset": asset, "amount": amountStr, "action": string(action)})
	return nil
}

// MarketOrder places a margin market order for a base quantity.
func (c *Client) MarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, isolated, autoBorrow, autoRepay bool) (*ports.OrderFill, error) {
	op := "MarketOrder"
	if err := c.clock.Ensure(ctx); err != nil {
		c.logger.Debug(ctx, op+": clock refresh failed, proceeding with cached offset", map[string]interface{}{"error": err.Error()})
	}

	order, err := c.api.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		IsIsolated(isolated).
		SideEffectType(sideEffect(autoBorrow, autoRepay)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fill := translateOrderFill(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": quantity,
		"orderID":  fill.OrderID,
		"executed": fill.ExecutedQty,
		"status":   fill.Status,
	})
	return fill, nil
}

// PlaceStopLossLimit places a STOP_LOSS_LIMIT order with the stop and limit
// legs at the same price.
func (c *Client) PlaceStopLossLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice float64, isolated, autoRepay bool) error {
	op := "PlaceStopLossLimit"
	effect := binance.SideEffectTypeNoSideEffect
	if autoRepay {
		effect = binance.SideEffectTypeAutoRepay
	}

	priceStr := formatQuantity(stopPrice)
	_, err := c.api.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQuantity(quantity)).
		Price(priceStr).
		StopPrice(priceStr).
		IsIsolated(isolated).
		SideEffectType(effect).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": string(side), "quantity": quantity, "stopPrice": stopPrice})
	return nil
}

// PlaceTakeProfitLimit places a TAKE_PROFIT_LIMIT order with the trigger and
// limit legs at the same price.
func (c *Client) PlaceTakeProfitLimit(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64, isolated, autoRepay bool) error {
	op := "PlaceTakeProfitLimit"
	effect := binance.SideEffectTypeNoSideEffect
	if autoRepay {
		effect = binance.SideEffectTypeAutoRepay
	}

	priceStr := formatQuantity(price)
	_, err := c.api.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeTakeProfitLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQuantity(quantity)).
		Price(priceStr).
		StopPrice(priceStr).
		IsIsolated(isolated).
		SideEffectType(effect).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": string(side), "quantity": quantity, "price": price})
	return nil
}

// PlaceOCO places a combined conditional pair: take-profit limit leg plus
// stop-loss stop-limit leg.
func (c *Client) PlaceOCO(ctx context.Context, symbol string, side domain.OrderSide, quantity, limitPrice, stopPrice float64, isolated, autoRepay bool) error {
	op := "PlaceOCO"
	effect := binance.SideEffectTypeNoSideEffect
	if autoRepay {
		effect = binance.SideEffectTypeAutoRepay
	}

	stopStr := formatQuantity(stopPrice)
	_, err := c.api.NewCreateMarginOCOService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Quantity(formatQuantity(quantity)).
		Price(formatQuantity(limitPrice)).
		StopPrice(stopStr).
		StopLimitPrice(stopStr).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		IsIsolated(isolated).
		SideEffectType(effect).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    symbol,
		"side":      string(side),
		"quantity":  quantity,
		"tpPrice":   limitPrice,
		"stopPrice": stopPrice,
	})
	return nil
}

// SymbolFilters returns lot-size and price-tick rules, cached per symbol for
// the client lifetime. Trading rules change rarely enough that a restart is
// an acceptable refresh.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	op := "SymbolFilters"

	c.filtersMu.Lock()
	if cached, ok := c.filters[symbol]; ok {
		c.filtersMu.Unlock()
		return cached, nil
	}
	c.filtersMu.Unlock()

	info, err := c.api.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		filters := &ports.SymbolFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			filters.LotStep, _ = strconv.ParseFloat(lot.StepSize, 64)
			filters.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
		}
		if pf := s.PriceFilter(); pf != nil {
			filters.PriceTick, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		c.filtersMu.Lock()
		c.filters[symbol] = filters
		c.filtersMu.Unlock()
		c.logger.Debug(ctx, op+": cached trading rules", map[string]interface{}{
			"symbol":  symbol,
			"lotStep": filters.LotStep,
			"minQty":  filters.MinQty,
			"tick":    filters.PriceTick,
		})
		return filters, nil
	}

	err = fmt.Errorf("symbol %s not present in exchange info", symbol)
	return nil, c.handleError(ctx, err, op)
}

// --- Translation Helpers ---

// sideEffect maps the auto-borrow/auto-repay pair onto the Binance margin
// side-effect parameter for opening market orders.
func sideEffect(autoBorrow, autoRepay bool) binance.SideEffectType {
	switch {
	case autoBorrow && autoRepay:
		return binance.SideEffectTypeAutoBorrowRepay
	case autoBorrow:
		return binance.SideEffectTypeMarginBuy
	case autoRepay:
		return binance.SideEffectTypeAutoRepay
	default:
		return binance.SideEffectTypeNoSideEffect
	}
}

// formatQuantity renders a float without exponent notation and without
// trailing zeros, which is what the order endpoints accept.
func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func translateOrderFill(order *binance.CreateOrderResponse) *ports.OrderFill {
	if order == nil {
		return nil
	}
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	return &ports.OrderFill{
		OrderID:         order.OrderID,
		ExecutedQty:     execQty,
		CumulativeQuote: cumQuote,
		Status:          string(order.Status),
	}
}

func translateUserAsset(ua binance.UserAsset) ports.AssetBalance {
	free, _ := strconv.ParseFloat(ua.Free, 64)
	locked, _ := strconv.ParseFloat(ua.Locked, 64)
	borrowed, _ := strconv.ParseFloat(ua.Borrowed, 64)
	interest, _ := strconv.ParseFloat(ua.Interest, 64)
	return ports.AssetBalance{
		Asset:    ua.Asset,
		Free:     free,
		Locked:   locked,
		Borrowed: borrowed,
		Interest: interest,
	}
}

func translateIsolatedAsset(ia binance.IsolatedUserAsset) ports.AssetBalance {
	free, _ := strconv.ParseFloat(ia.Free, 64)
	locked, _ := strconv.ParseFloat(ia.Locked, 64)
	borrowed, _ := strconv.ParseFloat(ia.Borrowed, 64)
	interest, _ := strconv.ParseFloat(ia.Interest, 64)
	return ports.AssetBalance{
		Asset:    ia.Asset,
		Free:     free,
		Locked:   locked,
		Borrowed: borrowed,
		Interest: interest,
	}
}
