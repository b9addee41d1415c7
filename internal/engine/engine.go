package engine

import (
	"context"
	"fmt"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

const (
	tickInterval    = 200 * time.Millisecond
	monitorInterval = 3 * time.Second
	guardCooldown   = 12 * time.Second
)

// Settings is the trading configuration snapshot the engine reads fresh at
// the start of every operation, so operator changes apply without a restart.
type Settings struct {
	Symbol        string
	Mode          domain.MarginMode
	Leverage      float64 // safety percent, clamped to [0, 99]
	StopLossPct   float64 // fraction, e.g. 0.01 for 1%
	TakeProfitPct float64 // fraction
	AutoBorrow    bool
	AutoRepay     bool
	EmailEnabled  bool
}

// SettingsSource returns the current trading settings.
type SettingsSource func() Settings

// Config holds the dependencies for a PositionEngine.
type Config struct {
	Settings SettingsSource
	Exchange ports.MarginExchange
	Signals  ports.SignalSource
	Logger   ports.Logger
	Journal  ports.TradeJournal // optional
	Notifier ports.Notifier     // optional
	Window   time.Duration      // prefetch window, default 5m
	Clock    func() time.Time   // injectable for tests, default UTC now
}

// PositionEngine composes the scheduler, signal intake, order execution
// protocol and guard loop into one continuously running control loop. All
// sub-ticks run in strict sequence on the engine goroutine; ordering within
// a trade (cancel, close, verify, open, protect) depends on it.
type PositionEngine struct {
	settings SettingsSource
	exchange ports.MarginExchange
	signals  ports.SignalSource
	logger   ports.Logger
	journal  ports.TradeJournal
	notifier ports.Notifier
	clock    func() time.Time
	sleep    func(time.Duration)

	limits *BorrowLimitCache
	sched  *Scheduler
	intake *SignalIntake
	status *StatusBoard

	enabled chan bool // enable/disable requests, applied on the engine goroutine

	// State below is touched only by the engine goroutine.
	isEnabled   bool
	lastEntry   *domain.LastEntry
	prev        prevPosition
	monitorNext time.Time
	guardNext   time.Time
}

// prevPosition is the previous guard cycle's classified state, kept to detect
// background transitions.
type prevPosition struct {
	symbol        string
	state         domain.PositionState
	debtTotal     float64
	borrowedBase  float64
	borrowedQuote float64
	known         bool
}

// New creates a PositionEngine.
func New(cfg Config) (*PositionEngine, error) {
	if cfg.Settings == nil || cfg.Exchange == nil || cfg.Signals == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for PositionEngine")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PositionEngine{
		settings: cfg.Settings,
		exchange: cfg.Exchange,
		signals:  cfg.Signals,
		logger:   cfg.Logger,
		journal:  cfg.Journal,
		notifier: cfg.Notifier,
		clock:    clock,
		sleep:    time.Sleep,
		limits:   NewBorrowLimitCache(cfg.Exchange, cfg.Logger),
		sched:    NewScheduler(cfg.Window),
		intake:   NewSignalIntake(),
		status:   NewStatusBoard(),
		enabled:  make(chan bool, 4),
	}, nil
}

// Status returns the current read-only projection.
func (e *PositionEngine) Status() domain.EngineStatus {
	return e.status.Snapshot()
}

// EnableTrading arms or disarms the engine. Safe to call from any goroutine;
// the change is applied at the start of the next cycle.
func (e *PositionEngine) EnableTrading(on bool) {
	select {
	case e.enabled <- on:
	default:
		// Collapsed with a pending request; the latest write wins on drain.
	}
}

// Run drives the control loop until the context is cancelled. An error or
// panic within one cycle is logged and the loop continues on the next tick;
// there is no crash-and-restart policy.
func (e *PositionEngine) Run(ctx context.Context) error {
	e.logger.Info(ctx, "Position engine started")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Position engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *PositionEngine) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Engine cycle recovered")
		}
	}()

	e.drainEnable(ctx)
	e.tickScheduler(ctx)
	e.tickGuard(ctx)
	e.tickSignals(ctx)
}

func (e *PositionEngine) drainEnable(ctx context.Context) {
	for {
		select {
		case on := <-e.enabled:
			e.applyEnable(ctx, on)
		default:
			return
		}
	}
}

func (e *PositionEngine) applyEnable(ctx context.Context, on bool) {
	if on == e.isEnabled {
		return
	}
	e.isEnabled = on
	if on {
		now := e.clock()
		e.intake.Arm(now)
		e.status.Update(func(s *domain.EngineStatus) { s.LastAction = "ARMED"; s.Updated = now })
		e.logger.Info(ctx, "Trading armed: earlier signals are ignored, waiting for the next one")
	} else {
		e.intake.Disarm()
		e.status.Update(func(s *domain.EngineStatus) { s.LastAction = "STOP"; s.Updated = e.clock() })
		e.logger.Info(ctx, "Trading disarmed")
	}
}

// tickScheduler fires the boundary prefetch while trading is enabled and the
// signal source is live.
func (e *PositionEngine) tickScheduler(ctx context.Context) {
	if !e.isEnabled || !e.signals.Connected() {
		return
	}
	now := e.clock()
	if !e.sched.Tick(now) {
		return
	}

	set := e.settings()
	op := "Prefetch"
	if err := e.exchange.SyncClock(ctx); err != nil {
		e.logger.Warn(ctx, op+": clock sync failed", map[string]interface{}{"error": err.Error()})
	}
	if err := e.limits.Refresh(ctx, set.Symbol, set.Mode.IsIsolated(), set.Leverage); err != nil {
		e.logger.Error(ctx, err, op+": borrow limit refresh failed", map[string]interface{}{"symbol": set.Symbol})
		return
	}
	e.logPortfolio(ctx, set, 0, op)
}

// tickSignals dequeues at most one pending signal per cycle and runs it
// through the intake gates.
func (e *PositionEngine) tickSignals(ctx context.Context) {
	sig, ok := e.signals.Dequeue()
	if !ok {
		return
	}

	now := e.clock()
	decision, reason := e.intake.Gate(sig, e.isEnabled, e.signals.Connected(), now)
	switch decision {
	case gateDrop:
		e.logger.Info(ctx, "Signal dropped", map[string]interface{}{"reason": reason, "kind": string(sig.Kind), "at": sig.At})
		return
	case gateHold:
		e.status.Update(func(s *domain.EngineStatus) {
			s.Decision = "HOLD"
			s.LastAction = "NO ACTION"
			s.Symbol = sig.Pair
			s.Updated = now
		})
		e.logger.Info(ctx, "HOLD signal, no action", map[string]interface{}{"pair": sig.Pair, "at": sig.At})
		return
	}

	e.status.Update(func(s *domain.EngineStatus) {
		s.Decision = string(sig.Kind)
		s.Symbol = sig.Pair
		s.Updated = now
	})
	e.logger.Info(ctx, "Signal accepted", map[string]interface{}{"kind": string(sig.Kind), "pair": sig.Pair, "at": sig.At})

	if err := e.executeTrade(ctx, sig.Pair, sig.Kind); err != nil {
		e.logger.Error(ctx, err, "Trade execution failed", map[string]interface{}{"pair": sig.Pair, "kind": string(sig.Kind)})
	}
}

// readPosition reads balances and classifies them for the given settings.
func (e *PositionEngine) readPosition(ctx context.Context, set Settings) (balances, error) {
	base, quote := domain.SplitSymbol(set.Symbol)
	sheet, err := e.exchange.AccountBalances(ctx, set.Symbol, set.Mode.IsIsolated())
	if err != nil {
		return balances{}, fmt.Errorf("account balances: %w", err)
	}
	return classifyBalances(sheet, set.Symbol, base, quote), nil
}

// logPortfolio logs a one-line portfolio snapshot. price may be zero, in
// which case a fresh ticker read is attempted and equity is omitted on
// failure.
func (e *PositionEngine) logPortfolio(ctx context.Context, set Settings, price float64, tag string) {
	bal, err := e.readPosition(ctx, set)
	if err != nil {
		e.logger.Warn(ctx, "Portfolio snapshot failed", map[string]interface{}{"tag": tag, "error": err.Error()})
		return
	}
	if price <= 0 {
		if p, perr := e.exchange.TickerPrice(ctx, set.Symbol); perr == nil {
			price = p
		}
	}
	fields := map[string]interface{}{
		"tag":           tag,
		"symbol":        set.Symbol,
		"position":      string(bal.State()),
		"freeBase":      bal.FreeBase,
		"freeQuote":     bal.FreeQuote,
		"borrowedBase":  bal.BorrowedBase,
		"borrowedQuote": bal.BorrowedQuote,
	}
	if price > 0 {
		fields["price"] = price
		fields["estEquityQuote"] = (bal.FreeQuote - bal.BorrowedQuote) + (bal.FreeBase-bal.BorrowedBase)*price
	}
	e.logger.Info(ctx, "Portfolio snapshot", fields)
}

// notify sends a fire-and-forget operator email when a notifier is wired and
// email is enabled.
func (e *PositionEngine) notify(ctx context.Context, set Settings, subject, body string) {
	if e.notifier == nil || !set.EmailEnabled {
		return
	}
	if err := e.notifier.Send(ctx, subject, body); err != nil {
		e.logger.Warn(ctx, "Notification failed", map[string]interface{}{"subject": subject, "error": err.Error()})
	}
}
