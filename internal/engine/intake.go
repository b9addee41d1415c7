package engine

import (
	"strconv"
	"strings"
	"time"

	"marginAutoBot/internal/domain"
)

// gateDecision is the outcome of running a dequeued signal through the
// intake rules.
type gateDecision int

const (
	gateDrop gateDecision = iota
	gateHold
	gateTrade
)

// SignalIntake validates, deduplicates and arm-gates signals before they
// reach execution. Arm state protects against acting on signals that were
// queued before the operator enabled trading.
type SignalIntake struct {
	armedAt time.Time
	armed   bool
	lastAt  string
	hasLast bool
}

// NewSignalIntake creates an unarmed intake.
func NewSignalIntake() *SignalIntake {
	return &SignalIntake{}
}

// Arm records the enable instant; any signal timestamped at or before it is
// stale. Arming also forgets the previous dedup key so a re-enabled bot
// starts clean.
func (g *SignalIntake) Arm(now time.Time) {
	g.armedAt = now.UTC()
	g.armed = true
	g.lastAt = ""
	g.hasLast = false
}

// Disarm clears the arm gate.
func (g *SignalIntake) Disarm() {
	g.armed = false
}

// Gate applies the intake rules in order; the first matching rule
// short-circuits. The returned reason describes drops for logging.
func (g *SignalIntake) Gate(sig *domain.Signal, enabled, connected bool, now time.Time) (gateDecision, string) {
	if sig == nil {
		return gateDrop, "nil signal"
	}
	if !enabled {
		return gateDrop, "trading disabled"
	}
	if !connected {
		return gateDrop, "signal source not connected"
	}

	at := ParseSignalTime(sig.At, now)
	if g.armed && !at.After(g.armedAt) {
		return gateDrop, "pre-arm signal"
	}

	if g.hasLast && sig.At == g.lastAt {
		return gateDrop, "duplicate at=" + sig.At
	}
	g.lastAt = sig.At
	g.hasLast = true

	switch sig.Kind {
	case domain.SignalHold:
		return gateHold, ""
	case domain.SignalBuy, domain.SignalSell:
		return gateTrade, ""
	default:
		return gateDrop, "unknown signal kind '" + string(sig.Kind) + "'"
	}
}

// ParseSignalTime parses a signal timestamp. Accepted forms: numeric epoch
// seconds or milliseconds (values above 1e12 are milliseconds), RFC 3339
// (a trailing Z meaning UTC), and naive ISO date-times assumed UTC. Anything
// unparseable defaults to now. All results are UTC.
func ParseSignalTime(raw string, now time.Time) time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now.UTC()
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 1e12 {
			f = f / 1000.0
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return now.UTC()
}
