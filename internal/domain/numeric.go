package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizePercent converts operator-entered percent values to fractions.
// Accepted inputs: strings with a trailing '%' ("5%" -> 0.05) and bare
// numbers where magnitude decides the unit: |x| >= 0.5 is read as a percent
// ("1.2" -> 0.012, "0.8" -> 0.008) while |x| < 0.5 is already a fraction
// ("0.003" -> 0.003). Sign is preserved. Unparseable input yields 0.
func NormalizePercent(raw string) float64 {
	s := strings.TrimSpace(raw)
	explicit := strings.HasSuffix(s, "%")
	if explicit {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if explicit {
		return x / 100.0
	}
	return normalizePercentValue(x)
}

func normalizePercentValue(x float64) float64 {
	ax := x
	if ax < 0 {
		ax = -ax
	}
	if ax >= 0.5 {
		return x / 100.0
	}
	return x
}

// FloorToStep truncates value down to a multiple of step. Truncation, never
// rounding up: over-ordering by one step can fail on the exchange while
// under-ordering cannot. A non-positive step is a no-op.
func FloorToStep(value, step float64) float64 {
	return quantize(value, step, false)
}

// CeilToStep raises value up to a multiple of step. Used for short-side
// protective prices which must sit away from zero. A non-positive step is a
// no-op.
func CeilToStep(value, step float64) float64 {
	return quantize(value, step, true)
}

func quantize(value, step float64, up bool) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	q := v.Div(s)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	out, _ := q.Mul(s).Float64()
	return out
}
