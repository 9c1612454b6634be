package sniper

import (
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Take-profit exit rule
// ---------------------------------------------------------------------------

var hundred = decimal.NewFromInt(100)

// TakeProfit fires a partial exit once unrealized gain reaches ThresholdPct.
type TakeProfit struct {
	ThresholdPct decimal.Decimal `yaml:"threshold_pct"` // e.g. 50 = +50%
	ExitPct      decimal.Decimal `yaml:"exit_pct"`      // % of holding to sell
}

// DefaultTakeProfit sells 80% at +50%.
func DefaultTakeProfit() TakeProfit {
	return TakeProfit{
		ThresholdPct: decimal.NewFromInt(50),
		ExitPct:      decimal.NewFromInt(80),
	}
}

// GainPct is (current - entry) / entry * 100. Zero when entry is not positive.
func GainPct(entry, current decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(entry).Div(entry).Mul(hundred)
}

// Evaluate returns the gain and whether the rule fires.
func (tp TakeProfit) Evaluate(entry, current decimal.Decimal) (decimal.Decimal, bool) {
	if !entry.IsPositive() || !current.IsPositive() {
		return decimal.Zero, false
	}
	gain := GainPct(entry, current)
	return gain, gain.GreaterThanOrEqual(tp.ThresholdPct)
}
