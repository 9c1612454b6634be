package scoring

import (
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/kolhunter/internal/notify"
)

// Decision is the gate verdict for one candidate.
type Decision int

const (
	// DecisionRetry: no score was obtained; try again next cycle.
	DecisionRetry Decision = iota
	// DecisionReject: a genuine score below the minimum.
	DecisionReject
	// DecisionPass: a genuine score at or above the minimum.
	DecisionPass
)

func (d Decision) String() string {
	switch d {
	case DecisionPass:
		return "PASS"
	case DecisionReject:
		return "REJECT"
	default:
		return "RETRY"
	}
}

// Gate applies the minimum-score rule. A rejection for a low score emits one
// warning notification; an unavailable score emits none.
type Gate struct {
	notifier notify.Notifier
}

// NewGate creates a gate that warns through n.
func NewGate(n notify.Notifier) *Gate {
	return &Gate{notifier: n}
}

// Check decides whether o clears minScore.
func (g *Gate) Check(o Outcome, minScore float64) Decision {
	if !o.IsScored() {
		return DecisionRetry
	}
	if o.Result.Score < minScore {
		log.Info().
			Str("mint", o.Result.Mint.Short()).
			Float64("score", o.Result.Score).
			Float64("min", minScore).
			Msg("scoring: below threshold")
		g.notifier.Notify(notify.LowScore(o.Result.Mint, o.Result.Score, minScore))
		return DecisionReject
	}
	return DecisionPass
}
