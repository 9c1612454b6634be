package execution

import (
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// TradeParams is the immutable per-cycle trading snapshot.
type TradeParams struct {
	BuyAmount   decimal.Decimal `json:"buy_amount"`   // SOL
	SlippagePct decimal.Decimal `json:"slippage_pct"` // 0-100
	PriorityFee uint64          `json:"priority_fee"` // micro-lamports per CU, 0 = estimate
}

// Side is the swap direction relative to SOL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome is the result of one buy or sell. Signature is set iff Success;
// Err is set iff !Success.
type Outcome struct {
	Side    Side          `json:"side"`
	Mint    solana.Pubkey `json:"mint"`
	Success bool          `json:"success"`

	Signature solana.Signature `json:"signature,omitempty"`

	// Realized amounts from the executed route, in base units.
	InAmount    uint64 `json:"in_amount"`
	InDecimals  uint8  `json:"in_decimals"`
	OutAmount   uint64 `json:"out_amount"`
	OutDecimals uint8  `json:"out_decimals"`

	Err  error       `json:"-"`
	Kind FailureKind `json:"kind,omitempty"`

	// Submitted carries the signature of a transaction whose outcome is
	// unknown (confirmation timeout) so the operator can look it up.
	Submitted solana.Signature `json:"submitted,omitempty"`
}

func succeeded(side Side, mint solana.Pubkey, sig solana.Signature) Outcome {
	return Outcome{Side: side, Mint: mint, Success: true, Signature: sig}
}

func failed(side Side, mint solana.Pubkey, err error) Outcome {
	return Outcome{Side: side, Mint: mint, Err: err, Kind: Classify(err)}
}

// ClampPct bounds a percentage to [0, 100].
func ClampPct(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

var hundred = decimal.NewFromInt(100)

// SellQuantity is held * pct / 100 in base units, rounded down and never more
// than held.
func SellQuantity(held uint64, pct decimal.Decimal) uint64 {
	pct = ClampPct(pct)
	qty := decimal.NewFromUint64(held).Mul(pct).Shift(-2).Floor()
	if !qty.IsPositive() {
		return 0
	}
	out := qty.BigInt().Uint64()
	if out > held {
		return held
	}
	return out
}

// SlippageBps converts a percentage to basis points, bounded to [0, 10000].
func SlippageBps(pct decimal.Decimal) int {
	return int(ClampPct(pct).Shift(2).Round(0).IntPart())
}
