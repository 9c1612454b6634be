package solana

import (
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Short returns the first 8 characters, for log fields.
func (p Pubkey) Short() string {
	if len(p) > 8 {
		return string(p[:8])
	}
	return string(p)
}

// Short returns the first 12 characters, for log fields.
func (s Signature) Short() string {
	if len(s) > 12 {
		return string(s[:12])
	}
	return string(s)
}

// ---------------------------------------------------------------------------
// Token balances
// ---------------------------------------------------------------------------

// TokenBalance is a wallet's holding of one SPL mint in base units.
type TokenBalance struct {
	Mint     Pubkey `json:"mint"`
	Amount   uint64 `json:"amount"` // smallest unit
	Decimals uint8  `json:"decimals"`
}

// UIAmount converts the raw amount to human units.
func (b TokenBalance) UIAmount() decimal.Decimal {
	return ToUI(b.Amount, b.Decimals)
}

// ToUI converts a base-unit amount to human units.
func ToUI(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-int32(decimals))
}

// FromUI converts a human-unit amount to base units, truncating any
// precision beyond the asset's decimals. Negative input yields zero.
func FromUI(amount decimal.Decimal, decimals uint8) uint64 {
	if !amount.IsPositive() {
		return 0
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt().Uint64()
}

// ---------------------------------------------------------------------------
// Transaction status
// ---------------------------------------------------------------------------

// TxStatus is the confirmation state reported by getSignatureStatuses.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxProcessed TxStatus = "processed"
	TxConfirmed TxStatus = "confirmed"
	TxFinalized TxStatus = "finalized"
	TxFailed    TxStatus = "failed"
)

// Landed reports whether the status counts as on-chain confirmation.
func (s TxStatus) Landed() bool {
	return s == TxConfirmed || s == TxFinalized
}

// Well-known mints.
const (
	SOLMint Pubkey = "So11111111111111111111111111111111111111112"

	// SOLDecimals is the lamport precision of native SOL.
	SOLDecimals uint8 = 9
)
