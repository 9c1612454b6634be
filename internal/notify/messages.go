package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// Message builders. Amounts arrive in base units and are converted to human
// units here, at formatting time only.

// Amount is a raw on-chain quantity with its precision.
type Amount struct {
	Raw      uint64
	Decimals uint8
}

// SOL wraps a lamport amount.
func SOL(lamports uint64) Amount {
	return Amount{Raw: lamports, Decimals: solana.SOLDecimals}
}

func (a Amount) String() string {
	return solana.ToUI(a.Raw, a.Decimals).String()
}

// LowScore warns that a candidate was rejected by the score gate.
func LowScore(mint solana.Pubkey, score, minScore float64) string {
	return fmt.Sprintf("⚠️ Low contract score (%s < %s) for %s",
		decimal.NewFromFloat(score).String(), decimal.NewFromFloat(minScore).String(), mint)
}

// BuySucceeded reports a confirmed buy.
func BuySucceeded(mint solana.Pubkey, symbol string, spent, received Amount, sig solana.Signature) string {
	var b strings.Builder
	b.WriteString("🎯 Token sniped\n")
	fmt.Fprintf(&b, "Token: %s%s\n", mint, symbolSuffix(symbol))
	fmt.Fprintf(&b, "Spent: %s SOL\n", spent)
	fmt.Fprintf(&b, "Received: %s\n", received)
	fmt.Fprintf(&b, "Signature: %s", sig)
	return b.String()
}

// BuyFailed reports a buy that did not execute.
func BuyFailed(mint solana.Pubkey, kind string, err error) string {
	return fmt.Sprintf("❌ Buy failed (%s)\nToken: %s\nError: %v", kind, mint, err)
}

// BuyUnconfirmed reports a buy whose confirmation timed out. It may still land.
func BuyUnconfirmed(mint solana.Pubkey, sig solana.Signature) string {
	return fmt.Sprintf("⏳ Buy UNCONFIRMED, may still land\nToken: %s\nSignature: %s\nCheck the wallet manually; this token is blocked until restart.", mint, sig)
}

// TakeProfitExecuted reports a successful take-profit sell.
func TakeProfitExecuted(mint solana.Pubkey, gainPct decimal.Decimal, sold, received Amount, sig solana.Signature) string {
	var b strings.Builder
	b.WriteString("💰 Take profit executed\n")
	fmt.Fprintf(&b, "Token: %s\n", mint)
	fmt.Fprintf(&b, "Gain: %s%%\n", gainPct.StringFixed(2))
	fmt.Fprintf(&b, "Sold: %s\n", sold)
	fmt.Fprintf(&b, "Received: %s SOL\n", received)
	fmt.Fprintf(&b, "Signature: %s", sig)
	return b.String()
}

// SellFailed reports a take-profit sell that failed; the position stays open.
func SellFailed(mint solana.Pubkey, kind string, err error) string {
	return fmt.Sprintf("❌ Take-profit sell failed (%s), will retry\nToken: %s\nError: %v", kind, mint, err)
}

// SellUnconfirmed reports a take-profit sell whose confirmation timed out.
// The position stays open and no new sell is sent until the signature resolves.
func SellUnconfirmed(mint solana.Pubkey, sig solana.Signature) string {
	return fmt.Sprintf("⏳ Take-profit sell UNCONFIRMED, may still land\nToken: %s\nSignature: %s\nPosition stays open; no new sell until this signature resolves.", mint, sig)
}

// PendingSellLanded reports that an unconfirmed take-profit sell landed later.
func PendingSellLanded(mint solana.Pubkey, sig solana.Signature) string {
	return fmt.Sprintf("💰 Take profit executed (confirmed late)\nToken: %s\nSignature: %s", mint, sig)
}

// PendingSellDropped reports that an unconfirmed sell failed or expired, so
// the take-profit rule may sell again.
func PendingSellDropped(mint solana.Pubkey, sig solana.Signature, why string) string {
	return fmt.Sprintf("❌ Take-profit sell did not land (%s), will retry\nToken: %s\nSignature: %s", why, mint, sig)
}

// PositionEmpty reports a position closed because nothing was left to sell.
func PositionEmpty(mint solana.Pubkey) string {
	return fmt.Sprintf("ℹ️ Position closed, wallet holds none of the token\nToken: %s", mint)
}

// PositionCancelled reports an operator cancellation.
func PositionCancelled(mint solana.Pubkey) string {
	return fmt.Sprintf("🛑 Position monitoring cancelled\nToken: %s", mint)
}

// HealthAlert reports a component health transition.
func HealthAlert(component, level, message string) string {
	icon := "ℹ️"
	switch level {
	case "critical":
		icon = "🚨"
	case "warn":
		icon = "⚠️"
	}
	return fmt.Sprintf("%s Health: %s\n%s", icon, component, message)
}

func symbolSuffix(symbol string) string {
	if symbol == "" {
		return ""
	}
	return " ($" + symbol + ")"
}
