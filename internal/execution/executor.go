// Package execution turns buy/sell requests into confirmed on-chain swaps.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// Router is the liquidity-aggregator surface the executor needs.
type Router interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	BuildSwapTx(ctx context.Context, quote *jupiter.Quote, user solana.Pubkey, computeUnitPrice uint64) (*jupiter.SwapResponse, error)
}

// FeeEstimator supplies a compute-unit price when the configured fee is 0.
type FeeEstimator interface {
	ComputeUnitPrice() uint64
}

// ---------------------------------------------------------------------------
// Live Executor: quote, build, sign, submit, confirm
// ---------------------------------------------------------------------------

// Executor executes swaps against the network.
type Executor struct {
	router    Router
	rpc       solana.RPCClient
	signer    solana.Signer
	confirmer solana.Confirmer
	fees      FeeEstimator
	history   *History

	// Stats.
	buys        atomic.Int64
	sells       atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	unconfirmed atomic.Int64
}

// NewExecutor creates a live executor. fees may be nil.
func NewExecutor(router Router, rpc solana.RPCClient, signer solana.Signer, confirmer solana.Confirmer, fees FeeEstimator) *Executor {
	return &Executor{
		router:    router,
		rpc:       rpc,
		signer:    signer,
		confirmer: confirmer,
		fees:      fees,
		history:   NewHistory(100),
	}
}

// Buy swaps params.BuyAmount SOL into mint.
func (e *Executor) Buy(ctx context.Context, mint solana.Pubkey, params TradeParams) Outcome {
	e.buys.Add(1)

	lamports := solana.FromUI(params.BuyAmount, solana.SOLDecimals)
	if lamports == 0 {
		return e.finish(failed(SideBuy, mint, fmt.Errorf("%w: buy amount %s", ErrInvalidParams, params.BuyAmount)))
	}

	outDecimals, err := e.rpc.GetMintDecimals(ctx, mint)
	if err != nil {
		return e.finish(failed(SideBuy, mint, fmt.Errorf("%w: mint decimals: %v", ErrUnavailable, err)))
	}

	out := e.swap(ctx, SideBuy, mint, jupiter.QuoteRequest{
		InputMint:   solana.SOLMint,
		OutputMint:  mint,
		Amount:      lamports,
		SlippageBps: SlippageBps(params.SlippagePct),
	}, params)
	out.InDecimals = solana.SOLDecimals
	out.OutDecimals = outDecimals
	return e.finish(out)
}

// Sell swaps pct percent of the wallet's mint holding back into SOL.
func (e *Executor) Sell(ctx context.Context, mint solana.Pubkey, pct decimal.Decimal, params TradeParams) Outcome {
	e.sells.Add(1)

	bal, err := e.rpc.GetTokenBalance(ctx, e.signer.PublicKey(), mint)
	if err != nil {
		return e.finish(failed(SideSell, mint, fmt.Errorf("%w: token balance: %v", ErrUnavailable, err)))
	}

	qty := SellQuantity(bal.Amount, pct)
	if qty == 0 {
		return e.finish(failed(SideSell, mint, fmt.Errorf("%w: held=%d pct=%s", ErrNothingToSell, bal.Amount, ClampPct(pct))))
	}

	out := e.swap(ctx, SideSell, mint, jupiter.QuoteRequest{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		Amount:      qty,
		SlippageBps: SlippageBps(params.SlippagePct),
	}, params)
	out.InDecimals = bal.Decimals
	out.OutDecimals = solana.SOLDecimals
	return e.finish(out)
}

func (e *Executor) swap(ctx context.Context, side Side, mint solana.Pubkey, req jupiter.QuoteRequest, params TradeParams) Outcome {
	sw := NewSwap(side, mint, false)
	e.history.Add(sw)

	quote, err := e.router.GetQuote(ctx, req)
	if err != nil {
		if errors.Is(err, jupiter.ErrNoRoute) {
			err = fmt.Errorf("%w: %v", ErrNoRoute, err)
		} else {
			err = fmt.Errorf("%w: quote: %v", ErrUnavailable, err)
		}
		sw.Fail(err)
		return failed(side, mint, err)
	}
	_ = sw.Transition(EventQuote, func(s *Swap) {
		s.InAmount = quote.In()
		s.OutAmount = quote.Out()
		s.Route = quote.Labels()
	})

	tx, err := e.router.BuildSwapTx(ctx, quote, e.signer.PublicKey(), e.computeUnitPrice(params))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBuildFailed, err)
		sw.Fail(err)
		return failed(side, mint, err)
	}

	signed, sig, err := e.signer.SignTransaction(tx.SwapTransaction)
	if err != nil {
		err = fmt.Errorf("%w: sign: %v", ErrBuildFailed, err)
		sw.Fail(err)
		return failed(side, mint, err)
	}
	_ = sw.Transition(EventBuild, func(s *Swap) { s.Signature = sig })

	if _, err := e.rpc.SendTransaction(ctx, signed); err != nil {
		err = fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		sw.Fail(err)
		return failed(side, mint, err)
	}
	_ = sw.Transition(EventSubmit, nil)

	// The transaction is on the wire: cancelling ctx must not turn into an
	// unconfirmed outcome. The confirmer applies its own deadline.
	if err := e.confirmer.Confirm(context.WithoutCancel(ctx), sig); err != nil {
		switch {
		case errors.Is(err, solana.ErrTxFailed):
			err = fmt.Errorf("%w: %v", ErrTransactionFailed, err)
			sw.Fail(err)
			return failed(side, mint, err)
		default:
			err = fmt.Errorf("%w: %s: %v", ErrConfirmationTimeout, sig, err)
			_ = sw.Transition(EventTimeout, func(s *Swap) { s.Error = err.Error() })
			out := failed(side, mint, err)
			out.Submitted = sig
			return out
		}
	}
	_ = sw.Transition(EventConfirm, nil)

	out := succeeded(side, mint, sig)
	out.InAmount = quote.In()
	out.OutAmount = quote.Out()
	return out
}

// TxStatus reports the on-chain state of a previously submitted signature.
func (e *Executor) TxStatus(ctx context.Context, sig solana.Signature) (solana.TxStatus, error) {
	return e.rpc.GetTransactionStatus(ctx, sig)
}

func (e *Executor) computeUnitPrice(params TradeParams) uint64 {
	if params.PriorityFee > 0 || e.fees == nil {
		return params.PriorityFee
	}
	return e.fees.ComputeUnitPrice()
}

func (e *Executor) finish(out Outcome) Outcome {
	switch {
	case out.Success:
		e.successes.Add(1)
		log.Info().
			Str("side", string(out.Side)).
			Str("mint", out.Mint.Short()).
			Str("sig", out.Signature.Short()).
			Uint64("in", out.InAmount).
			Uint64("out", out.OutAmount).
			Msg("execution: swap CONFIRMED")
	case out.Kind == KindConfirmationTimeout:
		e.unconfirmed.Add(1)
		log.Error().
			Str("side", string(out.Side)).
			Str("mint", out.Mint.Short()).
			Str("sig", string(out.Submitted)).
			Msg("execution: swap UNCONFIRMED, may still land")
	default:
		e.failures.Add(1)
		log.Warn().
			Err(out.Err).
			Str("side", string(out.Side)).
			Str("mint", out.Mint.Short()).
			Str("kind", string(out.Kind)).
			Msg("execution: swap failed")
	}
	return out
}

// Recent returns the latest swap attempts, newest first.
func (e *Executor) Recent() []SwapView {
	return e.history.Recent()
}

// ExecutorStats returns executor statistics.
type ExecutorStats struct {
	Buys        int64 `json:"buys"`
	Sells       int64 `json:"sells"`
	Successes   int64 `json:"successes"`
	Failures    int64 `json:"failures"`
	Unconfirmed int64 `json:"unconfirmed"`
}

func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Buys:        e.buys.Load(),
		Sells:       e.sells.Load(),
		Successes:   e.successes.Load(),
		Failures:    e.failures.Load(),
		Unconfirmed: e.unconfirmed.Load(),
	}
}
