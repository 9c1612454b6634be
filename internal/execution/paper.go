package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// PaperExecutor simulates swap execution for dry runs. It quotes real routes
// so fills reflect live liquidity, but never signs or submits anything.
// Holdings are tracked in memory so take-profit sells work.
//
// Thread-safe: all shared state is guarded by mu.
type PaperExecutor struct {
	router Router
	rpc    solana.RPCClient

	mu       sync.Mutex
	holdings map[solana.Pubkey]solana.TokenBalance
	lamports int64 // net SOL flow, negative after buys

	history *History
	fills   atomic.Int64
}

// NewPaperExecutor creates a dry-run executor.
func NewPaperExecutor(router Router, rpc solana.RPCClient) *PaperExecutor {
	log.Info().Msg("execution: paper executor initialized, no transactions will be sent")
	return &PaperExecutor{
		router:   router,
		rpc:      rpc,
		holdings: make(map[solana.Pubkey]solana.TokenBalance),
		history:  NewHistory(100),
	}
}

// Buy simulates swapping params.BuyAmount SOL into mint at the quoted route.
func (p *PaperExecutor) Buy(ctx context.Context, mint solana.Pubkey, params TradeParams) Outcome {
	lamports := solana.FromUI(params.BuyAmount, solana.SOLDecimals)
	if lamports == 0 {
		return failed(SideBuy, mint, fmt.Errorf("%w: buy amount %s", ErrInvalidParams, params.BuyAmount))
	}

	decimals, err := p.rpc.GetMintDecimals(ctx, mint)
	if err != nil {
		return failed(SideBuy, mint, fmt.Errorf("%w: mint decimals: %v", ErrUnavailable, err))
	}

	out := p.fill(ctx, SideBuy, mint, jupiter.QuoteRequest{
		InputMint:   solana.SOLMint,
		OutputMint:  mint,
		Amount:      lamports,
		SlippageBps: SlippageBps(params.SlippagePct),
	})
	if !out.Success {
		return out
	}
	out.InDecimals = solana.SOLDecimals
	out.OutDecimals = decimals

	p.mu.Lock()
	h := p.holdings[mint]
	h.Mint = mint
	h.Decimals = decimals
	h.Amount += out.OutAmount
	p.holdings[mint] = h
	p.lamports -= int64(out.InAmount)
	p.mu.Unlock()

	return out
}

// Sell simulates selling pct percent of the paper holding.
func (p *PaperExecutor) Sell(ctx context.Context, mint solana.Pubkey, pct decimal.Decimal, params TradeParams) Outcome {
	p.mu.Lock()
	held := p.holdings[mint]
	p.mu.Unlock()

	qty := SellQuantity(held.Amount, pct)
	if qty == 0 {
		return failed(SideSell, mint, fmt.Errorf("%w: paper held=%d pct=%s", ErrNothingToSell, held.Amount, ClampPct(pct)))
	}

	out := p.fill(ctx, SideSell, mint, jupiter.QuoteRequest{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		Amount:      qty,
		SlippageBps: SlippageBps(params.SlippagePct),
	})
	if !out.Success {
		return out
	}
	out.InDecimals = held.Decimals
	out.OutDecimals = solana.SOLDecimals

	p.mu.Lock()
	h := p.holdings[mint]
	if out.InAmount >= h.Amount {
		delete(p.holdings, mint)
	} else {
		h.Amount -= out.InAmount
		p.holdings[mint] = h
	}
	p.lamports += int64(out.OutAmount)
	p.mu.Unlock()

	return out
}

func (p *PaperExecutor) fill(ctx context.Context, side Side, mint solana.Pubkey, req jupiter.QuoteRequest) Outcome {
	sw := NewSwap(side, mint, true)
	p.history.Add(sw)

	quote, err := p.router.GetQuote(ctx, req)
	if err != nil {
		if errors.Is(err, jupiter.ErrNoRoute) {
			err = fmt.Errorf("%w: %v", ErrNoRoute, err)
		} else {
			err = fmt.Errorf("%w: quote: %v", ErrUnavailable, err)
		}
		sw.Fail(err)
		return failed(side, mint, err)
	}

	sig := solana.Signature("DRYRUN-" + uuid.New().String())
	_ = sw.Transition(EventQuote, func(s *Swap) {
		s.InAmount = quote.In()
		s.OutAmount = quote.Out()
		s.Route = quote.Labels()
	})
	_ = sw.Transition(EventBuild, func(s *Swap) { s.Signature = sig })
	_ = sw.Transition(EventSubmit, nil)
	_ = sw.Transition(EventConfirm, nil)

	p.fills.Add(1)
	log.Info().
		Str("side", string(side)).
		Str("mint", mint.Short()).
		Str("in", quote.InAmount).
		Str("out", quote.OutAmount).
		Msg("execution: paper fill")

	out := succeeded(side, mint, sig)
	out.InAmount = quote.In()
	out.OutAmount = quote.Out()
	return out
}

// TxStatus reports every paper signature as finalized; nothing is ever left
// pending in a dry run.
func (p *PaperExecutor) TxStatus(context.Context, solana.Signature) (solana.TxStatus, error) {
	return solana.TxFinalized, nil
}

// Holding returns the simulated balance of mint.
func (p *PaperExecutor) Holding(mint solana.Pubkey) solana.TokenBalance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[mint]
}

// NetLamports returns simulated SOL flow: proceeds minus spend.
func (p *PaperExecutor) NetLamports() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lamports
}

// Recent returns the latest simulated swaps, newest first.
func (p *PaperExecutor) Recent() []SwapView {
	return p.history.Recent()
}
