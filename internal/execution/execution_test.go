package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

const testMint = solana.Pubkey("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRouter struct {
	mu        sync.Mutex
	quoteErr  error
	buildErr  error
	outRatio  uint64 // out = in * outRatio
	quotes    []jupiter.QuoteRequest
	feePrices []uint64
}

func (f *fakeRouter) GetQuote(_ context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = append(f.quotes, req)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	ratio := f.outRatio
	if ratio == 0 {
		ratio = 2
	}
	return &jupiter.Quote{
		InAmount:  fmt.Sprint(req.Amount),
		OutAmount: fmt.Sprint(req.Amount * ratio),
	}, nil
}

func (f *fakeRouter) BuildSwapTx(_ context.Context, _ *jupiter.Quote, _ solana.Pubkey, price uint64) (*jupiter.SwapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feePrices = append(f.feePrices, price)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &jupiter.SwapResponse{SwapTransaction: "unsigned-tx"}, nil
}

type fakeSigner struct{ err error }

func (f *fakeSigner) PublicKey() solana.Pubkey { return "wallet" }

func (f *fakeSigner) SignTransaction(tx string) (string, solana.Signature, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "signed-" + tx, "S1", nil
}

type fakeConfirmer struct{ err error }

func (f *fakeConfirmer) Confirm(context.Context, solana.Signature) error { return f.err }

type fixedFee uint64

func (f fixedFee) ComputeUnitPrice() uint64 { return uint64(f) }

func testParams() TradeParams {
	return TradeParams{
		BuyAmount:   decimal.NewFromInt(1),
		SlippagePct: decimal.NewFromInt(15),
		PriorityFee: 5000,
	}
}

func assertOutcomeInvariant(t *testing.T, out Outcome) {
	t.Helper()
	hasSig := out.Signature != ""
	hasErr := out.Err != nil
	assert.True(t, hasSig != hasErr, "exactly one of signature/error: sig=%q err=%v", out.Signature, out.Err)
	assert.Equal(t, out.Success, hasSig)
}

// ---------------------------------------------------------------------------
// Quantity math
// ---------------------------------------------------------------------------

func TestSellQuantity(t *testing.T) {
	assert.Equal(t, uint64(800), SellQuantity(1000, decimal.NewFromInt(80)))
	assert.Equal(t, uint64(3), SellQuantity(10, decimal.RequireFromString("33.333")))
	assert.Equal(t, uint64(0), SellQuantity(1, decimal.NewFromInt(99)))
	assert.Equal(t, uint64(1000), SellQuantity(1000, decimal.NewFromInt(250)), "clamped to 100")
	assert.Equal(t, uint64(0), SellQuantity(1000, decimal.NewFromInt(-5)), "clamped to 0")
	assert.Equal(t, uint64(0), SellQuantity(0, decimal.NewFromInt(80)))

	all := ^uint64(0)
	assert.Equal(t, all, SellQuantity(all, decimal.NewFromInt(100)))
}

func TestSellQuantity_NeverExceedsHeld(t *testing.T) {
	helds := []uint64{0, 1, 7, 99, 1000, 123_456_789, 1 << 40, ^uint64(0)}
	pcts := []string{"-1", "0", "0.001", "1", "33.3333333", "50", "79.99", "80", "99.999", "100", "100.0001", "1000"}
	for _, held := range helds {
		for _, p := range pcts {
			qty := SellQuantity(held, decimal.RequireFromString(p))
			assert.LessOrEqual(t, qty, held, "held=%d pct=%s", held, p)
		}
	}
}

func TestSlippageBps(t *testing.T) {
	assert.Equal(t, 1500, SlippageBps(decimal.NewFromInt(15)))
	assert.Equal(t, 50, SlippageBps(decimal.RequireFromString("0.5")))
	assert.Equal(t, 10000, SlippageBps(decimal.NewFromInt(150)))
	assert.Equal(t, 0, SlippageBps(decimal.NewFromInt(-1)))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindNoViableRoute, Classify(fmt.Errorf("x: %w", ErrNoRoute)))
	assert.Equal(t, KindTransientUnavailable, Classify(ErrUnavailable))
	assert.Equal(t, KindTransientUnavailable, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindExecutionFailed, Classify(ErrBuildFailed))
	assert.Equal(t, KindExecutionFailed, Classify(ErrSubmitFailed))
	assert.Equal(t, KindExecutionFailed, Classify(ErrTransactionFailed))
	assert.Equal(t, KindExecutionFailed, Classify(ErrNothingToSell))
	assert.Equal(t, KindConfirmationTimeout, Classify(fmt.Errorf("%w: %w", ErrConfirmationTimeout, context.DeadlineExceeded)))
}

// ---------------------------------------------------------------------------
// Live executor
// ---------------------------------------------------------------------------

func newExecutor(router *fakeRouter, rpc *solana.StubRPCClient, signer *fakeSigner, confirmer *fakeConfirmer, fees FeeEstimator) *Executor {
	return NewExecutor(router, rpc, signer, confirmer, fees)
}

func TestExecutor_BuySuccess(t *testing.T) {
	router := &fakeRouter{}
	rpc := solana.NewStubRPCClient()
	rpc.SetDecimals(testMint, 5)
	e := newExecutor(router, rpc, &fakeSigner{}, &fakeConfirmer{}, nil)

	out := e.Buy(context.Background(), testMint, testParams())
	require.True(t, out.Success, "err: %v", out.Err)
	assertOutcomeInvariant(t, out)
	assert.Equal(t, solana.Signature("S1"), out.Signature)
	assert.Equal(t, uint64(1_000_000_000), out.InAmount)
	assert.Equal(t, uint64(2_000_000_000), out.OutAmount)
	assert.Equal(t, uint8(9), out.InDecimals)
	assert.Equal(t, uint8(5), out.OutDecimals)

	require.Len(t, router.quotes, 1)
	assert.Equal(t, solana.SOLMint, router.quotes[0].InputMint)
	assert.Equal(t, testMint, router.quotes[0].OutputMint)
	assert.Equal(t, 1500, router.quotes[0].SlippageBps)
	assert.Equal(t, []uint64{5000}, router.feePrices)
	assert.Equal(t, []string{"signed-unsigned-tx"}, rpc.Sent())

	recent := e.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, SwapConfirmed, recent[0].State)
	assert.Equal(t, int64(1), e.Stats().Successes)
}

func TestExecutor_AutoPriorityFee(t *testing.T) {
	router := &fakeRouter{}
	e := newExecutor(router, solana.NewStubRPCClient(), &fakeSigner{}, &fakeConfirmer{}, fixedFee(7777))

	p := testParams()
	p.PriorityFee = 0
	out := e.Buy(context.Background(), testMint, p)
	require.True(t, out.Success)
	assert.Equal(t, []uint64{7777}, router.feePrices)
}

func TestExecutor_BuyFailures(t *testing.T) {
	cases := []struct {
		name      string
		router    *fakeRouter
		signer    *fakeSigner
		sendErr   error
		confirm   error
		sentinel  error
		kind      FailureKind
		submitted bool
	}{
		{
			name:     "no route",
			router:   &fakeRouter{quoteErr: fmt.Errorf("%w: x", jupiter.ErrNoRoute)},
			sentinel: ErrNoRoute,
			kind:     KindNoViableRoute,
		},
		{
			name:     "quote unavailable",
			router:   &fakeRouter{quoteErr: errors.New("HTTP 502")},
			sentinel: ErrUnavailable,
			kind:     KindTransientUnavailable,
		},
		{
			name:     "build failed",
			router:   &fakeRouter{buildErr: errors.New("HTTP 500")},
			sentinel: ErrBuildFailed,
			kind:     KindExecutionFailed,
		},
		{
			name:     "sign failed",
			router:   &fakeRouter{},
			signer:   &fakeSigner{err: errors.New("not a signer")},
			sentinel: ErrBuildFailed,
			kind:     KindExecutionFailed,
		},
		{
			name:     "submit failed",
			router:   &fakeRouter{},
			sendErr:  errors.New("blockhash not found"),
			sentinel: ErrSubmitFailed,
			kind:     KindExecutionFailed,
		},
		{
			name:     "landed with error",
			router:   &fakeRouter{},
			confirm:  fmt.Errorf("%w: S1", solana.ErrTxFailed),
			sentinel: ErrTransactionFailed,
			kind:     KindExecutionFailed,
		},
		{
			name:      "confirmation timeout",
			router:    &fakeRouter{},
			confirm:   fmt.Errorf("%w: S1", solana.ErrConfirmTimeout),
			sentinel:  ErrConfirmationTimeout,
			kind:      KindConfirmationTimeout,
			submitted: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rpc := solana.NewStubRPCClient()
			rpc.SetSendError(tc.sendErr)
			signer := tc.signer
			if signer == nil {
				signer = &fakeSigner{}
			}
			e := newExecutor(tc.router, rpc, signer, &fakeConfirmer{err: tc.confirm}, nil)

			out := e.Buy(context.Background(), testMint, testParams())
			assert.False(t, out.Success)
			assertOutcomeInvariant(t, out)
			assert.ErrorIs(t, out.Err, tc.sentinel)
			assert.Equal(t, tc.kind, out.Kind)
			if tc.submitted {
				assert.Equal(t, solana.Signature("S1"), out.Submitted)
				assert.Equal(t, SwapUnconfirmed, e.Recent()[0].State)
				assert.Equal(t, int64(1), e.Stats().Unconfirmed)
			} else {
				assert.Empty(t, out.Submitted)
				assert.Equal(t, SwapFailed, e.Recent()[0].State)
			}
		})
	}
}

func TestExecutor_BuyInvalidAmount(t *testing.T) {
	router := &fakeRouter{}
	e := newExecutor(router, solana.NewStubRPCClient(), &fakeSigner{}, &fakeConfirmer{}, nil)

	p := testParams()
	p.BuyAmount = decimal.Zero
	out := e.Buy(context.Background(), testMint, p)
	assert.ErrorIs(t, out.Err, ErrInvalidParams)
	assert.Empty(t, router.quotes)
}

func TestExecutor_Sell(t *testing.T) {
	router := &fakeRouter{}
	rpc := solana.NewStubRPCClient()
	rpc.SetBalance(solana.TokenBalance{Mint: testMint, Amount: 1_000_001, Decimals: 6})
	e := newExecutor(router, rpc, &fakeSigner{}, &fakeConfirmer{}, nil)

	out := e.Sell(context.Background(), testMint, decimal.NewFromInt(80), testParams())
	require.True(t, out.Success, "err: %v", out.Err)
	assertOutcomeInvariant(t, out)

	require.Len(t, router.quotes, 1)
	assert.Equal(t, testMint, router.quotes[0].InputMint)
	assert.Equal(t, solana.SOLMint, router.quotes[0].OutputMint)
	assert.Equal(t, uint64(800_000), router.quotes[0].Amount, "truncated, never rounded up")
	assert.Equal(t, uint8(6), out.InDecimals)
	assert.Equal(t, uint8(9), out.OutDecimals)
}

func TestExecutor_SellNothingHeld(t *testing.T) {
	router := &fakeRouter{}
	e := newExecutor(router, solana.NewStubRPCClient(), &fakeSigner{}, &fakeConfirmer{}, nil)

	out := e.Sell(context.Background(), testMint, decimal.NewFromInt(80), testParams())
	assert.ErrorIs(t, out.Err, ErrNothingToSell)
	assert.Equal(t, KindExecutionFailed, out.Kind)
	assert.Empty(t, router.quotes)
}

func TestExecutor_SellBalanceUnavailable(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.SetFailNext()
	e := newExecutor(&fakeRouter{}, rpc, &fakeSigner{}, &fakeConfirmer{}, nil)

	out := e.Sell(context.Background(), testMint, decimal.NewFromInt(80), testParams())
	assert.Equal(t, KindTransientUnavailable, out.Kind)
}

// cancelOnConfirm cancels the caller's context as soon as the transaction is
// submitted, then waits on the real confirmer.
type cancelOnConfirm struct {
	cancel context.CancelFunc
	inner  solana.Confirmer
}

func (c *cancelOnConfirm) Confirm(ctx context.Context, sig solana.Signature) error {
	c.cancel()
	return c.inner.Confirm(ctx, sig)
}

func TestExecutor_ConfirmSurvivesCallerCancel(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.ScriptStatus("S1", solana.TxPending, solana.TxPending, solana.TxConfirmed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	confirmer := &cancelOnConfirm{cancel: cancel, inner: solana.NewPollConfirmer(rpc, 5*time.Millisecond, time.Second)}
	e := NewExecutor(&fakeRouter{}, rpc, &fakeSigner{}, confirmer, nil)

	out := e.Buy(ctx, testMint, testParams())
	require.True(t, out.Success, "a submitted buy is confirmed even after shutdown starts: %v", out.Err)
	assert.Equal(t, solana.Signature("S1"), out.Signature)
	assert.Error(t, ctx.Err())
}

func TestExecutor_ConfirmerDeadlineStillApplies(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.SetDefaultStatus(solana.TxPending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	confirmer := &cancelOnConfirm{cancel: cancel, inner: solana.NewPollConfirmer(rpc, 5*time.Millisecond, 30*time.Millisecond)}
	e := NewExecutor(&fakeRouter{}, rpc, &fakeSigner{}, confirmer, nil)

	out := e.Buy(ctx, testMint, testParams())
	assert.Equal(t, KindConfirmationTimeout, out.Kind)
	assert.Equal(t, solana.Signature("S1"), out.Submitted)
}

func TestExecutor_TxStatus(t *testing.T) {
	rpc := solana.NewStubRPCClient()
	rpc.ScriptStatus("S7", solana.TxFinalized)
	e := NewExecutor(&fakeRouter{}, rpc, &fakeSigner{}, &fakeConfirmer{}, nil)

	status, err := e.TxStatus(context.Background(), "S7")
	require.NoError(t, err)
	assert.True(t, status.Landed())
}

// ---------------------------------------------------------------------------
// Paper executor
// ---------------------------------------------------------------------------

func TestPaperExecutor_BuyThenSell(t *testing.T) {
	router := &fakeRouter{outRatio: 3}
	rpc := solana.NewStubRPCClient()
	p := NewPaperExecutor(router, rpc)

	buy := p.Buy(context.Background(), testMint, testParams())
	require.True(t, buy.Success)
	assertOutcomeInvariant(t, buy)
	assert.Contains(t, string(buy.Signature), "DRYRUN-")
	assert.Equal(t, uint64(3_000_000_000), p.Holding(testMint).Amount)
	assert.Empty(t, rpc.Sent(), "dry run never submits")

	sell := p.Sell(context.Background(), testMint, decimal.NewFromInt(80), testParams())
	require.True(t, sell.Success)
	assert.Equal(t, uint64(2_400_000_000), sell.InAmount)
	assert.Equal(t, uint64(600_000_000), p.Holding(testMint).Amount)
	assert.Equal(t, int64(-1_000_000_000+7_200_000_000), p.NetLamports())

	sell = p.Sell(context.Background(), testMint, decimal.NewFromInt(100), testParams())
	require.True(t, sell.Success)
	assert.Zero(t, p.Holding(testMint).Amount)

	out := p.Sell(context.Background(), testMint, decimal.NewFromInt(100), testParams())
	assert.ErrorIs(t, out.Err, ErrNothingToSell)
	assert.Len(t, p.Recent(), 3)
}

func TestPaperExecutor_NoRoute(t *testing.T) {
	router := &fakeRouter{quoteErr: jupiter.ErrNoRoute}
	p := NewPaperExecutor(router, solana.NewStubRPCClient())

	out := p.Buy(context.Background(), testMint, testParams())
	assert.Equal(t, KindNoViableRoute, out.Kind)
	assert.Zero(t, p.Holding(testMint).Amount)
}

// ---------------------------------------------------------------------------
// Swap state machine
// ---------------------------------------------------------------------------

func TestSwap_Transitions(t *testing.T) {
	sw := NewSwap(SideBuy, testMint, false)
	assert.Equal(t, SwapCreated, sw.GetState())

	require.NoError(t, sw.Transition(EventQuote, nil))
	require.NoError(t, sw.Transition(EventBuild, nil))
	require.NoError(t, sw.Transition(EventSubmit, nil))
	require.NoError(t, sw.Transition(EventConfirm, nil))
	assert.True(t, sw.IsTerminal())

	assert.Error(t, sw.Transition(EventFail, nil), "terminal states accept no events")
}

func TestSwap_InvalidTransition(t *testing.T) {
	sw := NewSwap(SideSell, testMint, false)
	assert.Error(t, sw.Transition(EventSubmit, nil))
	assert.Error(t, sw.Transition(EventTimeout, nil))
	assert.Equal(t, SwapCreated, sw.GetState())
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(2)
	for i := 0; i < 5; i++ {
		h.Add(NewSwap(SideBuy, solana.Pubkey(fmt.Sprint(i)), false))
	}
	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, solana.Pubkey("4"), recent[0].Mint)
	assert.Equal(t, solana.Pubkey("3"), recent[1].Mint)
}
