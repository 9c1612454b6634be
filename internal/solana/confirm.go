package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrConfirmTimeout means the signature did not reach confirmed commitment
	// before the deadline. The transaction may still land.
	ErrConfirmTimeout = errors.New("solana: confirmation timeout")

	// ErrTxFailed means the transaction landed with an execution error.
	ErrTxFailed = errors.New("solana: transaction failed")
)

// Confirmer waits for a submitted signature to reach confirmed commitment.
// Implementations bound the wait themselves; callers may pass a context that
// is never cancelled.
type Confirmer interface {
	Confirm(ctx context.Context, sig Signature) error
}

// PollConfirmer polls getSignatureStatuses until the signature lands or the
// timeout elapses.
type PollConfirmer struct {
	rpc      RPCClient
	interval time.Duration
	timeout  time.Duration
}

// NewPollConfirmer creates a polling confirmer.
func NewPollConfirmer(rpc RPCClient, interval, timeout time.Duration) *PollConfirmer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &PollConfirmer{rpc: rpc, interval: interval, timeout: timeout}
}

// Confirm blocks until sig is confirmed, fails on-chain, or times out.
func (p *PollConfirmer) Confirm(ctx context.Context, sig Signature) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.poll(ctx, sig)
}

// poll runs until ctx ends. Status lookup errors are logged and retried.
func (p *PollConfirmer) poll(ctx context.Context, sig Signature) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.rpc.GetTransactionStatus(ctx, sig)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("sig", sig.Short()).Msg("confirm: status lookup failed")
		case status == TxFailed:
			return fmt.Errorf("%w: %s", ErrTxFailed, sig)
		case status.Landed():
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
