package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Confirmer: signatureSubscribe with polling fallback
// ---------------------------------------------------------------------------

// WSConfirmer waits for a signatureNotification on the RPC WebSocket. When the
// socket cannot be used it falls back to polling for the remaining time.
type WSConfirmer struct {
	endpoint string
	timeout  time.Duration
	fallback *PollConfirmer
	dialer   websocket.Dialer

	// Stats.
	wsConfirms atomic.Int64
	fallbacks  atomic.Int64
}

// NewWSConfirmer creates a confirmer for the given ws:// or wss:// endpoint.
func NewWSConfirmer(endpoint string, fallback *PollConfirmer) *WSConfirmer {
	return &WSConfirmer{
		endpoint: endpoint,
		timeout:  fallback.timeout,
		fallback: fallback,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Confirm blocks until sig is confirmed, fails on-chain, or times out.
func (w *WSConfirmer) Confirm(ctx context.Context, sig Signature) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.subscribe(ctx, sig)
	if err == nil {
		w.wsConfirms.Add(1)
		return nil
	}
	if errors.Is(err, ErrTxFailed) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, sig, ctx.Err())
	}

	w.fallbacks.Add(1)
	log.Warn().Err(err).Str("sig", sig.Short()).Msg("ws: signature subscription failed, polling")
	return w.fallback.poll(ctx, sig)
}

type wsMessage struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	} `json:"params"`
	Error *rpcError `json:"error"`
}

func (w *WSConfirmer) subscribe(ctx context.Context, sig Signature) error {
	conn, _, err := w.dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "signatureSubscribe",
		"params": []any{
			string(sig),
			map[string]any{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Error != nil {
			return fmt.Errorf("ws: subscribe error %d: %s", msg.Error.Code, msg.Error.Message)
		}

		if msg.Method == "" && msg.ID == 1 {
			// Subscription ack. The signature may have landed before we
			// subscribed, in which case no notification will follow.
			status, err := w.fallback.rpc.GetTransactionStatus(ctx, sig)
			if err == nil {
				if status == TxFailed {
					return fmt.Errorf("%w: %s", ErrTxFailed, sig)
				}
				if status.Landed() {
					return nil
				}
			}
			continue
		}

		if msg.Method != "signatureNotification" {
			continue
		}
		if msg.Params.Result.Value.Err != nil {
			return fmt.Errorf("%w: %s", ErrTxFailed, sig)
		}
		return nil
	}
}

// WSConfirmStats returns confirmer statistics.
type WSConfirmStats struct {
	WSConfirms int64 `json:"ws_confirms"`
	Fallbacks  int64 `json:"fallbacks"`
}

func (w *WSConfirmer) Stats() WSConfirmStats {
	return WSConfirmStats{
		WSConfirms: w.wsConfirms.Load(),
		Fallbacks:  w.fallbacks.Load(),
	}
}
