package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPCServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *LiveRPCClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	config := RPCConfig{
		Endpoint:     server.URL,
		WSEndpoint:   "ws://localhost:0", // not used in HTTP tests
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RateLimitRPS: 100,
	}
	client := NewLiveRPCClient(config)
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestLiveRPC_Health(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	err := client.Health(context.Background())
	assert.NoError(t, err)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.RequestCount)
}

func TestLiveRPC_GetTokenBalance(t *testing.T) {
	var gotParams []any
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotParams = req.Params

		account := func(amount string) map[string]any {
			return map[string]any{
				"account": map[string]any{
					"data": map[string]any{
						"parsed": map[string]any{
							"info": map[string]any{
								"mint": "test-mint",
								"tokenAmount": map[string]any{
									"amount":   amount,
									"decimals": 6,
								},
							},
						},
					},
				},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": []any{account("1500000"), account("500000")},
			},
		})
	})

	bal, err := client.GetTokenBalance(context.Background(), Pubkey("wallet"), Pubkey("test-mint"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), bal.Amount)
	assert.Equal(t, uint8(6), bal.Decimals)
	assert.Equal(t, "2", bal.UIAmount().String())

	require.Len(t, gotParams, 3)
	assert.Equal(t, "wallet", gotParams[0])
	assert.Equal(t, map[string]any{"mint": "test-mint"}, gotParams[1])
}

func TestLiveRPC_GetTokenBalance_NoAccounts(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"value": []any{}},
		})
	})

	bal, err := client.GetTokenBalance(context.Background(), Pubkey("wallet"), Pubkey("test-mint"))
	require.NoError(t, err)
	assert.Zero(t, bal.Amount)
}

func TestLiveRPC_GetMintDecimals(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "getTokenSupply", req.Method)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": map[string]any{"amount": "1000", "decimals": 5, "uiAmount": 0.01},
			},
		})
	})

	dec, err := client.GetMintDecimals(context.Background(), Pubkey("bonk"))
	require.NoError(t, err)
	assert.Equal(t, uint8(5), dec)

	// Native SOL never hits the network.
	dec, err = client.GetMintDecimals(context.Background(), SOLMint)
	require.NoError(t, err)
	assert.Equal(t, SOLDecimals, dec)
}

func TestLiveRPC_SendTransaction(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		})
	})

	sig, err := client.SendTransaction(context.Background(), "base64-tx")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestLiveRPC_GetTransactionStatus(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": []map[string]any{
					{"confirmationStatus": "confirmed", "err": nil},
				},
			},
		})
	})

	status, err := client.GetTransactionStatus(context.Background(), Signature("test-sig"))
	require.NoError(t, err)
	assert.Equal(t, TxConfirmed, status)
	assert.True(t, status.Landed())
}

func TestLiveRPC_RateLimiting(t *testing.T) {
	callCount := 0
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	// Rapid fire 5 calls. Rate limiter should allow the initial bucket.
	for i := 0; i < 5; i++ {
		client.Health(context.Background())
	}

	assert.GreaterOrEqual(t, callCount, 3, "Should handle burst within bucket")
}

func TestLiveRPC_RetryOnError(t *testing.T) {
	callCount := 0
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.WriteHeader(500)
			w.Write([]byte("internal error"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "ok",
		})
	})

	err := client.Health(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, callCount, "Should retry once after failure")
}

func TestLiveRPC_RPCError(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error": map[string]any{
				"code":    -32600,
				"message": "Invalid request",
			},
		})
	})

	err := client.Health(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request")
}

func TestLiveRPC_ContextCancellation(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second) // simulate slow response
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.Health(ctx)
	assert.Error(t, err)
}

func TestLiveRPC_GetTransactionStatus_Pending(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"value": []any{nil}},
		})
	})

	status, err := client.GetTransactionStatus(context.Background(), Signature("unknown"))
	require.NoError(t, err)
	assert.Equal(t, TxPending, status)
}

func TestLiveRPC_GetTransactionStatus_Failed(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"value": []map[string]any{
					{"confirmationStatus": "confirmed", "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
				},
			},
		})
	})

	status, err := client.GetTransactionStatus(context.Background(), Signature("sig"))
	require.NoError(t, err)
	assert.Equal(t, TxFailed, status)
}

func TestLiveRPC_SendTransactionNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.SendTransaction(context.Background(), "base64-tx")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLiveRPC_RecentPrioritizationFees(t *testing.T) {
	_, client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": []map[string]any{
				{"slot": 1, "prioritizationFee": 0},
				{"slot": 2, "prioritizationFee": 1200},
				{"slot": 3, "prioritizationFee": 800},
			},
		})
	})

	fees, err := client.RecentPrioritizationFees(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{1200, 800}, fees)
}
