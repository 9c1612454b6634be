package scoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

const testMint = solana.Pubkey("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:      server.URL + "/api/v1/",
		APIKey:       "secret",
		Timeout:      200 * time.Millisecond,
		RateLimitRPS: 100,
	})
}

func TestClient_Scored(t *testing.T) {
	var gotPath, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-KEY")
		w.Write([]byte(`{"score": 90}`))
	})

	out := c.Score(context.Background(), testMint)
	require.True(t, out.IsScored())
	assert.NoError(t, out.Err)
	assert.Equal(t, 90.0, out.Result.Score)
	assert.Equal(t, testMint, out.Result.Mint)
	assert.False(t, out.Result.EvaluatedAt.IsZero())
	assert.Equal(t, "/api/v1/contract/"+string(testMint), gotPath)
	assert.Equal(t, "secret", gotKey)
}

func TestClient_NestedScore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokenData": {"score": 42.5}}`))
	})

	out := c.Score(context.Background(), testMint)
	require.True(t, out.IsScored())
	assert.Equal(t, 42.5, out.Result.Score)
}

func TestClient_ZeroIsAGenuineScore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 0}`))
	})

	out := c.Score(context.Background(), testMint)
	require.True(t, out.IsScored())
	assert.Equal(t, 0.0, out.Result.Score)
}

func TestClient_Unavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"score":`))
		},
		"missing score": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name": "x"}`))
		},
		"out of range": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"score": 140}`))
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, handler)
			out := c.Score(context.Background(), testMint)
			assert.False(t, out.IsScored())
			assert.Equal(t, KindUnavailable, out.Kind)
			assert.ErrorIs(t, out.Err, ErrUnavailable)
			assert.Equal(t, int64(1), c.Stats().Unavailable)
		})
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recordingNotifier) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestGate(t *testing.T) {
	n := &recordingNotifier{}
	g := NewGate(n)

	pass := Scored(Result{Mint: testMint, Score: 85})
	assert.Equal(t, DecisionPass, g.Check(pass, 85))
	assert.Empty(t, n.Messages())

	low := Scored(Result{Mint: testMint, Score: 60})
	assert.Equal(t, DecisionReject, g.Check(low, 85))
	msgs := n.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "60")
	assert.Contains(t, msgs[0], string(testMint))

	// Failures are neither a pass nor a low score, and stay silent.
	unavailable := Unavailable(testMint, errors.New("timeout"))
	assert.Equal(t, DecisionRetry, g.Check(unavailable, 85))
	assert.Equal(t, DecisionRetry, g.Check(unavailable, 0))
	assert.Len(t, n.Messages(), 1)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "PASS", DecisionPass.String())
	assert.Equal(t, "REJECT", DecisionReject.String())
	assert.Equal(t, "RETRY", DecisionRetry.String())
	assert.Equal(t, "SCORED", KindScored.String())
}
