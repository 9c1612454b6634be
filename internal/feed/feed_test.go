package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_DeliversOnce(t *testing.T) {
	s := NewStatic()
	s.Push("alice", Post{ID: "1", Text: "gm"}, Post{ID: "2", Text: "wagmi"})

	posts, err := s.Poll(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "alice", posts[0].Account)

	posts, err = s.Poll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, 2, s.Polls("alice"))
}

func TestStatic_Fail(t *testing.T) {
	s := NewStatic()
	s.Push("bob", Post{ID: "1"})
	s.Fail("bob", errors.New("login wall"))

	_, err := s.Poll(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrUnavailable)

	s.Fail("bob", nil)
	posts, err := s.Poll(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, posts, 1, "posts survive a failed poll")
}

type bridge struct {
	mu     sync.Mutex
	since  []string
	status int
}

func (b *bridge) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.since = append(b.since, r.URL.Query().Get("since"))
	status := b.status
	b.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.URL.Path != "/accounts/alice/posts" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	resp := map[string]any{"posts": []any{}}
	if r.URL.Query().Get("since") == "" {
		resp["posts"] = []map[string]any{
			{"id": "100", "text": "new gem", "links": []string{"https://dexscreener.com/solana/abc"}},
			{"id": "101", "text": "another"},
		}
	}
	json.NewEncoder(w).Encode(resp)
}

func TestHTTPSource_AdvancesCursor(t *testing.T) {
	b := &bridge{}
	server := httptest.NewServer(http.HandlerFunc(b.handler))
	defer server.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: server.URL, Token: "secret", RateLimitRPS: 100}, nil)

	posts, err := src.Poll(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "alice", posts[0].Account)
	assert.Equal(t, []string{"https://dexscreener.com/solana/abc"}, posts[0].Links)
	assert.Equal(t, "101", src.Cursors().Get("alice"))

	posts, err = src.Poll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, posts)

	assert.Equal(t, []string{"", "101"}, b.since)
	assert.Equal(t, int64(2), src.Stats().Polls)
	assert.Equal(t, int64(2), src.Stats().Posts)
}

func TestHTTPSource_ErrorKeepsCursor(t *testing.T) {
	b := &bridge{status: http.StatusBadGateway}
	server := httptest.NewServer(http.HandlerFunc(b.handler))
	defer server.Close()

	cursors := NewCursors()
	cursors.Set("alice", "55")
	src := NewHTTPSource(HTTPConfig{BaseURL: server.URL, RateLimitRPS: 100}, cursors)

	_, err := src.Poll(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "55", cursors.Get("alice"))
	assert.Equal(t, int64(1), src.Stats().Errors)
}

func TestHTTPSource_ExplicitNextCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"posts":[{"id":"9","text":"x"}],"next_cursor":"opaque-token"}`))
	}))
	defer server.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: server.URL, RateLimitRPS: 100}, nil)
	_, err := src.Poll(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", src.Cursors().Get("carol"))
	assert.Equal(t, map[string]string{"carol": "opaque-token"}, src.Cursors().Snapshot())
}
