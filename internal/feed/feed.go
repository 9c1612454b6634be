// Package feed pulls new posts from tracked social accounts.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable marks a transient fetch failure. The account's cursor is not
// advanced, so the same posts are offered again on the next poll.
var ErrUnavailable = errors.New("feed: source unavailable")

// Post is one observed post.
type Post struct {
	ID       string    `json:"id"`
	Account  string    `json:"account"`
	Text     string    `json:"text"`
	Links    []string  `json:"links"`
	PostedAt time.Time `json:"posted_at"`
}

// Source yields posts an account published since the previous Poll for that
// account. Implementations own their per-account cursors.
type Source interface {
	Poll(ctx context.Context, account string) ([]Post, error)
}

// ---------------------------------------------------------------------------
// Cursors
// ---------------------------------------------------------------------------

// Cursors tracks the last seen position per account. Safe for concurrent use.
type Cursors struct {
	mu   sync.Mutex
	byID map[string]string
}

// NewCursors creates an empty cursor set.
func NewCursors() *Cursors {
	return &Cursors{byID: make(map[string]string)}
}

// Get returns the cursor for account, or "" when nothing was seen yet.
func (c *Cursors) Get(account string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[account]
}

// Set records cursor for account. Empty cursors are ignored.
func (c *Cursors) Set(account, cursor string) {
	if cursor == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[account] = cursor
}

// Snapshot copies all cursors.
func (c *Cursors) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.byID))
	for k, v := range c.byID {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Static source
// ---------------------------------------------------------------------------

// Static is an in-memory source. Pushed posts are delivered once.
type Static struct {
	mu      sync.Mutex
	pending map[string][]Post
	failing map[string]error
	polls   map[string]int
}

// NewStatic creates an empty static source.
func NewStatic() *Static {
	return &Static{
		pending: make(map[string][]Post),
		failing: make(map[string]error),
		polls:   make(map[string]int),
	}
}

// Push queues posts for account.
func (s *Static) Push(account string, posts ...Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		p.Account = account
		s.pending[account] = append(s.pending[account], p)
	}
}

// Fail makes every Poll for account return err (nil clears it).
func (s *Static) Fail(account string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, account)
		return
	}
	s.failing[account] = err
}

// Polls returns how many times account was polled.
func (s *Static) Polls(account string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[account]
}

func (s *Static) Poll(ctx context.Context, account string) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[account]++
	if err, ok := s.failing[account]; ok {
		return nil, errors.Join(ErrUnavailable, err)
	}
	posts := s.pending[account]
	delete(s.pending, account)
	return posts, nil
}
