package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// HTTP bridge: reads posts from a scraper sidecar
// ---------------------------------------------------------------------------

// HTTPConfig configures the bridge source.
type HTTPConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	PageLimit    int           `yaml:"page_limit"`
}

// DefaultHTTPConfig returns defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:      "http://127.0.0.1:8090",
		Timeout:      10 * time.Second,
		RateLimitRPS: 2,
		PageLimit:    20,
	}
}

// HTTPSource polls GET {base}/accounts/{account}/posts?since={cursor}.
type HTTPSource struct {
	config     HTTPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cursors    *Cursors

	polls  atomic.Int64
	posts  atomic.Int64
	errors atomic.Int64
}

// NewHTTPSource creates a bridge source. cursors may be nil.
func NewHTTPSource(config HTTPConfig, cursors *Cursors) *HTTPSource {
	def := DefaultHTTPConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}
	if config.PageLimit <= 0 {
		config.PageLimit = def.PageLimit
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if cursors == nil {
		cursors = NewCursors()
	}

	burst := int(config.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}
	return &HTTPSource{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst),
		cursors:    cursors,
	}
}

type postsResponse struct {
	Posts []struct {
		ID       string    `json:"id"`
		Text     string    `json:"text"`
		Links    []string  `json:"links"`
		PostedAt time.Time `json:"posted_at"`
	} `json:"posts"`
	NextCursor string `json:"next_cursor"`
}

// Poll returns posts newer than the account's cursor and advances it. On
// error the cursor is left untouched.
func (s *HTTPSource) Poll(ctx context.Context, account string) ([]Post, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}
	s.polls.Add(1)

	cursor := s.cursors.Get(account)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.config.PageLimit))
	if cursor != "" {
		q.Set("since", cursor)
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/posts?%s", s.config.BaseURL, url.PathEscape(account), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, account, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrUnavailable, account, resp.StatusCode)
	}

	var parsed postsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}

	posts := make([]Post, 0, len(parsed.Posts))
	for _, p := range parsed.Posts {
		posts = append(posts, Post{
			ID:       p.ID,
			Account:  account,
			Text:     p.Text,
			Links:    p.Links,
			PostedAt: p.PostedAt,
		})
	}

	next := parsed.NextCursor
	if next == "" && len(posts) > 0 {
		next = posts[len(posts)-1].ID
	}
	s.cursors.Set(account, next)
	s.posts.Add(int64(len(posts)))

	if len(posts) > 0 {
		log.Debug().
			Str("account", account).
			Int("posts", len(posts)).
			Str("cursor", next).
			Msg("feed: new posts")
	}
	return posts, nil
}

// Cursors exposes the per-account cursors.
func (s *HTTPSource) Cursors() *Cursors {
	return s.cursors
}

// Stats returns source statistics.
type Stats struct {
	Polls  int64 `json:"polls"`
	Posts  int64 `json:"posts"`
	Errors int64 `json:"errors"`
}

func (s *HTTPSource) Stats() Stats {
	return Stats{
		Polls:  s.polls.Load(),
		Posts:  s.posts.Load(),
		Errors: s.errors.Load(),
	}
}
