// Package scoring queries the contract risk-scoring service and gates
// candidates on the result.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ErrUnavailable means no score could be obtained. It is never evidence of
// risk and never a pass.
var ErrUnavailable = errors.New("scoring: unavailable")

// ---------------------------------------------------------------------------
// Tagged outcome
// ---------------------------------------------------------------------------

// Kind tags an Outcome.
type Kind int

const (
	KindUnavailable Kind = iota
	KindScored
)

func (k Kind) String() string {
	if k == KindScored {
		return "SCORED"
	}
	return "UNAVAILABLE"
}

// Result is a computed score on the 0-100 scale.
type Result struct {
	Mint        solana.Pubkey `json:"mint"`
	Score       float64       `json:"score"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Outcome is either Scored(Result) or Unavailable(Err).
type Outcome struct {
	Kind   Kind
	Result Result
	Err    error
}

// Scored builds a scored outcome.
func Scored(r Result) Outcome {
	return Outcome{Kind: KindScored, Result: r}
}

// Unavailable builds an unavailable outcome wrapping ErrUnavailable.
func Unavailable(mint solana.Pubkey, cause error) Outcome {
	return Outcome{
		Kind:   KindUnavailable,
		Result: Result{Mint: mint},
		Err:    fmt.Errorf("%w: %v", ErrUnavailable, cause),
	}
}

// IsScored reports whether a score was computed.
func (o Outcome) IsScored() bool { return o.Kind == KindScored }

// ---------------------------------------------------------------------------
// SolSniffer client
// ---------------------------------------------------------------------------

// Config configures the scoring client.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://solsniffer.com/api/v1",
		Timeout:      5 * time.Second,
		RateLimitRPS: 5,
	}
}

// Client scores contracts with one bounded request per call.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	// Stats.
	requests    atomic.Int64
	scored      atomic.Int64
	unavailable atomic.Int64
}

// NewClient creates a scoring client.
func NewClient(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	burst := int(config.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst),
	}
}

type scoreResponse struct {
	Score     *float64 `json:"score"`
	TokenData *struct {
		Score *float64 `json:"score"`
	} `json:"tokenData"`
}

// Score fetches the contract score for mint. Timeouts, transport errors,
// non-2xx responses and malformed bodies all yield Unavailable.
func (c *Client) Score(ctx context.Context, mint solana.Pubkey) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.requests.Add(1)
	out := c.fetch(ctx, mint)
	if out.IsScored() {
		c.scored.Add(1)
		log.Debug().Str("mint", mint.Short()).Float64("score", out.Result.Score).Msg("scoring: scored")
	} else {
		c.unavailable.Add(1)
		log.Warn().Err(out.Err).Str("mint", mint.Short()).Msg("scoring: score unavailable")
	}
	return out
}

func (c *Client) fetch(ctx context.Context, mint solana.Pubkey) Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		return Unavailable(mint, fmt.Errorf("rate limit wait: %w", err))
	}

	endpoint := c.config.BaseURL + "/contract/" + url.PathEscape(string(mint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Unavailable(mint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-KEY", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Unavailable(mint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Unavailable(mint, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Unavailable(mint, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Unavailable(mint, fmt.Errorf("parse body: %w", err))
	}

	var score *float64
	switch {
	case parsed.Score != nil:
		score = parsed.Score
	case parsed.TokenData != nil && parsed.TokenData.Score != nil:
		score = parsed.TokenData.Score
	default:
		return Unavailable(mint, errors.New("response has no score"))
	}
	if *score < 0 || *score > 100 {
		return Unavailable(mint, fmt.Errorf("score %v outside 0-100", *score))
	}

	return Scored(Result{Mint: mint, Score: *score, EvaluatedAt: time.Now().UTC()})
}

// ClientStats returns scoring client statistics.
type ClientStats struct {
	Requests    int64 `json:"requests"`
	Scored      int64 `json:"scored"`
	Unavailable int64 `json:"unavailable"`
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests:    c.requests.Load(),
		Scored:      c.scored.Load(),
		Unavailable: c.unavailable.Load(),
	}
}
