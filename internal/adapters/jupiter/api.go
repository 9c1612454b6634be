// Package jupiter is a REST client for the Jupiter swap aggregator.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter Swap API Client: quote + swap-build endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

// ErrNoRoute means the aggregator found no route for the pair and amount.
var ErrNoRoute = errors.New("jupiter: no route")

const (
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// Config configures the Jupiter client.
type Config struct {
	QuoteURL string        `yaml:"quote_url"`
	SwapURL  string        `yaml:"swap_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns production endpoints.
func DefaultConfig() Config {
	return Config{
		QuoteURL: "https://quote-api.jup.ag/v6/quote",
		SwapURL:  "https://quote-api.jup.ag/v6/swap",
		Timeout:  10 * time.Second,
	}
}

// Client is the Jupiter API client.
type Client struct {
	config     Config
	httpClient *http.Client

	quoteCount   atomic.Int64
	swapCount    atomic.Int64
	noRouteCount atomic.Int64
	errorCount   atomic.Int64
	avgLatencyMs atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewClient creates a new Jupiter API client.
func NewClient(config Config) *Client {
	def := DefaultConfig()
	if config.QuoteURL == "" {
		config.QuoteURL = def.QuoteURL
	}
	if config.SwapURL == "" {
		config.SwapURL = def.SwapURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ---------------------------------------------------------------------------
// Quote API: best route for a swap
// ---------------------------------------------------------------------------

// QuoteRequest asks for the best route. Amount is in the input mint's
// smallest unit.
type QuoteRequest struct {
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	Amount      uint64
	SlippageBps int
}

// Quote is the top-ranked route returned by /quote.
type Quote struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
	RoutePlan            []struct {
		Percent  int `json:"percent"`
		SwapInfo struct {
			AmmKey string `json:"ammKey"`
			Label  string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
	ContextSlot uint64 `json:"contextSlot"`

	// raw is the verbatim response; /swap must receive every field.
	raw json.RawMessage
}

// In returns the route's input amount in base units.
func (q *Quote) In() uint64 {
	v, _ := strconv.ParseUint(q.InAmount, 10, 64)
	return v
}

// Out returns the route's expected output amount in base units.
func (q *Quote) Out() uint64 {
	v, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return v
}

// Labels lists the AMMs on the route.
func (q *Quote) Labels() []string {
	labels := make([]string, 0, len(q.RoutePlan))
	for _, step := range q.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}
	return labels
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// isNoRoute recognises the aggregator's "nothing tradable" answers.
func isNoRoute(body []byte) bool {
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	code := strings.ToUpper(e.ErrorCode + " " + e.Error)
	return strings.Contains(code, "ROUTE") || strings.Contains(code, "NOT_TRADABLE") || strings.Contains(code, "NOT TRADABLE")
}

// GetQuote fetches the best swap route. It returns ErrNoRoute when none exists.
func (c *Client) GetQuote(ctx context.Context, params QuoteRequest) (*Quote, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("jupiter: circuit breaker open")
	}
	if params.Amount == 0 {
		return nil, fmt.Errorf("jupiter: zero quote amount")
	}

	start := time.Now()

	queryURL, err := url.Parse(c.config.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", strconv.FormatUint(params.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	var quote *Quote
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("jupiter: create quote request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: quote HTTP error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read quote response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("jupiter: rate limited (429)")
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && isNoRoute(body) {
			c.resetErrors()
			c.noRouteCount.Add(1)
			return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, params.InputMint.Short(), params.OutputMint.Short())
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jupiter: quote HTTP %d: %s (mint=%s)", resp.StatusCode, string(body), params.OutputMint)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var parsed Quote
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("jupiter: parse quote: %w", err)
		}
		parsed.raw = body

		c.resetErrors()
		quote = &parsed
		break
	}

	if quote == nil {
		return nil, fmt.Errorf("jupiter: quote failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	if len(quote.RoutePlan) == 0 || quote.Out() == 0 {
		c.noRouteCount.Add(1)
		return nil, fmt.Errorf("%w: empty route plan", ErrNoRoute)
	}

	latency := time.Since(start).Milliseconds()
	c.quoteCount.Add(1)
	c.avgLatencyMs.Store(latency)

	log.Debug().
		Str("in", params.InputMint.Short()).
		Str("out", params.OutputMint.Short()).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Strs("route", quote.Labels()).
		Int64("latency_ms", latency).
		Msg("jupiter: quote received")

	return quote, nil
}

// ---------------------------------------------------------------------------
// Swap API: build the unsigned swap transaction
// ---------------------------------------------------------------------------

// SwapRequest is the request to Jupiter /swap endpoint.
type SwapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// SwapResponse is the response from Jupiter /swap endpoint.
type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64 encoded transaction
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTx builds an unsigned swap transaction for quote. The priority fee
// becomes a compute-budget SetComputeUnitPrice instruction.
func (c *Client) BuildSwapTx(ctx context.Context, quote *Quote, user solana.Pubkey, computeUnitPrice uint64) (*SwapResponse, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("jupiter: circuit breaker open")
	}

	quoteJSON := quote.raw
	if len(quoteJSON) == 0 {
		var err error
		if quoteJSON, err = json.Marshal(quote); err != nil {
			return nil, fmt.Errorf("jupiter: marshal quote: %w", err)
		}
	}

	swapReq := SwapRequest{
		QuoteResponse:                 quoteJSON,
		UserPublicKey:                 string(user),
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: computeUnitPrice,
		AsLegacyTransaction:           false,
		DynamicComputeUnitLimit:       true,
	}

	body, err := json.Marshal(swapReq)
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	var swapResp SwapResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.SwapURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("jupiter: create swap request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: swap HTTP error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			if ctx.Err() != nil {
				break
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read swap response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if err := json.Unmarshal(respBody, &swapResp); err != nil {
			return nil, fmt.Errorf("jupiter: parse swap response: %w", err)
		}
		if swapResp.SwapTransaction == "" {
			return nil, fmt.Errorf("jupiter: swap response has no transaction")
		}

		c.resetErrors()
		c.swapCount.Add(1)
		return &swapResp, nil
	}

	return nil, fmt.Errorf("jupiter: swap failed after %d attempts: %w", maxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens circuit breaker.
func (c *Client) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= 5 {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("jupiter: CIRCUIT BREAKER OPEN")
			go func() {
				time.Sleep(30 * time.Second)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("jupiter: circuit breaker reset")
			}()
		}
	}
}

// resetErrors resets the consecutive error counter.
func (c *Client) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// Stats returns Jupiter API client stats.
type Stats struct {
	QuoteCount   int64 `json:"quote_count"`
	SwapCount    int64 `json:"swap_count"`
	NoRouteCount int64 `json:"no_route_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount:   c.quoteCount.Load(),
		SwapCount:    c.swapCount.Load(),
		NoRouteCount: c.noRouteCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: c.avgLatencyMs.Load(),
		CircuitOpen:  c.circuitOpen.Load(),
	}
}
