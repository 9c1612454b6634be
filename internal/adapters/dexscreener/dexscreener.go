// Package dexscreener reads token prices from the DexScreener public API.
package dexscreener

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
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ErrNoPair means the token has no active priced pair. Callers treat it as a
// transient failure, never as a zero price.
var ErrNoPair = errors.New("dexscreener: no active pair")

const chainSolana = "solana"

// Config configures the DexScreener client.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultConfig returns production defaults (the API allows 300 req/min).
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.dexscreener.com/latest/dex",
		Timeout:      10 * time.Second,
		RateLimitRPS: 4,
	}
}

// Pair is one trading pool for a token.
type Pair struct {
	ChainID      string          `json:"chain_id"`
	DexID        string          `json:"dex_id"`
	PairAddress  string          `json:"pair_address"`
	BaseMint     string          `json:"base_mint"`
	Symbol       string          `json:"symbol"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	Volume24hUSD decimal.Decimal `json:"volume_24h_usd"`
}

// Client queries DexScreener.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	requests atomic.Int64
	noPair   atomic.Int64
	errors   atomic.Int64
}

// NewClient creates a DexScreener client.
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
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst),
	}
}

type tokensResponse struct {
	Pairs []struct {
		ChainID     string `json:"chainId"`
		DexID       string `json:"dexId"`
		PairAddress string `json:"pairAddress"`
		BaseToken   struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
		PriceUSD  string `json:"priceUsd"`
		Liquidity *struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
	} `json:"pairs"`
}

// Price returns the USD price of mint from its most liquid Solana pool.
func (c *Client) Price(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	pair, err := c.BestPair(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	return pair.PriceUSD, nil
}

// BestPair returns the Solana pool with the highest USD liquidity among those
// where mint is the base token. Pools quoting mint against another base are
// never returned: their price is not the price of mint.
func (c *Client) BestPair(ctx context.Context, mint solana.Pubkey) (Pair, error) {
	pairs, err := c.Pairs(ctx, mint)
	if err != nil {
		return Pair{}, err
	}

	var best *Pair
	for i := range pairs {
		p := &pairs[i]
		if p.BaseMint != string(mint) {
			continue
		}
		if best == nil || p.LiquidityUSD.GreaterThan(best.LiquidityUSD) {
			best = p
		}
	}
	if best == nil {
		c.noPair.Add(1)
		return Pair{}, fmt.Errorf("%w for %s", ErrNoPair, mint)
	}
	return *best, nil
}

// PairPrice returns the USD price of mint in the pool at pairAddress. It never
// falls back to another pool; a missing pool is ErrNoPair.
func (c *Client) PairPrice(ctx context.Context, mint solana.Pubkey, pairAddress string) (decimal.Decimal, error) {
	pairs, err := c.Pairs(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range pairs {
		if p.PairAddress == pairAddress {
			return p.PriceUSD, nil
		}
	}
	c.noPair.Add(1)
	return decimal.Zero, fmt.Errorf("%w: pool %s for %s", ErrNoPair, pairAddress, mint)
}

// Pairs lists the token's priced Solana pools.
func (c *Client) Pairs(ctx context.Context, mint solana.Pubkey) ([]Pair, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dexscreener: rate limit wait: %w", err)
	}

	c.requests.Add(1)
	endpoint := c.config.BaseURL + "/tokens/" + url.PathEscape(string(mint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexscreener: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexscreener: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexscreener: HTTP %d", resp.StatusCode)
	}

	var parsed tokensResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("dexscreener: parse response: %w", err)
	}

	pairs := make([]Pair, 0, len(parsed.Pairs))
	for _, p := range parsed.Pairs {
		if p.ChainID != chainSolana {
			continue
		}
		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil || !price.IsPositive() {
			continue
		}
		pair := Pair{
			ChainID:      p.ChainID,
			DexID:        p.DexID,
			PairAddress:  p.PairAddress,
			BaseMint:     p.BaseToken.Address,
			Symbol:       p.BaseToken.Symbol,
			PriceUSD:     price,
			Volume24hUSD: decimal.NewFromFloat(p.Volume.H24),
		}
		if p.Liquidity != nil {
			pair.LiquidityUSD = decimal.NewFromFloat(p.Liquidity.USD)
		}
		pairs = append(pairs, pair)
	}

	if len(pairs) == 0 {
		c.noPair.Add(1)
		log.Debug().Str("mint", mint.Short()).Int("raw_pairs", len(parsed.Pairs)).Msg("dexscreener: no priced solana pair")
		return nil, fmt.Errorf("%w for %s", ErrNoPair, mint)
	}
	return pairs, nil
}

// Stats returns client statistics.
type Stats struct {
	Requests int64 `json:"requests"`
	NoPair   int64 `json:"no_pair"`
	Errors   int64 `json:"errors"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		NoPair:   c.noPair.Load(),
		Errors:   c.errors.Load(),
	}
}
