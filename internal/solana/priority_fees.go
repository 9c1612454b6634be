package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Dynamic Priority Fees: p75 of recent slots, in micro-lamports per CU
// ---------------------------------------------------------------------------

const (
	// MaxComputeUnitPrice caps the estimate (micro-lamports per compute unit).
	MaxComputeUnitPrice = 5_000_000

	// DefaultComputeUnitPrice is the fallback when no data is available.
	DefaultComputeUnitPrice = 5_000

	// FeeRefreshInterval is how often we refresh priority fee estimates.
	FeeRefreshInterval = 15 * time.Second
)

// FeeSampler returns recent non-zero prioritization fees.
type FeeSampler interface {
	RecentPrioritizationFees(ctx context.Context) ([]uint64, error)
}

// PriorityFeeEstimator dynamically estimates priority fees from recent slots.
type PriorityFeeEstimator struct {
	sampler FeeSampler

	mu        sync.RWMutex
	feeP50    uint64
	feeP75    uint64
	feeP90    uint64
	lastFetch time.Time
	samples   int
}

// NewPriorityFeeEstimator creates a new estimator that polls recent fees.
func NewPriorityFeeEstimator(sampler FeeSampler) *PriorityFeeEstimator {
	return &PriorityFeeEstimator{sampler: sampler}
}

// Run refreshes estimates until ctx is cancelled.
func (e *PriorityFeeEstimator) Run(ctx context.Context) {
	e.Refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

// ComputeUnitPrice returns the recommended price in micro-lamports per CU.
func (e *PriorityFeeEstimator) ComputeUnitPrice() uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	if p75 == 0 {
		return DefaultComputeUnitPrice
	}
	if p75 > MaxComputeUnitPrice {
		return MaxComputeUnitPrice
	}
	return p75
}

// FeeStats returns current fee estimation stats.
type FeeStats struct {
	P50       uint64    `json:"p50"`
	P75       uint64    `json:"p75"`
	P90       uint64    `json:"p90"`
	Samples   int       `json:"samples"`
	LastFetch time.Time `json:"last_fetch"`
}

func (e *PriorityFeeEstimator) Stats() FeeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return FeeStats{
		P50:       e.feeP50,
		P75:       e.feeP75,
		P90:       e.feeP90,
		Samples:   e.samples,
		LastFetch: e.lastFetch,
	}
}

// Refresh samples recent fees and recomputes percentiles. Failures keep the
// previous estimate.
func (e *PriorityFeeEstimator) Refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	values, err := e.sampler.RecentPrioritizationFees(fetchCtx)
	if err != nil {
		log.Debug().Err(err).Msg("priority_fees: failed to fetch recent fees")
		return
	}
	if len(values) == 0 {
		return
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e.mu.Lock()
	e.feeP50 = percentile(values, 50)
	e.feeP75 = percentile(values, 75)
	e.feeP90 = percentile(values, 90)
	e.samples = len(values)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	log.Debug().
		Uint64("p50", percentile(values, 50)).
		Uint64("p75", percentile(values, 75)).
		Int("samples", len(values)).
		Msg("priority_fees: updated estimates")
}

// percentile computes the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RecentPrioritizationFees returns the non-zero fees of recent slots.
func (c *LiveRPCClient) RecentPrioritizationFees(ctx context.Context) ([]uint64, error) {
	result, err := c.call(ctx, "getRecentPrioritizationFees", nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: getRecentPrioritizationFees: %w", err)
	}

	var fees []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &fees); err != nil {
		return nil, fmt.Errorf("rpc: parse prioritization fees: %w", err)
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	return values, nil
}
