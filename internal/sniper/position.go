package sniper

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// PositionState is Monitoring until the position closes. Closed is terminal.
type PositionState string

const (
	StateMonitoring PositionState = "MONITORING"
	StateClosed     PositionState = "CLOSED"
)

// CloseReason records why a position left Monitoring.
type CloseReason string

const (
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonCancelled  CloseReason = "CANCELLED"
	ReasonEmpty      CloseReason = "EMPTY"
)

// Position is an open holding created by a confirmed buy.
type Position struct {
	ID      string        `json:"id"`
	Mint    solana.Pubkey `json:"mint"`
	Symbol  string        `json:"symbol,omitempty"`
	Account string        `json:"account,omitempty"`
	Score   float64       `json:"score"`

	// EntryPrice is zero until the first price read after the buy.
	EntryPrice decimal.Decimal `json:"entry_price"`
	LastPrice  decimal.Decimal `json:"last_price"`

	// PairAddress pins the pool every price of this position is read from.
	PairAddress string `json:"pair_address,omitempty"`

	// PendingSell is a submitted sell whose outcome is still unknown. No new
	// sell is attempted while it is set.
	PendingSell  solana.Signature `json:"pending_sell,omitempty"`
	PendingSince *time.Time       `json:"pending_since,omitempty"`

	AmountHeld   uint64           `json:"amount_held"`
	Decimals     uint8            `json:"decimals"`
	CostLamports uint64           `json:"cost_lamports"`
	BuySignature solana.Signature `json:"buy_signature"`

	// Params is the trading snapshot taken when the position opened.
	Params execution.TradeParams `json:"params"`

	State    PositionState `json:"state"`
	OpenedAt time.Time     `json:"opened_at"`

	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	CloseReason      CloseReason      `json:"close_reason,omitempty"`
	SellSignature    solana.Signature `json:"sell_signature,omitempty"`
	ProceedsLamports uint64           `json:"proceeds_lamports,omitempty"`
}

// ---------------------------------------------------------------------------
// Registry: active positions, one monitor per mint
// ---------------------------------------------------------------------------

// Registry maps a mint to the monitor that owns its position.
type Registry struct {
	mu       sync.RWMutex
	monitors map[solana.Pubkey]*Monitor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[solana.Pubkey]*Monitor)}
}

// Insert adds m unless its mint already has a monitor.
func (r *Registry) Insert(m *Monitor) bool {
	mint := m.Mint()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[mint]; ok {
		return false
	}
	r.monitors[mint] = m
	return true
}

// Remove deletes m's entry if it is still the registered monitor.
func (r *Registry) Remove(m *Monitor) {
	mint := m.Mint()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitors[mint] == m {
		delete(r.monitors, mint)
	}
}

// Get returns the monitor for mint.
func (r *Registry) Get(mint solana.Pubkey) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[mint]
	return m, ok
}

// Has reports whether mint has an active monitor.
func (r *Registry) Has(mint solana.Pubkey) bool {
	_, ok := r.Get(mint)
	return ok
}

// Len returns the number of active positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Snapshot returns copies of every active position, oldest first.
func (r *Registry) Snapshot() []Position {
	r.mu.RLock()
	out := make([]Position, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m.Position())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ---------------------------------------------------------------------------
// Guard: in-flight set, cooldowns, blocks
// ---------------------------------------------------------------------------

// Guard prevents concurrent or repeated buy attempts for the same mint.
type Guard struct {
	mu        sync.Mutex
	inflight  map[solana.Pubkey]struct{}
	cooldowns map[solana.Pubkey]time.Time
	blocked   map[solana.Pubkey]string
	now       func() time.Time
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{
		inflight:  make(map[solana.Pubkey]struct{}),
		cooldowns: make(map[solana.Pubkey]time.Time),
		blocked:   make(map[solana.Pubkey]string),
		now:       time.Now,
	}
}

// Acquire marks mint in flight. It fails if mint is already in flight,
// cooling down or blocked.
func (g *Guard) Acquire(mint solana.Pubkey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[mint]; ok {
		return false
	}
	if _, ok := g.blocked[mint]; ok {
		return false
	}
	if until, ok := g.cooldowns[mint]; ok {
		if g.now().Before(until) {
			return false
		}
		delete(g.cooldowns, mint)
	}
	g.inflight[mint] = struct{}{}
	return true
}

// Release clears the in-flight mark.
func (g *Guard) Release(mint solana.Pubkey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, mint)
}

// Cooldown skips mint until d has elapsed.
func (g *Guard) Cooldown(mint solana.Pubkey, d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldowns[mint] = g.now().Add(d)
}

// Block skips mint until restart.
func (g *Guard) Block(mint solana.Pubkey, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[mint] = reason
}

// Blocked returns the mints blocked until restart with their reasons.
func (g *Guard) Blocked() map[solana.Pubkey]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[solana.Pubkey]string, len(g.blocked))
	for k, v := range g.blocked {
		out[k] = v
	}
	return out
}
