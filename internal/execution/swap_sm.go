package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/kolhunter/internal/solana"
)

// SwapState represents the current lifecycle state of a swap attempt.
type SwapState string

const (
	SwapCreated     SwapState = "CREATED"
	SwapQuoted      SwapState = "QUOTED"
	SwapBuilt       SwapState = "BUILT"
	SwapSubmitted   SwapState = "SUBMITTED"
	SwapConfirmed   SwapState = "CONFIRMED"
	SwapFailed      SwapState = "FAILED"
	SwapUnconfirmed SwapState = "UNCONFIRMED" // submitted, confirmation timed out
)

// SwapEvent triggers a state transition.
type SwapEvent string

const (
	EventQuote   SwapEvent = "QUOTE"
	EventBuild   SwapEvent = "BUILD"
	EventSubmit  SwapEvent = "SUBMIT"
	EventConfirm SwapEvent = "CONFIRM"
	EventFail    SwapEvent = "FAIL"
	EventTimeout SwapEvent = "TIMEOUT"
)

type transition struct {
	from  SwapState
	event SwapEvent
}

// transitions is the authoritative transition table.
var transitions = map[transition]SwapState{
	{SwapCreated, EventQuote}:     SwapQuoted,
	{SwapCreated, EventFail}:      SwapFailed,
	{SwapQuoted, EventBuild}:      SwapBuilt,
	{SwapQuoted, EventFail}:       SwapFailed,
	{SwapBuilt, EventSubmit}:      SwapSubmitted,
	{SwapBuilt, EventFail}:        SwapFailed,
	{SwapSubmitted, EventConfirm}: SwapConfirmed,
	{SwapSubmitted, EventFail}:    SwapFailed,
	{SwapSubmitted, EventTimeout}: SwapUnconfirmed,
}

// Swap tracks one buy or sell attempt. Safe for concurrent access.
type Swap struct {
	mu sync.Mutex

	ID          string           `json:"id"`
	Side        Side             `json:"side"`
	Mint        solana.Pubkey    `json:"mint"`
	State       SwapState        `json:"state"`
	InAmount    uint64           `json:"in_amount"`
	OutAmount   uint64           `json:"out_amount"`
	Route       []string         `json:"route,omitempty"`
	Signature   solana.Signature `json:"signature,omitempty"`
	Error       string           `json:"error,omitempty"`
	DryRun      bool             `json:"dry_run"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// NewSwap creates a swap in the CREATED state.
func NewSwap(side Side, mint solana.Pubkey, dryRun bool) *Swap {
	now := time.Now()
	return &Swap{
		ID:        uuid.New().String(),
		Side:      side,
		Mint:      mint,
		State:     SwapCreated,
		DryRun:    dryRun,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition advances the swap through the state machine. mutate, when
// non-nil, runs under the lock before the state changes.
func (s *Swap) Transition(event SwapEvent, mutate func(*Swap)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State
	next, ok := transitions[transition{from: s.State, event: event}]
	if !ok {
		return fmt.Errorf("invalid swap transition: state=%s event=%s", s.State, event)
	}

	if mutate != nil {
		mutate(s)
	}

	now := time.Now()
	s.State = next
	s.UpdatedAt = now
	if s.isTerminalLocked() {
		s.CompletedAt = now
	}

	ev := log.Debug()
	if s.isTerminalLocked() {
		ev = log.Info()
	}
	ev.Str("swap_id", s.ID).
		Str("side", string(s.Side)).
		Str("mint", s.Mint.Short()).
		Str("prev_state", string(prev)).
		Str("event", string(event)).
		Str("new_state", string(s.State)).
		Str("sig", s.Signature.Short()).
		Msg("execution: swap state transition")

	return nil
}

// Fail moves the swap to FAILED recording err.
func (s *Swap) Fail(err error) {
	_ = s.Transition(EventFail, func(sw *Swap) { sw.Error = err.Error() })
}

// IsTerminal reports whether the swap reached CONFIRMED, FAILED or UNCONFIRMED.
func (s *Swap) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTerminalLocked()
}

func (s *Swap) isTerminalLocked() bool {
	switch s.State {
	case SwapConfirmed, SwapFailed, SwapUnconfirmed:
		return true
	default:
		return false
	}
}

// GetState returns the current state. Thread-safe.
func (s *Swap) GetState() SwapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Snapshot returns a copy safe to serialize.
func (s *Swap) Snapshot() SwapView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SwapView{
		ID:          s.ID,
		Side:        s.Side,
		Mint:        s.Mint,
		State:       s.State,
		InAmount:    s.InAmount,
		OutAmount:   s.OutAmount,
		Route:       append([]string(nil), s.Route...),
		Signature:   s.Signature,
		Error:       s.Error,
		DryRun:      s.DryRun,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}

// SwapView is an immutable copy of a Swap.
type SwapView struct {
	ID          string           `json:"id"`
	Side        Side             `json:"side"`
	Mint        solana.Pubkey    `json:"mint"`
	State       SwapState        `json:"state"`
	InAmount    uint64           `json:"in_amount"`
	OutAmount   uint64           `json:"out_amount"`
	Route       []string         `json:"route,omitempty"`
	Signature   solana.Signature `json:"signature,omitempty"`
	Error       string           `json:"error,omitempty"`
	DryRun      bool             `json:"dry_run"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// ---------------------------------------------------------------------------
// History: bounded ring of recent swaps
// ---------------------------------------------------------------------------

// History keeps the most recent swaps for the status endpoint.
type History struct {
	mu    sync.Mutex
	swaps []*Swap
	limit int
}

// NewHistory creates a history holding up to limit swaps.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

// Add records s, evicting the oldest entry when full.
func (h *History) Add(s *Swap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.swaps = append(h.swaps, s)
	if len(h.swaps) > h.limit {
		h.swaps = h.swaps[len(h.swaps)-h.limit:]
	}
}

// Recent returns snapshots, newest first.
func (h *History) Recent() []SwapView {
	h.mu.Lock()
	swaps := make([]*Swap, len(h.swaps))
	copy(swaps, h.swaps)
	h.mu.Unlock()

	out := make([]SwapView, 0, len(swaps))
	for i := len(swaps) - 1; i >= 0; i-- {
		out = append(out, swaps[i].Snapshot())
	}
	return out
}
