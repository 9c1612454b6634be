// Package storage persists the settings snapshot, tracked accounts, score
// records and position lifecycle records.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nexus-trading/kolhunter/internal/sniper"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// Store is everything the engine and the control server read and write.
type Store interface {
	sniper.SettingsSource
	sniper.RecordSink

	OpenPositions(ctx context.Context) ([]sniper.Position, error)
	UpdateSettings(ctx context.Context, s sniper.Settings) error
	SetAccounts(ctx context.Context, accounts []string) error
	Close()
}

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

// Memory is an in-process Store. Nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	settings  sniper.Settings
	accounts  []string
	scores    []sniper.ScoreRecord
	positions map[string]sniper.Position
}

var _ Store = (*Memory)(nil)

// NewMemory creates a memory store seeded with settings and accounts.
func NewMemory(settings sniper.Settings, accounts []string) *Memory {
	return &Memory{
		settings:  settings,
		accounts:  append([]string(nil), accounts...),
		positions: make(map[string]sniper.Position),
	}
}

func (m *Memory) Snapshot(context.Context) (sniper.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *Memory) Accounts(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.accounts...), nil
}

func (m *Memory) UpdateSettings(_ context.Context, s sniper.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *Memory) SetAccounts(_ context.Context, accounts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append([]string(nil), accounts...)
	return nil
}

func (m *Memory) RecordScore(_ context.Context, rec sniper.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, rec)
	return nil
}

func (m *Memory) RecordOpen(_ context.Context, pos sniper.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; ok {
		return ErrDuplicate
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *Memory) RecordUpdate(_ context.Context, pos sniper.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.positions[pos.ID]
	if !ok {
		return ErrNotFound
	}
	stored.EntryPrice = pos.EntryPrice
	stored.PairAddress = pos.PairAddress
	stored.PendingSell = pos.PendingSell
	stored.PendingSince = pos.PendingSince
	m.positions[pos.ID] = stored
	return nil
}

func (m *Memory) RecordClose(_ context.Context, pos sniper.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; !ok {
		return ErrNotFound
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *Memory) OpenPositions(context.Context) ([]sniper.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []sniper.Position
	for _, p := range m.positions {
		if p.State == sniper.StateMonitoring {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Scores returns every recorded score, oldest first.
func (m *Memory) Scores() []sniper.ScoreRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]sniper.ScoreRecord(nil), m.scores...)
}

// Position returns one stored position by ID.
func (m *Memory) Position(id string) (sniper.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return sniper.Position{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Close() {}
