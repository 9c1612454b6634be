package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

func testSettings() sniper.Settings {
	return sniper.Settings{
		Trade: execution.TradeParams{
			BuyAmount:   decimal.NewFromInt(1),
			SlippagePct: decimal.NewFromInt(15),
			PriorityFee: 5000,
		},
		MinContractScore: 85,
	}
}

func TestMemory_SettingsAndAccounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testSettings(), []string{"alice"})

	s, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 85.0, s.MinContractScore)

	s.MinContractScore = 70
	require.NoError(t, m.UpdateSettings(ctx, s))
	s2, _ := m.Snapshot(ctx)
	assert.Equal(t, 70.0, s2.MinContractScore)

	accounts, _ := m.Accounts(ctx)
	accounts[0] = "mutated"
	accounts, _ = m.Accounts(ctx)
	assert.Equal(t, []string{"alice"}, accounts, "callers get a copy")

	require.NoError(t, m.SetAccounts(ctx, []string{"bob", "carol"}))
	accounts, _ = m.Accounts(ctx)
	assert.Equal(t, []string{"bob", "carol"}, accounts)
}

func TestMemory_PositionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testSettings(), nil)

	pos := sniper.Position{ID: "p1", Mint: "mint", State: sniper.StateMonitoring, OpenedAt: time.Now()}
	require.NoError(t, m.RecordOpen(ctx, pos))
	assert.ErrorIs(t, m.RecordOpen(ctx, pos), ErrDuplicate)

	pending := time.Now()
	pos.EntryPrice = decimal.RequireFromString("0.5")
	pos.PairAddress = "pool-1"
	pos.PendingSell = "sig-pending"
	pos.PendingSince = &pending
	require.NoError(t, m.RecordUpdate(ctx, pos))

	open, err := m.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "0.5", open[0].EntryPrice.String())
	assert.Equal(t, "pool-1", open[0].PairAddress)
	assert.Equal(t, solana.Signature("sig-pending"), open[0].PendingSell, "a pending sell survives a restart")
	require.NotNil(t, open[0].PendingSince)

	now := time.Now()
	pos.State = sniper.StateClosed
	pos.ClosedAt = &now
	pos.CloseReason = sniper.ReasonTakeProfit
	require.NoError(t, m.RecordClose(ctx, pos))

	open, _ = m.OpenPositions(ctx)
	assert.Empty(t, open)

	stored, err := m.Position("p1")
	require.NoError(t, err)
	assert.Equal(t, sniper.ReasonTakeProfit, stored.CloseReason)

	assert.ErrorIs(t, m.RecordUpdate(ctx, sniper.Position{ID: "nope"}), ErrNotFound)
}

func TestMemory_Scores(t *testing.T) {
	m := NewMemory(testSettings(), nil)
	require.NoError(t, m.RecordScore(context.Background(), sniper.ScoreRecord{Mint: "a", Score: 91}))
	require.NoError(t, m.RecordScore(context.Background(), sniper.ScoreRecord{Mint: "b", Score: 12}))

	scores := m.Scores()
	require.Len(t, scores, 2)
	assert.Equal(t, 12.0, scores[1].Score)
}
