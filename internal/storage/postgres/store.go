package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
	"github.com/nexus-trading/kolhunter/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store on pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Open connects, migrates and returns a store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Seed writes settings and accounts unless they already exist, so values
// edited at runtime win over the config file.
func (s *Store) Seed(ctx context.Context, settings sniper.Settings, accounts []string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, buy_amount, slippage_pct, priority_fee, min_contract_score)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`,
		settings.Trade.BuyAmount,
		settings.Trade.SlippagePct,
		int64(settings.Trade.PriorityFee),
		settings.MinContractScore,
	)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	for _, a := range accounts {
		if _, err := s.pool.Exec(ctx, `INSERT INTO tracked_accounts (handle) VALUES ($1) ON CONFLICT DO NOTHING`, a); err != nil {
			return fmt.Errorf("seed account %s: %w", a, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// Snapshot returns the current settings. Returns ErrNotFound before Seed.
func (s *Store) Snapshot(ctx context.Context) (sniper.Settings, error) {
	var (
		out         sniper.Settings
		priorityFee int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT buy_amount, slippage_pct, priority_fee, min_contract_score
		FROM settings
		WHERE id = 1
	`).Scan(&out.Trade.BuyAmount, &out.Trade.SlippagePct, &priorityFee, &out.MinContractScore)
	if err != nil {
		if isNotFoundError(err) {
			return sniper.Settings{}, storage.ErrNotFound
		}
		return sniper.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	out.Trade.PriorityFee = uint64(priorityFee)
	return out, nil
}

// UpdateSettings replaces the settings row.
func (s *Store) UpdateSettings(ctx context.Context, settings sniper.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, buy_amount, slippage_pct, priority_fee, min_contract_score, updated_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			buy_amount = EXCLUDED.buy_amount,
			slippage_pct = EXCLUDED.slippage_pct,
			priority_fee = EXCLUDED.priority_fee,
			min_contract_score = EXCLUDED.min_contract_score,
			updated_at = EXCLUDED.updated_at
	`,
		settings.Trade.BuyAmount,
		settings.Trade.SlippagePct,
		int64(settings.Trade.PriorityFee),
		settings.MinContractScore,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// Accounts lists tracked accounts, oldest first.
func (s *Store) Accounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT handle FROM tracked_accounts ORDER BY added_at ASC, handle ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}
	return accounts, nil
}

// SetAccounts replaces the tracked accounts.
func (s *Store) SetAccounts(ctx context.Context, accounts []string) error {
	if accounts == nil {
		accounts = []string{}
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tracked_accounts WHERE NOT (handle = ANY($1))`, accounts); err != nil {
			return fmt.Errorf("prune accounts: %w", err)
		}
		for _, a := range accounts {
			if _, err := tx.Exec(ctx, `INSERT INTO tracked_accounts (handle) VALUES ($1) ON CONFLICT DO NOTHING`, a); err != nil {
				return fmt.Errorf("insert account %s: %w", a, err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// RecordScore appends a score row.
func (s *Store) RecordScore(ctx context.Context, rec sniper.ScoreRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_scores (mint, account, score, symbol, price_usd, volume_24h_usd, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(rec.Mint),
		rec.Account,
		rec.Score,
		rec.Symbol,
		rec.PriceUSD,
		rec.Volume24hUSD,
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// RecordOpen inserts a position. Returns ErrDuplicate if the ID exists or the
// mint already has an open position.
func (s *Store) RecordOpen(ctx context.Context, pos sniper.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (
			id, mint, symbol, account, score, entry_price, amount_held, decimals,
			cost_lamports, buy_signature, buy_amount, slippage_pct, priority_fee,
			state, opened_at, pair_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		pos.ID,
		string(pos.Mint),
		pos.Symbol,
		pos.Account,
		pos.Score,
		pos.EntryPrice,
		decimal.NewFromUint64(pos.AmountHeld),
		int16(pos.Decimals),
		decimal.NewFromUint64(pos.CostLamports),
		string(pos.BuySignature),
		pos.Params.BuyAmount,
		pos.Params.SlippagePct,
		int64(pos.Params.PriorityFee),
		string(pos.State),
		pos.OpenedAt,
		pos.PairAddress,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// RecordUpdate stores the entry price, pinned pair and pending sell of an
// open position.
func (s *Store) RecordUpdate(ctx context.Context, pos sniper.Position) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET
			entry_price = $2,
			pair_address = $3,
			pending_sell = $4,
			pending_since = $5
		WHERE id = $1
	`,
		pos.ID,
		pos.EntryPrice,
		pos.PairAddress,
		string(pos.PendingSell),
		pos.PendingSince,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordClose stores the close of a position.
func (s *Store) RecordClose(ctx context.Context, pos sniper.Position) error {
	closedAt := time.Now()
	if pos.ClosedAt != nil {
		closedAt = *pos.ClosedAt
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET
			state = $2,
			closed_at = $3,
			close_reason = $4,
			sell_signature = $5,
			proceeds_lamports = $6,
			amount_held = $7
		WHERE id = $1
	`,
		pos.ID,
		string(pos.State),
		closedAt,
		string(pos.CloseReason),
		string(pos.SellSignature),
		decimal.NewFromUint64(pos.ProceedsLamports),
		decimal.NewFromUint64(pos.AmountHeld),
	)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// OpenPositions returns positions still in Monitoring, oldest first.
func (s *Store) OpenPositions(ctx context.Context) ([]sniper.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mint, symbol, account, score, entry_price, amount_held, decimals,
			cost_lamports, buy_signature, buy_amount, slippage_pct, priority_fee,
			state, opened_at, pair_address, pending_sell, pending_since
		FROM positions
		WHERE state = $1
		ORDER BY opened_at ASC, id ASC
	`, string(sniper.StateMonitoring))
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []sniper.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (sniper.Position, error) {
	var (
		p                sniper.Position
		mint, sig, state string
		pending          string
		held, cost       decimal.Decimal
		decimals         int16
		priorityFee      int64
	)
	err := row.Scan(
		&p.ID, &mint, &p.Symbol, &p.Account, &p.Score, &p.EntryPrice, &held, &decimals,
		&cost, &sig, &p.Params.BuyAmount, &p.Params.SlippagePct, &priorityFee,
		&state, &p.OpenedAt, &p.PairAddress, &pending, &p.PendingSince,
	)
	if err != nil {
		return sniper.Position{}, err
	}
	p.Mint = solana.Pubkey(mint)
	p.BuySignature = solana.Signature(sig)
	p.PendingSell = solana.Signature(pending)
	p.State = sniper.PositionState(state)
	p.AmountHeld = held.BigInt().Uint64()
	p.CostLamports = cost.BigInt().Uint64()
	p.Decimals = uint8(decimals)
	p.Params.PriorityFee = uint64(priorityFee)
	return p, nil
}
