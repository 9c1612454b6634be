// Package sniper runs the scan cycle: poll tracked accounts, extract token
// addresses, score them, buy those that pass, and monitor each position until
// it takes profit.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-trading/kolhunter/internal/adapters/dexscreener"
	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/extract"
	"github.com/nexus-trading/kolhunter/internal/feed"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/scoring"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ErrPositionNotFound is returned for operations on a mint without an open position.
var ErrPositionNotFound = errors.New("sniper: position not found")

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Settings is the operator-editable snapshot read at the start of each cycle.
type Settings struct {
	Trade            execution.TradeParams `json:"trade"`
	MinContractScore float64               `json:"min_contract_score"`
}

// SettingsSource supplies the settings snapshot and the tracked accounts.
type SettingsSource interface {
	Snapshot(ctx context.Context) (Settings, error)
	Accounts(ctx context.Context) ([]string, error)
}

// ScoreRecord is written for every computed score.
type ScoreRecord struct {
	Mint         solana.Pubkey   `json:"mint"`
	Account      string          `json:"account"`
	Score        float64         `json:"score"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
	Symbol       string          `json:"symbol,omitempty"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	Volume24hUSD decimal.Decimal `json:"volume_24h_usd"`
}

// RecordSink persists scores and position lifecycle records.
type RecordSink interface {
	RecordScore(ctx context.Context, rec ScoreRecord) error
	RecordOpen(ctx context.Context, pos Position) error
	// RecordUpdate stores the entry price, pinned pair and pending sell of
	// an open position.
	RecordUpdate(ctx context.Context, pos Position) error
	RecordClose(ctx context.Context, pos Position) error
}

// Scorer returns a tagged risk-score outcome.
type Scorer interface {
	Score(ctx context.Context, mint solana.Pubkey) scoring.Outcome
}

// PriceFeed returns the current USD price of a mint.
type PriceFeed interface {
	Price(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
}

// PairPriceFeed reads the price of one specific pool. A PriceFeed that also
// implements it gives each position a single price source.
type PairPriceFeed interface {
	PairPrice(ctx context.Context, mint solana.Pubkey, pairAddress string) (decimal.Decimal, error)
}

// PairLookup returns the canonical trading pair of a mint.
type PairLookup interface {
	BestPair(ctx context.Context, mint solana.Pubkey) (dexscreener.Pair, error)
}

// Seller sells a percentage of a holding and reports the on-chain state of a
// sell submitted earlier.
type Seller interface {
	Sell(ctx context.Context, mint solana.Pubkey, pct decimal.Decimal, params execution.TradeParams) execution.Outcome
	TxStatus(ctx context.Context, sig solana.Signature) (solana.TxStatus, error)
}

// Swapper buys and sells.
type Swapper interface {
	Buy(ctx context.Context, mint solana.Pubkey, params execution.TradeParams) execution.Outcome
	Seller
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config configures the engine.
type Config struct {
	ScanInterval    time.Duration `yaml:"scan_interval"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	ScoreTimeout    time.Duration `yaml:"score_timeout"`
	FailureCooldown time.Duration `yaml:"failure_cooldown"`
	RebuyCooldown   time.Duration `yaml:"rebuy_cooldown"`
	MaxScoreRetries int           `yaml:"max_score_retries"`
	DrainOnStop     bool          `yaml:"drain_on_stop"`
	Monitor         MonitorConfig `yaml:"monitor"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:    60 * time.Second,
		MaxConcurrency:  4,
		ScoreTimeout:    5 * time.Second,
		FailureCooldown: 10 * time.Minute,
		RebuyCooldown:   time.Hour,
		MaxScoreRetries: 3,
		DrainOnStop:     true,
		Monitor:         DefaultMonitorConfig(),
	}
}

// Deps are the engine's collaborators. Records, Pairs and Extractor are optional.
type Deps struct {
	Feed      feed.Source
	Settings  SettingsSource
	Records   RecordSink
	Scorer    Scorer
	Swapper   Swapper
	Prices    PriceFeed
	Pairs     PairLookup
	Notifier  notify.Notifier
	Extractor *extract.Extractor
}

// Candidate is a token address surfaced by the feed, not yet vetted.
type Candidate struct {
	Mint         solana.Pubkey `json:"mint"`
	Account      string        `json:"account"`
	PostID       string        `json:"post_id"`
	Links        []string      `json:"links"`
	DiscoveredAt time.Time     `json:"discovered_at"`
	Attempts     int           `json:"attempts"`
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine is the scan-cycle orchestrator.
type Engine struct {
	config Config
	deps   Deps
	gate   *scoring.Gate

	registry *Registry
	guard    *Guard

	retryMu sync.Mutex
	retries map[solana.Pubkey]Candidate

	paused  atomic.Bool
	running atomic.Bool

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	monitors      sync.WaitGroup

	// Stats.
	cycles      atomic.Int64
	posts       atomic.Int64
	candidates  atomic.Int64
	duplicates  atomic.Int64
	scored      atomic.Int64
	rejected    atomic.Int64
	unavailable atomic.Int64
	buyAttempts atomic.Int64
	bought      atomic.Int64
	buyFailures atomic.Int64
	unconfirmed atomic.Int64
	closed      atomic.Int64
	lastCycle   atomic.Int64 // unix nanos
}

// NewEngine creates an engine. Feed, Settings, Scorer, Swapper, Prices and
// Notifier are required.
func NewEngine(config Config, deps Deps) *Engine {
	def := DefaultConfig()
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.ScoreTimeout <= 0 {
		config.ScoreTimeout = def.ScoreTimeout
	}
	if config.Monitor.Interval <= 0 {
		config.Monitor.Interval = def.Monitor.Interval
	}
	if config.Monitor.PriceTimeout <= 0 {
		config.Monitor.PriceTimeout = def.Monitor.PriceTimeout
	}
	if config.Monitor.PendingExpiry <= 0 {
		config.Monitor.PendingExpiry = def.Monitor.PendingExpiry
	}
	if deps.Records == nil {
		deps.Records = nopRecords{}
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(extract.DefaultHosts)
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	return &Engine{
		config:        config,
		deps:          deps,
		gate:          scoring.NewGate(deps.Notifier),
		registry:      NewRegistry(),
		guard:         NewGuard(),
		retries:       make(map[solana.Pubkey]Candidate),
		monitorCtx:    monitorCtx,
		monitorCancel: monitorCancel,
	}
}

// Run executes a cycle immediately and then every ScanInterval until ctx is
// cancelled. Monitors are not tied to ctx; stop them with Shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("sniper: already running")
	}
	defer e.running.Store(false)

	log.Info().
		Dur("interval", e.config.ScanInterval).
		Int("max_concurrency", e.config.MaxConcurrency).
		Msg("sniper: scan loop started")

	ticker := time.NewTicker(e.config.ScanInterval)
	defer ticker.Stop()

	for {
		e.safeCycle(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("sniper: scan loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("sniper: cycle panicked")
		}
	}()
	e.RunCycle(ctx)
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Paused     bool          `json:"paused"`
	Accounts   int           `json:"accounts"`
	Posts      int           `json:"posts"`
	Candidates int           `json:"candidates"`
	Bought     int           `json:"bought"`
	Duration   time.Duration `json:"duration"`
}

// RunCycle runs one scan cycle and waits for its candidates to finish. It
// does not wait for the monitors it spawns.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	e.cycles.Add(1)
	e.lastCycle.Store(start.UnixNano())

	var report CycleReport
	if e.paused.Load() {
		log.Info().Msg("sniper: paused, cycle skipped")
		report.Paused = true
		return report
	}

	settings, err := e.deps.Settings.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sniper: settings snapshot failed, cycle skipped")
		return report
	}
	accounts, err := e.deps.Settings.Accounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sniper: tracked accounts unavailable, cycle skipped")
		return report
	}

	posts := e.pollAccounts(ctx, accounts)
	candidates := e.collect(posts)
	report.Accounts = len(accounts)
	report.Candidates = len(candidates)
	for _, p := range posts {
		report.Posts += len(p)
	}

	var bought atomic.Int32
	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrency)
	for _, c := range candidates {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("mint", c.Mint.Short()).Msg("sniper: candidate panicked")
				}
			}()
			if e.process(ctx, settings, c) {
				bought.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Bought = int(bought.Load())
	report.Duration = time.Since(start)
	log.Info().
		Int("accounts", report.Accounts).
		Int("posts", report.Posts).
		Int("candidates", report.Candidates).
		Int("bought", report.Bought).
		Int("open_positions", e.registry.Len()).
		Dur("took", report.Duration).
		Msg("sniper: cycle complete")
	return report
}

// pollAccounts fetches new posts per account, bounded by MaxConcurrency. A
// failing account is logged and skipped.
func (e *Engine) pollAccounts(ctx context.Context, accounts []string) [][]feed.Post {
	out := make([][]feed.Post, len(accounts))
	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrency)
	for i, account := range accounts {
		g.Go(func() error {
			posts, err := e.deps.Feed.Poll(ctx, account)
			if err != nil {
				log.Warn().Err(err).Str("account", account).Msg("sniper: feed poll failed")
				return nil
			}
			out[i] = posts
			e.posts.Add(int64(len(posts)))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// collect turns posts into candidates. Carried-over retries come first; a
// mint appears at most once and never while it has an open position.
func (e *Engine) collect(posts [][]feed.Post) []Candidate {
	seen := make(map[solana.Pubkey]struct{})
	var out []Candidate
	add := func(c Candidate) {
		if _, ok := seen[c.Mint]; ok {
			e.duplicates.Add(1)
			return
		}
		seen[c.Mint] = struct{}{}
		if e.registry.Has(c.Mint) {
			e.duplicates.Add(1)
			return
		}
		out = append(out, c)
	}

	e.retryMu.Lock()
	carried := make([]Candidate, 0, len(e.retries))
	for _, c := range e.retries {
		carried = append(carried, c)
	}
	e.retries = make(map[solana.Pubkey]Candidate)
	e.retryMu.Unlock()
	for _, c := range carried {
		add(c)
	}

	now := time.Now()
	for _, accountPosts := range posts {
		for _, post := range accountPosts {
			links := post.Links
			if len(links) == 0 {
				links = extract.Links(post.Text)
			}
			for _, mint := range e.deps.Extractor.FromLinks(links) {
				add(Candidate{
					Mint:         mint,
					Account:      post.Account,
					PostID:       post.ID,
					Links:        links,
					DiscoveredAt: now,
				})
			}
		}
	}

	e.candidates.Add(int64(len(out)))
	return out
}

// process scores one candidate and buys it if it passes. It reports whether
// a position was opened.
func (e *Engine) process(ctx context.Context, settings Settings, c Candidate) bool {
	if !e.guard.Acquire(c.Mint) {
		log.Debug().Str("mint", c.Mint.Short()).Msg("sniper: in flight, cooling down or blocked")
		return false
	}
	defer e.guard.Release(c.Mint)
	if e.registry.Has(c.Mint) {
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, e.config.ScoreTimeout)
	outcome := e.deps.Scorer.Score(sctx, c.Mint)
	cancel()

	switch e.gate.Check(outcome, settings.MinContractScore) {
	case scoring.DecisionRetry:
		e.unavailable.Add(1)
		log.Warn().Err(outcome.Err).Str("mint", c.Mint.Short()).Msg("sniper: score unavailable, retrying next cycle")
		e.requeue(c)
		return false
	case scoring.DecisionReject:
		e.scored.Add(1)
		e.rejected.Add(1)
		e.recordScore(ctx, c, outcome.Result, dexscreener.Pair{})
		return false
	}
	e.scored.Add(1)

	pair := e.lookupPair(ctx, c.Mint)
	e.recordScore(ctx, c, outcome.Result, pair)

	log.Info().
		Str("mint", c.Mint.Short()).
		Str("account", c.Account).
		Float64("score", outcome.Result.Score).
		Str("symbol", pair.Symbol).
		Str("buy_sol", settings.Trade.BuyAmount.String()).
		Msg("sniper: EXECUTING BUY")

	e.buyAttempts.Add(1)
	out := e.deps.Swapper.Buy(ctx, c.Mint, settings.Trade)
	switch {
	case out.Success:
		return e.open(ctx, settings, c, outcome.Result, pair, out)
	case out.Kind == execution.KindConfirmationTimeout:
		e.unconfirmed.Add(1)
		e.guard.Block(c.Mint, string(out.Kind))
		log.Error().
			Str("mint", string(c.Mint)).
			Str("sig", string(out.Submitted)).
			Msg("sniper: buy UNCONFIRMED, mint blocked until restart")
		e.deps.Notifier.Notify(notify.BuyUnconfirmed(c.Mint, out.Submitted))
	case out.Kind == execution.KindTransientUnavailable:
		e.buyFailures.Add(1)
		e.deps.Notifier.Notify(notify.BuyFailed(c.Mint, string(out.Kind), out.Err))
		e.requeue(c)
	default:
		e.buyFailures.Add(1)
		e.guard.Cooldown(c.Mint, e.config.FailureCooldown)
		e.deps.Notifier.Notify(notify.BuyFailed(c.Mint, string(out.Kind), out.Err))
	}
	return false
}

func (e *Engine) requeue(c Candidate) {
	c.Attempts++
	if c.Attempts > e.config.MaxScoreRetries {
		log.Warn().Str("mint", c.Mint.Short()).Int("attempts", c.Attempts).Msg("sniper: retries exhausted, dropping candidate")
		return
	}
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	e.retries[c.Mint] = c
}

func (e *Engine) lookupPair(ctx context.Context, mint solana.Pubkey) dexscreener.Pair {
	if e.deps.Pairs == nil {
		return dexscreener.Pair{}
	}
	pctx, cancel := context.WithTimeout(ctx, e.config.Monitor.PriceTimeout)
	defer cancel()
	pair, err := e.deps.Pairs.BestPair(pctx, mint)
	if err != nil {
		log.Debug().Err(err).Str("mint", mint.Short()).Msg("sniper: pair lookup failed")
		return dexscreener.Pair{}
	}
	return pair
}

func (e *Engine) recordScore(ctx context.Context, c Candidate, r scoring.Result, pair dexscreener.Pair) {
	e.persist(ctx, "score", func(ctx context.Context) error {
		return e.deps.Records.RecordScore(ctx, ScoreRecord{
			Mint:         c.Mint,
			Account:      c.Account,
			Score:        r.Score,
			EvaluatedAt:  r.EvaluatedAt,
			Symbol:       pair.Symbol,
			PriceUSD:     pair.PriceUSD,
			Volume24hUSD: pair.Volume24hUSD,
		})
	})
}

func (e *Engine) open(ctx context.Context, settings Settings, c Candidate, r scoring.Result, pair dexscreener.Pair, out execution.Outcome) bool {
	pos := Position{
		ID:           uuid.New().String()[:12],
		Mint:         c.Mint,
		Symbol:       pair.Symbol,
		Account:      c.Account,
		Score:        r.Score,
		AmountHeld:   out.OutAmount,
		Decimals:     out.OutDecimals,
		CostLamports: out.InAmount,
		BuySignature: out.Signature,
		PairAddress:  pair.PairAddress,
		Params:       settings.Trade,
		State:        StateMonitoring,
		OpenedAt:     time.Now(),
	}

	m := e.newMonitor(pos)
	if !e.registry.Insert(m) {
		log.Error().Str("mint", string(c.Mint)).Msg("sniper: bought a mint that is already monitored")
		return false
	}
	e.bought.Add(1)
	e.persist(ctx, "open", func(ctx context.Context) error {
		return e.deps.Records.RecordOpen(ctx, pos)
	})

	log.Info().
		Str("pos_id", pos.ID).
		Str("mint", string(pos.Mint)).
		Str("sig", string(pos.BuySignature)).
		Uint64("amount", pos.AmountHeld).
		Msg("sniper: position OPENED")
	e.deps.Notifier.Notify(notify.BuySucceeded(pos.Mint, pos.Symbol,
		notify.SOL(out.InAmount),
		notify.Amount{Raw: out.OutAmount, Decimals: out.OutDecimals},
		out.Signature))

	e.spawn(m)
	return true
}

func (e *Engine) newMonitor(pos Position) *Monitor {
	m := NewMonitor(pos, e.config.Monitor, e.deps.Prices, e.deps.Swapper, e.deps.Notifier)
	m.SetOnUpdate(func(p Position) {
		e.persist(context.Background(), "update", func(ctx context.Context) error {
			return e.deps.Records.RecordUpdate(ctx, p)
		})
	})
	m.SetOnClose(func(p Position) {
		if p.CloseReason == ReasonTakeProfit {
			e.guard.Cooldown(p.Mint, e.config.RebuyCooldown)
		}
		e.registry.Remove(m)
		e.closed.Add(1)
		e.persist(context.Background(), "close", func(ctx context.Context) error {
			return e.deps.Records.RecordClose(ctx, p)
		})
	})
	return m
}

func (e *Engine) spawn(m *Monitor) {
	e.monitors.Add(1)
	go func() {
		defer e.monitors.Done()
		defer func() {
			if r := recover(); r != nil {
				pos := m.Position()
				log.Error().
					Interface("panic", r).
					Str("pos_id", pos.ID).
					Str("mint", string(pos.Mint)).
					Msg("sniper: monitor panicked, position still open")
			}
		}()
		m.Run(e.monitorCtx)
	}()
}

// persist writes a record with its own deadline so a cancelled cycle still
// records what it did. Failures are logged only.
func (e *Engine) persist(ctx context.Context, what string, fn func(context.Context) error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(pctx); err != nil {
		log.Error().Err(err).Str("record", what).Msg("sniper: persist failed")
	}
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

// Restore restarts monitors for positions persisted as Monitoring. It returns
// how many were restored.
func (e *Engine) Restore(positions []Position) int {
	restored := 0
	for _, pos := range positions {
		if pos.State != "" && pos.State != StateMonitoring {
			continue
		}
		m := e.newMonitor(pos)
		if !e.registry.Insert(m) {
			continue
		}
		e.spawn(m)
		restored++
		log.Info().
			Str("pos_id", pos.ID).
			Str("mint", string(pos.Mint)).
			Str("entry_price", pos.EntryPrice.String()).
			Msg("sniper: position RESTORED")
	}
	return restored
}

// CancelPosition stops monitoring mint without selling and waits for the
// monitor to exit.
func (e *Engine) CancelPosition(ctx context.Context, mint solana.Pubkey) error {
	m, ok := e.registry.Get(mint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	m.Cancel()
	select {
	case <-m.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops new buys. Open positions keep being monitored.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		log.Warn().Msg("sniper: PAUSED")
	}
}

// Resume re-enables buys.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		log.Info().Msg("sniper: RESUMED")
	}
}

// Paused reports whether buys are paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Positions returns the open positions.
func (e *Engine) Positions() []Position { return e.registry.Snapshot() }

// Shutdown stops the monitors. With DrainOnStop it first waits, until ctx is
// done, for monitors to close on their own. A sell already submitted is still
// confirmed, bounded by the confirmer's timeout, so its outcome is recorded.
// Positions still open afterwards stay persisted as Monitoring, pending sell
// included, and are restored on the next start.
func (e *Engine) Shutdown(ctx context.Context) {
	if e.config.DrainOnStop && e.registry.Len() > 0 {
		log.Info().Int("open", e.registry.Len()).Msg("sniper: draining monitors")
		done := make(chan struct{})
		go func() {
			e.monitors.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	e.monitorCancel()
	e.monitors.Wait()

	for _, pos := range e.registry.Snapshot() {
		log.Warn().
			Str("pos_id", pos.ID).
			Str("mint", string(pos.Mint)).
			Str("entry_price", pos.EntryPrice.String()).
			Msg("sniper: position left open, will be restored on restart")
	}
	log.Info().Msg("sniper: shutdown complete")
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Cycles           int64     `json:"cycles"`
	Posts            int64     `json:"posts"`
	Candidates       int64     `json:"candidates"`
	Duplicates       int64     `json:"duplicates"`
	Scored           int64     `json:"scored"`
	Rejected         int64     `json:"rejected"`
	ScoreUnavailable int64     `json:"score_unavailable"`
	BuyAttempts      int64     `json:"buy_attempts"`
	Bought           int64     `json:"bought"`
	BuyFailures      int64     `json:"buy_failures"`
	Unconfirmed      int64     `json:"unconfirmed"`
	Closed           int64     `json:"closed"`
	OpenPositions    int       `json:"open_positions"`
	RetryQueue       int       `json:"retry_queue"`
	Blocked          int       `json:"blocked"`
	Paused           bool      `json:"paused"`
	Running          bool      `json:"running"`
	LastCycleAt      time.Time `json:"last_cycle_at"`
}

func (e *Engine) Stats() Stats {
	e.retryMu.Lock()
	retries := len(e.retries)
	e.retryMu.Unlock()

	var last time.Time
	if ns := e.lastCycle.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	return Stats{
		Cycles:           e.cycles.Load(),
		Posts:            e.posts.Load(),
		Candidates:       e.candidates.Load(),
		Duplicates:       e.duplicates.Load(),
		Scored:           e.scored.Load(),
		Rejected:         e.rejected.Load(),
		ScoreUnavailable: e.unavailable.Load(),
		BuyAttempts:      e.buyAttempts.Load(),
		Bought:           e.bought.Load(),
		BuyFailures:      e.buyFailures.Load(),
		Unconfirmed:      e.unconfirmed.Load(),
		Closed:           e.closed.Load(),
		OpenPositions:    e.registry.Len(),
		RetryQueue:       retries,
		Blocked:          len(e.guard.Blocked()),
		Paused:           e.paused.Load(),
		Running:          e.running.Load(),
		LastCycleAt:      last,
	}
}

type nopRecords struct{}

func (nopRecords) RecordScore(context.Context, ScoreRecord) error { return nil }
func (nopRecords) RecordOpen(context.Context, Position) error     { return nil }
func (nopRecords) RecordUpdate(context.Context, Position) error   { return nil }
func (nopRecords) RecordClose(context.Context, Position) error    { return nil }
