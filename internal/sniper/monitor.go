package sniper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ---------------------------------------------------------------------------
// Position Monitor: one goroutine per open position
// ---------------------------------------------------------------------------

// MonitorConfig configures position monitors.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	PriceTimeout time.Duration `yaml:"price_timeout"`
	TakeProfit   TakeProfit    `yaml:"take_profit"`

	// PendingExpiry is how long an unconfirmed sell may stay unresolved
	// before it is treated as dropped. A Solana transaction cannot land once
	// its blockhash expires (about 150 slots).
	PendingExpiry time.Duration `yaml:"pending_expiry"`
}

// DefaultMonitorConfig polls every 30s and sells 80% at +50%.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:      30 * time.Second,
		PriceTimeout:  10 * time.Second,
		TakeProfit:    DefaultTakeProfit(),
		PendingExpiry: 2 * time.Minute,
	}
}

// Monitor owns one position until it closes. It polls the price, records the
// entry price from the first read, and sells ExitPct once the take-profit
// rule fires. A failed sell leaves the position open for the next tick. An
// unconfirmed sell is tracked by signature; the position closes only once
// that signature lands.
type Monitor struct {
	config   MonitorConfig
	prices   PriceFeed
	seller   Seller
	notifier notify.Notifier

	onUpdate func(Position)
	onClose  func(Position)

	mu  sync.Mutex
	pos Position

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	ticks        atomic.Int64
	priceErrors  atomic.Int64
	sellAttempts atomic.Int64
	panics       atomic.Int64
}

// NewMonitor creates a monitor for pos.
func NewMonitor(pos Position, config MonitorConfig, prices PriceFeed, seller Seller, notifier notify.Notifier) *Monitor {
	def := DefaultMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.PriceTimeout <= 0 {
		config.PriceTimeout = def.PriceTimeout
	}
	if config.PendingExpiry <= 0 {
		config.PendingExpiry = def.PendingExpiry
	}
	pos.State = StateMonitoring
	if pos.PendingSell != "" && pos.PendingSince == nil {
		now := time.Now()
		pos.PendingSince = &now
	}
	return &Monitor{
		config:   config,
		prices:   prices,
		seller:   seller,
		notifier: notifier,
		pos:      pos,
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetOnUpdate sets the callback fired when the entry price, the pinned pair
// or the pending sell of the open position changes.
func (m *Monitor) SetOnUpdate(fn func(Position)) { m.onUpdate = fn }

// SetOnClose sets the callback fired once when the position closes.
func (m *Monitor) SetOnClose(fn func(Position)) { m.onClose = fn }

// Mint returns the monitored mint.
func (m *Monitor) Mint() solana.Pubkey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.Mint
}

// Position returns a copy of the monitored position.
func (m *Monitor) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Cancel closes the position without selling. Safe to call more than once.
func (m *Monitor) Cancel() {
	m.cancelOnce.Do(func() { close(m.cancel) })
}

// Done is closed when Run returns.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Run polls until the position closes or ctx is cancelled. Cancelling ctx
// stops monitoring but leaves the position in Monitoring.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	pos := m.Position()
	log.Info().
		Str("pos_id", pos.ID).
		Str("mint", pos.Mint.Short()).
		Str("pair", pos.PairAddress).
		Dur("interval", m.config.Interval).
		Msg("monitor: started")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Warn().
				Str("pos_id", pos.ID).
				Str("mint", pos.Mint.Short()).
				Msg("monitor: stopped, position still open")
			return
		case <-m.cancel:
			m.close(ReasonCancelled, execution.Outcome{})
			m.notifier.Notify(notify.PositionCancelled(pos.Mint))
			return
		default:
		}

		if m.safeTick(ctx) {
			return
		}

		select {
		case <-ctx.Done():
		case <-m.cancel:
		case <-ticker.C:
		}
	}
}

// safeTick runs one tick. A panic costs that tick only.
func (m *Monitor) safeTick(ctx context.Context) (closed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			pos := m.Position()
			log.Error().
				Interface("panic", r).
				Str("pos_id", pos.ID).
				Str("mint", pos.Mint.Short()).
				Msg("monitor: tick panicked, still monitoring")
			closed = pos.State == StateClosed
		}
	}()
	return m.tick(ctx)
}

// tick runs one observation. It reports whether the position closed.
func (m *Monitor) tick(ctx context.Context) bool {
	m.ticks.Add(1)
	pos := m.Position()

	sellBlocked := false
	if pos.PendingSell != "" {
		closed, blocked := m.resolvePending(ctx, pos)
		if closed {
			return true
		}
		sellBlocked = blocked
		pos = m.Position()
	}

	price, pinned, err := m.readPrice(ctx, pos)
	if err == nil && !price.IsPositive() {
		err = errors.New("non-positive price")
	}
	if err != nil {
		m.priceErrors.Add(1)
		log.Warn().Err(err).Str("pos_id", pos.ID).Str("mint", pos.Mint.Short()).Msg("monitor: price unavailable")
		return false
	}

	m.mu.Lock()
	m.pos.LastPrice = price
	changed := false
	if pinned != "" && m.pos.PairAddress == "" {
		m.pos.PairAddress = pinned
		changed = true
	}
	first := !m.pos.EntryPrice.IsPositive()
	if first {
		m.pos.EntryPrice = price
		changed = true
	}
	entry := m.pos.EntryPrice
	snapshot := m.pos
	m.mu.Unlock()

	if changed && m.onUpdate != nil {
		m.onUpdate(snapshot)
	}
	if first {
		log.Info().
			Str("pos_id", pos.ID).
			Str("mint", pos.Mint.Short()).
			Str("pair", snapshot.PairAddress).
			Str("entry_price", price.String()).
			Msg("monitor: entry price recorded")
		return false
	}

	gain, fire := m.config.TakeProfit.Evaluate(entry, price)
	log.Debug().
		Str("pos_id", pos.ID).
		Str("price", price.String()).
		Str("gain_pct", gain.StringFixed(2)).
		Msg("monitor: tick")
	if !fire {
		return false
	}
	if sellBlocked {
		log.Info().
			Str("pos_id", pos.ID).
			Str("pending", pos.PendingSell.Short()).
			Msg("monitor: take profit held, previous sell still pending")
		return false
	}

	log.Info().
		Str("pos_id", pos.ID).
		Str("mint", pos.Mint.Short()).
		Str("gain_pct", gain.StringFixed(2)).
		Str("exit_pct", m.config.TakeProfit.ExitPct.String()).
		Msg("monitor: TAKE PROFIT triggered")

	m.sellAttempts.Add(1)
	out := m.seller.Sell(ctx, pos.Mint, m.config.TakeProfit.ExitPct, pos.Params)

	switch {
	case out.Success:
		m.close(ReasonTakeProfit, out)
		m.notifier.Notify(notify.TakeProfitExecuted(pos.Mint, gain,
			notify.Amount{Raw: out.InAmount, Decimals: out.InDecimals},
			notify.SOL(out.OutAmount), out.Signature))
		return true
	case out.Kind == execution.KindConfirmationTimeout:
		m.setPending(out.Submitted)
		m.notifier.Notify(notify.SellUnconfirmed(pos.Mint, out.Submitted))
		return false
	case errors.Is(out.Err, execution.ErrNothingToSell):
		m.close(ReasonEmpty, out)
		m.notifier.Notify(notify.PositionEmpty(pos.Mint))
		return true
	default:
		m.notifier.Notify(notify.SellFailed(pos.Mint, string(out.Kind), out.Err))
		return false
	}
}

// readPrice reads from the pinned pair when there is one. Without a pin it
// reads the canonical pair and reports its address so the caller can pin it.
func (m *Monitor) readPrice(ctx context.Context, pos Position) (decimal.Decimal, string, error) {
	pctx, cancel := context.WithTimeout(ctx, m.config.PriceTimeout)
	defer cancel()

	if pos.PairAddress != "" {
		if feed, ok := m.prices.(PairPriceFeed); ok {
			price, err := feed.PairPrice(pctx, pos.Mint, pos.PairAddress)
			return price, "", err
		}
	} else if lookup, ok := m.prices.(PairLookup); ok {
		pair, err := lookup.BestPair(pctx, pos.Mint)
		if err != nil {
			return decimal.Zero, "", err
		}
		return pair.PriceUSD, pair.PairAddress, nil
	}
	price, err := m.prices.Price(pctx, pos.Mint)
	return price, "", err
}

// resolvePending checks the outstanding sell. closed reports that it landed
// and the position is closed; blocked reports that it is still unresolved.
func (m *Monitor) resolvePending(ctx context.Context, pos Position) (closed, blocked bool) {
	sig := pos.PendingSell
	sctx, cancel := context.WithTimeout(ctx, m.config.PriceTimeout)
	status, err := m.seller.TxStatus(sctx, sig)
	cancel()

	switch {
	case err != nil:
		log.Warn().Err(err).Str("pos_id", pos.ID).Str("sig", sig.Short()).Msg("monitor: pending sell status unavailable")
		return false, true
	case status == solana.TxFailed:
		log.Warn().Str("pos_id", pos.ID).Str("sig", sig.Short()).Msg("monitor: pending sell failed on-chain")
		m.clearPending()
		m.notifier.Notify(notify.PendingSellDropped(pos.Mint, sig, "failed on-chain"))
		return false, false
	case status.Landed():
		m.close(ReasonTakeProfit, execution.Outcome{Side: execution.SideSell, Mint: pos.Mint, Success: true, Signature: sig})
		m.notifier.Notify(notify.PendingSellLanded(pos.Mint, sig))
		return true, false
	}

	if pos.PendingSince != nil && time.Since(*pos.PendingSince) > m.config.PendingExpiry {
		log.Warn().Str("pos_id", pos.ID).Str("sig", sig.Short()).Msg("monitor: pending sell expired")
		m.clearPending()
		m.notifier.Notify(notify.PendingSellDropped(pos.Mint, sig, "expired"))
		return false, false
	}
	return false, true
}

func (m *Monitor) setPending(sig solana.Signature) {
	now := time.Now()
	m.mu.Lock()
	m.pos.PendingSell = sig
	m.pos.PendingSince = &now
	snapshot := m.pos
	m.mu.Unlock()

	log.Warn().
		Str("pos_id", snapshot.ID).
		Str("mint", snapshot.Mint.Short()).
		Str("sig", sig.Short()).
		Msg("monitor: sell UNCONFIRMED, tracking signature")
	if m.onUpdate != nil {
		m.onUpdate(snapshot)
	}
}

func (m *Monitor) clearPending() {
	m.mu.Lock()
	m.pos.PendingSell = ""
	m.pos.PendingSince = nil
	snapshot := m.pos
	m.mu.Unlock()

	if m.onUpdate != nil {
		m.onUpdate(snapshot)
	}
}

func (m *Monitor) close(reason CloseReason, out execution.Outcome) {
	now := time.Now()
	m.mu.Lock()
	m.pos.State = StateClosed
	m.pos.ClosedAt = &now
	m.pos.CloseReason = reason
	m.pos.PendingSell = ""
	m.pos.PendingSince = nil
	if out.Success {
		m.pos.SellSignature = out.Signature
		m.pos.ProceedsLamports = out.OutAmount
		if out.InAmount <= m.pos.AmountHeld {
			m.pos.AmountHeld -= out.InAmount
		}
	}
	closed := m.pos
	m.mu.Unlock()

	log.Info().
		Str("pos_id", closed.ID).
		Str("mint", closed.Mint.Short()).
		Str("reason", string(reason)).
		Str("sig", closed.SellSignature.Short()).
		Msg("monitor: position CLOSED")

	if m.onClose != nil {
		m.onClose(closed)
	}
}

// MonitorStats reports one monitor's counters.
type MonitorStats struct {
	Ticks        int64 `json:"ticks"`
	PriceErrors  int64 `json:"price_errors"`
	SellAttempts int64 `json:"sell_attempts"`
	Panics       int64 `json:"panics"`
}

func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Ticks:        m.ticks.Load(),
		PriceErrors:  m.priceErrors.Load(),
		SellAttempts: m.sellAttempts.Load(),
		Panics:       m.panics.Load(),
	}
}
