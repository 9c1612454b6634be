// Package observability exposes Prometheus metrics, component health and the
// operator HTTP surface.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-trading/kolhunter/internal/adapters/dexscreener"
	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/feed"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/scoring"
	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

const namespace = "kol_hunter"

// Sources are the Stats readers scraped on every collection. Nil readers are
// skipped.
type Sources struct {
	Engine      func() sniper.Stats
	Executor    func() execution.ExecutorStats
	Notify      func() notify.DispatcherStats
	Scoring     func() scoring.ClientStats
	Jupiter     func() jupiter.Stats
	DexScreener func() dexscreener.Stats
	Feed        func() feed.Stats
	RPC         func() solana.RPCStats
	Fees        func() solana.FeeStats
}

// Metrics holds the collectors that are set directly rather than read from
// component stats.
type Metrics struct {
	registry *prometheus.Registry

	ComponentHealth *prometheus.GaugeVec
	Info            *prometheus.GaugeVec
	StartTime       prometheus.Gauge
}

// NewMetrics creates a registry with Go and process collectors plus one
// collector per Stats field in src.
func NewMetrics(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ComponentHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "component_status",
			Help:      "Component health: 0 healthy, 1 degraded, 2 unhealthy",
		}, []string{"component"}),
		Info: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Static instance information",
		}, []string{"instance", "dry_run"}),
		StartTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix time the process started",
		}),
	}
	m.StartTime.Set(float64(time.Now().Unix()))

	if src.Engine != nil {
		registerEngine(f, src.Engine)
	}
	if src.Executor != nil {
		read := src.Executor
		counter(f, "execution", "buys_total", "Buy attempts", func() float64 { return float64(read().Buys) })
		counter(f, "execution", "sells_total", "Sell attempts", func() float64 { return float64(read().Sells) })
		counter(f, "execution", "successes_total", "Confirmed swaps", func() float64 { return float64(read().Successes) })
		counter(f, "execution", "failures_total", "Failed swaps", func() float64 { return float64(read().Failures) })
		counter(f, "execution", "unconfirmed_total", "Swaps submitted but not confirmed in time", func() float64 { return float64(read().Unconfirmed) })
	}
	if src.Notify != nil {
		read := src.Notify
		counter(f, "notify", "sent_total", "Notifications delivered", func() float64 { return float64(read().Sent) })
		counter(f, "notify", "failed_total", "Notifications that failed to deliver", func() float64 { return float64(read().Failed) })
		counter(f, "notify", "dropped_total", "Notifications dropped on a full queue", func() float64 { return float64(read().Dropped) })
		gauge(f, "notify", "pending", "Notifications waiting in the queue", func() float64 { return float64(read().Pending) })
	}
	if src.Scoring != nil {
		read := src.Scoring
		counter(f, "scoring", "requests_total", "Score requests", func() float64 { return float64(read().Requests) })
		counter(f, "scoring", "unavailable_total", "Score requests that returned no score", func() float64 { return float64(read().Unavailable) })
	}
	if src.Jupiter != nil {
		read := src.Jupiter
		counter(f, "jupiter", "quotes_total", "Quote requests", func() float64 { return float64(read().QuoteCount) })
		counter(f, "jupiter", "no_route_total", "Quotes with no viable route", func() float64 { return float64(read().NoRouteCount) })
		counter(f, "jupiter", "errors_total", "Aggregator errors", func() float64 { return float64(read().ErrorCount) })
		gauge(f, "jupiter", "circuit_open", "1 while the aggregator circuit breaker is open", func() float64 { return boolGauge(read().CircuitOpen) })
	}
	if src.DexScreener != nil {
		read := src.DexScreener
		counter(f, "dexscreener", "requests_total", "Price requests", func() float64 { return float64(read().Requests) })
		counter(f, "dexscreener", "errors_total", "Price request errors", func() float64 { return float64(read().Errors) })
	}
	if src.Feed != nil {
		read := src.Feed
		counter(f, "feed", "polls_total", "Feed polls", func() float64 { return float64(read().Polls) })
		counter(f, "feed", "errors_total", "Feed poll errors", func() float64 { return float64(read().Errors) })
	}
	if src.RPC != nil {
		read := src.RPC
		counter(f, "rpc", "requests_total", "Solana RPC requests", func() float64 { return float64(read().RequestCount) })
		counter(f, "rpc", "errors_total", "Solana RPC errors", func() float64 { return float64(read().ErrorCount) })
		gauge(f, "rpc", "circuit_open", "1 while the RPC circuit breaker is open", func() float64 { return boolGauge(read().CircuitOpen) })
	}
	if src.Fees != nil {
		read := src.Fees
		gauge(f, "fees", "p75_micro_lamports", "p75 recent prioritization fee", func() float64 { return float64(read().P75) })
	}

	return m
}

func registerEngine(f promauto.Factory, read func() sniper.Stats) {
	counter(f, "engine", "cycles_total", "Completed scan cycles", func() float64 { return float64(read().Cycles) })
	counter(f, "engine", "posts_total", "Posts read from the feed", func() float64 { return float64(read().Posts) })
	counter(f, "engine", "candidates_total", "Token candidates extracted", func() float64 { return float64(read().Candidates) })
	counter(f, "engine", "duplicates_total", "Candidates skipped as duplicates", func() float64 { return float64(read().Duplicates) })
	counter(f, "engine", "scored_total", "Candidates with a score", func() float64 { return float64(read().Scored) })
	counter(f, "engine", "rejected_total", "Candidates below the minimum score", func() float64 { return float64(read().Rejected) })
	counter(f, "engine", "score_unavailable_total", "Candidates with no score available", func() float64 { return float64(read().ScoreUnavailable) })
	counter(f, "engine", "buys_total", "Confirmed buys", func() float64 { return float64(read().Bought) })
	counter(f, "engine", "buy_failures_total", "Failed buys", func() float64 { return float64(read().BuyFailures) })
	counter(f, "engine", "closed_total", "Closed positions", func() float64 { return float64(read().Closed) })
	gauge(f, "engine", "open_positions", "Positions being monitored", func() float64 { return float64(read().OpenPositions) })
	gauge(f, "engine", "retry_queue", "Candidates waiting for the next cycle", func() float64 { return float64(read().RetryQueue) })
	gauge(f, "engine", "blocked", "Mints blocked until restart", func() float64 { return float64(read().Blocked) })
	gauge(f, "engine", "paused", "1 while new buys are paused", func() float64 { return boolGauge(read().Paused) })
	gauge(f, "engine", "last_cycle_seconds", "Unix time of the last completed cycle", func() float64 {
		t := read().LastCycleAt
		if t.IsZero() {
			return 0
		}
		return float64(t.Unix())
	})
}

func counter(f promauto.Factory, subsystem, name, help string, fn func() float64) {
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func gauge(f promauto.Factory, subsystem, name, help string, fn func() float64) {
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveHealth copies component statuses into the health gauge.
func (m *Metrics) ObserveHealth(h SystemHealth) {
	for name, c := range h.Components {
		m.ComponentHealth.WithLabelValues(name).Set(float64(statusSeverity(c.Status)))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
