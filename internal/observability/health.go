package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/sniper"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
}

// SystemHealth is the aggregate health of the process.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// Alert is emitted when a component changes status.
type Alert struct {
	Level     string    `json:"level"` // info|warn|critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// ---------------------------------------------------------------------------
// HealthMonitor
// ---------------------------------------------------------------------------

// HealthMonitor runs registered checks periodically and emits an Alert on
// every status transition after the first check.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
	timeout   time.Duration
	observer  func(SystemHealth)
	alertCh   chan Alert
}

// NewHealthMonitor creates a monitor that checks every interval.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
		timeout:   5 * time.Second,
		alertCh:   make(chan Alert, 64),
	}
}

// Register adds a named check. Must be called before Run.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// SetObserver sets a callback invoked after every round of checks.
func (m *HealthMonitor) SetObserver(fn func(SystemHealth)) {
	m.observer = fn
}

// Run checks immediately and then every interval until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Check runs every check now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.Snapshot()
}

// Alerts returns the alert channel. Alerts are dropped when nobody reads.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alertCh
}

// ForwardAlerts sends non-info alerts to n until ctx is cancelled.
func (m *HealthMonitor) ForwardAlerts(ctx context.Context, n notify.Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.alertCh:
			log.Warn().
				Str("component", a.Component).
				Str("level", a.Level).
				Str("message", a.Message).
				Msg("health: status changed")
			if a.Level != "info" {
				n.Notify(notify.HealthAlert(a.Component, a.Level, a.Message))
			}
		}
	}
}

// Snapshot returns the latest results without running checks.
func (m *HealthMonitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if statusSeverity(h.Status) > statusSeverity(worst) {
			worst = h.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		result := fn(cctx)
		cancel()
		result.Name = name
		result.LastChecked = time.Now()
		result.Latency = time.Since(start)
		results[name] = result
	}

	m.mu.Lock()
	prev := m.results
	m.results = results
	m.mu.Unlock()

	for name, cur := range results {
		old, existed := prev[name]
		switch {
		case !existed && cur.Status != StatusHealthy:
			m.emitAlert(cur)
		case existed && old.Status != cur.Status:
			m.emitAlert(cur)
		}
	}

	if m.observer != nil {
		m.observer(m.Snapshot())
	}
}

func (m *HealthMonitor) emitAlert(h ComponentHealth) {
	level := "info"
	switch h.Status {
	case StatusUnhealthy:
		level = "critical"
	case StatusDegraded:
		level = "warn"
	}

	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}

	select {
	case m.alertCh <- Alert{Level: level, Component: h.Name, Message: msg, Timestamp: time.Now()}:
	default:
	}
}

func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

// Pinger is satisfied by the Solana RPC client.
type Pinger interface {
	Health(ctx context.Context) error
}

// RPCCheck reports unhealthy while the endpoint health call fails.
func RPCCheck(p Pinger) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := p.Health(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// EngineCheck reports degraded when no cycle completed within maxAge while
// the scan loop is running.
func EngineCheck(stats func() sniper.Stats, maxAge time.Duration) HealthCheck {
	return func(context.Context) ComponentHealth {
		s := stats()
		switch {
		case !s.Running:
			return ComponentHealth{Status: StatusDegraded, Message: "scan loop not running"}
		case s.Paused:
			return ComponentHealth{Status: StatusHealthy, Message: "paused"}
		case !s.LastCycleAt.IsZero() && time.Since(s.LastCycleAt) > maxAge:
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("last cycle %s ago", time.Since(s.LastCycleAt).Truncate(time.Second)),
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
