package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEngine struct {
	mu        sync.Mutex
	paused    bool
	positions []sniper.Position
	cancelled []solana.Pubkey
	stats     sniper.Stats
}

func (f *fakeEngine) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeEngine) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }
func (f *fakeEngine) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}
func (f *fakeEngine) Positions() []sniper.Position { return f.positions }
func (f *fakeEngine) Stats() sniper.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Paused = f.paused
	return s
}

func (f *fakeEngine) CancelPosition(_ context.Context, mint solana.Pubkey) error {
	for _, p := range f.positions {
		if p.Mint == mint {
			f.cancelled = append(f.cancelled, mint)
			return nil
		}
	}
	return sniper.ErrPositionNotFound
}

type fakeSettings struct {
	settings sniper.Settings
	accounts []string
}

func (f *fakeSettings) Snapshot(context.Context) (sniper.Settings, error) { return f.settings, nil }
func (f *fakeSettings) UpdateSettings(_ context.Context, s sniper.Settings) error {
	f.settings = s
	return nil
}
func (f *fakeSettings) Accounts(context.Context) ([]string, error) { return f.accounts, nil }
func (f *fakeSettings) SetAccounts(_ context.Context, a []string) error {
	f.accounts = a
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(text string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
}

func (r *recordingNotifier) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (p *fakePinger) Health(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

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

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine, *fakeSettings) {
	t.Helper()
	engine := &fakeEngine{
		positions: []sniper.Position{{ID: "p1", Mint: "MintA", State: sniper.StateMonitoring}},
		stats:     sniper.Stats{Cycles: 3, Running: true},
	}
	settings := &fakeSettings{settings: testSettings(), accounts: []string{"alice"}}
	metrics := NewMetrics(Sources{Engine: engine.Stats})
	srv := NewServer(ServerConfig{InstanceID: "test", DryRun: true}, engine, settings, nil, metrics)
	srv.AddStats("extra", func() any { return map[string]int{"n": 1} })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, engine, settings
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func TestServer_HealthAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"dry_run":true`)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Contains(t, status, "engine")
	assert.Contains(t, status, "extra")
	assert.JSONEq(t, `"test"`, string(status["instance_id"]))
}

func TestServer_DefaultsToLoopback(t *testing.T) {
	srv := NewServer(ServerConfig{InstanceID: "test"}, &fakeEngine{}, nil, nil, nil)
	assert.Equal(t, "127.0.0.1:9092", srv.http.Addr)

	srv = NewServer(ServerConfig{Addr: "0.0.0.0:9100"}, &fakeEngine{}, nil, nil, nil)
	assert.Equal(t, "0.0.0.0:9100", srv.http.Addr)
}

func TestServer_PauseResume(t *testing.T) {
	ts, engine, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/control/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/control/pause", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, engine.Paused())

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/control/resume", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, engine.Paused())
}

func TestServer_Positions(t *testing.T) {
	ts, engine, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/positions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var positions []sniper.Position
	require.NoError(t, json.Unmarshal([]byte(body), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "p1", positions[0].ID)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/positions/MintA", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []solana.Pubkey{"MintA"}, engine.cancelled)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/positions/Unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Settings(t *testing.T) {
	ts, _, settings := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/settings", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"min_contract_score":85`)

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/settings",
		`{"trade":{"buy_amount":"0.25","slippage_pct":"10","priority_fee":0},"min_contract_score":70}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 70.0, settings.settings.MinContractScore)
	assert.True(t, settings.settings.Trade.BuyAmount.Equal(decimal.RequireFromString("0.25")))

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/settings",
		`{"trade":{"buy_amount":"0","slippage_pct":"10"},"min_contract_score":70}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 70.0, settings.settings.MinContractScore, "rejected update leaves settings unchanged")

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/settings", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Accounts(t *testing.T) {
	ts, _, settings := newTestServer(t)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/accounts", `["@bob"," carol ","bob",""]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["bob","carol"]`, body)
	assert.Equal(t, []string{"bob", "carol"}, settings.accounts)

	_, body = do(t, http.MethodGet, ts.URL+"/api/accounts", "")
	assert.JSONEq(t, `["bob","carol"]`, body)
}

func TestServer_Metrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "kol_hunter_engine_cycles_total 3")
	assert.Contains(t, body, "kol_hunter_engine_paused 0")
	assert.Contains(t, body, "go_goroutines")
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*sniper.Settings)
		ok     bool
	}{
		{"defaults", func(*sniper.Settings) {}, true},
		{"zero buy", func(s *sniper.Settings) { s.Trade.BuyAmount = decimal.Zero }, false},
		{"slippage over 100", func(s *sniper.Settings) { s.Trade.SlippagePct = decimal.NewFromInt(101) }, false},
		{"slippage 100", func(s *sniper.Settings) { s.Trade.SlippagePct = decimal.NewFromInt(100) }, true},
		{"negative score", func(s *sniper.Settings) { s.MinContractScore = -1 }, false},
		{"score 100", func(s *sniper.Settings) { s.MinContractScore = 100 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			err := ValidateSettings(s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestMetrics_ReadStatsOnGather(t *testing.T) {
	var buys int64
	m := NewMetrics(Sources{
		Executor: func() execution.ExecutorStats { return execution.ExecutorStats{Buys: buys} },
		Notify:   func() notify.DispatcherStats { return notify.DispatcherStats{Dropped: 2} },
	})

	value := func(name string) float64 {
		families, err := m.Registry().Gather()
		require.NoError(t, err)
		for _, f := range families {
			if f.GetName() != name {
				continue
			}
			metric := f.GetMetric()[0]
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
		t.Fatalf("metric %s not found", name)
		return 0
	}

	assert.Equal(t, 0.0, value("kol_hunter_execution_buys_total"))
	buys = 4
	assert.Equal(t, 4.0, value("kol_hunter_execution_buys_total"))
	assert.Equal(t, 2.0, value("kol_hunter_notify_dropped_total"))

	m.ObserveHealth(SystemHealth{Components: map[string]ComponentHealth{
		"rpc": {Status: StatusUnhealthy},
	}})
	assert.Equal(t, 2.0, value("kol_hunter_health_component_status"))
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthMonitor_Transitions(t *testing.T) {
	pinger := &fakePinger{}
	hm := NewHealthMonitor(time.Hour)
	hm.Register("rpc", RPCCheck(pinger))

	var observed []ComponentStatus
	hm.SetObserver(func(h SystemHealth) { observed = append(observed, h.Status) })

	h := hm.Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	select {
	case a := <-hm.Alerts():
		t.Fatalf("unexpected alert on healthy start: %+v", a)
	default:
	}

	pinger.set(errors.New("connection refused"))
	h = hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, "connection refused", h.Components["rpc"].Message)

	a := <-hm.Alerts()
	assert.Equal(t, "critical", a.Level)
	assert.Equal(t, "rpc", a.Component)

	pinger.set(nil)
	hm.Check(context.Background())
	a = <-hm.Alerts()
	assert.Equal(t, "info", a.Level)

	assert.Equal(t, []ComponentStatus{StatusHealthy, StatusUnhealthy, StatusHealthy}, observed)
}

func TestHealthMonitor_ForwardAlerts(t *testing.T) {
	pinger := &fakePinger{err: errors.New("down")}
	hm := NewHealthMonitor(time.Hour)
	hm.Register("rpc", RPCCheck(pinger))

	n := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hm.ForwardAlerts(ctx, n)

	hm.Check(ctx)
	require.Eventually(t, func() bool { return n.Len() == 1 }, time.Second, 10*time.Millisecond)

	// Recovery is logged but not notified.
	pinger.set(nil)
	hm.Check(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, n.Len())
}

func TestEngineCheck(t *testing.T) {
	stats := sniper.Stats{Running: true, LastCycleAt: time.Now()}
	check := EngineCheck(func() sniper.Stats { return stats }, time.Minute)

	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	stats.LastCycleAt = time.Now().Add(-5 * time.Minute)
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)

	stats.Paused = true
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	stats.Running = false
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)
}
