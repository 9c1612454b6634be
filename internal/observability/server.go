package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/kolhunter/internal/sniper"
	"github.com/nexus-trading/kolhunter/internal/solana"
)

// Controller is the engine surface the operator API drives.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	Positions() []sniper.Position
	CancelPosition(ctx context.Context, mint solana.Pubkey) error
	Stats() sniper.Stats
}

// SettingsStore reads and replaces the runtime settings and accounts.
type SettingsStore interface {
	Snapshot(ctx context.Context) (sniper.Settings, error)
	UpdateSettings(ctx context.Context, s sniper.Settings) error
	Accounts(ctx context.Context) ([]string, error)
	SetAccounts(ctx context.Context, accounts []string) error
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Addr       string // default 127.0.0.1:9092; the control API has no auth
	InstanceID string
	DryRun     bool
}

// Server serves health, metrics, status and the control plane.
type Server struct {
	config   ServerConfig
	engine   Controller
	settings SettingsStore
	health   *HealthMonitor
	metrics  *Metrics
	extra    map[string]func() any
	http     *http.Server
}

// NewServer creates the server. health, metrics and settings may be nil.
func NewServer(config ServerConfig, engine Controller, settings SettingsStore, health *HealthMonitor, metrics *Metrics) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:9092"
	}
	s := &Server{
		config:   config,
		engine:   engine,
		settings: settings,
		health:   health,
		metrics:  metrics,
		extra:    make(map[string]func() any),
	}
	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddStats adds a named section to /api/status. Must be called before Run.
func (s *Server) AddStats(name string, fn func() any) {
	s.extra[name] = fn
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("DELETE /api/positions/{mint}", s.handleCancel)
	mux.HandleFunc("POST /api/control/pause", s.handlePause)
	mux.HandleFunc("POST /api/control/resume", s.handleResume)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/accounts", s.handleGetAccounts)
	mux.HandleFunc("PUT /api/accounts", s.handlePutAccounts)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.config.Addr).Msg("http: listening (health + metrics + control)")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  StatusHealthy,
		"dry_run": s.config.DryRun,
		"paused":  s.engine.Paused(),
	}
	code := http.StatusOK
	if s.health != nil {
		h := s.health.Snapshot()
		body["status"] = h.Status
		body["components"] = h.Components
		body["uptime"] = h.Uptime.Truncate(time.Second).String()
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"instance_id": s.config.InstanceID,
		"dry_run":     s.config.DryRun,
		"engine":      s.engine.Stats(),
	}
	for name, fn := range s.extra {
		body[name] = fn()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.engine.Positions()
	if positions == nil {
		positions = []sniper.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	mint := solana.Pubkey(r.PathValue("mint"))
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.engine.CancelPosition(ctx, mint); err != nil {
		if errors.Is(err, sniper.ErrPositionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Warn().Str("mint", mint.Short()).Msg("http: position cancelled by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "mint": string(mint)})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settings store not configured"))
		return
	}
	settings, err := s.settings.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settings store not configured"))
		return
	}
	var settings sniper.Settings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode settings: %w", err))
		return
	}
	if err := ValidateSettings(settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.settings.UpdateSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Info().
		Str("buy_amount", settings.Trade.BuyAmount.String()).
		Str("slippage_pct", settings.Trade.SlippagePct.String()).
		Uint64("priority_fee", settings.Trade.PriorityFee).
		Float64("min_score", settings.MinContractScore).
		Msg("http: settings updated")
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settings store not configured"))
		return
	}
	accounts, err := s.settings.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handlePutAccounts(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settings store not configured"))
		return
	}
	var accounts []string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&accounts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode accounts: %w", err))
		return
	}
	clean := make([]string, 0, len(accounts))
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		a = strings.TrimPrefix(strings.TrimSpace(a), "@")
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		clean = append(clean, a)
	}
	if err := s.settings.SetAccounts(r.Context(), clean); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Info().Strs("accounts", clean).Msg("http: tracked accounts updated")
	writeJSON(w, http.StatusOK, clean)
}

// ValidateSettings checks the ranges the engine relies on.
func ValidateSettings(s sniper.Settings) error {
	switch {
	case !s.Trade.BuyAmount.IsPositive():
		return errors.New("buy_amount must be positive")
	case !s.Trade.SlippagePct.IsPositive() || s.Trade.SlippagePct.GreaterThan(decimal.NewFromInt(100)):
		return errors.New("slippage_pct must be in (0, 100]")
	case s.MinContractScore < 0 || s.MinContractScore > 100:
		return errors.New("min_contract_score must be in [0, 100]")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("http: encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
