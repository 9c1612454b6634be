package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/nexus-trading/kolhunter/internal/adapters/dexscreener"
	"github.com/nexus-trading/kolhunter/internal/adapters/jupiter"
	"github.com/nexus-trading/kolhunter/internal/execution"
	"github.com/nexus-trading/kolhunter/internal/feed"
	"github.com/nexus-trading/kolhunter/internal/notify"
	"github.com/nexus-trading/kolhunter/internal/scoring"
	"github.com/nexus-trading/kolhunter/internal/sniper"
)

// Config is the root configuration structure for the hunter.
type Config struct {
	General     GeneralConfig           `yaml:"general"`
	Solana      SolanaConfig            `yaml:"solana"`
	Hunter      HunterConfig            `yaml:"hunter"`
	Trading     TradingConfig           `yaml:"trading"`
	Scoring     scoring.Config          `yaml:"scoring"`
	Jupiter     jupiter.Config          `yaml:"jupiter"`
	DexScreener dexscreener.Config      `yaml:"dexscreener"`
	Feed        feed.HTTPConfig         `yaml:"feed"`
	Telegram    notify.TelegramConfig   `yaml:"telegram"`
	Notify      notify.DispatcherConfig `yaml:"notify"`
	Postgres    PostgresConfig          `yaml:"postgres"`
	Metrics     MetricsConfig           `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
	LogFile     string `yaml:"log_file"`   // optional rotated file sink
}

type SolanaConfig struct {
	RPCEndpoint         string        `yaml:"rpc_endpoint"`
	WSEndpoint          string        `yaml:"ws_endpoint"`
	RateLimitRPS        float64       `yaml:"rate_limit_rps"`
	PrivateKey          string        `yaml:"private_key"` // base58 or JSON byte array
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	ConfirmPoll         time.Duration `yaml:"confirm_poll"`
	UseWebsocketConfirm bool          `yaml:"use_websocket_confirm"`
}

type HunterConfig struct {
	ScanInterval    time.Duration `yaml:"scan_interval"`
	Accounts        []string      `yaml:"accounts"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	ScoreTimeout    time.Duration `yaml:"score_timeout"`
	PriceInterval   time.Duration `yaml:"price_interval"`
	PriceTimeout    time.Duration `yaml:"price_timeout"`
	TakeProfitPct   float64       `yaml:"take_profit_pct"`
	ExitPct         float64       `yaml:"exit_pct"`
	FailureCooldown time.Duration `yaml:"failure_cooldown"`
	RebuyCooldown   time.Duration `yaml:"rebuy_cooldown"`
	MaxScoreRetries *int          `yaml:"max_score_retries"` // 0 = never retry
	DrainOnStop     *bool         `yaml:"drain_on_stop"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`

	// PendingSellExpiry is how long an unconfirmed sell may stay unresolved
	// before the take-profit rule may sell again.
	PendingSellExpiry time.Duration `yaml:"pending_sell_expiry"`
}

// TradingConfig seeds the runtime settings snapshot.
type TradingConfig struct {
	BuyAmount        float64 `yaml:"buy_amount"`   // SOL
	Slippage         float64 `yaml:"slippage"`     // percent
	PriorityFee      *uint64 `yaml:"priority_fee"` // micro-lamports per CU, 0 = estimate
	MinContractScore *float64 `yaml:"min_contract_score"` // 0 = buy anything scored
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type MetricsConfig struct {
	Host    string `yaml:"host"` // the control API is unauthenticated; keep it local
	Port    int    `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

// Addr is the listen address of the health, metrics and control server.
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Load reads .env (if present) and then parses a YAML configuration file
// with ${ENV} expansion and defaults applied. It does not validate.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "kol-hunter-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.WSEndpoint == "" {
		cfg.Solana.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}
	if cfg.Solana.ConfirmTimeout == 0 {
		cfg.Solana.ConfirmTimeout = 45 * time.Second
	}
	if cfg.Solana.ConfirmPoll == 0 {
		cfg.Solana.ConfirmPoll = 2 * time.Second
	}

	if cfg.Hunter.ScanInterval == 0 {
		cfg.Hunter.ScanInterval = 60 * time.Second
	}
	if cfg.Hunter.MaxConcurrency == 0 {
		cfg.Hunter.MaxConcurrency = 4
	}
	if cfg.Hunter.ScoreTimeout == 0 {
		cfg.Hunter.ScoreTimeout = 5 * time.Second
	}
	if cfg.Hunter.PriceInterval == 0 {
		cfg.Hunter.PriceInterval = 30 * time.Second
	}
	if cfg.Hunter.PriceTimeout == 0 {
		cfg.Hunter.PriceTimeout = 10 * time.Second
	}
	if cfg.Hunter.TakeProfitPct == 0 {
		cfg.Hunter.TakeProfitPct = 50
	}
	if cfg.Hunter.ExitPct == 0 {
		cfg.Hunter.ExitPct = 80
	}
	if cfg.Hunter.FailureCooldown == 0 {
		cfg.Hunter.FailureCooldown = 10 * time.Minute
	}
	if cfg.Hunter.RebuyCooldown == 0 {
		cfg.Hunter.RebuyCooldown = time.Hour
	}
	if cfg.Hunter.MaxScoreRetries == nil {
		retries := 3
		cfg.Hunter.MaxScoreRetries = &retries
	}
	if cfg.Hunter.DrainOnStop == nil {
		drain := true
		cfg.Hunter.DrainOnStop = &drain
	}
	if cfg.Hunter.DrainTimeout == 0 {
		cfg.Hunter.DrainTimeout = 30 * time.Second
	}
	if cfg.Hunter.PendingSellExpiry == 0 {
		cfg.Hunter.PendingSellExpiry = 2 * time.Minute
	}

	if cfg.Trading.BuyAmount == 0 {
		cfg.Trading.BuyAmount = 1
	}
	if cfg.Trading.Slippage == 0 {
		cfg.Trading.Slippage = 15
	}
	if cfg.Trading.PriorityFee == nil {
		fee := uint64(5000)
		cfg.Trading.PriorityFee = &fee
	}
	if cfg.Trading.MinContractScore == nil {
		score := 85.0
		cfg.Trading.MinContractScore = &score
	}

	scoringDef := scoring.DefaultConfig()
	if cfg.Scoring.BaseURL == "" {
		cfg.Scoring.BaseURL = scoringDef.BaseURL
	}
	if cfg.Scoring.Timeout == 0 {
		cfg.Scoring.Timeout = scoringDef.Timeout
	}
	if cfg.Scoring.RateLimitRPS == 0 {
		cfg.Scoring.RateLimitRPS = scoringDef.RateLimitRPS
	}

	jupDef := jupiter.DefaultConfig()
	if cfg.Jupiter.QuoteURL == "" {
		cfg.Jupiter.QuoteURL = jupDef.QuoteURL
	}
	if cfg.Jupiter.SwapURL == "" {
		cfg.Jupiter.SwapURL = jupDef.SwapURL
	}
	if cfg.Jupiter.Timeout == 0 {
		cfg.Jupiter.Timeout = jupDef.Timeout
	}

	dexDef := dexscreener.DefaultConfig()
	if cfg.DexScreener.BaseURL == "" {
		cfg.DexScreener.BaseURL = dexDef.BaseURL
	}
	if cfg.DexScreener.Timeout == 0 {
		cfg.DexScreener.Timeout = dexDef.Timeout
	}
	if cfg.DexScreener.RateLimitRPS == 0 {
		cfg.DexScreener.RateLimitRPS = dexDef.RateLimitRPS
	}

	feedDef := feed.DefaultHTTPConfig()
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = feedDef.BaseURL
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = feedDef.Timeout
	}
	if cfg.Feed.RateLimitRPS == 0 {
		cfg.Feed.RateLimitRPS = feedDef.RateLimitRPS
	}
	if cfg.Feed.PageLimit == 0 {
		cfg.Feed.PageLimit = feedDef.PageLimit
	}

	notifyDef := notify.DefaultDispatcherConfig()
	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = notifyDef.QueueSize
	}
	if cfg.Notify.SendTimeout == 0 {
		cfg.Notify.SendTimeout = notifyDef.SendTimeout
	}

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "127.0.0.1"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9092
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.General.LogFormat {
	case "json", "text":
	default:
		add("general.log_format must be json or text, got %q", c.General.LogFormat)
	}

	if !c.General.DryRun && strings.TrimSpace(c.Solana.PrivateKey) == "" {
		add("solana.private_key is required unless general.dry_run is set")
	}
	if c.Solana.RateLimitRPS < 0 {
		add("solana.rate_limit_rps must not be negative")
	}

	if c.Hunter.ScanInterval < time.Second {
		add("hunter.scan_interval must be at least 1s")
	}
	if c.Hunter.PriceInterval < time.Second {
		add("hunter.price_interval must be at least 1s")
	}
	if c.Hunter.MaxConcurrency < 1 {
		add("hunter.max_concurrency must be at least 1")
	}
	if c.Hunter.TakeProfitPct <= 0 {
		add("hunter.take_profit_pct must be positive")
	}
	if c.Hunter.ExitPct <= 0 || c.Hunter.ExitPct > 100 {
		add("hunter.exit_pct must be in (0, 100]")
	}
	if c.Hunter.MaxScoreRetries != nil && *c.Hunter.MaxScoreRetries < 0 {
		add("hunter.max_score_retries must not be negative")
	}
	if c.Hunter.PendingSellExpiry < 0 {
		add("hunter.pending_sell_expiry must not be negative")
	}

	if c.Trading.BuyAmount <= 0 {
		add("trading.buy_amount must be positive")
	}
	if c.Trading.Slippage <= 0 || c.Trading.Slippage > 100 {
		add("trading.slippage must be in (0, 100]")
	}
	if s := c.Trading.MinContractScore; s != nil && (*s < 0 || *s > 100) {
		add("trading.min_contract_score must be in [0, 100]")
	}

	if c.Scoring.APIKey == "" {
		add("scoring.api_key is required")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		add("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		add("postgres.dsn is required when postgres is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port must be a valid TCP port")
	}

	return errors.Join(errs...)
}

// Settings returns the seed settings snapshot.
func (c *Config) Settings() sniper.Settings {
	var fee uint64
	if c.Trading.PriorityFee != nil {
		fee = *c.Trading.PriorityFee
	}
	var minScore float64
	if c.Trading.MinContractScore != nil {
		minScore = *c.Trading.MinContractScore
	}
	return sniper.Settings{
		Trade: execution.TradeParams{
			BuyAmount:   decimal.NewFromFloat(c.Trading.BuyAmount),
			SlippagePct: decimal.NewFromFloat(c.Trading.Slippage),
			PriorityFee: fee,
		},
		MinContractScore: minScore,
	}
}

// EngineConfig maps the hunter section onto the engine configuration.
func (c *Config) EngineConfig() sniper.Config {
	var retries int
	if c.Hunter.MaxScoreRetries != nil {
		retries = *c.Hunter.MaxScoreRetries
	}
	return sniper.Config{
		ScanInterval:    c.Hunter.ScanInterval,
		MaxConcurrency:  c.Hunter.MaxConcurrency,
		ScoreTimeout:    c.Hunter.ScoreTimeout,
		FailureCooldown: c.Hunter.FailureCooldown,
		RebuyCooldown:   c.Hunter.RebuyCooldown,
		MaxScoreRetries: retries,
		DrainOnStop:     c.Hunter.DrainOnStop == nil || *c.Hunter.DrainOnStop,
		Monitor: sniper.MonitorConfig{
			Interval:      c.Hunter.PriceInterval,
			PriceTimeout:  c.Hunter.PriceTimeout,
			PendingExpiry: c.Hunter.PendingSellExpiry,
			TakeProfit: sniper.TakeProfit{
				ThresholdPct: decimal.NewFromFloat(c.Hunter.TakeProfitPct),
				ExitPct:      decimal.NewFromFloat(c.Hunter.ExitPct),
			},
		},
	}
}
