package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BrokerConfig   BrokerConfig   `json:"broker"`
	TradingConfig  TradingConfig  `json:"trading"`
	RiskConfig     RiskConfig     `json:"risk"`
	CouncilConfig  CouncilConfig  `json:"council"`
	CostConfig     CostConfig     `json:"cost"`
	SessionConfig  SessionConfig  `json:"session"`
	MonitorConfig  MonitorConfig  `json:"monitor"`
	ScannerConfig  ScannerConfig  `json:"scanner"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	VaultConfig    VaultConfig    `json:"vault"`
	TelegramConfig TelegramConfig `json:"telegram"`
}

// BrokerConfig holds the brokerage OpenAPI connection settings.
type BrokerConfig struct {
	AppKey     string `json:"app_key"`
	AppSecret  string `json:"app_secret"`
	AccountNo  string `json:"account_no"`
	BaseURL    string `json:"base_url"`
	MockMode   bool   `json:"mock_mode"` // Use simulated data when the broker API is unavailable
	TimeoutSec int    `json:"timeout_sec"`
}

// TradingConfig holds the master trading switches.
type TradingConfig struct {
	TradingEnabled      bool    `json:"trading_enabled"`
	AutoExecute         bool    `json:"auto_execute"`
	RespectTradingHours bool    `json:"respect_trading_hours"`
	MinConfidence       float64 `json:"min_confidence"`  // 0..1, auto-execute floor
	CouncilThreshold    int     `json:"council_threshold"` // news score needed to convene a council (1..10)
	SellThreshold       int     `json:"sell_threshold"`    // technical score at/below which sells escalate (1..10)
}

// RiskConfig holds position sizing limits and stop/target policy bounds.
type RiskConfig struct {
	MaxPositionPerStock float64 `json:"max_position_per_stock"` // percent of total assets
	MaxPositions        int     `json:"max_positions"`
	MinPositionPct      float64 `json:"min_position_pct"`
	MinCashReservePct   float64 `json:"min_cash_reserve_pct"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	MinStopLossPct      float64 `json:"min_stop_loss_pct"`
	MaxStopLossPct      float64 `json:"max_stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	MinTakeProfitPct    float64 `json:"min_take_profit_pct"`
	MaxTakeProfitPct    float64 `json:"max_take_profit_pct"`
}

// CouncilConfig holds LLM analyst settings.
type CouncilConfig struct {
	Provider          string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey            string  `json:"api_key"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	AnalystTimeoutSec int     `json:"analyst_timeout_sec"`
	MaxConcurrent     int     `json:"max_concurrent"` // concurrent meetings across symbols
}

// CostConfig holds the analysis budget limits.
type CostConfig struct {
	DailyBudgetUSD     float64 `json:"daily_budget_usd"`
	MonthlyBudgetUSD   float64 `json:"monthly_budget_usd"`
	MaxFullPerDay      int     `json:"max_full_per_day"`
	MaxDeepPerDay      int     `json:"max_deep_per_day"`
	SymbolCooldownMins int     `json:"symbol_cooldown_mins"`
}

// SessionConfig holds the market calendar: holidays plus the four
// tradeable windows in the market's civil time zone.
type SessionConfig struct {
	Timezone string   `json:"timezone"`
	Holidays []string `json:"holidays"` // "2026-01-01" style dates
	Regular  Window   `json:"regular"`
	Pre      Window   `json:"pre"`
	PostA    Window   `json:"post_a"`
	PostB    Window   `json:"post_b"`
}

// Window is a clock interval like 09:00-15:30.
type Window struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// MonitorConfig holds scheduler cadences.
type MonitorConfig struct {
	Enabled              bool   `json:"enabled"`
	PriceSweepIntervalSec int   `json:"price_sweep_interval_sec"`
	DrainIntervalSec     int    `json:"drain_interval_sec"`
	EODCronSpec          string `json:"eod_cron_spec"`      // holding-deadline + rebalance
	UniverseCronSpec     string `json:"universe_cron_spec"` // universe refresh
	SellCooldownSec      int    `json:"sell_cooldown_sec"`
	MaxConcurrentSymbols int    `json:"max_concurrent_symbols"`
}

// ScannerConfig holds quant scan settings.
type ScannerConfig struct {
	Enabled         bool `json:"enabled"`
	ScanIntervalSec int  `json:"scan_interval_sec"`
	WorkerCount     int  `json:"worker_count"`
	BuyScoreMin     int  `json:"buy_score_min"`     // composite score needed to convene a BUY council
	MaxBuysPerScan  int  `json:"max_buys_per_scan"` // cap on new BUY meetings per scan cycle
	BuyCooldownMins int  `json:"buy_cooldown_mins"` // per-symbol cooldown for scan-triggered buys
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for locks, cooldowns and result caching.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ServerConfig holds the HTTP reporting surface settings.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// VaultConfig holds optional HashiCorp Vault settings used to pull broker
// credentials instead of reading them from the environment.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BrokerConfig.BaseURL == "" {
		cfg.BrokerConfig.BaseURL = "https://openapi.koreainvestment.com:9443"
	}
	if cfg.BrokerConfig.TimeoutSec == 0 {
		cfg.BrokerConfig.TimeoutSec = 30
	}
	if cfg.TradingConfig.MinConfidence == 0 {
		cfg.TradingConfig.MinConfidence = 0.6
	}
	if cfg.TradingConfig.CouncilThreshold == 0 {
		cfg.TradingConfig.CouncilThreshold = 7
	}
	if cfg.TradingConfig.SellThreshold == 0 {
		cfg.TradingConfig.SellThreshold = 3
	}
	if cfg.RiskConfig.MaxPositions == 0 {
		cfg.RiskConfig.MaxPositions = 10
	}
	if cfg.RiskConfig.MinPositionPct == 0 {
		cfg.RiskConfig.MinPositionPct = 1.0
	}
	if cfg.RiskConfig.MinCashReservePct == 0 {
		cfg.RiskConfig.MinCashReservePct = 10.0
	}
	if cfg.RiskConfig.StopLossPct == 0 {
		cfg.RiskConfig.StopLossPct = 7.0
	}
	if cfg.RiskConfig.MinStopLossPct == 0 {
		cfg.RiskConfig.MinStopLossPct = 3.0
	}
	if cfg.RiskConfig.MaxStopLossPct == 0 {
		cfg.RiskConfig.MaxStopLossPct = 15.0
	}
	if cfg.RiskConfig.TakeProfitPct == 0 {
		cfg.RiskConfig.TakeProfitPct = 12.0
	}
	if cfg.RiskConfig.MinTakeProfitPct == 0 {
		cfg.RiskConfig.MinTakeProfitPct = 5.0
	}
	if cfg.RiskConfig.MaxTakeProfitPct == 0 {
		cfg.RiskConfig.MaxTakeProfitPct = 30.0
	}
	if cfg.RiskConfig.MaxPositionPerStock == 0 {
		cfg.RiskConfig.MaxPositionPerStock = 20.0
	}
	if cfg.CouncilConfig.Provider == "" {
		cfg.CouncilConfig.Provider = "claude"
	}
	if cfg.CouncilConfig.MaxTokens == 0 {
		cfg.CouncilConfig.MaxTokens = 1024
	}
	if cfg.CouncilConfig.Temperature == 0 {
		cfg.CouncilConfig.Temperature = 0.3
	}
	if cfg.CouncilConfig.AnalystTimeoutSec == 0 {
		cfg.CouncilConfig.AnalystTimeoutSec = 60
	}
	if cfg.CouncilConfig.MaxConcurrent == 0 {
		cfg.CouncilConfig.MaxConcurrent = 5
	}
	if cfg.CostConfig.DailyBudgetUSD == 0 {
		cfg.CostConfig.DailyBudgetUSD = 5.0
	}
	if cfg.CostConfig.MonthlyBudgetUSD == 0 {
		cfg.CostConfig.MonthlyBudgetUSD = 100.0
	}
	if cfg.CostConfig.MaxFullPerDay == 0 {
		cfg.CostConfig.MaxFullPerDay = 20
	}
	if cfg.CostConfig.MaxDeepPerDay == 0 {
		cfg.CostConfig.MaxDeepPerDay = 5
	}
	if cfg.CostConfig.SymbolCooldownMins == 0 {
		cfg.CostConfig.SymbolCooldownMins = 30
	}
	if cfg.SessionConfig.Timezone == "" {
		cfg.SessionConfig.Timezone = "Asia/Seoul"
	}
	if cfg.SessionConfig.Regular.Open == "" {
		cfg.SessionConfig.Regular = Window{Open: "09:00", Close: "15:30"}
	}
	if cfg.SessionConfig.Pre.Open == "" {
		cfg.SessionConfig.Pre = Window{Open: "08:30", Close: "09:00"}
	}
	if cfg.SessionConfig.PostA.Open == "" {
		cfg.SessionConfig.PostA = Window{Open: "15:40", Close: "16:00"}
	}
	if cfg.SessionConfig.PostB.Open == "" {
		cfg.SessionConfig.PostB = Window{Open: "18:00", Close: "18:30"}
	}
	if cfg.MonitorConfig.PriceSweepIntervalSec == 0 {
		cfg.MonitorConfig.PriceSweepIntervalSec = 60
	}
	if cfg.MonitorConfig.DrainIntervalSec == 0 {
		cfg.MonitorConfig.DrainIntervalSec = 60
	}
	if cfg.MonitorConfig.EODCronSpec == "" {
		cfg.MonitorConfig.EODCronSpec = "0 0 16 * * 1-5" // 16:00 KST weekdays
	}
	if cfg.MonitorConfig.UniverseCronSpec == "" {
		cfg.MonitorConfig.UniverseCronSpec = "0 30 8 * * 1-5"
	}
	if cfg.MonitorConfig.SellCooldownSec == 0 {
		cfg.MonitorConfig.SellCooldownSec = 1800
	}
	if cfg.MonitorConfig.MaxConcurrentSymbols == 0 {
		cfg.MonitorConfig.MaxConcurrentSymbols = 5
	}
	if cfg.ScannerConfig.ScanIntervalSec == 0 {
		cfg.ScannerConfig.ScanIntervalSec = 300
	}
	if cfg.ScannerConfig.WorkerCount == 0 {
		cfg.ScannerConfig.WorkerCount = 5
	}
	if cfg.ScannerConfig.BuyScoreMin == 0 {
		cfg.ScannerConfig.BuyScoreMin = 80
	}
	if cfg.ScannerConfig.MaxBuysPerScan == 0 {
		cfg.ScannerConfig.MaxBuysPerScan = 3
	}
	if cfg.ScannerConfig.BuyCooldownMins == 0 {
		cfg.ScannerConfig.BuyCooldownMins = 60
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.BrokerConfig.AppKey = getEnvOrDefault("BROKER_APP_KEY", cfg.BrokerConfig.AppKey)
	cfg.BrokerConfig.AppSecret = getEnvOrDefault("BROKER_APP_SECRET", cfg.BrokerConfig.AppSecret)
	cfg.BrokerConfig.AccountNo = getEnvOrDefault("BROKER_ACCOUNT_NO", cfg.BrokerConfig.AccountNo)
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	cfg.BrokerConfig.MockMode = getEnvBoolOrDefault("BROKER_MOCK_MODE", cfg.BrokerConfig.MockMode)

	cfg.TradingConfig.TradingEnabled = getEnvBoolOrDefault("TRADING_ENABLED", cfg.TradingConfig.TradingEnabled)
	cfg.TradingConfig.AutoExecute = getEnvBoolOrDefault("AUTO_EXECUTE", cfg.TradingConfig.AutoExecute)
	cfg.TradingConfig.RespectTradingHours = getEnvBoolOrDefault("RESPECT_TRADING_HOURS", cfg.TradingConfig.RespectTradingHours)
	cfg.TradingConfig.MinConfidence = getEnvFloatOrDefault("MIN_CONFIDENCE", cfg.TradingConfig.MinConfidence)
	cfg.TradingConfig.CouncilThreshold = getEnvIntOrDefault("COUNCIL_THRESHOLD", cfg.TradingConfig.CouncilThreshold)
	cfg.TradingConfig.SellThreshold = getEnvIntOrDefault("SELL_THRESHOLD", cfg.TradingConfig.SellThreshold)

	cfg.CouncilConfig.Provider = getEnvOrDefault("LLM_PROVIDER", cfg.CouncilConfig.Provider)
	cfg.CouncilConfig.APIKey = getEnvOrDefault("LLM_API_KEY", cfg.CouncilConfig.APIKey)
	cfg.CouncilConfig.Model = getEnvOrDefault("LLM_MODEL", cfg.CouncilConfig.Model)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultIfEmpty(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultIfZero(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultIfEmpty(cfg.DatabaseConfig.User, "trader"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultIfEmpty(cfg.DatabaseConfig.Database, "krx_trader"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultIfEmpty(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultIfEmpty(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultIfEmpty(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultIfEmpty(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultIfEmpty(cfg.VaultConfig.SecretPath, "krx-trader/broker"))

	cfg.TelegramConfig.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.TelegramConfig.Enabled)
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.TelegramConfig.ChatID)
}

// Validate rejects configurations the system cannot run with.
func (c *Config) Validate() error {
	if c.TradingConfig.MinConfidence < 0 || c.TradingConfig.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", c.TradingConfig.MinConfidence)
	}
	if c.RiskConfig.MinStopLossPct > c.RiskConfig.MaxStopLossPct {
		return fmt.Errorf("min_stop_loss_pct %v exceeds max_stop_loss_pct %v",
			c.RiskConfig.MinStopLossPct, c.RiskConfig.MaxStopLossPct)
	}
	if c.RiskConfig.MinTakeProfitPct > c.RiskConfig.MaxTakeProfitPct {
		return fmt.Errorf("min_take_profit_pct %v exceeds max_take_profit_pct %v",
			c.RiskConfig.MinTakeProfitPct, c.RiskConfig.MaxTakeProfitPct)
	}
	if c.RiskConfig.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.RiskConfig.MaxPositions)
	}
	for _, h := range c.SessionConfig.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
	}
	for _, w := range []Window{c.SessionConfig.Regular, c.SessionConfig.Pre, c.SessionConfig.PostA, c.SessionConfig.PostB} {
		if err := w.validate(); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.CouncilConfig.Provider) {
	case "claude", "openai", "deepseek":
	default:
		return fmt.Errorf("unsupported LLM provider %q", c.CouncilConfig.Provider)
	}
	return nil
}

func (w Window) validate() error {
	for _, s := range []string{w.Open, w.Close} {
		if _, err := time.Parse("15:04", s); err != nil {
			return fmt.Errorf("invalid session window time %q: %w", s, err)
		}
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultIfZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
