package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/spf13/viper"
)

// Config is the full run configuration loaded from file.
type Config struct {
	Backtest  BacktestConfig          `mapstructure:"backtest"`
	Data      DataConfig              `mapstructure:"data"`
	Experts   map[string]ExpertConfig `mapstructure:"experts"`
	Weighting WeightingConfig         `mapstructure:"weighting"`
	LLM       LLMConfig               `mapstructure:"llm"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
}

// BacktestConfig holds the immutable run parameters. It is validated
// once at startup and never mutated afterwards.
type BacktestConfig struct {
	StartDate        string   `mapstructure:"start_date"`
	EndDate          string   `mapstructure:"end_date"`
	Tickers          []string `mapstructure:"tickers"`
	InitialCapital   float64  `mapstructure:"initial_capital"`
	PositionSizing   float64  `mapstructure:"position_sizing"`
	MaxPositions     int      `mapstructure:"max_positions"`
	MaxPositionSize  float64  `mapstructure:"max_position_size"`
	CashReserve      float64  `mapstructure:"cash_reserve"`
	MinCashReserve   float64  `mapstructure:"min_cash_reserve"`
	TransactionCost  float64  `mapstructure:"transaction_cost"`
	Slippage         float64  `mapstructure:"slippage"`
	FractionalShares bool     `mapstructure:"fractional_shares"`
	RiskFreeRate     float64  `mapstructure:"risk_free_rate"`
	Workers          int      `mapstructure:"workers"`
	ExpertTimeout    time.Duration `mapstructure:"expert_timeout"`
}

// DataConfig points at the local market data store.
type DataConfig struct {
	PricesDir       string `mapstructure:"prices_dir"`
	FundamentalsDir string `mapstructure:"fundamentals_dir"`
	NewsDir         string `mapstructure:"news_dir"`
}

// ExpertConfig enables and tunes a single expert.
type ExpertConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Params  map[string]any `mapstructure:"params"`
}

// WeightingConfig selects the aggregation weight policy.
type WeightingConfig struct {
	Policy  string             `mapstructure:"policy"` // "uniform", "static", "gated"
	Weights map[string]float64 `mapstructure:"weights"` // for "static"
}

type LLMConfig struct {
	Provider string       `mapstructure:"provider"`
	Claude   ClaudeConfig `mapstructure:"claude"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// StorageConfig selects where run logs land.
type StorageConfig struct {
	Type    string   `mapstructure:"type"` // "localfs" or "s3"
	LogsDir string   `mapstructure:"logs_dir"`
	S3      S3Config `mapstructure:"s3"`
	// Write retry policy for log flushes.
	WriteRetries int           `mapstructure:"write_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds telemetry configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.WrapError(core.ErrConfigMissing, err)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Backtest: BacktestConfig{
			InitialCapital:  100000,
			PositionSizing:  0.15,
			MaxPositions:    5,
			MaxPositionSize: 0.25,
			CashReserve:     0.2,
			MinCashReserve:  0.1,
			TransactionCost: 0.001,
			Slippage:        0.0005,
			Workers:         4,
			ExpertTimeout:   2 * time.Minute,
		},
		Data: DataConfig{
			PricesDir:       "data/prices",
			FundamentalsDir: "data/fundamentals",
			NewsDir:         "data/news",
		},
		Experts: map[string]ExpertConfig{
			"technical":   {Enabled: true},
			"fundamental": {Enabled: true},
		},
		Weighting: WeightingConfig{
			Policy: "uniform",
		},
		Storage: StorageConfig{
			Type:         "localfs",
			LogsDir:      "logs",
			WriteRetries: 3,
			RetryBackoff: 500 * time.Millisecond,
		},
	}
}

// DateRange parses and validates the configured date range.
func (b BacktestConfig) DateRange() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", b.StartDate)
	if err != nil {
		return start, end, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("start_date: %w", err))
	}
	end, err = time.Parse("2006-01-02", b.EndDate)
	if err != nil {
		return start, end, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("end_date: %w", err))
	}
	if end.Before(start) {
		return start, end, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("end_date %s before start_date %s", b.EndDate, b.StartDate))
	}
	return start, end, nil
}

// Validate checks the backtest parameters. Invalid configuration is
// fatal and reported before the run loop starts.
func (b BacktestConfig) Validate() error {
	if _, _, err := b.DateRange(); err != nil {
		return err
	}
	if len(b.Tickers) == 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("no tickers configured"))
	}
	if b.InitialCapital <= 0 || math.IsNaN(b.InitialCapital) {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("initial_capital must be positive"))
	}
	for name, frac := range map[string]float64{
		"position_sizing":   b.PositionSizing,
		"max_position_size": b.MaxPositionSize,
		"cash_reserve":      b.CashReserve,
		"min_cash_reserve":  b.MinCashReserve,
		"transaction_cost":  b.TransactionCost,
		"slippage":          b.Slippage,
	} {
		if frac < 0 || frac > 1 || math.IsNaN(frac) {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s must be in [0,1]", name))
		}
	}
	if b.MaxPositions <= 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("max_positions must be positive"))
	}
	return nil
}
