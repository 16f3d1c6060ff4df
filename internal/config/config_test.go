package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quorumtrade/quorum/internal/core"
)

func TestLoad_FromFile(t *testing.T) {
	content := []byte(`
backtest:
  start_date: "2020-01-01"
  end_date: "2021-01-01"
  tickers: ["aapl", "msft"]
  initial_capital: 250000
  fractional_shares: true

storage:
  type: localfs
  logs_dir: "/tmp/quorum/logs"
`)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Backtest.InitialCapital != 250000 {
		t.Errorf("expected capital 250000, got %f", cfg.Backtest.InitialCapital)
	}
	if !cfg.Backtest.FractionalShares {
		t.Error("expected fractional_shares true")
	}
	if len(cfg.Backtest.Tickers) != 2 {
		t.Errorf("expected 2 tickers, got %d", len(cfg.Backtest.Tickers))
	}
	if cfg.Storage.LogsDir != "/tmp/quorum/logs" {
		t.Errorf("unexpected logs_dir %s", cfg.Storage.LogsDir)
	}

	// Fields absent from the file keep their defaults
	if cfg.Backtest.PositionSizing != 0.15 {
		t.Errorf("expected default position_sizing 0.15, got %f", cfg.Backtest.PositionSizing)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("Load() error = %v, want ErrConfigMissing", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Backtest.TransactionCost != 0.001 {
		t.Errorf("expected default transaction_cost 0.001, got %f", cfg.Backtest.TransactionCost)
	}
	if cfg.Backtest.Slippage != 0.0005 {
		t.Errorf("expected default slippage 0.0005, got %f", cfg.Backtest.Slippage)
	}
	if cfg.Storage.Type != "localfs" {
		t.Errorf("expected default storage localfs, got %s", cfg.Storage.Type)
	}
}

func validBacktest() BacktestConfig {
	b := Defaults().Backtest
	b.StartDate = "2020-01-01"
	b.EndDate = "2020-12-31"
	b.Tickers = []string{"aapl"}
	return b
}

func TestBacktestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BacktestConfig)
		wantErr bool
	}{
		{"valid", func(b *BacktestConfig) {}, false},
		{"bad start date", func(b *BacktestConfig) { b.StartDate = "01/01/2020" }, true},
		{"inverted range", func(b *BacktestConfig) { b.StartDate, b.EndDate = b.EndDate, b.StartDate }, true},
		{"no tickers", func(b *BacktestConfig) { b.Tickers = nil }, true},
		{"zero capital", func(b *BacktestConfig) { b.InitialCapital = 0 }, true},
		{"sizing above 1", func(b *BacktestConfig) { b.PositionSizing = 1.5 }, true},
		{"negative slippage", func(b *BacktestConfig) { b.Slippage = -0.01 }, true},
		{"zero max positions", func(b *BacktestConfig) { b.MaxPositions = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBacktest()
			tt.mutate(&b)
			err := b.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}
