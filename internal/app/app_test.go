package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumtrade/quorum/internal/aggregate"
	"github.com/quorumtrade/quorum/internal/config"
)

// writePrices generates a daily CSV history with a deterministic wave
// so the technical expert produces both buy and sell decisions.
func writePrices(t *testing.T, dir, ticker string, days int) (first, last string) {
	t.Helper()

	var rows string = "date,close\n"
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		price := 100 + 15*math.Sin(float64(i)/8)
		rows += fmt.Sprintf("%s,%.2f\n", date.Format("2006-01-02"), price)
		if i == 0 {
			first = date.Format("2006-01-02")
		}
		last = date.Format("2006-01-02")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ticker+".csv"), []byte(rows), 0644))
	return first, last
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	pricesDir := t.TempDir()
	_, last := writePrices(t, pricesDir, "AAPL", 120)
	writePrices(t, pricesDir, "MSFT", 120)

	cfg := config.Defaults()
	cfg.Backtest.StartDate = "2024-03-01" // leaves 60 bars of warmup history
	cfg.Backtest.EndDate = last
	cfg.Backtest.Tickers = []string{"AAPL", "MSFT"}
	cfg.Backtest.ExpertTimeout = time.Second
	cfg.Data.PricesDir = pricesDir
	cfg.Experts = map[string]config.ExpertConfig{
		"technical": {Enabled: true},
	}
	cfg.Storage.LogsDir = t.TempDir()
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backtest.Tickers = nil

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNew_RejectsUnknownExpert(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experts["astrology"] = config.ExpertConfig{Enabled: true}

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "astrology")
}

func TestNew_SkipsLLMExpertsWithoutProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experts["sentiment"] = config.ExpertConfig{Enabled: true}

	a, err := New(cfg, nil)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, ex := range a.experts.All() {
		names = append(names, ex.Name())
	}
	assert.Equal(t, []string{"technical"}, names)
}

func TestApp_WeightPolicySelection(t *testing.T) {
	cfg := testConfig(t)

	for policy, want := range map[string]string{
		"uniform": aggregate.Uniform{}.Name(),
		"static":  aggregate.Static{}.Name(),
		"gated":   aggregate.Gated{}.Name(),
		"":        aggregate.Uniform{}.Name(),
	} {
		cfg.Weighting.Policy = policy
		a, err := New(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, want, a.weightPolicy().Name(), "policy %q", policy)
	}
}

func TestApp_RunAndReplay(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.BacktestID)
	assert.Greater(t, result.TradingDays, 0)

	// Recomputing results from the persisted streams must reproduce the
	// stored results exactly.
	stored, recomputed, err := a.Replay(context.Background(), result.BacktestID)
	require.NoError(t, err)
	require.NotNil(t, stored, "completed run must have stored results")
	assert.Equal(t, *stored, recomputed)
	assert.Equal(t, result.Results.PortfolioMetrics, recomputed.PortfolioMetrics)
}

func TestApp_ReplayUnknownRun(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	_, _, err = a.Replay(context.Background(), "backtest_does_not_exist")
	require.Error(t, err)
}

func TestIntParam(t *testing.T) {
	params := map[string]any{
		"fast_period": 5,
		"slow_float":  21.0,
		"bad":         "ten",
	}
	assert.Equal(t, 5, intParam(params, "fast_period", 10))
	assert.Equal(t, 21, intParam(params, "slow_float", 10))
	assert.Equal(t, 10, intParam(params, "bad", 10))
	assert.Equal(t, 10, intParam(params, "absent", 10))
	assert.Equal(t, 10, intParam(nil, "anything", 10))
}
