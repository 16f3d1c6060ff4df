package runlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/portfolio"
	"github.com/quorumtrade/quorum/internal/runlog"
	"github.com/quorumtrade/quorum/internal/stats"
	"github.com/quorumtrade/quorum/internal/storage/archive"
)

func newStore(t *testing.T) *archive.LocalFS {
	t.Helper()
	store, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	return store
}

func runConfig(id string) runlog.RunConfig {
	return runlog.RunConfig{
		BacktestID:     id,
		StartDate:      "2024-03-01",
		EndDate:        "2024-03-29",
		InitialCapital: 100000,
		Tickers:        []string{"AAPL", "MSFT"},
		CreatedAt:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func snapshot(d int, total float64) portfolio.Snapshot {
	return portfolio.Snapshot{
		Date:       time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC),
		TotalValue: total,
		Cash:       total,
	}
}

func TestNewID_Format(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	id := runlog.NewID(now)

	assert.True(t, strings.HasPrefix(id, "backtest_20240315_143000_"), "id = %s", id)
	assert.NotEqual(t, id, runlog.NewID(now), "ids must be unique")
}

func TestWriter_InitialConfigIsRunning(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_test_run"), nil)
	require.NoError(t, err)
	assert.Equal(t, "backtest_test_run", w.ID())

	cfg, err := runlog.NewReader(store, w.ID()).Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusRunning, cfg.Status)
	assert.Nil(t, cfg.CompletedAt)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Tickers)
}

func TestWriter_AppendDayFlushesAllStreams(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_streams"), nil)
	require.NoError(t, err)

	day1 := map[string]runlog.TickerDay{
		"AAPL": {
			Date:               time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Price:              45.00,
			Decision:           core.ActionBuy,
			OverallConfidence:  0.8,
			FinalProbabilities: [3]float64{0.6, 0.3, 0.1},
			ExpertContributions: map[string]runlog.ExpertContribution{
				"technical": {Weight: 1.0, Confidence: 0.8, Probabilities: [3]float64{0.6, 0.3, 0.1}},
			},
			Position: &runlog.PositionRecord{Quantity: 100, AvgPrice: 45, CurrentPrice: 45},
		},
	}
	trades := []portfolio.Trade{{Ticker: "AAPL", Action: core.ActionBuy, Success: true, Quantity: 100}}
	require.NoError(t, w.AppendDay(ctx, snapshot(1, 100000), day1, trades))

	day2 := map[string]runlog.TickerDay{
		"AAPL": {Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Price: 46.00, Decision: core.ActionHold},
	}
	require.NoError(t, w.AppendDay(ctx, snapshot(2, 100100), day2, nil))

	r := runlog.NewReader(store, w.ID())

	snaps, err := r.PortfolioDaily(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Date.Before(snaps[1].Date), "snapshots must stay date-ascending")
	assert.Equal(t, 100000.0, snaps[0].TotalValue)

	days, err := r.TickersDaily(ctx)
	require.NoError(t, err)
	require.Len(t, days["AAPL"], 2)
	assert.Equal(t, core.ActionBuy, days["AAPL"][0].Decision)
	assert.Equal(t, 1.0, days["AAPL"][0].ExpertContributions["technical"].Weight)
	assert.Nil(t, days["AAPL"][1].Position, "flat day must carry null position")

	ledger, err := r.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "AAPL", ledger[0].Ticker)
}

func TestWriter_CompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_done"), nil)
	require.NoError(t, err)
	require.NoError(t, w.AppendDay(ctx, snapshot(1, 100000), nil, nil))

	results := stats.Results{
		PortfolioMetrics: stats.PortfolioMetrics{TotalReturn: 0.05, FinalValue: 105000},
		TickerSummary:    map[string]stats.TickerMetrics{},
	}
	require.NoError(t, w.WriteResults(ctx, results))
	require.NoError(t, w.Complete(ctx, 1))

	r := runlog.NewReader(store, w.ID())

	cfg, err := r.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusCompleted, cfg.Status)
	require.NotNil(t, cfg.CompletedAt)
	assert.Equal(t, 1, cfg.TotalTradingDays)

	got, ok, err := r.Results(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.05, got.PortfolioMetrics.TotalReturn)
}

func TestReader_MissingResultsMeansIncomplete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_incomplete"), nil)
	require.NoError(t, err)
	require.NoError(t, w.AppendDay(ctx, snapshot(1, 100000), nil, nil))

	// Run aborted before results were written: streams parse, results
	// report absent without error.
	_, ok, err := runlog.NewReader(store, w.ID()).Results(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriter_FailMarksConfig(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_aborted"), nil)
	require.NoError(t, err)
	require.NoError(t, w.AppendDay(ctx, snapshot(1, 100000), nil, nil))
	require.NoError(t, w.Fail(ctx))

	cfg, err := runlog.NewReader(store, w.ID()).Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusFailed, cfg.Status)
	assert.NotNil(t, cfg.CompletedAt)
	assert.Equal(t, 1, cfg.TotalTradingDays)
}

// flakyStore fails every write until the remaining budget hits zero.
type flakyStore struct {
	*archive.LocalFS
	failures int
}

func (f *flakyStore) Write(ctx context.Context, path string, data []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	return f.LocalFS.Write(ctx, path, data)
}

func TestWriter_RetriesTransientWriteFailures(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{LocalFS: newStore(t), failures: 2}

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_retry"), nil,
		runlog.WithRetry(3, time.Millisecond))
	require.NoError(t, err, "two transient failures fit inside a three-attempt budget")

	cfg, err := runlog.NewReader(store, w.ID()).Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusRunning, cfg.Status)
}

func TestWriter_ExhaustedRetriesMarkRunFailed(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{LocalFS: newStore(t), failures: 100}

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_broken"), nil,
		runlog.WithRetry(2, time.Millisecond))
	if err == nil {
		// Config write got through before the budget ran out; force the
		// failure on a daily flush instead.
		err = w.AppendDay(ctx, snapshot(1, 100000), nil, nil)
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLogWrite))
}

func TestStreams_SnakeCaseKeys(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_schema"), nil)
	require.NoError(t, err)

	trades := []portfolio.Trade{{
		Date:            time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Ticker:          "AAPL",
		Action:          core.ActionBuy,
		Quantity:        100,
		Price:           45.00,
		Value:           4500,
		TransactionCost: 4.50,
		Slippage:        2.25,
		TotalCost:       4506.75,
		Confidence:      0.8,
		Experts: map[string]core.Contribution{
			"technical": {Weight: 1.0, Output: core.ExpertOutput{Probabilities: core.Probabilities{0.6, 0.3, 0.1}, Confidence: 0.8}},
		},
		PortfolioBefore: portfolio.State{TotalValue: 100000, Cash: 100000},
		PortfolioAfter:  portfolio.State{TotalValue: 100000, Cash: 95493.25, PositionsValue: 4506.75},
		Success:         true,
	}}
	require.NoError(t, w.AppendDay(ctx, snapshot(1, 100000), nil, trades))

	// External consumers index the raw files by snake_case key, so the
	// on-disk schema is part of the contract, not just the Go structs.
	raw, err := store.Read(ctx, w.ID()+"/portfolio_daily.json")
	require.NoError(t, err)
	var snaps []map[string]any
	require.NoError(t, json.Unmarshal(raw, &snaps))
	require.Len(t, snaps, 1)
	for _, key := range []string{
		"date", "total_value", "cash", "positions_value", "daily_return",
		"cumulative_return", "num_positions", "cash_reserve", "available_capital",
	} {
		assert.Contains(t, snaps[0], key)
	}
	assert.NotContains(t, snaps[0], "TotalValue")

	raw, err = store.Read(ctx, w.ID()+"/trades.json")
	require.NoError(t, err)
	var ledger []map[string]any
	require.NoError(t, json.Unmarshal(raw, &ledger))
	require.Len(t, ledger, 1)
	for _, key := range []string{
		"date", "ticker", "action", "quantity", "price", "value",
		"transaction_cost", "slippage", "total_cost", "confidence",
		"experts", "portfolio_before", "portfolio_after", "success",
	} {
		assert.Contains(t, ledger[0], key)
	}
	assert.NotContains(t, ledger[0], "Success")

	before, ok := ledger[0]["portfolio_before"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, before, "total_value")

	experts, ok := ledger[0]["experts"].(map[string]any)
	require.True(t, ok)
	tech, ok := experts["technical"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, tech, "weight")
	assert.Contains(t, tech, "output")
}

func TestRoundTrip_NumericFidelity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	w, err := runlog.NewWriter(ctx, store, runConfig("backtest_roundtrip"), nil)
	require.NoError(t, err)

	snap := snapshot(1, 100000)
	snap.TotalValue = 95493.25
	snap.Cash = 95493.25
	snap.DailyReturn = -0.045067500000000004
	require.NoError(t, w.AppendDay(ctx, snap, nil, nil))

	snaps, err := runlog.NewReader(store, w.ID()).PortfolioDaily(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 95493.25, snaps[0].TotalValue)
	assert.Equal(t, -0.045067500000000004, snaps[0].DailyReturn)
}
