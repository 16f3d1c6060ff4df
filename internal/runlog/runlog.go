// Package runlog persists backtest runs as five JSON streams under
// logs/<backtest_id>/: config, portfolio_daily, tickers_daily, trades
// and results. A run directory is independently parseable at any point;
// a missing results.json means the run never finished, not that it is
// corrupt.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/portfolio"
	"github.com/quorumtrade/quorum/internal/stats"
	"github.com/quorumtrade/quorum/internal/storage/archive"
)

const (
	configFile         = "config.json"
	portfolioDailyFile = "portfolio_daily.json"
	tickersDailyFile   = "tickers_daily.json"
	tradesFile         = "trades.json"
	resultsFile        = "results.json"
)

// Run statuses recorded in config.json.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NewID generates a unique run identifier.
func NewID(now time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("backtest_%s_%s", now.UTC().Format("20060102_150405"), short)
}

// RunConfig is the config.json payload.
type RunConfig struct {
	BacktestID       string     `json:"backtest_id"`
	StartDate        string     `json:"start_date"`
	EndDate          string     `json:"end_date"`
	InitialCapital   float64    `json:"initial_capital"`
	PositionSizing   float64    `json:"position_sizing"`
	MaxPositions     int        `json:"max_positions"`
	CashReserve      float64    `json:"cash_reserve"`
	MinCashReserve   float64    `json:"min_cash_reserve"`
	TransactionCost  float64    `json:"transaction_cost"`
	Slippage         float64    `json:"slippage"`
	Tickers          []string   `json:"tickers"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	TotalTradingDays int        `json:"total_trading_days"`
	Status           string     `json:"status"`
}

// ExpertContribution is one expert's share of a daily decision.
type ExpertContribution struct {
	Weight        float64    `json:"weight"`
	Confidence    float64    `json:"confidence"`
	Probabilities [3]float64 `json:"probabilities"`
	Reasoning     string     `json:"reasoning"`
}

// PositionRecord is the open position attached to a ticker-day, or null
// when flat.
type PositionRecord struct {
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// TickerDay is one entry in a ticker's daily decision stream.
type TickerDay struct {
	Date                time.Time                     `json:"date"`
	Price               float64                       `json:"price"`
	Decision            core.Action                   `json:"decision"`
	OverallConfidence   float64                       `json:"overall_confidence"`
	ExpertContributions map[string]ExpertContribution `json:"expert_contributions"`
	FinalProbabilities  [3]float64                    `json:"final_probabilities"`
	Reasoning           string                        `json:"reasoning"`
	Position            *PositionRecord               `json:"position"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithRetry sets the write retry budget and backoff base.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *Writer) {
		w.retries = attempts
		w.backoff = backoff
	}
}

// Writer flushes a run's streams to storage as the run progresses.
// Already-flushed daily records are never altered: each flush rewrites
// the file with the same prefix plus the new day.
type Writer struct {
	store   archive.Storage
	logger  *zap.Logger
	id      string
	retries int
	backoff time.Duration

	cfg        RunConfig
	snapshots  []portfolio.Snapshot
	tickerDays map[string][]TickerDay
	trades     []portfolio.Trade
}

// NewWriter opens a run directory and persists the initial config with
// status running.
func NewWriter(ctx context.Context, store archive.Storage, cfg RunConfig, log *zap.Logger, opts ...Option) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		store:      store,
		logger:     log.With(zap.String("backtest_id", cfg.BacktestID)),
		id:         cfg.BacktestID,
		retries:    3,
		backoff:    250 * time.Millisecond,
		cfg:        cfg,
		tickerDays: make(map[string][]TickerDay),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.cfg.Status = StatusRunning
	if err := w.flush(ctx, configFile, w.cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// ID returns the run identifier.
func (w *Writer) ID() string {
	return w.id
}

// AppendDay records one trading day: the end-of-day snapshot, the
// per-ticker decision rows and any trades. All three streams are
// flushed before returning.
func (w *Writer) AppendDay(ctx context.Context, snapshot portfolio.Snapshot, days map[string]TickerDay, trades []portfolio.Trade) error {
	w.snapshots = append(w.snapshots, snapshot)
	for ticker, day := range days {
		w.tickerDays[ticker] = append(w.tickerDays[ticker], day)
	}
	w.trades = append(w.trades, trades...)

	if err := w.flush(ctx, portfolioDailyFile, w.snapshots); err != nil {
		return err
	}
	if err := w.flush(ctx, tickersDailyFile, w.tickerDays); err != nil {
		return err
	}
	return w.flush(ctx, tradesFile, w.trades)
}

// WriteResults persists the final results.json.
func (w *Writer) WriteResults(ctx context.Context, results stats.Results) error {
	return w.flush(ctx, resultsFile, results)
}

// Complete marks the run completed.
func (w *Writer) Complete(ctx context.Context, totalTradingDays int) error {
	now := time.Now().UTC()
	w.cfg.Status = StatusCompleted
	w.cfg.CompletedAt = &now
	w.cfg.TotalTradingDays = totalTradingDays
	return w.flush(ctx, configFile, w.cfg)
}

// Fail marks the run failed, leaving whatever streams were already
// flushed in place.
func (w *Writer) Fail(ctx context.Context) error {
	now := time.Now().UTC()
	w.cfg.Status = StatusFailed
	w.cfg.CompletedAt = &now
	w.cfg.TotalTradingDays = len(w.snapshots)
	return w.flush(ctx, configFile, w.cfg)
}

// flush marshals and writes one stream, retrying with linear backoff.
// Exhausting the retry budget marks the run failed.
func (w *Writer) flush(ctx context.Context, file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrLogWrite, err)
	}

	path := w.id + "/" + file
	var lastErr error
	for attempt := 0; attempt < w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return core.WrapError(core.ErrLogWrite, ctx.Err())
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
		if lastErr = w.store.Write(ctx, path, data); lastErr == nil {
			return nil
		}
		w.logger.Warn("stream write failed",
			zap.String("file", file),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	// Best effort: record the failure in config.json unless that is the
	// stream that just failed.
	if file != configFile {
		w.cfg.Status = StatusFailed
		if data, err := json.MarshalIndent(w.cfg, "", "  "); err == nil {
			_ = w.store.Write(ctx, w.id+"/"+configFile, data)
		}
	}
	return core.WrapError(core.ErrLogWrite, lastErr)
}
