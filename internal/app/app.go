// Package app wires configuration into a runnable backtest: data
// providers, experts, the aggregator, storage and telemetry.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quorumtrade/quorum/internal/aggregate"
	"github.com/quorumtrade/quorum/internal/backtest"
	"github.com/quorumtrade/quorum/internal/config"
	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/expert"
	"github.com/quorumtrade/quorum/internal/expert/chart"
	"github.com/quorumtrade/quorum/internal/expert/fundamental"
	"github.com/quorumtrade/quorum/internal/expert/sentiment"
	"github.com/quorumtrade/quorum/internal/expert/technical"
	"github.com/quorumtrade/quorum/internal/llm"
	llmfactory "github.com/quorumtrade/quorum/internal/llm/factory"
	"github.com/quorumtrade/quorum/internal/logger"
	"github.com/quorumtrade/quorum/internal/marketdata"
	"github.com/quorumtrade/quorum/internal/runlog"
	"github.com/quorumtrade/quorum/internal/stats"
	"github.com/quorumtrade/quorum/internal/storage/archive"
	"github.com/quorumtrade/quorum/internal/telemetry"
)

// App holds everything assembled from one configuration.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Registry
	store     archive.Storage
	prices    *marketdata.CSVStore
	experts   *expert.Registry
}

// New assembles an App from validated configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Backtest.Validate(); err != nil {
		return nil, err
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry.NewRegistry(),
		store:     store,
		prices:    marketdata.NewCSVStore(cfg.Data.PricesDir, logger),
	}
	if a.experts, err = a.buildExperts(); err != nil {
		return nil, err
	}
	return a, nil
}

// Run executes a full backtest and returns its summary.
func (a *App) Run(ctx context.Context) (*backtest.Result, error) {
	if a.cfg.Metrics.Enabled {
		stop := a.serveMetrics()
		defer stop()
	}

	id := runlog.NewID(time.Now())
	log := logger.ForRun(a.logger, id)

	writer, err := runlog.NewWriter(ctx, a.store, a.runConfig(id), log,
		runlog.WithRetry(a.cfg.Storage.WriteRetries, a.cfg.Storage.RetryBackoff))
	if err != nil {
		return nil, err
	}

	engine := backtest.New(backtest.Options{
		Config:     a.cfg.Backtest,
		Experts:    a.experts,
		Aggregator: aggregate.New(a.weightPolicy()),
		Prices:     a.prices,
		Log:        writer,
		Logger:     log,
		Telemetry:  a.telemetry,
	})
	return engine.Run(ctx)
}

// Replay recomputes results from a persisted run and returns both the
// stored and the recomputed summaries. stored is absent for runs that
// never completed.
func (a *App) Replay(ctx context.Context, backtestID string) (stored *stats.Results, recomputed stats.Results, err error) {
	reader := runlog.NewReader(a.store, backtestID)

	runCfg, err := reader.Config(ctx)
	if err != nil {
		return nil, recomputed, err
	}
	snapshots, err := reader.PortfolioDaily(ctx)
	if err != nil {
		return nil, recomputed, err
	}
	trades, err := reader.Trades(ctx)
	if err != nil {
		return nil, recomputed, err
	}
	finalPositions, err := reader.FinalPositions(ctx)
	if err != nil {
		return nil, recomputed, err
	}

	recomputed = stats.Compute(snapshots, trades, finalPositions, stats.Params{
		InitialCapital: runCfg.InitialCapital,
		RiskFreeRate:   a.cfg.Backtest.RiskFreeRate,
	})

	if results, ok, rerr := reader.Results(ctx); rerr != nil {
		return nil, recomputed, rerr
	} else if ok {
		stored = &results
	}
	return stored, recomputed, nil
}

// buildExperts instantiates every enabled expert. LLM-backed experts
// are skipped with a warning when no provider is configured.
func (a *App) buildExperts() (*expert.Registry, error) {
	reg := expert.NewRegistry(a.logger)

	var provider llm.Provider
	if a.cfg.LLM.Provider != "" {
		p, err := llmfactory.New(a.cfg.LLM)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	for name, ec := range a.cfg.Experts {
		if !ec.Enabled {
			continue
		}
		switch name {
		case "technical":
			reg.Register(technical.New(a.prices,
				intParam(ec.Params, "fast_period", 10),
				intParam(ec.Params, "slow_period", 30),
				intParam(ec.Params, "rsi_period", 14),
			))
		case "fundamental":
			reg.Register(fundamental.New(marketdata.NewJSONFundamentals(a.cfg.Data.FundamentalsDir)))
		case "sentiment":
			if provider == nil {
				a.logger.Warn("sentiment expert enabled without an llm provider, skipping")
				continue
			}
			reg.Register(sentiment.New(marketdata.NewJSONNews(a.cfg.Data.NewsDir), provider,
				intParam(ec.Params, "lookback_days", 7)))
		case "chart":
			if provider == nil {
				a.logger.Warn("chart expert enabled without an llm provider, skipping")
				continue
			}
			reg.Register(chart.New(a.prices, provider,
				intParam(ec.Params, "lookback_days", 504)))
		default:
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown expert %q", name))
		}
	}

	if len(reg.All()) == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("no experts enabled"))
	}
	return reg, nil
}

func (a *App) weightPolicy() aggregate.WeightPolicy {
	switch a.cfg.Weighting.Policy {
	case "static":
		return aggregate.Static{Configured: a.cfg.Weighting.Weights}
	case "gated":
		return aggregate.Gated{}
	default:
		return aggregate.Uniform{}
	}
}

func (a *App) runConfig(id string) runlog.RunConfig {
	b := a.cfg.Backtest
	return runlog.RunConfig{
		BacktestID:      id,
		StartDate:       b.StartDate,
		EndDate:         b.EndDate,
		InitialCapital:  b.InitialCapital,
		PositionSizing:  b.PositionSizing,
		MaxPositions:    b.MaxPositions,
		CashReserve:     b.CashReserve,
		MinCashReserve:  b.MinCashReserve,
		TransactionCost: b.TransactionCost,
		Slippage:        b.Slippage,
		Tickers:         b.Tickers,
		CreatedAt:       time.Now().UTC(),
	}
}

// serveMetrics exposes the Prometheus registry for the duration of the
// run.
func (a *App) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.telemetry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newStore(cfg config.StorageConfig) (archive.Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		return archive.NewLocalFS(cfg.LogsDir)
	case "s3":
		return archive.NewS3(archive.S3Config{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown storage type %q", cfg.Type))
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
