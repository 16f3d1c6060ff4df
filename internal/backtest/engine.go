// Package backtest drives the daily simulation loop: expert evaluation,
// aggregation, order execution, valuation and logging.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/quorum/internal/aggregate"
	"github.com/quorumtrade/quorum/internal/config"
	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/expert"
	"github.com/quorumtrade/quorum/internal/marketdata"
	"github.com/quorumtrade/quorum/internal/portfolio"
	"github.com/quorumtrade/quorum/internal/runlog"
	"github.com/quorumtrade/quorum/internal/stats"
	"github.com/quorumtrade/quorum/internal/telemetry"
)

// Options wires an Engine's collaborators together.
type Options struct {
	Config     config.BacktestConfig
	Experts    *expert.Registry
	Aggregator *aggregate.Aggregator
	Prices     marketdata.PriceProvider
	Log        *runlog.Writer
	Logger     *zap.Logger
	Telemetry  *telemetry.Registry
}

// Result summarizes a finished run.
type Result struct {
	BacktestID  string
	TradingDays int
	Trades      int
	Results     stats.Results
}

// Engine runs one backtest. Days are processed strictly in order; only
// expert evaluations within a day run concurrently.
type Engine struct {
	cfg       config.BacktestConfig
	experts   *expert.Registry
	agg       *aggregate.Aggregator
	prices    marketdata.PriceProvider
	log       *runlog.Writer
	logger    *zap.Logger
	telemetry *telemetry.Registry

	sim       *portfolio.Simulator
	snapshots []portfolio.Snapshot
	trades    []portfolio.Trade
}

// New creates an Engine from the given options.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       opts.Config,
		experts:   opts.Experts,
		agg:       opts.Aggregator,
		prices:    opts.Prices,
		log:       opts.Log,
		logger:    logger,
		telemetry: opts.Telemetry,
	}
}

// Run executes the full backtest. On context cancellation the run stops
// between operations, already-flushed logs stay valid and the run is
// marked failed.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	result, err := e.run(ctx)
	if err != nil {
		// The run context may already be dead; the failure marker still
		// has to reach storage.
		if e.log != nil {
			_ = e.log.Fail(context.WithoutCancel(ctx))
		}
		e.recordBacktest(runlog.StatusFailed, time.Since(started).Seconds())
		return nil, err
	}

	e.recordBacktest(runlog.StatusCompleted, time.Since(started).Seconds())
	return result, nil
}

func (e *Engine) run(ctx context.Context) (*Result, error) {
	start, end, err := e.cfg.DateRange()
	if err != nil {
		return nil, err
	}

	series, err := e.loadSeries()
	if err != nil {
		return nil, err
	}

	days := marketdata.TradingDays(seriesList(series), start, end)
	if len(days) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no trading days between %s and %s", e.cfg.StartDate, e.cfg.EndDate))
	}

	e.sim = portfolio.NewSimulator(portfolio.Config{
		InitialCapital:   e.cfg.InitialCapital,
		PositionSizing:   e.cfg.PositionSizing,
		MaxPositionSize:  e.cfg.MaxPositionSize,
		MaxPositions:     e.cfg.MaxPositions,
		CashReserve:      e.cfg.CashReserve,
		MinCashReserve:   e.cfg.MinCashReserve,
		TransactionCost:  e.cfg.TransactionCost,
		Slippage:         e.cfg.Slippage,
		FractionalShares: e.cfg.FractionalShares,
	}, e.logger)

	e.logger.Info("backtest starting",
		zap.Int("trading_days", len(days)),
		zap.Int("tickers", len(series)),
		zap.Float64("initial_capital", e.cfg.InitialCapital),
	)

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.runDay(ctx, day, series); err != nil {
			return nil, err
		}
	}

	results := stats.Compute(e.snapshots, e.trades, e.finalPositions(), stats.Params{
		InitialCapital: e.cfg.InitialCapital,
		RiskFreeRate:   e.cfg.RiskFreeRate,
	})

	if e.log != nil {
		if err := e.log.WriteResults(ctx, results); err != nil {
			return nil, err
		}
		if err := e.log.Complete(ctx, len(days)); err != nil {
			return nil, err
		}
	}

	e.logger.Info("backtest completed",
		zap.Int("trading_days", len(days)),
		zap.Int("trades", len(e.trades)),
		zap.Float64("final_value", results.PortfolioMetrics.FinalValue),
		zap.Float64("total_return", results.PortfolioMetrics.TotalReturn),
	)

	return &Result{
		BacktestID:  e.runID(),
		TradingDays: len(days),
		Trades:      len(e.trades),
		Results:     results,
	}, nil
}

// runDay processes one trading day end to end: evaluate, aggregate,
// execute in alphabetical ticker order, mark to market, snapshot, log.
func (e *Engine) runDay(ctx context.Context, day time.Time, series map[string]*marketdata.Series) error {
	dayStart := time.Now()

	// Tickers without a bar today are skipped, not defaulted.
	tickers := make([]string, 0, len(series))
	closes := make(map[string]float64, len(series))
	for ticker, s := range series {
		price, ok := s.CloseOn(day)
		if !ok {
			e.logger.Debug("no bar for ticker", zap.String("ticker", ticker), zap.Time("date", day))
			continue
		}
		tickers = append(tickers, ticker)
		closes[ticker] = price
	}
	sort.Strings(tickers)

	outputs := e.evaluateDay(ctx, day, tickers)
	if err := ctx.Err(); err != nil {
		return err
	}

	tickerDays := make(map[string]runlog.TickerDay, len(tickers))
	var dayTrades []portfolio.Trade

	for _, ticker := range tickers {
		decision := e.agg.Aggregate(ticker, day, outputs[ticker])
		if e.telemetry != nil {
			e.telemetry.RecordDecision(ticker, string(decision.Action))
		}

		trade, err := e.sim.ApplyDecision(day, ticker, decision, closes[ticker])
		if err != nil {
			e.logger.Warn("decision not applied",
				zap.String("ticker", ticker),
				zap.Time("date", day),
				zap.Error(err),
			)
		}
		if trade != nil {
			dayTrades = append(dayTrades, *trade)
			if e.telemetry != nil {
				e.telemetry.RecordTrade(string(trade.Action), trade.Success)
			}
		}
		tickerDays[ticker] = e.tickerDay(day, ticker, closes[ticker], decision)
	}

	e.sim.MarkToMarket(closes)

	// Position records reflect end-of-day marks.
	for ticker, td := range tickerDays {
		td.Position = e.positionRecord(ticker)
		tickerDays[ticker] = td
	}

	snapshot := e.sim.Snapshot(day)
	e.snapshots = append(e.snapshots, snapshot)
	e.trades = append(e.trades, dayTrades...)

	if e.telemetry != nil {
		e.telemetry.SetPortfolioValue(snapshot.TotalValue)
		e.telemetry.SetOpenPositions(snapshot.NumPositions)
		e.telemetry.RecordDay(time.Since(dayStart).Seconds())
	}

	if e.log != nil {
		if err := e.log.AppendDay(ctx, snapshot, tickerDays, dayTrades); err != nil {
			return err
		}
	}
	return nil
}

// evaluateDay fans (ticker, expert) evaluations out over a bounded
// worker pool and joins the surviving outputs per ticker. Experts that
// time out, fail or report no data are simply absent.
func (e *Engine) evaluateDay(ctx context.Context, day time.Time, tickers []string) map[string]map[string]core.ExpertOutput {
	outputs := make(map[string]map[string]core.ExpertOutput, len(tickers))
	experts := e.experts.All()
	if len(experts) == 0 || len(tickers) == 0 {
		return outputs
	}

	type job struct {
		ticker string
		ex     expert.Expert
	}
	type evaluated struct {
		ticker string
		name   string
		output core.ExpertOutput
	}

	jobs := make(chan job)
	results := make(chan evaluated, len(tickers)*len(experts))

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if out, ok := e.evaluate(ctx, j.ex, j.ticker, day); ok {
					results <- evaluated{ticker: j.ticker, name: j.ex.Name(), output: out}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ticker := range tickers {
			for _, ex := range experts {
				select {
				case jobs <- job{ticker: ticker, ex: ex}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if outputs[r.ticker] == nil {
			outputs[r.ticker] = make(map[string]core.ExpertOutput, len(experts))
		}
		outputs[r.ticker][r.name] = r.output
	}
	return outputs
}

// evaluate runs one expert under the per-expert timeout. Any failure
// degrades to absence.
func (e *Engine) evaluate(ctx context.Context, ex expert.Expert, ticker string, day time.Time) (core.ExpertOutput, bool) {
	evalCtx := ctx
	if e.cfg.ExpertTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.cfg.ExpertTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := ex.Evaluate(evalCtx, ticker, day)
	elapsed := time.Since(started).Seconds()

	switch {
	case err == nil && out != nil && out.IsValid():
		e.recordExpert(ex.Name(), telemetry.OutcomeOK, elapsed)
		return *out, true

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrExpertTimeout):
		e.recordExpert(ex.Name(), telemetry.OutcomeTimeout, elapsed)
		e.logger.Warn("expert timed out",
			zap.String("expert", ex.Name()),
			zap.String("ticker", ticker),
			zap.Time("date", day),
		)

	case errors.Is(err, core.ErrNoData):
		e.recordExpert(ex.Name(), telemetry.OutcomeNoData, elapsed)
		e.logger.Debug("expert has no data",
			zap.String("expert", ex.Name()),
			zap.String("ticker", ticker),
			zap.Time("date", day),
		)

	default:
		e.recordExpert(ex.Name(), telemetry.OutcomeError, elapsed)
		e.logger.Warn("expert failed",
			zap.String("expert", ex.Name()),
			zap.String("ticker", ticker),
			zap.Time("date", day),
			zap.Error(err),
		)
	}
	return core.ExpertOutput{}, false
}

func (e *Engine) tickerDay(day time.Time, ticker string, price float64, d core.Decision) runlog.TickerDay {
	contributions := make(map[string]runlog.ExpertContribution, len(d.Contributions))
	for name, c := range d.Contributions {
		contributions[name] = runlog.ExpertContribution{
			Weight:        c.Weight,
			Confidence:    c.Output.Confidence,
			Probabilities: c.Output.Probabilities,
			Reasoning:     c.Output.Reasoning,
		}
	}
	return runlog.TickerDay{
		Date:                day,
		Price:               price,
		Decision:            d.Action,
		OverallConfidence:   d.OverallConfidence,
		ExpertContributions: contributions,
		FinalProbabilities:  d.FinalProbabilities,
		Reasoning:           d.Reasoning,
	}
}

func (e *Engine) positionRecord(ticker string) *runlog.PositionRecord {
	pos, ok := e.sim.Position(ticker)
	if !ok {
		return nil
	}
	return &runlog.PositionRecord{
		Quantity:      pos.Quantity,
		AvgPrice:      pos.AvgPrice,
		CurrentPrice:  pos.CurrentPrice,
		UnrealizedPnL: pos.UnrealizedPnL(),
	}
}

// loadSeries loads price histories for all configured tickers. Tickers
// with no data at all are dropped with a warning; a run with no data
// for any ticker cannot start.
func (e *Engine) loadSeries() (map[string]*marketdata.Series, error) {
	series := make(map[string]*marketdata.Series, len(e.cfg.Tickers))
	for _, ticker := range e.cfg.Tickers {
		s, err := e.prices.Prices(ticker)
		if err != nil {
			if errors.Is(err, core.ErrNoData) {
				e.logger.Warn("ticker has no price data, dropping", zap.String("ticker", ticker))
				continue
			}
			return nil, err
		}
		series[ticker] = s
	}
	if len(series) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no price data for any configured ticker"))
	}
	return series, nil
}

func (e *Engine) finalPositions() map[string]float64 {
	values := make(map[string]float64)
	for _, ticker := range e.sim.OpenTickers() {
		if pos, ok := e.sim.Position(ticker); ok {
			values[ticker] = pos.MarketValue()
		}
	}
	return values
}

func (e *Engine) runID() string {
	if e.log != nil {
		return e.log.ID()
	}
	return ""
}

func (e *Engine) recordExpert(name, outcome string, seconds float64) {
	if e.telemetry != nil {
		e.telemetry.RecordExpert(name, outcome, seconds)
	}
}

func (e *Engine) recordBacktest(status string, seconds float64) {
	if e.telemetry != nil {
		e.telemetry.RecordBacktest(status, seconds)
	}
}

func seriesList(series map[string]*marketdata.Series) []*marketdata.Series {
	list := make([]*marketdata.Series, 0, len(series))
	for _, s := range series {
		list = append(list, s)
	}
	return list
}
