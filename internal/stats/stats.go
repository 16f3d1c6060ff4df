package stats

import (
	"math"
	"sort"

	"github.com/quorumtrade/quorum/internal/portfolio"
)

// PortfolioMetrics is the run-level performance summary persisted in
// results.json.
type PortfolioMetrics struct {
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	CalmarRatio          float64 `json:"calmar_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	DrawdownDuration     int     `json:"drawdown_duration"`
	Volatility           float64 `json:"volatility"`
	WinRate              float64 `json:"win_rate"`
	ProfitFactor         float64 `json:"profit_factor"`
	TotalTrades          int     `json:"total_trades"`
	AvgTradeReturn       float64 `json:"avg_trade_return"`
	BestTrade            float64 `json:"best_trade"`
	WorstTrade           float64 `json:"worst_trade"`
	AvgHoldTime          float64 `json:"avg_hold_time"`
	CashDrag             float64 `json:"cash_drag"`
	DiversificationScore float64 `json:"diversification_score"`
	FinalValue           float64 `json:"final_value"`
}

// TickerMetrics mirrors the portfolio metrics scoped to one ticker's
// trades.
type TickerMetrics struct {
	Ticker                  string  `json:"ticker"`
	TotalReturn             float64 `json:"total_return"`
	AnnualizedReturn        float64 `json:"annualized_return"`
	SharpeRatio             float64 `json:"sharpe_ratio"`
	SortinoRatio            float64 `json:"sortino_ratio"`
	CalmarRatio             float64 `json:"calmar_ratio"`
	MaxDrawdown             float64 `json:"max_drawdown"`
	DrawdownDuration        int     `json:"drawdown_duration"`
	Volatility              float64 `json:"volatility"`
	WinRate                 float64 `json:"win_rate"`
	AvgWin                  float64 `json:"avg_win"`
	AvgLoss                 float64 `json:"avg_loss"`
	ProfitFactor            float64 `json:"profit_factor"`
	ContributionToPortfolio float64 `json:"contribution_to_portfolio"`
	NumTrades               int     `json:"num_trades"`
	AvgHoldTime             float64 `json:"avg_hold_time"`
}

// Results is the full results.json payload.
type Results struct {
	PortfolioMetrics PortfolioMetrics         `json:"portfolio_metrics"`
	TickerSummary    map[string]TickerMetrics `json:"ticker_summary"`
}

// Params configures the metric formulas.
type Params struct {
	InitialCapital     float64
	RiskFreeRate       float64
	TradingDaysPerYear float64
}

func (p Params) tradingDays() float64 {
	if p.TradingDaysPerYear <= 0 {
		return 252
	}
	return p.TradingDaysPerYear
}

// Compute derives the full results summary from the snapshot series and
// trade ledger. It is a pure function: re-running it on the same
// persisted inputs yields identical output. finalPositions maps each
// ticker with an open end-of-run position to its market value.
func Compute(snapshots []portfolio.Snapshot, trades []portfolio.Trade, finalPositions map[string]float64, p Params) Results {
	ledgers := replay(trades)

	pm := computePortfolioMetrics(snapshots, ledgers, p)

	summary := make(map[string]TickerMetrics, len(ledgers))
	for ticker, ledger := range ledgers {
		summary[ticker] = computeTickerMetrics(ticker, ledger, finalPositions[ticker], pm.FinalValue, len(snapshots), p)
	}

	return Results{PortfolioMetrics: pm, TickerSummary: summary}
}

func computePortfolioMetrics(snapshots []portfolio.Snapshot, ledgers map[string]*tickerLedger, p Params) PortfolioMetrics {
	finalValue := p.InitialCapital
	if len(snapshots) > 0 {
		finalValue = snapshots[len(snapshots)-1].TotalValue
	}

	var totalReturn float64
	if p.InitialCapital > 0 {
		totalReturn = (finalValue - p.InitialCapital) / p.InitialCapital
	}

	returns := dailyReturns(snapshots)
	annualized := annualize(totalReturn, len(snapshots), p)
	vol := stdev(returns) * math.Sqrt(p.tradingDays())
	maxDD, ddDuration := drawdown(values(snapshots))

	// Pool realized outcomes and hold times across all tickers.
	var tradeReturns, holdDays []float64
	var totalTrades int
	for _, l := range ledgers {
		tradeReturns = append(tradeReturns, l.returns()...)
		holdDays = append(holdDays, l.holdDays...)
		totalTrades += l.trades
	}
	winRate, profitFactor, best, worst := tradeStats(tradeReturns)

	return PortfolioMetrics{
		TotalReturn:          finite(totalReturn),
		AnnualizedReturn:     finite(annualized),
		SharpeRatio:          finite(ratio(annualized-p.RiskFreeRate, vol)),
		SortinoRatio:         finite(sortino(returns, annualized, p)),
		CalmarRatio:          finite(ratio(annualized, maxDD)),
		MaxDrawdown:          finite(maxDD),
		DrawdownDuration:     ddDuration,
		Volatility:           finite(vol),
		WinRate:              finite(winRate),
		ProfitFactor:         finite(profitFactor),
		TotalTrades:          totalTrades,
		AvgTradeReturn:       finite(mean(tradeReturns)),
		BestTrade:            finite(best),
		WorstTrade:           finite(worst),
		AvgHoldTime:          finite(mean(holdDays)),
		CashDrag:             finite(cashDrag(snapshots)),
		DiversificationScore: finite(diversification(snapshots)),
		FinalValue:           finite(finalValue),
	}
}

func computeTickerMetrics(ticker string, l *tickerLedger, finalPosition, portfolioFinal float64, numDays int, p Params) TickerMetrics {
	// Total return counts sell proceeds plus whatever is still held
	// against everything invested.
	var totalReturn float64
	if l.invested > 0 {
		totalReturn = (l.proceeds + finalPosition - l.invested) / l.invested
	}

	returns := l.returns()
	annualized := annualize(totalReturn, numDays, p)
	vol := stdev(returns) * math.Sqrt(p.tradingDays())
	maxDD, ddDuration := drawdown(l.equityCurve())
	winRate, profitFactor, _, _ := tradeStats(returns)

	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, r)
		}
	}

	var contribution float64
	if portfolioFinal > 0 {
		contribution = finalPosition / portfolioFinal
	}

	return TickerMetrics{
		Ticker:                  ticker,
		TotalReturn:             finite(totalReturn),
		AnnualizedReturn:        finite(annualized),
		SharpeRatio:             finite(ratio(annualized-p.RiskFreeRate, vol)),
		SortinoRatio:            finite(sortino(returns, annualized, p)),
		CalmarRatio:             finite(ratio(annualized, maxDD)),
		MaxDrawdown:             finite(maxDD),
		DrawdownDuration:        ddDuration,
		Volatility:              finite(vol),
		WinRate:                 finite(winRate),
		AvgWin:                  finite(mean(wins)),
		AvgLoss:                 finite(mean(losses)),
		ProfitFactor:            finite(profitFactor),
		ContributionToPortfolio: finite(contribution),
		NumTrades:               l.trades,
		AvgHoldTime:             finite(mean(l.holdDays)),
	}
}

// dailyReturns recomputes day-over-day returns from total values so the
// result only depends on the persisted series.
func dailyReturns(snapshots []portfolio.Snapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev <= 0 || math.IsNaN(prev) || math.IsNaN(snapshots[i].TotalValue) {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (snapshots[i].TotalValue-prev)/prev)
	}
	return returns
}

func values(snapshots []portfolio.Snapshot) []float64 {
	out := make([]float64, len(snapshots))
	for i, s := range snapshots {
		out[i] = s.TotalValue
	}
	return out
}

// annualize compounds the total return over the run length, guarding
// the empty run.
func annualize(totalReturn float64, numDays int, p Params) float64 {
	if numDays == 0 || totalReturn <= -1 {
		return 0
	}
	return math.Pow(1+totalReturn, p.tradingDays()/float64(numDays)) - 1
}

func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// sortino uses only negative returns for the denominator. No negative
// returns means no downside to measure, so the ratio reports 0 rather
// than blowing up.
func sortino(returns []float64, annualized float64, p Params) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	downside := stdev(negatives) * math.Sqrt(p.tradingDays())
	return ratio(annualized-p.RiskFreeRate, downside)
}

// drawdown finds the largest peak-to-trough decline and the longest run
// of days spent below the running peak.
func drawdown(series []float64) (float64, int) {
	if len(series) < 2 {
		return 0, 0
	}

	peak := series[0]
	var maxDD float64
	var run, longestRun int

	for _, v := range series[1:] {
		if v >= peak {
			peak = v
			run = 0
			continue
		}
		run++
		if run > longestRun {
			longestRun = run
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, longestRun
}

// tradeStats derives win rate, profit factor and the best/worst trade
// from realized round-trip returns. An all-winning ledger reports
// profit factor 0: there is no loss to divide by and Inf is not a
// representable result.
func tradeStats(returns []float64) (winRate, profitFactor, best, worst float64) {
	if len(returns) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	best = sorted[len(sorted)-1]
	worst = sorted[0]

	var wins int
	var grossWin, grossLoss float64
	for _, r := range returns {
		if r > 0 {
			wins++
			grossWin += r
		} else if r < 0 {
			grossLoss += -r
		}
	}
	winRate = float64(wins) / float64(len(returns))
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	}
	return winRate, profitFactor, best, worst
}

// cashDrag is the mean cash fraction of portfolio value across the run.
func cashDrag(snapshots []portfolio.Snapshot) float64 {
	var sum float64
	var n int
	for _, s := range snapshots {
		if s.TotalValue > 0 {
			sum += s.Cash / s.TotalValue
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// diversification scores the average position count against a ten-name
// book, clamped to [0, 1].
func diversification(snapshots []portfolio.Snapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snapshots {
		sum += float64(s.NumPositions)
	}
	return math.Min(sum/float64(len(snapshots))/10.0, 1.0)
}
