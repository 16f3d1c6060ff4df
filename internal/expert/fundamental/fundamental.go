package fundamental

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

// Fundamental scores valuation and quality from the latest
// fundamentals snapshot at or before the decision date.
type Fundamental struct {
	provider marketdata.FundamentalsProvider
}

// New creates a fundamental expert.
func New(provider marketdata.FundamentalsProvider) *Fundamental {
	return &Fundamental{provider: provider}
}

func (f *Fundamental) Name() string {
	return "fundamental"
}

func (f *Fundamental) Description() string {
	return "Valuation and quality scoring from fundamentals snapshots"
}

// Evaluate scores the most recent snapshot. Snapshots are quarterly so
// the same output repeats until new fundamentals arrive.
func (f *Fundamental) Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error) {
	snap, err := f.provider.Fundamentals(ticker, date)
	if err != nil {
		return nil, err
	}

	var score float64
	var parts int

	// Valuation: cheap earnings multiple is bullish.
	if snap.PERatio > 0 {
		score += math.Tanh((20 - snap.PERatio) / 20)
		parts++
	}
	// Growth
	if !math.IsNaN(snap.RevenueGrowth) && snap.RevenueGrowth != 0 {
		score += math.Tanh(snap.RevenueGrowth * 5)
		parts++
	}
	// Profitability
	if snap.ProfitMargin != 0 {
		score += math.Tanh(snap.ProfitMargin * 4)
		parts++
	}
	// Leverage: heavy debt is bearish.
	if snap.DebtToEquity > 0 {
		score += math.Tanh((1 - snap.DebtToEquity) / 2)
		parts++
	}

	if parts == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("empty fundamentals snapshot for %s", ticker))
	}
	score /= float64(parts) // [-1, 1]

	buy := 0.25 + 0.5*math.Max(0, score)
	sell := 0.25 + 0.5*math.Max(0, -score)
	hold := 1 - buy - sell
	probs := core.Probabilities{buy, hold, sell}.Normalize()

	// Staleness discounts confidence: a year-old snapshot says little.
	ageDays := date.Sub(snap.Date).Hours() / 24
	staleness := math.Min(1, ageDays/365)
	confidence := (0.35 + 0.45*math.Abs(score)) * (1 - 0.5*staleness)

	reasoning := fmt.Sprintf("PE %.1f, growth %.1f%%, margin %.1f%%, D/E %.2f (as of %s)",
		snap.PERatio, snap.RevenueGrowth*100, snap.ProfitMargin*100, snap.DebtToEquity,
		snap.Date.Format("2006-01-02"))

	return &core.ExpertOutput{
		Probabilities: probs,
		Confidence:    confidence,
		Reasoning:     reasoning,
	}, nil
}
