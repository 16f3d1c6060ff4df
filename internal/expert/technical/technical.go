package technical

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/indicator"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

// Technical scores momentum from the recent price series: MA crossover
// state plus RSI. Fully deterministic.
type Technical struct {
	prices     marketdata.PriceProvider
	fastPeriod int
	slowPeriod int
	rsiPeriod  int
}

// New creates a technical expert over a price provider.
func New(prices marketdata.PriceProvider, fastPeriod, slowPeriod, rsiPeriod int) *Technical {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = 30
	}
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	return &Technical{
		prices:     prices,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		rsiPeriod:  rsiPeriod,
	}
}

func (t *Technical) Name() string {
	return "technical"
}

func (t *Technical) Description() string {
	return fmt.Sprintf("Price momentum (MA %d/%d, RSI %d)", t.fastPeriod, t.slowPeriod, t.rsiPeriod)
}

// Evaluate scores the ticker-day from the trailing price window.
func (t *Technical) Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error) {
	series, err := t.prices.Prices(ticker)
	if err != nil {
		return nil, err
	}

	window := t.slowPeriod + t.rsiPeriod + 10
	closes := series.History(date, window)
	if len(closes) < t.slowPeriod+2 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("only %d bars for %s before %s", len(closes), ticker, date.Format("2006-01-02")))
	}

	fastMA := indicator.SMA(closes, t.fastPeriod)
	slowMA := indicator.SMA(closes, t.slowPeriod)
	currFast := fastMA[len(fastMA)-1]
	currSlow := slowMA[len(slowMA)-1]

	// Signed spread of fast over slow MA, squashed into [-1, 1].
	spread := math.Tanh((currFast - currSlow) / currSlow * 10)

	// RSI contribution: overbought pulls toward sell, oversold toward buy.
	var rsiScore float64
	rsi := indicator.RSI(closes, t.rsiPeriod)
	if len(rsi) > 0 {
		rsiScore = (50 - rsi[len(rsi)-1]) / 50 // +1 oversold, -1 overbought
	}

	score := 0.6*spread + 0.4*rsiScore // [-1, 1], positive is bullish

	probs := scoreToProbabilities(score)
	confidence := 0.3 + 0.6*math.Abs(score)

	reasoning := fmt.Sprintf("MA%d %.2f vs MA%d %.2f (spread %.3f)", t.fastPeriod, currFast, t.slowPeriod, currSlow, spread)
	if len(rsi) > 0 {
		reasoning += fmt.Sprintf(", RSI%d %.1f", t.rsiPeriod, rsi[len(rsi)-1])
	}

	return &core.ExpertOutput{
		Probabilities: probs,
		Confidence:    confidence,
		Reasoning:     reasoning,
	}, nil
}

// scoreToProbabilities maps a bullishness score in [-1,1] onto a
// buy/hold/sell distribution centered on hold.
func scoreToProbabilities(score float64) core.Probabilities {
	score = math.Max(-1, math.Min(1, score))
	buy := 0.25 + 0.5*math.Max(0, score)
	sell := 0.25 + 0.5*math.Max(0, -score)
	hold := 1 - buy - sell
	return core.Probabilities{buy, hold, sell}.Normalize()
}
