package technical

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

type stubPrices struct {
	series *marketdata.Series
	err    error
}

func (s *stubPrices) Prices(ticker string) (*marketdata.Series, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.series, nil
}

func makeSeries(closes []float64) *marketdata.Series {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{Date: base.AddDate(0, 0, i), Close: c}
	}
	return &marketdata.Series{Ticker: "test", Bars: bars}
}

func trendingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return closes
}

func TestTechnical_Uptrend(t *testing.T) {
	// 80 rising bars: fast MA above slow MA, bullish verdict
	expert := New(&stubPrices{series: makeSeries(trendingCloses(80, 100, 1))}, 10, 30, 14)

	out, err := expert.Evaluate(context.Background(), "test", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !out.IsValid() {
		t.Fatalf("invalid output: %+v", out)
	}
	if out.Probabilities[core.ProbBuy] <= out.Probabilities[core.ProbSell] {
		t.Errorf("uptrend should favor buy: %v", out.Probabilities)
	}
}

func TestTechnical_Downtrend(t *testing.T) {
	expert := New(&stubPrices{series: makeSeries(trendingCloses(80, 200, -1))}, 10, 30, 14)

	out, err := expert.Evaluate(context.Background(), "test", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Probabilities[core.ProbSell] <= out.Probabilities[core.ProbBuy] {
		t.Errorf("downtrend should favor sell: %v", out.Probabilities)
	}
}

func TestTechnical_FlatIsHold(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100
	}
	expert := New(&stubPrices{series: makeSeries(closes)}, 10, 30, 14)

	out, err := expert.Evaluate(context.Background(), "test", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Probabilities.ArgMax() != core.ActionHold {
		t.Errorf("flat series should be hold, got %s (%v)", out.Probabilities.ArgMax(), out.Probabilities)
	}
}

func TestTechnical_InsufficientHistory(t *testing.T) {
	expert := New(&stubPrices{series: makeSeries(trendingCloses(10, 100, 1))}, 10, 30, 14)

	_, err := expert.Evaluate(context.Background(), "test", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}
