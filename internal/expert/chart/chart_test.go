package chart

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/llm"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

type stubPrices struct {
	series *marketdata.Series
}

func (s *stubPrices) Prices(ticker string) (*marketdata.Series, error) {
	return s.series, nil
}

type stubLLM struct {
	content    string
	lastPrompt string
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(req.Messages) > 0 {
		s.lastPrompt = req.Messages[0].Content
	}
	return &llm.ChatResponse{Content: s.content}, nil
}

func risingSeries(n int) *marketdata.Series {
	base := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, n)
	for i := range bars {
		bars[i] = marketdata.Bar{Date: base.AddDate(0, 0, i), Close: 50 + float64(i)*0.1}
	}
	return &marketdata.Series{Ticker: "test", Bars: bars}
}

func TestChart_Evaluate(t *testing.T) {
	provider := &stubLLM{content: `{"probabilities": [0.55, 0.35, 0.1], "confidence": 0.7, "reasoning": "steady uptrend"}`}
	expert := New(&stubPrices{series: risingSeries(600)}, provider, 504)

	out, err := expert.Evaluate(context.Background(), "test", time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Probabilities.ArgMax() != core.ActionBuy {
		t.Errorf("expected buy verdict, got %v", out.Probabilities)
	}

	for _, want := range []string{"TEST", "Monthly closes", "Annualized volatility"} {
		if !strings.Contains(provider.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestChart_ShortWindowIsAbsent(t *testing.T) {
	expert := New(&stubPrices{series: risingSeries(30)}, &stubLLM{}, 504)

	_, err := expert.Evaluate(context.Background(), "test", time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData for short window, got %v", err)
	}
}
