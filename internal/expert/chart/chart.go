package chart

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/expert"
	"github.com/quorumtrade/quorum/internal/llm"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

const systemPrompt = `You are a chart pattern analyst. You receive a numeric
summary of a stock's long-term price history: monthly closes, trend slope,
distance from 52-week high/low and realized volatility. Respond with strict
JSON only:
{"probabilities": [p_buy, p_hold, p_sell], "confidence": 0.0-1.0, "reasoning": "one sentence"}
The three probabilities must be non-negative and sum to 1.`

// Chart summarizes the long-window price shape numerically and asks an
// LLM for a pattern verdict.
type Chart struct {
	prices       marketdata.PriceProvider
	provider     llm.Provider
	lookbackDays int
}

// New creates a chart expert.
func New(prices marketdata.PriceProvider, provider llm.Provider, lookbackDays int) *Chart {
	if lookbackDays <= 0 {
		lookbackDays = 504 // ~2 trading years
	}
	return &Chart{
		prices:       prices,
		provider:     provider,
		lookbackDays: lookbackDays,
	}
}

func (c *Chart) Name() string {
	return "chart"
}

func (c *Chart) Description() string {
	return fmt.Sprintf("LLM pattern read over a %d-day window", c.lookbackDays)
}

// Evaluate builds the window summary and classifies it.
func (c *Chart) Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error) {
	series, err := c.prices.Prices(ticker)
	if err != nil {
		return nil, err
	}

	closes := series.History(date, c.lookbackDays)
	if len(closes) < 60 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("only %d bars for %s chart window", len(closes), ticker))
	}

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: summarize(ticker, date, closes)},
		},
		MaxTokens:   512,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, expert.ChatError(err)
	}

	return expert.ParseVerdict(resp.Content)
}

// summarize condenses the close series into a compact text block: the
// LLM sees shape, not ticks.
func summarize(ticker string, date time.Time, closes []float64) string {
	last := closes[len(closes)-1]
	high, low := closes[0], closes[0]
	for _, c := range closes {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}

	// Sample ~21-bar (monthly) closes to keep the prompt small.
	var samples []string
	for i := 0; i < len(closes); i += 21 {
		samples = append(samples, fmt.Sprintf("%.2f", closes[i]))
	}
	samples = append(samples, fmt.Sprintf("%.2f", last))

	// Simple slope over the window, normalized by the mean price.
	var mean float64
	for _, c := range closes {
		mean += c
	}
	mean /= float64(len(closes))
	slope := (last - closes[0]) / float64(len(closes)) / mean * 252

	// Realized volatility of daily log returns, annualized.
	var sumSq, sumR float64
	for i := 1; i < len(closes); i++ {
		r := math.Log(closes[i] / closes[i-1])
		sumR += r
		sumSq += r * r
	}
	n := float64(len(closes) - 1)
	vol := math.Sqrt((sumSq-sumR*sumR/n)/(n-1)) * math.Sqrt(252)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticker: %s\nDate: %s\nWindow: %d trading days\n", strings.ToUpper(ticker), date.Format("2006-01-02"), len(closes))
	fmt.Fprintf(&sb, "Monthly closes: %s\n", strings.Join(samples, ", "))
	fmt.Fprintf(&sb, "Last close: %.2f\nWindow high: %.2f (%.1f%% below)\nWindow low: %.2f (%.1f%% above)\n",
		last, high, (high-last)/high*100, low, (last-low)/low*100)
	fmt.Fprintf(&sb, "Annualized trend slope: %.2f\nAnnualized volatility: %.1f%%\n", slope, vol*100)
	return sb.String()
}
