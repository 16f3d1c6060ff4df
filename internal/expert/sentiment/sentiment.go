package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/expert"
	"github.com/quorumtrade/quorum/internal/llm"
	"github.com/quorumtrade/quorum/internal/marketdata"
)

const systemPrompt = `You are a financial news sentiment analyst. Given recent
headlines for a stock, respond with strict JSON only:
{"probabilities": [p_buy, p_hold, p_sell], "confidence": 0.0-1.0, "reasoning": "one sentence"}
The three probabilities must be non-negative and sum to 1. Base the verdict
only on the headlines provided.`

// Sentiment asks an LLM to classify recent headlines into a
// buy/hold/sell distribution. Days without news are absent, not errors.
type Sentiment struct {
	news         marketdata.NewsProvider
	provider     llm.Provider
	lookbackDays int
	maxHeadlines int
}

// New creates a sentiment expert.
func New(news marketdata.NewsProvider, provider llm.Provider, lookbackDays int) *Sentiment {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Sentiment{
		news:         news,
		provider:     provider,
		lookbackDays: lookbackDays,
		maxHeadlines: 20,
	}
}

func (s *Sentiment) Name() string {
	return "sentiment"
}

func (s *Sentiment) Description() string {
	return fmt.Sprintf("LLM news sentiment over a %d-day window", s.lookbackDays)
}

// Evaluate classifies the news window for the ticker-day.
func (s *Sentiment) Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error) {
	headlines, err := s.news.Headlines(ticker, date, s.lookbackDays)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticker: %s\nDate: %s\nHeadlines:\n", strings.ToUpper(ticker), date.Format("2006-01-02"))
	for i, h := range headlines {
		if i >= s.maxHeadlines {
			break
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", h.Date.Format("2006-01-02"), h.Text)
	}

	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   512,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, expert.ChatError(err)
	}

	out, err := expert.ParseVerdict(resp.Content)
	if err != nil {
		return nil, err
	}
	if out.Reasoning == "" {
		out.Reasoning = fmt.Sprintf("sentiment over %d headlines", len(headlines))
	}
	return out, nil
}
