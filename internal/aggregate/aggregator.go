// internal/aggregate/aggregator.go
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

// Aggregator blends per-expert outputs into one decision per
// ticker-day. It is written once against the WeightPolicy interface;
// swapping policies never changes the blending math.
type Aggregator struct {
	policy WeightPolicy
}

// New creates an aggregator with the given weight policy.
func New(policy WeightPolicy) *Aggregator {
	if policy == nil {
		policy = Uniform{}
	}
	return &Aggregator{policy: policy}
}

// Policy returns the active weight policy name.
func (a *Aggregator) Policy() string {
	return a.policy.Name()
}

// Aggregate combines the available expert outputs for one ticker-day.
// An empty mapping is a recoverable degradation: the result is a HOLD
// with zero confidence, never an error.
func (a *Aggregator) Aggregate(ticker string, date time.Time, outputs map[string]core.ExpertOutput) core.Decision {
	if len(outputs) == 0 {
		return core.Decision{
			Ticker:             ticker,
			Date:               date,
			Action:             core.ActionHold,
			FinalProbabilities: core.Probabilities{0, 1, 0},
			OverallConfidence:  0,
			Reasoning:          "no expert output available; defaulting to hold",
			Contributions:      map[string]core.Contribution{},
		}
	}

	weights := a.policy.Weights(outputs)

	var final core.Probabilities
	var confidence float64
	contributions := make(map[string]core.Contribution, len(outputs))
	for name, out := range outputs {
		w := weights[name]
		for i := range final {
			final[i] += w * out.Probabilities[i]
		}
		confidence += w * out.Confidence
		contributions[name] = core.Contribution{Output: out, Weight: w}
	}
	final = final.Normalize() // absorb floating error

	action := final.ArgMax()

	return core.Decision{
		Ticker:             ticker,
		Date:               date,
		Action:             action,
		FinalProbabilities: final,
		OverallConfidence:  confidence,
		Reasoning:          buildReasoning(action, final, contributions),
		Contributions:      contributions,
	}
}

// buildReasoning names the top-weighted contributors, highest first.
func buildReasoning(action core.Action, final core.Probabilities, contributions map[string]core.Contribution) string {
	names := make([]string, 0, len(contributions))
	for name := range contributions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		wi, wj := contributions[names[i]].Weight, contributions[names[j]].Weight
		if wi != wj {
			return wi > wj
		}
		return names[i] < names[j]
	})

	parts := []string{fmt.Sprintf("Decision: %s", strings.ToUpper(string(action)))}
	for i, name := range names {
		if i >= 3 {
			break
		}
		c := contributions[name]
		parts = append(parts, fmt.Sprintf("%s (weight %.2f, confidence %.2f)", name, c.Weight, c.Output.Confidence))
	}
	parts = append(parts, fmt.Sprintf("probabilities buy %.1f%% / hold %.1f%% / sell %.1f%%",
		final[core.ProbBuy]*100, final[core.ProbHold]*100, final[core.ProbSell]*100))

	return strings.Join(parts, " | ")
}
