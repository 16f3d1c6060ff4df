package core

import (
	"math"
	"time"
)

// Action represents a trading decision class.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionHold Action = "hold"
	ActionSell Action = "sell"
)

// Probability vector indices, ordered buy/hold/sell.
const (
	ProbBuy = iota
	ProbHold
	ProbSell
)

// Probabilities is a 3-class distribution over buy/hold/sell.
type Probabilities [3]float64

// Sum returns the total probability mass.
func (p Probabilities) Sum() float64 {
	return p[ProbBuy] + p[ProbHold] + p[ProbSell]
}

// Normalize rescales the vector to sum to 1. A zero or invalid vector
// collapses to a pure HOLD distribution.
func (p Probabilities) Normalize() Probabilities {
	total := p.Sum()
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return Probabilities{0, 1, 0}
	}
	return Probabilities{p[ProbBuy] / total, p[ProbHold] / total, p[ProbSell] / total}
}

// ArgMax returns the action with the highest probability. Exact ties
// resolve to HOLD, the conservative default.
func (p Probabilities) ArgMax() Action {
	maxVal := p[ProbBuy]
	if p[ProbHold] > maxVal {
		maxVal = p[ProbHold]
	}
	if p[ProbSell] > maxVal {
		maxVal = p[ProbSell]
	}
	if p[ProbHold] == maxVal {
		return ActionHold
	}
	if p[ProbBuy] == maxVal && p[ProbSell] == maxVal {
		return ActionHold
	}
	if p[ProbBuy] == maxVal {
		return ActionBuy
	}
	return ActionSell
}

// Valid reports whether the vector is non-negative and sums to 1
// within tol.
func (p Probabilities) Valid(tol float64) bool {
	for _, v := range p {
		if v < 0 || math.IsNaN(v) {
			return false
		}
	}
	return math.Abs(p.Sum()-1) <= tol
}

// ExpertOutput is one expert's verdict for a single ticker-day.
type ExpertOutput struct {
	Probabilities Probabilities `json:"probabilities"`
	Confidence    float64       `json:"confidence"`
	Reasoning     string        `json:"reasoning"`
}

// IsValid checks the output is usable by the aggregator.
func (o ExpertOutput) IsValid() bool {
	if !o.Probabilities.Valid(1e-6) {
		return false
	}
	return o.Confidence >= 0 && o.Confidence <= 1 && !math.IsNaN(o.Confidence)
}

// Contribution is an expert's output plus the weight assigned to it
// during aggregation.
type Contribution struct {
	Output ExpertOutput `json:"output"`
	Weight float64      `json:"weight"`
}

// Decision is the aggregated verdict for one ticker-day.
type Decision struct {
	Ticker             string
	Date               time.Time
	Action             Action
	FinalProbabilities Probabilities
	OverallConfidence  float64
	Reasoning          string
	Contributions      map[string]Contribution // keyed by expert name
}
