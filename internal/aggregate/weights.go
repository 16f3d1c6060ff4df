package aggregate

import (
	"math"

	"github.com/quorumtrade/quorum/internal/core"
)

// WeightPolicy assigns blending weights to the experts that produced
// output for a ticker-day. Returned weights are renormalized over the
// available experts so they always sum to 1, however many are absent.
type WeightPolicy interface {
	Name() string
	Weights(outputs map[string]core.ExpertOutput) map[string]float64
}

// Uniform weighs every available expert equally.
type Uniform struct{}

func (Uniform) Name() string { return "uniform" }

func (Uniform) Weights(outputs map[string]core.ExpertOutput) map[string]float64 {
	if len(outputs) == 0 {
		return nil
	}
	w := 1 / float64(len(outputs))
	weights := make(map[string]float64, len(outputs))
	for name := range outputs {
		weights[name] = w
	}
	return weights
}

// Static applies configured per-expert weights, renormalized over the
// experts present. Experts without a configured weight get the mean of
// the configured ones so a new expert is not silently zeroed.
type Static struct {
	Configured map[string]float64
}

func (Static) Name() string { return "static" }

func (s Static) Weights(outputs map[string]core.ExpertOutput) map[string]float64 {
	if len(outputs) == 0 {
		return nil
	}

	var fallback float64
	if len(s.Configured) > 0 {
		for _, w := range s.Configured {
			fallback += w
		}
		fallback /= float64(len(s.Configured))
	} else {
		fallback = 1
	}

	weights := make(map[string]float64, len(outputs))
	for name := range outputs {
		if w, ok := s.Configured[name]; ok && w > 0 {
			weights[name] = w
		} else {
			weights[name] = fallback
		}
	}
	return normalize(weights, len(outputs))
}

// Gated scores each expert by its own confidence plus a certainty
// bonus from the entropy of its distribution: a peaked distribution
// earns more say than a flat one.
type Gated struct{}

func (Gated) Name() string { return "gated" }

func (Gated) Weights(outputs map[string]core.ExpertOutput) map[string]float64 {
	if len(outputs) == 0 {
		return nil
	}

	weights := make(map[string]float64, len(outputs))
	for name, out := range outputs {
		certainty := 1 - entropy(out.Probabilities)/math.Log(3)
		w := out.Confidence + 0.4*certainty
		if w < 0.1 {
			w = 0.1
		}
		weights[name] = w
	}
	return normalize(weights, len(outputs))
}

func entropy(p core.Probabilities) float64 {
	var h float64
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log(v)
		}
	}
	return h
}

func normalize(weights map[string]float64, n int) map[string]float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		uniform := 1 / float64(n)
		for name := range weights {
			weights[name] = uniform
		}
		return weights
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}
