package expert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quorumtrade/quorum/internal/core"
)

// ChatError classifies a provider failure: a deadline expiry becomes
// ErrLLMTimeout so the orchestrator counts it with the other timeouts,
// everything else ErrLLMFailed.
func ChatError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapError(core.ErrLLMTimeout, err)
	}
	return core.WrapError(core.ErrLLMFailed, err)
}

// verdict is the strict JSON shape the LLM-backed experts request.
type verdict struct {
	Probabilities []float64 `json:"probabilities"`
	Confidence    float64   `json:"confidence"`
	Reasoning     string    `json:"reasoning"`
}

// ParseVerdict parses an LLM response into an ExpertOutput. Responses
// that fail to parse or validate degrade to core.ErrNoData so the
// aggregator treats the expert as absent for the day.
func ParseVerdict(content string) (*core.ExpertOutput, error) {
	content = strings.TrimSpace(content)

	// Some models wrap JSON in markdown fences despite JSON mode.
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("unparseable verdict: %w", err))
	}
	if len(v.Probabilities) != 3 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("verdict needs 3 probabilities, got %d", len(v.Probabilities)))
	}

	out := &core.ExpertOutput{
		Probabilities: core.Probabilities{v.Probabilities[0], v.Probabilities[1], v.Probabilities[2]},
		Confidence:    v.Confidence,
		Reasoning:     v.Reasoning,
	}
	out.Probabilities = out.Probabilities.Normalize()
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	if !out.IsValid() {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("invalid verdict values"))
	}
	return out, nil
}
