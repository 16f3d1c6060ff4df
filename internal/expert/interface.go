package expert

import (
	"context"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

// Config holds expert configuration
type Config struct {
	Enabled bool
	Params  map[string]any
}

// Expert is an independent predictor producing a 3-class buy/hold/sell
// distribution plus confidence for one ticker-day. Absent data is
// signalled with core.ErrNoData and handled by the caller as a
// recoverable degradation, never a fault.
type Expert interface {
	Name() string
	Description() string
	Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error)
}

// Func adapts a plain evaluation function into an Expert.
func Func(name string, fn func(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error)) Expert {
	return funcExpert{name: name, fn: fn}
}

type funcExpert struct {
	name string
	fn   func(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error)
}

func (f funcExpert) Name() string        { return f.name }
func (f funcExpert) Description() string { return f.name }

func (f funcExpert) Evaluate(ctx context.Context, ticker string, date time.Time) (*core.ExpertOutput, error) {
	return f.fn(ctx, ticker, date)
}
