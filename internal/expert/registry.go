package expert

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages the set of active experts for a run.
type Registry struct {
	mu      sync.RWMutex
	experts map[string]Expert
	logger  *zap.Logger
}

// NewRegistry creates a new expert registry
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		experts: make(map[string]Expert),
		logger:  l,
	}
}

// Register adds an expert to the registry
func (r *Registry) Register(e Expert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts[e.Name()] = e
	r.logger.Debug("expert registered", zap.String("expert", e.Name()))
}

// Get retrieves an expert by name
func (r *Registry) Get(name string) (Expert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experts[name]
	return e, ok
}

// All returns all registered experts in name order, so callers iterate
// deterministically.
func (r *Registry) All() []Expert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.experts))
	for name := range r.experts {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Expert, 0, len(names))
	for _, name := range names {
		result = append(result, r.experts[name])
	}
	return result
}
