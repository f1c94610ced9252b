// Package strategy defines the Strategy interface for signal generation and
// provides a Registry for selecting an implementation by name.
package strategy

import (
	"context"
	"sort"

	"autotrader/internal/domain"
	"autotrader/internal/indicator"
)

// Strategy turns a bar window into a signal for its most recent bar.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Evaluate inspects bars (oldest first) and returns a signal for the last
	// bar. Windows too short to evaluate return domain.ErrInsufficientHistory
	// and no signal.
	Evaluate(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error)
}

// SetStrategy is a Strategy whose verdict depends only on the indicator Set
// of the last bar. Callers that keep an indicator.Stream per symbol evaluate
// it without recomputing the window on every bar.
type SetStrategy interface {
	Strategy
	EvaluateSet(symbol string, set indicator.Set) domain.Signal
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
