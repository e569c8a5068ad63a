package pipeline

import (
	"fmt"
	"sort"
	"sync"

	etlerrors "github.com/clickstream/etl/internal/errors"
)

// Factory builds a stage for one run.
type Factory func(rc RunContext) (Stage, error)

// Registry maps stable stage names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("pipeline: stage name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("pipeline: stage %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered stage names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the stages for names, in order. An unknown name or a
// factory failure is a configuration error.
func (r *Registry) Resolve(names []string, rc RunContext) ([]Stage, error) {
	if len(names) == 0 {
		return nil, etlerrors.NewConfigError(etlerrors.CodeUnknownStage, "empty stage chain")
	}

	r.mu.RLock()
	factories := make([]Factory, len(names))
	for i, name := range names {
		f, ok := r.factories[name]
		if !ok {
			r.mu.RUnlock()
			return nil, etlerrors.NewConfigError(etlerrors.CodeUnknownStage,
				fmt.Sprintf("unknown stage %q", name)).WithDetails(map[string]interface{}{
				"position": i,
			})
		}
		factories[i] = f
	}
	r.mu.RUnlock()

	stages := make([]Stage, len(names))
	for i, f := range factories {
		s, err := f(rc)
		if err != nil {
			if etlerrors.GetCategory(err) == etlerrors.ErrCategoryConfiguration {
				return nil, err
			}
			return nil, etlerrors.Wrap(etlerrors.ErrCategoryConfiguration, etlerrors.CodeStageInitFailed,
				fmt.Sprintf("failed to initialize stage %q", names[i]), err)
		}
		stages[i] = s
	}
	return stages, nil
}
