// Package registry maps connector names to factories. Sources and
// destinations register themselves from init functions; the CLI imports them
// for side effects and builds instances by name.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	mu           sync.RWMutex
}

// SourceFactory creates a source from the run configuration.
type SourceFactory func(ctx context.Context, cfg *config.Config) (core.Source, error)

// DestinationFactory creates a sink from the run configuration. Sinks that
// connect on construction use ctx for it.
type DestinationFactory func(ctx context.Context, cfg *config.Config) (core.Sink, error)

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
	}
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}
	r.sources[name] = factory
	return nil
}

// RegisterDestination registers a destination connector factory
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
	}
	r.destinations[name] = factory
	return nil
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(ctx context.Context, name string, cfg *config.Config) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}

	source, err := factory(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}

	logger.Get().Debug("source connector created", zap.String("component", "connector_registry"), zap.String("name", name))
	return source, nil
}

// CreateDestination creates a destination connector instance
func (r *Registry) CreateDestination(ctx context.Context, name string, cfg *config.Config) (core.Sink, error) {
	r.mu.RLock()
	factory, exists := r.destinations[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", name))
	}

	sink, err := factory(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", name))
	}

	logger.Get().Debug("destination connector created", zap.String("component", "connector_registry"), zap.String("name", name))
	return sink, nil
}

// ListSources returns the registered source names, sorted
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// ListDestinations returns the registered destination names, sorted
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.destinations)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterSource registers a source in the global registry
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterDestination registers a destination in the global registry
func RegisterDestination(name string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(name, factory)
}

// CreateSource creates a source from the global registry
func CreateSource(ctx context.Context, name string, cfg *config.Config) (core.Source, error) {
	return globalRegistry.CreateSource(ctx, name, cfg)
}

// CreateDestination creates a destination from the global registry
func CreateDestination(ctx context.Context, name string, cfg *config.Config) (core.Sink, error) {
	return globalRegistry.CreateDestination(ctx, name, cfg)
}

// ListSources lists the sources in the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListDestinations lists the destinations in the global registry
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}
