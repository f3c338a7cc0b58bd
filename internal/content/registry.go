package content

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcp-directory/mcp-directory/internal/config"
)

// Builder constructs a Provider from application configuration
type Builder func(cfg *config.ContentConfig) (Provider, error)

// Registry maps provider kinds to builders
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder for a provider kind
func (r *Registry) Register(kind string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// Build creates the provider selected by cfg.Provider
func (r *Registry) Build(cfg *config.ContentConfig) (Provider, error) {
	r.mu.RLock()
	builder, found := r.builders[cfg.Provider]
	r.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownProvider, cfg.Provider, r.Kinds())
	}
	return builder(cfg)
}

// Kinds returns the registered provider kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// GlobalRegistry holds the providers registered by implementation packages in init().
var GlobalRegistry = NewRegistry()

// Register adds a builder to the global registry
func Register(kind string, builder Builder) {
	GlobalRegistry.Register(kind, builder)
}

// New builds a provider from the global registry and applies the configured
// decorators: instrumentation, then the circuit breaker when enabled.
func New(cfg *config.ContentConfig) (Provider, error) {
	p, err := GlobalRegistry.Build(cfg)
	if err != nil {
		return nil, err
	}
	p = Instrument(p)
	if cfg.Breaker.Enabled {
		p = WithCircuitBreaker(p, BreakerSettings{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
		})
	}
	return p, nil
}
