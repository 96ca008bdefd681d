package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/logger"
)

// Factory creates a provider for a connection descriptor.
type Factory func(cfg config.SourceConfig, log *zap.Logger) (Provider, error)

// Info describes a registered provider for listings.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// ImplicitCatalog is true when the source has exactly one catalog
	ImplicitCatalog bool `json:"implicit_catalog"`
}

// Registry manages provider registration and instantiation
type Registry struct {
	factories map[string]Factory
	infos     map[string]Info
	mu        sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		infos:     make(map[string]Info),
	}
}

// Register registers a provider factory under info.Name
func (r *Registry) Register(info Info, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("provider %s already registered", info.Name))
	}

	r.factories[info.Name] = factory
	r.infos[info.Name] = info
	return nil
}

// Create resolves the provider for cfg.Type
func (r *Registry) Create(cfg config.SourceConfig, log *zap.Logger) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("provider %s not found", cfg.Type))
	}

	if log == nil {
		log = logger.Get()
	}
	p, err := factory(cfg, log.With(zap.String("component", "provider"), zap.String("provider", cfg.Type)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create provider %s", cfg.Type))
	}

	return p, nil
}

// List returns the registered providers sorted by name
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Has checks if a provider is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Global registry functions

// Register registers a provider in the global registry. It panics on a
// duplicate name since registration happens from init functions.
func Register(info Info, factory Factory) {
	if err := globalRegistry.Register(info, factory); err != nil {
		panic(err)
	}
}

// Create creates a provider from the global registry
func Create(cfg config.SourceConfig, log *zap.Logger) (Provider, error) {
	return globalRegistry.Create(cfg, log)
}

// List returns registered providers from the global registry
func List() []Info {
	return globalRegistry.List()
}

// Has checks if a provider is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}
