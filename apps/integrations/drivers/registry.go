package drivers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider identifiers to adapters.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Integration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Integration)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry the application registers its adapters in.
func Default() *Registry {
	return defaultRegistry
}

// Register adds an adapter, replacing any previous one with the same type.
func (r *Registry) Register(driver Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver.Type()] = driver
}

// Get returns the adapter for typeID.
func (r *Registry) Get(typeID string) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[typeID]
	return driver, ok
}

// MustGet returns the adapter for typeID or ErrUnknownProvider.
func (r *Registry) MustGet(typeID string) (Integration, error) {
	driver, ok := r.Get(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, typeID)
	}
	return driver, nil
}

// GetAll returns all registered adapters ordered by type.
func (r *Registry) GetAll() []Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Integration, 0, len(r.drivers))
	for _, driver := range r.drivers {
		result = append(result, driver)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type() < result[j].Type() })
	return result
}

// AllTypes returns all registered type IDs, sorted.
func (r *Registry) AllTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.drivers))
	for typeID := range r.drivers {
		result = append(result, typeID)
	}
	sort.Strings(result)
	return result
}

// LoadConnection decodes a stored connection into its typed form using the provider's adapter.
func (r *Registry) LoadConnection(id, provider string, rawConfig []byte, metadata map[string]any) (*Connection, error) {
	driver, err := r.MustGet(provider)
	if err != nil {
		return nil, err
	}
	cfg, err := driver.DecodeConfig(rawConfig)
	if err != nil {
		return nil, err
	}
	if cfg.Provider() != provider {
		return nil, fmt.Errorf("%w: %s adapter decoded a %s config", ErrConfigMismatch, provider, cfg.Provider())
	}
	return &Connection{ID: id, Provider: provider, Config: cfg, Metadata: metadata}, nil
}

// Register adds a driver to the default registry.
func Register(driver Integration) {
	defaultRegistry.Register(driver)
}

// Get returns a driver from the default registry.
func Get(typeID string) (Integration, bool) {
	return defaultRegistry.Get(typeID)
}

// GetAll returns all drivers of the default registry.
func GetAll() []Integration {
	return defaultRegistry.GetAll()
}

// AllTypes returns all type IDs of the default registry.
func AllTypes() []string {
	return defaultRegistry.AllTypes()
}
