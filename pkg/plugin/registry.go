package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Priority decides which registration wins when two plugins share a name
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// DefaultOrder is used when a registration leaves Order at zero
const DefaultOrder = 50

// PluginInfo describes a registered plugin
type PluginInfo struct {
	Name        string
	Description string

	// Priority: the higher value wins; equal priorities keep the later registration
	Priority int

	// Order: lower values are created and started first
	Order int

	Factory Factory
}

// Registry holds plugin registrations
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]PluginInfo
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]PluginInfo),
	}
}

// Register adds info, or replaces an existing registration of the same name
// when info has at least its priority.
func (r *Registry) Register(info PluginInfo) error {
	if info.Name == "" {
		return errors.New("plugin name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("plugin %s: factory cannot be nil", info.Name)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.plugins[info.Name]
	if exists && info.Priority < existing.Priority {
		return nil
	}
	r.plugins[info.Name] = info
	if !exists {
		r.order = append(r.order, info.Name)
	}
	return nil
}

// Get returns the registration of name, or nil
func (r *Registry) Get(name string) *PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.plugins[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns the registrations sorted by Order, then by name
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	result := make([]PluginInfo, 0, len(r.plugins))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	r.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Clear drops every registration
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]PluginInfo)
	r.order = nil
}

// CreateAll instantiates every plugin in List order. When a factory fails the
// plugins created so far are stopped in reverse order.
func (r *Registry) CreateAll(ctx *Context) ([]Plugin, error) {
	infos := r.List()
	result := make([]Plugin, 0, len(infos))

	for _, info := range infos {
		p, err := info.Factory(ctx)
		if err != nil {
			StopAll(result)
			return nil, fmt.Errorf("failed to create plugin %s: %w", info.Name, err)
		}
		if ctx != nil && ctx.Logger != nil {
			ctx.Logger.Info("Plugin created",
				zap.String("plugin", info.Name),
				zap.Int("order", info.Order),
				zap.Int("priority", info.Priority))
		}
		result = append(result, p)
	}
	return result, nil
}

// StartAll starts plugins in order. On failure the plugins already started are
// stopped in reverse order.
func StartAll(plugins []Plugin) error {
	for i, p := range plugins {
		if err := p.Start(); err != nil {
			StopAll(plugins[:i])
			return fmt.Errorf("failed to start plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops plugins in reverse order
func StopAll(plugins []Plugin) {
	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Stop()
	}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry; plugin packages call it from init()
func Register(info PluginInfo) error {
	return globalRegistry.Register(info)
}

// Get returns a registration from the global registry
func Get(name string) *PluginInfo {
	return globalRegistry.Get(name)
}

// List returns the global registrations in start order
func List() []PluginInfo {
	return globalRegistry.List()
}

// CreateAll creates every plugin of the global registry
func CreateAll(ctx *Context) ([]Plugin, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns the globally registered names
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal empties the global registry
func ClearGlobal() {
	globalRegistry.Clear()
}
