package route

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getmockd/imposter/pkg/config"
	"golang.org/x/text/cases"
)

// ErrUnknownPlugin is returned for a route naming a plugin that is not
// registered.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Plugin serves one kind of mocked resource.
type Plugin interface {
	// ID is the identifier routes use in their plugin field.
	ID() string
	// Configure hands the plugin the routes declared for it.
	Configure(routes []*config.RouteConfig) error
	// RegisterRoutes attaches the plugin's handlers to d.
	RegisterRoutes(d *Dispatcher) error
}

// NormalizeID case-folds a plugin identifier.
func NormalizeID(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}

// Registry maps plugin identifiers to plugins. It is built once at startup.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry creates a Registry holding plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin)}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p under its ID.
func (r *Registry) Register(p Plugin) error {
	id := NormalizeID(p.ID())
	if id == "" {
		return fmt.Errorf("plugin has an empty id")
	}
	if _, ok := r.plugins[id]; ok {
		return fmt.Errorf("plugin %q registered twice", p.ID())
	}
	r.plugins[id] = p
	return nil
}

// Get returns the plugin for id, ignoring case.
func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.plugins[NormalizeID(id)]
	return p, ok
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bind registers routes with d and wires every plugin that has at least
// one route: Configure first, then RegisterRoutes.
func (r *Registry) Bind(d *Dispatcher, routes []*config.RouteConfig) error {
	byPlugin := make(map[string][]*config.RouteConfig)
	for _, route := range routes {
		if _, ok := r.Get(route.Plugin); !ok {
			return fmt.Errorf("%w %q in %s (available: %s)",
				ErrUnknownPlugin, route.Plugin, route.Source, strings.Join(r.IDs(), ", "))
		}
		if err := d.Register(route); err != nil {
			return err
		}
		id := NormalizeID(route.Plugin)
		byPlugin[id] = append(byPlugin[id], route)
	}

	for _, id := range r.IDs() {
		declared := byPlugin[id]
		if len(declared) == 0 {
			continue
		}
		p := r.plugins[id]
		if err := p.Configure(declared); err != nil {
			return fmt.Errorf("configuring plugin %s: %w", id, err)
		}
		if err := p.RegisterRoutes(d); err != nil {
			return fmt.Errorf("registering routes for plugin %s: %w", id, err)
		}
	}
	return nil
}
