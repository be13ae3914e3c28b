package provider

import (
	"fmt"
	"strings"
)

// Registry stores search providers keyed by normalized name. The priority
// order providers were registered in doubles as the deduplication tie-break
// order.
type Registry struct {
	providers map[string]Provider
	priority  []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds one provider. Later registrations of the same name replace
// the earlier one without changing its priority position.
func (r *Registry) Register(p Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeName(p.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, exists := r.providers[name]; !exists {
		r.priority = append(r.priority, name)
	}
	r.providers[name] = p
	return nil
}

// Provider resolves a provider by name.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return nil, fmt.Errorf("no search providers are registered")
	}
	resolved := normalizeName(name)
	p, ok := r.providers[resolved]
	if !ok {
		return nil, fmt.Errorf("search provider %q is not registered (available: %s)", resolved, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

// Priority returns the zero-based registration position of a provider, used
// as the deduplication tie-break. Unknown providers sort last.
func (r *Registry) Priority(name string) int {
	if r == nil {
		return int(^uint(0) >> 1)
	}
	resolved := normalizeName(name)
	for idx, known := range r.priority {
		if known == resolved {
			return idx
		}
	}
	return int(^uint(0) >> 1)
}

// Names lists registered providers in priority order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.priority))
	copy(names, r.priority)
	return names
}

func normalizeName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
