package policy

import (
	"fmt"
	"sort"
)

// Registry holds the built-in presets.
type Registry struct {
	presets map[string]Preset
}

// NewRegistry creates a registry with all default presets.
func NewRegistry() *Registry {
	r := &Registry{
		presets: make(map[string]Preset),
	}

	r.Register(NewGamingPreset())
	r.Register(NewSocialPreset())
	r.Register(NewVideoPreset())

	return r
}

// NewRegistryWithPresets creates a registry with custom presets (for testing).
func NewRegistryWithPresets(presets ...Preset) *Registry {
	r := &Registry{
		presets: make(map[string]Preset),
	}
	for _, p := range presets {
		r.Register(p)
	}
	return r
}

// Register adds a preset to the registry.
func (r *Registry) Register(p Preset) {
	r.presets[p.ID()] = p
}

// Get returns a preset by ID.
func (r *Registry) Get(id string) (Preset, error) {
	p, ok := r.presets[id]
	if !ok {
		return nil, fmt.Errorf("preset not found: %s", id)
	}
	return p, nil
}

// GetAll returns all registered presets ordered by ID.
func (r *Registry) GetAll() []Preset {
	result := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// List returns all preset IDs in order.
func (r *Registry) List() []string {
	all := r.GetAll()
	ids := make([]string, len(all))
	for i, p := range all {
		ids[i] = p.ID()
	}
	return ids
}
