package encounter

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// ErrUnknownDefinition is returned by Registry.New for unregistered ids.
var ErrUnknownDefinition = errors.New("encounter: unknown definition")

type registration struct {
	def   *Definition
	hooks Hooks
}

// Registry indexes Definitions and their Hooks by encounter ID. The host
// owns the registry and builds controllers through it.
//
// Invariant: each encounter ID is registered at most once.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register validates def and stores it with hooks.
//
// Precondition: def must not be nil.
// Postcondition: returns error on validation failure or ID collision.
func (r *Registry) Register(def *Definition, hooks Hooks) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.ID]; exists {
		return fmt.Errorf("encounter.Registry: definition %q already registered", def.ID)
	}
	r.entries[def.ID] = registration{def: def, hooks: hooks}
	return nil
}

// Replace stores def and hooks, overwriting any existing registration.
// Controllers already built keep their old definition.
func (r *Registry) Replace(def *Definition, hooks Hooks) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.ID] = registration{def: def, hooks: hooks}
	return nil
}

// Definition returns the registered definition for id.
func (r *Registry) Definition(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.def, ok
}

// IDs returns the sorted registered encounter ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// New builds an Idle controller for self from the registration for id.
// Registered hooks apply unless opts include WithHooks.
func (r *Registry) New(id string, self host.UnitID, h host.Host, opts ...Option) (*Controller, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, id)
	}
	all := append([]Option{WithHooks(e.hooks)}, opts...)
	return New(e.def, self, h, all...), nil
}
