package npc

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Manager tracks all live units by ID and by owner.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	instances map[host.UnitID]*Instance
	owned     map[host.UnitID]map[host.UnitID]bool // owner → set of summoned ids
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		instances: make(map[host.UnitID]*Instance),
		owned:     make(map[host.UnitID]map[host.UnitID]bool),
	}
}

// Add registers inst.
//
// Precondition: inst must be non-nil with a non-empty ID.
// Postcondition: Returns an error if an instance with the same ID exists.
func (m *Manager) Add(inst *Instance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("npc.Manager.Add: instance must have an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.ID]; ok {
		return fmt.Errorf("npc instance %q already exists", inst.ID)
	}
	m.instances[inst.ID] = inst
	if inst.Owner != "" {
		if m.owned[inst.Owner] == nil {
			m.owned[inst.Owner] = make(map[host.UnitID]bool)
		}
		m.owned[inst.Owner][inst.ID] = true
	}
	return nil
}

// Remove deletes an instance by ID.
//
// Postcondition: Returns the removed instance, or an error if it is not found.
func (m *Manager) Remove(id host.UnitID) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("npc instance %q not found", id)
	}
	if set, ok := m.owned[inst.Owner]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.owned, inst.Owner)
		}
	}
	delete(m.instances, id)
	return inst, nil
}

// Get returns the instance with the given ID.
//
// Postcondition: Returns (inst, true) if found, or (nil, false) otherwise.
func (m *Manager) Get(id host.UnitID) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// All returns a snapshot of every live instance ordered by ID.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (m *Manager) All() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b *Instance) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Owned returns the ids summoned by owner, ordered by ID.
func (m *Manager) Owned(owner host.UnitID) []host.UnitID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]host.UnitID, 0, len(m.owned[owner]))
	for id := range m.owned[owner] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of live instances.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
