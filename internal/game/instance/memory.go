package instance

import (
	"context"
	"maps"
	"sync"
)

// MemoryPersister keeps boss states in process memory.
type MemoryPersister struct {
	mu     sync.Mutex
	states map[string]map[string]BossState
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{states: make(map[string]map[string]BossState)}
}

// LoadBossStates returns a copy of the states stored for instanceID.
func (m *MemoryPersister) LoadBossStates(_ context.Context, instanceID string) (map[string]BossState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := maps.Clone(m.states[instanceID])
	if out == nil {
		out = make(map[string]BossState)
	}
	return out, nil
}

// SaveBossState stores state for boss in instanceID.
func (m *MemoryPersister) SaveBossState(ctx context.Context, instanceID, boss string, state BossState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bosses, ok := m.states[instanceID]
	if !ok {
		bosses = make(map[string]BossState)
		m.states[instanceID] = bosses
	}
	bosses[boss] = state
	return nil
}
