package instance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInstanceNotFound is returned by Manager lookups for unknown ids.
var ErrInstanceNotFound = errors.New("instance not found")

// Manager owns every open Instance.
type Manager struct {
	persister    Persister
	logger       *zap.Logger
	writeTimeout time.Duration

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewManager returns an empty Manager.
//
// Precondition: persister and logger must not be nil.
func NewManager(persister Persister, logger *zap.Logger, writeTimeout time.Duration) *Manager {
	if persister == nil {
		panic("instance.NewManager: persister must not be nil")
	}
	if logger == nil {
		panic("instance.NewManager: logger must not be nil")
	}
	return &Manager{
		persister:    persister,
		logger:       logger,
		writeTimeout: writeTimeout,
		instances:    make(map[string]*Instance),
	}
}

// Open returns the instance for id, creating and loading it on first use.
func (m *Manager) Open(ctx context.Context, id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst, nil
	}
	inst := NewInstance(id, m.persister, m.logger, m.writeTimeout)
	if err := inst.Load(ctx); err != nil {
		return nil, err
	}
	m.instances[id] = inst
	return inst, nil
}

// Get returns the open instance for id.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInstanceNotFound, id)
	}
	return inst, nil
}

// IDs returns the sorted ids of open instances.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run runs the write-behind loop of every instance open at call time until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	open := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		open = append(open, inst)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range open {
		g.Go(func() error { return inst.Run(gctx) })
	}
	return g.Wait()
}

// Flush flushes every open instance.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, id := range m.IDs() {
		inst, err := m.Get(id)
		if err != nil {
			continue
		}
		if err := inst.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
