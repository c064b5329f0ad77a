// Package gameserver drives dungeon instances: it assembles each zone from
// configuration and ticks every zone on a shared clock.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrZoneNotFound is returned when an operation names an unregistered zone.
var ErrZoneNotFound = errors.New("gameserver: zone not found")

// TickFunc advances one zone by delta.
type TickFunc func(delta time.Duration)

type callback struct {
	name string
	fn   TickFunc
}

// zone serializes every tick callback and external Do call for one zone.
type zone struct {
	mu        sync.Mutex
	callbacks []callback
}

// TickManager drives a periodic tick for each registered zone.
// Zones tick in parallel; callbacks within a zone run in registration order
// under the zone lock.
//
// Invariant: a zone's callbacks never run concurrently with each other or
// with a Do call for the same zone.
type TickManager struct {
	interval time.Duration
	maxDelta time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.RWMutex
	zones map[string]*zone
	ticks atomic.Uint64
}

// TickOption configures a TickManager.
type TickOption func(*TickManager)

// WithClock replaces the wall clock used to measure tick deltas.
func WithClock(now func() time.Time) TickOption { return func(m *TickManager) { m.now = now } }

// NewTickManager returns a manager that fires ticks every interval, passing
// the elapsed time clamped to maxDelta.
//
// Precondition: interval must be > 0; logger must not be nil.
// Postcondition: a maxDelta <= 0 is replaced by four intervals.
func NewTickManager(interval, maxDelta time.Duration, logger *zap.Logger, opts ...TickOption) *TickManager {
	if interval <= 0 {
		panic("gameserver.NewTickManager: interval must be > 0")
	}
	if logger == nil {
		panic("gameserver.NewTickManager: logger must not be nil")
	}
	if maxDelta <= 0 {
		maxDelta = 4 * interval
	}
	m := &TickManager{
		interval: interval,
		maxDelta: maxDelta,
		now:      time.Now,
		logger:   logger,
		zones:    make(map[string]*zone),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register appends a named callback to zoneID, creating the zone on first use.
func (m *TickManager) Register(zoneID, name string, fn TickFunc) {
	m.mu.Lock()
	z, ok := m.zones[zoneID]
	if !ok {
		z = &zone{}
		m.zones[zoneID] = z
	}
	m.mu.Unlock()

	z.mu.Lock()
	defer z.mu.Unlock()
	z.callbacks = append(z.callbacks, callback{name: name, fn: fn})
}

// Unregister removes zoneID and all of its callbacks.
func (m *TickManager) Unregister(zoneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zones, zoneID)
}

// Zones returns the registered zone ids in sorted order.
func (m *TickManager) Zones() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.zones))
	for id := range m.zones {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Ticks returns how many ticks have completed.
func (m *TickManager) Ticks() uint64 { return m.ticks.Load() }

// Do runs fn under zoneID's lock, between ticks.
//
// Postcondition: Returns ErrZoneNotFound if zoneID is not registered; a
// panic in fn is recovered and returned as an error.
func (m *TickManager) Do(zoneID string, fn func()) (err error) {
	m.mu.RLock()
	z, ok := m.zones[zoneID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrZoneNotFound, zoneID)
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gameserver: zone %q: panic: %v", zoneID, r)
		}
	}()
	fn()
	return nil
}

// Step runs one tick of every zone with delta, zones in parallel.
//
// Postcondition: Returns ctx.Err() if ctx is cancelled before a zone starts;
// callback panics are logged, never returned.
func (m *TickManager) Step(ctx context.Context, delta time.Duration) error {
	m.mu.RLock()
	zones := make(map[string]*zone, len(m.zones))
	for id, z := range m.zones {
		zones[id] = z
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for id, z := range zones {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.tickZone(id, z, delta)
			return nil
		})
	}
	err := g.Wait()
	m.ticks.Add(1)
	return err
}

func (m *TickManager) tickZone(id string, z *zone, delta time.Duration) {
	z.mu.Lock()
	defer z.mu.Unlock()
	for _, cb := range z.callbacks {
		m.invoke(id, cb, delta)
	}
}

func (m *TickManager) invoke(zoneID string, cb callback, delta time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick callback panicked",
				zap.String("zone", zoneID),
				zap.String("callback", cb.name),
				zap.Any("panic", r),
			)
		}
	}()
	cb.fn(delta)
}

// Run ticks every zone once per interval until ctx is cancelled.
//
// Postcondition: Returns nil after ctx is cancelled.
func (m *TickManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	last := m.now()
	m.logger.Info("tick loop started", zap.Duration("interval", m.interval), zap.Duration("max_delta", m.maxDelta))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("tick loop stopped", zap.Uint64("ticks", m.Ticks()))
			return nil
		case <-ticker.C:
			now := m.now()
			delta := min(max(now.Sub(last), 0), m.maxDelta)
			last = now
			if err := m.Step(ctx, delta); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
