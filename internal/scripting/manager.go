package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/dice"
)

// ErrZoneNotFound is returned when an operation names a zone with no VM.
var ErrZoneNotFound = errors.New("scripting: zone not found")

type zoneVM struct {
	L     *lua.LState
	dir   string
	limit int
}

// Manager owns one sandboxed LState per zone and exposes hook dispatch.
//
// The zone map is safe for concurrent use. A zone's LState is not: every
// call for one zone (CallHook, Reload) must be serialized by the caller,
// which the tick driver does by holding that zone's lock.
type Manager struct {
	mu     sync.RWMutex
	zones  map[string]*zoneVM
	src    dice.Source
	logger *zap.Logger

	// Encounter resolves a unit id to its live encounter controller within
	// one zone. A VM only ever resolves units of its own zone, so hooks never
	// touch a controller another zone's tick owns.
	// Injected after construction. nil = engine.encounter.* calls are no-ops.
	Encounter func(zoneID, uid string) (EncounterAPI, bool)
}

// NewManager creates a Manager.
//
// Precondition: src and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with an empty zone map.
func NewManager(src dice.Source, logger *zap.Logger) *Manager {
	if src == nil {
		panic("scripting.NewManager: src must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		zones:  make(map[string]*zoneVM),
		src:    src,
		logger: logger,
	}
}

// LoadZone creates a sandboxed VM for zoneID, registers all engine.* modules,
// then executes every *.lua file in scriptDir in lexicographic order. A zone
// that already has a VM is replaced only when loading succeeds.
//
// Precondition: zoneID must be non-empty; scriptDir must be a readable directory.
// Postcondition: Zone VM is registered; returns error on Lua load failure.
func (m *Manager) LoadZone(zoneID, scriptDir string, instLimit int) error {
	L := NewSandboxedState()
	m.RegisterModules(L, zoneID)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, zoneID, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := RunLimited(L, instLimit, func() error { return L.DoFile(path) }); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, zoneID, err)
		}
	}

	m.mu.Lock()
	old := m.zones[zoneID]
	m.zones[zoneID] = &zoneVM{L: L, dir: scriptDir, limit: instLimit}
	m.mu.Unlock()
	if old != nil {
		old.L.Close()
	}
	m.logger.Debug("scripting: zone loaded",
		zap.String("zone", zoneID),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

// Reload re-runs LoadZone with the directory and limit zoneID was loaded with.
// On failure the previous VM stays active.
func (m *Manager) Reload(zoneID string) error {
	m.mu.RLock()
	z, ok := m.zones[zoneID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrZoneNotFound, zoneID)
	}
	return m.LoadZone(zoneID, z.dir, z.limit)
}

// Unload closes and forgets zoneID's VM. Unknown zones are a no-op.
func (m *Manager) Unload(zoneID string) {
	m.mu.Lock()
	z, ok := m.zones[zoneID]
	delete(m.zones, zoneID)
	m.mu.Unlock()
	if ok {
		z.L.Close()
	}
}

// Close closes every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	zones := m.zones
	m.zones = make(map[string]*zoneVM)
	m.mu.Unlock()
	for _, z := range zones {
		z.L.Close()
	}
}

// Zones returns the sorted ids of loaded zones.
func (m *Manager) Zones() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.zones))
	for id := range m.zones {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ScriptDirs returns the distinct directories zones were loaded from.
func (m *Manager) ScriptDirs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var dirs []string
	for _, z := range m.zones {
		if !slices.Contains(dirs, z.dir) {
			dirs = append(dirs, z.dir)
		}
	}
	slices.Sort(dirs)
	return dirs
}

// HasHook reports whether zoneID defines a global function named hook.
func (m *Manager) HasHook(zoneID, hook string) bool {
	m.mu.RLock()
	z, ok := m.zones[zoneID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	_, isFn := z.L.GetGlobal(hook).(*lua.LFunction)
	return isFn
}

// CallHook calls the named Lua global function in zoneID's VM. Returns
// (LNil, nil) if the hook is not defined or no VM exists. Lua runtime errors,
// including an exhausted instruction budget, are returned to the caller; the
// VM stays usable.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(zoneID, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	z, ok := m.zones[zoneID]
	m.mu.RUnlock()

	if !ok {
		m.logger.Info("scripting: no VM for zone",
			zap.String("zone", zoneID),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	L := z.L
	fn := L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	err := RunLimited(L, z.limit, func() error {
		return L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, args...)
	})
	if err != nil {
		return lua.LNil, fmt.Errorf("scripting: calling %q in %q: %w", hook, zoneID, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}
