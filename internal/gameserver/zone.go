package gameserver

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/config"
	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/game/npc"
	"github.com/cory-johannsen/encounter/internal/scripting"
	"github.com/cory-johannsen/encounter/internal/sim"
)

// ZoneDeps carries what BuildZone needs beyond the zone's own spawn list.
type ZoneDeps struct {
	Templates []*npc.Template
	Spells    map[host.SpellID]sim.Spell
	Registry  *encounter.Registry
	// Scripts enables Lua hooks when non-nil; each zone gets its own VM
	// loaded from ScriptsDir.
	Scripts          *scripting.Manager
	ScriptsDir       string
	InstructionLimit int
	Difficulty       string
	Source           dice.Source
	// IDs, when set, makes minted unit ids reproducible.
	IDs    io.Reader
	Logger *zap.Logger
}

// LiveZone is one running dungeon instance: its simulated world, the
// controllers attached to it and its persistent boss states.
type LiveZone struct {
	ID       string
	World    *sim.World
	Instance *instance.Instance

	deps   ZoneDeps
	logger *zap.Logger
}

// BuildZone spawns every unit of spawns into a fresh world and attaches an
// encounter controller to each unit whose template names an encounter.
//
// Precondition: deps.Registry, deps.Source and deps.Logger must not be nil.
// Precondition: inst must not be nil.
// Postcondition: controllers are Reset and spawns with Engage set are
// attacking their target. Bosses whose state is Done are not spawned.
func BuildZone(id string, spawns []config.SpawnConfig, inst *instance.Instance, deps ZoneDeps) (*LiveZone, error) {
	logger := deps.Logger.With(zap.String("zone", id))
	opts := []sim.Option{
		sim.WithLogger(logger.Named("sim")),
		sim.WithSource(deps.Source),
		sim.WithSpells(deps.Spells),
	}
	if deps.IDs != nil {
		opts = append(opts, sim.WithIDReader(deps.IDs))
	}
	world := sim.NewWorld(deps.Templates, opts...)

	if deps.Scripts != nil && deps.ScriptsDir != "" {
		if err := deps.Scripts.LoadZone(id, deps.ScriptsDir, deps.InstructionLimit); err != nil {
			return nil, fmt.Errorf("zone %q: %w", id, err)
		}
	}

	units := make([]host.UnitID, len(spawns))
	for i, s := range spawns {
		tmpl, ok := world.Template(s.Template)
		if !ok {
			return nil, fmt.Errorf("zone %q spawn %d: unknown template %q", id, i, s.Template)
		}
		kind, err := npc.ParseKind(s.Kind, tmpl.DefaultKind())
		if err != nil {
			return nil, fmt.Errorf("zone %q spawn %d: %w", id, i, err)
		}
		if def, ok := deps.Registry.Definition(tmpl.Encounter); ok && inst.BossState(def.BossKey()) == instance.Done {
			logger.Info("boss already defeated, not spawned",
				zap.String("template", tmpl.ID),
				zap.String("boss", def.BossKey()),
			)
			continue
		}
		pos := host.Position{X: s.X, Y: s.Y, Z: s.Z}
		uid := host.UnitID(s.ID)
		if uid == "" {
			uid, err = world.Spawn(s.Template, kind, pos)
		} else {
			err = world.SpawnAs(uid, s.Template, kind, pos)
		}
		if err != nil {
			return nil, fmt.Errorf("zone %q spawn %d: %w", id, i, err)
		}
		units[i] = uid

		if tmpl.Encounter == "" {
			continue
		}
		ctl, err := newController(id, tmpl.Encounter, uid, world, inst, deps, logger)
		if err != nil {
			return nil, fmt.Errorf("zone %q spawn %d: %w", id, i, err)
		}
		world.Attach(ctl)
		ctl.Reset()
	}

	for i, s := range spawns {
		if s.Engage != "" && units[i] != "" {
			world.Engage(units[i], host.UnitID(s.Engage))
		}
	}
	logger.Info("zone built",
		zap.Int("units", world.Units().Len()),
		zap.Int("encounters", world.Roster().Len()),
	)
	return &LiveZone{ID: id, World: world, Instance: inst, deps: deps, logger: logger}, nil
}

// Rebuild replaces the controller of every idle unit running encounter
// encID with one built from the current registry entry. Controllers in
// combat or dead keep their definition and are counted in skipped.
//
// Precondition: the caller holds the zone's tick lock.
// Postcondition: rebuilt controllers are Reset.
func (z *LiveZone) Rebuild(encID string) (rebuilt, skipped int, err error) {
	for _, old := range z.World.Roster().Controllers() {
		if old.Definition().ID != encID {
			continue
		}
		if old.State() != encounter.Idle {
			skipped++
			continue
		}
		ctl, err := newController(z.ID, encID, old.Self(), z.World, z.Instance, z.deps, z.logger)
		if err != nil {
			return rebuilt, skipped, fmt.Errorf("zone %q unit %q: %w", z.ID, old.Self(), err)
		}
		z.World.Attach(ctl)
		ctl.Reset()
		rebuilt++
	}
	if rebuilt+skipped > 0 {
		z.logger.Info("encounter controllers rebuilt",
			zap.String("encounter", encID),
			zap.Int("rebuilt", rebuilt),
			zap.Int("skipped", skipped),
		)
	}
	return rebuilt, skipped, nil
}

func newController(zoneID, encID string, uid host.UnitID, world *sim.World, inst *instance.Instance, deps ZoneDeps, logger *zap.Logger) (*encounter.Controller, error) {
	opts := []encounter.Option{
		encounter.WithLogger(logger),
		encounter.WithSource(deps.Source),
		encounter.WithDifficulty(deps.Difficulty),
		encounter.WithInstance(inst),
	}
	if def, ok := deps.Registry.Definition(encID); ok && deps.Scripts != nil && def.Script != "" {
		opts = append(opts, encounter.WithHooks(encounter.ScriptHooks(deps.Scripts, zoneID, def.Script)))
	}
	return deps.Registry.New(encID, uid, world, opts...)
}

// ZoneSet indexes the live zones of the daemon.
type ZoneSet struct {
	mu    sync.RWMutex
	zones map[string]*LiveZone
}

// NewZoneSet returns an empty ZoneSet.
func NewZoneSet() *ZoneSet {
	return &ZoneSet{zones: make(map[string]*LiveZone)}
}

// Add stores z.
//
// Postcondition: returns an error if a zone with the same id exists.
func (s *ZoneSet) Add(z *LiveZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[z.ID]; ok {
		return fmt.Errorf("gameserver: zone %q already added", z.ID)
	}
	s.zones[z.ID] = z
	return nil
}

// Get returns the zone with id.
func (s *ZoneSet) Get(id string) (*LiveZone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// IDs returns the sorted zone ids.
func (s *ZoneSet) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.zones))
	for id := range s.zones {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Roster returns the controllers of zone id.
func (s *ZoneSet) Roster(id string) (*encounter.Roster, bool) {
	z, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	return z.World.Roster(), true
}

// Encounter resolves a unit id to its controller within zone zoneID. Units
// of other zones never resolve, so a zone's hooks only reach controllers
// that zone's tick owns.
func (s *ZoneSet) Encounter(zoneID, uid string) (scripting.EncounterAPI, bool) {
	z, ok := s.Get(zoneID)
	if !ok {
		return nil, false
	}
	ctl, ok := z.World.Roster().Get(host.UnitID(uid))
	if !ok {
		return nil, false
	}
	return ctl.ScriptAPI(), true
}
