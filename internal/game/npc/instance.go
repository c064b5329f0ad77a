package npc

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Kind classifies a live unit.
type Kind int

const (
	KindCreature Kind = iota
	KindBoss
	KindSummon
	KindPlayer
)

// String returns the kind's lowercase name.
func (k Kind) String() string {
	switch k {
	case KindBoss:
		return "boss"
	case KindSummon:
		return "summon"
	case KindPlayer:
		return "player"
	}
	return "creature"
}

// ParseKind converts a name produced by String back to a Kind. The empty
// string selects def.
func ParseKind(name string, def Kind) (Kind, error) {
	switch name {
	case "":
		return def, nil
	case "creature":
		return KindCreature, nil
	case "boss":
		return KindBoss, nil
	case "summon":
		return KindSummon, nil
	case "player":
		return KindPlayer, nil
	}
	return def, fmt.Errorf("npc: unknown kind %q", name)
}

// DefaultKind is the kind a spawn of t takes when none is given.
func (t *Template) DefaultKind() Kind {
	switch {
	case t.Player:
		return KindPlayer
	case t.Encounter != "":
		return KindBoss
	}
	return KindCreature
}

// Instance is a live unit in the simulated world.
type Instance struct {
	// ID uniquely identifies this runtime instance.
	ID host.UnitID
	// TemplateID is the source template's ID.
	TemplateID string
	// Name is copied from the template for display.
	Name string
	Kind Kind
	// Owner is the summoning unit; empty for units nobody owns.
	Owner    host.UnitID
	Position host.Position
	// CurrentHP is the instance's current hit points.
	CurrentHP int64
	// MaxHP is the instance's maximum hit points.
	MaxHP int64
	Melee Melee
	// Victim is the unit this instance is attacking.
	Victim host.UnitID
	// Casting is the remaining cast time; zero when idle.
	Casting time.Duration
	// Policy, Duration and Remaining govern when a summon is removed. A
	// zero Duration never expires.
	Policy    host.DespawnPolicy
	Duration  time.Duration
	Remaining time.Duration
	// Swing accumulates time toward the next melee swing.
	Swing time.Duration
	// Auras holds spell ids currently applied to the instance.
	Auras map[host.SpellID]bool

	threat map[host.UnitID]int64
}

// NewInstance creates a live unit from a template at pos.
//
// Precondition: id must be non-empty; tmpl must be non-nil.
// Postcondition: CurrentHP equals tmpl.MaxHP.
func NewInstance(id host.UnitID, tmpl *Template, kind Kind, pos host.Position) *Instance {
	return &Instance{
		ID:         id,
		TemplateID: tmpl.ID,
		Name:       tmpl.Name,
		Kind:       kind,
		Position:   pos,
		CurrentHP:  tmpl.MaxHP,
		MaxHP:      tmpl.MaxHP,
		Melee:      tmpl.Melee,
		Auras:      make(map[host.SpellID]bool),
		threat:     make(map[host.UnitID]int64),
	}
}

// IsDead reports whether the instance has zero or fewer hit points.
func (i *Instance) IsDead() bool {
	return i.CurrentHP <= 0
}

// HealthPct returns current health as a percentage of max.
func (i *Instance) HealthPct() float64 {
	if i.MaxHP <= 0 {
		return 0
	}
	return float64(i.CurrentHP) * 100 / float64(i.MaxHP)
}

// Damage subtracts amount from the instance's health, never below zero.
//
// Postcondition: Returns true iff this call killed the instance.
func (i *Instance) Damage(amount int64) bool {
	if i.IsDead() || amount <= 0 {
		return false
	}
	i.CurrentHP = max(i.CurrentHP-amount, 0)
	return i.IsDead()
}

// AddThreat raises source's threat by amount.
func (i *Instance) AddThreat(source host.UnitID, amount int64) {
	i.threat[source] += amount
}

// DropThreat forgets source.
func (i *Instance) DropThreat(source host.UnitID) {
	delete(i.threat, source)
}

// ClearThreat empties the threat table.
func (i *Instance) ClearThreat() {
	clear(i.threat)
}

// Threat returns source's threat.
func (i *Instance) Threat(source host.UnitID) int64 {
	return i.threat[source]
}

// ThreatOrder returns the threat table's units, highest threat first. Ties
// order by unit id.
func (i *Instance) ThreatOrder() []host.UnitID {
	units := slices.Collect(maps.Keys(i.threat))
	slices.SortFunc(units, func(a, b host.UnitID) int {
		if c := cmp.Compare(i.threat[b], i.threat[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return units
}
