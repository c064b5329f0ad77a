// Package host declares the boundary between encounter scripts and the game
// engine that runs them: unit identity, target selection filters and the
// command and query interfaces an encounter issues calls through.
package host

import (
	"fmt"
	"math"
	"time"
)

// UnitID identifies a live unit in the host world.
type UnitID string

// SpellID identifies a spell known to the host.
type SpellID int

// Position is a point in world space.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Distance returns the Euclidean distance between p and o.
func (p Position) Distance(o Position) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Offset returns p translated by o.
func (p Position) Offset(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// TargetMode selects how SelectTargets ranks candidates.
type TargetMode string

const (
	TargetVictim       TargetMode = "victim"
	TargetSelf         TargetMode = "self"
	TargetRandom       TargetMode = "random"
	TargetFarthest     TargetMode = "farthest"
	TargetNearest      TargetMode = "nearest"
	TargetLowestHealth TargetMode = "lowest_health"
	TargetTopThreat    TargetMode = "top_threat"
	TargetWithAura     TargetMode = "with_aura"
)

// Valid reports whether m is a known mode.
func (m TargetMode) Valid() bool {
	switch m {
	case TargetVictim, TargetSelf, TargetRandom, TargetFarthest, TargetNearest,
		TargetLowestHealth, TargetTopThreat, TargetWithAura:
		return true
	}
	return false
}

// TargetFilter narrows a target-selection query.
//
// Range zero means unlimited. Count zero means one.
type TargetFilter struct {
	Mode          TargetMode `yaml:"mode"`
	Range         float64    `yaml:"range"`
	Count         int        `yaml:"count"`
	Aura          SpellID    `yaml:"aura"`
	PlayersOnly   bool       `yaml:"players_only"`
	ExcludeVictim bool       `yaml:"exclude_victim"`
}

// Limit returns the effective result count.
func (f TargetFilter) Limit() int {
	if f.Count <= 0 {
		return 1
	}
	return f.Count
}

// DespawnPolicy controls when the host removes a summoned unit.
type DespawnPolicy string

const (
	// DespawnTimedOrDead removes the unit when its duration elapses or it dies.
	DespawnTimedOrDead DespawnPolicy = "timed_or_dead"
	// DespawnTimed removes the unit only when its duration elapses.
	DespawnTimed DespawnPolicy = "timed"
	// DespawnManual keeps the unit until an explicit despawn.
	DespawnManual DespawnPolicy = "manual"
	// DespawnCorpse removes the unit's corpse after death.
	DespawnCorpse DespawnPolicy = "corpse"
)

// ParseDespawnPolicy converts s into a DespawnPolicy. The empty string maps
// to DespawnTimedOrDead.
func ParseDespawnPolicy(s string) (DespawnPolicy, error) {
	switch p := DespawnPolicy(s); p {
	case "":
		return DespawnTimedOrDead, nil
	case DespawnTimedOrDead, DespawnTimed, DespawnManual, DespawnCorpse:
		return p, nil
	}
	return "", fmt.Errorf("host: unknown despawn policy %q", s)
}

// SummonRequest describes a creature the host should spawn.
type SummonRequest struct {
	Template string
	Position Position
	Policy   DespawnPolicy
	Duration time.Duration
}

// Commands are the side effects an encounter may request. Every command
// addressed to a unit that no longer exists is a silent no-op.
type Commands interface {
	CastSpell(caster, target UnitID, spell SpellID, triggered bool)
	CastArea(caster UnitID, spell SpellID)
	MoveTo(unit UnitID, point int, to Position, speed float64)
	StopMoving(unit UnitID)
	// Summon spawns a creature owned by owner and returns its id, or false
	// when the host refused the request.
	Summon(owner UnitID, req SummonRequest) (UnitID, bool)
	Despawn(unit UnitID)
	AttackStart(unit, target UnitID)
	MeleeAttack(unit UnitID)
	EnterEvadeMode(unit UnitID)
	Say(unit UnitID, text string)
	// Dispatch forwards an action code to the AI of unit.
	Dispatch(unit UnitID, action int)
}

// Queries read host world state.
type Queries interface {
	// Victim returns unit's current combat target.
	Victim(unit UnitID) (UnitID, bool)
	Health(unit UnitID) (cur, max int64, ok bool)
	Position(unit UnitID) (Position, bool)
	Exists(unit UnitID) bool
	TemplateOf(unit UnitID) (string, bool)
	IsCasting(unit UnitID) bool
	// SelectTargets returns up to filter.Limit() units chosen around unit.
	SelectTargets(unit UnitID, filter TargetFilter) []UnitID
}

// Host is the full engine surface an encounter controller drives.
type Host interface {
	Commands
	Queries
}
