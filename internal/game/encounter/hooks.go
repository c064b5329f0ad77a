package encounter

import (
	"time"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Hooks is the callback set that specializes a Definition. Every field is
// optional. Hooks run on the controller's tick path and must not block.
type Hooks struct {
	OnReset       func(c *Controller)
	OnCombatStart func(c *Controller, target host.UnitID)
	OnPhaseEnter  func(c *Controller, phase int)
	// OnEventFire runs before an event's declarative actions. Returning true
	// marks the event handled and skips them. Repeat timing still applies.
	OnEventFire       func(c *Controller, id EventID) bool
	OnHealthThreshold func(c *Controller, belowPct float64)
	// OnDamageTaken may adjust incoming damage before phase floors apply.
	OnDamageTaken          func(c *Controller, source host.UnitID, amount int64) int64
	OnDeath                func(c *Controller, killer host.UnitID)
	OnEvade                func(c *Controller)
	OnUnitKilled           func(c *Controller, victim host.UnitID)
	OnSpellHit             func(c *Controller, caster host.UnitID, spell host.SpellID)
	OnMovementPointReached func(c *Controller, point int)
	OnSummon               func(c *Controller, unit host.UnitID)
	OnSummonRemoved        func(c *Controller, unit host.UnitID)
	OnAction               func(c *Controller, action int)
	// OnPhaseTick runs after events each combat tick. Returning true
	// replaces the phase's default loop for that tick.
	OnPhaseTick func(c *Controller, phase int, delta time.Duration) bool
	// OnScript runs the named function for a script action.
	OnScript func(c *Controller, function string)
}
