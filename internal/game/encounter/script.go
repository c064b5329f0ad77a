package encounter

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/scripting"
)

// HookCaller invokes Lua hooks by name. *scripting.Manager satisfies it.
type HookCaller interface {
	CallHook(zoneID, hook string, args ...lua.LValue) (lua.LValue, error)
}

// ScriptHooks returns Hooks that call Lua globals named "<prefix>_on_<hook>"
// in zoneID's VM, each with the boss unit id as the first argument. Missing
// Lua functions leave the default behaviour in place.
func ScriptHooks(caller HookCaller, zoneID, prefix string) Hooks {
	call := func(c *Controller, name string, args ...lua.LValue) lua.LValue {
		all := append([]lua.LValue{lua.LString(c.Self())}, args...)
		ret, err := caller.CallHook(zoneID, prefix+"_on_"+name, all...)
		if err != nil {
			c.logger.Warn("script hook failed", zap.String("hook", name), zap.Error(err))
			return lua.LNil
		}
		return ret
	}
	str := func(u host.UnitID) lua.LValue { return lua.LString(u) }
	num := func(n int) lua.LValue { return lua.LNumber(n) }

	return Hooks{
		OnReset: func(c *Controller) { call(c, "reset") },
		OnCombatStart: func(c *Controller, target host.UnitID) {
			call(c, "combat_start", str(target))
		},
		OnPhaseEnter: func(c *Controller, phase int) { call(c, "phase_enter", num(phase)) },
		OnEventFire: func(c *Controller, id EventID) bool {
			return lua.LVAsBool(call(c, "event", lua.LString(id)))
		},
		OnHealthThreshold: func(c *Controller, pct float64) {
			call(c, "health_threshold", lua.LNumber(pct))
		},
		OnDamageTaken: func(c *Controller, source host.UnitID, amount int64) int64 {
			if n, ok := call(c, "damage_taken", str(source), lua.LNumber(amount)).(lua.LNumber); ok {
				return int64(n)
			}
			return amount
		},
		OnDeath:      func(c *Controller, killer host.UnitID) { call(c, "death", str(killer)) },
		OnEvade:      func(c *Controller) { call(c, "evade") },
		OnUnitKilled: func(c *Controller, victim host.UnitID) { call(c, "unit_killed", str(victim)) },
		OnSpellHit: func(c *Controller, caster host.UnitID, spell host.SpellID) {
			call(c, "spell_hit", str(caster), num(int(spell)))
		},
		OnMovementPointReached: func(c *Controller, point int) {
			call(c, "movement_point", num(point))
		},
		OnSummon:        func(c *Controller, u host.UnitID) { call(c, "summon", str(u)) },
		OnSummonRemoved: func(c *Controller, u host.UnitID) { call(c, "summon_removed", str(u)) },
		OnAction:        func(c *Controller, action int) { call(c, "action", num(action)) },
		OnPhaseTick: func(c *Controller, phase int, delta time.Duration) bool {
			return lua.LVAsBool(call(c, "phase_tick", num(phase), lua.LNumber(delta.Milliseconds())))
		},
		OnScript: func(c *Controller, function string) {
			if _, err := caller.CallHook(zoneID, function, lua.LString(c.Self())); err != nil {
				c.logger.Warn("script action failed", zap.String("function", function), zap.Error(err))
			}
		},
	}
}

// ScriptAPI returns the engine.encounter.* view of c.
func (c *Controller) ScriptAPI() scripting.EncounterAPI { return scriptAPI{c: c} }

type scriptAPI struct{ c *Controller }

func (s scriptAPI) Phase() int { return s.c.Phase() }
func (s scriptAPI) SetPhase(p int) { s.c.SetPhase(p) }
func (s scriptAPI) Cancel(e string) { s.c.CancelEvent(EventID(e)) }
func (s scriptAPI) CancelGroup(g string) { s.c.CancelGroup(g) }
func (s scriptAPI) CastArea(spell int) { s.c.host.CastArea(s.c.self, host.SpellID(spell)) }
func (s scriptAPI) HealthPct() float64 { return s.c.HealthPct() }
func (s scriptAPI) Say(text string) { s.c.host.Say(s.c.self, text) }
func (s scriptAPI) SetData(k string, v int64) { s.c.SetData(k, v) }
func (s scriptAPI) Data(k string) int64 { return s.c.GetData(k) }
func (s scriptAPI) DespawnSummons() { s.c.summons.DespawnAll() }

func (s scriptAPI) Schedule(e string, lo, hi time.Duration) {
	s.c.ScheduleEvent(EventID(e), lo, hi)
}

func (s scriptAPI) Cast(spell int, target string) bool {
	var targets []host.UnitID
	if mode := host.TargetMode(target); mode.Valid() {
		targets = s.c.resolveTargets(host.TargetFilter{Mode: mode})
	} else if s.c.host.Exists(host.UnitID(target)) {
		targets = []host.UnitID{host.UnitID(target)}
	}
	for _, t := range targets {
		s.c.host.CastSpell(s.c.self, t, host.SpellID(spell), false)
	}
	return len(targets) > 0
}

func (s scriptAPI) Summon(template string, x, y, z float64) (string, bool) {
	id, ok := s.c.summon(host.SummonRequest{
		Template: template,
		Position: host.Position{X: x, Y: y, Z: z},
		Policy:   host.DespawnTimedOrDead,
	})
	return string(id), ok
}

func (s scriptAPI) SummonCount(template string) int { return s.c.summons.CountEntry(template) }

func (s scriptAPI) SummonsAction(action, limit int) int {
	return s.c.summons.DoAction(action, nil, limit)
}
