package scripting

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/dice"
)

// EncounterAPI is the surface of a live encounter controller exposed to Lua
// as engine.encounter.*. Durations cross the boundary as milliseconds.
type EncounterAPI interface {
	Phase() int
	SetPhase(phase int)
	Schedule(event string, lo, hi time.Duration)
	Cancel(event string)
	CancelGroup(group string)
	// Cast casts spell at the unit chosen by target: a target mode name
	// ("victim", "random", ...) or a literal unit id. Reports whether a
	// target was found.
	Cast(spell int, target string) bool
	CastArea(spell int)
	Summon(template string, x, y, z float64) (string, bool)
	SummonCount(template string) int
	HealthPct() float64
	Say(text string)
	SetData(key string, value int64)
	Data(key string) int64
	DespawnSummons()
	SummonsAction(action, limit int) int
}

// RegisterModules registers all engine.* Lua tables into L, the VM of zoneID.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L with log, random and
// encounter members; engine.encounter.* only reaches units of zoneID.
func (m *Manager) RegisterModules(L *lua.LState, zoneID string) {
	engine := L.NewTable()
	L.SetGlobal("engine", engine)
	L.SetField(engine, "log", m.newLogModule(L))
	L.SetField(engine, "random", L.NewFunction(m.luaRandom))
	L.SetField(engine, "encounter", m.newEncounterModule(L, zoneID))
}

func (m *Manager) newLogModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	levels := map[string]func(string, ...zap.Field){
		"debug": m.logger.Debug,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
	}
	for name, logf := range levels {
		L.SetField(mod, name, L.NewFunction(func(L *lua.LState) int {
			logf(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	return mod
}

// luaRandom implements engine.random(min, max): a uniform int in [min, max].
func (m *Manager) luaRandom(L *lua.LState) int {
	lo := L.CheckInt(1)
	hi := L.OptInt(2, lo)
	L.Push(lua.LNumber(dice.Between(m.src, lo, hi)))
	return 1
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// encounterFn adapts fn into an engine.encounter.* function taking the
// encounter unit id as its first argument. Units unknown to zoneID push nil.
func (m *Manager) encounterFn(zoneID string, fn func(L *lua.LState, enc EncounterAPI) int) lua.LGFunction {
	return func(L *lua.LState) int {
		uid := L.CheckString(1)
		if m.Encounter == nil {
			L.Push(lua.LNil)
			return 1
		}
		enc, ok := m.Encounter(zoneID, uid)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		return fn(L, enc)
	}
}

func (m *Manager) newEncounterModule(L *lua.LState, zoneID string) *lua.LTable {
	fns := map[string]func(*lua.LState, EncounterAPI) int{
		"phase": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LNumber(enc.Phase()))
			return 1
		},
		"set_phase": func(L *lua.LState, enc EncounterAPI) int {
			enc.SetPhase(L.CheckInt(2))
			return 0
		},
		"schedule": func(L *lua.LState, enc EncounterAPI) int {
			lo := L.CheckInt(3)
			enc.Schedule(L.CheckString(2), millis(lo), millis(L.OptInt(4, lo)))
			return 0
		},
		"cancel": func(L *lua.LState, enc EncounterAPI) int {
			enc.Cancel(L.CheckString(2))
			return 0
		},
		"cancel_group": func(L *lua.LState, enc EncounterAPI) int {
			enc.CancelGroup(L.CheckString(2))
			return 0
		},
		"cast": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LBool(enc.Cast(L.CheckInt(2), L.OptString(3, "victim"))))
			return 1
		},
		"cast_area": func(L *lua.LState, enc EncounterAPI) int {
			enc.CastArea(L.CheckInt(2))
			return 0
		},
		"summon": func(L *lua.LState, enc EncounterAPI) int {
			id, ok := enc.Summon(L.CheckString(2),
				float64(L.OptNumber(3, 0)), float64(L.OptNumber(4, 0)), float64(L.OptNumber(5, 0)))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(id))
			return 1
		},
		"summon_count": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LNumber(enc.SummonCount(L.OptString(2, ""))))
			return 1
		},
		"health_pct": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LNumber(enc.HealthPct()))
			return 1
		},
		"say": func(L *lua.LState, enc EncounterAPI) int {
			enc.Say(L.CheckString(2))
			return 0
		},
		"set_data": func(L *lua.LState, enc EncounterAPI) int {
			enc.SetData(L.CheckString(2), L.CheckInt64(3))
			return 0
		},
		"data": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LNumber(enc.Data(L.CheckString(2))))
			return 1
		},
		"despawn_summons": func(L *lua.LState, enc EncounterAPI) int {
			enc.DespawnSummons()
			return 0
		},
		"summons_action": func(L *lua.LState, enc EncounterAPI) int {
			L.Push(lua.LNumber(enc.SummonsAction(L.CheckInt(2), L.OptInt(3, 0))))
			return 1
		},
	}
	mod := L.NewTable()
	for name, fn := range fns {
		L.SetField(mod, name, L.NewFunction(m.encounterFn(zoneID, fn)))
	}
	return mod
}
