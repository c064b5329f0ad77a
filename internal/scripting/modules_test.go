package scripting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/scripting"
)

// fakeEncounter records every call made through engine.encounter.*.
type fakeEncounter struct {
	phase     int
	scheduled map[string][2]time.Duration
	cancelled []string
	groups    []string
	casts     []string
	areas     []int
	said      []string
	data      map[string]int64
	despawned bool
	summoned  []string
	actions   [][2]int
}

func newFakeEncounter() *fakeEncounter {
	return &fakeEncounter{
		phase:     1,
		scheduled: make(map[string][2]time.Duration),
		data:      make(map[string]int64),
	}
}

func (f *fakeEncounter) Phase() int { return f.phase }
func (f *fakeEncounter) SetPhase(p int) { f.phase = p }
func (f *fakeEncounter) Cancel(e string) { f.cancelled = append(f.cancelled, e) }
func (f *fakeEncounter) CancelGroup(g string) { f.groups = append(f.groups, g) }
func (f *fakeEncounter) CastArea(s int) { f.areas = append(f.areas, s) }
func (f *fakeEncounter) HealthPct() float64 { return 42.5 }
func (f *fakeEncounter) Say(s string) { f.said = append(f.said, s) }
func (f *fakeEncounter) SetData(k string, v int64) { f.data[k] = v }
func (f *fakeEncounter) Data(k string) int64 { return f.data[k] }
func (f *fakeEncounter) DespawnSummons() { f.despawned = true }

func (f *fakeEncounter) Schedule(e string, lo, hi time.Duration) {
	f.scheduled[e] = [2]time.Duration{lo, hi}
}

func (f *fakeEncounter) Cast(spell int, target string) bool {
	f.casts = append(f.casts, target)
	return target != "nobody"
}

func (f *fakeEncounter) Summon(template string, _, _, _ float64) (string, bool) {
	if template == "forbidden" {
		return "", false
	}
	f.summoned = append(f.summoned, template)
	return "unit-" + template, true
}

func (f *fakeEncounter) SummonCount(string) int { return len(f.summoned) }

func (f *fakeEncounter) SummonsAction(action, limit int) int {
	f.actions = append(f.actions, [2]int{action, limit})
	return 2
}

func runScript(t *testing.T, mgr *scripting.Manager, luaSrc, hook string, args ...lua.LValue) lua.LValue {
	t.Helper()
	dir := writeTempLua(t, "test.lua", luaSrc)
	zoneID := "modtest_" + t.Name()
	require.NoError(t, mgr.LoadZone(zoneID, dir, 0))
	ret, err := mgr.CallHook(zoneID, hook, args...)
	require.NoError(t, err)
	return ret
}

func withEncounter(mgr *scripting.Manager, uid string, enc scripting.EncounterAPI) {
	mgr.Encounter = func(_, id string) (scripting.EncounterAPI, bool) {
		if id != uid {
			return nil, false
		}
		return enc, true
	}
}

func TestEngineLog_AllLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mgr := scripting.NewManager(dice.NewCryptoSource(), zap.New(core))
	defer mgr.Close()

	runScript(t, mgr, `
		function do_all_logs()
			engine.log.debug("d")
			engine.log.info("i")
			engine.log.warn("w")
			engine.log.error("e")
		end
	`, "do_all_logs")

	levels := map[string]bool{}
	for _, e := range logs.All() {
		levels[e.Level.String()] = true
	}
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		assert.True(t, levels[lvl], "expected %s log", lvl)
	}
}

func TestEngineRandom_InRange(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := writeTempLua(t, "r.lua", `function roll(lo, hi) return engine.random(lo, hi) end`)
	require.NoError(t, mgr.LoadZone("rand", dir, 0))
	rapid.Check(t, func(rt *rapid.T) {
		lo := rapid.IntRange(-100, 100).Draw(rt, "lo")
		hi := rapid.IntRange(lo, lo+100).Draw(rt, "hi")
		ret, err := mgr.CallHook("rand", "roll", lua.LNumber(lo), lua.LNumber(hi))
		if err != nil {
			rt.Fatal(err)
		}
		n := int(ret.(lua.LNumber))
		if n < lo || n > hi {
			rt.Fatalf("engine.random(%d, %d) = %d", lo, hi, n)
		}
	})
}

func TestEngineEncounter_UnknownUnitReturnsNil(t *testing.T) {
	mgr, _ := newTestManager(t)
	withEncounter(mgr, "boss-1", newFakeEncounter())
	ret := runScript(t, mgr, `function f() return engine.encounter.phase("ghost") end`, "f")
	assert.Equal(t, lua.LNil, ret)
}

func TestEngineEncounter_NoResolverReturnsNil(t *testing.T) {
	mgr, _ := newTestManager(t)
	ret := runScript(t, mgr, `function f() return engine.encounter.health_pct("boss-1") end`, "f")
	assert.Equal(t, lua.LNil, ret)
}

func TestEngineEncounter_ForwardsCalls(t *testing.T) {
	mgr, _ := newTestManager(t)
	enc := newFakeEncounter()
	withEncounter(mgr, "boss-1", enc)

	ret := runScript(t, mgr, `
		function fight(uid)
			engine.encounter.set_phase(uid, engine.encounter.phase(uid) + 1)
			engine.encounter.schedule(uid, "fireball", 1000, 2000)
			engine.encounter.schedule(uid, "stomp", 500)
			engine.encounter.cancel(uid, "old")
			engine.encounter.cancel_group(uid, "ground")
			local hit = engine.encounter.cast(uid, 133, "random")
			local miss = engine.encounter.cast(uid, 133, "nobody")
			engine.encounter.cast(uid, 10)
			engine.encounter.cast_area(uid, 99)
			local add = engine.encounter.summon(uid, "imp", 1, 2, 3)
			local none = engine.encounter.summon(uid, "forbidden")
			engine.encounter.say(uid, "burn")
			engine.encounter.set_data(uid, "orbs", 3)
			engine.encounter.despawn_summons(uid)
			local n = engine.encounter.summons_action(uid, 7, 1)
			assert(hit == true and miss == false, "cast results")
			assert(add == "unit-imp" and none == nil, "summon results")
			assert(engine.encounter.summon_count(uid) == 1, "summon count")
			assert(engine.encounter.health_pct(uid) == 42.5, "health")
			return engine.encounter.data(uid, "orbs") + n
		end
	`, "fight", lua.LString("boss-1"))

	assert.Equal(t, lua.LNumber(5), ret)
	assert.Equal(t, 2, enc.phase)
	assert.Equal(t, [2]time.Duration{time.Second, 2 * time.Second}, enc.scheduled["fireball"])
	assert.Equal(t, [2]time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, enc.scheduled["stomp"])
	assert.Equal(t, []string{"old"}, enc.cancelled)
	assert.Equal(t, []string{"ground"}, enc.groups)
	assert.Equal(t, []string{"random", "nobody", "victim"}, enc.casts)
	assert.Equal(t, []int{99}, enc.areas)
	assert.Equal(t, []string{"burn"}, enc.said)
	assert.True(t, enc.despawned)
	assert.Equal(t, [][2]int{{7, 1}}, enc.actions)
}
