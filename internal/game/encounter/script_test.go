package encounter_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/scripting"
)

const wardenLua = `
function warden_on_phase_enter(uid, phase)
	engine.encounter.set_data(uid, "entered", phase)
end

function warden_on_event(uid, id)
	if id == "cleave" then
		engine.encounter.cast(uid, 321, "victim")
		return true
	end
	return false
end

function warden_on_damage_taken(uid, source, amount)
	if source == "immune" then
		return 0
	end
	return amount
end

function warden_on_phase_tick(uid, phase, delta)
	return engine.encounter.data(uid, "no_melee") == 1
end

function warden_summon_guard(uid)
	engine.encounter.summon(uid, "guard", 1, 2, 3)
end
`

func newScripted(t *testing.T, def *encounter.Definition) (*encounter.Controller, *fakeHost) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warden.lua"), []byte(wardenLua), 0644))
	mgr := scripting.NewManager(dice.NewSeededSource(1), zap.NewNop())
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.LoadZone("ruins", dir, 0))

	fh := newFakeHost()
	c := encounter.New(def, "boss", fh,
		encounter.WithHooks(encounter.ScriptHooks(mgr, "ruins", "warden")),
		encounter.WithSource(dice.NewSeededSource(2)),
	)
	mgr.Encounter = func(zoneID, uid string) (scripting.EncounterAPI, bool) {
		if zoneID != "ruins" || uid != string(c.Self()) {
			return nil, false
		}
		return c.ScriptAPI(), true
	}
	return c, fh
}

func TestScriptHooks_DriveController(t *testing.T) {
	c, fh := newScripted(t, wardenDef())
	c.OnCombatStart("tank")
	assert.Equal(t, int64(1), c.GetData("entered"))

	c.OnTick(2 * time.Second)
	assert.Equal(t, 1, fh.count("cast 321 tank"))
	assert.Zero(t, fh.count("cast 100"), "Lua handled the event")
	assert.True(t, c.Events().Pending("cleave"), "handled events still repeat")
	assert.Equal(t, 1, fh.count("melee"))

	c.SetData("no_melee", 1)
	c.OnTick(100 * time.Millisecond)
	assert.Equal(t, 1, fh.count("melee"), "phase tick hook replaced the melee loop")
}

func TestScriptHooks_DamageAdjust(t *testing.T) {
	c, _ := newScripted(t, wardenDef())
	c.OnCombatStart("tank")
	assert.Equal(t, int64(0), c.OnDamageTaken("immune", 100))
	assert.Equal(t, int64(100), c.OnDamageTaken("tank", 100))
}

func TestScriptAction_CallsNamedFunction(t *testing.T) {
	def := wardenDef()
	def.Reactions = map[int][]encounter.Action{1: {{Kind: encounter.ActionScript, Function: "warden_summon_guard"}}}
	c, fh := newScripted(t, def)
	c.OnCombatStart("tank")
	c.OnAction(1)
	require.Equal(t, 1, c.Summons().Len())
	assert.Equal(t, host.Position{X: 1, Y: 2, Z: 3}, fh.pos[c.Summons().Units()[0]])
}

func TestScriptAPI_ScheduleAndCast(t *testing.T) {
	c, fh := newScripted(t, wardenDef())
	c.OnCombatStart("tank")
	api := c.ScriptAPI()

	api.Schedule("custom", 0, 0)
	c.OnTick(0)
	assert.False(t, c.Events().Pending("custom"), "undeclared events fire once without repeat")

	assert.True(t, api.Cast(5, "tank"))
	assert.False(t, api.Cast(5, "ghost"))
	assert.True(t, api.Cast(6, "self"))
	assert.Equal(t, 1, fh.count("cast 6 boss"))

	api.SetPhase(2)
	assert.Equal(t, 2, api.Phase())
	assert.InDelta(t, 100.0, api.HealthPct(), 1e-9)

	_, ok := api.Summon("imp", 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 1, api.SummonCount("imp"))
	assert.Equal(t, 1, api.SummonsAction(3, 0))
	api.DespawnSummons()
	assert.Zero(t, api.SummonCount(""))
}

func TestScriptHooks_LuaErrorsAreLoggedAndDefaultsKept(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.lua"), []byte(`
function broken_on_damage_taken(uid, source, amount)
	error("bad damage hook")
end

function broken_reaction(uid)
	error("bad reaction")
end
`), 0644))
	mgr := scripting.NewManager(dice.NewSeededSource(1), zap.NewNop())
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.LoadZone("ruins", dir, 0))

	def := wardenDef()
	def.Reactions = map[int][]encounter.Action{1: {{Kind: encounter.ActionScript, Function: "broken_reaction"}}}
	core, logs := observer.New(zapcore.WarnLevel)
	c := encounter.New(def, "boss", newFakeHost(),
		encounter.WithHooks(encounter.ScriptHooks(mgr, "ruins", "broken")),
		encounter.WithSource(dice.NewSeededSource(2)),
		encounter.WithLogger(zap.New(core)),
	)
	c.OnCombatStart("tank")

	assert.Equal(t, int64(40), c.OnDamageTaken("tank", 40), "a failing hook leaves the damage untouched")
	require.Equal(t, 1, logs.FilterMessage("script hook failed").Len())
	assert.Contains(t, logs.FilterMessage("script hook failed").All()[0].ContextMap()["error"], "bad damage hook")

	c.OnAction(1)
	assert.Equal(t, 1, logs.FilterMessage("script action failed").Len())
}
