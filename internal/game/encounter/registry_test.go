package encounter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
)

func TestRegistry_RegisterAndNew(t *testing.T) {
	r := encounter.NewRegistry()
	started := 0
	hooks := encounter.Hooks{OnCombatStart: func(*encounter.Controller, host.UnitID) { started++ }}
	require.NoError(t, r.Register(wardenDef(), hooks))
	assert.Error(t, r.Register(wardenDef(), hooks), "duplicate id")

	def, ok := r.Definition("warden")
	require.True(t, ok)
	assert.Equal(t, "warden", def.ID)
	assert.Equal(t, []string{"warden"}, r.IDs())

	c, err := r.New("warden", "boss", newFakeHost())
	require.NoError(t, err)
	c.OnCombatStart("tank")
	assert.Equal(t, 1, started)

	_, err = r.New("ghost", "boss", newFakeHost())
	assert.ErrorIs(t, err, encounter.ErrUnknownDefinition)
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := encounter.NewRegistry()
	bad := wardenDef()
	bad.ID = ""
	assert.Error(t, r.Register(bad, encounter.Hooks{}))
	assert.Error(t, r.Replace(bad, encounter.Hooks{}))
}

func TestRegistry_ReplaceOverwrites(t *testing.T) {
	r := encounter.NewRegistry()
	require.NoError(t, r.Register(wardenDef(), encounter.Hooks{}))
	next := wardenDef()
	next.Name = "Warden v2"
	require.NoError(t, r.Replace(next, encounter.Hooks{}))
	def, _ := r.Definition("warden")
	assert.Equal(t, "Warden v2", def.Name)
}

func TestRoster_TickOrderAndLookup(t *testing.T) {
	ros := encounter.NewRoster()
	fh := newFakeHost()
	a := encounter.New(wardenDef(), "b", fh)
	b := encounter.New(wardenDef(), "a", fh)
	ros.Add(a)
	ros.Add(b)
	assert.Equal(t, 2, ros.Len())
	got, ok := ros.Get("a")
	require.True(t, ok)
	assert.Same(t, b, got)

	ctrls := ros.Controllers()
	assert.Equal(t, "a", string(ctrls[0].Self()))

	a.OnCombatStart("tank")
	ros.Tick(0)
	assert.Equal(t, 1, fh.count("melee"))

	ros.Remove("a")
	_, ok = ros.Get("a")
	assert.False(t, ok)
}
