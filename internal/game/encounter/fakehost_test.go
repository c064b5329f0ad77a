package encounter_test

import (
	"fmt"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// fakeHost is a scripted host that records every command as a string.
type fakeHost struct {
	victim   host.UnitID
	cur, max int64
	pos      map[host.UnitID]host.Position
	live     map[host.UnitID]string
	casting  bool
	selected []host.UnitID
	refuse   bool
	cmds     []string
	spawned  int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		victim: "tank",
		cur:    1000,
		max:    1000,
		pos: map[host.UnitID]host.Position{
			"boss": {},
			"tank": {X: 2},
		},
		live: map[host.UnitID]string{"boss": "warden", "tank": "player"},
	}
}

func (f *fakeHost) record(format string, args ...any) {
	f.cmds = append(f.cmds, fmt.Sprintf(format, args...))
}

func (f *fakeHost) count(prefix string) int {
	n := 0
	for _, c := range f.cmds {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeHost) CastSpell(caster, target host.UnitID, spell host.SpellID, triggered bool) {
	f.record("cast %d %s", spell, target)
}
func (f *fakeHost) CastArea(caster host.UnitID, spell host.SpellID) { f.record("area %d", spell) }
func (f *fakeHost) MoveTo(unit host.UnitID, point int, to host.Position, speed float64) {
	f.record("move %d", point)
}
func (f *fakeHost) StopMoving(unit host.UnitID) { f.record("stop") }

func (f *fakeHost) Summon(owner host.UnitID, req host.SummonRequest) (host.UnitID, bool) {
	if f.refuse {
		return "", false
	}
	f.spawned++
	id := host.UnitID(fmt.Sprintf("%s-%d", req.Template, f.spawned))
	f.live[id] = req.Template
	f.pos[id] = req.Position
	f.record("summon %s", req.Template)
	return id, true
}

func (f *fakeHost) Despawn(unit host.UnitID) {
	delete(f.live, unit)
	f.record("despawn %s", unit)
}
func (f *fakeHost) AttackStart(unit, target host.UnitID) { f.record("attack %s %s", unit, target) }
func (f *fakeHost) MeleeAttack(unit host.UnitID) { f.record("melee") }
func (f *fakeHost) EnterEvadeMode(unit host.UnitID) { f.record("evade") }
func (f *fakeHost) Say(unit host.UnitID, text string) { f.record("say %s", text) }
func (f *fakeHost) Dispatch(unit host.UnitID, action int) {
	f.record("dispatch %s %d", unit, action)
}

func (f *fakeHost) Victim(unit host.UnitID) (host.UnitID, bool) {
	return f.victim, f.victim != ""
}
func (f *fakeHost) Health(unit host.UnitID) (int64, int64, bool) { return f.cur, f.max, true }
func (f *fakeHost) Position(unit host.UnitID) (host.Position, bool) {
	p, ok := f.pos[unit]
	return p, ok
}
func (f *fakeHost) Exists(unit host.UnitID) bool {
	_, ok := f.live[unit]
	return ok
}
func (f *fakeHost) TemplateOf(unit host.UnitID) (string, bool) {
	t, ok := f.live[unit]
	return t, ok
}
func (f *fakeHost) IsCasting(unit host.UnitID) bool { return f.casting }
func (f *fakeHost) SelectTargets(unit host.UnitID, filter host.TargetFilter) []host.UnitID {
	return f.selected
}
