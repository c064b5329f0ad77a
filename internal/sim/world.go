// Package sim is a minimal in-memory host world for exercising encounter
// controllers end to end: units with health and threat, melee swings, spell
// damage, timed summons and movement. Every outbound command is recorded.
//
// A World is not safe for concurrent use; callers serialize access through
// the owning zone's tick lock.
package sim

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/npc"
)

// DefaultSwing is the melee interval of templates that leave it unset.
const DefaultSwing = 2 * time.Second

type move struct {
	point int
	to    host.Position
	speed float64
}

// World implements host.Host over an npc.Manager.
type World struct {
	logger    *zap.Logger
	src       dice.Source
	ids       io.Reader
	templates map[string]*npc.Template
	spells    map[host.SpellID]Spell
	units     *npc.Manager
	roster    *encounter.Roster
	home      map[host.UnitID]host.Position
	moves     map[host.UnitID]move
	log       []Command
	elapsed   time.Duration
}

var _ host.Host = (*World)(nil)

// Option configures a World.
type Option func(*World)

// WithLogger sets the world's logger.
func WithLogger(l *zap.Logger) Option { return func(w *World) { w.logger = l } }

// WithSource sets the random source used for damage rolls and target picks.
func WithSource(src dice.Source) Option { return func(w *World) { w.src = src } }

// WithSpells installs the spell table.
func WithSpells(s map[host.SpellID]Spell) Option { return func(w *World) { w.spells = s } }

// WithIDReader makes minted unit ids deterministic by drawing their bytes
// from r.
func WithIDReader(r io.Reader) Option { return func(w *World) { w.ids = r } }

// NewWorld creates an empty world spawning from templates.
//
// Postcondition: the world has no units and an empty command log.
func NewWorld(templates []*npc.Template, opts ...Option) *World {
	w := &World{
		logger:    zap.NewNop(),
		src:       dice.NewCryptoSource(),
		templates: make(map[string]*npc.Template, len(templates)),
		spells:    map[host.SpellID]Spell{},
		units:     npc.NewManager(),
		roster:    encounter.NewRoster(),
		home:      make(map[host.UnitID]host.Position),
		moves:     make(map[host.UnitID]move),
	}
	for _, t := range templates {
		w.templates[t.ID] = t
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Roster returns the controllers attached to this world.
func (w *World) Roster() *encounter.Roster { return w.roster }

// Units returns the world's unit registry.
func (w *World) Units() *npc.Manager { return w.units }

// Elapsed returns the total simulated time.
func (w *World) Elapsed() time.Duration { return w.elapsed }

// Commands returns a copy of the command log.
func (w *World) Commands() []Command { return slices.Clone(w.log) }

// ClearCommands empties the command log.
func (w *World) ClearCommands() { w.log = nil }

// Template returns the named template.
func (w *World) Template(id string) (*npc.Template, bool) {
	t, ok := w.templates[id]
	return t, ok
}

// Spawn creates a unit with a minted id.
func (w *World) Spawn(template string, kind npc.Kind, pos host.Position) (host.UnitID, error) {
	id := w.newID()
	if err := w.SpawnAs(id, template, kind, pos); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnAs creates a unit with a caller-chosen id.
//
// Postcondition: Returns an error for an unknown template or a taken id.
func (w *World) SpawnAs(id host.UnitID, template string, kind npc.Kind, pos host.Position) error {
	tmpl, ok := w.templates[template]
	if !ok {
		return fmt.Errorf("sim: unknown template %q", template)
	}
	if err := w.units.Add(npc.NewInstance(id, tmpl, kind, pos)); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	w.home[id] = pos
	return nil
}

// Attach registers c to receive this world's notifications for its unit.
func (w *World) Attach(c *encounter.Controller) { w.roster.Add(c) }

// Engage points attacker at target. The first blow pulls an idle boss.
func (w *World) Engage(attacker, target host.UnitID) {
	if u, ok := w.alive(attacker); ok {
		u.Victim = target
	}
}

// Tick advances the world by delta: cast and swing timers, movement, auto
// attacks of uncontrolled units, every attached controller, then summon
// expiry.
func (w *World) Tick(delta time.Duration) {
	delta = max(delta, 0)
	w.elapsed += delta
	for _, u := range w.units.All() {
		u.Casting = max(u.Casting-delta, 0)
		u.Swing += delta
	}
	w.advanceMoves(delta)
	for _, u := range w.units.All() {
		if _, controlled := w.roster.Get(u.ID); controlled || u.IsDead() || u.Victim == "" {
			continue
		}
		w.swing(u)
	}
	w.roster.Tick(delta)
	w.expire(delta)
}

// Damage applies amount from source to target as if by a spell or blow.
func (w *World) Damage(source, target host.UnitID, amount int64) {
	w.damage(source, target, amount)
}

func (w *World) newID() host.UnitID {
	if w.ids != nil {
		if u, err := uuid.NewRandomFromReader(w.ids); err == nil {
			return host.UnitID(u.String())
		}
	}
	return host.UnitID(uuid.NewString())
}

func (w *World) record(unit host.UnitID, verb string, args ...string) {
	cmd := Command{At: w.elapsed, Unit: unit, Verb: verb, Args: args}
	w.log = append(w.log, cmd)
	w.logger.Debug("host command", zap.String("unit", string(unit)), zap.String("verb", verb), zap.Strings("args", args))
}

func (w *World) alive(id host.UnitID) (*npc.Instance, bool) {
	u, ok := w.units.Get(id)
	if !ok || u.IsDead() {
		return nil, false
	}
	return u, true
}

func (w *World) swing(u *npc.Instance) {
	interval := u.Melee.Interval
	if interval <= 0 {
		interval = DefaultSwing
	}
	if u.Swing < interval || u.Casting > 0 {
		return
	}
	if _, ok := w.alive(u.Victim); !ok {
		return
	}
	u.Swing = 0
	amount := int64(dice.Between(w.src, int(u.Melee.Min), int(u.Melee.Max)))
	w.damage(u.ID, u.Victim, amount)
}

func (w *World) damage(source, target host.UnitID, amount int64) {
	t, ok := w.alive(target)
	if !ok || amount <= 0 {
		return
	}
	if c, ok := w.roster.Get(target); ok {
		if c.State() == encounter.Idle {
			t.AddThreat(source, 1)
			t.Victim = source
			c.OnCombatStart(source)
		}
		amount = c.OnDamageTaken(source, amount)
	}
	t.AddThreat(source, amount)
	if t.Damage(amount) {
		w.kill(t, source)
	}
}

func (w *World) kill(t *npc.Instance, killer host.UnitID) {
	w.logger.Info("unit died", zap.String("unit", string(t.ID)), zap.String("killer", string(killer)))
	delete(w.moves, t.ID)
	for _, other := range w.units.All() {
		other.DropThreat(t.ID)
		if other.Victim == t.ID {
			other.Victim = w.nextVictim(other)
		}
	}
	if c, ok := w.roster.Get(t.ID); ok {
		c.OnDeath(killer)
	}
	if c, ok := w.roster.Get(killer); ok {
		c.OnUnitKilled(t.ID)
	}
	if t.Kind != npc.KindSummon {
		return
	}
	if c, ok := w.roster.Get(t.Owner); ok {
		c.OnSummonedUnitRemoved(t.ID)
	}
	switch t.Policy {
	case host.DespawnCorpse:
		t.Remaining = t.Duration
	case host.DespawnTimed, host.DespawnManual:
	default:
		w.remove(t.ID)
	}
}

// nextVictim picks u's highest-threat living unit.
func (w *World) nextVictim(u *npc.Instance) host.UnitID {
	for _, id := range u.ThreatOrder() {
		if _, ok := w.alive(id); ok {
			return id
		}
	}
	return ""
}

func (w *World) remove(id host.UnitID) {
	if _, err := w.units.Remove(id); err != nil {
		return
	}
	delete(w.home, id)
	delete(w.moves, id)
}

func (w *World) advanceMoves(delta time.Duration) {
	ids := make([]host.UnitID, 0, len(w.moves))
	for id := range w.moves {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m := w.moves[id]
		u, ok := w.alive(id)
		if !ok {
			delete(w.moves, id)
			continue
		}
		dist := u.Position.Distance(m.to)
		step := m.speed * delta.Seconds()
		if m.speed > 0 && dist > step {
			f := step / dist
			u.Position = host.Position{
				X: u.Position.X + (m.to.X-u.Position.X)*f,
				Y: u.Position.Y + (m.to.Y-u.Position.Y)*f,
				Z: u.Position.Z + (m.to.Z-u.Position.Z)*f,
			}
			continue
		}
		u.Position = m.to
		delete(w.moves, id)
		if c, ok := w.roster.Get(id); ok {
			c.OnMovementPointReached(m.point)
		}
	}
}

func (w *World) expire(delta time.Duration) {
	for _, u := range w.units.All() {
		if u.Kind != npc.KindSummon {
			continue
		}
		switch {
		case !u.IsDead() && u.Duration > 0 && (u.Policy == host.DespawnTimed || u.Policy == host.DespawnTimedOrDead):
			u.Remaining -= delta
			if u.Remaining > 0 {
				continue
			}
			w.remove(u.ID)
			if c, ok := w.roster.Get(u.Owner); ok {
				c.OnSummonedUnitRemoved(u.ID)
			}
		case u.IsDead() && (u.Policy == host.DespawnCorpse || u.Policy == host.DespawnTimed):
			u.Remaining -= delta
			if u.Remaining <= 0 {
				w.remove(u.ID)
			}
		}
	}
}

// CastSpell implements host.Commands.
func (w *World) CastSpell(caster, target host.UnitID, spell host.SpellID, triggered bool) {
	c, ok := w.alive(caster)
	if !ok {
		return
	}
	w.record(caster, "cast", strconv.Itoa(int(spell)), string(target))
	s, known := w.spells[spell]
	if known && !triggered {
		c.Casting = s.CastTime
	}
	t, ok := w.alive(target)
	if !ok {
		return
	}
	if known && s.Aura {
		t.Auras[spell] = true
	}
	if tc, ok := w.roster.Get(target); ok {
		tc.OnSpellHit(caster, spell)
	}
	if known && s.Max > 0 {
		w.damage(caster, target, int64(dice.Between(w.src, int(s.Min), int(s.Max))))
	}
}

// CastArea implements host.Commands. Area spells hit every hostile unit.
func (w *World) CastArea(caster host.UnitID, spell host.SpellID) {
	c, ok := w.alive(caster)
	if !ok {
		return
	}
	w.record(caster, "cast_area", strconv.Itoa(int(spell)))
	s, known := w.spells[spell]
	if !known {
		return
	}
	c.Casting = s.CastTime
	for _, t := range w.hostiles(c, false) {
		if s.Aura {
			t.Auras[spell] = true
		}
		if s.Max > 0 {
			w.damage(caster, t.ID, int64(dice.Between(w.src, int(s.Min), int(s.Max))))
		}
	}
}

// MoveTo implements host.Commands. A non-positive speed arrives on the next
// tick.
func (w *World) MoveTo(unit host.UnitID, point int, to host.Position, speed float64) {
	if _, ok := w.alive(unit); !ok {
		return
	}
	w.record(unit, "move", strconv.Itoa(point))
	w.moves[unit] = move{point: point, to: to, speed: speed}
}

// StopMoving implements host.Commands.
func (w *World) StopMoving(unit host.UnitID) {
	if _, ok := w.alive(unit); !ok {
		return
	}
	w.record(unit, "stop")
	delete(w.moves, unit)
}

// Summon implements host.Commands.
func (w *World) Summon(owner host.UnitID, req host.SummonRequest) (host.UnitID, bool) {
	if _, ok := w.alive(owner); !ok {
		return "", false
	}
	tmpl, ok := w.templates[req.Template]
	if !ok {
		w.logger.Warn("summon of unknown template refused", zap.String("template", req.Template))
		return "", false
	}
	id := w.newID()
	inst := npc.NewInstance(id, tmpl, npc.KindSummon, req.Position)
	inst.Owner = owner
	inst.Policy = req.Policy
	inst.Duration = req.Duration
	inst.Remaining = req.Duration
	if err := w.units.Add(inst); err != nil {
		return "", false
	}
	w.home[id] = req.Position
	w.record(owner, "summon", req.Template, string(id))
	if c, ok := w.roster.Get(owner); ok {
		c.OnSummonedUnitCreated(id)
	}
	return id, true
}

// Despawn implements host.Commands.
func (w *World) Despawn(unit host.UnitID) {
	if _, ok := w.units.Get(unit); !ok {
		return
	}
	w.record(unit, "despawn")
	w.remove(unit)
}

// AttackStart implements host.Commands.
func (w *World) AttackStart(unit, target host.UnitID) {
	u, ok := w.alive(unit)
	if !ok {
		return
	}
	w.record(unit, "attack", string(target))
	u.Victim = target
	u.AddThreat(target, 0)
}

// MeleeAttack implements host.Commands. The swing lands only when the
// unit's swing timer is ready.
func (w *World) MeleeAttack(unit host.UnitID) {
	u, ok := w.alive(unit)
	if !ok {
		return
	}
	w.record(unit, "melee")
	w.swing(u)
}

// EnterEvadeMode implements host.Commands: the unit heals, forgets its
// threat and returns home, and every unit attacking it disengages.
func (w *World) EnterEvadeMode(unit host.UnitID) {
	u, ok := w.alive(unit)
	if !ok {
		return
	}
	w.record(unit, "evade")
	u.CurrentHP = u.MaxHP
	u.Victim = ""
	u.Casting = 0
	u.ClearThreat()
	u.Position = w.home[unit]
	delete(w.moves, unit)
	for _, other := range w.units.All() {
		if other.Victim == unit {
			other.Victim = ""
		}
	}
}

// Say implements host.Commands.
func (w *World) Say(unit host.UnitID, text string) {
	if _, ok := w.alive(unit); !ok {
		return
	}
	w.record(unit, "say", text)
}

// Dispatch implements host.Commands, forwarding to the unit's controller
// when one is attached.
func (w *World) Dispatch(unit host.UnitID, action int) {
	if _, ok := w.alive(unit); !ok {
		return
	}
	w.record(unit, "dispatch", strconv.Itoa(action))
	if c, ok := w.roster.Get(unit); ok {
		c.OnAction(action)
	}
}

// Victim implements host.Queries.
func (w *World) Victim(unit host.UnitID) (host.UnitID, bool) {
	u, ok := w.alive(unit)
	if !ok || u.Victim == "" {
		return "", false
	}
	if _, ok := w.alive(u.Victim); !ok {
		return "", false
	}
	return u.Victim, true
}

// Health implements host.Queries.
func (w *World) Health(unit host.UnitID) (int64, int64, bool) {
	u, ok := w.units.Get(unit)
	if !ok {
		return 0, 0, false
	}
	return u.CurrentHP, u.MaxHP, true
}

// Position implements host.Queries.
func (w *World) Position(unit host.UnitID) (host.Position, bool) {
	u, ok := w.units.Get(unit)
	if !ok {
		return host.Position{}, false
	}
	return u.Position, true
}

// Exists implements host.Queries. Dead units do not exist.
func (w *World) Exists(unit host.UnitID) bool {
	_, ok := w.alive(unit)
	return ok
}

// TemplateOf implements host.Queries.
func (w *World) TemplateOf(unit host.UnitID) (string, bool) {
	u, ok := w.units.Get(unit)
	if !ok {
		return "", false
	}
	return u.TemplateID, true
}

// IsCasting implements host.Queries.
func (w *World) IsCasting(unit host.UnitID) bool {
	u, ok := w.alive(unit)
	return ok && u.Casting > 0
}

// SelectTargets implements host.Queries over the units hostile to unit.
func (w *World) SelectTargets(unit host.UnitID, f host.TargetFilter) []host.UnitID {
	u, ok := w.alive(unit)
	if !ok {
		return nil
	}
	if f.Mode == host.TargetSelf {
		return []host.UnitID{unit}
	}
	cands := w.hostiles(u, f.PlayersOnly)
	cands = slices.DeleteFunc(cands, func(t *npc.Instance) bool {
		if f.Range > 0 && u.Position.Distance(t.Position) > f.Range {
			return true
		}
		if f.ExcludeVictim && t.ID == u.Victim {
			return true
		}
		return f.Mode == host.TargetWithAura && !t.Auras[f.Aura]
	})

	switch f.Mode {
	case host.TargetVictim:
		cands = slices.DeleteFunc(cands, func(t *npc.Instance) bool { return t.ID != u.Victim })
	case host.TargetRandom, host.TargetWithAura:
		dice.Shuffle(w.src, len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	case host.TargetNearest, host.TargetFarthest:
		slices.SortStableFunc(cands, func(a, b *npc.Instance) int {
			c := cmp.Compare(u.Position.Distance(a.Position), u.Position.Distance(b.Position))
			if f.Mode == host.TargetFarthest {
				return -c
			}
			return c
		})
	case host.TargetLowestHealth:
		slices.SortStableFunc(cands, func(a, b *npc.Instance) int { return cmp.Compare(a.HealthPct(), b.HealthPct()) })
	case host.TargetTopThreat:
		slices.SortStableFunc(cands, func(a, b *npc.Instance) int { return cmp.Compare(u.Threat(b.ID), u.Threat(a.ID)) })
	}

	out := make([]host.UnitID, 0, min(len(cands), f.Limit()))
	for _, t := range cands {
		if len(out) == f.Limit() {
			break
		}
		out = append(out, t.ID)
	}
	return out
}

// hostiles lists living units on the other side from u, ordered by id.
// Players and their summons oppose everything else.
func (w *World) hostiles(u *npc.Instance, playersOnly bool) []*npc.Instance {
	side := w.playerSide(u)
	var out []*npc.Instance
	for _, t := range w.units.All() {
		if t.IsDead() || t.ID == u.ID || w.playerSide(t) == side {
			continue
		}
		if playersOnly && t.Kind != npc.KindPlayer {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (w *World) playerSide(u *npc.Instance) bool {
	if u.Kind == npc.KindPlayer {
		return true
	}
	if u.Owner == "" {
		return false
	}
	owner, ok := w.units.Get(u.Owner)
	return ok && owner.Kind == npc.KindPlayer
}
