package encounter

import (
	"maps"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/event"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/game/summon"
)

// State is the controller's coarse combat state.
type State int

const (
	Idle State = iota
	Combat
	Dead
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Combat:
		return "combat"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// BossStateStore receives encounter progress. *instance.Instance satisfies it.
type BossStateStore interface {
	SetBossState(boss string, state instance.BossState) bool
}

// internalEvent ids run on the controller's private scheduler.
type internalEvent int

const sweepSummons internalEvent = 1

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the parent logger.
func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithSource sets the randomness source shared by the scheduler and summons.
func WithSource(src dice.Source) Option { return func(c *Controller) { c.src = src } }

// WithDifficulty selects per-difficulty event timings.
func WithDifficulty(d string) Option { return func(c *Controller) { c.difficulty = d } }

// WithInstance sets the store encounter progress is reported to.
func WithInstance(s BossStateStore) Option { return func(c *Controller) { c.store = s } }

// WithHooks replaces the controller's hooks.
func WithHooks(h Hooks) Option { return func(c *Controller) { c.hooks = h } }

// Controller is the state machine of one boss creature.
//
// Controller is not safe for concurrent use. Every inbound call for one
// controller must come from the same tick path.
type Controller struct {
	def        *Definition
	hooks      Hooks
	self       host.UnitID
	host       host.Host
	logger     *zap.Logger
	src        dice.Source
	difficulty string
	store      BossStateStore

	events   *event.Map[EventID]
	internal *event.Map[internalEvent]
	summons  *summon.List

	state    State
	phase    int
	latched  []bool
	data     map[string]int64
	anchor   host.Position
	noTarget time.Duration

	groups  map[string]event.Group
	index   map[EventID]*EventDef
	phaseOf map[EventID]int

	firing          EventID
	firingCancelled bool
}

// New returns an Idle controller for unit self driven by def.
//
// Precondition: def must have passed Validate; h must not be nil.
func New(def *Definition, self host.UnitID, h host.Host, opts ...Option) *Controller {
	if def == nil {
		panic("encounter.New: definition must not be nil")
	}
	if h == nil {
		panic("encounter.New: host must not be nil")
	}
	c := &Controller{
		def:     def,
		self:    self,
		host:    h,
		logger:  zap.NewNop(),
		data:    make(map[string]int64),
		latched: make([]bool, len(def.Thresholds)),
		groups:  make(map[string]event.Group),
		index:   make(map[EventID]*EventDef),
		phaseOf: make(map[EventID]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.src == nil {
		c.src = dice.NewCryptoSource()
	}
	c.logger = c.logger.Named("encounter").With(
		zap.String("encounter", def.ID),
		zap.String("unit", string(self)),
	)
	c.events = event.New[EventID](c.src)
	c.internal = event.New[internalEvent](c.src)
	c.summons = summon.NewList(h, c.src)

	for i := range def.Events {
		c.index[def.Events[i].ID] = &def.Events[i]
	}
	for p := range def.Phases {
		ph := &def.Phases[p]
		for i := range ph.Events {
			c.index[ph.Events[i].ID] = &ph.Events[i]
			c.phaseOf[ph.Events[i].ID] = ph.ID
		}
	}
	return c
}

// Self returns the controlled unit.
func (c *Controller) Self() host.UnitID { return c.self }

// Host returns the host the controller commands.
func (c *Controller) Host() host.Host { return c.host }

// Definition returns the controller's definition.
func (c *Controller) Definition() *Definition { return c.def }

// State returns the current combat state.
func (c *Controller) State() State { return c.state }

// Phase returns the current phase, zero outside combat.
func (c *Controller) Phase() int { return c.phase }

// Difficulty returns the difficulty the controller was built for.
func (c *Controller) Difficulty() string { return c.difficulty }

// Events exposes the encounter scheduler to hooks.
func (c *Controller) Events() *event.Map[EventID] { return c.events }

// Summons exposes the summon list to hooks.
func (c *Controller) Summons() *summon.List { return c.summons }

// Logger returns the controller's logger.
func (c *Controller) Logger() *zap.Logger { return c.logger }

// OnCombatStart moves an Idle controller into combat against target.
//
// Postcondition: the scheduler holds the combat-wide events and the initial
// phase's events; a controller already in combat or dead is unchanged.
func (c *Controller) OnCombatStart(target host.UnitID) {
	if c.state != Idle {
		return
	}
	c.events.Reset()
	c.internal.Reset()
	clear(c.latched)
	c.noTarget = 0
	c.phase = 0
	if pos, ok := c.host.Position(c.self); ok {
		c.anchor = pos
	}
	c.state = Combat
	if target != "" {
		c.host.AttackStart(c.self, target)
	}
	c.reportState(instance.InProgress)
	c.logger.Info("combat started", zap.String("target", string(target)))

	for i := range c.def.Events {
		c.scheduleDef(&c.def.Events[i], 0)
	}
	if c.def.SummonSweep > 0 {
		c.internal.ScheduleEvent(sweepSummons, c.def.SummonSweep)
	}
	if c.hooks.OnCombatStart != nil {
		c.hooks.OnCombatStart(c, target)
	}
	if c.state == Combat {
		c.enterPhase(c.def.InitialPhase)
	}
}

// OnTick advances the encounter by delta.
//
// With no live victim the tick is skipped and scheduled events are kept;
// after EvadeAfter without a victim, or once the boss leaves EvadeRadius of
// where combat started, the controller evades.
func (c *Controller) OnTick(delta time.Duration) {
	if c.state != Combat {
		return
	}
	delta = max(delta, 0)

	victim, ok := c.host.Victim(c.self)
	if !ok || !c.host.Exists(victim) {
		c.noTarget += delta
		if c.def.EvadeAfter > 0 && c.noTarget >= c.def.EvadeAfter {
			c.logger.Info("evading: no target", zap.Duration("after", c.noTarget))
			c.Evade()
		}
		return
	}
	c.noTarget = 0

	if c.def.EvadeRadius > 0 {
		if pos, ok := c.host.Position(c.self); ok && pos.Distance(c.anchor) > c.def.EvadeRadius {
			c.logger.Info("evading: left combat area", zap.Float64("distance", pos.Distance(c.anchor)))
			c.Evade()
			return
		}
	}

	if cur, mx, ok := c.host.Health(c.self); ok {
		c.checkThresholds(cur, mx)
	}

	c.internal.Update(delta)
	for {
		id, ok := c.internal.ExecuteEvent()
		if !ok {
			break
		}
		if id == sweepSummons {
			if n := c.summons.RemoveNotExisting(); n > 0 {
				c.logger.Debug("pruned stale summons", zap.Int("count", n))
			}
			c.internal.Repeat(c.def.SummonSweep)
		}
	}

	c.events.Update(delta)
	if !c.host.IsCasting(c.self) {
		for c.state == Combat {
			id, ok := c.events.ExecuteEvent()
			if !ok {
				break
			}
			c.fire(id)
			if c.host.IsCasting(c.self) {
				break
			}
		}
	}
	if c.state != Combat {
		return
	}

	if c.hooks.OnPhaseTick != nil && c.hooks.OnPhaseTick(c, c.phase, delta) {
		return
	}
	if c.loop() == LoopMelee && !c.host.IsCasting(c.self) {
		c.host.MeleeAttack(c.self)
	}
}

func (c *Controller) loop() string {
	if ph, ok := c.def.PhaseByID(c.phase); ok && ph.Loop != "" {
		return ph.Loop
	}
	return LoopMelee
}

func (c *Controller) fire(id EventID) {
	c.logger.Debug("event fired", zap.String("event", string(id)), zap.Int("phase", c.phase))
	c.firing, c.firingCancelled = id, false
	defer func() { c.firing = "" }()

	handled := c.hooks.OnEventFire != nil && c.hooks.OnEventFire(c, id)
	def := c.index[id]
	if def == nil {
		return
	}
	if !handled {
		c.run(def.Actions)
	}
	if c.state != Combat || c.firingCancelled {
		return
	}
	if p := c.phaseOf[id]; p != 0 && p != c.phase {
		return
	}
	if _, rep := def.timing(c.difficulty); rep != nil {
		lo, hi := rep.Bounds()
		c.events.RepeatBetween(lo, hi)
	}
}

// checkThresholds latches and runs every threshold strictly above the
// current health share. Each threshold fires at most once per combat.
func (c *Controller) checkThresholds(cur, mx int64) {
	if mx <= 0 {
		return
	}
	pct := 100 * float64(cur) / float64(mx)
	for i := range c.def.Thresholds {
		if c.state != Combat {
			return
		}
		th := &c.def.Thresholds[i]
		if c.latched[i] || pct >= th.BelowPct {
			continue
		}
		c.latched[i] = true
		c.logger.Info("health threshold crossed",
			zap.Float64("below_pct", th.BelowPct),
			zap.Float64("health_pct", pct),
		)
		if th.Phase != 0 {
			c.SetPhase(th.Phase)
		}
		c.run(th.Actions)
		if c.hooks.OnHealthThreshold != nil {
			c.hooks.OnHealthThreshold(c, th.BelowPct)
		}
	}
}

// Latched reports whether threshold i has fired this combat.
func (c *Controller) Latched(i int) bool {
	return i >= 0 && i < len(c.latched) && c.latched[i]
}

// OnDamageTaken returns the damage the boss actually takes from amount.
//
// Hooks may adjust it first; the active phase's health floor then caps it.
// Thresholds are evaluated against the projected health.
func (c *Controller) OnDamageTaken(source host.UnitID, amount int64) int64 {
	amount = max(amount, 0)
	if c.state != Combat {
		return amount
	}
	if c.hooks.OnDamageTaken != nil {
		amount = max(c.hooks.OnDamageTaken(c, source, amount), 0)
	}
	cur, mx, ok := c.host.Health(c.self)
	if !ok || mx <= 0 {
		return amount
	}
	if ph, ok := c.def.PhaseByID(c.phase); ok && ph.MinHealthPct > 0 {
		floor := int64(math.Ceil(float64(mx) * ph.MinHealthPct / 100))
		if cur-amount < floor {
			amount = max(cur-floor, 0)
		}
	}
	c.checkThresholds(cur-amount, mx)
	return amount
}

// OnUnitKilled notifies the controller that its boss killed victim.
func (c *Controller) OnUnitKilled(victim host.UnitID) {
	if c.hooks.OnUnitKilled != nil {
		c.hooks.OnUnitKilled(c, victim)
	}
}

// OnDeath moves the controller to Dead and reports the encounter done.
func (c *Controller) OnDeath(killer host.UnitID) {
	if c.state == Dead {
		return
	}
	c.state = Dead
	c.events.Reset()
	c.internal.Reset()
	if !c.def.KeepSummonsOnDeath {
		c.summons.DespawnAll()
	}
	c.reportState(instance.Done)
	c.logger.Info("boss died", zap.String("killer", string(killer)))
	if c.hooks.OnDeath != nil {
		c.hooks.OnDeath(c, killer)
	}
}

// Evade abandons combat and returns the controller to Idle.
//
// Postcondition: no scheduled event or tracked summon survives.
func (c *Controller) Evade() {
	if c.state != Combat {
		return
	}
	c.state = Idle
	c.phase = 0
	c.events.Reset()
	c.internal.Reset()
	c.summons.DespawnAll()
	c.noTarget = 0
	c.host.EnterEvadeMode(c.self)
	c.reportState(instance.Fail)
	c.logger.Info("evaded")
	if c.hooks.OnEvade != nil {
		c.hooks.OnEvade(c)
	}
}

// Reset re-initializes the controller for a spawn or respawn.
//
// Postcondition: state is Idle and the scheduler, summon list, threshold
// latches and data are empty. The boss state returns to NotStarted unless
// the encounter is already Done.
func (c *Controller) Reset() {
	c.events.Reset()
	c.internal.Reset()
	c.summons.DespawnAll()
	c.state = Idle
	c.phase = 0
	c.noTarget = 0
	clear(c.latched)
	clear(c.data)
	c.reportState(instance.NotStarted)
	c.logger.Debug("reset")
	if c.hooks.OnReset != nil {
		c.hooks.OnReset(c)
	}
}

// OnSpellHit runs the spell's reaction actions.
func (c *Controller) OnSpellHit(caster host.UnitID, spell host.SpellID) {
	if c.state == Dead {
		return
	}
	c.run(c.def.SpellHits[int(spell)])
	if c.hooks.OnSpellHit != nil {
		c.hooks.OnSpellHit(c, caster, spell)
	}
}

// OnMovementPointReached runs the point's actions.
func (c *Controller) OnMovementPointReached(point int) {
	if c.state == Dead {
		return
	}
	c.run(c.def.MovementPoints[point])
	if c.hooks.OnMovementPointReached != nil {
		c.hooks.OnMovementPointReached(c, point)
	}
}

// OnAction handles an action code dispatched to the boss by another unit.
func (c *Controller) OnAction(action int) {
	if c.state == Dead {
		return
	}
	c.run(c.def.Reactions[action])
	if c.hooks.OnAction != nil {
		c.hooks.OnAction(c, action)
	}
}

// OnSummonedUnitCreated tracks a unit the host spawned for the boss.
func (c *Controller) OnSummonedUnitCreated(u host.UnitID) {
	c.track(u)
}

// OnSummonedUnitRemoved forgets a summon the host reports dead or gone.
func (c *Controller) OnSummonedUnitRemoved(u host.UnitID) {
	if !c.summons.Remove(u) {
		return
	}
	if c.hooks.OnSummonRemoved != nil {
		c.hooks.OnSummonRemoved(c, u)
	}
}

func (c *Controller) track(u host.UnitID) {
	if c.summons.Has(u) {
		return
	}
	c.summons.Summon(u)
	if c.hooks.OnSummon != nil {
		c.hooks.OnSummon(c, u)
	}
}

// SetData stores a scratch value.
func (c *Controller) SetData(key string, value int64) { c.data[key] = value }

// GetData returns a scratch value, zero when unset.
func (c *Controller) GetData(key string) int64 { return c.data[key] }

// Data returns a snapshot of all scratch values.
func (c *Controller) Data() map[string]int64 { return maps.Clone(c.data) }

// SetPhase transitions to phase p: the old phase's events are cancelled,
// the new phase's cancel groups are cleared and its events scheduled.
// Outside combat, or when already in p, it does nothing.
func (c *Controller) SetPhase(p int) {
	if c.state != Combat || p == c.phase {
		return
	}
	c.enterPhase(p)
}

func (c *Controller) enterPhase(p int) {
	old := c.phase
	if old != 0 {
		c.events.CancelPhaseEvents(event.Phase(old))
	}
	c.phase = p
	c.events.SetPhase(event.Phase(p))
	c.logger.Info("phase changed", zap.Int("from", old), zap.Int("to", p))

	if ph, ok := c.def.PhaseByID(p); ok {
		for _, g := range ph.CancelGroups {
			c.CancelGroup(g)
		}
		for i := range ph.Events {
			c.scheduleDef(&ph.Events[i], p)
		}
		c.run(ph.OnEnter)
	}
	if p != 0 && c.state == Combat && c.phase == p && c.hooks.OnPhaseEnter != nil {
		c.hooks.OnPhaseEnter(c, p)
	}
}

func (c *Controller) scheduleDef(def *EventDef, phase int) {
	t, _ := def.timing(c.difficulty)
	lo, hi := t.Bounds()
	c.events.ScheduleEventBetween(def.ID, lo, hi, c.optsFor(def, phase)...)
}

func (c *Controller) optsFor(def *EventDef, phase int) []event.Option {
	var opts []event.Option
	if def != nil && def.Group != "" {
		opts = append(opts, event.InGroup(c.group(def.Group)))
	}
	if phase != 0 {
		opts = append(opts, event.InPhase(event.Phase(phase)))
	}
	return opts
}

// group interns a group name into a scheduler group tag.
func (c *Controller) group(name string) event.Group {
	if g, ok := c.groups[name]; ok {
		return g
	}
	g := event.Group(len(c.groups) + 1)
	c.groups[name] = g
	return g
}

// ScheduleEvent schedules id after a delay sampled from [lo, hi). Events
// declared in the definition keep their group and phase.
func (c *Controller) ScheduleEvent(id EventID, lo, hi time.Duration) {
	if c.state != Combat {
		return
	}
	def := c.index[id]
	c.events.ScheduleEventBetween(id, lo, hi, c.optsFor(def, c.phaseOf[id])...)
}

// ScheduleDefault schedules a declared event with its own timing. Unknown
// ids are a no-op.
func (c *Controller) ScheduleDefault(id EventID) {
	def, ok := c.index[id]
	if !ok || c.state != Combat {
		return
	}
	c.scheduleDef(def, c.phaseOf[id])
}

// CancelEvent cancels every pending entry for id.
func (c *Controller) CancelEvent(id EventID) {
	c.events.CancelEvent(id)
	if id == c.firing {
		c.firingCancelled = true
	}
}

// CancelGroup cancels every pending entry of the named group.
func (c *Controller) CancelGroup(name string) {
	g, ok := c.groups[name]
	if !ok {
		return
	}
	c.events.CancelEventGroup(g)
	if def := c.index[c.firing]; c.firing != "" && def != nil && def.Group == name {
		c.firingCancelled = true
	}
}

// HealthPct returns the boss health share in [0, 100], or zero when unknown.
func (c *Controller) HealthPct() float64 {
	cur, mx, ok := c.host.Health(c.self)
	if !ok || mx <= 0 {
		return 0
	}
	return 100 * float64(cur) / float64(mx)
}

// Summon asks the host for a creature and tracks it.
func (c *Controller) Summon(req host.SummonRequest) (host.UnitID, bool) {
	return c.summon(req)
}

func (c *Controller) summon(req host.SummonRequest) (host.UnitID, bool) {
	id, ok := c.host.Summon(c.self, req)
	if !ok {
		return "", false
	}
	c.track(id)
	return id, true
}

func (c *Controller) reportState(s instance.BossState) {
	if c.store == nil {
		return
	}
	c.store.SetBossState(c.def.BossKey(), s)
}

// PendingEvent is a scheduled event in a Status.
type PendingEvent struct {
	ID          EventID `json:"id"`
	RemainingMs int64   `json:"remaining_ms"`
	Phase       int     `json:"phase,omitempty"`
}

// Status is a point-in-time view of a controller.
type Status struct {
	Unit      host.UnitID      `json:"unit"`
	Encounter string           `json:"encounter"`
	State     string           `json:"state"`
	Phase     int              `json:"phase"`
	Pending   []PendingEvent   `json:"pending"`
	Summons   []host.UnitID    `json:"summons"`
	Data      map[string]int64 `json:"data,omitempty"`
}

// Status returns a snapshot of the controller. Pending events are listed in
// firing order.
func (c *Controller) Status() Status {
	snap := c.events.Snapshot()
	pending := make([]PendingEvent, 0, len(snap))
	for _, s := range snap {
		pending = append(pending, PendingEvent{
			ID:          s.ID,
			RemainingMs: s.Remaining.Milliseconds(),
			Phase:       int(s.Phase),
		})
	}
	return Status{
		Unit:      c.self,
		Encounter: c.def.ID,
		State:     c.state.String(),
		Phase:     c.phase,
		Pending:   pending,
		Summons:   c.summons.Units(),
		Data:      c.Data(),
	}
}
