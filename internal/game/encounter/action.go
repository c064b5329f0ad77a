package encounter

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Action kinds.
const (
	ActionCast           = "cast"
	ActionCastArea       = "cast_area"
	ActionSummon         = "summon"
	ActionSetPhase       = "set_phase"
	ActionSay            = "say"
	ActionMove           = "move"
	ActionSchedule       = "schedule"
	ActionCancel         = "cancel"
	ActionCancelGroup    = "cancel_group"
	ActionDespawnSummons = "despawn_summons"
	ActionSummonsAction  = "summons_action"
	ActionSetData        = "set_data"
	ActionScript         = "script"
)

// Summon anchors.
const (
	AtSelf   = "self"
	AtVictim = "victim"
	AtAnchor = "anchor"
)

// Action is one declarative step run when an event fires, a phase is
// entered, or a threshold, spell hit, movement point or reaction triggers.
// Which fields apply depends on Kind.
type Action struct {
	Kind string `yaml:"kind"`

	// cast, cast_area
	Spell     host.SpellID      `yaml:"spell"`
	Target    host.TargetFilter `yaml:"target"`
	Triggered bool              `yaml:"triggered"`

	// summon; Template also filters despawn_summons and summons_action.
	Template string        `yaml:"template"`
	Count    int           `yaml:"count"`
	At       string        `yaml:"at"`
	Offset   host.Position `yaml:"offset"`
	Policy   string        `yaml:"policy"`
	Duration time.Duration `yaml:"duration"`
	Attack   bool          `yaml:"attack"`

	// set_phase
	Phase int `yaml:"phase"`

	// say
	Text string `yaml:"text"`

	// move
	Point    int           `yaml:"point"`
	Position host.Position `yaml:"position"`
	Speed    float64       `yaml:"speed"`
	Stop     bool          `yaml:"stop"`

	// schedule, cancel, cancel_group; a zero Timing reuses the event's own.
	Event  EventID `yaml:"event"`
	Group  string  `yaml:"group"`
	Timing `yaml:",inline"`

	// summons_action
	Code  int `yaml:"code"`
	Limit int `yaml:"limit"`

	// set_data
	Key   string `yaml:"key"`
	Value int64  `yaml:"value"`

	// script
	Function string `yaml:"function"`
}

func (a *Action) validate(knownPhase func(int) bool) error {
	switch a.Kind {
	case ActionCast:
		if a.Spell == 0 {
			return errors.New("cast requires spell")
		}
		if !validTarget(a.Target) {
			return fmt.Errorf("unknown target mode %q", a.Target.Mode)
		}
	case ActionCastArea:
		if a.Spell == 0 {
			return errors.New("cast_area requires spell")
		}
	case ActionSummon:
		if a.Template == "" {
			return errors.New("summon requires template")
		}
		if a.Count < 0 {
			return errors.New("summon count must not be negative")
		}
		switch a.At {
		case "", AtSelf, AtVictim, AtAnchor:
		default:
			return fmt.Errorf("unknown summon anchor %q", a.At)
		}
		if _, err := host.ParseDespawnPolicy(a.Policy); err != nil {
			return err
		}
		if !validTarget(a.Target) {
			return fmt.Errorf("unknown target mode %q", a.Target.Mode)
		}
	case ActionSetPhase:
		if !knownPhase(a.Phase) {
			return fmt.Errorf("set_phase to undeclared phase %d", a.Phase)
		}
	case ActionSay:
		if a.Text == "" {
			return errors.New("say requires text")
		}
	case ActionMove:
	case ActionSchedule:
		if a.Event == "" {
			return errors.New("schedule requires event")
		}
		if err := a.Timing.validate(); err != nil {
			return err
		}
	case ActionCancel:
		if a.Event == "" {
			return errors.New("cancel requires event")
		}
	case ActionCancelGroup:
		if a.Group == "" {
			return errors.New("cancel_group requires group")
		}
	case ActionDespawnSummons, ActionSummonsAction:
		if a.Limit < 0 {
			return errors.New("limit must not be negative")
		}
	case ActionSetData:
		if a.Key == "" {
			return errors.New("set_data requires key")
		}
	case ActionScript:
		if a.Function == "" {
			return errors.New("script requires function")
		}
	case "":
		return errors.New("action kind must not be empty")
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// run executes actions in order. It stops early if an action ends combat.
func (c *Controller) run(actions []Action) {
	for i := range actions {
		if c.state == Dead {
			return
		}
		c.apply(&actions[i])
	}
}

func (c *Controller) apply(a *Action) {
	switch a.Kind {
	case ActionCast:
		for _, t := range c.resolveTargets(a.Target) {
			c.host.CastSpell(c.self, t, a.Spell, a.Triggered)
		}
	case ActionCastArea:
		c.host.CastArea(c.self, a.Spell)
	case ActionSummon:
		c.summonFromAction(a)
	case ActionSetPhase:
		c.SetPhase(a.Phase)
	case ActionSay:
		c.host.Say(c.self, a.Text)
	case ActionMove:
		if a.Stop {
			c.host.StopMoving(c.self)
			return
		}
		c.host.MoveTo(c.self, a.Point, a.Position, a.Speed)
	case ActionSchedule:
		if a.Timing.IsZero() {
			c.ScheduleDefault(a.Event)
			return
		}
		lo, hi := a.Timing.Bounds()
		c.ScheduleEvent(a.Event, lo, hi)
	case ActionCancel:
		c.CancelEvent(a.Event)
	case ActionCancelGroup:
		c.CancelGroup(a.Group)
	case ActionDespawnSummons:
		if a.Template != "" {
			c.summons.DespawnEntry(a.Template)
			return
		}
		c.summons.DespawnAll()
	case ActionSummonsAction:
		var pred func(host.UnitID) bool
		if a.Template != "" {
			pred = func(u host.UnitID) bool {
				t, ok := c.host.TemplateOf(u)
				return ok && t == a.Template
			}
		}
		c.summons.DoAction(a.Code, pred, a.Limit)
	case ActionSetData:
		c.SetData(a.Key, a.Value)
	case ActionScript:
		if c.hooks.OnScript != nil {
			c.hooks.OnScript(c, a.Function)
		}
	}
}

// resolveTargets turns a filter into concrete host units. Victim and self
// are answered locally; every other mode is a host query.
func (c *Controller) resolveTargets(f host.TargetFilter) []host.UnitID {
	switch f.Mode {
	case "", host.TargetVictim:
		if v, ok := c.host.Victim(c.self); ok && c.host.Exists(v) {
			return []host.UnitID{v}
		}
		return nil
	case host.TargetSelf:
		return []host.UnitID{c.self}
	}
	return c.host.SelectTargets(c.self, f)
}

func (c *Controller) summonFromAction(a *Action) {
	policy, _ := host.ParseDespawnPolicy(a.Policy)
	base, ok := c.summonBase(a.At)
	if !ok {
		return
	}
	count := max(a.Count, 1)
	for range count {
		id, ok := c.summon(host.SummonRequest{
			Template: a.Template,
			Position: base.Offset(a.Offset),
			Policy:   policy,
			Duration: a.Duration,
		})
		if !ok || !a.Attack {
			continue
		}
		var target host.UnitID
		if a.Target.Mode == "" {
			target, ok = c.host.Victim(c.self)
		} else {
			picked := c.resolveTargets(a.Target)
			ok = len(picked) > 0
			if ok {
				target = picked[0]
			}
		}
		if ok {
			c.host.AttackStart(id, target)
		}
	}
}

func (c *Controller) summonBase(at string) (host.Position, bool) {
	switch at {
	case AtAnchor:
		return c.anchor, true
	case AtVictim:
		if v, ok := c.host.Victim(c.self); ok {
			return c.host.Position(v)
		}
		return host.Position{}, false
	}
	return c.host.Position(c.self)
}
