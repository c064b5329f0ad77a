// Package encounter implements the per-boss encounter controller: a tick
// driven state machine that drains a timed event scheduler into host
// commands, walks a phase graph and tracks the units it summons.
//
// Boss variation is data. A Definition (phases, events, thresholds and
// reactions loaded from YAML) plus a Hooks callback set fully describe an
// encounter.
package encounter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// EventID names a scheduled event within one encounter.
type EventID string

// Loop names the default per-tick behaviour of a phase.
const (
	LoopMelee = "melee"
	LoopNone  = "none"
)

// Timing is a fixed delay or a [Min, Max) range. A non-zero Max selects the
// range form.
type Timing struct {
	Delay time.Duration `yaml:"delay"`
	Min   time.Duration `yaml:"min"`
	Max   time.Duration `yaml:"max"`
}

// IsZero reports whether no field is set.
func (t Timing) IsZero() bool { return t.Delay == 0 && t.Min == 0 && t.Max == 0 }

// Bounds returns the sampling range of t.
func (t Timing) Bounds() (lo, hi time.Duration) {
	if t.Max != 0 {
		return t.Min, t.Max
	}
	return t.Delay, t.Delay
}

func (t Timing) validate() error {
	if t.Delay < 0 || t.Min < 0 || t.Max < 0 {
		return errors.New("negative timing")
	}
	if t.Max != 0 && t.Min > t.Max {
		return fmt.Errorf("min %v exceeds max %v", t.Min, t.Max)
	}
	return nil
}

// EventOverride replaces an event's timing for one difficulty.
type EventOverride struct {
	Timing `yaml:",inline"`
	Repeat *Timing `yaml:"repeat"`
}

// EventDef is one entry of an encounter's event table.
//
// Precondition: ID must be non-empty and unique within the Definition.
type EventDef struct {
	ID         EventID                  `yaml:"id"`
	Timing     `yaml:",inline"`
	Group      string                   `yaml:"group"`
	Repeat     *Timing                  `yaml:"repeat"`
	Difficulty map[string]EventOverride `yaml:"difficulty"`
	Actions    []Action                 `yaml:"actions"`
}

// timing returns the initial and repeat timing for difficulty.
func (e *EventDef) timing(difficulty string) (Timing, *Timing) {
	if o, ok := e.Difficulty[difficulty]; ok {
		t, r := e.Timing, e.Repeat
		if !o.Timing.IsZero() {
			t = o.Timing
		}
		if o.Repeat != nil {
			r = o.Repeat
		}
		return t, r
	}
	return e.Timing, e.Repeat
}

// Phase is one node of the phase graph. Loop is LoopMelee (the default) or
// LoopNone.
type Phase struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
	Loop string `yaml:"loop"`

	// MinHealthPct floors damage so the boss cannot drop below this share
	// of max health while the phase is active. Zero disables the floor.
	MinHealthPct float64    `yaml:"min_health_pct"`
	CancelGroups []string   `yaml:"cancel_groups"`
	Events       []EventDef `yaml:"events"`
	OnEnter      []Action   `yaml:"on_enter"`
}

// Threshold fires once per combat when health falls strictly below BelowPct.
type Threshold struct {
	BelowPct float64  `yaml:"below_pct"`
	Phase    int      `yaml:"phase"`
	Actions  []Action `yaml:"actions"`
}

// Definition is the full data description of one encounter.
//
// Invariant: event ids are unique across combat-wide and phase events.
type Definition struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	// Boss is the instance boss slot this encounter reports progress into.
	// Empty defaults to ID.
	Boss   string `yaml:"boss"`
	Script string `yaml:"script"`

	InitialPhase       int           `yaml:"initial_phase"`
	EvadeRadius        float64       `yaml:"evade_radius"`
	EvadeAfter         time.Duration `yaml:"evade_after"`
	KeepSummonsOnDeath bool          `yaml:"keep_summons_on_death"`
	SummonSweep        time.Duration `yaml:"summon_sweep"`

	Events         []EventDef       `yaml:"events"`
	Phases         []Phase          `yaml:"phases"`
	Thresholds     []Threshold      `yaml:"thresholds"`
	SpellHits      map[int][]Action `yaml:"spell_hits"`
	MovementPoints map[int][]Action `yaml:"movement_points"`
	Reactions      map[int][]Action `yaml:"reactions"`
}

// BossKey returns the instance boss slot of d.
func (d *Definition) BossKey() string {
	if d.Boss != "" {
		return d.Boss
	}
	return d.ID
}

// PhaseByID returns the phase with id, or false if not declared.
func (d *Definition) PhaseByID(id int) (*Phase, bool) {
	for i := range d.Phases {
		if d.Phases[i].ID == id {
			return &d.Phases[i], true
		}
	}
	return nil, false
}

// Validate checks all required fields and cross-field constraints.
//
// Postcondition: nil return guarantees a non-empty ID, unique positive phase
// ids, an initial phase that exists (when phases are declared), unique event
// ids with sane timings, thresholds in strictly descending order referring to
// declared phases, and well-formed actions.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("encounter.Definition: ID must not be empty")
	}
	if d.EvadeRadius < 0 || d.EvadeAfter < 0 || d.SummonSweep < 0 {
		return fmt.Errorf("encounter.Definition %q: evade_radius, evade_after and summon_sweep must not be negative", d.ID)
	}

	phaseIDs := make(map[int]struct{}, len(d.Phases))
	for _, p := range d.Phases {
		if p.ID <= 0 {
			return fmt.Errorf("encounter.Definition %q: phase ids must be positive, got %d", d.ID, p.ID)
		}
		if _, dup := phaseIDs[p.ID]; dup {
			return fmt.Errorf("encounter.Definition %q: duplicate phase %d", d.ID, p.ID)
		}
		phaseIDs[p.ID] = struct{}{}
		switch p.Loop {
		case "", LoopMelee, LoopNone:
		default:
			return fmt.Errorf("encounter.Definition %q phase %d: unknown loop %q", d.ID, p.ID, p.Loop)
		}
		if p.MinHealthPct < 0 || p.MinHealthPct >= 100 {
			return fmt.Errorf("encounter.Definition %q phase %d: min_health_pct must be in [0, 100)", d.ID, p.ID)
		}
	}
	if len(d.Phases) > 0 {
		if _, ok := phaseIDs[d.InitialPhase]; !ok {
			return fmt.Errorf("encounter.Definition %q: initial_phase %d is not declared", d.ID, d.InitialPhase)
		}
	}
	knownPhase := func(id int) bool {
		_, ok := phaseIDs[id]
		return ok
	}

	eventIDs := make(map[EventID]struct{})
	checkEvent := func(where string, e *EventDef) error {
		if e.ID == "" {
			return fmt.Errorf("encounter.Definition %q %s: event has empty ID", d.ID, where)
		}
		if _, dup := eventIDs[e.ID]; dup {
			return fmt.Errorf("encounter.Definition %q: duplicate event ID %q", d.ID, e.ID)
		}
		eventIDs[e.ID] = struct{}{}
		if err := e.Timing.validate(); err != nil {
			return fmt.Errorf("encounter.Definition %q event %q: %w", d.ID, e.ID, err)
		}
		if e.Repeat != nil {
			if err := e.Repeat.validate(); err != nil {
				return fmt.Errorf("encounter.Definition %q event %q repeat: %w", d.ID, e.ID, err)
			}
		}
		for diff, o := range e.Difficulty {
			if err := o.Timing.validate(); err != nil {
				return fmt.Errorf("encounter.Definition %q event %q difficulty %q: %w", d.ID, e.ID, diff, err)
			}
			if o.Repeat != nil {
				if err := o.Repeat.validate(); err != nil {
					return fmt.Errorf("encounter.Definition %q event %q difficulty %q repeat: %w", d.ID, e.ID, diff, err)
				}
			}
		}
		return nil
	}
	for i := range d.Events {
		if err := checkEvent("events", &d.Events[i]); err != nil {
			return err
		}
	}
	for _, p := range d.Phases {
		for i := range p.Events {
			if err := checkEvent(fmt.Sprintf("phase %d", p.ID), &p.Events[i]); err != nil {
				return err
			}
		}
	}

	for i, th := range d.Thresholds {
		if th.BelowPct <= 0 || th.BelowPct > 100 {
			return fmt.Errorf("encounter.Definition %q threshold %d: below_pct must be in (0, 100]", d.ID, i)
		}
		if i > 0 && th.BelowPct >= d.Thresholds[i-1].BelowPct {
			return fmt.Errorf("encounter.Definition %q threshold %d: below_pct must be strictly descending", d.ID, i)
		}
		if th.Phase != 0 && !knownPhase(th.Phase) {
			return fmt.Errorf("encounter.Definition %q threshold %d: phase %d is not declared", d.ID, i, th.Phase)
		}
	}

	var errs []error
	check := func(where string, actions []Action) {
		for i := range actions {
			if err := actions[i].validate(knownPhase); err != nil {
				errs = append(errs, fmt.Errorf("encounter.Definition %q %s action %d: %w", d.ID, where, i, err))
			}
		}
	}
	for _, e := range d.Events {
		check(fmt.Sprintf("event %q", e.ID), e.Actions)
	}
	for _, p := range d.Phases {
		check(fmt.Sprintf("phase %d on_enter", p.ID), p.OnEnter)
		for _, e := range p.Events {
			check(fmt.Sprintf("event %q", e.ID), e.Actions)
		}
	}
	for i, th := range d.Thresholds {
		check(fmt.Sprintf("threshold %d", i), th.Actions)
	}
	for spell, a := range d.SpellHits {
		check(fmt.Sprintf("spell_hit %d", spell), a)
	}
	for point, a := range d.MovementPoints {
		check(fmt.Sprintf("movement_point %d", point), a)
	}
	for code, a := range d.Reactions {
		check(fmt.Sprintf("reaction %d", code), a)
	}
	return errors.Join(errs...)
}

// yamlDefinitionFile wraps the YAML top-level key.
type yamlDefinitionFile struct {
	Encounter *Definition `yaml:"encounter"`
}

// LoadDefinitions reads all *.yaml files from dir and returns parsed Definitions.
//
// Precondition: dir must be a readable directory.
// Postcondition: returns error if any YAML file fails to parse or validate.
// Postcondition: returns (nil, nil) if dir contains no .yaml files.
func LoadDefinitions(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("encounter.LoadDefinitions: reading %q: %w", dir, err)
	}
	var defs []*Definition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDefinition reads and validates one definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("encounter.LoadDefinition: reading %s: %w", path, err)
	}
	var f yamlDefinitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("encounter.LoadDefinition: parsing %s: %w", path, err)
	}
	if f.Encounter == nil {
		return nil, fmt.Errorf("encounter.LoadDefinition: %s missing top-level 'encounter' key", path)
	}
	if err := f.Encounter.Validate(); err != nil {
		return nil, err
	}
	return f.Encounter, nil
}

// validTarget reports whether f is usable as an action target.
func validTarget(f host.TargetFilter) bool {
	return f.Mode == "" || f.Mode.Valid()
}
