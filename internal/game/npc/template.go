// Package npc provides creature template definitions and live unit management
// for the simulated host.
package npc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Melee describes a template's auto-attack.
type Melee struct {
	Min      int64         `yaml:"min"`
	Max      int64         `yaml:"max"`
	Interval time.Duration `yaml:"interval"`
}

// Template defines a reusable creature archetype loaded from YAML.
type Template struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Level       int    `yaml:"level"`
	MaxHP       int64  `yaml:"max_hp"`
	Melee       Melee  `yaml:"melee"`
	// Encounter is the encounter definition id driving this creature; empty
	// means the creature has no scripted encounter.
	Encounter string `yaml:"encounter"`
	// Player marks templates used for simulated player characters.
	Player bool `yaml:"player"`
}

// Validate checks that the template satisfies basic invariants.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff ID and Name are non-empty, Level >= 1,
// MaxHP >= 1 and the melee range is ordered; returns an error on the first
// violation otherwise.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("npc template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("npc template %q: name must not be empty", t.ID)
	}
	if t.Level < 1 {
		return fmt.Errorf("npc template %q: level must be >= 1", t.ID)
	}
	if t.MaxHP < 1 {
		return fmt.Errorf("npc template %q: max_hp must be >= 1", t.ID)
	}
	if t.Melee.Min < 0 || t.Melee.Max < t.Melee.Min {
		return fmt.Errorf("npc template %q: melee range [%d, %d] is invalid", t.ID, t.Melee.Min, t.Melee.Max)
	}
	if t.Melee.Interval < 0 {
		return fmt.Errorf("npc template %q: melee interval must not be negative", t.ID)
	}
	return nil
}

// LoadTemplateFromBytes parses a single creature template from raw YAML bytes.
//
// Precondition: data must be valid YAML for a single Template.
// Postcondition: Returns a validated *Template, or an error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadTemplates reads all *.yaml files in dir and returns the parsed templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or validate
// failure; on error, the partial result is discarded.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading npc dir %q: %w", dir, err)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}

		tmpl, err := LoadTemplateFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}
