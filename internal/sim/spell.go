package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Spell is the simulated effect of a spell id. Effects land when the cast
// starts; CastTime only keeps the caster busy.
type Spell struct {
	ID       host.SpellID  `yaml:"id"`
	Name     string        `yaml:"name"`
	Min      int64         `yaml:"min"`
	Max      int64         `yaml:"max"`
	CastTime time.Duration `yaml:"cast_time"`
	// Aura marks the target with the spell id.
	Aura bool `yaml:"aura"`
}

type spellFile struct {
	Spells []Spell `yaml:"spells"`
}

// LoadSpells reads a spell table from a YAML file with a top-level
// "spells" list.
//
// Postcondition: Returns the table keyed by id, or an error on a parse
// failure, a duplicate id or an inverted damage range.
func LoadSpells(path string) (map[host.SpellID]Spell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spells %q: %w", path, err)
	}
	var f spellFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing spells %q: %w", path, err)
	}
	out := make(map[host.SpellID]Spell, len(f.Spells))
	for _, s := range f.Spells {
		if _, dup := out[s.ID]; dup {
			return nil, fmt.Errorf("spells %q: duplicate id %d", path, s.ID)
		}
		if s.Min < 0 || s.Max < s.Min {
			return nil, fmt.Errorf("spells %q: spell %d has invalid damage range [%d, %d]", path, s.ID, s.Min, s.Max)
		}
		out[s.ID] = s
	}
	return out, nil
}
