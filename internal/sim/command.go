package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Command is one outbound host call recorded by a World.
type Command struct {
	At   time.Duration `json:"at"`
	Unit host.UnitID   `json:"unit"`
	Verb string        `json:"verb"`
	Args []string      `json:"args,omitempty"`
}

// String renders the command as "mm:ss.mmm unit verb args...".
func (c Command) String() string {
	ms := c.At.Milliseconds()
	stamp := fmt.Sprintf("%02d:%02d.%03d", ms/60_000, ms/1000%60, ms%1000)
	if len(c.Args) == 0 {
		return fmt.Sprintf("%s %s %s", stamp, c.Unit, c.Verb)
	}
	return fmt.Sprintf("%s %s %s %s", stamp, c.Unit, c.Verb, strings.Join(c.Args, " "))
}
