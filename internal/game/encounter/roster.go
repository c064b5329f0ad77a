package encounter

import (
	"slices"
	"sync"
	"time"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Roster holds the live controllers of one zone.
//
// The map is safe for concurrent use; the controllers themselves are not
// and must only be driven from the zone's tick path.
type Roster struct {
	mu     sync.RWMutex
	byUnit map[host.UnitID]*Controller
}

// NewRoster returns an empty Roster.
func NewRoster() *Roster {
	return &Roster{byUnit: make(map[host.UnitID]*Controller)}
}

// Add stores c, replacing any controller for the same unit.
func (r *Roster) Add(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUnit[c.Self()] = c
}

// Remove forgets the controller of unit.
func (r *Roster) Remove(unit host.UnitID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUnit, unit)
}

// Get returns the controller of unit.
func (r *Roster) Get(unit host.UnitID) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUnit[unit]
	return c, ok
}

// Len returns the number of controllers.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUnit)
}

// Controllers returns every controller ordered by unit id.
func (r *Roster) Controllers() []*Controller {
	r.mu.RLock()
	out := make([]*Controller, 0, len(r.byUnit))
	for _, c := range r.byUnit {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Controller) int {
		switch {
		case a.self < b.self:
			return -1
		case a.self > b.self:
			return 1
		}
		return 0
	})
	return out
}

// Tick advances every controller by delta in unit id order.
func (r *Roster) Tick(delta time.Duration) {
	for _, c := range r.Controllers() {
		c.OnTick(delta)
	}
}
