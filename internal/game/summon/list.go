// Package summon tracks the transient child units an encounter spawns.
package summon

import (
	"slices"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/host"
)

// Host is the slice of the engine the list needs.
type Host interface {
	Exists(unit host.UnitID) bool
	TemplateOf(unit host.UnitID) (string, bool)
	Despawn(unit host.UnitID)
	Dispatch(unit host.UnitID, action int)
}

// List is an ordered, non-owning record of summoned unit ids.
//
// Invariant: insertion order is summon order. Ids may go stale at any time;
// every operation tolerates that.
type List struct {
	host  Host
	src   dice.Source
	units []host.UnitID
}

// NewList returns an empty List issuing commands to h.
//
// Precondition: h must not be nil.
// Postcondition: a nil src is replaced with dice.NewCryptoSource().
func NewList(h Host, src dice.Source) *List {
	if h == nil {
		panic("summon.NewList: host must not be nil")
	}
	if src == nil {
		src = dice.NewCryptoSource()
	}
	return &List{host: h, src: src}
}

// Summon records u as a live child.
func (l *List) Summon(u host.UnitID) {
	l.units = append(l.units, u)
}

// Despawn removes u and commands the host to despawn it.
//
// Postcondition: no host command is issued when u is not tracked.
func (l *List) Despawn(u host.UnitID) {
	if l.Remove(u) {
		l.host.Despawn(u)
	}
}

// Remove prunes u without issuing a host command, for units the host has
// already reported gone. Returns whether u was tracked.
func (l *List) Remove(u host.UnitID) bool {
	n := len(l.units)
	l.units = slices.DeleteFunc(l.units, func(x host.UnitID) bool { return x == u })
	return len(l.units) != n
}

// DespawnAll despawns every tracked unit in insertion order and clears the list.
func (l *List) DespawnAll() {
	units := l.units
	l.units = nil
	for _, u := range units {
		l.host.Despawn(u)
	}
}

// DespawnIf despawns and removes every unit matching pred, preserving the
// relative order of the rest.
//
// pred sees every unit tracked at the start of the call exactly once, even
// when it despawns list members itself.
func (l *List) DespawnIf(pred func(host.UnitID) bool) {
	var doomed []host.UnitID
	for _, u := range slices.Clone(l.units) {
		if pred(u) {
			doomed = append(doomed, u)
		}
	}
	for _, u := range doomed {
		l.Despawn(u)
	}
}

// DespawnEntry despawns every tracked unit spawned from template.
func (l *List) DespawnEntry(template string) {
	l.DespawnIf(func(u host.UnitID) bool {
		t, ok := l.host.TemplateOf(u)
		return ok && t == template
	})
}

// DoAction forwards action to every live tracked unit matching pred. A nil
// pred matches all. When limit > 0 and more units match, a random subset of
// size limit is chosen.
//
// Liveness and targets are fixed before pred or the first dispatch runs, so
// neither can disturb the visit by despawning list members. Returns the
// number of units dispatched.
func (l *List) DoAction(action int, pred func(host.UnitID) bool, limit int) int {
	live := slices.DeleteFunc(slices.Clone(l.units), func(u host.UnitID) bool { return !l.host.Exists(u) })
	targets := make([]host.UnitID, 0, len(live))
	for _, u := range live {
		if pred == nil || pred(u) {
			targets = append(targets, u)
		}
	}
	if limit > 0 && len(targets) > limit {
		dice.Shuffle(l.src, len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
		targets = targets[:limit]
	}
	for _, u := range targets {
		l.host.Dispatch(u, action)
	}
	return len(targets)
}

// HasEntry reports whether a live tracked unit was spawned from template.
func (l *List) HasEntry(template string) bool {
	for _, u := range l.units {
		if t, ok := l.host.TemplateOf(u); ok && t == template && l.host.Exists(u) {
			return true
		}
	}
	return false
}

// CountEntry returns the number of live tracked units spawned from template.
// The empty template counts every live unit.
func (l *List) CountEntry(template string) int {
	n := 0
	for _, u := range l.units {
		if !l.host.Exists(u) {
			continue
		}
		if template == "" {
			n++
			continue
		}
		if t, ok := l.host.TemplateOf(u); ok && t == template {
			n++
		}
	}
	return n
}

// RemoveNotExisting prunes ids whose unit no longer exists in the host and
// returns how many were dropped.
func (l *List) RemoveNotExisting() int {
	n := len(l.units)
	l.units = slices.DeleteFunc(l.units, func(u host.UnitID) bool { return !l.host.Exists(u) })
	return n - len(l.units)
}

// Has reports whether u is tracked.
func (l *List) Has(u host.UnitID) bool { return slices.Contains(l.units, u) }

// Len returns the number of tracked ids, stale or not.
func (l *List) Len() int { return len(l.units) }

// Empty reports whether nothing is tracked.
func (l *List) Empty() bool { return len(l.units) == 0 }

// Units returns a snapshot of the tracked ids in summon order.
func (l *List) Units() []host.UnitID { return slices.Clone(l.units) }

// Clear forgets every tracked id without issuing host commands.
func (l *List) Clear() { l.units = nil }
