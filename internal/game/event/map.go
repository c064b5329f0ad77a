// Package event implements the timed event scheduler that drives encounter
// scripts: a delay queue advanced once per tick and drained of due events.
package event

import (
	"container/heap"
	"math"
	"slices"
	"time"

	"github.com/cory-johannsen/encounter/internal/game/dice"
)

// Group tags entries for bulk cancellation. Zero means no group.
type Group int

// Phase tags entries with the scheduler phase in which they may fire.
// Zero means the entry is eligible in every phase.
type Phase int

type options struct {
	group Group
	phase Phase
}

// Option configures a scheduled entry.
type Option func(*options)

// InGroup tags the entry with group g.
func InGroup(g Group) Option {
	return func(o *options) { o.group = g }
}

// InPhase restricts the entry to phase p.
func InPhase(p Phase) Option {
	return func(o *options) { o.phase = p }
}

// Scheduled is a read-only view of one pending entry.
type Scheduled[K comparable] struct {
	ID        K
	Remaining time.Duration
	Group     Group
	Phase     Phase
}

// Map is a timed event scheduler keyed by an encounter-scoped id type.
//
// Due times are stored as absolute offsets from an internal clock that only
// Update advances, so Update is O(1) while Schedule and ExecuteEvent are
// O(log n). Many entries may share an id.
//
// Map is not safe for concurrent use; it is owned by exactly one controller.
type Map[K comparable] struct {
	src     dice.Source
	now     int64
	seq     uint64
	entries entryHeap[K]
	phase   Phase

	hasLast   bool
	lastID    K
	lastGroup Group
	lastPhase Phase
}

// New returns an empty Map sampling randomized delays from src.
//
// Postcondition: a nil src is replaced with dice.NewCryptoSource().
func New[K comparable](src dice.Source) *Map[K] {
	if src == nil {
		src = dice.NewCryptoSource()
	}
	return &Map[K]{src: src}
}

// ScheduleEvent inserts id due after delay. A zero or negative delay makes
// the entry due on the next drain; a delay past the end of the clock
// saturates at math.MaxInt64.
func (m *Map[K]) ScheduleEvent(id K, delay time.Duration, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m.seq++
	heap.Push(&m.entries, &entry[K]{
		id:    id,
		due:   m.dueAfter(delay),
		seq:   m.seq,
		group: o.group,
		phase: o.phase,
	})
}

func (m *Map[K]) dueAfter(delay time.Duration) int64 { return addSat(m.now, delay) }

// addSat returns at+d, saturating at math.MaxInt64.
func addSat(at int64, d time.Duration) int64 {
	if d > 0 && int64(d) > math.MaxInt64-at {
		return math.MaxInt64
	}
	return at + int64(d)
}

// ScheduleEventBetween inserts id with a delay sampled uniformly from [lo, hi).
//
// Postcondition: hi <= lo schedules with exactly lo.
func (m *Map[K]) ScheduleEventBetween(id K, lo, hi time.Duration, opts ...Option) {
	m.ScheduleEvent(id, dice.Duration(m.src, lo, hi), opts...)
}

// RescheduleEvent cancels every entry for id and schedules a single new one.
func (m *Map[K]) RescheduleEvent(id K, delay time.Duration, opts ...Option) {
	m.CancelEvent(id)
	m.ScheduleEvent(id, delay, opts...)
}

// RescheduleEventBetween is RescheduleEvent with a sampled delay.
func (m *Map[K]) RescheduleEventBetween(id K, lo, hi time.Duration, opts ...Option) {
	m.CancelEvent(id)
	m.ScheduleEventBetween(id, lo, hi, opts...)
}

// Update advances the scheduler clock by delta. Negative deltas are treated
// as zero.
func (m *Map[K]) Update(delta time.Duration) {
	if delta > 0 {
		m.now = addSat(m.now, delta)
	}
}

// ExecuteEvent pops the most-due entry if it is due and returns its id.
//
// Entries are returned in ascending due order, ties in insertion order.
// A due entry tagged with a phase other than the current phase is discarded
// and the search continues.
//
// Postcondition: returns false when no eligible entry is due.
func (m *Map[K]) ExecuteEvent() (K, bool) {
	for len(m.entries) > 0 {
		top := m.entries[0]
		if top.due > m.now {
			break
		}
		heap.Pop(&m.entries)
		if top.phase != 0 && top.phase != m.phase {
			continue
		}
		m.hasLast = true
		m.lastID = top.id
		m.lastGroup = top.group
		m.lastPhase = top.phase
		return top.id, true
	}
	var zero K
	return zero, false
}

// Repeat re-arms the most recently executed entry after delay with its
// original group and phase.
//
// Postcondition: returns false and schedules nothing if no entry has executed
// since construction or the last Reset.
func (m *Map[K]) Repeat(delay time.Duration) bool {
	if !m.hasLast {
		return false
	}
	m.ScheduleEvent(m.lastID, delay, InGroup(m.lastGroup), InPhase(m.lastPhase))
	return true
}

// RepeatBetween is Repeat with a delay sampled from [lo, hi).
func (m *Map[K]) RepeatBetween(lo, hi time.Duration) bool {
	return m.Repeat(dice.Duration(m.src, lo, hi))
}

// CancelEvent removes every entry for id. Unknown ids are a no-op.
func (m *Map[K]) CancelEvent(id K) {
	m.removeIf(func(e *entry[K]) bool { return e.id == id })
}

// CancelEventGroup removes every entry tagged with g. Group zero is ignored.
func (m *Map[K]) CancelEventGroup(g Group) {
	if g == 0 {
		return
	}
	m.removeIf(func(e *entry[K]) bool { return e.group == g })
}

// CancelPhaseEvents removes every entry restricted to phase p. Phase zero is
// ignored.
func (m *Map[K]) CancelPhaseEvents(p Phase) {
	if p == 0 {
		return
	}
	m.removeIf(func(e *entry[K]) bool { return e.phase == p })
}

// DelayEvents pushes every pending entry back by d.
func (m *Map[K]) DelayEvents(d time.Duration) {
	if d <= 0 {
		return
	}
	for _, e := range m.entries {
		e.due = addSat(e.due, d)
	}
	heap.Init(&m.entries)
}

// DelayEventGroup pushes every entry tagged with g back by d.
func (m *Map[K]) DelayEventGroup(g Group, d time.Duration) {
	if g == 0 || d <= 0 {
		return
	}
	changed := false
	for _, e := range m.entries {
		if e.group == g {
			e.due = addSat(e.due, d)
			changed = true
		}
	}
	if changed {
		heap.Init(&m.entries)
	}
}

// TimeUntil returns the remaining time of the soonest entry for id.
// A due entry reports zero.
func (m *Map[K]) TimeUntil(id K) (time.Duration, bool) {
	found := false
	var best int64
	for _, e := range m.entries {
		if e.id != id {
			continue
		}
		if !found || e.due < best {
			best = e.due
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return max(time.Duration(best-m.now), 0), true
}

// Pending reports whether any entry for id is scheduled.
func (m *Map[K]) Pending(id K) bool {
	_, ok := m.TimeUntil(id)
	return ok
}

// SetPhase sets the phase used to gate phase-tagged entries.
func (m *Map[K]) SetPhase(p Phase) { m.phase = p }

// Phase returns the current scheduler phase.
func (m *Map[K]) Phase() Phase { return m.phase }

// Len returns the number of pending entries.
func (m *Map[K]) Len() int { return len(m.entries) }

// Empty reports whether no entries are pending.
func (m *Map[K]) Empty() bool { return len(m.entries) == 0 }

// Reset clears entries, clock, phase and the last-executed record.
//
// Postcondition: ExecuteEvent returns false until new entries are scheduled.
func (m *Map[K]) Reset() {
	clear(m.entries)
	m.entries = m.entries[:0]
	m.now = 0
	m.seq = 0
	m.phase = 0
	m.hasLast = false
	var zero K
	m.lastID = zero
	m.lastGroup = 0
	m.lastPhase = 0
}

// Snapshot returns the pending entries in firing order.
func (m *Map[K]) Snapshot() []Scheduled[K] {
	ordered := slices.Clone(m.entries)
	slices.SortFunc(ordered, func(a, b *entry[K]) int {
		if a.due != b.due {
			if a.due < b.due {
				return -1
			}
			return 1
		}
		if a.seq < b.seq {
			return -1
		}
		return 1
	})
	out := make([]Scheduled[K], 0, len(ordered))
	for _, e := range ordered {
		out = append(out, Scheduled[K]{
			ID:        e.id,
			Remaining: max(time.Duration(e.due-m.now), 0),
			Group:     e.group,
			Phase:     e.phase,
		})
	}
	return out
}

func (m *Map[K]) removeIf(match func(*entry[K]) bool) {
	kept := m.entries[:0]
	removed := false
	for _, e := range m.entries {
		if match(e) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return
	}
	clear(m.entries[len(kept):])
	m.entries = kept
	for i, e := range m.entries {
		e.index = i
	}
	heap.Init(&m.entries)
}
