package event_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/event"
)

type evID int

func newMap() *event.Map[evID] {
	return event.New[evID](dice.NewSeededSource(7))
}

func drain(m *event.Map[evID]) []evID {
	var out []evID
	for {
		id, ok := m.ExecuteEvent()
		if !ok {
			return out
		}
		out = append(out, id)
	}
}

func TestScenarioA_SingleEventBecomesDueExactlyOnce(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, 5000*time.Millisecond)

	m.Update(3000 * time.Millisecond)
	_, ok := m.ExecuteEvent()
	assert.False(t, ok)

	m.Update(2000 * time.Millisecond)
	id, ok := m.ExecuteEvent()
	require.True(t, ok)
	assert.Equal(t, evID(1), id)

	_, ok = m.ExecuteEvent()
	assert.False(t, ok)
}

func TestScenarioB_CancelGroupLeavesOtherGroups(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second, event.InGroup(1))
	m.ScheduleEvent(2, time.Second, event.InGroup(2))
	m.CancelEventGroup(1)
	m.Update(time.Second)
	assert.Equal(t, []evID{2}, drain(m))
}

func TestDrain_TiesFireInInsertionOrder(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(10, 100*time.Millisecond)
	m.ScheduleEvent(20, 100*time.Millisecond)
	m.Update(250 * time.Millisecond)
	assert.Equal(t, []evID{10, 20}, drain(m))
}

func TestDrain_AscendingDueOrder(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(3, 300*time.Millisecond)
	m.ScheduleEvent(1, 100*time.Millisecond)
	m.ScheduleEvent(2, 200*time.Millisecond)
	m.Update(time.Second)
	assert.Equal(t, []evID{1, 2, 3}, drain(m))
}

func TestScheduleEvent_NonPositiveDelayIsDueNextDrain(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, 0)
	m.ScheduleEvent(2, -time.Second)
	assert.Equal(t, []evID{2, 1}, drain(m))
}

func TestScheduleEvent_HugeDelaySaturates(t *testing.T) {
	m := newMap()
	m.Update(time.Hour)
	m.ScheduleEvent(1, time.Duration(math.MaxInt64))
	m.ScheduleEvent(2, time.Second)
	m.Update(time.Second)
	assert.Equal(t, []evID{2}, drain(m), "a huge delay never wraps into the past")

	left, ok := m.TimeUntil(1)
	require.True(t, ok)
	assert.Positive(t, left)

	m.DelayEvents(time.Duration(math.MaxInt64))
	m.Update(24 * time.Hour)
	assert.Empty(t, drain(m))
	assert.True(t, m.Pending(1))
}

func TestUpdate_NegativeDeltaSaturates(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second)
	m.Update(-10 * time.Second)
	left, ok := m.TimeUntil(1)
	require.True(t, ok)
	assert.Equal(t, time.Second, left)
}

func TestCancelEvent_RemovesAllEntriesForID(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second)
	m.ScheduleEvent(1, 2*time.Second)
	m.ScheduleEvent(2, time.Second)
	m.CancelEvent(1)
	m.CancelEvent(99)
	m.Update(time.Minute)
	assert.Equal(t, []evID{2}, drain(m))
}

func TestRescheduleEvent_IsIdempotent(t *testing.T) {
	m := newMap()
	m.RescheduleEvent(1, time.Second)
	m.RescheduleEvent(1, 2*time.Second)
	assert.Equal(t, 1, m.Len())
	left, _ := m.TimeUntil(1)
	assert.Equal(t, 2*time.Second, left)
}

func TestScheduleEventBetween_DegenerateRangeUsesMin(t *testing.T) {
	m := newMap()
	m.ScheduleEventBetween(1, 4*time.Second, 2*time.Second)
	left, ok := m.TimeUntil(1)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, left)
}

func TestPhaseGating_OutOfPhaseEntryIsDiscarded(t *testing.T) {
	m := newMap()
	m.SetPhase(1)
	m.ScheduleEvent(1, time.Second, event.InPhase(1))
	m.ScheduleEvent(2, time.Second, event.InPhase(2))
	m.ScheduleEvent(3, time.Second)
	m.Update(time.Second)
	assert.Equal(t, []evID{1, 3}, drain(m))
	assert.True(t, m.Empty())
}

func TestCancelPhaseEvents(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second, event.InPhase(2))
	m.ScheduleEvent(2, time.Second)
	m.CancelPhaseEvents(2)
	assert.False(t, m.Pending(1))
	assert.True(t, m.Pending(2))
}

func TestRepeat_KeepsGroupAndPhase(t *testing.T) {
	m := newMap()
	assert.False(t, m.Repeat(time.Second))

	m.SetPhase(3)
	m.ScheduleEvent(1, 0, event.InGroup(5), event.InPhase(3))
	id, ok := m.ExecuteEvent()
	require.True(t, ok)
	require.Equal(t, evID(1), id)
	require.True(t, m.Repeat(time.Second))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, event.Group(5), snap[0].Group)
	assert.Equal(t, event.Phase(3), snap[0].Phase)
	assert.Equal(t, time.Second, snap[0].Remaining)

	m.CancelEventGroup(5)
	assert.True(t, m.Empty())
}

func TestDelayEventGroup_ReordersHeap(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second, event.InGroup(1))
	m.ScheduleEvent(2, 2*time.Second)
	m.DelayEventGroup(1, 5*time.Second)
	m.Update(10 * time.Second)
	assert.Equal(t, []evID{2, 1}, drain(m))
}

func TestDelayEvents_ShiftsEverything(t *testing.T) {
	m := newMap()
	m.ScheduleEvent(1, time.Second)
	m.DelayEvents(time.Second)
	m.Update(time.Second)
	assert.Empty(t, drain(m))
	m.Update(time.Second)
	assert.Equal(t, []evID{1}, drain(m))
}

func TestReset_ClearsEverything(t *testing.T) {
	m := newMap()
	m.SetPhase(2)
	m.ScheduleEvent(1, 0)
	_, _ = m.ExecuteEvent()
	m.ScheduleEvent(2, time.Second)
	m.Reset()
	assert.True(t, m.Empty())
	assert.Equal(t, event.Phase(0), m.Phase())
	assert.False(t, m.Repeat(time.Second))
	m.Update(time.Hour)
	_, ok := m.ExecuteEvent()
	assert.False(t, ok)
}

// TestProperty_MonotonicDueness checks that an event never fires before its
// delay has elapsed and fires exactly once after.
func TestProperty_MonotonicDueness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newMap()
		delay := time.Duration(rapid.IntRange(0, 10_000).Draw(rt, "delay")) * time.Millisecond
		m.ScheduleEvent(1, delay)
		steps := rapid.SliceOfN(rapid.IntRange(-50, 2_000), 1, 40).Draw(rt, "steps")
		var elapsed time.Duration
		fired := 0
		for _, s := range steps {
			d := time.Duration(s) * time.Millisecond
			m.Update(d)
			if d > 0 {
				elapsed += d
			}
			for _, id := range drain(m) {
				if id != 1 {
					rt.Fatalf("unexpected id %d", id)
				}
				if elapsed < delay {
					rt.Fatalf("fired at %v before delay %v", elapsed, delay)
				}
				fired++
			}
		}
		if elapsed >= delay && fired != 1 {
			rt.Fatalf("fired %d times after %v (delay %v)", fired, elapsed, delay)
		}
		if elapsed < delay && fired != 0 {
			rt.Fatalf("fired early")
		}
	})
}

// TestProperty_DrainOrder checks the drain is sorted by due time, then insertion.
func TestProperty_DrainOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newMap()
		delays := rapid.SliceOfN(rapid.IntRange(0, 20), 1, 50).Draw(rt, "delays")
		for i, d := range delays {
			m.ScheduleEvent(evID(i), time.Duration(d)*time.Millisecond)
		}
		m.Update(time.Second)
		got := drain(m)
		if len(got) != len(delays) {
			rt.Fatalf("drained %d of %d", len(got), len(delays))
		}
		for i := 1; i < len(got); i++ {
			a, b := got[i-1], got[i]
			if delays[a] > delays[b] || (delays[a] == delays[b] && a > b) {
				rt.Fatalf("order violated at %d: %v", i, got)
			}
		}
	})
}

// TestProperty_CancelGroupIsPrecise checks cancelled groups never fire and
// other groups are unaffected.
func TestProperty_CancelGroupIsPrecise(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newMap()
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		groups := make(map[evID]event.Group, n)
		for i := 0; i < n; i++ {
			g := event.Group(rapid.IntRange(0, 3).Draw(rt, "group"))
			groups[evID(i)] = g
			m.ScheduleEvent(evID(i), time.Duration(rapid.IntRange(0, 5_000).Draw(rt, "delay"))*time.Millisecond, event.InGroup(g))
		}
		cancelled := event.Group(rapid.IntRange(1, 3).Draw(rt, "cancel"))
		m.CancelEventGroup(cancelled)
		m.Update(time.Hour)
		seen := 0
		for _, id := range drain(m) {
			if groups[id] == cancelled {
				rt.Fatalf("cancelled id %d fired", id)
			}
			seen++
		}
		want := 0
		for _, g := range groups {
			if g != cancelled {
				want++
			}
		}
		if seen != want {
			rt.Fatalf("fired %d, want %d", seen, want)
		}
	})
}
