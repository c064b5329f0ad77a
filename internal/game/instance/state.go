// Package instance holds the persistent per-dungeon encounter state that
// boss controllers report into.
package instance

import "fmt"

// BossState is the stored progress of one boss encounter.
type BossState int

const (
	NotStarted BossState = iota
	InProgress
	Fail
	Done
	Special
)

var bossStateNames = [...]string{"not_started", "in_progress", "fail", "done", "special"}

// String returns the snake_case name of s.
func (s BossState) String() string {
	if s < 0 || int(s) >= len(bossStateNames) {
		return fmt.Sprintf("boss_state(%d)", int(s))
	}
	return bossStateNames[s]
}

// Valid reports whether s is a known state.
func (s BossState) Valid() bool {
	return s >= NotStarted && s <= Special
}

// ParseBossState converts a name produced by String back to a BossState.
func ParseBossState(name string) (BossState, error) {
	for i, n := range bossStateNames {
		if n == name {
			return BossState(i), nil
		}
	}
	return 0, fmt.Errorf("instance: unknown boss state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s BossState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BossState) UnmarshalText(b []byte) error {
	v, err := ParseBossState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
