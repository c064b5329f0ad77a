// Package dice provides the randomness abstraction shared by the encounter
// scheduler, the summon list and the simulated host.
package dice

import "time"

// Source is the randomness provider.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// Duration returns a duration sampled uniformly from [lo, hi) at millisecond
// granularity.
//
// Postcondition: Returns lo when hi <= lo or the range is narrower than one
// millisecond; otherwise lo <= d < hi.
func Duration(src Source, lo, hi time.Duration) time.Duration {
	span := int((hi - lo) / time.Millisecond)
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(src.Intn(span))*time.Millisecond
}

// Between returns an int sampled uniformly from [lo, hi].
//
// Postcondition: Returns lo when hi <= lo.
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}

// Shuffle permutes n elements in place with a Fisher-Yates pass, calling swap
// to exchange elements i and j.
//
// Precondition: n >= 0; swap must not be nil.
func Shuffle(src Source, n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		swap(i, j)
	}
}

// Chance reports true with probability pct/100.
//
// Postcondition: Always false for pct <= 0; always true for pct >= 100.
func Chance(src Source, pct int) bool {
	switch {
	case pct <= 0:
		return false
	case pct >= 100:
		return true
	}
	return src.Intn(100) < pct
}
