package types

import "time"

// IntervalPolicy maps an entry's write time to its freshness deadline.
// Policies must be deterministic: the same createdAt always yields the same
// deadline.
type IntervalPolicy interface {
	// Deadline returns the moment an entry written at createdAt stops
	// being fresh. A zero time means the entry never expires.
	Deadline(createdAt time.Time) time.Time
}
