package hlc

import (
	"sync"
	"time"
)

// Clock is a hybrid logical clock used to stamp readings from one producer.
// Stamps are strictly increasing for the lifetime of the Clock even when the
// wall clock stalls or steps backwards, and they stay ahead of stamps from a
// previous process run as long as the wall clock did not go back across the
// restart.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() time.Time
}

// Timestamp is a point on a producer's timeline
type Timestamp struct {
	WallTime int64 `msgpack:"w"` // unix nanoseconds
	Logical  int32 `msgpack:"l"`
}

// NewClock creates a clock backed by time.Now
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// newClockWithSource is used by tests to drive the physical component
func newClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns a timestamp strictly after every timestamp previously returned
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.now().UnixNano()
	if physical > c.last.WallTime {
		c.last = Timestamp{WallTime: physical}
		return c.last
	}

	// Wall clock stalled or went backwards: advance the logical component
	c.last.Logical++
	return c.last
}

// Compare returns -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime < b.WallTime:
		return -1
	case a.WallTime > b.WallTime:
		return 1
	case a.Logical < b.Logical:
		return -1
	case a.Logical > b.Logical:
		return 1
	}
	return 0
}

// After returns true if a happened after b
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// IsZero reports whether the timestamp was never set
func (t Timestamp) IsZero() bool {
	return t.WallTime == 0 && t.Logical == 0
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().UTC().Format(time.RFC3339Nano)
}
