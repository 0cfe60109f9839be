package hlc

import (
	"testing"
	"time"
)

func TestClock_MonotonicIncrement(t *testing.T) {
	clock := NewClock()

	timestamps := make([]Timestamp, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = clock.Now()
	}

	for i := 1; i < len(timestamps); i++ {
		if !After(timestamps[i], timestamps[i-1]) {
			t.Errorf("Timestamp %d not after %d", i, i-1)
		}
	}
}

func TestClock_StalledWallClock(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	clock := newClockWithSource(func() time.Time { return fixed })

	ts1 := clock.Now()
	ts2 := clock.Now()

	if ts1.WallTime != fixed.UnixNano() {
		t.Fatalf("expected wall time %d, got %d", fixed.UnixNano(), ts1.WallTime)
	}
	if ts2.WallTime != ts1.WallTime {
		t.Errorf("wall time should not change when clock stalls")
	}
	if ts2.Logical != ts1.Logical+1 {
		t.Errorf("expected logical %d, got %d", ts1.Logical+1, ts2.Logical)
	}
}

func TestClock_WallClockSteppedBack(t *testing.T) {
	current := time.Unix(1700000000, 0)
	clock := newClockWithSource(func() time.Time { return current })

	ts1 := clock.Now()
	current = current.Add(-time.Second)
	ts2 := clock.Now()

	if !After(ts2, ts1) {
		t.Errorf("timestamp after backwards step must still be newer: %v <= %v", ts2, ts1)
	}

	current = current.Add(2 * time.Second)
	ts3 := clock.Now()
	if ts3.Logical != 0 {
		t.Errorf("logical should reset once wall time advances, got %d", ts3.Logical)
	}
	if !After(ts3, ts2) {
		t.Errorf("expected ts3 after ts2")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"equal", Timestamp{10, 1}, Timestamp{10, 1}, 0},
		{"wall less", Timestamp{9, 5}, Timestamp{10, 0}, -1},
		{"wall greater", Timestamp{11, 0}, Timestamp{10, 5}, 1},
		{"logical less", Timestamp{10, 0}, Timestamp{10, 1}, -1},
		{"logical greater", Timestamp{10, 2}, Timestamp{10, 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTimestamp_IsZero(t *testing.T) {
	if !(Timestamp{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
	if NewClock().Now().IsZero() {
		t.Error("clock output should not be zero")
	}
}
