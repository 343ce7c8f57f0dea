//go:build !tinygo

package hal

import (
	"testing"
	"time"
)

func drainTicks(ch <-chan uint64) (last uint64, n int) {
	for {
		select {
		case seq := <-ch:
			last = seq
			n++
		default:
			return last, n
		}
	}
}

func TestHostTimeStepFollowsClock(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	ht := newHostTimeWithClock(clock)
	ht.step(1)
	if last, n := drainTicks(ht.Ticks()); last != 1 || n != 1 {
		t.Fatalf("first step = (%d, %d ticks), want (1, 1)", last, n)
	}

	now = now.Add(500 * time.Microsecond)
	ht.step(1)
	if _, n := drainTicks(ht.Ticks()); n != 0 {
		t.Fatalf("sub-tick step emitted %d ticks, want 0", n)
	}

	now = now.Add(2600 * time.Microsecond) // 3.1ms accumulated
	ht.step(1)
	if last, n := drainTicks(ht.Ticks()); last != 4 || n != 3 {
		t.Fatalf("step after 3.1ms = (%d, %d ticks), want (4, 3)", last, n)
	}
}
