//go:build !tinygo

package hal

import "time"

const hostTickPeriod = time.Millisecond

// hostTime converts frame steps into 1ms ticks. Frames arrive at the window
// or headless rate, so each step emits as many ticks as wall time advanced.
type hostTime struct {
	ch    chan uint64
	seq   uint64
	clock func() time.Time

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return newHostTimeWithClock(time.Now)
}

func newHostTimeWithClock(clock func() time.Time) *hostTime {
	return &hostTime{ch: make(chan uint64, 1024), clock: clock}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits the ticks elapsed since the previous step. The first step emits
// n ticks to start the timebase.
func (t *hostTime) step(n uint64) {
	now := t.clock()
	if t.last.IsZero() {
		t.last = now
		t.emit(n)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / hostTickPeriod)
	if ticks == 0 {
		return
	}
	t.acc %= hostTickPeriod
	t.emit(ticks)
}

// emit drops ticks when nobody drains the channel; consumers read the
// latest sequence number, not a count.
func (t *hostTime) emit(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
