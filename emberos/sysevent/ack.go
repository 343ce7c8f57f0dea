package sysevent

import (
	"errors"
	"fmt"

	"ember/emberos/kernel"
	"ember/hal"
)

// Acknowledger collects consumer acknowledgments for one event bit at a
// time. The bus holds one implementation, chosen by whether the scheduler
// runs.
type Acknowledger interface {
	// Reset forgets responses recorded for bit index i before its
	// callbacks run.
	Reset(i int)
	// Ack records one consumer response for bit index i.
	Ack(i int) error
	// Await collects up to consumers responses for bit index i and
	// returns how many arrived.
	Await(i int, consumers int) int
}

// counterAcknowledger serves the single thread of control before the
// scheduler starts. Blocking there would deadlock, so consumers bump a
// counter from inside their callback and Await only reads it.
type counterAcknowledger struct {
	t *table
}

func (a counterAcknowledger) Reset(i int) { a.t[i].responses.Store(0) }

func (a counterAcknowledger) Ack(i int) error {
	a.t[i].responses.Add(1)
	return nil
}

func (a counterAcknowledger) Await(i int, consumers int) int {
	got := int(a.t[i].responses.Load())
	if got > consumers {
		got = consumers
	}
	return got
}

// semaphoreAcknowledger is used once the scheduler runs. Each Ack posts the
// bit's semaphore and Await takes one unit per consumer, waiting up to
// timeout for each.
//
// A unit posted after its Await gave up stays in the semaphore and counts
// toward the next broadcast of the same bit.
type semaphoreAcknowledger struct {
	t       *table
	timeout hal.Timeout
}

func (a semaphoreAcknowledger) Reset(i int) { a.t[i].responses.Store(0) }

func (a semaphoreAcknowledger) Ack(i int) error {
	sem := a.t[i].sem
	if sem == nil {
		return nil
	}
	if err := sem.Put(); err != nil {
		if errors.Is(err, hal.ErrSemaphoreOverflow) {
			return fmt.Errorf("ack semaphore full: %w", kernel.StatusQueueFull)
		}
		return err
	}
	return nil
}

func (a semaphoreAcknowledger) Await(i int, consumers int) int {
	sem := a.t[i].sem
	if sem == nil {
		return 0
	}
	got := 0
	for n := 0; n < consumers; n++ {
		err := sem.Get(a.timeout)
		switch {
		case err == nil:
			got++
		case errors.Is(err, hal.ErrTimeout):
			// Keep waiting for the remaining consumers.
		default:
			panic(fmt.Sprintf("sysevent: ack semaphore: %v", err))
		}
	}
	return got
}
