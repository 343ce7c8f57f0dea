// Package sysevent is the system-wide broadcast bus that sequences startup
// and shutdown phases across subsystems.
//
// Subsystems register callbacks on event bits during startup. A broadcast
// runs every callback of each bit synchronously and then waits for each
// consumer to acknowledge, so the broadcaster knows the phase is complete.
package sysevent

import (
	"fmt"
	"strings"
	"sync/atomic"

	"ember/emberos/kernel"
	"ember/hal"

	"github.com/gammazero/deque"
)

// Callback receives one event bit and the broadcast message.
type Callback func(event Event, msg any)

type consumer struct {
	name string
	fn   Callback
}

type entry struct {
	// consumers is ordered most recently registered first.
	consumers deque.Deque[consumer]
	// sem is created with the first consumer, before registered counts it.
	sem        hal.Semaphore
	registered atomic.Int32
	responses  atomic.Int32
	// busy is held by the broadcast currently running this bit.
	busy atomic.Bool
}

type table [TypeCount]entry

// Bus is the broadcast bus. The table lives for the process; there is no
// teardown.
type Bus struct {
	port hal.Port
	log  hal.Logger
	cfg  kernel.Config

	cs hal.CriticalSection
	t  table

	ack     atomic.Pointer[ackBox]
	started atomic.Bool
}

// ackBox gives the swapped strategies one concrete type to store.
type ackBox struct{ a Acknowledger }

// New initializes the bus. The acknowledgment strategy follows
// port.SchedulerRunning.
func New(port hal.Port, log hal.Logger, cfg kernel.Config) (*Bus, error) {
	if port == nil {
		return nil, fmt.Errorf("sysevent: nil port: %w", kernel.StatusInvalidArgument)
	}
	if log == nil {
		log = hal.NopLogger
	}
	cfg = cfg.WithDefaults()

	cs, err := port.CreateCriticalSection()
	if err != nil {
		return nil, fmt.Errorf("sysevent critical section: %w", err)
	}

	b := &Bus{port: port, log: log, cfg: cfg, cs: cs}
	b.ack.Store(&ackBox{a: counterAcknowledger{t: &b.t}})
	if port.SchedulerRunning() {
		b.SchedulerStarted()
	}
	return b, nil
}

// SchedulerStarted switches acknowledgments from same-thread counters to
// semaphores. Call it once the scheduler runs; later calls do nothing.
func (b *Bus) SchedulerStarted() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.ack.Store(&ackBox{a: semaphoreAcknowledger{
		t:       &b.t,
		timeout: hal.TimeoutOf(b.cfg.AckTimeout),
	}})
}

func (b *Bus) acknowledger() Acknowledger {
	return b.ack.Load().a
}

// Register adds fn as a consumer of every bit in events. Registration
// belongs to startup, before the first Signal of those bits.
func (b *Bus) Register(events Event, name string, fn Callback) error {
	if events == 0 || events&^All != 0 || fn == nil {
		return fmt.Errorf("sysevent register %q on %s: %w", name, events, kernel.StatusInvalidArgument)
	}

	b.cs.Enter()
	defer b.cs.Leave()

	var err error
	events.each(func(i int, bit Event) {
		if err != nil {
			return
		}
		e := &b.t[i]
		if e.sem == nil {
			sem, semErr := b.port.CreateSemaphore(0, b.cfg.SemaphoreCeiling)
			if semErr != nil {
				err = fmt.Errorf("sysevent register %q on %s: %w", name, bit, kernel.StatusOutOfMemory)
				return
			}
			e.sem = sem
		}
		e.consumers.PushFront(consumer{name: name, fn: fn})
		e.registered.Add(1)
	})
	return err
}

// Consumers returns the number of consumers registered on the bits in events.
// It takes no lock and may be called from an interrupt handler.
func (b *Bus) Consumers(events Event) int {
	n := 0
	events.each(func(i int, _ Event) {
		if i < TypeCount {
			n += int(b.t[i].registered.Load())
		}
	})
	return n
}

func (b *Bus) snapshot(i int) []consumer {
	b.cs.Enter()
	defer b.cs.Leave()
	e := &b.t[i]
	out := make([]consumer, e.consumers.Len())
	for k := range out {
		out[k] = e.consumers.At(k)
	}
	return out
}

// Signal broadcasts msg on every bit in events. For each bit with consumers
// it runs their callbacks, most recently registered first, then collects one
// acknowledgment per consumer.
//
// A consumer that fails to acknowledge is logged and yields
// StatusMissingSignal once every bit has been processed.
//
// Broadcasts of one bit never overlap. A callback may signal other bits, but
// a bit that is already being broadcast, by this thread or another, is
// skipped and the call returns StatusInvalidArgument.
func (b *Bus) Signal(events Event, msg any) error {
	if events&^All != 0 {
		return fmt.Errorf("sysevent signal %s: %w", events, kernel.StatusInvalidArgument)
	}

	ack := b.acknowledger()
	missing, busy := false, false
	events.each(func(i int, bit Event) {
		e := &b.t[i]
		if e.registered.Load() == 0 {
			return
		}
		if !e.busy.CompareAndSwap(false, true) {
			busy = true
			b.log.WriteLineString(fmt.Sprintf("sysevent: %s: broadcast already in progress", bit))
			return
		}
		defer e.busy.Store(false)

		consumers := b.snapshot(i)

		ack.Reset(i)
		for _, c := range consumers {
			c.fn(bit, msg)
		}

		got := ack.Await(i, len(consumers))
		if got < len(consumers) {
			missing = true
			b.log.WriteLineString(fmt.Sprintf(
				"sysevent: %s: %d of %d consumers did not ack (%s)",
				bit, len(consumers)-got, len(consumers), names(consumers),
			))
		}
	})

	switch {
	case busy:
		return fmt.Errorf("sysevent signal %s: broadcast in progress: %w", events, kernel.StatusInvalidArgument)
	case missing:
		return kernel.StatusMissingSignal
	}
	return nil
}

// Ack acknowledges the bits in events on behalf of one consumer. Before the
// scheduler starts it must be called from inside the consumer's callback.
// Ack never enters a critical section, so interrupt handlers may call it.
func (b *Bus) Ack(events Event) error {
	if events&^All != 0 {
		return fmt.Errorf("sysevent ack %s: %w", events, kernel.StatusInvalidArgument)
	}
	ack := b.acknowledger()
	var err error
	events.each(func(i int, bit Event) {
		if b.Consumers(bit) == 0 {
			return
		}
		if ackErr := ack.Ack(i); ackErr != nil && err == nil {
			err = fmt.Errorf("sysevent ack %s: %w", bit, ackErr)
		}
	})
	return err
}

func names(consumers []consumer) string {
	parts := make([]string, len(consumers))
	for i, c := range consumers {
		parts[i] = c.name
	}
	return strings.Join(parts, ", ")
}
