// Package eventflag implements 64-bit event flag groups: threads wait for any
// of a set of bits, and setters wake every waiter whose bits are pending.
package eventflag

import (
	"errors"
	"fmt"
	"sync/atomic"

	"ember/emberos/kernel"
	"ember/hal"

	"github.com/gammazero/deque"
)

// Flags is a 64-bit condition bitmap.
type Flags uint64

// Group is an event flag group. It is created and destroyed explicitly by
// its owner.
//
// The group never owns its waiters: a waiter is allocated and freed by the
// Get call that parks it, and the group only holds a reference while the
// waiter is linked.
type Group struct {
	port hal.Port
	cs   hal.CriticalSection

	flags Flags
	// waiters holds parked waiters, most recently parked at the front.
	waiters   deque.Deque[*waiter]
	destroyed bool
}

// waiter states. Exactly one of Set, Destroy or the timing-out Get moves a
// waiter out of waiterParked.
const (
	waiterParked int32 = iota
	waiterSignaled
	waiterDeleted
	waiterTimedOut
)

type waiter struct {
	mask  Flags
	got   Flags
	sem   hal.Semaphore
	state atomic.Int32
}

func (w *waiter) claim(state int32) bool {
	return w.state.CompareAndSwap(waiterParked, state)
}

// New creates a group with the given initial bitmap.
func New(port hal.Port, initial Flags) (*Group, error) {
	if port == nil {
		return nil, fmt.Errorf("eventflag: nil port: %w", kernel.StatusInvalidArgument)
	}
	cs, err := port.CreateCriticalSection()
	if err != nil {
		return nil, fmt.Errorf("eventflag critical section: %w", err)
	}
	return &Group{port: port, cs: cs, flags: initial}, nil
}

// Peek returns the pending bits.
func (g *Group) Peek() Flags {
	g.cs.Enter()
	defer g.cs.Leave()
	return g.flags
}

// Set raises flags and wakes every waiter whose mask intersects the
// resulting bitmap. Each woken waiter receives the bits this call changed
// within its mask, and the bits it matched are consumed.
//
// A waiter can match on bits that were already pending before this call;
// the wake test uses the whole bitmap, not only the changed bits.
func (g *Group) Set(flags Flags) error {
	g.cs.Enter()
	defer g.cs.Leave()
	return g.set(flags)
}

// SetFromISR is Set for interrupt handlers. It skips the critical section,
// which interrupt context already excludes.
func (g *Group) SetFromISR(flags Flags) error {
	g.mustInterrupt("SetFromISR")
	return g.set(flags)
}

func (g *Group) set(flags Flags) error {
	if g.destroyed {
		return kernel.StatusEventFlagDeleted
	}

	final := g.flags | flags
	changed := final ^ g.flags
	if changed == 0 {
		return nil
	}
	g.flags = final

	var consumed Flags
	for i := 0; i < g.waiters.Len(); {
		w := g.waiters.At(i)
		if w.mask&final == 0 {
			i++
			continue
		}
		g.waiters.Remove(i)
		if !w.claim(waiterSignaled) {
			// Timed out concurrently; it gets nothing and consumes nothing.
			continue
		}
		w.got = changed & w.mask
		consumed |= w.mask & final
		wake(w.sem)
	}
	g.flags &^= consumed
	return nil
}

// Get waits up to timeout for any bit in mask. It returns and consumes the
// matching bits: the pending ones when they are already set, otherwise the
// bits delivered by the Set that woke the caller.
//
// A group destroyed during the wait yields StatusEventFlagDeleted.
func (g *Group) Get(mask Flags, timeout hal.Timeout) (Flags, error) {
	if mask == 0 {
		return 0, kernel.StatusInvalidArgument
	}

	g.cs.Enter()
	if got, done, err := g.take(mask); done {
		g.cs.Leave()
		return got, err
	}
	if timeout == hal.NoWait {
		g.cs.Leave()
		return 0, kernel.StatusTimeout
	}

	sem, err := g.port.CreateSemaphore(0, 1)
	if err != nil {
		g.cs.Leave()
		return 0, fmt.Errorf("eventflag waiter: %w", kernel.StatusOutOfMemory)
	}
	w := &waiter{mask: mask, sem: sem}
	g.waiters.PushFront(w)
	g.cs.Leave()

	defer sem.Destroy()

	err = sem.Get(timeout)
	switch {
	case err == nil:
	case errors.Is(err, hal.ErrTimeout):
		if w.claim(waiterTimedOut) {
			g.unlink(w)
			return 0, kernel.StatusTimeout
		}
		// Set or Destroy claimed the waiter first; its wakeup is in flight.
		if err := sem.Get(hal.WaitForever); err != nil {
			panic(fmt.Sprintf("eventflag: waiter semaphore: %v", err))
		}
	default:
		panic(fmt.Sprintf("eventflag: waiter semaphore: %v", err))
	}

	if w.state.Load() == waiterDeleted {
		return 0, kernel.StatusEventFlagDeleted
	}
	return w.got, nil
}

// GetFromISR is Get for interrupt handlers. It only takes bits that are
// already pending and never waits: no match yields StatusTimeout.
func (g *Group) GetFromISR(mask Flags) (Flags, error) {
	g.mustInterrupt("GetFromISR")
	if mask == 0 {
		return 0, kernel.StatusInvalidArgument
	}
	if got, done, err := g.take(mask); done {
		return got, err
	}
	return 0, kernel.StatusTimeout
}

// take consumes the pending bits in mask. done is false when nothing matched.
func (g *Group) take(mask Flags) (got Flags, done bool, err error) {
	if g.destroyed {
		return 0, true, kernel.StatusEventFlagDeleted
	}
	got = g.flags & mask
	if got == 0 {
		return 0, false, nil
	}
	g.flags &^= got
	return got, true, nil
}

// unlink removes w by identity. Set may already have removed it.
func (g *Group) unlink(w *waiter) {
	g.cs.Enter()
	defer g.cs.Leave()
	if i := g.waiters.Index(func(x *waiter) bool { return x == w }); i >= 0 {
		g.waiters.Remove(i)
	}
}

// Destroy wakes every parked waiter with StatusEventFlagDeleted and retires
// the group. Woken waiters free their own state and never touch the group
// again.
func (g *Group) Destroy() {
	g.cs.Enter()
	if g.destroyed {
		g.cs.Leave()
		return
	}
	g.destroyed = true
	for g.waiters.Len() > 0 {
		w := g.waiters.PopFront()
		if w.claim(waiterDeleted) {
			w.got = 0
			wake(w.sem)
		}
	}
	g.cs.Leave()
	g.cs.Destroy()
}

func (g *Group) mustInterrupt(op string) {
	if !g.port.IsInterrupt() {
		panic("eventflag: " + op + " outside interrupt context")
	}
}

func wake(sem hal.Semaphore) {
	if err := sem.Put(); err != nil {
		panic(fmt.Sprintf("eventflag: wake waiter: %v", err))
	}
}
