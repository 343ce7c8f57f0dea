// Package queue implements the bounded message queue: a fixed-capacity ring
// of items guarded by a critical section, with a "room" semaphore counting
// free slots and an "items" semaphore counting queued items.
package queue

import (
	"errors"
	"fmt"
	"sync/atomic"

	"ember/emberos/kernel"
	"ember/hal"
)

// Queue is a fixed-capacity FIFO of T values. Items are copied in and out.
//
// A Queue has a single owner, which creates it with New and calls Destroy
// exactly once.
type Queue[T any] struct {
	port  hal.Port
	cs    hal.CriticalSection
	room  hal.Semaphore
	items hal.Semaphore

	slots []T
	head  int // next write slot
	tail  int // next read slot
	live  int

	overwrite atomic.Bool
	destroyed atomic.Bool
}

// New creates a queue holding up to capacity items.
func New[T any](port hal.Port, capacity int) (*Queue[T], error) {
	if port == nil || capacity <= 0 {
		return nil, fmt.Errorf("queue capacity %d: %w", capacity, kernel.StatusInvalidArgument)
	}

	cs, err := port.CreateCriticalSection()
	if err != nil {
		return nil, fmt.Errorf("queue critical section: %w", err)
	}
	room, err := port.CreateSemaphore(capacity, capacity)
	if err != nil {
		cs.Destroy()
		return nil, fmt.Errorf("queue room semaphore: %w", err)
	}
	items, err := port.CreateSemaphore(0, capacity)
	if err != nil {
		room.Destroy()
		cs.Destroy()
		return nil, fmt.Errorf("queue items semaphore: %w", err)
	}

	return &Queue[T]{
		port:  port,
		cs:    cs,
		room:  room,
		items: items,
		slots: make([]T, capacity),
	}, nil
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return len(q.slots) }

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.cs.Enter()
	defer q.cs.Leave()
	return q.live
}

// SetFIFOMode enables or disables overwrite-on-full. With the mode enabled a
// Put into a full queue discards the oldest item instead of waiting.
func (q *Queue[T]) SetFIFOMode(enabled bool) {
	q.overwrite.Store(enabled)
}

// Get removes the oldest item, waiting up to timeout for one to arrive.
func (q *Queue[T]) Get(timeout hal.Timeout) (T, error) {
	var zero T
	if q.destroyed.Load() {
		return zero, kernel.StatusDestroyed
	}
	if err := wait(q.items, timeout); err != nil {
		return zero, err
	}

	q.cs.Enter()
	item := q.pop()
	q.cs.Leave()
	return item, nil
}

// Put appends item, waiting up to timeout for room. A full queue fails with
// StatusQueueFull when timeout is NoWait and StatusTimeout otherwise.
//
// In FIFO mode Put always succeeds without waiting on room: it drops the
// oldest item when full, and yields while every free slot is reserved by a
// writer that has not stored its item yet.
func (q *Queue[T]) Put(item T, timeout hal.Timeout) error {
	if q.destroyed.Load() {
		return kernel.StatusDestroyed
	}
	if q.overwrite.Load() {
		for {
			q.cs.Enter()
			err := q.putOverwrite(item)
			q.cs.Leave()
			if !errors.Is(err, kernel.StatusQueueFull) {
				return err
			}
			q.port.Yield()
			if q.destroyed.Load() {
				return kernel.StatusDestroyed
			}
		}
	}

	if err := wait(q.room, timeout); err != nil {
		if timeout == hal.NoWait && errors.Is(err, kernel.StatusTimeout) {
			return kernel.StatusQueueFull
		}
		return err
	}

	q.cs.Enter()
	q.push(item)
	q.cs.Leave()
	return nil
}

// PutFromISR is Put for interrupt handlers: it never blocks and runs without
// the critical section, which interrupt context already excludes.
//
// In FIFO mode it fails with StatusQueueFull only when the queue is empty and
// every slot is reserved by an interrupted writer.
func (q *Queue[T]) PutFromISR(item T) error {
	q.mustInterrupt("PutFromISR")
	if q.destroyed.Load() {
		return kernel.StatusDestroyed
	}
	if q.overwrite.Load() {
		return q.putOverwrite(item)
	}
	if err := wait(q.room, hal.NoWait); err != nil {
		if errors.Is(err, kernel.StatusTimeout) {
			return kernel.StatusQueueFull
		}
		return err
	}
	q.push(item)
	return nil
}

// GetFromISR is Get for interrupt handlers: an empty queue fails with
// StatusTimeout immediately.
func (q *Queue[T]) GetFromISR() (T, error) {
	q.mustInterrupt("GetFromISR")
	var zero T
	if q.destroyed.Load() {
		return zero, kernel.StatusDestroyed
	}
	if err := wait(q.items, hal.NoWait); err != nil {
		return zero, err
	}
	return q.pop(), nil
}

// Destroy releases the semaphores and the critical section. Later calls on
// the queue fail with StatusDestroyed.
func (q *Queue[T]) Destroy() {
	if !q.destroyed.CompareAndSwap(false, true) {
		return
	}
	q.items.Destroy()
	q.room.Destroy()
	q.cs.Destroy()
}

// push writes at head. The caller holds a room unit and excludes other
// writers.
func (q *Queue[T]) push(item T) {
	q.slots[q.head] = item
	q.head = (q.head + 1) % len(q.slots)
	q.live++
	signal(q.items)
}

// pop reads at tail. The caller holds an items unit and excludes other
// readers.
func (q *Queue[T]) pop() T {
	var zero T
	item := q.slots[q.tail]
	q.slots[q.tail] = zero
	q.tail = (q.tail + 1) % len(q.slots)
	q.live--
	signal(q.room)
	return item
}

// putOverwrite is the FIFO-mode write. When the queue is full, or a
// concurrent non-FIFO writer holds the last free slot, the oldest item is
// discarded and its room and items units carry over to the new item. It
// reports StatusQueueFull when nothing is queued and no slot is free.
func (q *Queue[T]) putOverwrite(item T) error {
	if q.live < len(q.slots) && wait(q.room, hal.NoWait) == nil {
		q.push(item)
		return nil
	}
	if q.live == 0 {
		return kernel.StatusQueueFull
	}

	var zero T
	q.slots[q.tail] = zero
	q.tail = (q.tail + 1) % len(q.slots)

	q.slots[q.head] = item
	q.head = (q.head + 1) % len(q.slots)
	return nil
}

func (q *Queue[T]) mustInterrupt(op string) {
	if !q.port.IsInterrupt() {
		panic("queue: " + op + " outside interrupt context")
	}
}

func wait(s hal.Semaphore, timeout hal.Timeout) error {
	err := s.Get(timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrTimeout):
		return kernel.StatusTimeout
	case errors.Is(err, hal.ErrDestroyed):
		return kernel.StatusDestroyed
	default:
		panic(fmt.Sprintf("queue: semaphore get: %v", err))
	}
}

func signal(s hal.Semaphore) {
	if err := s.Put(); err != nil && !errors.Is(err, hal.ErrDestroyed) {
		panic(fmt.Sprintf("queue: semaphore put: %v", err))
	}
}
