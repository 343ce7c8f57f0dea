package hal

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// countingSemaphore adapts a weighted semaphore to the count/ceiling model.
//
// The weighted semaphore tracks units in use; available units are kept in
// count. count is raised before Release and lowered after Acquire, so it never
// under-reports and a Put that passes the ceiling check always has a held unit
// to release.
//
// Waiters acquire under alive, which Destroy cancels.
type countingSemaphore struct {
	w         *semaphore.Weighted
	count     atomic.Int64
	max       int64
	destroyed atomic.Bool
	alive     context.Context
	kill      context.CancelFunc
}

func newCountingSemaphore(initial, max int) (*countingSemaphore, error) {
	if max <= 0 || initial < 0 || initial > max {
		return nil, fmt.Errorf("semaphore initial=%d max=%d: %w", initial, max, ErrInvalidArgument)
	}
	w := semaphore.NewWeighted(int64(max))
	if held := int64(max - initial); held > 0 {
		if !w.TryAcquire(held) {
			return nil, fmt.Errorf("semaphore reserve %d: %w", held, ErrInvalidArgument)
		}
	}
	alive, kill := context.WithCancel(context.Background())
	s := &countingSemaphore{w: w, max: int64(max), alive: alive, kill: kill}
	s.count.Store(int64(initial))
	return s, nil
}

func (s *countingSemaphore) Get(timeout Timeout) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	switch timeout {
	case NoWait:
		if !s.w.TryAcquire(1) {
			return ErrTimeout
		}
	case WaitForever:
		if err := s.w.Acquire(s.alive, 1); err != nil {
			return ErrDestroyed
		}
	default:
		ctx, cancel := context.WithTimeout(s.alive, timeout.Duration())
		err := s.w.Acquire(ctx, 1)
		cancel()
		if err != nil {
			if s.alive.Err() != nil {
				return ErrDestroyed
			}
			return ErrTimeout
		}
	}
	s.count.Add(-1)
	return nil
}

func (s *countingSemaphore) Put() error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	for {
		c := s.count.Load()
		if c >= s.max {
			return ErrSemaphoreOverflow
		}
		if s.count.CompareAndSwap(c, c+1) {
			break
		}
	}
	s.w.Release(1)
	return nil
}

func (s *countingSemaphore) Count() int {
	return int(s.count.Load())
}

// Destroy fails every later call and releases parked Get callers with
// ErrDestroyed.
func (s *countingSemaphore) Destroy() {
	s.destroyed.Store(true)
	s.kill()
}
