package queue

import (
	"sort"
	"testing"
	"time"

	"ember/emberos/kernel"
	"ember/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newQueue[T any](t *testing.T, port hal.Port, capacity int) *Queue[T] {
	t.Helper()
	q, err := New[T](port, capacity)
	require.NoError(t, err)
	t.Cleanup(q.Destroy)
	return q
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New[int](hal.NewPort(), 0)
	require.ErrorIs(t, err, kernel.StatusInvalidArgument)
}

func TestPutGetCapacityFour(t *testing.T) {
	q := newQueue[int](t, hal.NewPort(), 4)

	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Put(i, hal.NoWait), "Put(%d)", i)
	}
	require.ErrorIs(t, q.Put(5, hal.NoWait), kernel.StatusQueueFull)

	v, err := q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, q.Put(5, hal.NoWait))

	for _, want := range []int{2, 3, 4, 5} {
		v, err := q.Get(hal.NoWait)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestFIFOModeKeepsNewest(t *testing.T) {
	const (
		capacity = 4
		extra    = 3
	)
	q := newQueue[int](t, hal.NewPort(), capacity)
	q.SetFIFOMode(true)

	for i := 0; i < capacity+extra; i++ {
		require.NoError(t, q.Put(i, hal.NoWait), "Put(%d)", i)
	}
	require.Equal(t, capacity, q.Len())

	for i := extra; i < capacity+extra; i++ {
		v, err := q.Get(hal.NoWait)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err := q.Get(hal.NoWait)
	require.ErrorIs(t, err, kernel.StatusTimeout)

	// Semaphores stay in step after overwrites: the queue refills to capacity.
	q.SetFIFOMode(false)
	for i := 0; i < capacity; i++ {
		require.NoError(t, q.Put(i, hal.NoWait))
	}
	require.ErrorIs(t, q.Put(99, hal.NoWait), kernel.StatusQueueFull)
}

func TestGetTimesOutOnEmptyQueue(t *testing.T) {
	q := newQueue[int](t, hal.NewPort(), 2)

	start := time.Now()
	_, err := q.Get(hal.Milliseconds(20))
	require.ErrorIs(t, err, kernel.StatusTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestPutBoundedWaitTimesOut(t *testing.T) {
	q := newQueue[int](t, hal.NewPort(), 1)
	require.NoError(t, q.Put(1, hal.NoWait))

	require.ErrorIs(t, q.Put(2, hal.Milliseconds(10)), kernel.StatusTimeout)

	v, err := q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBlockedPutResumesAfterGet(t *testing.T) {
	q := newQueue[string](t, hal.NewPort(), 1)
	require.NoError(t, q.Put("first", hal.NoWait))

	done := make(chan error, 1)
	go func() { done <- q.Put("second", hal.WaitForever) }()

	select {
	case err := <-done:
		t.Fatalf("Put() returned %v while full, want block", err)
	case <-time.After(20 * time.Millisecond):
	}

	v, err := q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked Put")
	}

	v, err = q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestConcurrentProducersDeliverEachItemOnce(t *testing.T) {
	const (
		producers = 4
		perProd   = 500
		total     = producers * perProd
	)
	q := newQueue[int](t, hal.NewPort(), 8)

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProd; i++ {
				if err := q.Put(p*perProd+i, hal.WaitForever); err != nil {
					return err
				}
			}
			return nil
		})
	}

	got := make([]int, 0, total)
	lastByProducer := make(map[int]int)
	for len(got) < total {
		v, err := q.Get(hal.Milliseconds(1000))
		require.NoError(t, err)
		p := v / perProd
		if last, ok := lastByProducer[p]; ok {
			require.Greater(t, v, last, "producer %d order", p)
		}
		lastByProducer[p] = v
		got = append(got, v)
	}
	require.NoError(t, g.Wait())

	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestFromISRVariants(t *testing.T) {
	port := hal.NewPort()
	q := newQueue[int](t, port, 2)

	assert.Panics(t, func() { _ = q.PutFromISR(1) })
	assert.Panics(t, func() { _, _ = q.GetFromISR() })

	var putErrs []error
	port.RunInterrupt(func() {
		for i := 1; i <= 3; i++ {
			putErrs = append(putErrs, q.PutFromISR(i))
		}
	})
	require.NoError(t, putErrs[0])
	require.NoError(t, putErrs[1])
	require.ErrorIs(t, putErrs[2], kernel.StatusQueueFull)

	var v int
	var err error
	port.RunInterrupt(func() { v, err = q.GetFromISR() })
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	port.RunInterrupt(func() { _, err = q.GetFromISR() })
	require.ErrorIs(t, err, kernel.StatusTimeout)
}

func TestDestroy(t *testing.T) {
	q, err := New[int](hal.NewPort(), 2)
	require.NoError(t, err)

	q.Destroy()
	q.Destroy()

	require.ErrorIs(t, q.Put(1, hal.NoWait), kernel.StatusDestroyed)
	_, err = q.Get(hal.NoWait)
	require.ErrorIs(t, err, kernel.StatusDestroyed)
}

func TestFIFOPutWaitsOutReservedSlot(t *testing.T) {
	port := hal.NewPort()
	q := newQueue[int](t, port, 1)

	// Park a normal writer between taking the free slot and storing its item.
	state := port.DisableInterrupts()
	var g errgroup.Group
	g.Go(func() error { return q.Put(1, hal.WaitForever) })
	time.Sleep(10 * time.Millisecond)

	q.SetFIFOMode(true)
	g.Go(func() error { return q.Put(2, hal.NoWait) })
	time.Sleep(10 * time.Millisecond)
	port.RestoreInterrupts(state)

	require.NoError(t, g.Wait())
	assert.Equal(t, 1, q.Len())
	v, err := q.Get(hal.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestDestroyReleasesBlockedGet(t *testing.T) {
	q, err := New[int](hal.NewPort(), 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := q.Get(hal.WaitForever)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q.Destroy()

	select {
	case err := <-done:
		require.ErrorIs(t, err, kernel.StatusDestroyed)
	case <-time.After(2 * time.Second):
		t.Fatal("Get() still parked after Destroy")
	}
}
