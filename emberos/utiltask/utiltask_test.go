package utiltask

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ember/emberos/kernel"
	"ember/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testTimeout = 2 * time.Second

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *recordLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *recordLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func newExecutor(t *testing.T, log hal.Logger, depth int) *Executor {
	t.Helper()
	cfg := kernel.DefaultConfig()
	cfg.UtilTaskDepth = depth
	e, err := New(hal.NewPort(), log, cfg)
	require.NoError(t, err)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSignalBlockingReturnsTaskResult(t *testing.T) {
	e := newExecutor(t, nil, 4)
	require.NoError(t, e.Register("square", 1, func(key Key, msg any) int64 {
		n := msg.(int64)
		return n * n
	}))
	require.NoError(t, e.Register("negate", 2, func(key Key, msg any) int64 {
		return -int64(key) - msg.(int64)
	}))

	got, err := e.SignalBlocking(1, int64(-3037000499))
	require.NoError(t, err)
	assert.Equal(t, int64(9223372030926249001), got)

	got, err = e.SignalBlocking(2, int64(40))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), got)

	assert.Equal(t, uint64(2), e.Stats().Executed)
}

func TestUnknownKey(t *testing.T) {
	e := newExecutor(t, nil, 4)

	_, err := e.SignalBlocking(99, nil)
	require.ErrorIs(t, err, kernel.StatusKeyNotFound)
	require.ErrorIs(t, e.Signal(99, nil, nil), kernel.StatusKeyNotFound)
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	e := newExecutor(t, nil, 4)
	fn := func(Key, any) int64 { return 0 }

	require.NoError(t, e.Register("first", 7, fn))
	err := e.Register("second", 7, fn)
	require.ErrorIs(t, err, kernel.StatusKeyExists)
	assert.Contains(t, err.Error(), `held by "first"`)
	require.ErrorIs(t, e.Register("nil", 8, nil), kernel.StatusInvalidArgument)
}

func TestFireAndForgetAndCallback(t *testing.T) {
	e := newExecutor(t, nil, 4)

	ran := make(chan any, 1)
	require.NoError(t, e.Register("record", 1, func(_ Key, msg any) int64 {
		ran <- msg
		return 5
	}))

	require.NoError(t, e.Signal(1, "fire", nil))
	select {
	case msg := <-ran:
		assert.Equal(t, "fire", msg)
	case <-time.After(testTimeout):
		t.Fatal("fire-and-forget task did not run")
	}

	results := make(chan int64, 1)
	require.NoError(t, e.Signal(1, "callback", func(result int64) { results <- result }))
	<-ran
	select {
	case r := <-results:
		assert.Equal(t, int64(5), r)
	case <-time.After(testTimeout):
		t.Fatal("completion callback did not run")
	}
}

func TestTaskBodiesNeverOverlap(t *testing.T) {
	e := newExecutor(t, nil, 64)

	var active, maxActive, calls atomic.Int32
	body := func(key Key, msg any) int64 {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(100 * time.Microsecond)
		active.Add(-1)
		return int64(key)
	}
	require.NoError(t, e.Register("a", 1, body))
	require.NoError(t, e.Register("b", 2, body))

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		key := Key(1 + i%2)
		g.Go(func() error {
			for j := 0; j < 10; j++ {
				got, err := e.SignalBlocking(key, nil)
				if err != nil {
					return err
				}
				if got != int64(key) {
					t.Errorf("SignalBlocking(%d) = %d", key, got)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(160), calls.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestFullQueueLogsRunningTask(t *testing.T) {
	log := &recordLogger{}
	e := newExecutor(t, log, 1)

	gate := make(chan struct{})
	require.NoError(t, e.Register("gate", 1, func(Key, any) int64 {
		<-gate
		return 0
	}))
	require.NoError(t, e.Register("flush", 2, func(Key, any) int64 { return 0 }))

	require.NoError(t, e.Signal(1, nil, nil))
	waitFor(t, "gate to run", func() bool { return e.Running() == "gate" })

	require.NoError(t, e.Signal(2, nil, nil))
	err := e.Signal(2, nil, nil)
	require.ErrorIs(t, err, kernel.StatusQueueFull)
	assert.Contains(t, log.joined(), `cannot queue "flush": queue full (running "gate")`)
	assert.Equal(t, uint64(1), e.Stats().Rejected)

	close(gate)
	waitFor(t, "queue to drain", func() bool { return e.Stats().Executed == 2 })
	assert.Equal(t, "", e.Running())
	assert.Equal(t, 0, e.Pending())
}

func TestPanickingTaskReleasesCaller(t *testing.T) {
	log := &recordLogger{}
	e := newExecutor(t, log, 4)
	require.NoError(t, e.Register("bad", 1, func(Key, any) int64 { panic("flash gone") }))
	require.NoError(t, e.Register("good", 2, func(Key, any) int64 { return 11 }))

	done := make(chan error, 1)
	go func() {
		got, err := e.SignalBlocking(1, nil)
		if err == nil && got != 0 {
			t.Errorf("SignalBlocking(bad) = %d, want 0", got)
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("caller of panicking task never released")
	}

	got, err := e.SignalBlocking(2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), got)
	assert.Equal(t, uint64(1), e.Stats().Panicked)
	assert.True(t, kernel.InPanicMode())
	assert.Contains(t, log.joined(), `"bad" panicked: flash gone`)
}

func TestSignalFromInterruptHandler(t *testing.T) {
	port := hal.NewPort()
	e, err := New(port, nil, kernel.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, e.Register("deferred", 1, func(_ Key, msg any) int64 {
		return int64(len(msg.(string)))
	}))

	results := make(chan int64, 1)
	handled := make(chan error, 1)
	go port.RunInterrupt(func() {
		handled <- e.SignalFromISR(1, "button", func(r int64) { results <- r })
	})

	select {
	case err := <-handled:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("SignalFromISR() never returned")
	}
	select {
	case r := <-results:
		assert.Equal(t, int64(6), r)
	case <-time.After(testTimeout):
		t.Fatal("task signalled from an interrupt handler did not run")
	}

	port.RunInterrupt(func() {
		require.ErrorIs(t, e.SignalFromISR(42, nil, nil), kernel.StatusKeyNotFound)
	})
	assert.Panics(t, func() { _ = e.SignalFromISR(1, "thread", nil) })
}

func TestSignalFromISRFullQueue(t *testing.T) {
	port := hal.NewPort()
	cfg := kernel.DefaultConfig()
	cfg.UtilTaskDepth = 1
	log := &recordLogger{}
	e, err := New(port, log, cfg)
	require.NoError(t, err)

	gate := make(chan struct{})
	require.NoError(t, e.Register("gate", 1, func(Key, any) int64 {
		<-gate
		return 0
	}))
	require.NoError(t, e.Signal(1, nil, nil))
	waitFor(t, "gate to run", func() bool { return e.Running() == "gate" })
	require.NoError(t, e.Signal(1, nil, nil))

	port.RunInterrupt(func() {
		require.ErrorIs(t, e.SignalFromISR(1, nil, nil), kernel.StatusQueueFull)
	})
	assert.Contains(t, log.joined(), `cannot queue "gate": queue full (running "gate")`)

	close(gate)
	waitFor(t, "queue to drain", func() bool { return e.Stats().Executed == 2 })
}
