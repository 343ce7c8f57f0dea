// Package utiltask runs deferred work on a single worker thread.
//
// Tasks are registered once under a key. Any thread may signal a key; the
// worker runs the task bodies one at a time, in signal order, and hands the
// result back through a callback, a blocked caller, or not at all.
package utiltask

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ember/emberos/kernel"
	"ember/emberos/queue"
	"ember/hal"
)

// Key identifies a registered task.
type Key uint32

// Func is a task body. It receives its key and the signal message.
type Func func(key Key, msg any) int64

// Callback receives a task result on the worker thread.
type Callback func(result int64)

type registration struct {
	name string
	key  Key
	fn   Func
}

// signal is one queued invocation. At most one of done and sem is set.
type signal struct {
	task *registration
	msg  any
	done Callback
	sem  hal.Semaphore
	out  *int64
}

// Stats counts worker activity.
type Stats struct {
	Executed uint64
	Rejected uint64
	Panicked uint64
}

// Executor owns the task registry, the invocation queue and the worker
// thread. It lives for the process.
type Executor struct {
	port hal.Port
	log  hal.Logger

	mu       sync.RWMutex
	registry map[Key]*registration

	q *queue.Queue[signal]

	running  atomic.Pointer[registration]
	executed atomic.Uint64
	rejected atomic.Uint64
	panicked atomic.Uint64
}

// New creates the invocation queue and starts the worker thread.
func New(port hal.Port, log hal.Logger, cfg kernel.Config) (*Executor, error) {
	if port == nil {
		return nil, fmt.Errorf("utiltask: nil port: %w", kernel.StatusInvalidArgument)
	}
	if log == nil {
		log = hal.NopLogger
	}
	cfg = cfg.WithDefaults()

	q, err := queue.New[signal](port, cfg.UtilTaskDepth)
	if err != nil {
		return nil, fmt.Errorf("utiltask queue: %w", err)
	}

	e := &Executor{
		port:     port,
		log:      log,
		registry: make(map[Key]*registration),
		q:        q,
	}

	th, err := port.CreateThread("utiltask", e.run)
	if err != nil {
		q.Destroy()
		return nil, fmt.Errorf("utiltask worker: %w", err)
	}
	if err := th.Resume(); err != nil {
		q.Destroy()
		return nil, fmt.Errorf("utiltask worker: %w", err)
	}
	return e, nil
}

// Register adds a task under key. Registrations are never removed.
func (e *Executor) Register(name string, key Key, fn Func) error {
	if fn == nil {
		return fmt.Errorf("utiltask register %q: %w", name, kernel.StatusInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.registry[key]; ok {
		return fmt.Errorf("utiltask register %q: key %d held by %q: %w", name, key, prev.name, kernel.StatusKeyExists)
	}
	e.registry[key] = &registration{name: name, key: key, fn: fn}
	return nil
}

func (e *Executor) lookup(key Key) (*registration, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.registry[key]
	if !ok {
		return nil, fmt.Errorf("utiltask key %d: %w", key, kernel.StatusKeyNotFound)
	}
	return r, nil
}

// Signal queues an invocation of key without waiting for it. done, when not
// nil, receives the result on the worker thread.
func (e *Executor) Signal(key Key, msg any, done Callback) error {
	r, err := e.lookup(key)
	if err != nil {
		return err
	}
	return e.enqueue(signal{task: r, msg: msg, done: done}, e.put)
}

// SignalFromISR is Signal for interrupt handlers. It never enters a critical
// section and fails with StatusQueueFull instead of waiting.
func (e *Executor) SignalFromISR(key Key, msg any, done Callback) error {
	r, err := e.lookup(key)
	if err != nil {
		return err
	}
	return e.enqueue(signal{task: r, msg: msg, done: done}, e.q.PutFromISR)
}

// SignalBlocking queues an invocation of key and waits for its result.
//
// It must not be called from a task body: the worker would wait on itself.
func (e *Executor) SignalBlocking(key Key, msg any) (int64, error) {
	r, err := e.lookup(key)
	if err != nil {
		return 0, err
	}

	sem, err := e.port.CreateSemaphore(0, 1)
	if err != nil {
		return 0, fmt.Errorf("utiltask %q: %w", r.name, kernel.StatusOutOfMemory)
	}
	defer sem.Destroy()

	var result int64
	if err := e.enqueue(signal{task: r, msg: msg, sem: sem, out: &result}, e.put); err != nil {
		return 0, err
	}
	if err := sem.Get(hal.WaitForever); err != nil {
		return 0, fmt.Errorf("utiltask %q wait: %w", r.name, err)
	}
	return result, nil
}

func (e *Executor) put(s signal) error { return e.q.Put(s, hal.NoWait) }

func (e *Executor) enqueue(s signal, put func(signal) error) error {
	err := put(s)
	if err == nil {
		return nil
	}
	e.rejected.Add(1)
	running := e.Running()
	if running == "" {
		running = "none"
	}
	e.log.WriteLineString(fmt.Sprintf("utiltask: cannot queue %q: %v (running %q)", s.task.name, err, running))
	return fmt.Errorf("utiltask %q: %w", s.task.name, err)
}

// Running returns the name of the task body currently executing, or "".
func (e *Executor) Running() string {
	if r := e.running.Load(); r != nil {
		return r.name
	}
	return ""
}

// Pending returns the number of queued invocations.
func (e *Executor) Pending() int { return e.q.Len() }

// Stats returns the worker counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Executed: e.executed.Load(),
		Rejected: e.rejected.Load(),
		Panicked: e.panicked.Load(),
	}
}

func (e *Executor) run() {
	for {
		s, err := e.q.Get(hal.WaitForever)
		if err != nil {
			if errors.Is(err, kernel.StatusDestroyed) {
				return
			}
			e.log.WriteLineString(fmt.Sprintf("utiltask: queue get: %v", err))
			continue
		}
		e.deliver(s, e.invoke(s))
	}
}

func (e *Executor) invoke(s signal) (result int64) {
	e.running.Store(s.task)
	defer func() {
		e.running.Store(nil)
		e.executed.Add(1)
		if v := recover(); v != nil {
			e.panicked.Add(1)
			e.log.WriteLineString(fmt.Sprintf("utiltask: %q panicked: %v", s.task.name, v))
			kernel.TriggerPanic(kernel.PanicInfo{Thread: "utiltask/" + s.task.name, Value: v})
			result = 0
		}
	}()
	return s.task.fn(s.task.key, s.msg)
}

func (e *Executor) deliver(s signal, result int64) {
	switch {
	case s.done != nil:
		s.done(result)
	case s.sem != nil:
		*s.out = result
		if err := s.sem.Put(); err != nil {
			panic(fmt.Sprintf("utiltask: release %q caller: %v", s.task.name, err))
		}
	}
}
