package hal

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// portCore holds the parts of the platform port that are the same on every
// target: goroutine threads, weighted semaphores and the interrupt lock that
// simulated handlers and critical sections share.
type portCore struct {
	// irq is held exclusively by interrupt handlers and by DisableInterrupts,
	// and shared by every critical section.
	irq     sync.RWMutex
	inISR   atomic.Bool
	masked  atomic.Bool
	running atomic.Bool
}

func (p *portCore) CreateThread(name string, fn func()) (Thread, error) {
	if fn == nil {
		return nil, fmt.Errorf("thread %q: nil entry: %w", name, ErrInvalidArgument)
	}
	return &thread{name: name, fn: fn}, nil
}

func (p *portCore) Yield() { runtime.Gosched() }

func (p *portCore) CreateSemaphore(initial, max int) (Semaphore, error) {
	return newCountingSemaphore(initial, max)
}

func (p *portCore) CreateCriticalSection() (CriticalSection, error) {
	return &criticalSection{irq: &p.irq}, nil
}

func (p *portCore) InterruptsEnabled() bool { return !p.masked.Load() }

func (p *portCore) Sleep(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (p *portCore) SchedulerRunning() bool { return p.running.Load() }

func (p *portCore) StartScheduler() { p.running.Store(true) }

func (p *portCore) runInterrupt(fn func()) {
	p.irq.Lock()
	p.inISR.Store(true)
	defer func() {
		p.inISR.Store(false)
		p.irq.Unlock()
	}()
	fn()
}

func (p *portCore) disable() {
	p.irq.Lock()
	p.masked.Store(true)
}

func (p *portCore) restore() {
	p.masked.Store(false)
	p.irq.Unlock()
}

const (
	threadCreated uint32 = iota
	threadRunning
	threadDestroyed
)

type thread struct {
	mu    sync.Mutex
	name  string
	fn    func()
	state atomic.Uint32
}

func (t *thread) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *thread) SetName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

func (t *thread) Resume() error {
	if !t.state.CompareAndSwap(threadCreated, threadRunning) {
		if t.state.Load() == threadDestroyed {
			return fmt.Errorf("thread %q: %w", t.Name(), ErrDestroyed)
		}
		return nil
	}
	go t.fn()
	return nil
}

func (t *thread) Destroy() error {
	if t.state.CompareAndSwap(threadCreated, threadDestroyed) {
		return nil
	}
	if t.state.Load() == threadDestroyed {
		return nil
	}
	// Goroutines cannot be stopped from outside.
	return fmt.Errorf("thread %q destroy while running: %w", t.Name(), ErrNotImplemented)
}

type criticalSection struct {
	irq *sync.RWMutex
	mu  sync.Mutex
}

func (cs *criticalSection) Enter() {
	cs.irq.RLock()
	cs.mu.Lock()
}

func (cs *criticalSection) Leave() {
	cs.mu.Unlock()
	cs.irq.RUnlock()
}

// Destroy is a no-op: the lock holds no platform resources.
func (cs *criticalSection) Destroy() {}
