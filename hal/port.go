package hal

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timeout")
	// ErrSemaphoreOverflow is returned by Put when the count is already at its ceiling.
	ErrSemaphoreOverflow = errors.New("semaphore count at maximum")
	// ErrDestroyed is returned by operations on a destroyed port object.
	ErrDestroyed = errors.New("destroyed")
	// ErrInvalidArgument reports a bad creation parameter.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Timeout is a wait bound in milliseconds.
type Timeout uint32

const (
	// NoWait polls: the operation fails immediately instead of blocking.
	NoWait Timeout = 0
	// WaitForever blocks without a bound.
	WaitForever Timeout = math.MaxUint32
)

// Milliseconds returns a timeout of ms milliseconds, clamped below WaitForever.
func Milliseconds(ms uint32) Timeout {
	if ms >= uint32(WaitForever) {
		return WaitForever - 1
	}
	return Timeout(ms)
}

// TimeoutOf converts d to a bounded Timeout, rounding sub-millisecond
// durations up so that only an explicit zero polls.
func TimeoutOf(d time.Duration) Timeout {
	if d <= 0 {
		return NoWait
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms >= time.Duration(WaitForever) {
		return WaitForever - 1
	}
	return Timeout(ms)
}

// Duration returns the bound as a time.Duration. WaitForever has no duration
// and reports zero.
func (t Timeout) Duration() time.Duration {
	if t == WaitForever {
		return 0
	}
	return time.Duration(t) * time.Millisecond
}

func (t Timeout) String() string {
	switch t {
	case NoWait:
		return "nowait"
	case WaitForever:
		return "forever"
	default:
		return t.Duration().String()
	}
}

// Thread is a platform thread. Threads are created suspended.
type Thread interface {
	Name() string
	SetName(name string)
	Resume() error
	// Destroy cancels a thread that has not been resumed yet.
	Destroy() error
}

// Semaphore is a counting semaphore with a fixed ceiling.
type Semaphore interface {
	// Get takes one unit, waiting up to timeout. It returns ErrTimeout when
	// no unit became available in time.
	Get(timeout Timeout) error
	// Put returns one unit. It fails with ErrSemaphoreOverflow instead of
	// exceeding the ceiling.
	Put() error
	Count() int
	Destroy()
}

// CriticalSection is a non-reentrant lock that also excludes interrupt
// handlers. Critical sections must not nest.
type CriticalSection interface {
	Enter()
	Leave()
	Destroy()
}

// InterruptState is the value returned by DisableInterrupts.
type InterruptState uintptr

// Port is the minimal platform surface the firmware core is built on.
type Port interface {
	CreateThread(name string, fn func()) (Thread, error)
	Yield()

	CreateSemaphore(initial, max int) (Semaphore, error)
	CreateCriticalSection() (CriticalSection, error)

	// IsInterrupt reports whether the caller runs as an interrupt handler.
	IsInterrupt() bool
	InterruptsEnabled() bool
	// DisableInterrupts masks interrupt handlers until RestoreInterrupts.
	// Calls do not nest.
	DisableInterrupts() InterruptState
	RestoreInterrupts(state InterruptState)
	// RunInterrupt runs fn as an interrupt handler: fn excludes every
	// critical section and IsInterrupt reports true while it runs.
	RunInterrupt(fn func())

	Sleep(ms uint32)

	// SchedulerRunning reports whether StartScheduler has been called.
	// Before that the firmware runs a single cooperative thread of control.
	SchedulerRunning() bool
	StartScheduler()
}
