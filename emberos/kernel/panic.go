package kernel

import (
	"sync"
	"sync/atomic"
)

// PanicInfo describes a panic recovered from a firmware thread.
type PanicInfo struct {
	// Thread names the thread or task that panicked.
	Thread string
	Value  any
	Stack  []byte
}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Pointer[func(PanicInfo)]
)

// InPanicMode reports whether a panic has been reported.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs the process-wide panic handler.
//
// The handler runs at most once, on the first reported panic, on the thread
// that panicked. It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	if fn == nil {
		panicHandler.Store(nil)
		return
	}
	panicHandler.Store(&fn)
}

// TriggerPanic records a recovered panic and runs the handler if this is the
// first one. The stack is captured here, so call it from the deferred
// recover of the panicking thread.
func TriggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		info.Stack = captureStack()
		if fn := panicHandler.Load(); fn != nil {
			(*fn)(info)
		}
	})
}
