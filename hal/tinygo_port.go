//go:build tinygo

package hal

import "runtime/interrupt"

// tinyGoPort layers hardware interrupt masking on top of the shared port.
// Handlers installed with runtime/interrupt run with the scheduler stopped,
// so they never contend for the goroutine locks.
type tinyGoPort struct {
	portCore
	saved interrupt.State
}

// NewPort returns the TinyGo platform port.
func NewPort() Port {
	return &tinyGoPort{}
}

func (p *tinyGoPort) IsInterrupt() bool {
	return interrupt.In() || p.inISR.Load()
}

func (p *tinyGoPort) DisableInterrupts() InterruptState {
	p.disable()
	p.saved = interrupt.Disable()
	return InterruptState(p.saved)
}

func (p *tinyGoPort) RestoreInterrupts(state InterruptState) {
	interrupt.Restore(interrupt.State(state))
	p.restore()
}

func (p *tinyGoPort) RunInterrupt(fn func()) {
	st := interrupt.Disable()
	defer interrupt.Restore(st)
	p.runInterrupt(fn)
}
