//go:build !tinygo

package hal

// hostPort runs the firmware on goroutines. There is no hardware interrupt
// context on a desktop OS; interrupt handlers only exist through RunInterrupt.
type hostPort struct {
	portCore
}

// NewPort returns the host platform port.
func NewPort() Port {
	return &hostPort{}
}

func (p *hostPort) IsInterrupt() bool { return p.inISR.Load() }

func (p *hostPort) DisableInterrupts() InterruptState {
	p.disable()
	return 1
}

func (p *hostPort) RestoreInterrupts(state InterruptState) {
	_ = state
	p.restore()
}

func (p *hostPort) RunInterrupt(fn func()) { p.runInterrupt(fn) }
