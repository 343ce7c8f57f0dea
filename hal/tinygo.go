//go:build tinygo && baremetal

package hal

import "machine"

type tinyGoHAL struct {
	logger *uartLogger
	t      *tinyGoTime
	flash  Flash
	port   Port
}

// New returns the board HAL. There is no panel driver; the status screen
// is only drawn by the emulator.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		t:      newTinyGoTime(),
		flash:  newBoardFlash(),
		port:   NewPort(),
	}
}

func (h *tinyGoHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHAL) Display() Display { return nil }
func (h *tinyGoHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHAL) Time() Time       { return h.t }
func (h *tinyGoHAL) Port() Port       { return h.port }
