//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type hostHAL struct {
	logger *hostLogger
	fb     *memFramebuffer
	t      *hostTime
	flash  *norFlash
	port   Port
}

// New returns a host HAL implementation.
func New() HAL {
	return &hostHAL{
		logger: &hostLogger{w: os.Stdout},
		fb:     newMemFramebuffer(320, 320, nil),
		t:      newHostTime(),
		flash:  newHostFlash(),
		port:   NewPort(),
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Flash() Flash     { return h.flash }
func (h *hostHAL) Time() Time       { return h.t }
func (h *hostHAL) Port() Port       { return h.port }

type hostDisplay struct {
	fb *memFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

// NewWriterLogger returns a Logger that writes one line per call to w.
func NewWriterLogger(w io.Writer) Logger {
	return &hostLogger{w: w}
}

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
