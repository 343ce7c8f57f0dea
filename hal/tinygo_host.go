//go:build tinygo && !baremetal

package hal

import "time"

type tinyGoHostHAL struct {
	logger tinyGoHostLogger
	fb     *memFramebuffer
	t      *tinyGoHostTime
	flash  Flash
	port   Port
}

// New returns a TinyGo-on-host HAL implementation.
//
// This is used by `tinygo run` targets like linux/wasm where there is no MCU
// pin mapping. Flash lives in memory and is lost on exit.
func New() HAL {
	return &tinyGoHostHAL{
		fb:    newMemFramebuffer(320, 320, nil),
		t:     newTinyGoHostTime(),
		flash: NewMemFlash(256*1024, 4096),
		port:  NewPort(),
	}
}

func (h *tinyGoHostHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHostHAL) Display() Display { return tinyGoHostDisplay{fb: h.fb} }
func (h *tinyGoHostHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHostHAL) Time() Time       { return h.t }
func (h *tinyGoHostHAL) Port() Port       { return h.port }

type tinyGoHostDisplay struct {
	fb Framebuffer
}

func (d tinyGoHostDisplay) Framebuffer() Framebuffer { return d.fb }

type tinyGoHostTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoHostTime() *tinyGoHostTime {
	t := &tinyGoHostTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoHostTime) Ticks() <-chan uint64 { return t.ch }

type tinyGoHostLogger struct{}

func (tinyGoHostLogger) WriteLineString(s string) { println(s) }
func (tinyGoHostLogger) WriteLineBytes(b []byte)  { println(string(b)) }
