package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

type nopLogger struct{}

func (nopLogger) WriteLineString(string) {}
func (nopLogger) WriteLineBytes([]byte)  {}

// NopLogger drops every line.
var NopLogger Logger = nopLogger{}

var ErrNotImplemented = errors.New("not implemented")

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Flash provides raw access to non-volatile memory.
//
// It is intentionally low-level: addresses and erase blocks only.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined (1ms on every shipped target).
type Time interface {
	Ticks() <-chan uint64
}

// HAL provides the only contact point between the firmware and the outside world.
type HAL interface {
	Logger() Logger
	Display() Display
	Flash() Flash
	Time() Time
	Port() Port
}
