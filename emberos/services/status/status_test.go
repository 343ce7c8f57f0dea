package status

import (
	"image/color"
	"testing"

	"ember/emberos/kernel"
	"ember/emberos/sysevent"
	"ember/emberos/system"
	"ember/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFramebuffer struct {
	w, h     int
	buf      []byte
	presents int
}

func newMemFramebuffer(w, h int) *memFramebuffer {
	return &memFramebuffer{w: w, h: h, buf: make([]byte, w*h*2)}
}

func (f *memFramebuffer) Width() int              { return f.w }
func (f *memFramebuffer) Height() int             { return f.h }
func (f *memFramebuffer) Format() hal.PixelFormat { return hal.PixelFormatRGB565 }
func (f *memFramebuffer) StrideBytes() int        { return f.w * 2 }
func (f *memFramebuffer) Buffer() []byte          { return f.buf }
func (f *memFramebuffer) Present() error          { f.presents++; return nil }

func (f *memFramebuffer) ClearRGB(r, g, b uint8) {
	d := NewDisplayer(f)
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			d.SetPixel(int16(x), int16(y), color.RGBA{R: r, G: g, B: b, A: 0xFF})
		}
	}
}

func (f *memFramebuffer) pixel(x, y int) uint16 {
	off := y*f.w*2 + x*2
	return uint16(f.buf[off]) | uint16(f.buf[off+1])<<8
}

func (f *memFramebuffer) count(p uint16) int {
	n := 0
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			if f.pixel(x, y) == p {
				n++
			}
		}
	}
	return n
}

type memDisplay struct{ fb hal.Framebuffer }

func (d memDisplay) Framebuffer() hal.Framebuffer { return d.fb }

func newSystem(t *testing.T) *system.System {
	t.Helper()
	sys, err := system.New(hal.NewPort(), nil, kernel.DefaultConfig())
	require.NoError(t, err)
	return sys
}

func TestDisplayerPacksRGB565AndClips(t *testing.T) {
	fb := newMemFramebuffer(4, 2)
	d := NewDisplayer(fb)

	w, h := d.Size()
	assert.Equal(t, int16(4), w)
	assert.Equal(t, int16(2), h)

	d.SetPixel(1, 1, color.RGBA{R: 0xFF, A: 0xFF})
	d.SetPixel(-1, 0, color.RGBA{G: 0xFF, A: 0xFF})
	d.SetPixel(4, 0, color.RGBA{G: 0xFF, A: 0xFF})
	assert.Equal(t, uint16(0xF800), fb.pixel(1, 1))
	assert.Equal(t, 7, fb.count(0))

	require.NoError(t, d.Display())
	assert.Equal(t, 1, fb.presents)

	w, h = NewDisplayer(nil).Size()
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestScreenTracksPhases(t *testing.T) {
	sys := newSystem(t)
	s := New(sys, nil, "ember")
	require.NoError(t, s.Register())

	require.NoError(t, sys.Events().Signal(sysevent.PreOS, nil))
	sys.StartScheduler()
	require.NoError(t, sys.Events().Signal(sysevent.PostOS|sysevent.FilesystemInit, nil))

	last, seen := s.Phase()
	assert.Equal(t, sysevent.FilesystemInit, last)
	assert.Equal(t, sysevent.PreOS|sysevent.PostOS|sysevent.FilesystemInit, seen)
	assert.Equal(t, "phase: fs-init", s.Lines()[1])
}

func TestRedrawOnWorker(t *testing.T) {
	sys := newSystem(t)
	fb := newMemFramebuffer(128, 64)
	s := New(sys, memDisplay{fb: fb}, "ember test")
	s.AddSource(func() string { return "flash: none" })
	require.NoError(t, s.Register())

	drawn, err := sys.Tasks().SignalBlocking(RedrawKey, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), drawn)
	assert.Equal(t, uint64(1), s.Frames())
	assert.Equal(t, 1, fb.presents)

	bg := uint16(background.R>>3)<<11 | uint16(background.G>>2)<<5 | uint16(background.B>>3)
	fg := uint16(foreground.R>>3)<<11 | uint16(foreground.G>>2)<<5 | uint16(foreground.B>>3)
	assert.Less(t, fb.count(bg), 128*64)
	assert.Positive(t, fb.count(fg))

	lines := s.Lines()
	assert.Equal(t, "worker: idle", lines[3])
	assert.Equal(t, "flash: none", lines[4])
}

func TestRedrawWithoutFramebuffer(t *testing.T) {
	s := New(newSystem(t), memDisplay{}, "ember")
	assert.Equal(t, 0, s.Redraw())
	assert.Equal(t, uint64(0), s.Frames())
}
