package status

import (
	"image/color"

	"ember/hal"

	"tinygo.org/x/drivers"
)

type fbDisplay struct {
	fb hal.Framebuffer
}

// NewDisplayer adapts an RGB565 framebuffer to the driver display interface
// tinyfont draws on. Pixels outside the buffer and non-RGB565 buffers are
// ignored; Display presents the framebuffer.
func NewDisplayer(fb hal.Framebuffer) drivers.Displayer { return fbDisplay{fb: fb} }

func (d fbDisplay) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	if d.fb == nil || d.fb.Format() != hal.PixelFormatRGB565 {
		return
	}
	buf := d.fb.Buffer()
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}

	pixel := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
	off := iy*d.fb.StrideBytes() + ix*2
	if off+1 >= len(buf) {
		return
	}
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

func (d fbDisplay) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}
