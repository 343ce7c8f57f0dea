package hal

import "sync"

// memFramebuffer is an RGB565 framebuffer in RAM. Present calls the optional
// flush hook; the emulator window reads the buffer through snapshot instead.
type memFramebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	buf    []byte
	flush  func([]byte) error
}

// NewFramebuffer returns a little-endian RGB565 framebuffer of w×h pixels.
// flush, when not nil, receives the buffer on every Present.
func NewFramebuffer(w, h int, flush func([]byte) error) Framebuffer {
	return newMemFramebuffer(w, h, flush)
}

func newMemFramebuffer(w, h int, flush func([]byte) error) *memFramebuffer {
	return &memFramebuffer{width: w, height: h, buf: make([]byte, w*h*2), flush: flush}
}

func (f *memFramebuffer) Width() int          { return f.width }
func (f *memFramebuffer) Height() int         { return f.height }
func (f *memFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *memFramebuffer) StrideBytes() int    { return f.width * 2 }
func (f *memFramebuffer) Buffer() []byte      { return f.buf }

func (f *memFramebuffer) Present() error {
	if f.flush == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flush(f.buf)
}

func (f *memFramebuffer) ClearRGB(r, g, b uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pixel := rgb565(r, g, b)
	for i := 0; i+1 < len(f.buf); i += 2 {
		f.buf[i] = byte(pixel)
		f.buf[i+1] = byte(pixel >> 8)
	}
}

func (f *memFramebuffer) snapshot(dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.buf)
}

func rgb565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func rgb888From565(p uint16) (r, g, b uint8) {
	r = uint8(uint32(p>>11&0x1F) * 255 / 31)
	g = uint8(uint32(p>>5&0x3F) * 255 / 63)
	b = uint8(uint32(p&0x1F) * 255 / 31)
	return r, g, b
}
