//go:build !tinygo && cgo

package hal

import (
	"image"

	"ember/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
)

// RunWindow starts the emulator window: it shows the framebuffer and drives
// the tick source and the firmware step once per frame. It blocks until the
// window closes.
func RunWindow(newApp func(HAL) (func() error, error)) error {
	h := New().(*hostHAL)
	step, err := newApp(h)
	if err != nil {
		return err
	}

	g := &emulatorWindow{h: h, step: step}
	ebiten.SetWindowTitle("Ember emulator (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(h.fb.width*2, h.fb.height*2)
	ebiten.SetTPS(60)
	return ebiten.RunGame(g)
}

type emulatorWindow struct {
	h       *hostHAL
	rgba    []byte
	scratch []byte
	screen  *ebiten.Image
	step    func() error
}

func (g *emulatorWindow) Update() error {
	g.h.t.step(1)
	if g.step == nil {
		return nil
	}
	return g.step()
}

func (g *emulatorWindow) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.screen == nil {
		g.rgba = make([]byte, fb.width*fb.height*4)
		g.scratch = make([]byte, len(fb.buf))
		g.screen = ebiten.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, fb.width, fb.height)))
	}

	fb.snapshot(g.scratch)
	for i, j := 0, 0; i+1 < len(g.scratch) && j+3 < len(g.rgba); i, j = i+2, j+4 {
		r, gg, b := rgb888From565(uint16(g.scratch[i]) | uint16(g.scratch[i+1])<<8)
		g.rgba[j+0] = r
		g.rgba[j+1] = gg
		g.rgba[j+2] = b
		g.rgba[j+3] = 0xFF
	}

	g.screen.WritePixels(g.rgba)
	screen.DrawImage(g.screen, nil)
}

func (g *emulatorWindow) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
