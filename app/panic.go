package app

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"ember/emberos/kernel"
	"ember/emberos/services/status"
	"ember/hal"

	"tinygo.org/x/tinyfont"
)

const panicLineHeight = 7

func installPanicHandler(h hal.HAL) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if l := h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}

		disp := h.Display()
		if disp == nil {
			return
		}
		fb := disp.Framebuffer()
		if fb == nil {
			return
		}
		drawPanic(fb, lines)
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"Ember Panic:",
		"thread: " + info.Thread,
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func drawPanic(fb hal.Framebuffer, lines []string) {
	fb.ClearRGB(255, 255, 255)
	d := status.NewDisplayer(fb)
	font := &tinyfont.TomThumb
	fg := color.RGBA{A: 255}

	_, outbox := tinyfont.LineWidth(font, "0")
	cols := int16(1)
	if outbox > 0 {
		cols = int16(fb.Width() / int(outbox))
	}

	y := int16(panicLineHeight)
	for _, line := range lines {
		for len(line) > 0 {
			if int(y) > fb.Height() {
				_ = d.Display()
				return
			}
			chunk, rest := takeRunes(line, cols)
			tinyfont.WriteLine(d, font, 0, y, chunk, fg)
			y += panicLineHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = d.Display()
}

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	var i int
	for count := int16(0); i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
