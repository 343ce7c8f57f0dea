// Package status draws the firmware status screen: the last lifecycle phase,
// UtilTask counters and lines contributed by other subsystems.
package status

import (
	"fmt"
	"image/color"
	"sync"

	"ember/emberos/sysevent"
	"ember/emberos/system"
	"ember/emberos/utiltask"
	"ember/hal"

	"tinygo.org/x/tinyfont"
)

// RedrawKey is the UtilTask key of the screen redraw.
const RedrawKey utiltask.Key = 0x5354_0002

const (
	lineHeight = 8
	marginX    = 2
)

var (
	background = color.RGBA{R: 0x10, G: 0x18, B: 0x20, A: 0xFF}
	foreground = color.RGBA{R: 0xE0, G: 0xE8, B: 0xF0, A: 0xFF}
	accent     = color.RGBA{R: 0xFF, G: 0xA0, B: 0x30, A: 0xFF}
)

// Source contributes one line to the screen.
type Source func() string

type Screen struct {
	sys  *system.System
	disp hal.Display

	mu      sync.Mutex
	title   string
	phase   sysevent.Event
	seen    sysevent.Event
	sources []Source
	frames  uint64
}

func New(sys *system.System, disp hal.Display, title string) *Screen {
	return &Screen{sys: sys, disp: disp, title: title}
}

// AddSource appends a line source. Sources are drawn in the order added.
func (s *Screen) AddSource(src Source) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
}

// Register installs the redraw task and a consumer of every lifecycle event.
func (s *Screen) Register() error {
	err := s.sys.Tasks().Register("status-redraw", RedrawKey, func(utiltask.Key, any) int64 {
		return int64(s.Redraw())
	})
	if err != nil {
		return err
	}
	return s.sys.Events().Register(sysevent.All, "status", s.onEvent)
}

func (s *Screen) onEvent(ev sysevent.Event, _ any) {
	s.mu.Lock()
	s.phase = ev
	s.seen |= ev
	s.mu.Unlock()
	if err := s.sys.Events().Ack(ev); err != nil {
		s.sys.Logger().WriteLineString(fmt.Sprintf("status: ack %s: %v", ev, err))
	}
}

// Phase returns the most recent lifecycle event and every event seen so far.
func (s *Screen) Phase() (last, seen sysevent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.seen
}

// Frames returns the number of completed redraws.
func (s *Screen) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Lines returns the text of the next frame.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	title, phase := s.title, s.phase
	sources := append([]Source(nil), s.sources...)
	s.mu.Unlock()

	st := s.sys.Tasks().Stats()
	running := s.sys.Tasks().Running()
	if running == "" {
		running = "idle"
	}
	lines := []string{
		title,
		"phase: " + phase.String(),
		fmt.Sprintf("tasks: %d run %d rej %d panic", st.Executed, st.Rejected, st.Panicked),
		"worker: " + running,
	}
	for _, src := range sources {
		lines = append(lines, src())
	}
	return lines
}

// Redraw renders the screen and presents it. It returns the number of lines
// drawn, zero when there is no framebuffer.
func (s *Screen) Redraw() int {
	if s.disp == nil {
		return 0
	}
	fb := s.disp.Framebuffer()
	if fb == nil {
		return 0
	}

	lines := s.Lines()
	fb.ClearRGB(background.R, background.G, background.B)
	d := NewDisplayer(fb)

	drawn := 0
	y := int16(lineHeight)
	for i, line := range lines {
		if int(y) > fb.Height() {
			break
		}
		c := foreground
		if i == 0 {
			c = accent
		}
		tinyfont.WriteLine(d, &tinyfont.TomThumb, marginX, y, line, c)
		y += lineHeight
		drawn++
	}
	if err := d.Display(); err != nil {
		s.sys.Logger().WriteLineString(fmt.Sprintf("status: present: %v", err))
	}

	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return drawn
}
