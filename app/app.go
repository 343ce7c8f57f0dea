package app

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ember/emberos/eventflag"
	"ember/emberos/kernel"
	"ember/emberos/services/settings"
	"ember/emberos/services/status"
	"ember/emberos/services/storage"
	"ember/emberos/sysevent"
	"ember/emberos/system"
	"ember/hal"
	"ember/internal/buildinfo"

	"golang.org/x/sync/errgroup"
)

// Heartbeat flags.
const (
	FlagTick eventflag.Flags = 1 << iota
	FlagShutdown
)

// ErrHalted is returned by Step once the firmware has shut down.
var ErrHalted = errors.New("firmware halted")

type Config struct {
	Kernel kernel.Config
	// RedrawEvery is the status screen period in ticks. Zero disables
	// redraws. The settings key redraw_every overrides it.
	RedrawEvery uint64
	Title       string
}

func DefaultConfig() Config {
	return Config{
		Kernel:      kernel.DefaultConfig(),
		RedrawEvery: 100,
		Title:       "ember " + buildinfo.Short(),
	}
}

// Firmware is the booted system.
type Firmware struct {
	h   hal.HAL
	cfg Config
	log hal.Logger

	sys      *system.System
	flags    *eventflag.Group
	storage  *storage.Service
	settings *settings.Service
	screen   *status.Screen

	ticks       atomic.Uint64
	beats       atomic.Uint64
	redrawEvery atomic.Uint64
	frames      atomic.Uint64

	heartbeatDone chan struct{}
	shutdownOnce  sync.Once
	shutdownErr   error
	halted        atomic.Bool
}

// New boots the firmware on h: it builds the system, runs the pre-OS phase
// on the calling thread, starts the scheduler and runs the remaining startup
// phases.
func New(h hal.HAL, cfg Config) (*Firmware, error) {
	if cfg.Title == "" {
		cfg.Title = DefaultConfig().Title
	}
	cfg.Kernel = cfg.Kernel.WithDefaults()

	log := h.Logger()
	if log == nil {
		log = hal.NopLogger
	}
	installPanicHandler(h)

	port := h.Port()
	sys, err := system.New(port, log, cfg.Kernel)
	if err != nil {
		return nil, err
	}
	flags, err := eventflag.New(port, 0)
	if err != nil {
		return nil, fmt.Errorf("heartbeat flags: %w", err)
	}

	f := &Firmware{
		h:             h,
		cfg:           cfg,
		log:           log,
		sys:           sys,
		flags:         flags,
		storage:       storage.New(sys, h.Flash()),
		settings:      settings.New(sys, h.Flash()),
		screen:        status.New(sys, h.Display(), cfg.Title),
		heartbeatDone: make(chan struct{}),
	}
	f.redrawEvery.Store(cfg.RedrawEvery)

	f.screen.AddSource(f.storage.Summary)
	f.screen.AddSource(func() string {
		return fmt.Sprintf("settings: %d keys", f.settings.Len())
	})
	f.screen.AddSource(func() string {
		return fmt.Sprintf("ticks: %d beats: %d", f.ticks.Load(), f.beats.Load())
	})

	for _, r := range []interface{ Register() error }{f.storage, f.settings, f.screen} {
		if err := r.Register(); err != nil {
			return nil, err
		}
	}
	if err := sys.Events().Register(sysevent.SettingsInitEnd, "app", f.onSettingsEnd); err != nil {
		return nil, err
	}

	log.WriteLineString("ember: boot " + buildinfo.String())
	f.phase(sysevent.PreOS)

	sys.StartScheduler()
	if err := f.startThreads(); err != nil {
		return nil, err
	}

	for _, ev := range []sysevent.Event{
		sysevent.PostOS,
		sysevent.FilesystemInit,
		sysevent.SettingsInitStart,
		sysevent.SettingsInitEnd,
	} {
		f.phase(ev)
	}
	return f, nil
}

// phase broadcasts one lifecycle event. A missing acknowledgment has already
// been logged by the bus and does not stop the boot.
func (f *Firmware) phase(ev sysevent.Event) {
	err := f.sys.Events().Signal(ev, nil)
	if err != nil && !errors.Is(err, kernel.StatusMissingSignal) {
		f.log.WriteLineString(fmt.Sprintf("ember: %s: %v", ev, err))
	}
}

func (f *Firmware) onSettingsEnd(ev sysevent.Event, _ any) {
	if v, ok := f.settings.Get("redraw_every"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			f.log.WriteLineString(fmt.Sprintf("ember: redraw_every %q: %v", v, err))
		} else {
			f.redrawEvery.Store(n)
		}
	}
	_ = f.sys.Events().Ack(ev)
}

func (f *Firmware) startThreads() error {
	port := f.sys.Port()

	hb, err := port.CreateThread("heartbeat", f.heartbeat)
	if err != nil {
		return fmt.Errorf("heartbeat thread: %w", err)
	}
	if err := hb.Resume(); err != nil {
		return fmt.Errorf("heartbeat thread: %w", err)
	}

	t := f.h.Time()
	if t == nil || t.Ticks() == nil {
		return nil
	}
	ticks := t.Ticks()
	tick, err := port.CreateThread("tick", func() {
		for seq := range ticks {
			f.Tick(seq)
		}
	})
	if err != nil {
		return fmt.Errorf("tick thread: %w", err)
	}
	return tick.Resume()
}

// Tick delivers one timer interrupt.
func (f *Firmware) Tick(seq uint64) {
	f.sys.Port().RunInterrupt(func() {
		f.ticks.Store(seq)
		_ = f.flags.SetFromISR(FlagTick)
	})
}

func (f *Firmware) heartbeat() {
	defer close(f.heartbeatDone)

	var lastRedraw uint64
	for {
		got, err := f.flags.Get(FlagTick|FlagShutdown, hal.WaitForever)
		if err != nil {
			f.log.WriteLineString(fmt.Sprintf("ember: heartbeat: %v", err))
			return
		}
		if got&FlagShutdown != 0 {
			return
		}
		f.beats.Add(1)

		every := f.redrawEvery.Load()
		now := f.ticks.Load()
		if every == 0 || now-lastRedraw < every || kernel.InPanicMode() {
			continue
		}
		lastRedraw = now
		// The executor logs a full queue; the next period retries.
		_ = f.sys.Tasks().Signal(status.RedrawKey, nil, nil)
	}
}

// Step is the per-frame hook of the host runners.
func (f *Firmware) Step() error {
	if f.halted.Load() {
		return ErrHalted
	}
	f.frames.Add(1)
	return nil
}

// Shutdown runs the shutdown phases and stops the heartbeat thread. Later
// calls return the first result.
func (f *Firmware) Shutdown() error {
	f.shutdownOnce.Do(func() {
		var g errgroup.Group
		g.Go(func() error {
			err := f.sys.Events().Signal(sysevent.FilesystemShutdown|sysevent.Shutdown, nil)
			if errors.Is(err, kernel.StatusMissingSignal) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			if err := f.flags.Set(FlagShutdown); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			select {
			case <-f.heartbeatDone:
				return nil
			case <-time.After(f.cfg.Kernel.AckTimeout):
				return fmt.Errorf("heartbeat: %w", kernel.StatusTimeout)
			}
		})
		f.shutdownErr = g.Wait()
		f.halted.Store(true)
		f.log.WriteLineString("ember: halted")
	})
	return f.shutdownErr
}

func (f *Firmware) System() *system.System      { return f.sys }
func (f *Firmware) Settings() *settings.Service { return f.settings }
func (f *Firmware) Storage() *storage.Service   { return f.storage }
func (f *Firmware) Screen() *status.Screen      { return f.screen }
func (f *Firmware) Beats() uint64               { return f.beats.Load() }
func (f *Firmware) Frames() uint64              { return f.frames.Load() }

// Run boots the firmware and blocks forever (TinyGo entrypoint).
func Run(h hal.HAL) {
	if _, err := New(h, DefaultConfig()); err != nil {
		if l := h.Logger(); l != nil {
			l.WriteLineString("ember: boot: " + err.Error())
		}
	}
	select {}
}
