// Package storage brings the flash up during the filesystem phase.
//
// The flash probe is slow on real parts, so it runs on the UtilTask worker
// and the FilesystemInit acknowledgment is sent from its completion callback.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"ember/emberos/sysevent"
	"ember/emberos/system"
	"ember/emberos/utiltask"
	"ember/hal"
)

// ProbeKey is the UtilTask key of the flash probe.
const ProbeKey utiltask.Key = 0x5354_0001

// Probe is the result of scanning the first erase block.
type Probe struct {
	Size       uint32
	EraseBlock uint32
	// Used counts bytes of the first block that are not erased.
	Used uint32
}

// Erased reports whether the probed block holds no data.
func (p Probe) Erased() bool { return p.Used == 0 }

func (p Probe) String() string {
	if p.Erased() {
		return fmt.Sprintf("%d KiB, erased", p.Size/1024)
	}
	return fmt.Sprintf("%d KiB, %d bytes used", p.Size/1024, p.Used)
}

// Service owns the flash mount state.
type Service struct {
	sys   *system.System
	flash hal.Flash

	mu      sync.Mutex
	mounted bool
	probe   Probe
	err     error
}

func New(sys *system.System, flash hal.Flash) *Service {
	return &Service{sys: sys, flash: flash}
}

// Register installs the probe task and the filesystem phase consumer.
func (s *Service) Register() error {
	if err := s.sys.Tasks().Register("storage-probe", ProbeKey, s.runProbe); err != nil {
		return err
	}
	return s.sys.Events().Register(sysevent.FilesystemInit|sysevent.FilesystemShutdown, "storage", s.onEvent)
}

func (s *Service) onEvent(ev sysevent.Event, _ any) {
	log := s.sys.Logger()
	switch ev {
	case sysevent.FilesystemInit:
		err := s.sys.Tasks().Signal(ProbeKey, nil, func(int64) {
			s.ack(ev)
		})
		if err != nil {
			s.fail(fmt.Errorf("storage: queue probe: %w", err))
			s.ack(ev)
		}
	case sysevent.FilesystemShutdown:
		s.mu.Lock()
		s.mounted = false
		s.mu.Unlock()
		log.WriteLineString("storage: unmounted")
		s.ack(ev)
	}
}

func (s *Service) ack(ev sysevent.Event) {
	if err := s.sys.Events().Ack(ev); err != nil {
		s.sys.Logger().WriteLineString(fmt.Sprintf("storage: ack %s: %v", ev, err))
	}
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mounted = false
	s.mu.Unlock()
	s.sys.Logger().WriteLineString(err.Error())
}

// runProbe returns the number of used bytes in the first block, or -1.
func (s *Service) runProbe(utiltask.Key, any) int64 {
	p, err := ProbeFlash(s.flash)
	if err != nil {
		s.fail(fmt.Errorf("storage: probe: %w", err))
		return -1
	}
	s.mu.Lock()
	s.probe = p
	s.mounted = true
	s.err = nil
	s.mu.Unlock()
	s.sys.Logger().WriteLineString("storage: flash " + p.String())
	return int64(p.Used)
}

// ProbeFlash reads the first erase block of f.
func ProbeFlash(f hal.Flash) (Probe, error) {
	if f == nil {
		return Probe{}, hal.ErrNotImplemented
	}
	p := Probe{Size: f.SizeBytes(), EraseBlock: f.EraseBlockBytes()}
	if p.Size == 0 || p.EraseBlock == 0 {
		return Probe{}, hal.ErrNotImplemented
	}

	n := p.EraseBlock
	if n > p.Size {
		n = p.Size
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Probe{}, err
	}
	for _, b := range buf {
		if b != 0xFF {
			p.Used++
		}
	}
	return p, nil
}

// Mounted reports whether the last probe succeeded and the filesystem
// phase has not been shut down since.
func (s *Service) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Status returns the last probe and its error.
func (s *Service) Status() (Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probe, s.err
}

// Summary is one status screen line.
func (s *Service) Summary() string {
	p, err := s.Status()
	switch {
	case errors.Is(err, hal.ErrNotImplemented):
		return "flash: none"
	case err != nil:
		return "flash: error"
	case !s.Mounted():
		return "flash: offline"
	default:
		return "flash: " + p.String()
	}
}

