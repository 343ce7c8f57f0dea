// Package settings loads persistent key/value settings from the last erase
// block of flash during the settings phase.
//
// The region holds text lines of the form
//
//	key = value
//	# comment
//	name = "quoted value"
//
// terminated by the first erased (0xFF) or zero byte.
package settings

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"

	"ember/emberos/sysevent"
	"ember/emberos/system"
	"ember/hal"

	"github.com/google/shlex"
)

// Service owns the loaded settings.
type Service struct {
	sys   *system.System
	flash hal.Flash

	mu     sync.RWMutex
	values map[string]string
	ready  bool
}

func New(sys *system.System, flash hal.Flash) *Service {
	return &Service{sys: sys, flash: flash, values: map[string]string{}}
}

// Register installs the settings phase consumer.
func (s *Service) Register() error {
	return s.sys.Events().Register(sysevent.SettingsInitStart|sysevent.SettingsInitEnd, "settings", s.onEvent)
}

func (s *Service) onEvent(ev sysevent.Event, _ any) {
	log := s.sys.Logger()
	switch ev {
	case sysevent.SettingsInitStart:
		values, err := s.load()
		if err != nil {
			log.WriteLineString(fmt.Sprintf("settings: load: %v", err))
		}
		s.mu.Lock()
		s.values = values
		s.mu.Unlock()
	case sysevent.SettingsInitEnd:
		s.mu.Lock()
		s.ready = true
		n := len(s.values)
		s.mu.Unlock()
		log.WriteLineString(fmt.Sprintf("settings: %d keys", n))
	}
	if err := s.sys.Events().Ack(ev); err != nil {
		log.WriteLineString(fmt.Sprintf("settings: ack %s: %v", ev, err))
	}
}

// region returns the offset and size of the settings block.
func region(f hal.Flash) (off, size uint32, err error) {
	if f == nil || f.SizeBytes() == 0 || f.EraseBlockBytes() == 0 {
		return 0, 0, hal.ErrNotImplemented
	}
	size = f.EraseBlockBytes()
	if size > f.SizeBytes() {
		return 0, 0, fmt.Errorf("settings region: %w", hal.ErrInvalidArgument)
	}
	return f.SizeBytes() - size, size, nil
}

func (s *Service) load() (map[string]string, error) {
	values, bad, err := Read(s.flash)
	for _, line := range bad {
		s.sys.Logger().WriteLineString(fmt.Sprintf("settings: ignoring line %d", line))
	}
	return values, err
}

// Parse reads settings text. It returns the values and the 1-based numbers
// of lines it could not parse; later keys override earlier ones.
func Parse(text string) (map[string]string, []int) {
	values := map[string]string{}
	var bad []int
	for n, line := range strings.Split(text, "\n") {
		tokens, err := shlex.Split(line)
		if err != nil {
			bad = append(bad, n+1)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		key, value, ok := splitAssignment(tokens)
		if !ok {
			bad = append(bad, n+1)
			continue
		}
		values[key] = value
	}
	return values, bad
}

// splitAssignment accepts "k = v", "k=v", "k= v" and "k =v".
func splitAssignment(tokens []string) (key, value string, ok bool) {
	var rest []string
	switch {
	case len(tokens) >= 2 && strings.HasPrefix(tokens[1], "="):
		key = tokens[0]
		rest = append([]string{strings.TrimPrefix(tokens[1], "=")}, tokens[2:]...)
	default:
		k, v, found := strings.Cut(tokens[0], "=")
		if !found {
			return "", "", false
		}
		key = k
		rest = append([]string{v}, tokens[1:]...)
	}
	if key == "" {
		return "", "", false
	}
	if len(rest) > 0 && rest[0] == "" {
		rest = rest[1:]
	}
	return key, strings.Join(rest, " "), true
}

// Format renders values in the form Parse reads back, keys sorted.
func Format(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(quote(values[k]))
		b.WriteByte('\n')
	}
	return b.String()
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\r\n'\"\\#=") {
		return v
	}
	if !strings.ContainsAny(v, "'\r\n") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// Get returns the value of key.
func (s *Service) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Ready reports whether the settings phase has completed.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Len returns the number of loaded keys.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Store replaces the stored settings with values and makes them current.
func (s *Service) Store(values map[string]string) error {
	if err := Write(s.flash, values); err != nil {
		return err
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.mu.Lock()
	s.values = copied
	s.mu.Unlock()
	return nil
}

// Write erases the settings block of f and writes values to it.
func Write(f hal.Flash, values map[string]string) error {
	off, size, err := region(f)
	if err != nil {
		return err
	}
	text := Format(values)
	if uint32(len(text)) >= size {
		return fmt.Errorf("settings: %d bytes do not fit in %d: %w", len(text), size, hal.ErrInvalidArgument)
	}
	if err := f.Erase(off, size); err != nil {
		return fmt.Errorf("settings: erase: %w", err)
	}
	if _, err := f.WriteAt([]byte(text), off); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	return nil
}

// Read returns the settings stored on f and the numbers of lines that could
// not be parsed.
func Read(f hal.Flash) (map[string]string, []int, error) {
	off, size, err := region(f)
	if err != nil {
		return map[string]string{}, nil, err
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, off); err != nil {
		return map[string]string{}, nil, err
	}
	if i := bytes.IndexAny(buf, "\xff\x00"); i >= 0 {
		buf = buf[:i]
	}
	values, bad := Parse(string(buf))
	return values, bad, nil
}
