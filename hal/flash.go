package hal

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrFlashWriteRequiresErase = errors.New("flash write requires erase")

// flashBacking stores the raw flash image.
type flashBacking interface {
	io.ReaderAt
	io.WriterAt
}

// norFlash applies NOR programming rules over a backing store: erase sets a
// whole block to 0xFF and writes may only clear bits.
type norFlash struct {
	mu    sync.Mutex
	b     flashBacking
	size  uint32
	block uint32
	ff    []byte
}

func newNORFlash(b flashBacking, size, block uint32) *norFlash {
	ff := make([]byte, block)
	for i := range ff {
		ff[i] = 0xFF
	}
	return &norFlash{b: b, size: size, block: block, ff: ff}
}

func (f *norFlash) SizeBytes() uint32       { return f.size }
func (f *norFlash) EraseBlockBytes() uint32 { return f.block }

func (f *norFlash) clamp(p []byte, off uint32, op string) ([]byte, error) {
	if f.b == nil {
		return nil, ErrNotImplemented
	}
	if off >= f.size {
		return nil, fmt.Errorf("flash %s at %d: %w", op, off, ErrInvalidArgument)
	}
	if maxN := int(f.size - off); len(p) > maxN {
		p = p[:maxN]
	}
	return p, nil
}

func (f *norFlash) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.clamp(p, off, "read")
	if err != nil {
		return 0, err
	}
	return f.b.ReadAt(p, int64(off))
}

func (f *norFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.clamp(p, off, "write")
	if err != nil {
		return 0, err
	}

	cur := make([]byte, len(p))
	if _, err := f.b.ReadAt(cur, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if cur[i]&p[i] != p[i] {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	return f.b.WriteAt(p, int64(off))
}

func (f *norFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.b == nil {
		return ErrNotImplemented
	}
	if size == 0 {
		return nil
	}
	if off%f.block != 0 || size%f.block != 0 || off >= f.size || off+size > f.size {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, ErrInvalidArgument)
	}
	for ; size > 0; off, size = off+f.block, size-f.block {
		if _, err := f.b.WriteAt(f.ff, int64(off)); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
	}
	return nil
}

type memBacking []byte

func (m memBacking) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memBacking) WriteAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	n := copy(m[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// NewMemFlash returns an erased in-memory flash of size bytes.
func NewMemFlash(size, eraseBlock uint32) Flash {
	if eraseBlock == 0 || size%eraseBlock != 0 {
		panic(fmt.Sprintf("hal: mem flash size %d not a multiple of block %d", size, eraseBlock))
	}
	m := make(memBacking, size)
	for i := range m {
		m[i] = 0xFF
	}
	return newNORFlash(m, size, eraseBlock)
}
