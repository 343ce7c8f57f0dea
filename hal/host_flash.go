//go:build !tinygo

package hal

import (
	"fmt"
	"os"
)

const (
	hostFlashDefaultPath      = "ember.flash"
	hostFlashDefaultSizeBytes = 2 * 1024 * 1024
	hostFlashEraseBlockBytes  = 4096
)

// newHostFlash backs the emulated flash with a file so settings survive
// restarts. The path comes from EMBER_FLASH_PATH.
//
// Any failure yields a flash that reports ErrNotImplemented.
func newHostFlash() *norFlash {
	path := os.Getenv("EMBER_FLASH_PATH")
	if path == "" {
		path = hostFlashDefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return newNORFlash(nil, 0, hostFlashEraseBlockBytes)
	}

	size := uint32(hostFlashDefaultSizeBytes)
	st, err := f.Stat()
	switch {
	case err == nil && st.Size() > int64(^uint32(0)):
		_ = f.Close()
		return newNORFlash(nil, 0, hostFlashEraseBlockBytes)
	case err == nil && st.Size() > 0:
		size = uint32(st.Size())
	default:
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return newNORFlash(nil, 0, hostFlashEraseBlockBytes)
		}
		// A fresh image reads as erased flash.
		blank := newNORFlash(f, size, hostFlashEraseBlockBytes)
		if err := blank.Erase(0, size); err != nil {
			_ = f.Close()
			return newNORFlash(nil, 0, hostFlashEraseBlockBytes)
		}
		return blank
	}
	return newNORFlash(f, size, hostFlashEraseBlockBytes)
}

// CreateFlashFile creates an erased flash image of size bytes at path,
// replacing any existing file. The returned close function releases the file.
func CreateFlashFile(path string, size, eraseBlock uint32) (Flash, func() error, error) {
	if eraseBlock == 0 || size == 0 || size%eraseBlock != 0 {
		return nil, nil, fmt.Errorf("flash image size=%d block=%d: %w", size, eraseBlock, ErrInvalidArgument)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open flash image %q: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("size flash image %q: %w", path, err)
	}
	nor := newNORFlash(f, size, eraseBlock)
	if err := nor.Erase(0, size); err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return nor, f.Close, nil
}

// OpenFlashFile opens an existing flash image. Its size is the file size.
func OpenFlashFile(path string, eraseBlock uint32) (Flash, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open flash image %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat flash image %q: %w", path, err)
	}
	size := st.Size()
	if eraseBlock == 0 || size == 0 || size > int64(^uint32(0)) || size%int64(eraseBlock) != 0 {
		_ = f.Close()
		return nil, nil, fmt.Errorf("flash image %q size=%d block=%d: %w", path, size, eraseBlock, ErrInvalidArgument)
	}
	return newNORFlash(f, uint32(size), eraseBlock), f.Close, nil
}
