//go:build !tinygo

// mkflash builds an emulator flash image with a preloaded settings block.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"ember/emberos/services/settings"
	"ember/emberos/services/storage"
	"ember/hal"
)

const (
	defaultFlashPath = "ember.flash"
	defaultFlashSize = 2 * 1024 * 1024
	defaultEraseSize = 4096
)

func main() {
	var outPath, settingsPath string
	var flashSize, eraseSize uint
	overrides := map[string]string{}
	flag.StringVar(&outPath, "out", defaultFlashPath, "Output flash image path.")
	flag.UintVar(&flashSize, "size", defaultFlashSize, "Flash image size (bytes).")
	flag.UintVar(&eraseSize, "erase", defaultEraseSize, "Erase block size (bytes).")
	flag.StringVar(&settingsPath, "settings", "", "Settings file (key = value lines) to store.")
	flag.Func("set", "Store one setting as key=value (repeatable).", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("want key=value, got %q", s)
		}
		overrides[k] = v
		return nil
	})
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}

	if err := run(outPath, settingsPath, overrides, uint32(flashSize), uint32(eraseSize)); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(outPath, settingsPath string, overrides map[string]string, flashSize, eraseSize uint32) error {
	values := map[string]string{}
	if settingsPath != "" {
		b, err := os.ReadFile(settingsPath)
		if err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
		var bad []int
		values, bad = settings.Parse(string(b))
		if len(bad) > 0 {
			return fmt.Errorf("%s: malformed lines %v", settingsPath, bad)
		}
	}
	for k, v := range overrides {
		values[k] = v
	}

	f, closeFlash, err := hal.CreateFlashFile(outPath, flashSize, eraseSize)
	if err != nil {
		return err
	}
	defer func() { _ = closeFlash() }()

	if len(values) > 0 {
		if err := settings.Write(f, values); err != nil {
			return err
		}
	}

	p, err := storage.ProbeFlash(f)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s, %d settings\n", outPath, p, len(values))
	return nil
}
