//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	Hz      int
	Ticks   uint64
}

// RunHeadless runs the firmware without opening a window. It steps the tick
// source and the firmware at cfg.Hz until ctx is done or cfg.Ticks frames ran.
func RunHeadless(ctx context.Context, newApp func(HAL) (func() error, error), cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h := New().(*hostHAL)
	step, err := newApp(h)
	if err != nil {
		return err
	}

	t := time.NewTicker(d)
	defer t.Stop()

	var frames uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			h.t.step(1)
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			frames++
			if cfg.Ticks > 0 && frames >= cfg.Ticks {
				return nil
			}
		}
	}
}
