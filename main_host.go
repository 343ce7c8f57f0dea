//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"ember/app"
	"ember/hal"
)

func main() {
	cfg := app.DefaultConfig()
	var headless hal.HeadlessConfig
	flag.BoolVar(&headless.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&headless.Hz, "hz", 60, "Frame rate in headless mode.")
	flag.Uint64Var(&headless.Ticks, "ticks", 0, "Stop after N frames in headless mode (0 = run forever).")
	flag.IntVar(&cfg.Kernel.UtilTaskDepth, "utiltask-depth", cfg.Kernel.UtilTaskDepth, "Deferred task queue capacity.")
	flag.DurationVar(&cfg.Kernel.AckTimeout, "ack-timeout", cfg.Kernel.AckTimeout, "Per-consumer SysEvent acknowledgment timeout.")
	flag.Uint64Var(&cfg.RedrawEvery, "redraw-every", cfg.RedrawEvery, "Status screen period in ticks (0 = never).")
	flag.Parse()

	var fw *app.Firmware
	newApp := func(h hal.HAL) (func() error, error) {
		var err error
		fw, err = app.New(h, cfg)
		if err != nil {
			return nil, err
		}
		return fw.Step, nil
	}

	var err error
	if headless.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = hal.RunHeadless(ctx, newApp, headless)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	} else {
		err = hal.RunWindow(newApp)
	}

	if fw != nil {
		if serr := fw.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil && !errors.Is(err, app.ErrHalted) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
