// Package system holds the process-wide context: the SysEvent bus and the
// UtilTask executor, created once and shared by every subsystem.
package system

import (
	"fmt"

	"ember/emberos/kernel"
	"ember/emberos/sysevent"
	"ember/emberos/utiltask"
	"ember/hal"
)

// System lives for the process. There is no teardown.
type System struct {
	port hal.Port
	log  hal.Logger
	cfg  kernel.Config

	events *sysevent.Bus
	tasks  *utiltask.Executor
}

// New builds the bus and the executor. Call it before the scheduler starts
// so that startup broadcasts use same-thread acknowledgments.
func New(port hal.Port, log hal.Logger, cfg kernel.Config) (*System, error) {
	if port == nil {
		return nil, fmt.Errorf("system: nil port: %w", kernel.StatusInvalidArgument)
	}
	if log == nil {
		log = hal.NopLogger
	}
	cfg = cfg.WithDefaults()

	events, err := sysevent.New(port, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	tasks, err := utiltask.New(port, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	return &System{
		port:   port,
		log:    log,
		cfg:    cfg,
		events: events,
		tasks:  tasks,
	}, nil
}

// StartScheduler marks the scheduler as running and moves the bus to
// semaphore acknowledgments.
func (s *System) StartScheduler() {
	s.port.StartScheduler()
	s.events.SchedulerStarted()
}

func (s *System) Events() *sysevent.Bus     { return s.events }
func (s *System) Tasks() *utiltask.Executor { return s.tasks }
func (s *System) Port() hal.Port            { return s.port }
func (s *System) Logger() hal.Logger        { return s.log }
func (s *System) Config() kernel.Config     { return s.cfg }
