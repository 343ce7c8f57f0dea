package kernel

import "time"

// Config sizes the process-wide tables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// UtilTaskDepth is the capacity of the deferred task queue.
	UtilTaskDepth int
	// AckTimeout bounds the wait for each SysEvent consumer acknowledgment
	// once the scheduler runs.
	AckTimeout time.Duration
	// SemaphoreCeiling is the maximum count of every SysEvent semaphore.
	SemaphoreCeiling int
}

func DefaultConfig() Config {
	return Config{
		UtilTaskDepth:    16,
		AckTimeout:       10 * time.Second,
		SemaphoreCeiling: 0x7FFF,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.UtilTaskDepth <= 0 {
		c.UtilTaskDepth = def.UtilTaskDepth
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.SemaphoreCeiling <= 0 {
		c.SemaphoreCeiling = def.SemaphoreCeiling
	}
	return c
}
