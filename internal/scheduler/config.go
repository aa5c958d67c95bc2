package scheduler

import (
	"time"

	"github.com/smallbiznis/eventpay/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	// StaleSessionAfter is how long a pending checkout may sit untouched
	// before it is treated as expired. Keep it above the provider's own
	// session lifetime so a live session is never cut short.
	StaleSessionAfter time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RunInterval:       time.Minute,
		BatchSize:         50,
		StaleSessionAfter: 25 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:           cfg.Scheduler.Enabled,
		RunInterval:       cfg.Scheduler.RunInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		StaleSessionAfter: cfg.Scheduler.StaleSessionAfter,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.StaleSessionAfter <= 0 {
		c.StaleSessionAfter = defaults.StaleSessionAfter
	}
	return c
}
