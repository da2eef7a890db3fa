package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	// RunInterval is how often the full job set runs. The dunning rules
	// are day-granular, so anything from minutes to a day is safe.
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// EnabledJobs restricts the run to the named jobs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		BatchSize:   200,
		JobTimeout:  10 * time.Minute,
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
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
