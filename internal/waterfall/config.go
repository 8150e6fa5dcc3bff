package waterfall

import (
	"math"
	"time"
)

// Config controls how many fallback attempts an orchestration may make and
// how long it waits between them.
type Config struct {
	MaxAttempts         int     `json:"max_attempts"`
	InitialRetryDelayMS int     `json:"initial_retry_delay_ms"`
	MaxRetryDelayMS     int     `json:"max_retry_delay_ms"`
	BackoffMultiplier   float64 `json:"backoff_multiplier"`
	Enabled             bool    `json:"enabled"`
}

// MaxDelayMS bounds every backoff delay regardless of configuration.
const MaxDelayMS = 3_600_000

// DefaultConfig returns the default waterfall timing.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		InitialRetryDelayMS: 50,
		MaxRetryDelayMS:     500,
		BackoffMultiplier:   2,
		Enabled:             true,
	}
}

// Overrides is a partial Config. Nil fields keep the value they are merged over.
type Overrides struct {
	MaxAttempts         *int     `json:"max_attempts,omitempty"`
	InitialRetryDelayMS *int     `json:"initial_retry_delay_ms,omitempty"`
	MaxRetryDelayMS     *int     `json:"max_retry_delay_ms,omitempty"`
	BackoffMultiplier   *float64 `json:"backoff_multiplier,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
}

// Merge returns c with every non-nil field of o applied. The result is normalized
// so that attempt counts are at least one, delays are non-negative and the
// backoff never shrinks.
func (c Config) Merge(o *Overrides) Config {
	if o != nil {
		if o.MaxAttempts != nil {
			c.MaxAttempts = *o.MaxAttempts
		}
		if o.InitialRetryDelayMS != nil {
			c.InitialRetryDelayMS = *o.InitialRetryDelayMS
		}
		if o.MaxRetryDelayMS != nil {
			c.MaxRetryDelayMS = *o.MaxRetryDelayMS
		}
		if o.BackoffMultiplier != nil {
			c.BackoffMultiplier = *o.BackoffMultiplier
		}
		if o.Enabled != nil {
			c.Enabled = *o.Enabled
		}
	}
	return c.normalize()
}

func (c Config) normalize() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	c.InitialRetryDelayMS = clampInt(c.InitialRetryDelayMS, 0, MaxDelayMS)
	c.MaxRetryDelayMS = clampInt(c.MaxRetryDelayMS, 0, MaxDelayMS)
	if c.BackoffMultiplier < 1 || math.IsNaN(c.BackoffMultiplier) {
		c.BackoffMultiplier = 1
	}
	return c
}

// Limits caps request-supplied configuration. Zero fields are unbounded.
type Limits struct {
	MaxAttempts     int `json:"max_attempts"`
	MaxRetryDelayMS int `json:"max_retry_delay_ms"`
}

// Clamp lowers the attempt count and both delays of c to the limits.
func (l Limits) Clamp(c Config) Config {
	if l.MaxAttempts > 0 && c.MaxAttempts > l.MaxAttempts {
		c.MaxAttempts = l.MaxAttempts
	}
	if l.MaxRetryDelayMS > 0 {
		c.MaxRetryDelayMS = min(c.MaxRetryDelayMS, l.MaxRetryDelayMS)
		c.InitialRetryDelayMS = min(c.InitialRetryDelayMS, l.MaxRetryDelayMS)
	}
	return c.normalize()
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// firstDelay is the wait before attempt 2, capped by MaxRetryDelayMS.
func (c Config) firstDelay() int {
	return min(c.InitialRetryDelayMS, c.MaxRetryDelayMS)
}

// nextDelay advances the exponential backoff from current.
func (c Config) nextDelay(current int) int {
	next := float64(current) * c.BackoffMultiplier
	if next >= float64(c.MaxRetryDelayMS) {
		return c.MaxRetryDelayMS
	}
	return int(next)
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
