package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration; empty means zero. Negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations is the parsed view of every duration in Config.
type Durations struct {
	PollTimeout    time.Duration
	BusyTimeout    time.Duration
	Debounce       time.Duration
	ConvertTimeout time.Duration
	SweepMaxAge    time.Duration
}

// ParseDurations assumes Validate passed; unparsable fields fall back to defaults.
func (c *Config) ParseDurations() Durations {
	d := Durations{}
	d.PollTimeout, _ = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	d.BusyTimeout, _ = ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	d.Debounce, _ = ParseDurationOrDefault("batch.debounce", c.Batch.Debounce, 2*time.Second)
	d.ConvertTimeout, _ = ParseDurationOrDefault("convert.timeout", c.Convert.Timeout, 60*time.Second)
	d.SweepMaxAge, _ = ParseDurationOrDefault("convert.sweep.max_age", c.Convert.Sweep.MaxAge, time.Hour)
	return d
}
