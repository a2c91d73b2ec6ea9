package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Schedules []ScheduleEntry `json:"schedules"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls the quantization of the core scheduler.
//
// BucketWidth is a Go duration string (e.g. "250ms", "1s"). Tasks whose due
// times fall inside the same bucket fire together; overrun detection is
// bucket-granular. Default: "1s".
type SchedulerConfig struct {
	BucketWidth string `json:"bucket_width,omitempty"`
}

// ScheduleEntry is one named schedule definition.
//
// Exactly one of Every, After or Cron must be set:
//   - every: repeating interval, Go duration string (e.g. "30s")
//   - after: one-off delay from daemon start, Go duration string
//   - cron:  standard 5-field cron spec or @-descriptor (robfig/cron),
//     re-armed after each firing
//
// The entry name is the token handed back when the schedule fires and the
// match key for cancellation on reload, so names must be unique.
type ScheduleEntry struct {
	Name     string `json:"name"`
	Every    string `json:"every,omitempty"`
	After    string `json:"after,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// StorageConfig controls the optional firing-history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tokensched_history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
// Prefer binding to localhost.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

// Width parses the configured bucket width, defaulting to one second.
func (c SchedulerConfig) Width() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.bucket_width", c.BucketWidth, time.Second)
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	w, err := c.Scheduler.Width()
	if err != nil {
		return err
	}
	if w <= 0 {
		return errors.New("scheduler.bucket_width must be positive")
	}

	seen := make(map[string]struct{}, len(c.Schedules))
	for i, e := range c.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", path)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s: duplicate name %q", path, name)
		}
		seen[name] = struct{}{}

		set := 0
		for _, v := range []string{e.Every, e.After, e.Cron} {
			if strings.TrimSpace(v) != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("%s (%s): exactly one of every/after/cron is required", path, name)
		}
		if e.Every != "" {
			d, err := ParseDurationField(path+".every", e.Every)
			if err != nil {
				return err
			}
			if d <= 0 {
				return fmt.Errorf("%s.every: must be positive", path)
			}
		}
		if e.After != "" {
			if _, err := ParseDurationField(path+".after", e.After); err != nil {
				return err
			}
		}
	}
	return nil
}
