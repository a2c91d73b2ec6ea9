package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tokensched/internal/config"
)

// TriggerKind describes the normalized kind of a schedule entry.
type TriggerKind int

const (
	TriggerEvery TriggerKind = iota
	TriggerAfter
	TriggerCron
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerEvery:
		return "every"
	case TriggerAfter:
		return "after"
	case TriggerCron:
		return "cron"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger is a parsed schedule entry.
//
// Supported forms (exactly one per entry):
//   - every: fixed repeating interval ("30s", "2h30m")
//   - after: one-off delay from registration ("10s")
//   - cron:  crontab.guru-style spec or @-descriptor ("*/5 * * * *",
//     "@hourly", "@every 55m"), re-armed after each firing
type Trigger struct {
	Kind  TriggerKind
	Every time.Duration
	After time.Duration
	Cron  cron.Schedule
	Spec  string // original text, for logs and snapshots
}

// ParseTrigger normalizes a validated config entry into a Trigger.
func ParseTrigger(e config.ScheduleEntry) (Trigger, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Trigger{}, fmt.Errorf("schedule name required")
	}

	set := 0
	for _, v := range []string{e.Every, e.After, e.Cron} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return Trigger{}, fmt.Errorf("schedule %q: exactly one of every/after/cron is required", name)
	}

	switch {
	case strings.TrimSpace(e.Every) != "":
		d, err := config.ParseDurationField("every", e.Every)
		if err != nil {
			return Trigger{}, fmt.Errorf("schedule %q: %w", name, err)
		}
		if d <= 0 {
			return Trigger{}, fmt.Errorf("schedule %q: every must be > 0", name)
		}
		return Trigger{Kind: TriggerEvery, Every: d, Spec: e.Every}, nil

	case strings.TrimSpace(e.After) != "":
		d, err := config.ParseDurationField("after", e.After)
		if err != nil {
			return Trigger{}, fmt.Errorf("schedule %q: %w", name, err)
		}
		return Trigger{Kind: TriggerAfter, After: d, Spec: e.After}, nil

	default:
		spec := strings.TrimSpace(e.Cron)
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return Trigger{}, fmt.Errorf("schedule %q: invalid cron spec %q: %w", name, spec, err)
		}
		return Trigger{Kind: TriggerCron, Cron: sched, Spec: spec}, nil
	}
}
