package runner

import (
	"testing"
	"time"

	"tokensched/internal/config"
)

func TestParseTrigger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		entry config.ScheduleEntry
		kind  TriggerKind
		every time.Duration
		after time.Duration
	}{
		{name: "every", entry: config.ScheduleEntry{Name: "a", Every: "30s"}, kind: TriggerEvery, every: 30 * time.Second},
		{name: "after", entry: config.ScheduleEntry{Name: "b", After: "1m"}, kind: TriggerAfter, after: time.Minute},
		{name: "after zero", entry: config.ScheduleEntry{Name: "c", After: "0s"}, kind: TriggerAfter},
		{name: "cron", entry: config.ScheduleEntry{Name: "d", Cron: "*/5 * * * *"}, kind: TriggerCron},
		{name: "cron descriptor", entry: config.ScheduleEntry{Name: "e", Cron: "@hourly"}, kind: TriggerCron},
		{name: "cron every", entry: config.ScheduleEntry{Name: "f", Cron: "@every 55m"}, kind: TriggerCron},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTrigger(tt.entry)
			if err != nil {
				t.Fatalf("ParseTrigger(%+v) error: %v", tt.entry, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Every != tt.every || got.After != tt.after {
				t.Fatalf("durations = %v/%v, want %v/%v", got.Every, got.After, tt.every, tt.after)
			}
			if tt.kind == TriggerCron && got.Cron == nil {
				t.Fatal("cron schedule is nil")
			}
		})
	}
}

func TestParseTriggerInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		entry config.ScheduleEntry
	}{
		{name: "no name", entry: config.ScheduleEntry{Every: "30s"}},
		{name: "no trigger", entry: config.ScheduleEntry{Name: "a"}},
		{name: "two triggers", entry: config.ScheduleEntry{Name: "a", Every: "30s", Cron: "@hourly"}},
		{name: "zero every", entry: config.ScheduleEntry{Name: "a", Every: "0s"}},
		{name: "negative after", entry: config.ScheduleEntry{Name: "a", After: "-1s"}},
		{name: "bad cron", entry: config.ScheduleEntry{Name: "a", Cron: "61 * * * *"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseTrigger(tt.entry); err == nil {
				t.Fatalf("ParseTrigger(%+v) succeeded, want error", tt.entry)
			}
		})
	}
}
