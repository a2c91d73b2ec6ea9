package runner

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"tokensched/internal/config"
	"tokensched/internal/eventbus"
	"tokensched/internal/storage"
	logx "tokensched/pkg/logx"
	"tokensched/pkg/sched"
)

func newTestService(t *testing.T, cfg Config, bus eventbus.Bus, store storage.Store) (*Service, *sched.ManualClock) {
	t.Helper()
	clock := sched.NewManualClock()
	s, err := newService(cfg, logx.Nop(), bus, store, clock)
	if err != nil {
		t.Fatalf("newService() error: %v", err)
	}
	return s, clock
}

// armAll arms the configured entries the way Start does, without launching
// the poll loop. Tests on a virtual clock drive pollOnce themselves; a
// concurrent loop goroutine would race them for both the clock and the
// firings.
func armAll(s *Service) {
	s.mu.Lock()
	s.running = true
	s.armAllLocked()
	s.mu.Unlock()
}

func TestPollOnceCurrent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "tick", Every: "1s"}},
	}
	s, clock := newTestService(t, cfg, bus, nil)
	armAll(s)

	clock.FastForward(time.Second)
	wait, pending, fired := s.pollOnce(context.Background())
	if !pending || !fired {
		t.Fatalf("pollOnce() = %v, %v, %v, want fired", wait, pending, fired)
	}

	got := <-ch
	if got.Overrun || !slices.Equal(got.Tokens, []string{"tick"}) {
		t.Fatalf("event = %+v, want on-time [tick]", got)
	}
}

func TestPollOnceOverrun(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "tick", Every: "1s"}},
	}
	s, clock := newTestService(t, cfg, bus, nil)
	armAll(s)

	clock.FastForward(4 * time.Second)
	if _, _, fired := s.pollOnce(context.Background()); !fired {
		t.Fatal("pollOnce() did not fire")
	}

	got := <-ch
	if !got.Overrun || !slices.Equal(got.Tokens, []string{"tick", "tick", "tick"}) {
		t.Fatalf("event = %+v, want overrun [tick tick tick]", got)
	}

	// The current bucket still holds the on-time tick.
	if _, _, fired := s.pollOnce(context.Background()); !fired {
		t.Fatal("second pollOnce() did not fire")
	}
	got = <-ch
	if got.Overrun || !slices.Equal(got.Tokens, []string{"tick"}) {
		t.Fatalf("event = %+v, want on-time [tick]", got)
	}
}

func TestPollOnceRecordsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "history"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open() error: %v", err)
	}
	defer store.Close()

	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "job", After: "1s"}},
	}
	s, clock := newTestService(t, cfg, nil, store)
	armAll(s)

	clock.FastForward(time.Second)
	if _, _, fired := s.pollOnce(ctx); !fired {
		t.Fatal("pollOnce() did not fire")
	}

	got, err := store.RecentFirings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentFirings() error: %v", err)
	}
	if len(got) != 1 || got[0].Token != "job" || got[0].Outcome != "current" {
		t.Fatalf("history = %+v, want one on-time record for job", got)
	}
}

func TestOneOffEntryForgottenAfterFiring(t *testing.T) {
	t.Parallel()
	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "once", After: "1s"}},
	}
	s, clock := newTestService(t, cfg, nil, nil)
	armAll(s)

	if snap := s.Snapshot(); snap.Pending != 1 || len(snap.Schedules) != 1 {
		t.Fatalf("snapshot before firing = %+v", snap)
	}

	clock.FastForward(time.Second)
	if _, _, fired := s.pollOnce(context.Background()); !fired {
		t.Fatal("pollOnce() did not fire")
	}

	snap := s.Snapshot()
	if snap.Pending != 0 || len(snap.Schedules) != 0 {
		t.Fatalf("snapshot after firing = %+v, want empty", snap)
	}
}

func TestCronEntryRearms(t *testing.T) {
	t.Parallel()
	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "cronjob", Cron: "@every 1h"}},
	}
	s, clock := newTestService(t, cfg, nil, nil)
	armAll(s)

	// Run the virtual clock far past the first activation.
	clock.FastForward(2 * time.Hour)
	if _, _, fired := s.pollOnce(context.Background()); !fired {
		t.Fatal("pollOnce() did not fire")
	}

	// The entry re-armed itself for the next activation.
	snap := s.Snapshot()
	if snap.Pending != 1 || len(snap.Schedules) != 1 {
		t.Fatalf("snapshot after firing = %+v, want re-armed cron entry", snap)
	}
	if snap.Schedules[0].Kind != "cron" {
		t.Fatalf("schedule kind = %s, want cron", snap.Schedules[0].Kind)
	}
}

func TestApplyDiffsEntries(t *testing.T) {
	t.Parallel()
	cfg := Config{
		BucketWidth: time.Second,
		Entries: []config.ScheduleEntry{
			{Name: "keep", Every: "10s"},
			{Name: "drop", Every: "20s"},
		},
	}
	s, _ := newTestService(t, cfg, nil, nil)
	armAll(s)

	if snap := s.Snapshot(); snap.Pending != 2 {
		t.Fatalf("Pending = %d, want 2", snap.Pending)
	}

	cfg.Entries = []config.ScheduleEntry{
		{Name: "keep", Every: "10s"},
		{Name: "added", Every: "5s"},
	}
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	snap := s.Snapshot()
	if snap.Pending != 2 || len(snap.Schedules) != 2 {
		t.Fatalf("snapshot = %+v, want keep+added", snap)
	}
	if snap.Schedules[0].Name != "added" || snap.Schedules[1].Name != "keep" {
		t.Fatalf("schedules = %+v, want [added keep]", snap.Schedules)
	}
}

func TestApplyRejectsBadEntries(t *testing.T) {
	t.Parallel()
	cfg := Config{BucketWidth: time.Second}
	s, _ := newTestService(t, cfg, nil, nil)

	bad := cfg
	bad.Entries = []config.ScheduleEntry{{Name: "x", Cron: "not a cron"}}
	if err := s.Apply(bad); err == nil {
		t.Fatal("Apply() accepted an invalid cron spec")
	}
	// The old state survives a rejected apply.
	if snap := s.Snapshot(); len(snap.Schedules) != 0 {
		t.Fatalf("snapshot = %+v, want unchanged", snap)
	}
}

func TestLoopRealTime(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	cfg := Config{
		BucketWidth: 10 * time.Millisecond,
		Entries:     []config.ScheduleEntry{{Name: "fast", After: "30ms"}},
	}
	s, err := New(cfg, logx.Nop(), bus, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	select {
	case got := <-ch:
		if !slices.Equal(got.Tokens, []string{"fast"}) {
			t.Fatalf("event = %+v, want [fast]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the schedule to fire")
	}
}

func TestStopImmediatelyAfterStart(t *testing.T) {
	t.Parallel()
	cfg := Config{
		BucketWidth: time.Second,
		Entries:     []config.ScheduleEntry{{Name: "tick", Every: "1s"}},
	}
	// Stop right on Start's heels so it can run before the loop goroutine
	// is ever scheduled. A few rounds to give the race a chance.
	for i := 0; i < 5; i++ {
		s, err := New(cfg, logx.Nop(), nil, nil)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		s.Start(context.Background())

		done := make(chan struct{})
		go func() {
			s.Stop()
			s.Stop() // second call is a no-op
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Stop() did not return")
		}
	}
}

func TestDisabledEntriesNotArmed(t *testing.T) {
	t.Parallel()
	cfg := Config{
		BucketWidth: time.Second,
		Entries: []config.ScheduleEntry{
			{Name: "on", Every: "10s"},
			{Name: "off", Every: "10s", Disabled: true},
		},
	}
	s, _ := newTestService(t, cfg, nil, nil)
	armAll(s)

	snap := s.Snapshot()
	if snap.Pending != 1 || len(snap.Schedules) != 1 || snap.Schedules[0].Name != "on" {
		t.Fatalf("snapshot = %+v, want only the enabled entry", snap)
	}
}
