package runner

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tokensched/internal/config"
	"tokensched/internal/eventbus"
	"tokensched/internal/storage"
	logx "tokensched/pkg/logx"
	"tokensched/pkg/sched"
)

type Config struct {
	BucketWidth time.Duration
	Entries     []config.ScheduleEntry

	// OverrunWarnInterval throttles overrun warnings so a long stall does
	// not flood the log sinks. Default: 30s.
	OverrunWarnInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BucketWidth <= 0 {
		c.BucketWidth = time.Second
	}
	if c.OverrunWarnInterval <= 0 {
		c.OverrunWarnInterval = 30 * time.Second
	}
	return c
}

// Service owns one scheduler instance and the goroutine polling it. The
// scheduler itself is single-threaded; every access goes through s.mu.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu       sync.Mutex
	cfg      Config
	clock    sched.TimeSource
	sched    *sched.Scheduler[string]
	triggers map[string]Trigger
	entries  map[string]config.ScheduleEntry

	overrunWarn *rate.Limiter

	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds the runner with a real-time clock. Entries are validated here
// but not armed until Start.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) (*Service, error) {
	return newService(cfg, log, bus, store, sched.NewSteadyClock())
}

func newService(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, clock sched.TimeSource) (*Service, error) {
	cfg = cfg.withDefaults()
	triggers, err := parseEntries(cfg.Entries)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:         log,
		bus:         bus,
		store:       store,
		cfg:         cfg,
		clock:       clock,
		sched:       sched.WithClock[string](cfg.BucketWidth, clock),
		triggers:    triggers,
		entries:     entryMap(cfg.Entries),
		overrunWarn: rate.NewLimiter(rate.Every(cfg.OverrunWarnInterval), 1),
		wake:        make(chan struct{}, 1),
	}
	return s, nil
}

func parseEntries(entries []config.ScheduleEntry) (map[string]Trigger, error) {
	out := make(map[string]Trigger, len(entries))
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		tr, err := ParseTrigger(e)
		if err != nil {
			return nil, err
		}
		out[e.Name] = tr
	}
	return out, nil
}

func entryMap(entries []config.ScheduleEntry) map[string]config.ScheduleEntry {
	out := make(map[string]config.ScheduleEntry, len(entries))
	for _, e := range entries {
		out[e.Name] = e
	}
	return out
}

// Start arms all configured entries and launches the poll loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.armAllLocked()
	n := s.sched.Len()
	width := s.cfg.BucketWidth
	s.mu.Unlock()

	// Hand the loop its own channel; Stop may nil out s.stopCh before the
	// goroutine first runs.
	s.wg.Add(1)
	go s.loop(ctx, stopCh)
	s.log.Info("runner started",
		logx.Int("schedules", n),
		logx.Duration("bucket_width", width))
}

// Stop interrupts any pending wait and joins the poll loop. Safe to call
// more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.wg.Wait()
	s.log.Info("runner stopped")
}

// Cancel removes a schedule by name, pruning its pending tasks.
func (s *Service) Cancel(name string) {
	s.mu.Lock()
	s.sched.Cancel(name)
	delete(s.triggers, name)
	delete(s.entries, name)
	s.mu.Unlock()
	s.kick()
}

func (s *Service) armAllLocked() {
	for name, tr := range s.triggers {
		s.armLocked(name, tr)
	}
}

// armLocked registers the trigger's next firing with the scheduler.
//
// Cron schedules yield absolute wall-clock activations while the core is
// interval-based, so each cron entry is armed as a one-off delay and
// re-armed after it fires.
func (s *Service) armLocked(name string, tr Trigger) {
	switch tr.Kind {
	case TriggerEvery:
		s.sched.Every(tr.Every, name)
	case TriggerAfter:
		s.sched.After(tr.After, name)
	case TriggerCron:
		d := time.Until(tr.Cron.Next(time.Now()))
		if d < 0 {
			d = 0
		}
		s.sched.After(d, name)
	}
}

// kick wakes the poll loop out of a pending sleep.
func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		wait, pending, fired := s.pollOnce(ctx)
		if fired {
			// Something fired; poll again immediately, more may be due.
			continue
		}
		if !pending {
			// Nothing scheduled at all: block until a registration or stop.
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-s.wake:
				continue
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pollOnce performs a single scheduler poll and dispatches any firing.
// Returns the wait hint when nothing is due yet.
func (s *Service) pollOnce(ctx context.Context) (wait time.Duration, pending, fired bool) {
	s.mu.Lock()
	out, ok := s.sched.Next()
	if ok && out.Kind != sched.NextIn {
		s.settleLocked(out.Tokens)
	}
	s.mu.Unlock()

	if !ok {
		return 0, false, false
	}
	if out.Kind == sched.NextIn {
		return out.NextIn, true, false
	}

	s.dispatch(ctx, out)
	return 0, true, true
}

// settleLocked re-arms cron entries that just fired and forgets completed
// one-off entries. Repeating (every) entries re-arm inside the scheduler.
func (s *Service) settleLocked(tokens []string) {
	seen := make(map[string]struct{}, len(tokens))
	for _, name := range tokens {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		tr, ok := s.triggers[name]
		if !ok {
			continue
		}
		switch tr.Kind {
		case TriggerCron:
			s.armLocked(name, tr)
		case TriggerAfter:
			delete(s.triggers, name)
			delete(s.entries, name)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, out sched.Outcome[string]) {
	overrun := out.Kind == sched.Overrun
	now := time.Now()

	if overrun {
		if s.overrunWarn.Allow() {
			s.log.Warn("schedule overrun",
				logx.Int("missed", len(out.Tokens)),
				logx.Strs("tokens", out.Tokens))
		} else {
			s.log.Debug("schedule overrun (throttled)",
				logx.Int("missed", len(out.Tokens)))
		}
	} else {
		s.log.Info("schedule fired", logx.Strs("tokens", out.Tokens))
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Firing{Time: now, Tokens: out.Tokens, Overrun: overrun})
	}

	if s.store != nil {
		outcome := "current"
		missed := 0
		if overrun {
			outcome = "overrun"
			missed = len(out.Tokens)
		}
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		for _, tok := range out.Tokens {
			r := storage.FiringRecord{At: now, Token: tok, Outcome: outcome, Missed: missed}
			if err := s.store.AppendFiring(sctx, r); err != nil {
				s.log.Warn("firing history append failed", logx.String("token", tok), logx.Err(err))
				break
			}
		}
	}
}

// Apply swaps in a new schedule set at runtime. Entries are diffed by name:
// removed, changed, or disabled entries are cancelled; new or changed ones
// re-armed. A bucket width change rebuilds the scheduler outright.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	triggers, err := parseEntries(cfg.Entries)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if cfg.BucketWidth != s.cfg.BucketWidth {
		// A different quantization cannot be retrofitted onto armed buckets.
		s.sched = sched.WithClock[string](cfg.BucketWidth, s.clock)
		s.triggers = triggers
		s.entries = entryMap(cfg.Entries)
		if s.running {
			s.armAllLocked()
		}
	} else {
		next := entryMap(cfg.Entries)
		// Cancel entries that disappeared or changed.
		for name, old := range s.entries {
			if e, ok := next[name]; !ok || e != old {
				s.sched.Cancel(name)
				delete(s.triggers, name)
			}
		}
		// Arm entries that are new or changed.
		for name, e := range next {
			if old, ok := s.entries[name]; ok && e == old {
				continue
			}
			tr, ok := triggers[name]
			if !ok {
				continue // disabled
			}
			s.triggers[name] = tr
			if s.running {
				s.armLocked(name, tr)
			}
		}
		s.entries = next
	}
	if cfg.OverrunWarnInterval != s.cfg.OverrunWarnInterval {
		s.overrunWarn = rate.NewLimiter(rate.Every(cfg.OverrunWarnInterval), 1)
	}
	s.cfg = cfg
	s.mu.Unlock()

	s.kick()
	return nil
}

// ScheduleInfo describes one live schedule entry.
type ScheduleInfo struct {
	Name string
	Kind string
	Spec string
}

// Snapshot reports runner diagnostics.
type Snapshot struct {
	Pending     int // tasks currently armed in the scheduler
	BucketWidth time.Duration
	Schedules   []ScheduleInfo
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Pending:     s.sched.Len(),
		BucketWidth: s.cfg.BucketWidth,
		Schedules:   make([]ScheduleInfo, 0, len(s.triggers)),
	}
	for name, tr := range s.triggers {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{
			Name: name,
			Kind: tr.Kind.String(),
			Spec: tr.Spec,
		})
	}
	slices.SortFunc(snap.Schedules, func(a, b ScheduleInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}
