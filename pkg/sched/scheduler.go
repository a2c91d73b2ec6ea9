package sched

import (
	"cmp"
	"slices"
	"time"

	"github.com/tidwall/btree"
)

// Scheduler owns all pending tasks, grouped by due bucket in ascending
// order. Token is the caller's opaque payload type; the scheduler only ever
// copies it (to hand out on firing) and compares it (for Cancel).
//
// Not safe for concurrent use. See the package doc.
type Scheduler[Token comparable] struct {
	bucketWidth time.Duration
	buckets     *btree.Map[TimePoint, []task[Token]]
	clock       TimeSource
}

// New creates a scheduler backed by a SteadyClock, with the given bucket
// width. Panics if bucketWidth is not strictly positive.
func New[Token comparable](bucketWidth time.Duration) *Scheduler[Token] {
	return WithClock[Token](bucketWidth, NewSteadyClock())
}

// WithClock creates a scheduler with an injected time source. The scheduler
// assumes exclusive ownership of the source.
func WithClock[Token comparable](bucketWidth time.Duration, clock TimeSource) *Scheduler[Token] {
	if bucketWidth <= 0 {
		panic("sched: bucket width must be positive")
	}
	if clock == nil {
		panic("sched: nil time source")
	}
	return &Scheduler[Token]{
		bucketWidth: bucketWidth,
		buckets:     btree.NewMap[TimePoint, []task[Token]](8),
		clock:       clock,
	}
}

// After registers a one-off task due d from now. Panics if d is negative.
func (s *Scheduler[Token]) After(d time.Duration, token Token) {
	s.insert(newTask(d, s.clock.Now(), oneOff, token))
}

// Every registers a repeating task, first due d from now and every d after
// each firing. Panics if d is negative.
func (s *Scheduler[Token]) Every(d time.Duration, token Token) {
	s.insert(newTask(d, s.clock.Now(), perpetual, token))
}

func (s *Scheduler[Token]) insert(t task[Token]) {
	tp := s.toTimePoint(t.dueAt())
	bucket, _ := s.buckets.Get(tp)
	s.buckets.Set(tp, append(bucket, t))
}

// Len reports the number of pending tasks across all buckets.
func (s *Scheduler[Token]) Len() int {
	n := 0
	s.buckets.Scan(func(_ TimePoint, bucket []task[Token]) bool {
		n += len(bucket)
		return true
	})
	return n
}

// BucketWidth reports the quantization interval the scheduler was built with.
func (s *Scheduler[Token]) BucketWidth() time.Duration {
	return s.bucketWidth
}

type actionKind uint8

const (
	actNone actionKind = iota
	actWait
	actSkip
	actYield
)

// action is the scheduler's internal decision for a single poll.
type action struct {
	kind  actionKind
	wait  time.Duration // actWait: time until the earliest bucket opens
	skip  []TimePoint   // actSkip: buckets strictly below the current one, ascending
	yield TimePoint     // actYield: the bucket that is exactly current
}

// nextAction classifies the earliest populated bucket against the current
// one. It reads the clock fresh on every call and never mutates state.
func (s *Scheduler[Token]) nextAction() action {
	now := s.clock.Now()
	current := s.toTimePoint(now)

	tp, _, ok := s.buckets.Min()
	if !ok {
		return action{kind: actNone}
	}
	switch {
	case tp > current:
		return action{kind: actWait, wait: s.toDuration(tp) - now}
	case tp == current:
		return action{kind: actYield, yield: tp}
	default:
		var overdue []TimePoint
		s.buckets.Scan(func(tp TimePoint, _ []task[Token]) bool {
			if tp >= current {
				return false
			}
			overdue = append(overdue, tp)
			return true
		})
		return action{kind: actSkip, skip: overdue}
	}
}

// Next polls the scheduler once. It reports false when nothing is pending.
//
// A NextIn outcome is non-consuming: polling again while the clock has not
// moved yields the same answer. Overrun and Current outcomes consume the
// buckets they report.
//
// Consuming overdue buckets can itself create overdue buckets: a repeating
// task with an interval shorter than the elapsed stall re-arms into the
// past. Next keeps consuming until no bucket remains below the current one,
// so a stalled repeating task is reported as missed N times in one outcome
// rather than firing N times across a tight poll loop.
func (s *Scheduler[Token]) Next() (Outcome[Token], bool) {
	switch act := s.nextAction(); act.kind {
	case actWait:
		return Outcome[Token]{Kind: NextIn, NextIn: act.wait}, true
	case actSkip:
		tokens := s.consume(act.skip)
		for {
			act = s.nextAction()
			if act.kind != actSkip {
				break
			}
			tokens = append(tokens, s.consume(act.skip)...)
		}
		return Outcome[Token]{Kind: Overrun, Tokens: tokens}, true
	case actYield:
		return Outcome[Token]{Kind: Current, Tokens: s.consume([]TimePoint{act.yield})}, true
	default:
		return Outcome[Token]{}, false
	}
}

// consume removes the given buckets, flattens their tasks, and returns the
// tokens ordered by arm time ascending. Repeating tasks are re-armed from
// their old due time and re-inserted; their new bucket may already be in the
// past, which the next poll will classify as overdue.
func (s *Scheduler[Token]) consume(tps []TimePoint) []Token {
	var tasks []task[Token]
	for _, tp := range tps {
		bucket, _ := s.buckets.Delete(tp)
		tasks = append(tasks, bucket...)
	}
	slices.SortStableFunc(tasks, func(a, b task[Token]) int {
		return cmp.Compare(a.armedAt, b.armedAt)
	})

	tokens := make([]Token, len(tasks))
	for i, t := range tasks {
		tokens[i] = t.token
		if t.bond == perpetual {
			s.insert(t.next())
		}
	}
	return tokens
}

// Cancel removes every pending task whose token equals the given one and
// prunes buckets left empty. Non-matching tasks in the same bucket keep
// their order.
func (s *Scheduler[Token]) Cancel(token Token) {
	type update struct {
		tp     TimePoint
		bucket []task[Token]
	}
	var updates []update
	s.buckets.Scan(func(tp TimePoint, bucket []task[Token]) bool {
		kept := make([]task[Token], 0, len(bucket))
		for _, t := range bucket {
			if t.token != token {
				kept = append(kept, t)
			}
		}
		if len(kept) != len(bucket) {
			updates = append(updates, update{tp: tp, bucket: kept})
		}
		return true
	})
	for _, u := range updates {
		if len(u.bucket) == 0 {
			s.buckets.Delete(u.tp)
		} else {
			s.buckets.Set(u.tp, u.bucket)
		}
	}
}

// Wait blocks until something fires. It is a convenience loop over Next and
// adds no scheduling logic of its own: on NextIn it sleeps via the time
// source and retries, on Current it returns the tokens, on Overrun it fails
// with an OverrunError carrying the missed tokens, and on an empty scheduler
// it fails with ErrEmpty.
//
// The installed time source must implement Waiter; calling Wait on a
// scheduler whose source cannot sleep is a programming error and panics.
func (s *Scheduler[Token]) Wait() ([]Token, error) {
	w, ok := s.clock.(Waiter)
	if !ok {
		panic("sched: time source does not implement Waiter")
	}
	for {
		out, pending := s.Next()
		if !pending {
			return nil, ErrEmpty
		}
		switch out.Kind {
		case NextIn:
			w.Wait(out.NextIn)
		case Overrun:
			return nil, &OverrunError[Token]{Tokens: out.Tokens}
		case Current:
			return out.Tokens, nil
		}
	}
}

// FastForward advances the underlying virtual clock. The installed time
// source must implement FastForwarder; anything else is a programming error
// and panics. Exposed for tests and simulations.
func (s *Scheduler[Token]) FastForward(d time.Duration) {
	ff, ok := s.clock.(FastForwarder)
	if !ok {
		panic("sched: time source does not implement FastForwarder")
	}
	ff.FastForward(d)
}
