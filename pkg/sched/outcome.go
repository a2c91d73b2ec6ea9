package sched

import (
	"errors"
	"fmt"
	"time"
)

// OutcomeKind discriminates the variants of Outcome.
type OutcomeKind uint8

const (
	// NextIn: nothing is due yet; Outcome.NextIn holds the time until the
	// earliest bucket opens.
	NextIn OutcomeKind = iota
	// Overrun: one or more buckets were passed over; Outcome.Tokens holds
	// every missed token in firing order.
	Overrun
	// Current: the earliest bucket is exactly the current one; Outcome.Tokens
	// holds its tokens in firing order.
	Current
)

func (k OutcomeKind) String() string {
	switch k {
	case NextIn:
		return "next_in"
	case Overrun:
		return "overrun"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
	}
}

// Outcome is the result of a single poll. Exactly one of NextIn or Tokens is
// meaningful, selected by Kind.
type Outcome[Token comparable] struct {
	Kind   OutcomeKind
	NextIn time.Duration
	Tokens []Token
}

// ErrEmpty is returned by Wait when no tasks are pending. It is an ordinary
// runtime condition, not a failure: register more tasks or stop waiting.
var ErrEmpty = errors.New("sched: scheduler is empty")

// OverrunError is returned by Wait when buckets were missed. It carries every
// missed token so the caller can log, compensate, or re-arm explicitly;
// missed ticks are never silently dropped.
type OverrunError[Token comparable] struct {
	Tokens []Token
}

func (e *OverrunError[Token]) Error() string {
	return fmt.Sprintf("sched: overrun, %d missed token(s)", len(e.Tokens))
}
