package sched

import "time"

// bond determines whether a task fires once or re-arms after firing.
type bond uint8

const (
	oneOff bond = iota
	perpetual
)

// task is one scheduled unit: the interval until it fires, the elapsed-time
// offset at which it was last (re)armed, and the caller's token.
type task[Token comparable] struct {
	interval time.Duration
	armedAt  time.Duration
	token    Token
	bond     bond
}

func newTask[Token comparable](interval, armedAt time.Duration, b bond, token Token) task[Token] {
	if interval < 0 {
		// A negative interval would move the schedule backward in time.
		panic("sched: negative interval")
	}
	return task[Token]{
		interval: interval,
		armedAt:  armedAt,
		token:    token,
		bond:     b,
	}
}

// dueAt is the elapsed-time offset at which the task fires.
func (t task[Token]) dueAt() time.Duration {
	return t.armedAt + t.interval
}

// next re-arms a fired task from its previous due time, not from the current
// time. Each missed period therefore keeps its own due bucket instead of
// being compressed into "now".
func (t task[Token]) next() task[Token] {
	t.armedAt += t.interval
	return t
}
