// Package runner dispatches fired schedule tokens.
//
// The core scheduler (pkg/sched) only decides timing; the runner is the
// caller acting on it. It registers the configured schedule entries, polls
// the scheduler in a single goroutine (serializing all access behind its own
// mutex), and on each firing logs the tokens, publishes them on the event
// bus, appends them to the firing-history store, and re-arms cron entries.
//
// The poll loop sleeps with a real timer it can abandon early, so shutdown
// and config reload interrupt a pending wait without touching the scheduling
// algorithm.
package runner
