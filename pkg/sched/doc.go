// Package sched is a quantized token scheduler.
//
// Callers register one-off (After) or repeating (Every) entries carrying an
// opaque token, then repeatedly ask the scheduler what is due. The scheduler
// never executes anything itself: it only decides timing and hands tokens
// back; acting on a token is the caller's job.
//
// Time is discretized into fixed-width buckets. A task due anywhere inside a
// bucket fires when that bucket becomes current; buckets that were passed
// over (e.g. the process slept through them) are reported as an overrun,
// distinct from an on-time firing, with every missed token included.
//
// A repeating task re-arms from its previous due time, not from "now". Wait
// jitter therefore does not accumulate drift, and a long stall reports one
// missed token per missed period instead of collapsing them.
//
// The scheduler is single-threaded by design: it holds no locks and is not
// safe for concurrent use. Callers that need concurrent access must
// serialize calls themselves (see internal/runner for how this repo does it).
package sched
