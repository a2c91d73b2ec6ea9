package sched

import (
	"math"
	"time"
)

// TimePoint is a discrete bucket index: elapsed time divided by the bucket
// width, floored. Tasks whose due times land in the same bucket fire
// together, and the overrun/on-time distinction is bucket-granular rather
// than a continuous-time race.
type TimePoint uint64

// toTimePoint quantizes a non-negative elapsed duration into a bucket index.
// The division happens once, over nanosecond magnitudes, so there is no
// intermediate rounding.
//
// A negative duration is a programming error: elapsed time never runs
// backwards here, so a negative value means the caller's arithmetic is wrong.
func (s *Scheduler[Token]) toTimePoint(d time.Duration) TimePoint {
	if d < 0 {
		panic("sched: cannot quantize a negative duration")
	}
	return TimePoint(d / s.bucketWidth)
}

// toDuration recovers the lower edge of a bucket. Bucket indexes far enough
// out that the product overflows int64 nanoseconds are beyond the
// representable horizon (~292 years at nanosecond resolution) and fail fast
// rather than silently wrapping.
func (s *Scheduler[Token]) toDuration(tp TimePoint) time.Duration {
	if uint64(tp) > uint64(math.MaxInt64)/uint64(s.bucketWidth) {
		panic("sched: time point beyond representable horizon")
	}
	return time.Duration(tp) * s.bucketWidth
}
