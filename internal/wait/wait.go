// Package wait is the single poll-until-true primitive behind every
// blocking gateway operation.
package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the predicate did not hold before the deadline.
var ErrTimeout = errors.New("wait: condition not met before timeout")

// Policy controls how often a condition is re-checked and for how long.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Until evaluates pred against read() immediately and then every
// p.Interval until it holds, p.Timeout elapses or ctx is done. Samples for
// which read reports !ok are treated as not matching. The last sample read
// is returned in every case.
func Until[S any](ctx context.Context, read func() (S, bool), pred func(S) bool, p Policy) (S, error) {
	last, ok := read()
	if ok && pred(last) {
		return last, nil
	}

	interval := p.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			// One final look so a condition met exactly at the boundary counts
			if s, ok := read(); ok {
				last = s
				if pred(s) {
					return s, nil
				}
			}
			return last, ErrTimeout
		case <-ticker.C:
			s, ok := read()
			if !ok {
				continue
			}
			last = s
			if pred(s) {
				return s, nil
			}
		}
	}
}
