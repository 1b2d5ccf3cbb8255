package flush

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// RunBulk replays an already-complete result array through s, one Threshold-sized chunk per
// Interval tick, so a non-streaming response gets the same progressive reveal as a stream.
//
// If ctx is cancelled (or its deadline would pass before the next tick) the remaining
// chunks are flushed immediately and the error is returned; no result is dropped.
func RunBulk(ctx context.Context, results []batch.Result, s *Scheduler) error {
	if len(results) == 0 {
		return nil
	}
	// Burst of 1: the first chunk goes out immediately, the rest wait one interval each.
	limiter := rate.NewLimiter(rate.Every(s.Interval()), 1)

	size := s.Threshold()
	for start := 0; start < len(results); start += size {
		end := min(start+size, len(results))
		if err := limiter.Wait(ctx); err != nil {
			s.pending = append(s.pending, results[start:]...)
			s.Drain()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		s.pending = append(s.pending, results[start:end]...)
		s.flush()
	}
	return nil
}
