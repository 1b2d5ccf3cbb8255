// Package reconcile finalises a submission: authoritative totals, domain statistics and the
// caller's entitlement.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/session"
)

// Input is everything known about a finished submission.
type Input struct {
	Role    batch.Role
	Started time.Time

	// Completion is nil when the submission ended in partial results.
	Completion *batch.Completion
}

// Reconciler is the only component that writes entitlement back to the session.
type Reconciler struct {
	hub *session.Hub
	log *zap.Logger
	now func() time.Time
}

// New returns a reconciler that writes through hub.
func New(hub *session.Hub, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{hub: hub, log: logger, now: time.Now}
}

// WithClock overrides the wall clock (tests).
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Complete folds in the completion and returns the caller's updated quota, if it changed.
// It must run after the final flush. Session write failures are logged, not returned: the
// results are already final.
func (r *Reconciler) Complete(ctx context.Context, agg *batch.Aggregate, in Input) *batch.Quota {
	elapsed := r.now().Sub(in.Started).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	agg.ProcessingTimeSeconds = &elapsed

	if c := in.Completion; c != nil {
		agg.Correct(c.Total, 0, c.DuplicatesRemoved)
		if c.ValidCount != agg.ValidCount || c.InvalidCount != agg.InvalidCount {
			r.log.Warn("server totals differ from retained results",
				zap.Int("server_valid", c.ValidCount),
				zap.Int("server_invalid", c.InvalidCount),
				zap.Int("retained_valid", agg.ValidCount),
				zap.Int("retained_invalid", agg.InvalidCount),
			)
		}
	}

	if in.Completion != nil && len(in.Completion.DomainStats) > 0 {
		agg.DomainStats = copyStats(in.Completion.DomainStats)
	} else {
		agg.DomainStats = DomainStats(agg.Results)
	}

	if r.hub == nil {
		return nil
	}

	switch in.Role {
	case batch.RoleAnonymous:
		n := len(agg.Results)
		if n == 0 {
			return nil
		}
		s, err := r.hub.Update(ctx, func(s *session.Session) {
			s.AnonymousValidations += n
		})
		if err != nil {
			r.log.Warn("advance anonymous counter failed", zap.Error(err))
			return nil
		}
		r.log.Debug("anonymous counter advanced", zap.Int("validations", s.AnonymousValidations))
		return nil

	default:
		if in.Completion == nil || in.Completion.QuotaUsage == nil {
			return nil
		}
		q := *in.Completion.QuotaUsage
		if _, err := r.hub.Update(ctx, func(s *session.Session) { s.ApplyQuota(q) }); err != nil {
			r.log.Warn("write quota usage failed", zap.Error(err))
		}
		return &q
	}
}

func copyStats(in batch.DomainStats) batch.DomainStats {
	out := make(batch.DomainStats, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
