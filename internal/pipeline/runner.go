// Package pipeline orchestrates one batch submission end to end: normalize, admit, select a
// contract, consume the response, reconcile.
package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/flush"
	"github.com/shpitdev/email-batch-validator/internal/history"
	"github.com/shpitdev/email-batch-validator/internal/normalize"
	"github.com/shpitdev/email-batch-validator/internal/quota"
	"github.com/shpitdev/email-batch-validator/internal/reconcile"
	"github.com/shpitdev/email-batch-validator/internal/session"
	"github.com/shpitdev/email-batch-validator/internal/stream"
	"github.com/shpitdev/email-batch-validator/internal/transport"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/redact"
)

// Backend is the subset of transport.Client the runner needs.
type Backend interface {
	OpenStream(ctx context.Context, c transport.Contract, creds transport.Credentials, req transport.Request) (io.ReadCloser, error)
	ValidateBulk(ctx context.Context, c transport.Contract, creds transport.Credentials, req transport.Request) (transport.BulkResponse, error)
}

type Options struct {
	// Streaming reports whether this client can consume streamed responses. Admin submissions
	// never stream.
	Streaming bool
	Advanced  bool
	// KeepDuplicates skips deduplication for this runner regardless of the session preference.
	KeepDuplicates bool

	StreamTimeout time.Duration
	BulkTimeout   time.Duration

	Flush flush.Options
}

func (o Options) withDefaults() Options {
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 300 * time.Second
	}
	if o.BulkTimeout <= 0 {
		o.BulkTimeout = 600 * time.Second
	}
	return o
}

// Observer receives live updates for one submission. All hooks run on the submitting goroutine
// and may be nil.
type Observer struct {
	OnState    func(batch.State)
	OnStart    func(stream.StartEvent)
	OnProgress func(batch.Progress)
	OnFlush    func(stream.FlushEvent)
}

func (o Observer) state(s batch.State) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

// Runner submits batches on behalf of one caller session.
type Runner struct {
	backend Backend
	hub     *session.Hub
	gate    *quota.Gatekeeper
	recon   *reconcile.Reconciler
	history *history.Bridge
	opts    Options
	log     *zap.Logger

	inFlight atomic.Bool
}

// NewRunner wires a runner. hist may be nil to disable local history.
func NewRunner(backend Backend, hub *session.Hub, gate *quota.Gatekeeper, hist *history.Bridge, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend: backend,
		hub:     hub,
		gate:    gate,
		recon:   reconcile.New(hub, logger),
		history: hist,
		opts:    opts.withDefaults(),
		log:     logger,
	}
}

// Submit validates every address found in raw.
//
// Pre-flight rejections (batch.ErrNoEmails, *batch.QuotaError) are returned before any network
// call. A failure after at least one result yields a StatePartial outcome with a warning and a
// nil error. Only one submission may run at a time; a concurrent call gets batch.ErrJobInFlight.
func (r *Runner) Submit(ctx context.Context, raw string, obs Observer) (batch.Outcome, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return batch.Outcome{State: batch.StateIdle}, batch.ErrJobInFlight
	}
	defer r.inFlight.Store(false)

	log := r.log.With(zap.String("run", "run-"+uuid.NewString()[:8]))

	sess, err := r.hub.Refresh(ctx, session.ReasonSubmissionStart)
	if err != nil {
		return batch.Outcome{State: batch.StateFailed}, err
	}

	dedupe := sess.Dedupe() && !r.opts.KeepDuplicates
	job, err := normalize.Normalize(raw, dedupe)
	if err != nil {
		return batch.Outcome{State: batch.StateIdle}, err
	}
	role := sess.EffectiveRole()
	if err := r.gate.Admit(len(job.Items), sess); err != nil {
		log.Info("batch rejected before send", zap.String("role", string(role)), zap.Error(err))
		return batch.Outcome{State: batch.StateIdle}, err
	}

	contract := transport.Select(role, r.opts.Streaming)
	log.Info("submission start",
		zap.String("role", string(role)),
		zap.String("contract", contract.Name),
		zap.Int("items", len(job.Items)),
		zap.Int("original", job.OriginalCount),
		zap.Int("duplicates", job.DuplicateCount),
	)

	s := &submission{
		r:        r,
		log:      log,
		obs:      obs,
		role:     role,
		contract: contract,
		creds:    transport.Credentials{Token: sess.Token, UserID: sess.UserID},
		req: transport.Request{
			Emails:           job.Items,
			Advanced:         r.opts.Advanced,
			RemoveDuplicates: dedupe,
		},
		agg:     batch.NewAggregate(job),
		started: time.Now(),
	}

	droppedBefore := r.historyDropped()
	var out batch.Outcome
	if contract.Streaming {
		out, err = s.runStream(ctx)
	} else {
		out, err = s.runBulk(ctx)
	}
	if err != nil {
		log.Warn("submission failed", zap.String("error", redact.Secrets(err.Error())))
		obs.state(batch.StateFailed)
		return out, err
	}

	// Session writes must land even when the caller already gave up.
	out.Quota = r.recon.Complete(context.WithoutCancel(ctx), s.agg, reconcile.Input{
		Role:       role,
		Started:    s.started,
		Completion: out.Completion,
	})
	if _, err := r.hub.Refresh(context.WithoutCancel(ctx), session.ReasonSubmissionComplete); err != nil {
		log.Warn("session refresh after submission failed", zap.Error(err))
	}
	out.Aggregate = s.agg.Clone()
	out.HistoryDropped = r.historyDropped() - droppedBefore

	fields := []zap.Field{
		zap.String("state", string(out.State)),
		zap.Int("results", len(s.agg.Results)),
		zap.Int("valid", s.agg.ValidCount),
		zap.Int("invalid", s.agg.InvalidCount),
		zap.Duration("elapsed", time.Since(s.started)),
	}
	if out.Warning != nil {
		fields = append(fields, zap.String("warning", redact.Secrets(out.Warning.Error())))
	}
	if out.HistoryDropped > 0 {
		fields = append(fields, zap.Int("history_dropped", out.HistoryDropped))
	}
	log.Info("submission end", fields...)
	obs.state(out.State)
	return out, nil
}

func (r *Runner) historyDropped() int {
	if r.history == nil {
		return 0
	}
	_, dropped := r.history.Stats()
	return dropped
}

type submission struct {
	r        *Runner
	log      *zap.Logger
	obs      Observer
	role     batch.Role
	contract transport.Contract
	creds    transport.Credentials
	req      transport.Request
	agg      *batch.Aggregate
	started  time.Time
}

// sinks are the flush destinations beyond the aggregate itself.
func (s *submission) sinks() []flush.Sink {
	if s.role == batch.RoleAnonymous && s.r.history != nil {
		return []flush.Sink{s.r.history.Persist}
	}
	return nil
}

func (s *submission) runStream(ctx context.Context) (batch.Outcome, error) {
	timeout := s.r.opts.StreamTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.obs.state(batch.StateSending)
	body, err := s.r.backend.OpenStream(ctx, s.contract, s.creds, s.req)
	if err != nil {
		return batch.Outcome{State: batch.StateFailed}, stream.Classify(ctx, err, timeout)
	}
	defer func() { _ = body.Close() }()

	s.obs.state(batch.StateStreaming)
	consumer := stream.NewConsumer(stream.Options{
		Flush:   s.r.opts.Flush,
		Logger:  s.log,
		Timeout: timeout,
	}, stream.Observer{
		OnStart:    s.obs.OnStart,
		OnProgress: s.obs.OnProgress,
		OnFlush:    s.obs.OnFlush,
		OnComplete: func(stream.CompleteEvent) { s.obs.state(batch.StateCompleting) },
	}, s.sinks()...)

	rep, err := consumer.Run(ctx, body, s.agg)
	s.log.Debug("stream consumed", zap.Int("flushes", rep.Flushes), zap.Int("skipped", rep.Skipped))
	if rep.Skipped > 0 {
		s.log.Warn("skipped malformed stream events", zap.Int("skipped", rep.Skipped))
	}
	if err != nil {
		return batch.Outcome{State: batch.StateFailed, Progress: rep.Progress}, err
	}
	return batch.Outcome{
		State:      rep.State,
		Progress:   rep.Progress,
		Completion: rep.Completion,
		Warning:    rep.Warning,
	}, nil
}

func (s *submission) runBulk(ctx context.Context) (batch.Outcome, error) {
	timeout := s.r.opts.BulkTimeout
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.obs.state(batch.StateSending)
	resp, err := s.r.backend.ValidateBulk(reqCtx, s.contract, s.creds, s.req)
	if err != nil {
		return batch.Outcome{State: batch.StateFailed}, stream.Classify(reqCtx, err, timeout)
	}

	s.agg.Correct(resp.Total, resp.OriginalCount, resp.DuplicatesRemoved)
	results := make([]batch.Result, len(resp.Results))
	for i, res := range resp.Results {
		res.ReceivedAt = i
		results[i] = res
	}

	var progress batch.Progress
	commit := func(chunk []batch.Result) {
		s.agg.Append(chunk)
		progress = bulkProgress(len(s.agg.Results), len(results), s.started)
		if s.obs.OnProgress != nil {
			s.obs.OnProgress(progress)
		}
		if s.obs.OnFlush != nil {
			s.obs.OnFlush(stream.FlushEvent{
				Batch:        chunk,
				ValidCount:   s.agg.ValidCount,
				InvalidCount: s.agg.InvalidCount,
				Retained:     len(s.agg.Results),
			})
		}
	}
	sched := flush.New(s.r.opts.Flush, append([]flush.Sink{commit}, s.sinks()...)...)

	s.obs.state(batch.StateStreaming)
	if err := flush.RunBulk(ctx, results, sched); err != nil {
		// Every chunk was still committed; the response itself is complete.
		s.log.Info("bulk pacing interrupted; remaining results committed at once", zap.Error(err))
	}

	comp := resp.Completion()
	progress.Current = len(s.agg.Results)
	progress.Total = len(results)
	progress.Percentage = 100
	progress.ETASeconds = 0
	s.obs.state(batch.StateCompleting)
	return batch.Outcome{State: batch.StateDone, Progress: progress, Completion: &comp}, nil
}

func bulkProgress(current, total int, started time.Time) batch.Progress {
	p := batch.Progress{Current: current, Total: total}
	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}
	if elapsed := time.Since(started).Seconds(); elapsed > 0.001 {
		p.ThroughputPerSecond = float64(current) / elapsed
	}
	if p.ThroughputPerSecond > 0 && total > current {
		p.ETASeconds = float64(total-current) / p.ThroughputPerSecond
	}
	return p
}
