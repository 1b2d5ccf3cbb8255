package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/flush"
)

// maxLine bounds a single event line; larger lines are discarded and counted as skipped.
const maxLine = 1 << 20

// FlushEvent describes one committed batch.
type FlushEvent struct {
	Batch        []batch.Result
	ValidCount   int
	InvalidCount int
	Retained     int
}

// Observer receives consumer notifications. Every hook runs on the consumer goroutine and may be nil.
type Observer struct {
	OnStart    func(StartEvent)
	OnProgress func(batch.Progress)
	OnFlush    func(FlushEvent)
	OnComplete func(CompleteEvent)
}

// Options configures a Consumer.
type Options struct {
	Flush  flush.Options
	Logger *zap.Logger

	// Timeout is the submission ceiling already applied to ctx; it is only used to describe
	// a deadline failure.
	Timeout time.Duration

	// Now overrides the clock used for throughput and flush timing.
	Now func() time.Time
}

// Report is the consumer's verdict for one stream.
type Report struct {
	State      batch.State
	Progress   batch.Progress
	Completion *batch.Completion
	Warning    *batch.PartialResultsWarning

	// Skipped counts malformed, oversized or unknown lines that were ignored.
	Skipped int
	// Flushes counts the non-empty batches committed to the aggregate.
	Flushes int
}

// Consumer turns a response body into committed results. A Consumer may be reused, but Run
// must not be called concurrently.
type Consumer struct {
	opts     Options
	log      *zap.Logger
	observer Observer
	sinks    []flush.Sink
}

// NewConsumer builds a consumer. Sinks receive every flushed batch after the aggregate does.
func NewConsumer(opts Options, observer Observer, sinks ...flush.Sink) *Consumer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Flush.Now == nil {
		opts.Flush.Now = opts.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{opts: opts, log: log, observer: observer, sinks: sinks}
}

type line struct {
	b         []byte
	oversized bool
	err       error
}

// Run consumes body until a complete event, a failure, or ctx is done. agg is owned by
// Run for its duration and is consistent whenever a hook observes it.
//
// A failure after at least one result is downgraded to StatePartial with a warning and a nil
// error. With no results the cause is returned: *batch.TimeoutError when ctx's deadline passed,
// batch.ErrAborted when ctx was cancelled, otherwise a *batch.TransportError.
func (c *Consumer) Run(ctx context.Context, body io.Reader, agg *batch.Aggregate) (Report, error) {
	st := &run{
		c:       c,
		agg:     agg,
		started: c.opts.Now(),
		report:  Report{State: batch.StateStreaming},
	}
	st.report.Progress.Total = agg.Total

	sinks := make([]flush.Sink, 0, len(c.sinks)+1)
	sinks = append(sinks, st.commit)
	sinks = append(sinks, c.sinks...)
	st.sched = flush.New(c.opts.Flush, sinks...)

	done := make(chan struct{})
	defer close(done)
	lines := readLines(body, done)

	tick := st.sched.Interval() / 2
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return st.fail(Classify(ctx, ctx.Err(), c.opts.Timeout))

		case <-ticker.C:
			st.sched.FlushIfDue()

		case l := <-lines:
			if l.err != nil {
				if ctx.Err() != nil {
					return st.fail(Classify(ctx, ctx.Err(), c.opts.Timeout))
				}
				if errors.Is(l.err, io.EOF) {
					return st.fail(&batch.TransportError{Op: "stream:read", Err: batch.ErrStreamIncomplete})
				}
				return st.fail(&batch.TransportError{Op: "stream:read", Err: l.err})
			}
			if l.oversized {
				st.report.Skipped++
				st.c.log.Warn("skipping oversized stream event", zap.Int("limit_bytes", maxLine))
				continue
			}
			if rep, finished := st.handle(l.b); finished {
				return rep, nil
			}
		}
	}
}

// readLines feeds body lines to the returned channel until EOF, a read error, or done closes.
// Lines longer than maxLine are read to their end and reported as oversized. The final
// message always carries a non-nil err.
func readLines(body io.Reader, done <-chan struct{}) <-chan line {
	out := make(chan line)
	send := func(l line) bool {
		select {
		case out <- l:
			return true
		case <-done:
			return false
		}
	}
	go func() {
		br := bufio.NewReaderSize(body, 64*1024)
		for {
			b, err := br.ReadSlice('\n')
			buf := append([]byte(nil), b...)
			oversized := false
			for errors.Is(err, bufio.ErrBufferFull) {
				b, err = br.ReadSlice('\n')
				if oversized {
					continue
				}
				if len(buf)+len(b) > maxLine {
					oversized = true
					buf = nil
					continue
				}
				buf = append(buf, b...)
			}

			if err == nil || errors.Is(err, io.EOF) {
				switch {
				case oversized:
					if !send(line{oversized: true}) {
						return
					}
				case len(buf) > 0:
					if !send(line{b: buf}) {
						return
					}
				}
			}
			if err != nil {
				send(line{err: err})
				return
			}
		}
	}()
	return out
}

type run struct {
	c        *Consumer
	agg      *batch.Aggregate
	sched    *flush.Scheduler
	started  time.Time
	received int
	report   Report
}

func (st *run) commit(results []batch.Result) {
	st.agg.Append(results)
	if st.c.observer.OnFlush != nil {
		st.c.observer.OnFlush(FlushEvent{
			Batch:        results,
			ValidCount:   st.agg.ValidCount,
			InvalidCount: st.agg.InvalidCount,
			Retained:     len(st.agg.Results),
		})
	}
}

func (st *run) handle(raw []byte) (Report, bool) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		if !errors.Is(err, ErrNotData) {
			st.report.Skipped++
			st.c.log.Warn("skipping malformed stream event", zap.Error(err))
		}
		return Report{}, false
	}

	switch ev.Type {
	case EventStart:
		st.agg.Correct(ev.Start.Total, ev.Start.OriginalCount, ev.Start.DuplicatesRemoved)
		st.report.Progress.Total = st.agg.Total
		st.c.log.Debug("stream started",
			zap.Int("total", ev.Start.Total),
			zap.Int("duplicates_removed", ev.Start.DuplicatesRemoved),
		)
		if st.c.observer.OnStart != nil {
			st.c.observer.OnStart(*ev.Start)
		}

	case EventResult:
		r := ev.Result.Result
		r.ReceivedAt = st.received
		st.received++
		st.advance(ev.Result.Progress)
		if st.c.observer.OnProgress != nil {
			st.c.observer.OnProgress(st.report.Progress)
		}
		st.sched.Add(r)

	case EventComplete:
		st.report.State = batch.StateCompleting
		st.sched.Drain()

		p := &st.report.Progress
		if ev.Complete.Total > 0 {
			p.Total = ev.Complete.Total
		}
		if p.Current < p.Total {
			p.Current = p.Total
		}
		p.Percentage = 100
		p.ETASeconds = 0
		if st.c.observer.OnProgress != nil {
			st.c.observer.OnProgress(*p)
		}
		if st.c.observer.OnComplete != nil {
			st.c.observer.OnComplete(*ev.Complete)
		}

		comp := ev.Complete.Completion()
		st.report.Completion = &comp
		st.report.State = batch.StateDone
		st.report.Flushes = st.sched.Flushes()
		return st.report, true
	}
	return Report{}, false
}

// advance folds server progress into the monotonic client view.
func (st *run) advance(sp ServerProgress) {
	p := &st.report.Progress
	if sp.Total > 0 {
		p.Total = sp.Total
	}

	current := sp.Current
	if current <= 0 {
		current = st.received
	}
	if current > p.Current {
		p.Current = current
	}

	pct := sp.Percentage
	if pct <= 0 && p.Total > 0 {
		pct = float64(p.Current) / float64(p.Total) * 100
	}
	if pct > 100 {
		pct = 100
	}
	if pct > p.Percentage {
		p.Percentage = pct
	}

	p.ThroughputPerSecond = 0
	p.ETASeconds = 0
	elapsed := st.c.opts.Now().Sub(st.started).Seconds()
	if elapsed > 0.001 {
		p.ThroughputPerSecond = float64(p.Current) / elapsed
	}
	if p.ThroughputPerSecond > 0 && p.Total > p.Current {
		p.ETASeconds = float64(p.Total-p.Current) / p.ThroughputPerSecond
	}
}

func (st *run) fail(cause error) (Report, error) {
	st.sched.Drain()
	st.report.Flushes = st.sched.Flushes()
	retained := len(st.agg.Results)
	if retained == 0 {
		st.report.State = batch.StateFailed
		return st.report, cause
	}
	st.c.log.Warn("stream failed; keeping partial results",
		zap.Int("retained", retained),
		zap.Error(cause),
	)
	st.report.State = batch.StatePartial
	st.report.Warning = &batch.PartialResultsWarning{Retained: retained, Cause: cause}
	return st.report, nil
}

// Classify maps a failure observed under ctx onto the error taxonomy. Deadline expiry becomes
// a *batch.TimeoutError and cancellation becomes batch.ErrAborted; other errors pass through.
func Classify(ctx context.Context, err error, timeout time.Duration) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &batch.TimeoutError{After: timeout}
	case errors.Is(ctx.Err(), context.Canceled):
		return batch.ErrAborted
	default:
		return err
	}
}
