// Package flush coalesces per-result events into bounded observer updates.
package flush

import (
	"time"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Sink receives each flushed batch. The slice is a fresh copy owned by nobody: sinks must
// treat it as read-only and must not retain it expecting further mutation.
type Sink func(results []batch.Result)

// Options controls when pending results are committed.
type Options struct {
	// Threshold flushes once this many results are pending.
	Threshold int
	// Interval flushes once this much time has passed since the last flush.
	Interval time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 20
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Scheduler is owned by a single consumer goroutine and is not safe for concurrent use.
type Scheduler struct {
	opts      Options
	sinks     []Sink
	pending   []batch.Result
	lastFlush time.Time
	flushes   int
}

// New returns a scheduler whose interval clock starts now.
func New(opts Options, sinks ...Sink) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		opts:      opts,
		sinks:     sinks,
		pending:   make([]batch.Result, 0, opts.Threshold),
		lastFlush: opts.Now(),
	}
}

// Interval is the configured maximum time between flushes.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Threshold is the configured pending-queue size that forces a flush.
func (s *Scheduler) Threshold() int {
	return s.opts.Threshold
}

// Add queues r and flushes if either trigger fired. It reports whether a flush happened.
func (s *Scheduler) Add(r batch.Result) bool {
	s.pending = append(s.pending, r)
	if len(s.pending) >= s.opts.Threshold {
		s.flush()
		return true
	}
	return s.FlushIfDue()
}

// FlushIfDue flushes pending results when the interval has elapsed since the last flush.
func (s *Scheduler) FlushIfDue() bool {
	if len(s.pending) == 0 {
		return false
	}
	if s.opts.Now().Sub(s.lastFlush) < s.opts.Interval {
		return false
	}
	s.flush()
	return true
}

// Drain unconditionally flushes whatever is pending and returns how many results it committed.
func (s *Scheduler) Drain() int {
	n := len(s.pending)
	if n == 0 {
		return 0
	}
	s.flush()
	return n
}

// Flushes is the number of non-empty flushes performed so far.
func (s *Scheduler) Flushes() int {
	return s.flushes
}

func (s *Scheduler) flush() {
	out := make([]batch.Result, len(s.pending))
	copy(out, s.pending)
	s.pending = s.pending[:0]
	s.lastFlush = s.opts.Now()
	s.flushes++
	for _, sink := range s.sinks {
		sink(out)
	}
}
