// Package worker runs a bounded pool of goroutines over a slice of inputs and reports each
// result as soon as it completes.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/email-batch-validator/pkg/pipeline/core"
)

type Options struct {
	Workers    int
	MaxRetries int

	// ItemTimeout bounds a single attempt. Set to <=0 to rely on the parent context only.
	ItemTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the outcome for one input item. Index is its position in the input slice.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 50 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// Run processes items with opts.Workers goroutines and invokes onResult once per item in
// completion order, always from the calling goroutine. An item error is reported in its
// Result and does not stop the pool; an error returned by onResult does, and Run returns it.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) error {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	type job struct {
		idx int
		in  In
	}
	jobs := make(chan job)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				out, err := attempt(runCtx, j.in, fn, limiter, opts)
				select {
				case done <- Result[In, Out]{Index: j.idx, Input: j.in, Output: out, Err: err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	var stopErr error
	for res := range done {
		if stopErr != nil || onResult == nil {
			continue
		}
		if err := onResult(res); err != nil {
			stopErr = err
			cancel()
		}
	}
	if stopErr != nil {
		return stopErr
	}
	return ctx.Err()
}

// ProcessAll is Run collecting results in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	out := make([]Result[In, Out], len(items))
	err := Run(ctx, items, fn, func(r Result[In, Out]) error {
		out[r.Index] = r
		return nil
	}, opts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func attempt[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, error) {
	var last Out
	for try := 0; ; try++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		itemCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.ItemTimeout > 0 {
			itemCtx, cancel = context.WithTimeout(ctx, opts.ItemTimeout)
		}
		out, err := fn(itemCtx, item)
		cancel()
		last = out
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !isTransient(err) || try >= retryBudget(opts.MaxRetries, err) {
			return last, err
		}

		t := time.NewTimer(backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, try))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func retryBudget(defaultRetries int, err error) int {
	var capErr retryCap
	if errors.As(err, &capErr) {
		return max(0, min(capErr.MaxExtraRetries(), defaultRetries))
	}
	return defaultRetries
}

func isTransient(err error) bool {
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoffSleep(initial, ceiling time.Duration, jitterFrac float64, try int) time.Duration {
	sleep := initial
	for i := 0; i < try && sleep < ceiling; i++ {
		sleep = min(sleep*2, ceiling)
	}
	if jitterFrac == 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
