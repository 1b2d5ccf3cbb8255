package history

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// DefaultSyntheticPatterns match addresses that are never worth keeping.
var DefaultSyntheticPatterns = []string{
	`@example\.(com|org|net)$`,
	`\.(test|invalid|localhost)$`,
	`^link-gen\+`,
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// QueueSize bounds how many flushed batches may wait for the writer.
	QueueSize int
	// SyntheticPatterns overrides DefaultSyntheticPatterns. Matching is case-insensitive.
	SyntheticPatterns []string
	// WriteTimeout bounds a single store append.
	WriteTimeout time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Bridge copies flushed results into a Store without blocking the caller.
// Storage failures are logged and never surface to the submission.
type Bridge struct {
	store     Store
	log       *zap.Logger
	now       func() time.Time
	timeout   time.Duration
	synthetic []*regexp.Regexp

	mu      sync.Mutex
	closed  bool
	queue   chan []batch.Result
	done    chan struct{}
	dropped int
	written int
}

// NewBridge starts the writer goroutine. Invalid patterns are returned as an error.
func NewBridge(store Store, opts BridgeOptions) (*Bridge, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	patterns := opts.SyntheticPatterns
	if patterns == nil {
		patterns = DefaultSyntheticPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}

	b := &Bridge{
		store:     store,
		log:       opts.Logger,
		now:       opts.Now,
		timeout:   opts.WriteTimeout,
		synthetic: compiled,
		queue:     make(chan []batch.Result, opts.QueueSize),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

// IsSynthetic reports whether email looks like a test or placeholder address.
func (b *Bridge) IsSynthetic(email string) bool {
	for _, re := range b.synthetic {
		if re.MatchString(email) {
			return true
		}
	}
	return false
}

// Persist queues a flushed batch. It never blocks: when the queue is full the batch is dropped.
// Persist has the flush.Sink signature.
func (b *Bridge) Persist(results []batch.Result) {
	if len(results) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- results:
	default:
		b.dropped += len(results)
		b.log.Warn("history queue full; dropping batch", zap.Int("results", len(results)))
	}
}

// Close stops accepting batches and waits for queued ones to be written or ctx to end.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns how many results were written and dropped so far.
func (b *Bridge) Stats() (written, dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written, b.dropped
}

func (b *Bridge) loop() {
	defer close(b.done)
	for results := range b.queue {
		recs := b.records(results)
		if len(recs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := b.store.Append(ctx, recs)
		cancel()
		if err != nil {
			b.log.Warn("history append failed", zap.Int("records", len(recs)), zap.Error(err))
			continue
		}
		b.mu.Lock()
		b.written += len(recs)
		b.mu.Unlock()
	}
}

func (b *Bridge) records(results []batch.Result) []Record {
	now := b.now()
	out := make([]Record, 0, len(results))
	for _, r := range results {
		if b.IsSynthetic(r.Email) {
			continue
		}
		payload, err := json.Marshal(r)
		if err != nil {
			b.log.Debug("skip unencodable result", zap.String("email", r.Email), zap.Error(err))
			continue
		}
		out = append(out, Record{
			ID:        uuid.NewString(),
			Email:     r.Email,
			Valid:     r.Valid,
			Payload:   payload,
			CreatedAt: now,
		})
	}
	return out
}
