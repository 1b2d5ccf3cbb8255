package stream_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/flush"
	"github.com/shpitdev/email-batch-validator/internal/stream"
)

func encode(t *testing.T, ev stream.Event) []byte {
	t.Helper()
	b, err := stream.Encode(ev)
	require.NoError(t, err)
	return b
}

func startLine(t *testing.T, total int) []byte {
	return encode(t, stream.Event{Type: stream.EventStart, Start: &stream.StartEvent{Total: total, OriginalCount: total}})
}

func resultLine(t *testing.T, i, total int, pct float64) []byte {
	return encode(t, stream.Event{Type: stream.EventResult, Result: &stream.ResultEvent{
		Result:   batch.Result{Email: fmt.Sprintf("user%d@corp.io", i), Valid: i%2 == 0},
		Progress: stream.ServerProgress{Current: i + 1, Total: total, Percentage: pct},
	}})
}

func completeLine(t *testing.T, valid, invalid int) []byte {
	return encode(t, stream.Event{Type: stream.EventComplete, Complete: &stream.CompleteEvent{
		ValidCount:   valid,
		InvalidCount: invalid,
		Total:        valid + invalid,
	}})
}

func body(t *testing.T, n int, complete bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(startLine(t, n))
	valid := 0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			valid++
		}
		buf.Write(resultLine(t, i, n, float64(i+1)/float64(n)*100))
	}
	if complete {
		buf.Write(completeLine(t, valid, n-valid))
	}
	return &buf
}

func TestConsumer_CompleteStream(t *testing.T) {
	t.Parallel()

	var percentages []float64
	var flushes []stream.FlushEvent
	var sunk int
	c := stream.NewConsumer(
		stream.Options{Flush: flush.Options{Threshold: 20, Interval: time.Hour}},
		stream.Observer{
			OnProgress: func(p batch.Progress) { percentages = append(percentages, p.Percentage) },
			OnFlush: func(ev stream.FlushEvent) {
				assert.Equal(t, ev.Retained, ev.ValidCount+ev.InvalidCount)
				flushes = append(flushes, ev)
			},
		},
		func(rs []batch.Result) { sunk += len(rs) },
	)

	agg := batch.NewAggregate(batch.Job{Items: make([]string, 25)})
	rep, err := c.Run(context.Background(), body(t, 25, true), agg)
	require.NoError(t, err)

	assert.Equal(t, batch.StateDone, rep.State)
	assert.Equal(t, 2, rep.Flushes)
	require.NotNil(t, rep.Completion)
	assert.Equal(t, 25, rep.Completion.Total)
	assert.Len(t, agg.Results, 25)
	assert.True(t, agg.Consistent())
	assert.Equal(t, 13, agg.ValidCount)
	assert.Equal(t, 25, sunk)

	require.Len(t, flushes, 2)
	assert.Len(t, flushes[0].Batch, 20)
	assert.Len(t, flushes[1].Batch, 5)

	for i, r := range agg.Results {
		assert.Equal(t, i, r.ReceivedAt)
	}
	for i := 1; i < len(percentages); i++ {
		assert.GreaterOrEqual(t, percentages[i], percentages[i-1])
	}
	assert.Equal(t, float64(100), percentages[len(percentages)-1])
	assert.Equal(t, float64(100), rep.Progress.Percentage)
	assert.Equal(t, 25, rep.Progress.Current)
}

func TestConsumer_StartCorrectsTotals(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(encode(t, stream.Event{Type: stream.EventStart, Start: &stream.StartEvent{Total: 2, OriginalCount: 3, DuplicatesRemoved: 1}}))
	buf.Write(resultLine(t, 0, 2, 50))
	buf.Write(resultLine(t, 1, 2, 100))
	buf.Write(completeLine(t, 1, 1))

	agg := batch.NewAggregate(batch.Job{Items: make([]string, 3), OriginalCount: 3})
	_, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(context.Background(), &buf, agg)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, 1, agg.DuplicatesRemoved)
}

func TestConsumer_PercentageNeverDecreases(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(startLine(t, 4))
	buf.Write(resultLine(t, 0, 4, 50))
	buf.Write(resultLine(t, 1, 4, 25)) // stale server value
	buf.Write(completeLine(t, 1, 1))

	var got []float64
	c := stream.NewConsumer(stream.Options{}, stream.Observer{
		OnProgress: func(p batch.Progress) { got = append(got, p.Percentage) },
	})
	_, err := c.Run(context.Background(), &buf, batch.NewAggregate(batch.Job{}))
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 50, 100}, got)
}

func TestConsumer_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(startLine(t, 1))
	buf.WriteString("data: {not json\n\n")
	buf.WriteString("data: {\"type\":\"heartbeat\"}\n\n")
	buf.WriteString(": comment\n")
	buf.Write(resultLine(t, 0, 1, 100))
	buf.Write(completeLine(t, 1, 0))

	agg := batch.NewAggregate(batch.Job{})
	rep, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(context.Background(), &buf, agg)
	require.NoError(t, err)
	assert.Equal(t, batch.StateDone, rep.State)
	assert.Equal(t, 2, rep.Skipped)
	assert.Len(t, agg.Results, 1)
}

func TestConsumer_SkipsOversizedLineAndKeepsReading(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(startLine(t, 2))
	buf.Write(resultLine(t, 0, 2, 50))
	buf.WriteString("data: {\"type\":\"result\",\"pad\":\"" + strings.Repeat("x", 2<<20) + "\"}\n\n")
	buf.Write(resultLine(t, 1, 2, 100))
	buf.Write(completeLine(t, 1, 1))

	agg := batch.NewAggregate(batch.Job{})
	rep, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(context.Background(), &buf, agg)
	require.NoError(t, err)
	assert.Equal(t, batch.StateDone, rep.State)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, agg.Results, 2)
	assert.Equal(t, "user1@corp.io", agg.Results[1].Email)
}

func TestConsumer_EOFWithoutCompleteIsPartial(t *testing.T) {
	t.Parallel()

	agg := batch.NewAggregate(batch.Job{})
	rep, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(context.Background(), body(t, 3, false), agg)
	require.NoError(t, err)

	assert.Equal(t, batch.StatePartial, rep.State)
	require.NotNil(t, rep.Warning)
	assert.Equal(t, 3, rep.Warning.Retained)
	assert.True(t, errors.Is(rep.Warning, batch.ErrStreamIncomplete))
	assert.Len(t, agg.Results, 3)
	assert.True(t, agg.Consistent())
}

func TestConsumer_EOFWithNoResultsFails(t *testing.T) {
	t.Parallel()

	agg := batch.NewAggregate(batch.Job{})
	rep, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(context.Background(), strings.NewReader(""), agg)

	var te *batch.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, batch.ErrStreamIncomplete))
	assert.Equal(t, batch.StateFailed, rep.State)
}

func TestConsumer_AbortKeepsFlushedResults(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pr.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan struct{}, 8)
	c := stream.NewConsumer(stream.Options{Flush: flush.Options{Threshold: 20, Interval: time.Hour}}, stream.Observer{
		OnProgress: func(batch.Progress) { seen <- struct{}{} },
	})

	lines := [][]byte{startLine(t, 10), resultLine(t, 0, 10, 10), resultLine(t, 1, 10, 20)}
	go func() {
		for _, l := range lines {
			_, _ = pw.Write(l)
		}
	}()
	go func() {
		<-seen
		<-seen
		cancel()
	}()

	agg := batch.NewAggregate(batch.Job{})
	rep, err := c.Run(ctx, pr, agg)
	require.NoError(t, err)

	assert.Equal(t, batch.StatePartial, rep.State)
	require.NotNil(t, rep.Warning)
	assert.True(t, errors.Is(rep.Warning, batch.ErrAborted))
	assert.Len(t, agg.Results, 2)
	assert.True(t, agg.Consistent())
}

func TestConsumer_TimeoutWithNoResults(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := stream.NewConsumer(stream.Options{Timeout: 30 * time.Millisecond}, stream.Observer{})
	rep, err := c.Run(ctx, pr, batch.NewAggregate(batch.Job{}))

	var te *batch.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 30*time.Millisecond, te.After)
	assert.Equal(t, batch.StateFailed, rep.State)
}

func TestConsumer_CancelWithNoResults(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stream.NewConsumer(stream.Options{}, stream.Observer{}).Run(ctx, pr, batch.NewAggregate(batch.Job{}))
	assert.True(t, errors.Is(err, batch.ErrAborted))
}

func TestConsumer_IntervalFlushDuringQuietStream(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pr.Close() }()

	flushed := make(chan int, 4)
	c := stream.NewConsumer(stream.Options{Flush: flush.Options{Threshold: 20, Interval: 20 * time.Millisecond}}, stream.Observer{
		OnFlush: func(ev stream.FlushEvent) { flushed <- len(ev.Batch) },
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), pr, batch.NewAggregate(batch.Job{}))
		done <- err
	}()

	_, _ = pw.Write(startLine(t, 2))
	_, _ = pw.Write(resultLine(t, 0, 2, 50))

	select {
	case n := <-flushed:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected interval flush while stream is idle")
	}

	_, _ = pw.Write(resultLine(t, 1, 2, 100))
	_, _ = pw.Write(completeLine(t, 1, 1))
	require.NoError(t, <-done)
}
