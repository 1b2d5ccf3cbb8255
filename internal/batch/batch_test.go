package batch_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, batch.RoleAdmin, batch.ParseRole(" Admin "))
	assert.Equal(t, batch.RoleAuthenticated, batch.ParseRole("user"))
	assert.Equal(t, batch.RoleAnonymous, batch.ParseRole("superuser"))
	assert.Equal(t, batch.RoleAnonymous, batch.ParseRole(""))
}

func TestResultDomain(t *testing.T) {
	assert.Equal(t, "corp.io", batch.Result{Email: "a@Corp.IO"}.Domain())
	assert.Equal(t, "c.io", batch.Result{Email: "a@b@c.io"}.Domain())
	assert.Equal(t, "", batch.Result{Email: "nobody"}.Domain())
	assert.Equal(t, "", batch.Result{Email: "trailing@"}.Domain())
}

func TestAggregateAppendKeepsCountsConsistent(t *testing.T) {
	agg := batch.NewAggregate(batch.Job{Items: []string{"a", "b", "c"}, OriginalCount: 4, DuplicateCount: 1})
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 1, agg.DuplicatesRemoved)

	agg.Append([]batch.Result{{Email: "a@x.io", Valid: true}, {Email: "b@x.io"}})
	assert.True(t, agg.Consistent())
	agg.Append(nil)
	agg.Append([]batch.Result{{Email: "c@x.io", Valid: true}})
	assert.True(t, agg.Consistent())
	assert.Equal(t, 2, agg.ValidCount)
	assert.Equal(t, 1, agg.InvalidCount)
}

func TestAggregateCorrect(t *testing.T) {
	// Client removed one duplicate; the server only saw the deduplicated list.
	agg := batch.NewAggregate(batch.Job{Items: []string{"a", "c"}, OriginalCount: 3, DuplicateCount: 1})
	agg.Correct(2, 2, 0)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, 3, agg.OriginalCount)
	assert.Equal(t, 1, agg.DuplicatesRemoved)

	// Server-side deduplication is reported on top.
	agg = batch.NewAggregate(batch.Job{Items: []string{"a", "A"}, OriginalCount: 2})
	agg.Correct(1, 2, 1)
	assert.Equal(t, 1, agg.Total)
	assert.Equal(t, 1, agg.DuplicatesRemoved)
}

func TestAggregateCloneIsIndependent(t *testing.T) {
	pt := 1.0
	agg := batch.NewAggregate(batch.Job{})
	agg.Append([]batch.Result{{Email: "a@x.io", Valid: true}})
	agg.DomainStats = batch.DomainStats{"x.io": {Total: 1, Valid: 1}}
	agg.ProcessingTimeSeconds = &pt

	c := agg.Clone()
	c.Results[0].Email = "changed"
	c.DomainStats["y.io"] = batch.DomainStat{}
	*c.ProcessingTimeSeconds = 2

	assert.Equal(t, "a@x.io", agg.Results[0].Email)
	assert.Len(t, agg.DomainStats, 1)
	assert.Equal(t, 1.0, *agg.ProcessingTimeSeconds)
}

func TestQuotaRemaining(t *testing.T) {
	assert.Equal(t, 5, batch.Quota{Used: 9995, Limit: 10000}.Remaining())
	assert.Equal(t, 0, batch.Quota{Used: 12, Limit: 10}.Remaining())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, batch.IsPreflight(batch.ErrNoEmails))
	assert.True(t, batch.IsPreflight(fmt.Errorf("submit: %w", &batch.QuotaError{Requested: 3, Remaining: 1})))
	assert.False(t, batch.IsPreflight(&batch.TransportError{Op: "stream:x"}))

	cause := &batch.TransportError{Op: "stream:read", Err: batch.ErrStreamIncomplete}
	w := &batch.PartialResultsWarning{Retained: 12, Cause: cause}
	assert.Contains(t, w.Error(), "12 validations retained")
	assert.True(t, errors.Is(w, batch.ErrStreamIncomplete))
	var te *batch.TransportError
	require.ErrorAs(t, w, &te)
	assert.Equal(t, "stream:read", te.Op)

	assert.Contains(t, (&batch.TimeoutError{After: 300 * time.Second}).Error(), "5m0s")
	assert.Contains(t, (&batch.QuotaError{Reason: "batch validation requires an account"}).Error(), "requires an account")
}
