package pipeline_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/pipeline"
)

func TestRows_FlattensResults(t *testing.T) {
	score := 60
	rows := pipeline.Rows([]batch.Result{
		{
			Email:           "Info@Throwaway.io",
			Valid:           false,
			ConfidenceScore: &score,
			Checks:          map[string]bool{"syntax": true, "role_based": true, "disposable": true, "mx": false},
			Risk:            json.RawMessage(`{ "level": "high" }`),
		},
		{Email: "alice@corp.io", Valid: true},
	})
	require.Len(t, rows, 2)

	assert.Equal(t, "throwaway.io", rows[0].Domain)
	assert.Equal(t, "false", rows[0].Valid)
	assert.Equal(t, "60", rows[0].ConfidenceScore)
	assert.Equal(t, `["disposable","mx","role_based"]`, rows[0].FailedChecks)
	assert.Equal(t, `{"level":"high"}`, rows[0].Risk)

	assert.Equal(t, "true", rows[1].Valid)
	assert.Empty(t, rows[1].ConfidenceScore)
	assert.Empty(t, rows[1].FailedChecks)
	assert.Len(t, rows[1].Record(), len(pipeline.Header()))
}

func TestWriteCSV_StableHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pipeline.WriteCSV(&buf, pipeline.Rows([]batch.Result{{Email: "a@b.io", Valid: true}})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "email,valid,confidence_score,domain,failed_checks,risk", lines[0])
	assert.Equal(t, "a@b.io,true,,b.io,,", lines[1])
}
