package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/normalize"
)

func TestNormalize_DedupeIsCaseInsensitive(t *testing.T) {
	job, err := normalize.Normalize("a@b.com, a@B.com\nc@d.com", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@b.com", "c@d.com"}, job.Items)
	assert.Equal(t, 1, job.DuplicateCount)
	assert.Equal(t, 3, job.OriginalCount)
}

func TestNormalize_PreservesFirstOccurrenceCasing(t *testing.T) {
	job, err := normalize.Normalize("Alice@Example.com;alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice@Example.com"}, job.Items)
}

func TestNormalize_WithoutDedupe(t *testing.T) {
	job, err := normalize.Normalize("a@b.com, a@B.com\nc@d.com", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com", "a@B.com", "c@d.com"}, job.Items)
	assert.Equal(t, 0, job.DuplicateCount)
}

func TestNormalize_StripsQuotesAndWhitespace(t *testing.T) {
	in := "  \"bob@corp.test\" ,“carol@corp.test”;\r\n 'dave@corp.test'  ,,;\n\n"
	job, err := normalize.Normalize(in, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@corp.test", "carol@corp.test", "dave@corp.test"}, job.Items)
}

func TestNormalize_DropsFragmentsWithoutAt(t *testing.T) {
	job, err := normalize.Normalize("name\nalice@example.com\nnot an email", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, job.Items)
	assert.Equal(t, 1, job.OriginalCount)
}

func TestNormalize_MultipleAtKeptVerbatim(t *testing.T) {
	job, err := normalize.Normalize("weird@@host@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"weird@@host@example.com"}, job.Items)
}

func TestNormalize_EmptyInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "separators only", in: ",,;\n\r\n"},
		{name: "no at sign", in: "alice, bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalize.Normalize(tt.in, true)
			require.ErrorIs(t, err, batch.ErrNoEmails)
			assert.True(t, batch.IsPreflight(err))
		})
	}
}

func TestNormalizePtr_Nil(t *testing.T) {
	_, err := normalize.NormalizePtr(nil, true)
	require.ErrorIs(t, err, batch.ErrNoEmails)
}

func TestNormalize_CountInvariants(t *testing.T) {
	inputs := []string{
		"a@b.com",
		"a@b.com,A@B.COM,a@b.com",
		"x@y.z;x@y.z\ny@z.w, \"y@z.w\"",
		"one@a.io\ntwo@a.io\nthree@a.io\nONE@a.io",
	}
	for _, in := range inputs {
		with, err := normalize.Normalize(in, true)
		require.NoError(t, err)
		without, err := normalize.Normalize(in, false)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(with.Items), len(without.Items), in)
		assert.Equal(t, len(with.Items), with.OriginalCount-with.DuplicateCount, in)
		assert.Equal(t, len(without.Items), without.OriginalCount-without.DuplicateCount, in)
	}
}
