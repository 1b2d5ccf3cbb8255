// Package normalize turns raw pasted or extracted text into a unique, ordered work list.
package normalize

import (
	"strings"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// quoteCutset is every quote character stripped from fragment edges and bodies.
const quoteCutset = "\"'`“”‘’«»„‚"

// Normalize splits raw on runs of newline, comma or semicolon, strips quotes and whitespace,
// keeps fragments containing '@' and, when dedupe is set, drops later case-insensitive duplicates.
//
// Syntax is not checked here; a fragment with several '@' is kept verbatim.
func Normalize(raw string, dedupe bool) (batch.Job, error) {
	job := batch.Job{RawInput: raw}

	fragments := strings.FieldsFunc(raw, isSeparator)
	seen := make(map[string]struct{}, len(fragments))
	for _, frag := range fragments {
		email := clean(frag)
		if !strings.Contains(email, "@") {
			continue
		}
		job.OriginalCount++

		if dedupe {
			key := strings.ToLower(email)
			if _, dup := seen[key]; dup {
				job.DuplicateCount++
				continue
			}
			seen[key] = struct{}{}
		}
		job.Items = append(job.Items, email)
	}

	if len(job.Items) == 0 {
		return batch.Job{}, batch.ErrNoEmails
	}
	return job, nil
}

// NormalizePtr is Normalize for callers that model "no input" as nil.
func NormalizePtr(raw *string, dedupe bool) (batch.Job, error) {
	if raw == nil {
		return batch.Job{}, batch.ErrNoEmails
	}
	return Normalize(*raw, dedupe)
}

func isSeparator(r rune) bool {
	return r == '\n' || r == '\r' || r == ',' || r == ';'
}

func clean(frag string) string {
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(quoteCutset, r) {
			return -1
		}
		return r
	}, frag)
	return strings.TrimSpace(s)
}
