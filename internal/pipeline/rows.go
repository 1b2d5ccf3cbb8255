package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Row is the stable export schema for one validation result.
type Row struct {
	Email           string
	Valid           string
	ConfidenceScore string
	Domain          string
	FailedChecks    string
	Risk            string
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"email",
		"valid",
		"confidence_score",
		"domain",
		"failed_checks",
		"risk",
	}
}

// Rows flattens results into export rows, preserving arrival order.
func Rows(results []batch.Result) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{
			Email:  r.Email,
			Valid:  strconv.FormatBool(r.Valid),
			Domain: r.Domain(),
			Risk:   compactJSON(r.Risk),
		}
		if r.ConfidenceScore != nil {
			row.ConfidenceScore = strconv.Itoa(*r.ConfidenceScore)
		}
		row.FailedChecks = failedChecks(r.Checks)
		rows = append(rows, row)
	}
	return rows
}

// Record returns the row's fields in Header() order.
func (r Row) Record() []string {
	return []string{
		r.Email,
		r.Valid,
		r.ConfidenceScore,
		r.Domain,
		r.FailedChecks,
		r.Risk,
	}
}

// WriteCSV writes rows as a CSV with the stable Header() ordering.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// failedChecks lists the checks that did not pass. Checks whose true value is a red flag
// (disposable, role_based, error) count as failed when set.
func failedChecks(checks map[string]bool) string {
	if len(checks) == 0 {
		return ""
	}
	var failed []string
	for name, ok := range checks {
		if redFlags[name] == ok {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	sort.Strings(failed)
	b, err := json.Marshal(failed)
	if err != nil {
		return ""
	}
	return string(b)
}

var redFlags = map[string]bool{
	"disposable": true,
	"role_based": true,
	"error":      true,
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}
