// Package local reads submission input from local files and writes result exports.
package local

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadEmailsCSV reads a CSV file and returns the values from the "email" column.
func ReadEmailsCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	emailIdx := emailColumn(header)
	if emailIdx < 0 {
		return nil, eris.Errorf("missing required column %q", "email")
	}

	var emails []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read row")
		}
		if emailIdx >= len(rec) {
			continue
		}
		emails = append(emails, rec[emailIdx])
	}
	return emails, nil
}

func emailColumn(header []string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "email") {
			return i
		}
	}
	return -1
}
