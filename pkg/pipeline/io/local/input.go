package local

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadInput extracts raw submission text from a file. Spreadsheets and CSVs with an email
// column are reduced to that column; anything else is returned verbatim for the normalizer.
func ReadInput(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "open input")
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		emails, err := ReadEmailsXLSX(f)
		if err != nil {
			return "", err
		}
		return strings.Join(emails, "\n"), nil
	case ".csv":
		emails, err := ReadEmailsCSV(f)
		if err == nil {
			return strings.Join(emails, "\n"), nil
		}
		// No email column: let the normalizer pick addresses out of every cell.
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			return "", eris.Wrap(readErr, "read input")
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", eris.Wrap(err, "read input")
		}
		return string(b), nil
	}
}
