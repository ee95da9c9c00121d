package reports

import (
	"fmt"
	"io"
	"strings"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// maxListedErrors caps the errors printed per test in text reports.
const maxListedErrors = 5

// ParseFormat accepts a format name or a file extension such as ".csv".
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown report format: %s", s)
	}
}

// Write renders results in the given format.
func Write(w io.Writer, format Format, results []simulation.TestResult) error {
	switch format {
	case FormatText:
		return WriteText(w, results)
	case FormatCSV:
		return WriteCSV(w, results)
	case FormatJSON:
		return WriteJSON(w, results)
	default:
		return fmt.Errorf("unknown report format: %s", format)
	}
}
