package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rmax-ai/sensorsim/pkg/reports"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

// writeReports prints the text report to out unless --report names a file,
// then writes the optional CSV.
func writeReports(out io.Writer, flags outputFlags, results []simulation.TestResult) error {
	if flags.report == "" {
		if err := reports.WriteText(out, results); err != nil {
			return err
		}
	} else {
		format, err := reports.ParseFormat(filepath.Ext(flags.report))
		if err != nil {
			return err
		}
		if err := reports.WriteFile(flags.report, format, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", flags.report)
	}
	if flags.csv != "" {
		if err := reports.WriteFile(flags.csv, reports.FormatCSV, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "CSV written to %s\n", flags.csv)
	}
	return nil
}

