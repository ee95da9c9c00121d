package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

var csvHeaders = []string{
	"run_id", "name", "start_time", "duration_ms", "state", "passed",
	"sent", "failed", "success_rate", "achieved_rate", "target_rate",
	"avg_latency_us", "p99_latency_us", "error_count",
}

// WriteCSV writes one row per result.
func WriteCSV(w io.Writer, results []simulation.TestResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for _, r := range results {
		start := ""
		if !r.StartTime.IsZero() {
			start = r.StartTime.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.RunID,
			r.Name,
			start,
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			r.State.String(),
			strconv.FormatBool(r.Passed),
			strconv.FormatUint(r.Sent, 10),
			strconv.FormatUint(r.Failed, 10),
			strconv.FormatFloat(r.SuccessRate, 'f', 2, 64),
			strconv.FormatFloat(r.AchievedRate, 'f', 2, 64),
			strconv.FormatFloat(r.TargetRate, 'f', 2, 64),
			strconv.FormatInt(r.AverageLatency.Microseconds(), 10),
			strconv.FormatInt(r.P99Latency.Microseconds(), 10),
			strconv.FormatUint(r.ErrorCount, 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}
