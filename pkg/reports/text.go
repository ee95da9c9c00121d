package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

// WriteText writes a summary of all results followed by one section per
// test.
func WriteText(w io.Writer, results []simulation.TestResult) error {
	var buf bytes.Buffer

	var sent, failed uint64
	passed := 0
	for _, r := range results {
		sent += r.Sent
		failed += r.Failed
		if r.Passed {
			passed++
		}
	}
	buf.WriteString("=== Sensor Simulation Report ===\n")
	buf.WriteString(fmt.Sprintf("Tests: %d | Passed: %d | Failed: %d\n", len(results), passed, len(results)-passed))
	buf.WriteString(fmt.Sprintf("Frames: %d sent | %d failed\n", sent, failed))

	for _, r := range results {
		status := "FAIL"
		if r.Passed {
			status = "PASS"
		}
		buf.WriteString(fmt.Sprintf("\n--- [%s] %s ---\n", status, r.Name))
		if r.RunID != "" {
			buf.WriteString(fmt.Sprintf("Run: %s\n", r.RunID))
		}
		if !r.StartTime.IsZero() {
			buf.WriteString(fmt.Sprintf("Started: %s\n", r.StartTime.UTC().Format(time.RFC3339)))
		}
		buf.WriteString(fmt.Sprintf("Duration: %s | State: %s\n", r.Duration.Round(time.Millisecond), r.State))
		buf.WriteString(fmt.Sprintf("Sent: %d | Failed: %d | Success: %.2f%%\n", r.Sent, r.Failed, r.SuccessRate))
		buf.WriteString(fmt.Sprintf("Rate: %.2f fps achieved / %.2f fps target\n", r.AchievedRate, r.TargetRate))
		buf.WriteString(fmt.Sprintf("Latency: avg %s | p99 %s\n", r.AverageLatency, r.P99Latency))

		if len(r.Components) > 0 {
			buf.WriteString("Components:\n")
			for _, c := range r.Components {
				if !c.Enabled {
					buf.WriteString(fmt.Sprintf("  %-16s %-14s disabled\n", c.Name, c.Class))
					continue
				}
				buf.WriteString(fmt.Sprintf("  %-16s %-14s %8.2f Hz  sent %d  failed %d  rate %.2f\n",
					c.Name, c.Class, c.Frequency, c.Sent, c.Failed, c.AchievedRate))
			}
		}
		if len(r.Checks) > 0 {
			buf.WriteString("Checks:\n")
			for _, chk := range r.Checks {
				status := "FAIL"
				if chk.Passed {
					status = "PASS"
				}
				buf.WriteString(fmt.Sprintf("  [%s] %s (%s): Expected %s, Got %s\n", status, chk.Metric, chk.Scope, chk.Expected, chk.Actual))
			}
		}
		if r.ErrorCount > 0 {
			buf.WriteString(fmt.Sprintf("Errors (%d):\n", r.ErrorCount))
			for i, e := range r.Errors {
				if i == maxListedErrors {
					buf.WriteString(fmt.Sprintf("  ... %d more\n", r.ErrorCount-maxListedErrors))
					break
				}
				buf.WriteString("  " + e + "\n")
			}
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []simulation.TestResult) error {
	if results == nil {
		results = []simulation.TestResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
