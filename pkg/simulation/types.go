package simulation

import (
	"fmt"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/frame"
)

// State is the harness lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateRunning
	StateStopped
	StateCompleted
)

var stateNames = [...]string{"idle", "connected", "running", "stopped", "completed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown harness state %q", b)
}

// Thresholds decide whether a finished run passed.
type Thresholds struct {
	MaxErrorRate float64 `json:"max_error_rate" yaml:"max_error_rate"` // failed / attempted
	MinRateRatio float64 `json:"min_rate_ratio" yaml:"min_rate_ratio"` // achieved / target
}

// DefaultThresholds allows 10% failed sends and requires 80% of the target rate.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxErrorRate: 0.10, MinRateRatio: 0.80}
}

// ComponentStats is the per-component slice of a run.
type ComponentStats struct {
	Name         string      `json:"name"`
	Class        frame.Class `json:"class"`
	Enabled      bool        `json:"enabled"`
	Frequency    float64     `json:"frequency"`
	MinFrequency float64     `json:"min_frequency,omitempty"`
	Sent         uint64      `json:"sent"`
	Failed       uint64      `json:"failed"`
	AchievedRate float64     `json:"achieved_rate"`
	LastFrame    string      `json:"last_frame,omitempty"`
}

// CheckResult is one evaluated pass criterion.
type CheckResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. ">= 8.00"
	Actual   string `json:"actual"`   // e.g. "9.97"
	Passed   bool   `json:"passed"`
}

// TestResult captures the final state of one run for reporting.
type TestResult struct {
	RunID          string           `json:"run_id"`
	Name           string           `json:"name"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	Duration       time.Duration    `json:"duration"`
	Sent           uint64           `json:"sent"`
	Failed         uint64           `json:"failed"`
	SuccessRate    float64          `json:"success_rate"`  // percent of attempted sends
	AchievedRate   float64          `json:"achieved_rate"` // successful frames per second
	TargetRate     float64          `json:"target_rate"`
	AverageLatency time.Duration    `json:"average_latency"`
	P99Latency     time.Duration    `json:"p99_latency"`
	Components     []ComponentStats `json:"components"`
	Checks         []CheckResult    `json:"checks"`
	Errors         []string         `json:"errors,omitempty"`
	ErrorCount     uint64           `json:"error_count"`
	State          State            `json:"state"`
	Passed         bool             `json:"passed"`
}

// StatsSnapshot is a live view of a run, refreshed at most once per second
// for throughput.
type StatsSnapshot struct {
	Name           string           `json:"name"`
	RunID          string           `json:"run_id,omitempty"`
	State          State            `json:"state"`
	Elapsed        time.Duration    `json:"elapsed"`
	Sent           uint64           `json:"sent"`
	Failed         uint64           `json:"failed"`
	Throughput     float64          `json:"throughput"`
	TargetRate     float64          `json:"target_rate"`
	AverageLatency time.Duration    `json:"average_latency"`
	Components     []ComponentStats `json:"components"`
	LastError      string           `json:"last_error,omitempty"`
}

// TestCase is one named run of a suite.
type TestCase struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Duration    time.Duration      `json:"duration" yaml:"duration"`
	Components  []*frame.Component `json:"-" yaml:"-"`
}

// Suite is an ordered list of test cases run on one connection.
type Suite struct {
	Name  string     `json:"name"`
	Cases []TestCase `json:"cases"`
}

// SuiteSummary aggregates the results of RunSuite.
type SuiteSummary struct {
	Suite       string        `json:"suite"`
	Results     []TestResult  `json:"results"`
	Total       int           `json:"total"`
	PassedCount int           `json:"passed_count"`
	TotalSent   uint64        `json:"total_sent"`
	TotalFailed uint64        `json:"total_failed"`
	Duration    time.Duration `json:"duration"`
}

// Passed reports whether every case passed.
func (s SuiteSummary) Passed() bool {
	return s.Total > 0 && s.PassedCount == s.Total
}
