package simulation

import (
	"sort"
	"sync"
	"time"
)

const (
	latencyWindow = 1000
	maxErrors     = 100
)

type componentCounters struct {
	sent      uint64
	failed    uint64
	lastFrame string
}

// runStats accumulates counters for one run. The loop goroutine writes;
// control surfaces read through snapshot methods.
type runStats struct {
	mu sync.Mutex

	sent   uint64
	failed uint64

	latencies  [latencyWindow]time.Duration
	latN       int
	latNext    int
	latencySum time.Duration

	components map[string]*componentCounters

	errors     []string
	errorCount uint64
	lastError  string

	throughput float64
	calcAt     time.Time
	sentAtCalc uint64
}

func newRunStats() *runStats {
	return &runStats{components: make(map[string]*componentCounters)}
}

func (s *runStats) reset(now time.Time, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent, s.failed = 0, 0
	s.latN, s.latNext, s.latencySum = 0, 0, 0
	s.errors, s.errorCount, s.lastError = nil, 0, ""
	s.throughput, s.sentAtCalc = 0, 0
	s.calcAt = now
	s.components = make(map[string]*componentCounters, len(names))
	for _, n := range names {
		s.components[n] = &componentCounters{}
	}
}

func (s *runStats) counters(name string) *componentCounters {
	c, ok := s.components[name]
	if !ok {
		c = &componentCounters{}
		s.components[name] = c
	}
	return c
}

func (s *runStats) recordSent(name string, latency time.Duration, f string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	c := s.counters(name)
	c.sent++
	c.lastFrame = f

	s.latencies[s.latNext] = latency
	s.latNext = (s.latNext + 1) % latencyWindow
	if s.latN < latencyWindow {
		s.latN++
	}
	s.latencySum += latency
}

func (s *runStats) recordFailed(name, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.counters(name).failed++
	s.errorCount++
	s.lastError = msg
	if len(s.errors) < maxErrors {
		s.errors = append(s.errors, msg)
	}
}

// recompute refreshes throughput when at least a second has passed since
// the previous refresh and reports whether it did.
func (s *runStats) recompute(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt := now.Sub(s.calcAt)
	if dt < time.Second {
		return false
	}
	s.throughput = float64(s.sent-s.sentAtCalc) / dt.Seconds()
	s.sentAtCalc = s.sent
	s.calcAt = now
	return true
}

func (s *runStats) averageLatency() time.Duration {
	if s.sent == 0 {
		return 0
	}
	return s.latencySum / time.Duration(s.sent)
}

// p99 over the latency window.
func (s *runStats) p99() time.Duration {
	if s.latN == 0 {
		return 0
	}
	window := make([]time.Duration, s.latN)
	copy(window, s.latencies[:s.latN])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	idx := (len(window)*99 + 99) / 100
	if idx > len(window) {
		idx = len(window)
	}
	return window[idx-1]
}
