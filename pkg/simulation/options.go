package simulation

import (
	"context"
	"log/slog"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/transport"
)

// Transport is the channel a harness drives. *transport.Manager implements it.
type Transport interface {
	Connect(ctx context.Context, spec transport.Spec) bool
	Send(b []byte) bool
	Disconnect()
	Connected() bool
}

// Recorder receives per-frame and per-state events. *metrics.Collector
// implements it.
type Recorder interface {
	FrameSent(component, class string, latency time.Duration)
	FrameFailed(component, class string)
	Throughput(fps float64)
	HarnessState(state string)
	Connect(kind string, ok bool)
}

// StatsSink receives live snapshots and final results. Errors are logged
// and otherwise ignored.
type StatsSink interface {
	PublishStats(ctx context.Context, s StatsSnapshot) error
	PublishResult(ctx context.Context, r TestResult) error
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(string, string, time.Duration) {}
func (nopRecorder) FrameFailed(string, string)              {}
func (nopRecorder) Throughput(float64)                      {}
func (nopRecorder) HarnessState(string)                     {}
func (nopRecorder) Connect(string, bool)                    {}

// Option configures a Harness.
type Option func(*Harness)

// WithTick sets the scheduling interval. Default 10ms.
func WithTick(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.tick = d
		}
	}
}

// WithDuration bounds a run. Zero runs until stopped.
func WithDuration(d time.Duration) Option {
	return func(h *Harness) { h.duration = d }
}

// WithClock replaces time.Now for elapsed-time computation.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) {
		if now != nil {
			h.now = now
		}
	}
}

func WithThresholds(t Thresholds) Option {
	return func(h *Harness) { h.thresholds = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Harness) {
		if r != nil {
			h.recorder = r
		}
	}
}

func WithStatsSink(s StatsSink) Option {
	return func(h *Harness) { h.sink = s }
}

// WithName labels results and published stats.
func WithName(name string) Option {
	return func(h *Harness) { h.name = name }
}

// WithSeed makes random rules reproducible.
func WithSeed(seed int64) Option {
	return func(h *Harness) { h.seed = seed }
}

// WithBackoff paces auto-reconnect attempts.
func WithBackoff(b *transport.Backoff) Option {
	return func(h *Harness) {
		if b != nil {
			h.backoff = b
		}
	}
}
