package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/signal"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

var (
	// ErrInvalidState is returned when a control call does not fit the
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid harness state")
	// ErrConnectFailed wraps the transport's reason when Connect fails.
	ErrConnectFailed = errors.New("transport connect failed")
	// ErrUnknownComponent is returned by SetEnabled and SetFrequency.
	ErrUnknownComponent = errors.New("unknown component")
)

// Harness drives a set of components over one transport.
//
// Idle -> Connected -> Running -> {Stopped, Completed}. A stopped or
// completed harness may be started again while the transport is up, or
// disconnected back to Idle.
type Harness struct {
	transport  Transport
	logger     *slog.Logger
	recorder   Recorder
	sink       StatsSink
	backoff    *transport.Backoff
	now        func() time.Time
	tick       time.Duration
	thresholds Thresholds
	seed       int64
	ev         *signal.Evaluator

	mu         sync.Mutex
	name       string
	duration   time.Duration
	components []*frame.Component
	index      map[string]*frame.Component
	state      State
	connecting bool // a Connect call is in the transport; h.mu is not held
	spec       transport.Spec
	runID      string
	startedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	result     TestResult

	stopping atomic.Bool
	stats    *runStats

	// loop-goroutine only
	consecutiveFailures int
	reconnectAttempt    int
	nextReconnect       time.Time
}

// New validates every component and builds an Idle harness. A nil
// transport gets a fresh *transport.Manager.
func New(components []*frame.Component, t Transport, opts ...Option) (*Harness, error) {
	h := &Harness{
		logger:     slog.Default(),
		recorder:   nopRecorder{},
		backoff:    transport.DefaultBackoff(),
		now:        time.Now,
		tick:       10 * time.Millisecond,
		thresholds: DefaultThresholds(),
		name:       "run",
		stats:      newRunStats(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if t == nil {
		t = transport.NewManager(transport.WithLogger(h.logger))
	}
	h.transport = t
	h.ev = signal.NewEvaluator(h.seed).WithLogger(h.logger)

	if err := h.setComponents(components); err != nil {
		return nil, err
	}
	h.recorder.HarnessState(h.state.String())
	return h, nil
}

func (h *Harness) setComponents(components []*frame.Component) error {
	index := make(map[string]*frame.Component, len(components))
	for _, c := range components {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := index[c.Name]; dup {
			return &frame.ConfigurationError{Component: c.Name, Class: c.Class, Reason: "duplicate component name"}
		}
		index[c.Name] = c
	}
	h.components = components
	h.index = index
	return nil
}

// Load swaps in a new test case. It is rejected while a run is in progress.
func (h *Harness) Load(tc TestCase) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateRunning {
		return fmt.Errorf("%w: load while %s", ErrInvalidState, h.state)
	}
	if err := h.setComponents(tc.Components); err != nil {
		return err
	}
	h.name = tc.Name
	h.duration = tc.Duration
	return nil
}

func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Harness) setStateLocked(s State) {
	h.state = s
	h.recorder.HarnessState(s.String())
}

// Connect opens the transport. Only valid from Idle; on failure the
// harness stays Idle. The lock is released while the transport connects,
// so Stats and State stay responsive during a tcp_server accept.
func (h *Harness) Connect(ctx context.Context, spec transport.Spec) error {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, h.state)
	}
	if h.connecting {
		h.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrInvalidState)
	}
	h.connecting = true
	h.mu.Unlock()

	ok := h.transport.Connect(ctx, spec)
	h.recorder.Connect(string(spec.Kind), ok)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connecting = false
	if !ok {
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, spec, h.transportError())
	}
	h.spec = spec
	h.setStateLocked(StateConnected)
	h.logger.Info("harness connected", "name", h.name, "transport", spec.String())
	return nil
}

func (h *Harness) transportError() error {
	if le, ok := h.transport.(interface{ LastError() error }); ok {
		if err := le.LastError(); err != nil {
			return err
		}
	}
	return errors.New("unknown reason")
}

// Start resets per-run state and launches the scheduling loop.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateConnected, StateStopped, StateCompleted:
	default:
		return fmt.Errorf("%w: start while %s", ErrInvalidState, h.state)
	}
	if !h.transport.Connected() {
		return fmt.Errorf("%w: transport is down", ErrInvalidState)
	}

	names := make([]string, len(h.components))
	for i, c := range h.components {
		c.Reset()
		names[i] = c.Name
	}
	h.startedAt = h.now()
	h.runID = uuid.NewString()
	h.stats.reset(h.startedAt, names)
	h.stopping.Store(false)
	h.consecutiveFailures = 0
	h.reconnectAttempt = 0
	h.nextReconnect = time.Time{}
	h.result = TestResult{}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.setStateLocked(StateRunning)

	h.logger.Info("run started",
		"name", h.name,
		"run_id", h.runID,
		"components", len(h.components),
		"duration", h.duration,
		"target_rate", targetRate(h.components),
	)
	go h.loop(loopCtx, h.startedAt, h.duration, h.done)
	return nil
}

// Stop cancels a running loop and waits for it to record its result.
// The in-flight send, if any, completes first.
func (h *Harness) Stop() error {
	h.mu.Lock()
	if h.state != StateRunning {
		st := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, st)
	}
	h.stopping.Store(true)
	h.cancel()
	done := h.done
	h.mu.Unlock()

	<-done
	return nil
}

// Wait blocks until the current run ends and returns its result. It
// returns the last result immediately when nothing is running.
func (h *Harness) Wait() TestResult {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Run starts a run and waits for it to finish.
func (h *Harness) Run(ctx context.Context) (TestResult, error) {
	if err := h.Start(ctx); err != nil {
		return TestResult{}, err
	}
	return h.Wait(), nil
}

// Disconnect stops any run and closes the transport. The harness returns
// to Idle; calling it while Idle does nothing.
func (h *Harness) Disconnect() {
	if h.State() == StateRunning {
		h.Stop()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateIdle {
		return
	}
	h.transport.Disconnect()
	h.setStateLocked(StateIdle)
	h.logger.Info("harness disconnected", "name", h.name)
}

// SetEnabled toggles a component; the loop picks it up on its next pass.
// Re-enabling during a run resumes from now instead of replaying the pause.
func (h *Harness) SetEnabled(name string, enabled bool) error {
	c, err := h.component(name)
	if err != nil {
		return err
	}
	was := c.Enabled()
	c.SetEnabled(enabled)
	if enabled && !was {
		h.rebase(c)
	}
	return nil
}

// SetFrequency changes a component's rate; zero or less pauses it.
func (h *Harness) SetFrequency(name string, hz float64) error {
	if math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("invalid frequency %v", hz)
	}
	c, err := h.component(name)
	if err != nil {
		return err
	}
	c.SetFrequency(hz)
	h.rebase(c)
	return nil
}

// rebase moves a running component's schedule to floor(elapsed*f) for its
// current rate, so a retune never emits a backlog in one tick.
func (h *Harness) rebase(c *frame.Component) {
	h.mu.Lock()
	running, start := h.state == StateRunning, h.startedAt
	h.mu.Unlock()
	if !running || !c.Enabled() {
		return
	}
	f := c.Frequency()
	if f <= 0 {
		return
	}
	elapsed := h.now().Sub(start).Seconds()
	c.Rebase(uint64(math.Floor(elapsed * f)))
}

func (h *Harness) component(name string) (*frame.Component, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return c, nil
}

// Stats returns a live snapshot.
func (h *Harness) Stats() StatsSnapshot {
	h.mu.Lock()
	name, runID, state := h.name, h.runID, h.state
	components := h.components
	var elapsed time.Duration
	if state == StateRunning {
		elapsed = h.now().Sub(h.startedAt)
	} else if h.result.RunID != "" {
		elapsed = h.result.Duration
	}
	h.mu.Unlock()

	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()
	return StatsSnapshot{
		Name:           name,
		RunID:          runID,
		State:          state,
		Elapsed:        elapsed,
		Sent:           h.stats.sent,
		Failed:         h.stats.failed,
		Throughput:     h.stats.throughput,
		TargetRate:     targetRate(components),
		AverageLatency: h.stats.averageLatency(),
		Components:     h.componentStatsLocked(components, elapsed),
		LastError:      h.stats.lastError,
	}
}

// componentStatsLocked requires h.stats.mu.
func (h *Harness) componentStatsLocked(components []*frame.Component, elapsed time.Duration) []ComponentStats {
	out := make([]ComponentStats, 0, len(components))
	for _, c := range components {
		cs := ComponentStats{
			Name:         c.Name,
			Class:        c.Class,
			Enabled:      c.Enabled(),
			Frequency:    c.Frequency(),
			MinFrequency: c.MinFrequency,
		}
		if cc, ok := h.stats.components[c.Name]; ok {
			cs.Sent = cc.sent
			cs.Failed = cc.failed
			cs.LastFrame = cc.lastFrame
		}
		if elapsed > 0 {
			cs.AchievedRate = float64(cs.Sent) / elapsed.Seconds()
		}
		out = append(out, cs)
	}
	return out
}

func targetRate(components []*frame.Component) float64 {
	var sum float64
	for _, c := range components {
		if f := c.Frequency(); c.Enabled() && f > 0 {
			sum += f
		}
	}
	return sum
}

func (h *Harness) cancelled(ctx context.Context) bool {
	return h.stopping.Load() || ctx.Err() != nil
}

func (h *Harness) loop(ctx context.Context, start time.Time, duration time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	final := StateStopped
	for {
		if h.cancelled(ctx) {
			break
		}
		elapsed := h.now().Sub(start)
		if duration > 0 && elapsed >= duration {
			h.step(ctx, duration.Seconds())
			final = StateCompleted
			break
		}
		h.step(ctx, elapsed.Seconds())
		h.refresh(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	if final == StateCompleted && h.cancelled(ctx) {
		final = StateStopped
	}
	h.finish(start, final)
}

// step services every enabled component once, emitting as many frames as
// needed to catch up with floor(elapsed*frequency).
func (h *Harness) step(ctx context.Context, elapsed float64) {
	for _, c := range h.components {
		if h.cancelled(ctx) {
			return
		}
		if !c.Enabled() {
			continue
		}
		f := c.Frequency()
		if f <= 0 {
			continue
		}
		expected := uint64(math.Floor(elapsed * f))
		for c.Emitted() < expected {
			if h.cancelled(ctx) {
				return
			}
			h.emit(ctx, c, elapsed)
		}
	}
}

func (h *Harness) emit(ctx context.Context, c *frame.Component, elapsed float64) {
	c.MarkEmitted()
	fr, err := frame.Encode(c, h.ev, elapsed)
	if err != nil {
		h.stats.recordFailed(c.Name, err.Error())
		h.recorder.FrameFailed(c.Name, string(c.Class))
		return
	}

	began := time.Now()
	ok := h.transport.Send(fr.Bytes())
	latency := time.Since(began)

	if ok {
		h.consecutiveFailures = 0
		h.stats.recordSent(c.Name, latency, string(fr))
		h.recorder.FrameSent(c.Name, string(c.Class), latency)
		return
	}
	msg := fmt.Sprintf("%s: send failed: %v", c.Name, h.transportError())
	h.stats.recordFailed(c.Name, msg)
	h.recorder.FrameFailed(c.Name, string(c.Class))
	h.consecutiveFailures++
	h.maybeReconnect(ctx)
}

// maybeReconnect makes at most one reconnect attempt per backoff interval.
// Failed sends are still counted; nothing is retried.
func (h *Harness) maybeReconnect(ctx context.Context) {
	if !h.spec.AutoReconnect || h.consecutiveFailures == 0 {
		return
	}
	now := time.Now()
	if now.Before(h.nextReconnect) {
		return
	}
	h.transport.Disconnect()
	ok := h.transport.Connect(ctx, h.spec)
	h.recorder.Connect(string(h.spec.Kind), ok)
	h.nextReconnect = now.Add(h.backoff.Next(h.reconnectAttempt))
	if ok {
		h.logger.Info("transport reconnected", "name", h.name, "attempt", h.reconnectAttempt+1)
		h.reconnectAttempt = 0
		h.consecutiveFailures = 0
		return
	}
	h.reconnectAttempt++
	h.logger.Warn("transport reconnect failed", "name", h.name, "attempt", h.reconnectAttempt, "error", h.transportError())
}

// refresh recomputes throughput at most once per second and publishes it.
func (h *Harness) refresh(ctx context.Context) {
	if !h.stats.recompute(h.now()) {
		return
	}
	snap := h.Stats()
	h.recorder.Throughput(snap.Throughput)
	if h.sink != nil {
		if err := h.sink.PublishStats(ctx, snap); err != nil {
			h.logger.Debug("publish stats failed", "error", err)
		}
	}
}

func (h *Harness) finish(start time.Time, final State) {
	end := h.now()

	h.mu.Lock()
	res := h.buildResult(start, end, final)
	h.result = res
	h.setStateLocked(final)
	h.mu.Unlock()

	h.logger.Info("run finished",
		"name", res.Name,
		"run_id", res.RunID,
		"state", final.String(),
		"sent", res.Sent,
		"failed", res.Failed,
		"achieved_rate", res.AchievedRate,
		"passed", res.Passed,
	)
	if h.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.sink.PublishResult(ctx, res); err != nil {
			h.logger.Debug("publish result failed", "error", err)
		}
	}
}

// buildResult requires h.mu.
func (h *Harness) buildResult(start, end time.Time, final State) TestResult {
	elapsed := end.Sub(start)

	h.stats.mu.Lock()
	res := TestResult{
		RunID:          h.runID,
		Name:           h.name,
		StartTime:      start,
		EndTime:        end,
		Duration:       elapsed,
		Sent:           h.stats.sent,
		Failed:         h.stats.failed,
		TargetRate:     targetRate(h.components),
		AverageLatency: h.stats.averageLatency(),
		P99Latency:     h.stats.p99(),
		Components:     h.componentStatsLocked(h.components, elapsed),
		Errors:         append([]string(nil), h.stats.errors...),
		ErrorCount:     h.stats.errorCount,
		State:          final,
	}
	h.stats.mu.Unlock()

	if attempted := res.Sent + res.Failed; attempted > 0 {
		res.SuccessRate = float64(res.Sent) / float64(attempted) * 100
	}
	if elapsed > 0 {
		res.AchievedRate = float64(res.Sent) / elapsed.Seconds()
	}
	evaluateChecks(&res, h.thresholds)
	return res
}

// evaluateChecks applies the pass criteria: bounded error rate, achieved
// rate against the target, and each component's minimum frequency.
func evaluateChecks(res *TestResult, t Thresholds) {
	attempted := res.Sent + res.Failed
	errorRate := 0.0
	if attempted > 0 {
		errorRate = float64(res.Failed) / float64(attempted)
	}
	res.Checks = append(res.Checks, CheckResult{
		Metric:   "error_rate",
		Scope:    "global",
		Expected: fmt.Sprintf("<= %.2f", t.MaxErrorRate),
		Actual:   fmt.Sprintf("%.4f", errorRate),
		Passed:   float64(res.Failed) <= t.MaxErrorRate*float64(attempted),
	})

	minRate := t.MinRateRatio * res.TargetRate
	res.Checks = append(res.Checks, CheckResult{
		Metric:   "achieved_rate",
		Scope:    "global",
		Expected: fmt.Sprintf(">= %.2f", minRate),
		Actual:   fmt.Sprintf("%.2f", res.AchievedRate),
		Passed:   res.AchievedRate >= minRate,
	})

	for _, c := range res.Components {
		if c.MinFrequency <= 0 {
			continue
		}
		res.Checks = append(res.Checks, CheckResult{
			Metric:   "min_frequency",
			Scope:    c.Name,
			Expected: fmt.Sprintf(">= %.2f", c.MinFrequency),
			Actual:   fmt.Sprintf("%.2f", c.AchievedRate),
			Passed:   c.AchievedRate >= c.MinFrequency,
		})
	}

	res.Passed = true
	for _, chk := range res.Checks {
		if !chk.Passed {
			res.Passed = false
			break
		}
	}
}
