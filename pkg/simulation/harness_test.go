package simulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/signal"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	failConnect bool
	connects    int
	failEvery   int
	sends       int
	frames      []string
}

func (f *fakeTransport) Connect(_ context.Context, _ transport.Spec) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failConnect {
		return false
	}
	f.connected = true
	return true
}

func (f *fakeTransport) Send(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.sends++
	if f.failEvery > 0 && f.sends%f.failEvery == 0 {
		return false
	}
	f.frames = append(f.frames, string(b))
	return true
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeRecorder struct {
	mu       sync.Mutex
	sent     int
	failed   int
	states   []string
	connects []bool
}

func (r *fakeRecorder) FrameSent(string, string, time.Duration) { r.mu.Lock(); r.sent++; r.mu.Unlock() }
func (r *fakeRecorder) FrameFailed(string, string)              { r.mu.Lock(); r.failed++; r.mu.Unlock() }
func (r *fakeRecorder) Throughput(float64)                      {}
func (r *fakeRecorder) HarnessState(s string) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}
func (r *fakeRecorder) Connect(_ string, ok bool) {
	r.mu.Lock()
	r.connects = append(r.connects, ok)
	r.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHarness(t *testing.T, ft *fakeTransport, comps []*frame.Component, opts ...Option) *Harness {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithSeed(1), WithTick(time.Millisecond)}, opts...)
	h, err := New(comps, ft, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestStep_CatchUpRegardlessOfTick(t *testing.T) {
	ticks := []time.Duration{
		time.Millisecond,
		10 * time.Millisecond,
		33 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, tick := range ticks {
		t.Run(tick.String(), func(t *testing.T) {
			ft := &fakeTransport{connected: true}
			c := frame.NewComponent("plot", frame.ClassPlot, 10)
			h := newTestHarness(t, ft, []*frame.Component{c})
			ctx := context.Background()

			for elapsed := time.Duration(0); elapsed < time.Second; elapsed += tick {
				h.step(ctx, elapsed.Seconds())
			}
			h.step(ctx, 1.0)

			if got := c.Emitted(); got < 9 || got > 11 {
				t.Errorf("emitted %d frames at tick %v; want 10±1", got, tick)
			}
			if got := len(ft.Frames()); got < 9 || got > 11 {
				t.Errorf("sent %d frames at tick %v; want 10±1", got, tick)
			}
		})
	}
}

func TestStep_SkipsDisabledAndZeroFrequency(t *testing.T) {
	ft := &fakeTransport{connected: true}
	on := frame.NewComponent("on", frame.ClassGauge, 5)
	off := frame.NewComponent("off", frame.ClassGauge, 5)
	zero := frame.NewComponent("zero", frame.ClassGauge, 0)
	h := newTestHarness(t, ft, []*frame.Component{on, off, zero})

	if err := h.SetEnabled("off", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	h.step(context.Background(), 2.0)

	if on.Emitted() != 10 {
		t.Errorf("on emitted %d; want 10", on.Emitted())
	}
	if off.Emitted() != 0 || zero.Emitted() != 0 {
		t.Errorf("disabled components emitted: off=%d zero=%d", off.Emitted(), zero.Emitted())
	}
}

func TestStep_ComponentsServicedInOrder(t *testing.T) {
	ft := &fakeTransport{connected: true}
	a := frame.NewComponent("a", frame.ClassGauge, 1, signal.NewRule(signal.KindConstant, 1, 1))
	b := frame.NewComponent("b", frame.ClassGauge, 1, signal.NewRule(signal.KindConstant, 2, 2))
	h := newTestHarness(t, ft, []*frame.Component{a, b})

	h.step(context.Background(), 1.0)
	h.step(context.Background(), 2.0)

	want := []string{"$1.00;", "$2.00;", "$1.00;", "$2.00;"}
	got := ft.Frames()
	if len(got) != len(want) {
		t.Fatalf("got %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestHarness_AccelerometerScenario(t *testing.T) {
	ft := &fakeTransport{}
	c := frame.NewComponent("imu", frame.ClassAccelerometer, 20,
		signal.Noise(-2, 2, 0.5),
		signal.Noise(-2, 2, 0.5),
		signal.Noise(8, 11, 0.2),
	)
	h := newTestHarness(t, ft, []*frame.Component{c}, WithDuration(time.Second), WithTick(5*time.Millisecond))

	if err := h.Connect(context.Background(), transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Sent < 19 || res.Sent > 21 {
		t.Errorf("sent %d frames; want 19..21", res.Sent)
	}
	pattern := regexp.MustCompile(`^\$-?\d+\.\d{3},-?\d+\.\d{3},-?\d+\.\d{3};$`)
	for _, f := range ft.Frames() {
		if !pattern.MatchString(f) {
			t.Errorf("frame %q does not match %s", f, pattern)
		}
	}
	if res.State != StateCompleted || h.State() != StateCompleted {
		t.Errorf("state = %s / %s; want completed", res.State, h.State())
	}
	if !res.Passed {
		t.Errorf("expected run to pass, checks: %+v", res.Checks)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestHarness_TCPServerTimeoutLeavesIdle(t *testing.T) {
	c := frame.NewComponent("g", frame.ClassGauge, 1)
	h, err := New([]*frame.Component{c}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	spec := transport.Spec{Kind: transport.KindTCPServer, Host: "127.0.0.1", Port: 0, Timeout: 500 * time.Millisecond}

	err = h.Connect(context.Background(), spec)
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect = %v; want ErrConnectFailed", err)
	}
	if h.State() != StateIdle {
		t.Errorf("state = %s; want idle", h.State())
	}
}

func TestHarness_InvalidTransitions(t *testing.T) {
	ft := &fakeTransport{}
	h := newTestHarness(t, ft, []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 1)})
	ctx := context.Background()

	if err := h.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start while idle = %v; want ErrInvalidState", err)
	}
	if err := h.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop while idle = %v; want ErrInvalidState", err)
	}
	if err := h.Connect(ctx, transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.Connect(ctx, transport.Spec{Kind: transport.KindUDP}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Connect = %v; want ErrInvalidState", err)
	}

	h.Disconnect()
	h.Disconnect()
	if h.State() != StateIdle {
		t.Errorf("state = %s; want idle", h.State())
	}
}

func TestHarness_ConnectFailureStaysIdle(t *testing.T) {
	ft := &fakeTransport{failConnect: true}
	rec := &fakeRecorder{}
	h := newTestHarness(t, ft, []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 1)}, WithRecorder(rec))

	if err := h.Connect(context.Background(), transport.Spec{Kind: transport.KindTCPClient}); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect = %v; want ErrConnectFailed", err)
	}
	if h.State() != StateIdle {
		t.Errorf("state = %s; want idle", h.State())
	}
	if len(rec.connects) != 1 || rec.connects[0] {
		t.Errorf("recorder connects = %v; want [false]", rec.connects)
	}
}

func TestHarness_StopAndRestartResetsState(t *testing.T) {
	ft := &fakeTransport{}
	c := frame.NewComponent("term", frame.ClassTerminal, 50)
	h := newTestHarness(t, ft, []*frame.Component{c})
	ctx := context.Background()

	if err := h.Connect(ctx, transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	first := h.Wait()
	if first.State != StateStopped || h.State() != StateStopped {
		t.Fatalf("state = %s / %s; want stopped", first.State, h.State())
	}
	if first.Sent == 0 {
		t.Fatal("expected frames before stop")
	}
	if len(first.Checks) == 0 {
		t.Error("stopped runs are still validated")
	}

	if err := h.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	snap := h.Stats()
	if snap.State != StateRunning {
		t.Errorf("state = %s; want running", snap.State)
	}
	if snap.RunID == first.RunID {
		t.Error("restart should use a new run id")
	}
	if snap.Sent >= first.Sent {
		t.Errorf("counters were not reset: %d >= %d", snap.Sent, first.Sent)
	}
	h.Disconnect()
	if h.State() != StateIdle {
		t.Errorf("state = %s; want idle", h.State())
	}

	// The terminal cursor restarts with the run.
	frames := ft.Frames()
	if uint64(len(frames)) > first.Sent {
		restarted := frames[first.Sent]
		if !regexp.MustCompile(`System initialized;$`).MatchString(restarted) {
			t.Errorf("first frame after restart = %q", restarted)
		}
	}
}

func TestHarness_ContextCancellationStops(t *testing.T) {
	ft := &fakeTransport{}
	h := newTestHarness(t, ft, []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 100)})
	if err := h.Connect(context.Background(), transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := h.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateStopped {
		t.Errorf("state = %s; want stopped", res.State)
	}
}

func TestHarness_FailuresAreCountedNotFatal(t *testing.T) {
	ft := &fakeTransport{failEvery: 2}
	rec := &fakeRecorder{}
	c := frame.NewComponent("g", frame.ClassGauge, 100)
	h := newTestHarness(t, ft, []*frame.Component{c}, WithDuration(200*time.Millisecond), WithRecorder(rec))

	if err := h.Connect(context.Background(), transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted {
		t.Errorf("state = %s; want completed", res.State)
	}
	if res.Failed == 0 || res.Sent == 0 {
		t.Fatalf("sent=%d failed=%d; want both non-zero", res.Sent, res.Failed)
	}
	if res.Sent+res.Failed != c.Emitted() {
		t.Errorf("attempts %d != emitted %d", res.Sent+res.Failed, c.Emitted())
	}
	if res.Passed {
		t.Error("a 50% failure rate must not pass")
	}
	if uint64(len(res.Errors)) > maxErrors || res.ErrorCount != res.Failed {
		t.Errorf("errors = %d (count %d); failed = %d", len(res.Errors), res.ErrorCount, res.Failed)
	}
	if rec.failed != int(res.Failed) || rec.sent != int(res.Sent) {
		t.Errorf("recorder saw sent=%d failed=%d", rec.sent, rec.failed)
	}
}

func TestHarness_AutoReconnect(t *testing.T) {
	ft := &fakeTransport{failEvery: 1}
	c := frame.NewComponent("g", frame.ClassGauge, 10)
	h := newTestHarness(t, ft, []*frame.Component{c},
		WithBackoff(&transport.Backoff{Base: time.Hour, Max: time.Hour, Factor: 2}))

	spec := transport.Spec{Kind: transport.KindUDP, AutoReconnect: true}
	if err := h.Connect(context.Background(), spec); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.step(context.Background(), 1.0)

	// One reconnect after the first failure, then paced by the hour-long backoff.
	if got := ft.Connects(); got != 2 {
		t.Errorf("connects = %d; want 2", got)
	}
	if c.Emitted() != 10 {
		t.Errorf("emitted = %d; want 10", c.Emitted())
	}
}

func TestHarness_SetComponentErrors(t *testing.T) {
	h := newTestHarness(t, &fakeTransport{}, []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 1)})
	if err := h.SetEnabled("nope", true); !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("SetEnabled = %v; want ErrUnknownComponent", err)
	}
	if err := h.SetFrequency("nope", 1); !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("SetFrequency = %v; want ErrUnknownComponent", err)
	}
	if err := h.SetFrequency("g", 25); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := h.Stats().TargetRate; got != 25 {
		t.Errorf("target rate = %v; want 25", got)
	}
}

func TestNew_RejectsInvalidComponents(t *testing.T) {
	tests := []struct {
		name  string
		comps []*frame.Component
	}{
		{"unknown class", []*frame.Component{frame.NewComponent("x", frame.Class("radar"), 1)}},
		{"too many rules", []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 1,
			signal.NewRule(signal.KindRandom, 0, 1), signal.NewRule(signal.KindRandom, 0, 1))}},
		{"duplicate", []*frame.Component{
			frame.NewComponent("g", frame.ClassGauge, 1),
			frame.NewComponent("g", frame.ClassBar, 1),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.comps, &fakeTransport{})
			var cfgErr *frame.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("New = %v; want *frame.ConfigurationError", err)
			}
		})
	}
}

func TestEvaluateChecks(t *testing.T) {
	tests := []struct {
		name   string
		res    TestResult
		passed bool
		checks int
	}{
		{
			name:   "all good",
			res:    TestResult{Sent: 95, Failed: 5, AchievedRate: 9.5, TargetRate: 10},
			passed: true,
			checks: 2,
		},
		{
			name:   "error rate exactly at limit",
			res:    TestResult{Sent: 90, Failed: 10, AchievedRate: 9, TargetRate: 10},
			passed: true,
			checks: 2,
		},
		{
			name:   "too many errors",
			res:    TestResult{Sent: 80, Failed: 20, AchievedRate: 8, TargetRate: 10},
			passed: false,
			checks: 2,
		},
		{
			name:   "too slow",
			res:    TestResult{Sent: 70, AchievedRate: 7, TargetRate: 10},
			passed: false,
			checks: 2,
		},
		{
			name: "min frequency missed",
			res: TestResult{Sent: 100, AchievedRate: 100, TargetRate: 100, Components: []ComponentStats{
				{Name: "hf", MinFrequency: 50, AchievedRate: 40},
			}},
			passed: false,
			checks: 3,
		},
		{
			name:   "nothing attempted",
			res:    TestResult{},
			passed: true,
			checks: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.res
			evaluateChecks(&res, DefaultThresholds())
			if res.Passed != tt.passed {
				t.Errorf("Passed = %v; want %v (checks %+v)", res.Passed, tt.passed, res.Checks)
			}
			if len(res.Checks) != tt.checks {
				t.Errorf("got %d checks; want %d", len(res.Checks), tt.checks)
			}
		})
	}
}

type fakeSink struct {
	mu      sync.Mutex
	stats   []StatsSnapshot
	results []TestResult
}

func (s *fakeSink) PublishStats(_ context.Context, snap StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, snap)
	return nil
}

func (s *fakeSink) PublishResult(_ context.Context, r TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return errors.New("sink unavailable")
}

func TestHarness_RefreshAtMostOncePerSecond(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	ft := &fakeTransport{connected: true}
	c := frame.NewComponent("g", frame.ClassGauge, 10)
	h := newTestHarness(t, ft, []*frame.Component{c}, WithClock(clock.Now), WithStatsSink(sink))
	h.stats.reset(clock.Now(), []string{"g"})
	ctx := context.Background()

	h.step(ctx, 0.5)
	clock.Advance(500 * time.Millisecond)
	h.refresh(ctx)
	if len(sink.stats) != 0 {
		t.Fatalf("published after 500ms")
	}

	h.step(ctx, 1.0)
	clock.Advance(500 * time.Millisecond)
	h.refresh(ctx)
	if len(sink.stats) != 1 {
		t.Fatalf("published %d snapshots; want 1", len(sink.stats))
	}
	if got := sink.stats[0].Throughput; got != 10 {
		t.Errorf("throughput = %v; want 10", got)
	}
}

func TestHarness_PublishesResultEvenWhenSinkFails(t *testing.T) {
	sink := &fakeSink{}
	ft := &fakeTransport{}
	h := newTestHarness(t, ft, []*frame.Component{frame.NewComponent("g", frame.ClassGauge, 20)},
		WithDuration(100*time.Millisecond), WithStatsSink(sink), WithName("sink-test"))
	if err := h.Connect(context.Background(), transport.Spec{Kind: transport.KindUDP}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.results) != 1 || sink.results[0].RunID != res.RunID {
		t.Fatalf("sink results = %+v", sink.results)
	}
	if res.Name != "sink-test" {
		t.Errorf("name = %q", res.Name)
	}
}

func TestRunStats_P99(t *testing.T) {
	s := newRunStats()
	s.reset(time.Now(), []string{"a"})
	for i := 1; i <= 2000; i++ {
		s.recordSent("a", time.Duration(i)*time.Microsecond, "$1;")
	}
	// Only the last 1000 samples (1001..2000µs) are kept.
	if got := s.p99(); got != 1990*time.Microsecond {
		t.Errorf("p99 = %v; want 1.99ms", got)
	}
	if got := s.averageLatency(); got != 1000500*time.Nanosecond {
		t.Errorf("average = %v; want 1.0005ms", got)
	}
}

func TestHarness_StatsResponsiveWhileConnecting(t *testing.T) {
	c := frame.NewComponent("g", frame.ClassGauge, 1)
	h, err := New([]*frame.Component{c}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	spec := transport.Spec{Kind: transport.KindTCPServer, Host: "127.0.0.1", Port: 0, Timeout: 1500 * time.Millisecond}

	done := make(chan error)
	go func() { done <- h.Connect(context.Background(), spec) }()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_ = h.Stats()
	if s := h.State(); s != StateIdle {
		t.Errorf("state while connecting = %s; want idle", s)
	}
	if err := h.SetFrequency("g", 2); err != nil {
		t.Errorf("SetFrequency: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Stats/State/SetFrequency took %v while Connect was pending", elapsed)
	}
	if err := h.Connect(context.Background(), spec); !errors.Is(err, ErrInvalidState) {
		t.Errorf("concurrent Connect = %v; want ErrInvalidState", err)
	}

	if err := <-done; !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect = %v; want ErrConnectFailed", err)
	}
	if h.State() != StateIdle {
		t.Errorf("state = %s; want idle", h.State())
	}
}

func TestHarness_RetuneDoesNotReplayBacklog(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	ft := &fakeTransport{connected: true}
	c := frame.NewComponent("plot", frame.ClassPlot, 1)
	h := newTestHarness(t, ft, []*frame.Component{c}, WithClock(clock.Now))
	ctx := context.Background()

	// Drive the schedule by hand as the loop would.
	h.mu.Lock()
	h.state = StateRunning
	h.startedAt = clock.Now()
	h.mu.Unlock()

	clock.Advance(100 * time.Second)
	h.step(ctx, 100)
	if got := c.Emitted(); got != 100 {
		t.Fatalf("emitted %d before retune; want 100", got)
	}

	if err := h.SetFrequency("plot", 100); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	clock.Advance(50 * time.Millisecond)
	h.step(ctx, 100.05)
	if got := len(ft.Frames()); got > 106 {
		t.Errorf("sent %d frames after raising the rate; want the backlog skipped", got)
	}

	if err := h.SetEnabled("plot", false); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	if err := h.SetEnabled("plot", true); err != nil {
		t.Fatal(err)
	}
	before := len(ft.Frames())
	h.step(ctx, 110.05)
	if got := len(ft.Frames()) - before; got > 1 {
		t.Errorf("re-enabling emitted %d frames; want the paused interval skipped", got)
	}
}
