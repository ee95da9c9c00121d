package main

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
}

func (f *fakeTransport) Connect(ctx context.Context, spec transport.Spec) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return true
}

func (f *fakeTransport) Send(b []byte) bool { return f.Connected() }

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func newTestModel(t *testing.T) (model, *simulation.Harness) {
	t.Helper()
	h, err := simulation.New([]*frame.Component{
		frame.NewComponent("imu", frame.ClassAccelerometer, 20),
		frame.NewComponent("temp", frame.ClassGauge, 0.5),
	}, &fakeTransport{}, simulation.WithName("tui"))
	if err != nil {
		t.Fatalf("simulation.New: %v", err)
	}
	t.Cleanup(h.Disconnect)
	return initialModel(context.Background(), h, transport.DefaultSpec()), h
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and, when it produced an action, runs it and feeds the
// result back.
func press(t *testing.T, m model, s string) model {
	t.Helper()
	next, cmd := m.Update(key(s))
	m = next.(model)
	if cmd != nil {
		if msg, ok := cmd().(actionMsg); ok {
			next, _ = m.Update(msg)
			m = next.(model)
		}
	}
	return m
}

func TestModel_Lifecycle(t *testing.T) {
	m, h := newTestModel(t)

	m = press(t, m, "c")
	if h.State() != simulation.StateConnected {
		t.Fatalf("state after c = %s", h.State())
	}
	m = press(t, m, "s")
	if h.State() != simulation.StateRunning {
		t.Fatalf("state after s = %s", h.State())
	}
	m = press(t, m, "s")
	if h.State() != simulation.StateStopped {
		t.Fatalf("state after second s = %s", h.State())
	}
	m = press(t, m, "d")
	if h.State() != simulation.StateIdle {
		t.Fatalf("state after d = %s", h.State())
	}
	if m.err != nil {
		t.Errorf("unexpected error: %v", m.err)
	}
	if !strings.Contains(strings.Join(m.log, "\n"), "disconnect ok") {
		t.Errorf("log = %v", m.log)
	}
}

func TestModel_StartWhileIdleShowsError(t *testing.T) {
	m, _ := newTestModel(t)
	m = press(t, m, "s")
	if m.err == nil {
		t.Fatal("expected an error when starting while idle")
	}
	if !strings.Contains(m.View(), "Error:") {
		t.Error("view should show the error")
	}
}

func TestModel_ToggleAndAdjust(t *testing.T) {
	m, h := newTestModel(t)

	m = press(t, m, "2")
	if m.selected != 1 {
		t.Fatalf("selected = %d; want 1", m.selected)
	}
	if c := h.Stats().Components[1]; c.Enabled {
		t.Error("temp should be disabled after pressing 2")
	}
	m = press(t, m, "9") // out of range, ignored
	if m.selected != 1 {
		t.Errorf("selected = %d after out-of-range toggle", m.selected)
	}

	m = press(t, m, "+")
	if got := h.Stats().Components[1].Frequency; got != 0.6 {
		t.Errorf("temp frequency = %v; want 0.6", got)
	}
	m = press(t, m, "up")
	m = press(t, m, "-")
	if got := h.Stats().Components[0].Frequency; got != 19 {
		t.Errorf("imu frequency = %v; want 19", got)
	}
	m = press(t, m, "up")
	if m.selected != 0 {
		t.Errorf("selected = %d; want 0", m.selected)
	}
}

func TestNextFrequency(t *testing.T) {
	tests := []struct {
		hz   float64
		dir  int
		want float64
	}{
		{20, 1, 21},
		{20, -1, 19},
		{1, -1, 0.9},
		{1, 1, 2},
		{0.5, 1, 0.6},
		{0.1, -1, 0},
		{0, -1, 0},
		{0, 1, 0.1},
	}
	for _, tt := range tests {
		if got := nextFrequency(tt.hz, tt.dir); got != tt.want {
			t.Errorf("nextFrequency(%v, %d) = %v; want %v", tt.hz, tt.dir, got, tt.want)
		}
	}
}

func TestModel_View(t *testing.T) {
	m, _ := newTestModel(t)
	view := m.View()
	for _, want := range []string{"IDLE", "imu", "temp", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
