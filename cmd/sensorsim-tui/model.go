package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

const (
	pollRate       = 250 * time.Millisecond
	maxLogLines    = 200
	viewportHeight = 12
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	selectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)
)

// Harness is the control surface the TUI drives.
type Harness interface {
	Connect(ctx context.Context, spec transport.Spec) error
	Start(ctx context.Context) error
	Stop() error
	Disconnect()
	SetEnabled(name string, enabled bool) error
	SetFrequency(name string, hz float64) error
	State() simulation.State
	Stats() simulation.StatsSnapshot
}

type tickMsg time.Time

// actionMsg reports the outcome of a blocking harness call.
type actionMsg struct {
	action string
	err    error
}

type model struct {
	harness Harness
	spec    transport.Spec
	runCtx  context.Context

	spinner  spinner.Model
	viewport viewport.Model
	snap     simulation.StatsSnapshot
	selected int
	busy     bool
	log      []string
	err      error
	ready    bool
}

func initialModel(ctx context.Context, h Harness, spec transport.Spec) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		harness:  h,
		spec:     spec,
		runCtx:   ctx,
		spinner:  s,
		viewport: newViewport(100),
		snap:     h.Stats(),
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.refresh()
		return m, tick()

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.appendLog(errorStyle.Render(fmt.Sprintf("%s failed: %v", msg.action, msg.err)))
		} else {
			m.err = nil
			m.appendLog(okStyle.Render(msg.action + " ok"))
		}
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.ready = true
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.harness.Disconnect()
		return m, tea.Quit
	case "c":
		return m.run("connect", func() error { return m.harness.Connect(m.runCtx, m.spec) })
	case "s":
		if m.harness.State() == simulation.StateRunning {
			return m.run("stop", m.harness.Stop)
		}
		return m.run("start", func() error { return m.harness.Start(m.runCtx) })
	case "d":
		return m.run("disconnect", func() error { m.harness.Disconnect(); return nil })
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.snap.Components)-1 {
			m.selected++
		}
	case "+", "=":
		m.adjustSelected(1)
	case "-", "_":
		m.adjustSelected(-1)
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			m.toggle(int(key[0] - '1'))
		}
	}
	m.refresh()
	return m, nil
}

// run executes fn off the UI goroutine. Only one action runs at a time.
func (m model) run(action string, fn func() error) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.appendLog(subtleStyle.Render(action + "..."))
	return m, func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m *model) toggle(i int) {
	if i < 0 || i >= len(m.snap.Components) {
		return
	}
	c := m.snap.Components[i]
	if err := m.harness.SetEnabled(c.Name, !c.Enabled); err != nil {
		m.err = err
		return
	}
	m.selected = i
	m.appendLog(fmt.Sprintf("%s enabled=%t", c.Name, !c.Enabled))
}

func (m *model) adjustSelected(dir int) {
	if m.selected < 0 || m.selected >= len(m.snap.Components) {
		return
	}
	c := m.snap.Components[m.selected]
	hz := nextFrequency(c.Frequency, dir)
	if err := m.harness.SetFrequency(c.Name, hz); err != nil {
		m.err = err
		return
	}
	m.appendLog(fmt.Sprintf("%s frequency=%g Hz", c.Name, hz))
}

// nextFrequency steps by 1 Hz at or above 1 Hz and by 0.1 Hz below it,
// never going under zero.
func nextFrequency(hz float64, dir int) float64 {
	step := 1.0
	if hz < 1 || (dir < 0 && hz <= 1) {
		step = 0.1
	}
	next := math.Round((hz+float64(dir)*step)*10) / 10
	if next < 0 {
		return 0
	}
	return next
}

func (m *model) refresh() {
	m.snap = m.harness.Stats()
	if m.selected >= len(m.snap.Components) {
		m.selected = max(0, len(m.snap.Components)-1)
	}
}

func (m *model) appendLog(line string) {
	ts := time.Now().Format("15:04:05")
	m.log = append(m.log, subtleStyle.Render(ts)+" "+line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

func stateStyle(s simulation.State) lipgloss.Style {
	switch s {
	case simulation.StateRunning:
		return okStyle
	case simulation.StateConnected, simulation.StateCompleted:
		return warnStyle
	default:
		return subtleStyle
	}
}

func (m model) View() string {
	snap := m.snap

	var table strings.Builder
	table.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Components") + "\n\n")
	if len(snap.Components) == 0 {
		table.WriteString(subtleStyle.Render("No components configured."))
	}
	for i, c := range snap.Components {
		cursor := " "
		if i == m.selected {
			cursor = ">"
		}
		on := okStyle.Render("on ")
		if !c.Enabled {
			on = subtleStyle.Render("off")
		}
		line := fmt.Sprintf("%s %d %-14s %-13s %s %7.2f Hz  sent %-7d failed %-5d %s",
			cursor, i+1, c.Name, c.Class, on, c.Frequency, c.Sent, c.Failed, truncate(c.LastFrame, 28))
		if i == m.selected {
			line = selectStyle.Render(line)
		}
		table.WriteString(line + "\n")
	}
	topPane := paneStyle.Render(table.String())

	header := headerStyle.Render(fmt.Sprintf("%s sensorsim %s  %s  %s",
		m.spinner.View(),
		stateStyle(snap.State).Render(strings.ToUpper(snap.State.String())),
		m.spec,
		subtleStyle.Render(snap.RunID),
	))

	stats := fmt.Sprintf("Elapsed %s • Sent %d • Failed %d • %.1f/%.1f fps • avg latency %s",
		snap.Elapsed.Round(100*time.Millisecond), snap.Sent, snap.Failed, snap.Throughput, snap.TargetRate, snap.AverageLatency)

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	case snap.LastError != "":
		status = warnStyle.Render("Last error: " + snap.LastError)
	default:
		status = okStyle.Render("OK")
	}
	footer := subtleStyle.Render("c connect • s start/stop • d disconnect • 1-9 toggle • ↑/↓ select • +/- rate • q quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, stats, topPane, m.viewport.View(), status, footer)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
