package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

const promptName = "sensorsim-protocol"

// Controller is the part of *simulation.Harness the server drives.
type Controller interface {
	Connect(ctx context.Context, spec transport.Spec) error
	Start(ctx context.Context) error
	Stop() error
	Wait() simulation.TestResult
	Disconnect()
	SetEnabled(name string, enabled bool) error
	SetFrequency(name string, hz float64) error
	State() simulation.State
	Stats() simulation.StatsSnapshot
}

// Server exposes a harness over the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	harness   Controller
	defaults  transport.Spec
	logger    *slog.Logger

	// runs outlive the tool call that started them
	runCtx context.Context
}

// NewServer creates a new MCP server instance. defaults fills the
// transport fields a connect call leaves out.
func NewServer(ctx context.Context, h Controller, defaults transport.Spec, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"sensorsim",
			"1.0.0",
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithPromptCapabilities(false),
		),
		harness:  h,
		defaults: defaults,
		logger:   logger,
		runCtx:   ctx,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"sensorsim://stats",
		"Harness Statistics",
		mcp.WithResourceDescription("Live state, counters, throughput and latency of the current run"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadStats)

	s.mcpServer.AddResource(mcp.NewResource(
		"sensorsim://components",
		"Components",
		mcp.WithResourceDescription("Configured components with class, rate, enabled flag and last frame"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadComponents)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"connect",
		mcp.WithDescription("Open the transport. Omitted fields use the configured defaults."),
		mcp.WithString("kind", mcp.Description("serial, tcp_client, tcp_server, udp or udp_multicast")),
		mcp.WithString("host", mcp.Description("Peer host for tcp_client and udp, bind address for tcp_server")),
		mcp.WithNumber("port", mcp.Description("TCP port")),
		mcp.WithString("device", mcp.Description("Serial device path")),
		mcp.WithNumber("baud", mcp.Description("Serial baud rate")),
		mcp.WithNumber("local_port", mcp.Description("UDP local port")),
		mcp.WithNumber("remote_port", mcp.Description("UDP remote port")),
		mcp.WithString("group", mcp.Description("Multicast group address")),
	), s.handleConnect)

	s.mcpServer.AddTool(mcp.NewTool(
		"start",
		mcp.WithDescription("Start a run. Requires a connected transport."),
	), s.handleStart)

	s.mcpServer.AddTool(mcp.NewTool(
		"stop",
		mcp.WithDescription("Stop the current run and return its validated result."),
	), s.handleStop)

	s.mcpServer.AddTool(mcp.NewTool(
		"disconnect",
		mcp.WithDescription("Stop any run and close the transport."),
	), s.handleDisconnect)

	s.mcpServer.AddTool(mcp.NewTool(
		"set_component",
		mcp.WithDescription("Enable, disable or retune a component. Takes effect on the next scheduling pass."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Component name")),
		mcp.WithBoolean("enabled", mcp.Description("New enabled flag")),
		mcp.WithNumber("frequency", mcp.Description("New rate in Hz; 0 pauses the component")),
	), s.handleSetComponent)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains the frame format and the harness lifecycle"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadStats(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, s.harness.Stats())
}

type componentView struct {
	simulation.ComponentStats
	Arity    int  `json:"arity"`
	Variable bool `json:"variable_arity,omitempty"`
}

func (s *Server) handleReadComponents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats := s.harness.Stats().Components
	out := make([]componentView, 0, len(stats))
	for _, c := range stats {
		v := componentView{ComponentStats: c}
		if info, err := frame.Describe(c.Class); err == nil {
			v.Arity = info.Arity
			v.Variable = info.Variable
		}
		out = append(out, v)
	}
	return jsonContents(request.Params.URI, out)
}

func (s *Server) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, err := s.specFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.harness.Connect(ctx, spec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("connect failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Connected: %s", spec)), nil
}

func (s *Server) specFrom(request mcp.CallToolRequest) (transport.Spec, error) {
	spec := s.defaults
	args := request.GetArguments()

	if v := request.GetString("kind", ""); v != "" {
		kind, err := transport.ParseKind(v)
		if err != nil {
			return spec, err
		}
		spec.Kind = kind
	}
	if v := request.GetString("host", ""); v != "" {
		spec.Host = v
	}
	if v := request.GetString("device", ""); v != "" {
		spec.Device = v
	}
	if v := request.GetString("group", ""); v != "" {
		spec.Group = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"port", &spec.Port},
		{"baud", &spec.Baud},
		{"local_port", &spec.LocalPort},
		{"remote_port", &spec.RemotePort},
	}
	for _, f := range ints {
		if _, ok := args[f.key]; ok {
			*f.dst = int(request.GetFloat(f.key, 0))
		}
	}
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.harness.Start(s.runCtx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}
	snap := s.harness.Stats()
	return mcp.NewToolResultText(fmt.Sprintf("Started run %s (%s), target %.2f fps", snap.RunID, snap.Name, snap.TargetRate)), nil
}

func (s *Server) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.harness.Stop(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", err)), nil
	}
	return resultText(s.harness.Wait()), nil
}

func resultText(res simulation.TestResult) *mcp.CallToolResult {
	var b strings.Builder
	status := "FAIL"
	if res.Passed {
		status = "PASS"
	}
	fmt.Fprintf(&b, "[%s] %s: sent %d, failed %d, %.2f fps of %.2f target\n",
		status, res.Name, res.Sent, res.Failed, res.AchievedRate, res.TargetRate)
	for _, chk := range res.Checks {
		if !chk.Passed {
			fmt.Fprintf(&b, "  %s (%s): expected %s, got %s\n", chk.Metric, chk.Scope, chk.Expected, chk.Actual)
		}
	}
	return mcp.NewToolResultText(b.String())
}

func (s *Server) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.harness.Disconnect()
	return mcp.NewToolResultText("Disconnected"), nil
}

func (s *Server) handleSetComponent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	_, hasEnabled := args["enabled"]
	_, hasFrequency := args["frequency"]
	if !hasEnabled && !hasFrequency {
		return mcp.NewToolResultError("nothing to change: pass enabled and/or frequency"), nil
	}

	var changes []string
	if hasEnabled {
		enabled := request.GetBool("enabled", true)
		if err := s.harness.SetEnabled(name, enabled); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		changes = append(changes, fmt.Sprintf("enabled=%t", enabled))
	}
	if hasFrequency {
		hz := request.GetFloat("frequency", 0)
		if err := s.harness.SetFrequency(name, hz); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		changes = append(changes, fmt.Sprintf("frequency=%g", hz))
	}
	s.logger.Info("component updated over mcp", "component", name, "changes", changes)
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", name, strings.Join(changes, ", "))), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are controlling sensorsim, a sensor-data generator that streams
frames to a visualization dashboard for load testing.

Frames:
- Every frame is '$' + comma-separated values + ';' (for example "$1.234,-0.567,9.810;").
- Each component has a class (accelerometer, gyroscope, gps, gauge, bar, compass,
  led_panel, plot, multiplot, fft, plot3d, datagrid, terminal, mpu6050) that fixes
  the value count and decimal precision.

Lifecycle:
- idle -> connect -> connected -> start -> running -> stop/complete -> start again or disconnect.
- Use 'connect' before 'start'. 'stop' returns the validated result.
- 'set_component' changes a component's enabled flag or rate while running.

Read sensorsim://stats for live counters and sensorsim://components for the
component list. A run passes when the error rate and achieved rate stay within
the configured thresholds.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
