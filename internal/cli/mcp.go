package cli

import (
	"github.com/spf13/cobra"

	"github.com/rmax-ai/sensorsim/pkg/mcp"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	var tf transportFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the harness over the Model Context Protocol on stdio",
		Long: `Expose connect, start, stop, disconnect and set_component tools plus the
sensorsim://stats and sensorsim://components resources on stdio. The
transport flags set the defaults a connect call falls back to. Logs go to
stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if err := tf.apply(cmd, &cfg.Transport); err != nil {
				return err
			}
			components, err := cfg.Build()
			if err != nil {
				return err
			}
			logger := rootOpts.Logger()
			h, cleanup, err := newHarness(cmd.Context(), cfg, components, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			defer h.Disconnect()

			return mcp.NewServer(cmd.Context(), h, cfg.Transport, logger).Serve()
		},
	}
	tf.register(cmd.Flags())
	return cmd
}
