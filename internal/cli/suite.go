package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

type suiteOptions struct {
	transport transportFlags
	output    outputFlags
	cases     []string
	scale     float64
	gap       time.Duration
	list      bool
}

// NewSuiteCommand creates the suite command.
func NewSuiteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &suiteOptions{}

	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run the standard acceptance suite over one connection",
		Long: `Run the built-in test cases (accelerometer, gyroscope, gps, mixed_sensors,
high_frequency, led_panel, fft_signal) one after another on a single
transport connection. Only the transport section of --config is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, rootOpts, opts)
		},
	}

	opts.transport.register(cmd.Flags())
	opts.output.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&opts.cases, "cases", nil, "run only these cases")
	cmd.Flags().Float64Var(&opts.scale, "scale", 1, "multiply every case duration")
	cmd.Flags().DurationVar(&opts.gap, "gap", 2*time.Second, "pause between cases")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list the cases and exit")

	return cmd
}

func runSuite(cmd *cobra.Command, rootOpts *RootOptions, opts *suiteOptions) error {
	out := cmd.OutOrStdout()
	suite, err := simulation.DefaultSuite().Select(opts.cases...)
	if err != nil {
		return err
	}
	if opts.list {
		for _, tc := range suite.Cases {
			fmt.Fprintf(out, "%-16s %6s  %s\n", tc.Name, tc.Duration, tc.Description)
		}
		return nil
	}
	if opts.scale <= 0 {
		return fmt.Errorf("--scale must be positive")
	}
	if opts.scale != 1 {
		suite = suite.Scale(opts.scale)
	}

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.transport.apply(cmd, &cfg.Transport); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	ctx := cmd.Context()
	h, cleanup, err := newHarness(ctx, cfg, nil, rootOpts.Logger())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := h.Connect(ctx, cfg.Transport); err != nil {
		return err
	}
	defer h.Disconnect()

	summary, runErr := simulation.RunSuite(ctx, h, suite, opts.gap)
	if err := writeReports(out, opts.output, summary.Results); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSuite %s: %d/%d passed in %s\n", summary.Suite, summary.PassedCount, summary.Total, summary.Duration.Round(time.Millisecond))
	if runErr != nil {
		return runErr
	}
	if !summary.Passed() {
		return ErrTestFailed
	}
	return nil
}
