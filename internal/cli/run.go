package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

type runOptions struct {
	transport   transportFlags
	output      outputFlags
	duration    time.Duration
	seed        int64
	metricsAddr string
	redisAddr   string
	only        []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the configured components and validate the run",
		Long: `Connect the transport, stream every enabled component at its rate for
--duration (until interrupted when zero) and print the validated result.

Exits non-zero when the run fails its thresholds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts)
		},
	}

	opts.transport.register(cmd.Flags())
	opts.output.register(cmd.Flags())
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "run length (0 runs until interrupted)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "publish live stats to this Redis server")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "enable only these components")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions) error {
	logger := rootOpts.Logger()
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.transport.apply(cmd, &cfg.Transport); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.Duration = opts.duration
	}
	if flags.Changed("seed") {
		cfg.Seed = opts.seed
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = opts.redisAddr
	}

	components, err := cfg.Build()
	if err != nil {
		return err
	}
	if len(opts.only) > 0 {
		want := make(map[string]bool, len(opts.only))
		for _, n := range opts.only {
			want[n] = true
		}
		for _, c := range components {
			c.SetEnabled(want[c.Name])
			delete(want, c.Name)
		}
		for n := range want {
			return fmt.Errorf("--only: unknown component %q", n)
		}
	}

	ctx := cmd.Context()
	h, cleanup, err := newHarness(ctx, cfg, components, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := h.Connect(ctx, cfg.Transport); err != nil {
		return err
	}
	defer h.Disconnect()

	res, err := h.Run(ctx)
	if err != nil {
		return err
	}
	if err := writeReports(cmd.OutOrStdout(), opts.output, []simulation.TestResult{res}); err != nil {
		return err
	}
	if !res.Passed {
		return ErrTestFailed
	}
	return nil
}
