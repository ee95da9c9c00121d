package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/signal"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

// NewPortsCommand creates the ports command.
func NewPortsCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and common baud rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := transport.ListPorts()
			out := cmd.OutOrStdout()
			if asJSON {
				if ports == nil {
					ports = []transport.PortInfo{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ports)
			}
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
			} else {
				def := transport.DefaultPort()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tPORT\tUSB\tVID:PID\tDESCRIPTION")
				for _, p := range ports {
					mark := ""
					if p.Name == def {
						mark = "*"
					}
					ids := ""
					if p.IsUSB {
						ids = p.VID + ":" + p.PID
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", mark, p.Name, p.IsUSB, ids, p.Description)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Baud rates: %v\n", transport.CommonBaudRates())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print ports as JSON")
	return cmd
}

// NewClassesCommand creates the classes command.
func NewClassesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List capability classes with their channel count and precision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range frame.Classes() {
				info, err := frame.Describe(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), info.String())
			}
			return nil
		},
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			components, err := cfg.Build()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ev := signal.NewEvaluator(cfg.Seed)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCLASS\tHZ\tRULES\tENABLED\tSAMPLE")
			enabled := 0
			for _, c := range components {
				if c.Enabled() {
					enabled++
				}
				sample, err := sampleFrame(c, ev)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%g\t%d\t%t\t%s\n", c.Name, c.Class, c.Frequency(), len(c.Rules), c.Enabled(), sample)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "OK: %d components (%d enabled), transport %s\n", len(components), enabled, cfg.Transport)
			return nil
		},
	}
}

// sampleFrame dry-runs the encoder on a copy of c and checks the result.
func sampleFrame(c *frame.Component, ev frame.RuleEvaluator) (frame.Frame, error) {
	f, err := frame.Encode(c.Clone(), ev, 0)
	if err != nil {
		return "", err
	}
	if err := frame.Check(c.Class, f); err != nil {
		return "", fmt.Errorf("component %q: %w", c.Name, err)
	}
	return f, nil
}
