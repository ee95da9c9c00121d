package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/sensorsim/pkg/config"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	"github.com/rmax-ai/sensorsim/pkg/transport"
)

func newCommand() *cobra.Command {
	var (
		configPath string
		logPath    string
	)
	cmd := &cobra.Command{
		Use:           "sensorsim-tui",
		Short:         "Interactive sensorsim dashboard",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the UI; logs go to a file or nowhere.
			var logOut io.Writer = io.Discard
			if logPath != "" {
				f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
			}
			logger := slog.New(slog.NewTextHandler(logOut, nil))

			var cfg *config.Config
			var err error
			if configPath == "" {
				cfg, err = config.FromEnv()
			} else {
				cfg, err = config.Load(configPath)
			}
			if err != nil {
				return err
			}
			components, err := cfg.Build()
			if err != nil {
				return err
			}
			opts := append(cfg.HarnessOptions(), simulation.WithLogger(logger))
			h, err := simulation.New(components, transport.NewManager(transport.WithLogger(logger)), opts...)
			if err != nil {
				return err
			}
			defer h.Disconnect()

			p := tea.NewProgram(initialModel(cmd.Context(), h, cfg.Transport), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: built-in components)")
	cmd.Flags().StringVar(&logPath, "log-file", "", "append logs to this file")
	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
