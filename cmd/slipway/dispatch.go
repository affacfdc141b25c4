package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/dispatch"
	"github.com/slipway-sh/slipway/internal/events"
)

func newDispatchCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		binary    string
		runsRoot  string
		workspace string
		prompt    string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Start a new run and resolve its identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := dispatch.Options{
				BinaryPath:            firstNonEmpty(binary, cfg.Binary),
				WorkspaceRoot:         workspace,
				RunsRoot:              firstNonEmpty(runsRoot, cfg.RunsRoot),
				Prompt:                prompt,
				RunInfoTimeout:        cfg.RunInfoTimeout,
				RunDirFallbackTimeout: cfg.RunDirFallbackTimeout,
				RunDirPollInterval:    cfg.RunDirPollInterval,
			}

			bus := events.New(events.WithLogger(logger))
			bus.SubscribeAll(func(event events.Event) {
				logger.With("type", event.Type, "run_id", event.RunID).Debug("dispatch event")
			})

			result, err := dispatch.New(logger, bus).Dispatch(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id: %s\n", result.RunID)
			fmt.Fprintf(out, "run_root: %s\n", result.RunRootPath)
			fmt.Fprintf(out, "pid: %d\n", result.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&binary, "binary", "", "run binary (overrides config)")
	cmd.Flags().StringVar(&runsRoot, "runs-root", "", "runs root directory (overrides config)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "working directory for the run process")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text forwarded to the run process")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
