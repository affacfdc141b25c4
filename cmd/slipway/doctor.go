package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/dispatch"
)

func newDoctorCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that dispatch prerequisites are in place",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logger != nil {
				logger.With("command", "doctor").Info("running environment checks")
			}
			return runDoctor(cmd.OutOrStdout(), cfg)
		},
	}
}

func runDoctor(out io.Writer, cfg *config.Config) error {
	failures := 0

	if resolved, err := dispatch.ResolveBinary(cfg.Binary); err != nil {
		failures++
		fmt.Fprintf(out, "[fail] run binary: %v\n", err)
	} else {
		fmt.Fprintf(out, "[ ok ] run binary: %s\n", resolved)
	}

	if info, err := os.Stat(cfg.RunsRoot); err != nil {
		failures++
		fmt.Fprintf(out, "[fail] runs root: %v\n", err)
	} else if !info.IsDir() {
		failures++
		fmt.Fprintf(out, "[fail] runs root: %s is not a directory\n", cfg.RunsRoot)
	} else {
		fmt.Fprintf(out, "[ ok ] runs root: %s\n", cfg.RunsRoot)
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}
