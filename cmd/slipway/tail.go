package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/tail"
)

func newTailCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		interval time.Duration
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "tail <file>",
		Short: "Mirror the tail of a run log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if interval <= 0 {
				interval = cfg.TailPollInterval
			}

			session := tail.NewSession(tail.Limits{
				MaxBytes: cfg.TailMaxBytes,
				MaxChars: cfg.TailMaxChars,
			})

			out := cmd.OutOrStdout()
			start := session.Start(path)
			if start.Kind == tail.UpdateError {
				return errors.New(start.Message)
			}
			fmt.Fprint(out, start.Content)
			if !follow {
				return nil
			}

			logger.With("file", path, "interval", interval).Debug("tail session started")
			return followLoop(cmd.Context().Done(), out, session, interval, logger)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to config)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new output")
	return cmd
}

// followLoop drives the session on a fixed cadence. The session itself never
// schedules I/O; this loop owns the polling clock.
func followLoop(done <-chan struct{}, out io.Writer, session *tail.Session, interval time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			update := session.Poll()
			if update == nil {
				continue
			}
			switch update.Kind {
			case tail.UpdateAppend:
				fmt.Fprint(out, update.Content)
			case tail.UpdateSet:
				if update.Truncated {
					fmt.Fprintln(out, "--- file truncated ---")
				}
				fmt.Fprint(out, update.Content)
			case tail.UpdateError:
				// Transient: the file may reappear on a later poll.
				logger.With("error", update.Message).Warn("tail poll failed")
			}
		}
	}
}
