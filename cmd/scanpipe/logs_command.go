package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scanpipe/internal/logs"
	"scanpipe/internal/scan"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var instance string
	var debug bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Example: "  scanpipe logs -n 200\n" +
			"  scanpipe logs -f --scan u1:2025-01-10",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "scanpipe.log")
			if debug {
				path = filepath.Join(cfg.Paths.LogDir, "debug", "scanpipe.log")
			}

			var match func(string) bool
			if instance != "" {
				key, err := scan.ParseKey(instance)
				if err != nil {
					return fmt.Errorf("--scan: %w", err)
				}
				match = logs.ContainsAll(key.UserID, key.Date)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := logs.TailOptions{Offset: -1, Limit: lines, Match: match}
			if lines <= 0 {
				opts.Offset, opts.Limit = 0, 0
			}
			out := cmd.OutOrStdout()
			printed := false
			for {
				result, err := logs.Tail(runCtx, path, opts)
				if err != nil {
					if runCtx.Err() != nil {
						return nil
					}
					return fmt.Errorf("tail logs: %w", err)
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
					printed = true
				}
				if !follow {
					if !printed {
						fmt.Fprintln(out, "No log entries available")
					}
					return nil
				}
				opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: time.Second, Match: match}
				if len(result.Lines) == 0 {
					// The daemon may not have created the file yet.
					select {
					case <-runCtx.Done():
						return nil
					case <-time.After(250 * time.Millisecond):
					}
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show (0 for the whole file)")
	cmd.Flags().StringVar(&instance, "scan", "", "Only lines for one pipeline instance (userId:date)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Read the diagnostic-mode debug log")
	return cmd
}
