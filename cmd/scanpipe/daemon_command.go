package main

import (
	"github.com/spf13/cobra"

	"scanpipe/internal/daemonrun"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scanpipe daemon in the foreground",
		Long: "Run the pipeline scheduler and the HTTP API until SIGINT or SIGTERM.\n" +
			"Scans interrupted by shutdown resume on the next start.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx.diagnostic = &diagnostic
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Diagnostic:  ctx.diagnosticMode(),
				Release:     "scanpipe@" + version,
			})
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	return cmd
}
