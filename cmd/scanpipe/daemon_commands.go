package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scanpipe/internal/api"
	"scanpipe/internal/daemonctl"
	"scanpipe/internal/daemonrun"
	"scanpipe/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the scanpipe daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.configValue(), exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath,
				Diagnostic: startDiagnostic,
			}, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the scanpipe daemon; in-flight scans resume on next start",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), 15*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline, and scan status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			status, running := pipelineSnapshot(cmd.Context(), ctx)

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range preflight.SystemChecks(cfg, running) {
				fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			if status != nil && len(status.StageHealth) > 0 {
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, h := range status.StageHealth {
					kind := statusOK
					if !h.Ready {
						kind = statusError
					}
					fmt.Fprintln(stdout, renderStatusLine(h.Name, kind, h.Detail, colorize))
				}
				if status.LastError != "" {
					fmt.Fprintln(stdout, renderStatusLine("Last error", statusWarn, status.LastError, colorize))
				}
				fmt.Fprintln(stdout)
			}

			for _, line := range renderSectionHeader("Scans", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if status == nil {
				fmt.Fprintln(stdout, "Scan store unavailable")
				return nil
			}
			rows, total := buildScanStatusRows(status.ScanStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No scans recorded")
				return nil
			}
			fmt.Fprint(stdout, tableSpec{
				Headers:      []string{"Status", "Count"},
				Rows:         rows,
				Aligns:       []columnAlignment{alignLeft, alignRight},
				Footer:       []string{"Total", strconv.Itoa(total)},
				StatusColumn: -1,
			}.render())
			fmt.Fprintln(stdout)
			if len(status.InFlight) > 0 {
				fmt.Fprintf(stdout, "In flight: %v\n", status.InFlight)
			}
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

// pipelineSnapshot asks the daemon first and falls back to store counts.
func pipelineSnapshot(cmdCtx context.Context, ctx *commandContext) (*api.PipelineStatus, bool) {
	cfg := ctx.configValue()
	if cfg == nil {
		return nil, false
	}
	if client, err := daemonctl.NewClient(cfg); err == nil {
		probeCtx, cancel := context.WithTimeout(cmdCtx, 2*time.Second)
		status, statusErr := client.Status(probeCtx)
		cancel()
		if statusErr == nil {
			return status, true
		}
	}

	queryCtx, cancel := context.WithTimeout(cmdCtx, 5*time.Second)
	defer cancel()
	store, err := daemonrun.OpenStore(queryCtx, cfg)
	if err != nil {
		return nil, false
	}
	defer store.Close()
	stats, err := store.Stats(queryCtx)
	if err != nil {
		return nil, false
	}
	return &api.PipelineStatus{ScanStats: api.FromStats(stats)}, false
}

var scanStatusOrder = map[string]int{
	"pending":     0,
	"in_progress": 1,
	"completed":   2,
	"rejected":    3,
	"failed":      4,
}

func buildScanStatusRows(stats map[string]int) ([][]string, int) {
	keys := make([]string, 0, len(stats))
	for k, v := range stats {
		if k == "total" || v == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := scanStatusOrder[keys[i]]
		oj, jok := scanStatusOrder[keys[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	sum := 0
	for _, k := range keys {
		rows = append(rows, []string{statusLabel(k), strconv.Itoa(stats[k])})
		sum += stats[k]
	}
	if total, ok := stats["total"]; ok {
		return rows, total
	}
	return rows, sum
}

func statusKindFromSeverity(severity string) statusKind {
	switch severity {
	case "ok":
		return statusOK
	case "warn":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

var titleCaser = cases.Title(language.English)

func statusLabel(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}
