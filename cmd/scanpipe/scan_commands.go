package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scanpipe/internal/api"
	"scanpipe/internal/daemonctl"
	"scanpipe/internal/services"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Create, process, and inspect scans",
	}
	scanCmd.AddCommand(
		newScanCreateCommand(ctx),
		newScanProcessCommand(ctx),
		newScanShowCommand(ctx),
		newScanListCommand(ctx),
		newScanRetryCommand(ctx),
		newScanCancelCommand(ctx),
		newScanAttemptsCommand(ctx),
	)
	return scanCmd
}

func newScanCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateScanRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "create <user-id> <date>",
		Short: "Register a scan with its angle photo URLs",
		Example: "  scanpipe scan create u1 2025-01-10 --angle front=gs://scans/u1/front.jpg \\\n" +
			"    --angle side=gs://scans/u1/side.jpg --angle back=gs://scans/u1/back.jpg --process",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.UserID, req.Date = args[0], args[1]
			return ctx.withScans(cmd, func(scans scanAPI) error {
				resp, err := scans.Create(cmd.Context(), req)
				if err != nil {
					return describeError(err)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				switch {
				case resp.Existing:
					fmt.Fprintf(out, "Scan already exists for %s %s (%s)\n", resp.Scan.UserID, resp.Scan.Date, resp.Scan.Status)
				default:
					fmt.Fprintf(out, "Created scan %s for %s %s\n", resp.Scan.ID, resp.Scan.UserID, resp.Scan.Date)
				}
				if resp.Submitted {
					if scans.Remote() {
						fmt.Fprintln(out, "Submitted to the daemon pipeline")
					} else {
						fmt.Fprintf(out, "Processed in-process: %s\n", resp.Scan.Status)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringToStringVar(&req.AngleURLs, "angle", nil, "Angle photo URL as name=url (repeatable)")
	cmd.Flags().StringVar(&req.ScanID, "scan-id", "", "Explicit scan id (defaults to a new UUID)")
	cmd.Flags().BoolVar(&req.Process, "process", false, "Start the pipeline after creating the scan")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newScanProcessCommand(ctx *commandContext) *cobra.Command {
	var scanID string
	var noWait bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "process <user-id> <date>",
		Short: "Run or resume the pipeline for a scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				resp, err := scans.Process(cmd.Context(), args[0], args[1], scanID, !noWait)
				if err != nil {
					return describeError(err)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Outcome == nil {
					fmt.Fprintf(out, "Pipeline accepted %s; check progress with `scanpipe scan show %s %s`\n", resp.Key, args[0], args[1])
					return nil
				}
				renderOutcome(out, *resp.Outcome)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scanID, "scan-id", "", "Scan id to process (defaults to the authoritative scan)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the daemon accepts the run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newScanShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <user-id> <date>",
		Short: "Show a scan and its field groups",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				sc, err := scans.Get(cmd.Context(), args[0], args[1])
				if err != nil {
					return describeError(err)
				}
				if asJSON {
					return writeJSON(cmd, sc)
				}
				renderScan(cmd.OutOrStdout(), *sc)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newScanListCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var statuses []string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				items, err := scans.List(cmd.Context(), userID, statuses, limit)
				if err != nil {
					return describeError(err)
				}
				if asJSON {
					if items == nil {
						items = []api.Scan{}
					}
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No scans found")
					return nil
				}
				fmt.Fprint(out, tableSpec{
					Headers:      []string{"User", "Date", "Status", "Body Fat", "Trend", "Updated"},
					Rows:         scanRows(items),
					Aligns:       []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					StatusColumn: 2,
					Colorize:     shouldColorize(out),
				}.render())
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only scans for this user")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of scans")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newScanRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <user-id> <date>",
		Short: "Reset a failed scan and run it again from its last completed stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				sc, err := scans.Retry(cmd.Context(), args[0], args[1])
				if err != nil {
					return describeError(err)
				}
				out := cmd.OutOrStdout()
				if scans.Remote() {
					fmt.Fprintf(out, "Retry submitted for %s %s\n", sc.UserID, sc.Date)
					return nil
				}
				fmt.Fprintf(out, "Retried %s %s: %s\n", sc.UserID, sc.Date, sc.Status)
				return nil
			})
		},
	}
}

func newScanCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <user-id> <date>",
		Short: "Cancel a running or pending scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				if err := scans.Cancel(cmd.Context(), args[0], args[1]); err != nil {
					return describeError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newScanAttemptsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "attempts <user-id> <date>",
		Short: "Show the stage attempt log for a scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withScans(cmd, func(scans scanAPI) error {
				resp, err := scans.Attempts(cmd.Context(), args[0], args[1])
				if err != nil {
					return describeError(err)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Attempts) == 0 {
					fmt.Fprintln(out, "No attempts recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Attempts))
				for _, a := range resp.Attempts {
					backoff := ""
					if a.BackoffMs > 0 {
						backoff = strconv.FormatInt(a.BackoffMs, 10) + "ms"
					}
					rows = append(rows, []string{a.Stage, strconv.Itoa(a.Attempt), a.Outcome, a.ErrorKind, backoff, a.Message})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Stage", "#", "Outcome", "Kind", "Backoff", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func scanRows(items []api.Scan) [][]string {
	rows := make([][]string, 0, len(items))
	for _, sc := range items {
		bodyFat, trend := "", ""
		if sc.Estimate != nil {
			bodyFat = strconv.FormatFloat(sc.Estimate.BodyFatPercent, 'f', 1, 64) + "%"
		}
		if sc.Deltas != nil {
			trend = string(sc.Deltas.Trend)
		}
		rows = append(rows, []string{sc.UserID, sc.Date, sc.Status, bodyFat, trend, sc.UpdatedAt})
	}
	return rows
}

func renderOutcome(out io.Writer, o api.Outcome) {
	fmt.Fprintf(out, "Instance: %s\n", o.Key)
	fmt.Fprintf(out, "Status:   %s\n", o.Status)
	if o.Degraded {
		fmt.Fprintln(out, "Insight:  template fallback (degraded)")
	}
	if o.FailedStage != "" {
		fmt.Fprintf(out, "Failed:   %s\n", o.FailedStage)
	}
	if o.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", o.Reason)
	}
	if o.Hint != "" {
		fmt.Fprintf(out, "Hint:     %s\n", o.Hint)
	}
	if o.Scan != nil && o.Scan.Insight != nil {
		fmt.Fprintf(out, "\n%s\n", o.Scan.Insight.Text)
	}
}

func renderScan(out io.Writer, sc api.Scan) {
	fmt.Fprintf(out, "Scan %s\n", sc.ID)
	fmt.Fprintf(out, "  User:          %s\n", sc.UserID)
	fmt.Fprintf(out, "  Date:          %s\n", sc.Date)
	fmt.Fprintf(out, "  Status:        %s\n", sc.Status)
	fmt.Fprintf(out, "  Authoritative: %s\n", yesNo(sc.Authoritative))
	if sc.FailedStage != "" {
		fmt.Fprintf(out, "  Failed stage:  %s (%s)\n", sc.FailedStage, sc.ErrorKind)
		fmt.Fprintf(out, "  Reason:        %s\n", sc.FailureReason)
	}

	angles := make([]string, 0, len(sc.AngleURLs))
	for name := range sc.AngleURLs {
		angles = append(angles, name)
	}
	sort.Strings(angles)
	fmt.Fprintln(out, "  Angles:")
	for _, name := range angles {
		fmt.Fprintf(out, "    %-6s %s\n", name, sc.AngleURLs[name])
	}

	fmt.Fprintln(out, "  Field groups:")
	fmt.Fprintf(out, "    qc:        %s\n", groupState(sc.QC != nil, qcDetail(sc)))
	fmt.Fprintf(out, "    estimate:  %s\n", groupState(sc.Estimate != nil, estimateDetail(sc)))
	fmt.Fprintf(out, "    context:   %s\n", groupState(sc.Context != nil, ""))
	fmt.Fprintf(out, "    deltas:    %s\n", groupState(sc.Deltas != nil, deltasDetail(sc)))
	fmt.Fprintf(out, "    insight:   %s\n", groupState(sc.Insight != nil, insightDetail(sc)))
	fmt.Fprintf(out, "    published: %s\n", groupState(sc.PublishedView != nil, ""))
	if sc.Insight != nil {
		fmt.Fprintf(out, "\n%s\n", sc.Insight.Text)
	}
}

func groupState(present bool, detail string) string {
	if !present {
		return "-"
	}
	if detail == "" {
		return "present"
	}
	return detail
}

func qcDetail(sc api.Scan) string {
	if sc.QC == nil {
		return ""
	}
	if sc.QC.Passed {
		return "passed"
	}
	return "failed: " + strings.Join(sc.QC.Reasons, "; ")
}

func estimateDetail(sc api.Scan) string {
	if sc.Estimate == nil {
		return ""
	}
	return fmt.Sprintf("%.1f%% bf, %.1f kg lean, %.1f kg (confidence %.2f)",
		sc.Estimate.BodyFatPercent, sc.Estimate.LeanMassKg, sc.Estimate.WeightKg, sc.Estimate.Confidence)
}

func deltasDetail(sc api.Scan) string {
	if sc.Deltas == nil {
		return ""
	}
	if sc.Deltas.Baseline {
		return fmt.Sprintf("baseline, streak %d", sc.Deltas.Streak)
	}
	return fmt.Sprintf("trend %s vs %s, streak %d", sc.Deltas.Trend, sc.Deltas.PriorDate, sc.Deltas.Streak)
}

func insightDetail(sc api.Scan) string {
	if sc.Insight == nil {
		return ""
	}
	if sc.Insight.Degraded {
		return string(sc.Insight.Source) + " (degraded)"
	}
	return string(sc.Insight.Source)
}

// describeError appends the operator hint from the daemon or the local
// error classification.
func describeError(err error) error {
	hint := ""
	var apiErr *daemonctl.APIError
	var svcErr *services.Error
	switch {
	case errors.As(err, &apiErr):
		hint = apiErr.Hint
	case errors.As(err, &svcErr):
		hint = services.Details(err).Hint
	}
	if hint == "" {
		return err
	}
	return fmt.Errorf("%w\nhint: %s", err, hint)
}
