package api

import (
	"slices"
	"strings"
	"time"

	"scanpipe/internal/pipeline"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// FromScan converts a scan record to its API representation.
func FromScan(sc *scan.Scan) Scan {
	if sc == nil {
		return Scan{}
	}
	dto := Scan{
		ID:            sc.ID,
		UserID:        sc.UserID,
		Date:          sc.Date,
		Status:        string(sc.Status),
		Authoritative: sc.Authoritative,
		AngleURLs:     sc.AngleURLs,
		QC:            sc.QC,
		Estimate:      sc.Estimate,
		Context:       sc.Context,
		Deltas:        sc.Deltas,
		Insight:       sc.Insight,
		PublishedView: sc.PublishedView,
		FailedStage:   string(sc.FailedStage),
		FailureReason: sc.FailureReason,
		ErrorKind:     sc.ErrorKind,
		RunOwner:      sc.RunOwner,
		CreatedAt:     FormatTime(sc.CreatedAt),
		UpdatedAt:     FormatTime(sc.UpdatedAt),
	}
	if sc.LastHeartbeat != nil {
		dto.LastHeartbeat = FormatTime(*sc.LastHeartbeat)
	}
	return dto
}

// FromScans converts a slice of scan records.
func FromScans(scans []*scan.Scan) []Scan {
	out := make([]Scan, 0, len(scans))
	for _, sc := range scans {
		if sc == nil {
			continue
		}
		out = append(out, FromScan(sc))
	}
	return out
}

// FromAttempts converts audit trail rows.
func FromAttempts(attempts []scan.Attempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, Attempt{
			Stage:      string(a.Stage),
			Attempt:    a.Attempt,
			Outcome:    a.Outcome,
			ErrorKind:  a.ErrorKind,
			Message:    a.Message,
			BackoffMs:  a.Backoff.Milliseconds(),
			StartedAt:  FormatTime(a.StartedAt),
			FinishedAt: FormatTime(a.FinishedAt),
		})
	}
	return out
}

// FromOutcome converts a pipeline outcome.
func FromOutcome(out pipeline.Outcome) Outcome {
	dto := Outcome{
		Key:         out.Key,
		Status:      string(out.Status),
		Completed:   out.Completed(),
		Degraded:    out.Degraded,
		FailedStage: string(out.FailedStage),
		Reason:      out.Reason,
		ErrorKind:   string(out.ErrorKind),
	}
	if out.Err != nil {
		dto.Hint = services.Details(out.Err).Hint
	}
	if out.Scan != nil {
		sc := FromScan(out.Scan)
		dto.Scan = &sc
	}
	return dto
}

// FromStatusSummary converts orchestrator diagnostics.
func FromStatusSummary(summary pipeline.StatusSummary) PipelineStatus {
	status := PipelineStatus{
		Running:     summary.Running,
		Owner:       summary.Owner,
		InFlight:    summary.InFlight,
		ScanStats:   FromStats(summary.Stats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if status.InFlight == nil {
		status.InFlight = []string{}
	}
	if summary.LastScan != nil {
		sc := FromScan(summary.LastScan)
		status.LastScan = &sc
	}
	return status
}

// FromStats flattens scan counts into a keyed map.
func FromStats(stats scan.Stats) map[string]int {
	return map[string]int{
		"total":       stats.Total,
		"pending":     stats.Pending,
		"in_progress": stats.InProgress,
		"completed":   stats.Completed,
		"rejected":    stats.Rejected,
		"failed":      stats.Failed,
	}
}

// StageHealthSlice orders stage health by pipeline position. Names that are
// not pipeline stages follow in lexical order.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	order := make(map[string]int, len(scan.Stages()))
	for i, st := range scan.Stages() {
		order[string(st)] = i
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, oka := order[a]
		ib, okb := order[b]
		switch {
		case oka && okb:
			return ia - ib
		case oka:
			return -1
		case okb:
			return 1
		}
		return strings.Compare(a, b)
	})

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
