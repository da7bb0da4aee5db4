package scanstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scanpipe/internal/scan"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const scanColumns = "id, user_id, scan_date, angle_urls_json, qc_json, estimate_json, context_json, deltas_json, insight_json, published_view_json, status, failed_stage, failure_reason, error_kind, authoritative, run_owner, last_heartbeat, created_at, updated_at"

func scanRow(scanner interface{ Scan(dest ...any) error }) (*scan.Scan, error) {
	var (
		id               string
		userID           string
		scanDate         string
		angleURLs        string
		qcRaw            sql.NullString
		estimateRaw      sql.NullString
		contextRaw       sql.NullString
		deltasRaw        sql.NullString
		insightRaw       sql.NullString
		viewRaw          sql.NullString
		statusStr        string
		failedStage      sql.NullString
		failureReason    sql.NullString
		errorKind        sql.NullString
		authoritative    int
		runOwner         sql.NullString
		lastHeartbeatRaw sql.NullString
		createdRaw       string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&scanDate,
		&angleURLs,
		&qcRaw,
		&estimateRaw,
		&contextRaw,
		&deltasRaw,
		&insightRaw,
		&viewRaw,
		&statusStr,
		&failedStage,
		&failureReason,
		&errorKind,
		&authoritative,
		&runOwner,
		&lastHeartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	sc := &scan.Scan{
		ID:            id,
		UserID:        userID,
		Date:          scanDate,
		Status:        scan.Status(statusStr),
		FailedStage:   scan.Stage(failedStage.String),
		FailureReason: failureReason.String,
		ErrorKind:     errorKind.String,
		Authoritative: authoritative != 0,
		RunOwner:      runOwner.String,
	}
	if err := json.Unmarshal([]byte(angleURLs), &sc.AngleURLs); err != nil {
		return nil, fmt.Errorf("decode angle urls for %s: %w", id, err)
	}

	var err error
	if sc.QC, err = decodeGroup[scan.QCResult](qcRaw); err != nil {
		return nil, fmt.Errorf("decode qc for %s: %w", id, err)
	}
	if sc.Estimate, err = decodeGroup[scan.BodyEstimate](estimateRaw); err != nil {
		return nil, fmt.Errorf("decode estimate for %s: %w", id, err)
	}
	if sc.Context, err = decodeGroup[scan.BoundContext](contextRaw); err != nil {
		return nil, fmt.Errorf("decode context for %s: %w", id, err)
	}
	if sc.Deltas, err = decodeGroup[scan.DeltaComparison](deltasRaw); err != nil {
		return nil, fmt.Errorf("decode deltas for %s: %w", id, err)
	}
	if sc.Insight, err = decodeGroup[scan.InsightData](insightRaw); err != nil {
		return nil, fmt.Errorf("decode insight for %s: %w", id, err)
	}
	if sc.PublishedView, err = decodeGroup[scan.PublishedView](viewRaw); err != nil {
		return nil, fmt.Errorf("decode published view for %s: %w", id, err)
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		sc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sc.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			sc.LastHeartbeat = &heartbeat
		}
	}
	return sc, nil
}

func decodeGroup[T any](raw sql.NullString) (*T, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeGroup[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// terminalArgs expands the terminal statuses for NOT IN clauses.
func terminalArgs() (string, []any) {
	statuses := []scan.Status{scan.StatusCompleted, scan.StatusFailed, scan.StatusQCFailed}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return makePlaceholders(len(statuses)), args
}
