package scanstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scanpipe/internal/scan"
)

// RecordAttempt appends one stage attempt to the audit trail.
func (s *Store) RecordAttempt(ctx context.Context, attempt scan.Attempt) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO stage_attempts (scan_id, stage, attempt, outcome, error_kind, message, backoff_ms, started_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ScanID,
		string(attempt.Stage),
		attempt.Attempt,
		attempt.Outcome,
		nullableString(attempt.ErrorKind),
		nullableString(attempt.Message),
		attempt.Backoff.Milliseconds(),
		formatTime(attempt.StartedAt),
		formatTime(attempt.FinishedAt),
	); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Attempts lists the audit trail for a scan in recording order.
func (s *Store) Attempts(ctx context.Context, scanID string) ([]scan.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, stage, attempt, outcome, error_kind, message, backoff_ms, started_at, finished_at
         FROM stage_attempts WHERE scan_id = ? ORDER BY id`,
		scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []scan.Attempt
	for rows.Next() {
		var (
			a          scan.Attempt
			stage      string
			errorKind  sql.NullString
			message    sql.NullString
			backoffMS  int64
			startedRaw string
			finished   string
		)
		if err := rows.Scan(&a.ScanID, &stage, &a.Attempt, &a.Outcome, &errorKind, &message, &backoffMS, &startedRaw, &finished); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Stage = scan.Stage(stage)
		a.ErrorKind = errorKind.String
		a.Message = message.String
		a.Backoff = time.Duration(backoffMS) * time.Millisecond
		if t, err := parseTimeString(startedRaw); err == nil {
			a.StartedAt = t
		}
		if t, err := parseTimeString(finished); err == nil {
			a.FinishedAt = t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
