package scanstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scanpipe/internal/scan"
)

// Create inserts a new authoritative scan in status created. When the current
// authoritative scan for the same (user, date) ended in failed or qc_failed it
// is demoted first; any other existing scan is returned together with
// scan.ErrAuthoritativeExists.
func (s *Store) Create(ctx context.Context, sc *scan.Scan) (*scan.Scan, error) {
	if sc == nil {
		return nil, errors.New("scan is nil")
	}
	if err := sc.Key().Validate(); err != nil {
		return nil, err
	}
	if len(sc.AngleURLs) == 0 {
		return nil, errors.New("angle urls are required")
	}

	id := strings.TrimSpace(sc.ID)
	if id == "" {
		id = uuid.NewString()
	}
	angles, err := json.Marshal(sc.AngleURLs)
	if err != nil {
		return nil, fmt.Errorf("marshal angle urls: %w", err)
	}
	timestamp := formatTime(s.now())

	var existing *scan.Scan
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		existing = nil
		row := tx.QueryRowContext(ctx,
			`SELECT `+scanColumns+` FROM scans WHERE user_id = ? AND scan_date = ? AND authoritative = 1`,
			sc.UserID, sc.Date,
		)
		current, err := scanRow(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lookup authoritative scan: %w", err)
		case !scan.Retakeable(current.Status):
			existing = current
			return scan.ErrAuthoritativeExists
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE scans SET authoritative = 0, updated_at = ? WHERE id = ?`,
				timestamp, current.ID,
			); err != nil {
				return fmt.Errorf("demote scan %s: %w", current.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scans (id, user_id, scan_date, angle_urls_json, status, authoritative, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			id, sc.UserID, sc.Date, string(angles), scan.StatusCreated, timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		return nil
	})
	if errors.Is(err, scan.ErrAuthoritativeExists) {
		return existing, err
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Get returns the authoritative scan for (userID, date).
func (s *Store) Get(ctx context.Context, userID, date string) (*scan.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE user_id = ? AND scan_date = ? AND authoritative = 1`,
		userID, date,
	)
	sc, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return sc, nil
}

// GetByID fetches a scan by identifier, including demoted scans.
func (s *Store) GetByID(ctx context.Context, id string) (*scan.Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan by id: %w", err)
	}
	return sc, nil
}

// UpdateFields applies a single-field-group patch in one statement. Present
// field groups are kept, so a repeated stage write is a no-op for its group.
// Terminal scans are immutable except for a failed scan whose failure is
// being cleared for a retry.
func (s *Store) UpdateFields(ctx context.Context, id string, patch scan.Patch) (*scan.Scan, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return s.GetByID(ctx, id)
	}

	qc, err := encodeGroup(patch.QC)
	if err != nil {
		return nil, fmt.Errorf("encode qc: %w", err)
	}
	estimate, err := encodeGroup(patch.Estimate)
	if err != nil {
		return nil, fmt.Errorf("encode estimate: %w", err)
	}
	boundContext, err := encodeGroup(patch.Context)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	deltas, err := encodeGroup(patch.Deltas)
	if err != nil {
		return nil, fmt.Errorf("encode deltas: %w", err)
	}
	insight, err := encodeGroup(patch.Insight)
	if err != nil {
		return nil, fmt.Errorf("encode insight: %w", err)
	}
	view, err := encodeGroup(patch.PublishedView)
	if err != nil {
		return nil, fmt.Errorf("encode published view: %w", err)
	}

	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	var failedStage, failureReason, errorKind any
	if patch.Failure != nil {
		failedStage = nullableString(string(patch.Failure.Stage))
		failureReason = nullableString(patch.Failure.Reason)
		errorKind = nullableString(patch.Failure.Kind)
	}
	clearFailure := boolToInt(patch.ClearFailure)
	terminalIn, terminalStatuses := terminalArgs()

	args := []any{
		qc, estimate, boundContext, deltas, insight, view,
		status,
		clearFailure, failedStage,
		clearFailure, failureReason,
		clearFailure, errorKind,
		formatTime(s.now()),
		id,
		clearFailure, scan.StatusFailed,
	}
	args = append(args, terminalStatuses...)

	res, err := s.execWithRetry(ctx,
		`UPDATE scans SET
             qc_json = COALESCE(qc_json, ?),
             estimate_json = COALESCE(estimate_json, ?),
             context_json = COALESCE(context_json, ?),
             deltas_json = COALESCE(deltas_json, ?),
             insight_json = COALESCE(insight_json, ?),
             published_view_json = COALESCE(published_view_json, ?),
             status = COALESCE(?, status),
             failed_stage = CASE WHEN ? = 1 THEN NULL ELSE COALESCE(?, failed_stage) END,
             failure_reason = CASE WHEN ? = 1 THEN NULL ELSE COALESCE(?, failure_reason) END,
             error_kind = CASE WHEN ? = 1 THEN NULL ELSE COALESCE(?, error_kind) END,
             updated_at = ?
         WHERE id = ? AND ((? = 1 AND status = ?) OR status NOT IN (`+terminalIn+`))`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update scan %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update scan %s: %w", id, err)
	}

	updated, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: %s", scan.ErrScanNotFound, id)
	}
	if affected == 0 {
		return updated, fmt.Errorf("%w: scan %s is %s", scan.ErrTerminal, id, updated.Status)
	}
	return updated, nil
}

// List returns scans matching the filter, newest date first.
func (s *Store) List(ctx context.Context, filter scan.ListFilter) ([]*scan.Scan, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query := `SELECT ` + scanColumns + ` FROM scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scan_date DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryScans(ctx, query, args...)
}

// CompletedBefore returns completed authoritative scans for userID dated in
// [since, date), newest first. Same-date rows are ordered by most recent update.
func (s *Store) CompletedBefore(ctx context.Context, userID, date, since string) ([]*scan.Scan, error) {
	return s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans
         WHERE user_id = ? AND status = ? AND authoritative = 1 AND scan_date < ? AND scan_date >= ?
         ORDER BY scan_date DESC, updated_at DESC`,
		userID, scan.StatusCompleted, date, since,
	)
}

// LatestCompletedBefore returns the newest completed authoritative scan dated
// before date, or nil.
func (s *Store) LatestCompletedBefore(ctx context.Context, userID, date string) (*scan.Scan, error) {
	scans, err := s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans
         WHERE user_id = ? AND status = ? AND authoritative = 1 AND scan_date < ?
         ORDER BY scan_date DESC, updated_at DESC
         LIMIT 1`,
		userID, scan.StatusCompleted, date,
	)
	if err != nil || len(scans) == 0 {
		return nil, err
	}
	return scans[0], nil
}

func (s *Store) queryScans(ctx context.Context, query string, args ...any) ([]*scan.Scan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var scans []*scan.Scan
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}
