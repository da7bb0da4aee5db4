package scanstore

import (
	"context"
	"fmt"
	"time"

	"scanpipe/internal/scan"
)

// Claim takes the run lease for a non-terminal scan when nobody holds it, the
// caller already holds it, or the holder's heartbeat is older than staleBefore.
func (s *Store) Claim(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error) {
	now := formatTime(s.now())
	terminalIn, terminalStatuses := terminalArgs()
	args := []any{owner, now, now, id, owner, formatTime(staleBefore)}
	args = append(args, terminalStatuses...)

	res, err := s.execWithRetry(ctx,
		`UPDATE scans SET run_owner = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ?
           AND (run_owner IS NULL OR run_owner = ? OR last_heartbeat IS NULL OR last_heartbeat < ?)
           AND status NOT IN (`+terminalIn+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("claim scan %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim scan %s: %w", id, err)
	}
	return affected == 1, nil
}

// Heartbeat refreshes the lease held by owner.
func (s *Store) Heartbeat(ctx context.Context, id, owner string) error {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE scans SET last_heartbeat = ? WHERE id = ? AND run_owner = ?`,
		now, id, owner,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: scan %s", scan.ErrLeaseLost, id)
	}
	return nil
}

// Release drops the lease if owner still holds it.
func (s *Store) Release(ctx context.Context, id, owner string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE scans SET run_owner = NULL, last_heartbeat = NULL WHERE id = ? AND run_owner = ?`,
		id, owner,
	); err != nil {
		return fmt.Errorf("release scan %s: %w", id, err)
	}
	return nil
}

// Runnable lists non-terminal authoritative scans that are unleased or whose
// lease went stale before staleBefore, oldest first.
func (s *Store) Runnable(ctx context.Context, staleBefore time.Time, limit int) ([]*scan.Scan, error) {
	if limit <= 0 {
		limit = 1
	}
	terminalIn, terminalStatuses := terminalArgs()
	args := append([]any{}, terminalStatuses...)
	args = append(args, formatTime(staleBefore), limit)
	return s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans
         WHERE authoritative = 1
           AND status NOT IN (`+terminalIn+`)
           AND (run_owner IS NULL OR last_heartbeat IS NULL OR last_heartbeat < ?)
         ORDER BY created_at ASC
         LIMIT ?`,
		args...,
	)
}
