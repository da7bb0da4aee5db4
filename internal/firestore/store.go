package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"scanpipe/internal/scan"
)

func nonTerminalStatuses() []string {
	var out []string
	for _, status := range scan.AllStatuses() {
		if !status.IsTerminal() {
			out = append(out, string(status))
		}
	}
	return out
}

// Create inserts a new authoritative scan, demoting a failed or rejected
// predecessor in the same transaction.
func (c *Client) Create(ctx context.Context, sc *scan.Scan) (*scan.Scan, error) {
	if sc == nil {
		return nil, errors.New("scan is nil")
	}
	if err := sc.Key().Validate(); err != nil {
		return nil, err
	}
	if len(sc.AngleURLs) == 0 {
		return nil, errors.New("angle urls are required")
	}

	now := c.now()
	record := &scan.Scan{
		ID:            strings.TrimSpace(sc.ID),
		UserID:        sc.UserID,
		Date:          sc.Date,
		AngleURLs:     sc.AngleURLs,
		Status:        scan.StatusCreated,
		Authoritative: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	col := c.UserScans(sc.UserID)

	var existing *scan.Scan
	err := c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing = nil
		q := col.Ref.Where("date", "==", sc.Date).Where("authoritative", "==", true)
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return fmt.Errorf("lookup authoritative scan: %w", err)
		}
		for _, snap := range snaps {
			current, err := FirestoreToScan(snap.Data())
			if err != nil {
				return err
			}
			if !scan.Retakeable(current.Status) {
				existing = current
				return scan.ErrAuthoritativeExists
			}
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "authoritative", Value: false},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return fmt.Errorf("demote scan %s: %w", current.ID, err)
			}
		}
		return tx.Create(col.Doc(record.ID).Ref, ScanToFirestore(record))
	})
	if errors.Is(err, scan.ErrAuthoritativeExists) {
		return existing, scan.ErrAuthoritativeExists
	}
	if err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	return record, nil
}

// Get returns the authoritative scan for (userID, date).
func (c *Client) Get(ctx context.Context, userID, date string) (*scan.Scan, error) {
	col := c.UserScans(userID)
	scans, err := col.All(ctx, col.Ref.Where("date", "==", date).Where("authoritative", "==", true).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return scans[0], nil
}

// GetByID finds a scan across all users.
func (c *Client) GetByID(ctx context.Context, id string) (*scan.Scan, error) {
	_, sc, err := c.findScan(ctx, id)
	return sc, err
}

func (c *Client) findScan(ctx context.Context, id string) (*firestore.DocumentRef, *scan.Scan, error) {
	snaps, err := c.allScans().Where("id", "==", id).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, nil, fmt.Errorf("get scan by id: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil, nil
	}
	sc, err := FirestoreToScan(snaps[0].Data())
	if err != nil {
		return nil, nil, err
	}
	return snaps[0].Ref, sc, nil
}

// UpdateFields reads the scan and writes only the fields the patch touches
// inside one transaction, so the patch, including a published view with its
// completed status, lands atomically. Fields this package does not model are
// left alone.
func (c *Client) UpdateFields(ctx context.Context, id string, patch scan.Patch) (*scan.Scan, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	ref, current, err := c.findScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", scan.ErrScanNotFound, id)
	}
	if patch.IsEmpty() {
		return current, nil
	}

	var updated *scan.Scan
	err = c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		cur, err := FirestoreToScan(snap.Data())
		if err != nil {
			return err
		}
		if cur.IsTerminal() && !(patch.ClearFailure && cur.Status == scan.StatusFailed) {
			updated = cur
			return fmt.Errorf("%w: scan %s is %s", scan.ErrTerminal, id, cur.Status)
		}
		next := patch.Apply(cur)
		next.UpdatedAt = c.now()
		updated = next
		return tx.Update(ref, scanUpdates(cur, patch, next.UpdatedAt))
	})
	if errors.Is(err, scan.ErrTerminal) {
		return updated, err
	}
	if err != nil {
		return nil, fmt.Errorf("update scan %s: %w", id, err)
	}
	return updated, nil
}

// scanUpdates lists the document paths a patch writes. Payload groups are
// write-once: a group already on the document is skipped.
func scanUpdates(cur *scan.Scan, patch scan.Patch, now time.Time) []firestore.Update {
	var updates []firestore.Update
	group := func(path string, present bool, value any) {
		if !present {
			updates = append(updates, firestore.Update{Path: path, Value: toMap(value)})
		}
	}
	if patch.QC != nil {
		group("qc", cur.QC != nil, patch.QC)
	}
	if patch.Estimate != nil {
		group("estimate", cur.Estimate != nil, patch.Estimate)
	}
	if patch.Context != nil {
		group("context", cur.Context != nil, patch.Context)
	}
	if patch.Deltas != nil {
		group("deltas", cur.Deltas != nil, patch.Deltas)
	}
	if patch.Insight != nil {
		group("insight", cur.Insight != nil, patch.Insight)
	}
	if patch.PublishedView != nil {
		group("published_view", cur.PublishedView != nil, patch.PublishedView)
	}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	switch {
	case patch.Failure != nil:
		updates = append(updates,
			failureUpdate("failed_stage", string(patch.Failure.Stage)),
			failureUpdate("failure_reason", patch.Failure.Reason),
			failureUpdate("error_kind", patch.Failure.Kind),
		)
	case patch.ClearFailure:
		updates = append(updates,
			firestore.Update{Path: "failed_stage", Value: firestore.Delete},
			firestore.Update{Path: "failure_reason", Value: firestore.Delete},
			firestore.Update{Path: "error_kind", Value: firestore.Delete},
		)
	}
	return append(updates, firestore.Update{Path: "updated_at", Value: now})
}

// failureUpdate mirrors ScanToFirestore, which omits empty failure fields.
func failureUpdate(path, value string) firestore.Update {
	if value == "" {
		return firestore.Update{Path: path, Value: firestore.Delete}
	}
	return firestore.Update{Path: path, Value: value}
}

// List returns scans matching the filter, newest date first.
func (c *Client) List(ctx context.Context, filter scan.ListFilter) ([]*scan.Scan, error) {
	q := c.allScans()
	if filter.UserID != "" {
		q = c.UserScans(filter.UserID).Ref.Query
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		q = q.Where("status", "in", statuses)
	}
	q = q.OrderBy("date", firestore.Desc).OrderBy("created_at", firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	scans, err := collect(ctx, q, FirestoreToScan)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return scans, nil
}

// CompletedBefore returns completed authoritative scans dated in [since, date), newest first.
func (c *Client) CompletedBefore(ctx context.Context, userID, date, since string) ([]*scan.Scan, error) {
	col := c.UserScans(userID)
	q := col.Ref.
		Where("status", "==", string(scan.StatusCompleted)).
		Where("authoritative", "==", true).
		Where("date", "<", date).
		Where("date", ">=", since).
		OrderBy("date", firestore.Desc).
		OrderBy("updated_at", firestore.Desc)
	scans, err := col.All(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("completed scans: %w", err)
	}
	return scans, nil
}

// LatestCompletedBefore returns the newest completed authoritative scan dated before date, or nil.
func (c *Client) LatestCompletedBefore(ctx context.Context, userID, date string) (*scan.Scan, error) {
	col := c.UserScans(userID)
	q := col.Ref.
		Where("status", "==", string(scan.StatusCompleted)).
		Where("authoritative", "==", true).
		Where("date", "<", date).
		OrderBy("date", firestore.Desc).
		OrderBy("updated_at", firestore.Desc).
		Limit(1)
	scans, err := col.All(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("latest completed scan: %w", err)
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return scans[0], nil
}

// Stats counts authoritative scans per lifecycle bucket.
func (c *Client) Stats(ctx context.Context) (scan.Stats, error) {
	scans, err := collect(ctx, c.allScans().Where("authoritative", "==", true), FirestoreToScan)
	if err != nil {
		return scan.Stats{}, fmt.Errorf("scan stats: %w", err)
	}
	var stats scan.Stats
	for _, sc := range scans {
		stats.Total++
		switch sc.Status {
		case scan.StatusCreated:
			stats.Pending++
		case scan.StatusCompleted:
			stats.Completed++
		case scan.StatusFailed:
			stats.Failed++
		case scan.StatusQCFailed:
			stats.Rejected++
		default:
			stats.InProgress++
		}
	}
	return stats, nil
}

// Claim takes the run lease when it is free, already ours, or stale.
func (c *Client) Claim(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error) {
	ref, current, err := c.findScan(ctx, id)
	if err != nil || current == nil {
		return false, err
	}
	claimed := false
	err = c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		cur, err := FirestoreToScan(snap.Data())
		if err != nil {
			return err
		}
		if cur.IsTerminal() {
			return nil
		}
		free := cur.RunOwner == "" || cur.RunOwner == owner ||
			cur.LastHeartbeat == nil || cur.LastHeartbeat.Before(staleBefore)
		if !free {
			return nil
		}
		now := c.now()
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "run_owner", Value: owner},
			{Path: "last_heartbeat", Value: now},
			{Path: "updated_at", Value: now},
		})
	})
	if err != nil {
		return false, fmt.Errorf("claim scan %s: %w", id, err)
	}
	return claimed, nil
}

// Heartbeat refreshes the lease held by owner.
func (c *Client) Heartbeat(ctx context.Context, id, owner string) error {
	ref, current, err := c.findScan(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s", scan.ErrScanNotFound, id)
	}
	return c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if getString(snap.Data(), "run_owner") != owner {
			return fmt.Errorf("%w: scan %s", scan.ErrLeaseLost, id)
		}
		return tx.Update(ref, []firestore.Update{{Path: "last_heartbeat", Value: c.now()}})
	})
}

// Release drops the lease if owner still holds it.
func (c *Client) Release(ctx context.Context, id, owner string) error {
	ref, current, err := c.findScan(ctx, id)
	if err != nil || current == nil {
		return err
	}
	return c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if getString(snap.Data(), "run_owner") != owner {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "run_owner", Value: firestore.Delete},
			{Path: "last_heartbeat", Value: firestore.Delete},
		})
	})
}

// Runnable lists non-terminal authoritative scans without a live lease, oldest first.
func (c *Client) Runnable(ctx context.Context, staleBefore time.Time, limit int) ([]*scan.Scan, error) {
	if limit <= 0 {
		limit = 1
	}
	q := c.allScans().
		Where("authoritative", "==", true).
		Where("status", "in", nonTerminalStatuses())
	scans, err := collect(ctx, q, FirestoreToScan)
	if err != nil {
		return nil, fmt.Errorf("runnable scans: %w", err)
	}
	var out []*scan.Scan
	for _, sc := range scans {
		if sc.RunOwner == "" || sc.LastHeartbeat == nil || sc.LastHeartbeat.Before(staleBefore) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetDayLog returns the day log for (userID, date), or nil.
func (c *Client) GetDayLog(ctx context.Context, userID, date string) (*scan.DayLog, error) {
	log, err := c.DayLogs(userID).Doc(date).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get day log: %w", err)
	}
	return log, nil
}

// GetUserProfile returns the profile stored on the user document, or nil.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*scan.Profile, error) {
	profile, err := c.Users().Doc(userID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

func (c *Client) PutDayLog(ctx context.Context, log *scan.DayLog) error {
	if log == nil {
		return errors.New("day log is nil")
	}
	if err := (scan.Key{UserID: log.UserID, Date: log.Date}).Validate(); err != nil {
		return err
	}
	stored := *log
	stored.UpdatedAt = c.now()
	return c.DayLogs(log.UserID).Doc(log.Date).Set(ctx, &stored)
}

func (c *Client) PutUserProfile(ctx context.Context, profile *scan.Profile) error {
	if profile == nil || strings.TrimSpace(profile.UserID) == "" {
		return errors.New("profile requires a userId")
	}
	stored := *profile
	stored.UpdatedAt = c.now()
	return c.Users().Doc(profile.UserID).Set(ctx, &stored)
}

func (c *Client) RecordAttempt(ctx context.Context, attempt scan.Attempt) error {
	if err := c.AttemptLog().NewDoc().Set(ctx, &attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (c *Client) Attempts(ctx context.Context, scanID string) ([]scan.Attempt, error) {
	col := c.AttemptLog()
	records, err := col.All(ctx, col.Ref.Where("scan_id", "==", scanID).OrderBy("started_at", firestore.Asc))
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	out := make([]scan.Attempt, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	return out, nil
}
