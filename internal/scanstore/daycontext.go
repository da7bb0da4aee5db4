package scanstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scanpipe/internal/scan"
)

// GetDayLog returns the day log for (userID, date), or nil when none was recorded.
func (s *Store) GetDayLog(ctx context.Context, userID, date string) (*scan.DayLog, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM day_logs WHERE user_id = ? AND log_date = ?`,
		userID, date,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get day log: %w", err)
	}
	var log scan.DayLog
	if err := json.Unmarshal([]byte(payload), &log); err != nil {
		return nil, fmt.Errorf("decode day log: %w", err)
	}
	return &log, nil
}

// GetUserProfile returns the profile for userID, or nil when none exists.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*scan.Profile, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var profile scan.Profile
	if err := json.Unmarshal([]byte(payload), &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// PutDayLog inserts or replaces a day log.
func (s *Store) PutDayLog(ctx context.Context, log *scan.DayLog) error {
	if log == nil {
		return errors.New("day log is nil")
	}
	if err := (scan.Key{UserID: log.UserID, Date: log.Date}).Validate(); err != nil {
		return err
	}
	stored := *log
	stored.UpdatedAt = s.now()
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode day log: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO day_logs (user_id, log_date, payload_json, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(user_id, log_date) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`,
		stored.UserID, stored.Date, string(payload), formatTime(stored.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put day log: %w", err)
	}
	return nil
}

// PutUserProfile inserts or replaces a profile.
func (s *Store) PutUserProfile(ctx context.Context, profile *scan.Profile) error {
	if profile == nil || strings.TrimSpace(profile.UserID) == "" {
		return errors.New("profile requires a userId")
	}
	stored := *profile
	stored.UpdatedAt = s.now()
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO profiles (user_id, payload_json, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`,
		stored.UserID, string(payload), formatTime(stored.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}
