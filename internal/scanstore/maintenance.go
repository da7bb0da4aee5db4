package scanstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"scanpipe/internal/scan"
)

// DatabaseHealth describes the on-disk state of the scan database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	TotalScans       int
	IntegrityCheck   bool
	Error            string
}

var expectedTables = []string{"scans", "day_logs", "profiles", "stage_attempts"}

// Stats returns scan counts grouped into lifecycle buckets.
func (s *Store) Stats(ctx context.Context) (scan.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM scans WHERE authoritative = 1 GROUP BY status`)
	if err != nil {
		return scan.Stats{}, fmt.Errorf("scan stats: %w", err)
	}
	defer rows.Close()

	var stats scan.Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return scan.Stats{}, err
		}
		stats.Total += count
		switch scan.Status(status) {
		case scan.StatusCreated:
			stats.Pending += count
		case scan.StatusCompleted:
			stats.Completed += count
		case scan.StatusFailed:
			stats.Failed += count
		case scan.StatusQCFailed:
			stats.Rejected += count
		default:
			stats.InProgress += count
		}
	}
	return stats, rows.Err()
}

// CheckHealth returns diagnostic information about the scan database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("scan database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat scan database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("scan database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping scan database: %w", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		health.TablesPresent = append(health.TablesPresent, name)
	}
	if err := rows.Err(); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("iterate tables: %w", err)
	}
	for _, table := range expectedTables {
		if !slices.Contains(health.TablesPresent, table) {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	version, err := userVersion(connCtx, s.db)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.SchemaVersion = version
	if slices.Contains(health.TablesPresent, "scans") {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM scans").Scan(&health.TotalScans); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count scans: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
