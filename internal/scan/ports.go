package scan

import (
	"context"
	"errors"
	"time"
)

// ErrTerminal is returned when a patch tries to move a terminal scan.
var ErrTerminal = errors.New("scan is in a terminal state")

// ErrAuthoritativeExists is returned by Create when an active authoritative
// scan already exists for the (user, date).
var ErrAuthoritativeExists = errors.New("an active scan already exists for this user and date")

// ErrScanNotFound is returned by writes addressed to an unknown scan.
var ErrScanNotFound = errors.New("scan not found")

// ErrLeaseLost is returned by Heartbeat when another owner holds the run lease.
var ErrLeaseLost = errors.New("run lease lost")

// Retakeable reports whether a new scan may supersede one in this status.
func Retakeable(status Status) bool {
	return status == StatusFailed || status == StatusQCFailed
}

// Store persists scan records. Lookups return (nil, nil) when nothing matches.
type Store interface {
	Create(ctx context.Context, sc *Scan) (*Scan, error)
	Get(ctx context.Context, userID, date string) (*Scan, error)
	GetByID(ctx context.Context, id string) (*Scan, error)
	UpdateFields(ctx context.Context, id string, patch Patch) (*Scan, error)
	List(ctx context.Context, filter ListFilter) ([]*Scan, error)
	Stats(ctx context.Context) (Stats, error)
}

// History answers trend queries over completed scans.
type History interface {
	// CompletedBefore returns completed authoritative scans for the user with
	// date strictly before the given date and on or after since, newest first.
	CompletedBefore(ctx context.Context, userID, date, since string) ([]*Scan, error)
	// LatestCompletedBefore returns the newest completed authoritative scan
	// dated strictly before date, however old, or nil when there is none.
	LatestCompletedBefore(ctx context.Context, userID, date string) (*Scan, error)
}

// DayContext reads what the user logged about the day and their profile.
type DayContext interface {
	GetDayLog(ctx context.Context, userID, date string) (*DayLog, error)
	GetUserProfile(ctx context.Context, userID string) (*Profile, error)
}

// DayContextWriter seeds day logs and profiles.
type DayContextWriter interface {
	PutDayLog(ctx context.Context, log *DayLog) error
	PutUserProfile(ctx context.Context, profile *Profile) error
}

// Leases coordinate pipeline ownership across processes.
type Leases interface {
	// Claim takes the run lease when it is free or its heartbeat is older than staleBefore.
	Claim(ctx context.Context, id, owner string, staleBefore time.Time) (bool, error)
	Heartbeat(ctx context.Context, id, owner string) error
	Release(ctx context.Context, id, owner string) error
	// Runnable lists non-terminal authoritative scans without a live lease.
	Runnable(ctx context.Context, staleBefore time.Time, limit int) ([]*Scan, error)
}

// AttemptLog records the stage attempt audit trail.
type AttemptLog interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
	Attempts(ctx context.Context, scanID string) ([]Attempt, error)
}

// Repository is the full persistence surface a backend provides.
type Repository interface {
	Store
	History
	DayContext
	DayContextWriter
	Leases
	AttemptLog
	Close() error
}
