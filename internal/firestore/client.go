package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"scanpipe/internal/config"
	"scanpipe/internal/scan"
)

// Client is the typed Firestore backend. It implements scan.Repository over
// users/{uid}/scans/{scanId}, users/{uid}/day_logs/{date}, the profile field
// on users/{uid}, and the top-level scan_attempts collection.
type Client struct {
	fs  *firestore.Client
	now func() time.Time
}

var _ scan.Repository = (*Client)(nil)

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects using the store section of the config.
func Open(ctx context.Context, cfg *config.Config) (*Client, error) {
	projectID := strings.TrimSpace(cfg.Store.ProjectID)
	if projectID == "" {
		return nil, errors.New("firestore backend requires store.project_id")
	}
	var opts []option.ClientOption
	if cfg.Store.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Store.CredentialsFile))
	}
	fsClient, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	return NewClient(fsClient), nil
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// UserScans are sub-collections of Users: users/{uid}/scans/{scanId}
func (c *Client) UserScans(userID string) *Collection[scan.Scan] {
	return &Collection[scan.Scan]{
		Ref:           c.fs.Collection("users").Doc(userID).Collection("scans"),
		ToFirestore:   ScanToFirestore,
		FromFirestore: FirestoreToScan,
	}
}

// DayLogs are sub-collections of Users: users/{uid}/day_logs/{date}
func (c *Client) DayLogs(userID string) *Collection[scan.DayLog] {
	return &Collection[scan.DayLog]{
		Ref:           c.fs.Collection("users").Doc(userID).Collection("day_logs"),
		ToFirestore:   DayLogToFirestore,
		FromFirestore: FirestoreToDayLog,
	}
}

func (c *Client) Users() *Collection[scan.Profile] {
	return &Collection[scan.Profile]{
		Ref:           c.fs.Collection("users"),
		ToFirestore:   ProfileToFirestore,
		FromFirestore: FirestoreToProfile,
	}
}

// AttemptLog is a top-level collection: scan_attempts/{autoId}
func (c *Client) AttemptLog() *Collection[scan.Attempt] {
	return &Collection[scan.Attempt]{
		Ref:           c.fs.Collection("scan_attempts"),
		ToFirestore:   AttemptToFirestore,
		FromFirestore: FirestoreToAttempt,
	}
}

// allScans queries every user's scans sub-collection.
func (c *Client) allScans() firestore.Query {
	return c.fs.CollectionGroup("scans").Query
}
