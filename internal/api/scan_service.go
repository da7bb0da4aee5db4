package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// ScanStore abstracts the persistence interactions the API needs.
type ScanStore interface {
	Create(ctx context.Context, sc *scan.Scan) (*scan.Scan, error)
	Get(ctx context.Context, userID, date string) (*scan.Scan, error)
	List(ctx context.Context, filter scan.ListFilter) ([]*scan.Scan, error)
	Attempts(ctx context.Context, scanID string) ([]scan.Attempt, error)
}

// ScanService exposes scan operations returning API DTOs.
type ScanService struct {
	store ScanStore
}

// NewScanService constructs a ScanService around the provided store.
func NewScanService(store ScanStore) *ScanService {
	if store == nil {
		return nil
	}
	return &ScanService{store: store}
}

// Create stores a new authoritative scan. When an active scan already owns
// the (user, date) it is returned with existing set and no error.
func (s *ScanService) Create(ctx context.Context, req CreateScanRequest) (Scan, bool, error) {
	if s == nil || s.store == nil {
		return Scan{}, false, services.Wrap(services.ErrConfiguration, "api", "create scan", "scan store unavailable", nil)
	}
	sc, err := buildScan(req)
	if err != nil {
		return Scan{}, false, err
	}
	stored, err := s.store.Create(ctx, sc)
	if errors.Is(err, scan.ErrAuthoritativeExists) && stored != nil {
		return FromScan(stored), true, nil
	}
	if err != nil {
		return Scan{}, false, services.Wrap(services.ErrTransient, "api", "create scan", "store scan", err)
	}
	return FromScan(stored), false, nil
}

// List returns scans matching the filter.
func (s *ScanService) List(ctx context.Context, filter scan.ListFilter) ([]Scan, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	scans, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromScans(scans), nil
}

// Describe fetches the authoritative scan for (user, date).
func (s *ScanService) Describe(ctx context.Context, userID, date string) (*Scan, error) {
	sc, err := s.lookup(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	dto := FromScan(sc)
	return &dto, nil
}

// View returns the published view. It fails closed: nothing is returned
// until the scan completed.
func (s *ScanService) View(ctx context.Context, userID, date string) (*scan.PublishedView, error) {
	sc, err := s.lookup(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if sc.Status != scan.StatusCompleted || sc.PublishedView == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "view", fmt.Sprintf("scan %s is not published (status %s)", sc.Key(), sc.Status), nil)
	}
	view := *sc.PublishedView
	return &view, nil
}

// Attempts returns the stage attempt audit trail for the scan.
func (s *ScanService) Attempts(ctx context.Context, userID, date string) (string, []Attempt, error) {
	sc, err := s.lookup(ctx, userID, date)
	if err != nil {
		return "", nil, err
	}
	attempts, err := s.store.Attempts(ctx, sc.ID)
	if err != nil {
		return "", nil, err
	}
	return sc.ID, FromAttempts(attempts), nil
}

func (s *ScanService) lookup(ctx context.Context, userID, date string) (*scan.Scan, error) {
	if s == nil || s.store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "lookup", "scan store unavailable", nil)
	}
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "api", "lookup", err.Error(), nil)
	}
	sc, err := s.store.Get(ctx, key.UserID, key.Date)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "lookup", fmt.Sprintf("no scan for %s", key), nil)
	}
	return sc, nil
}

func buildScan(req CreateScanRequest) (*scan.Scan, error) {
	key := scan.Key{UserID: strings.TrimSpace(req.UserID), Date: strings.TrimSpace(req.Date)}
	if err := key.Validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "api", "create scan", err.Error(), nil)
	}
	angles := make(map[string]string, len(req.AngleURLs))
	for angle, url := range req.AngleURLs {
		angle = strings.ToLower(strings.TrimSpace(angle))
		url = strings.TrimSpace(url)
		if angle == "" || url == "" {
			continue
		}
		angles[angle] = url
	}
	if len(angles) == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "api", "create scan", "angleUrls must name at least one photo", nil)
	}
	return &scan.Scan{
		ID:        strings.TrimSpace(req.ScanID),
		UserID:    key.UserID,
		Date:      key.Date,
		AngleURLs: angles,
	}, nil
}
