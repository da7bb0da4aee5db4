package main

import (
	"context"
	"errors"

	"scanpipe/internal/api"
	"scanpipe/internal/daemonctl"
	"scanpipe/internal/daemonrun"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// scanAPI is what the scan commands need, served either by the daemon over
// HTTP or by an in-process runtime.
type scanAPI interface {
	Create(ctx context.Context, req api.CreateScanRequest) (*api.CreateScanResponse, error)
	Get(ctx context.Context, userID, date string) (*api.Scan, error)
	List(ctx context.Context, userID string, statuses []string, limit int) ([]api.Scan, error)
	Process(ctx context.Context, userID, date, scanID string, wait bool) (*api.ProcessResponse, error)
	Cancel(ctx context.Context, userID, date string) error
	Retry(ctx context.Context, userID, date string) (*api.Scan, error)
	Attempts(ctx context.Context, userID, date string) (*api.AttemptListResponse, error)
	Status(ctx context.Context) (*api.PipelineStatus, error)
	// Remote reports whether calls go to a daemon.
	Remote() bool
	Close() error
}

// --- daemon adapter ---

type daemonScans struct {
	client *daemonctl.Client
}

func (d *daemonScans) Create(ctx context.Context, req api.CreateScanRequest) (*api.CreateScanResponse, error) {
	return d.client.CreateScan(ctx, req)
}

func (d *daemonScans) Get(ctx context.Context, userID, date string) (*api.Scan, error) {
	return d.client.GetScan(ctx, userID, date)
}

func (d *daemonScans) List(ctx context.Context, userID string, statuses []string, limit int) ([]api.Scan, error) {
	return d.client.ListScans(ctx, userID, statuses, limit)
}

func (d *daemonScans) Process(ctx context.Context, userID, date, scanID string, wait bool) (*api.ProcessResponse, error) {
	return d.client.Process(ctx, userID, date, scanID, wait)
}

func (d *daemonScans) Cancel(ctx context.Context, userID, date string) error {
	return d.client.Cancel(ctx, userID, date)
}

func (d *daemonScans) Retry(ctx context.Context, userID, date string) (*api.Scan, error) {
	return d.client.Retry(ctx, userID, date)
}

func (d *daemonScans) Attempts(ctx context.Context, userID, date string) (*api.AttemptListResponse, error) {
	return d.client.Attempts(ctx, userID, date)
}

func (d *daemonScans) Status(ctx context.Context) (*api.PipelineStatus, error) {
	return d.client.Status(ctx)
}

func (d *daemonScans) Remote() bool { return true }

func (d *daemonScans) Close() error { return nil }

// --- in-process adapter ---

// localScans runs the pipeline in this process. Processing always waits:
// a detached run would die with the command.
type localScans struct {
	rt    *daemonrun.Runtime
	scans *api.ScanService
}

func newLocalScans(rt *daemonrun.Runtime) *localScans {
	return &localScans{rt: rt, scans: api.NewScanService(rt.Store)}
}

func (l *localScans) Create(ctx context.Context, req api.CreateScanRequest) (*api.CreateScanResponse, error) {
	created, existing, err := l.scans.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &api.CreateScanResponse{Scan: created, Existing: existing}
	if !req.Process {
		return resp, nil
	}
	if status, ok := scan.ParseStatus(created.Status); ok && status.IsTerminal() {
		return resp, nil
	}
	outcome, err := l.rt.Manager.ProcessScan(ctx, created.UserID, created.Date, created.ID)
	if err != nil {
		return resp, err
	}
	resp.Submitted = true
	if outcome.Scan != nil {
		resp.Scan = api.FromScan(outcome.Scan)
	}
	return resp, nil
}

func (l *localScans) Get(ctx context.Context, userID, date string) (*api.Scan, error) {
	return l.scans.Describe(ctx, userID, date)
}

func (l *localScans) List(ctx context.Context, userID string, statuses []string, limit int) ([]api.Scan, error) {
	filter := scan.ListFilter{UserID: userID, Limit: limit}
	for _, raw := range statuses {
		status, ok := scan.ParseStatus(raw)
		if !ok {
			return nil, services.Wrap(services.ErrInvalidInput, "cli", "list scans", "unknown status "+raw, nil)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return l.scans.List(ctx, filter)
}

func (l *localScans) Process(ctx context.Context, userID, date, scanID string, _ bool) (*api.ProcessResponse, error) {
	outcome, err := l.rt.Manager.ProcessScan(ctx, userID, date, scanID)
	if err != nil {
		return nil, err
	}
	dto := api.FromOutcome(outcome)
	return &api.ProcessResponse{Key: outcome.Key, Outcome: &dto}, nil
}

func (l *localScans) Cancel(ctx context.Context, userID, date string) error {
	return l.rt.Manager.Cancel(ctx, userID, date)
}

func (l *localScans) Retry(ctx context.Context, userID, date string) (*api.Scan, error) {
	reset, err := l.rt.Manager.Retry(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	outcome, err := l.rt.Manager.ProcessScan(ctx, reset.UserID, reset.Date, reset.ID)
	if err != nil {
		return nil, err
	}
	if outcome.Scan == nil {
		return nil, errors.New("retry finished without a scan record")
	}
	dto := api.FromScan(outcome.Scan)
	return &dto, nil
}

func (l *localScans) Attempts(ctx context.Context, userID, date string) (*api.AttemptListResponse, error) {
	scanID, attempts, err := l.scans.Attempts(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	return &api.AttemptListResponse{ScanID: scanID, Attempts: attempts}, nil
}

func (l *localScans) Status(ctx context.Context) (*api.PipelineStatus, error) {
	status := api.FromStatusSummary(l.rt.Manager.Status(ctx))
	return &status, nil
}

func (l *localScans) Remote() bool { return false }

func (l *localScans) Close() error {
	l.rt.Close()
	return nil
}
