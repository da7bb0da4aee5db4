package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scanpipe/internal/api"
	"scanpipe/internal/config"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// APIError is a non-2xx response decoded from the daemon's error body.
type APIError struct {
	Status  int
	Kind    string
	Message string
	Hint    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("daemon api: %s (%d)", e.Message, e.Status)
	if e.Kind != "" {
		msg += " [" + e.Kind + "]"
	}
	return msg
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base       string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the daemon configured in cfg. A wildcard
// bind host is dialled on loopback.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, fmt.Errorf("%w: api.bind is empty", ErrDaemonNotRunning)
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api.bind %q: %w", bind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &Client{
		base:       "http://" + net.JoinHostPort(host, port) + "/api",
		token:      strings.TrimSpace(cfg.API.Token),
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}, nil
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string { return c.base }

// Status fetches the pipeline snapshot.
func (c *Client) Status(ctx context.Context) (*api.PipelineStatus, error) {
	var out api.PipelineStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateScan registers a scan and optionally starts its pipeline.
func (c *Client) CreateScan(ctx context.Context, req api.CreateScanRequest) (*api.CreateScanResponse, error) {
	var out api.CreateScanResponse
	if err := c.do(ctx, http.MethodPost, "/scans", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScan returns the internal record for userID/date.
func (c *Client) GetScan(ctx context.Context, userID, date string) (*api.Scan, error) {
	var out api.ScanResponse
	if err := c.do(ctx, http.MethodGet, scanPath(userID, date, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out.Scan, nil
}

// ListScans returns scans matching the filter.
func (c *Client) ListScans(ctx context.Context, userID string, statuses []string, limit int) ([]api.Scan, error) {
	query := url.Values{}
	if userID != "" {
		query.Set("userId", userID)
	}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/scans"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out api.ScanListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Scans, nil
}

// Process starts or attaches to the instance. With wait the call blocks
// until the outcome or the daemon's sync wait elapses.
func (c *Client) Process(ctx context.Context, userID, date, scanID string, wait bool) (*api.ProcessResponse, error) {
	query := url.Values{}
	if scanID != "" {
		query.Set("scanId", scanID)
	}
	if wait {
		query.Set("wait", "true")
	}
	path := scanPath(userID, date, "/process")
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out api.ProcessResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel stops the running instance.
func (c *Client) Cancel(ctx context.Context, userID, date string) error {
	return c.do(ctx, http.MethodPost, scanPath(userID, date, "/cancel"), nil, nil)
}

// Retry resets a failed scan and resubmits it.
func (c *Client) Retry(ctx context.Context, userID, date string) (*api.Scan, error) {
	var out api.ScanResponse
	if err := c.do(ctx, http.MethodPost, scanPath(userID, date, "/retry"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Scan, nil
}

// Attempts lists the stage attempt log for a scan.
func (c *Client) Attempts(ctx context.Context, userID, date string) (*api.AttemptListResponse, error) {
	var out api.AttemptListResponse
	if err := c.do(ctx, http.MethodGet, scanPath(userID, date, "/attempts"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func scanPath(userID, date, suffix string) string {
	return "/scans/" + url.PathEscape(userID) + "/" + url.PathEscape(date) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDaemonUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Error, Hint: apiErr.Hint}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}
