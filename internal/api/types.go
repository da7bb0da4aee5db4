package api

import "scanpipe/internal/scan"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Scan describes a scan record in a transport-friendly format.
type Scan struct {
	ID            string                `json:"id"`
	UserID        string                `json:"userId"`
	Date          string                `json:"date"`
	Status        string                `json:"status"`
	Authoritative bool                  `json:"authoritative"`
	AngleURLs     map[string]string     `json:"angleUrls"`
	QC            *scan.QCResult        `json:"qc,omitempty"`
	Estimate      *scan.BodyEstimate    `json:"estimate,omitempty"`
	Context       *scan.BoundContext    `json:"context,omitempty"`
	Deltas        *scan.DeltaComparison `json:"deltas,omitempty"`
	Insight       *scan.InsightData     `json:"insight,omitempty"`
	PublishedView *scan.PublishedView   `json:"publishedView,omitempty"`
	FailedStage   string                `json:"failedStage,omitempty"`
	FailureReason string                `json:"failureReason,omitempty"`
	ErrorKind     string                `json:"errorKind,omitempty"`
	RunOwner      string                `json:"runOwner,omitempty"`
	LastHeartbeat string                `json:"lastHeartbeat,omitempty"`
	CreatedAt     string                `json:"createdAt,omitempty"`
	UpdatedAt     string                `json:"updatedAt,omitempty"`
}

// ScanListResponse wraps a collection of scans.
type ScanListResponse struct {
	Scans []Scan `json:"scans"`
}

// ScanResponse wraps a single scan.
type ScanResponse struct {
	Scan Scan `json:"scan"`
}

// CreateScanRequest is the body of POST /api/scans and the payload of the
// "scan uploaded" Pub/Sub message.
type CreateScanRequest struct {
	UserID    string            `json:"userId"`
	Date      string            `json:"date"`
	AngleURLs map[string]string `json:"angleUrls"`
	ScanID    string            `json:"scanId,omitempty"`
	// Process submits the scan to the pipeline after it is stored.
	Process bool `json:"process,omitempty"`
}

// CreateScanResponse reports the stored scan and whether it already existed.
type CreateScanResponse struct {
	Scan      Scan `json:"scan"`
	Existing  bool `json:"existing"`
	Submitted bool `json:"submitted"`
}

// Attempt is one stage execution from the audit trail.
type Attempt struct {
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Message    string `json:"message,omitempty"`
	BackoffMs  int64  `json:"backoffMs,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// AttemptListResponse wraps the audit trail for one scan.
type AttemptListResponse struct {
	ScanID   string    `json:"scanId"`
	Attempts []Attempt `json:"attempts"`
}

// Outcome is the result of a pipeline instance.
type Outcome struct {
	Key         string `json:"key"`
	Status      string `json:"status"`
	Completed   bool   `json:"completed"`
	Degraded    bool   `json:"degraded,omitempty"`
	FailedStage string `json:"failedStage,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ErrorKind   string `json:"errorKind,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Scan        *Scan  `json:"scan,omitempty"`
}

// ProcessResponse answers a process request. Outcome is only set for
// synchronous calls that finished within the wait window.
type ProcessResponse struct {
	Key      string   `json:"key"`
	Accepted bool     `json:"accepted"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// PipelineStatus summarizes orchestrator state.
type PipelineStatus struct {
	Running     bool           `json:"running"`
	Owner       string         `json:"owner,omitempty"`
	InFlight    []string       `json:"inFlight"`
	ScanStats   map[string]int `json:"scanStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastScan    *Scan          `json:"lastScan,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}
