package scan

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a scan.
type Status string

const (
	StatusCreated        Status = "created"
	StatusQCInProgress   Status = "qc_in_progress"
	StatusQCPassed       Status = "qc_passed"
	StatusQCFailed       Status = "qc_failed"
	StatusEstimating     Status = "estimating"
	StatusEstimated      Status = "estimated"
	StatusBinding        Status = "binding"
	StatusBound          Status = "bound"
	StatusComparing      Status = "comparing"
	StatusCompared       Status = "compared"
	StatusWritingInsight Status = "writing_insight"
	StatusInsightWritten Status = "insight_written"
	StatusPublishing     Status = "publishing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// OperatorCancelReason is the failure reason recorded when an operator cancels a run.
const OperatorCancelReason = "cancelled by operator"

var allStatuses = []Status{
	StatusCreated,
	StatusQCInProgress,
	StatusQCPassed,
	StatusQCFailed,
	StatusEstimating,
	StatusEstimated,
	StatusBinding,
	StatusBound,
	StatusComparing,
	StatusCompared,
	StatusWritingInsight,
	StatusInsightWritten,
	StatusPublishing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusQCFailed:  {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further pipeline work happens for the status.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsInProgress reports whether a stage is actively running for the status.
func (s Status) IsInProgress() bool {
	for _, stage := range stages {
		if stage.running == s {
			return true
		}
	}
	return false
}

// Failure captures why a run stopped.
type Failure struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
}

// Scan is the durable record for one (user, date) photo scan.
type Scan struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Date      string            `json:"date"`
	AngleURLs map[string]string `json:"angleUrls"`

	QC            *QCResult        `json:"qc,omitempty"`
	Estimate      *BodyEstimate    `json:"estimate,omitempty"`
	Context       *BoundContext    `json:"context,omitempty"`
	Deltas        *DeltaComparison `json:"deltas,omitempty"`
	Insight       *InsightData     `json:"insight,omitempty"`
	PublishedView *PublishedView   `json:"publishedView,omitempty"`

	Status        Status `json:"status"`
	FailedStage   Stage  `json:"failedStage,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	ErrorKind     string `json:"errorKind,omitempty"`

	// Authoritative is false once a retake supersedes this scan.
	Authoritative bool `json:"authoritative"`

	RunOwner      string     `json:"runOwner,omitempty"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Key returns the instance key for the scan's subject.
func (s *Scan) Key() Key {
	if s == nil {
		return Key{}
	}
	return Key{UserID: s.UserID, Date: s.Date}
}

// IsTerminal reports whether the scan reached a terminal state.
func (s *Scan) IsTerminal() bool {
	return s != nil && s.Status.IsTerminal()
}

// Clone returns a deep-enough copy for callers that mutate a scan locally.
func (s *Scan) Clone() *Scan {
	if s == nil {
		return nil
	}
	cp := *s
	if s.AngleURLs != nil {
		cp.AngleURLs = make(map[string]string, len(s.AngleURLs))
		for k, v := range s.AngleURLs {
			cp.AngleURLs[k] = v
		}
	}
	if s.LastHeartbeat != nil {
		hb := *s.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	return &cp
}

// ResumeStatus returns the status a requeued scan should restart from: the
// completion status of the last stage whose field group is present.
func (s *Scan) ResumeStatus() Status {
	status := StatusCreated
	for _, stage := range stages {
		if !stage.has(s) {
			break
		}
		status = stage.done
	}
	if status == StatusCompleted {
		return StatusPublishing
	}
	return status
}

// Attempt is one stage execution recorded in the audit trail.
type Attempt struct {
	ScanID     string        `json:"scanId"`
	Stage      Stage         `json:"stage"`
	Attempt    int           `json:"attempt"`
	Outcome    string        `json:"outcome"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	Message    string        `json:"message,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeDegraded  = "degraded"
)

// Stats summarizes scan counts per lifecycle bucket.
type Stats struct {
	Total      int
	InProgress int
	Completed  int
	Failed     int
	Rejected   int
	Pending    int
}

// ListFilter narrows List results.
type ListFilter struct {
	UserID   string
	Statuses []Status
	Limit    int
}
