package firestore

import (
	"encoding/json"
	"fmt"
	"time"

	"scanpipe/internal/scan"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get bool from map
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Helper to safely get int from map (Firestore returns int64 for integers)
func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) *time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return &t
		}
	}
	return nil
}

func getStringMap(m map[string]interface{}, key string) map[string]string {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// toMap stores a payload group as a nested map using its JSON field names.
func toMap(v any) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func fromMap[T any](m map[string]interface{}, key string) (*T, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(normalizeValue(raw))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// normalizeValue converts Firestore timestamps nested in payload maps back to
// RFC 3339 strings so they decode into time.Time fields.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// --- Scan Converters ---

func ScanToFirestore(s *scan.Scan) map[string]interface{} {
	angles := make(map[string]interface{}, len(s.AngleURLs))
	for k, v := range s.AngleURLs {
		angles[k] = v
	}
	m := map[string]interface{}{
		"id":            s.ID,
		"user_id":       s.UserID,
		"date":          s.Date,
		"angle_urls":    angles,
		"status":        string(s.Status),
		"authoritative": s.Authoritative,
		"created_at":    s.CreatedAt,
		"updated_at":    s.UpdatedAt,
	}
	if s.FailedStage != "" {
		m["failed_stage"] = string(s.FailedStage)
	}
	if s.FailureReason != "" {
		m["failure_reason"] = s.FailureReason
	}
	if s.ErrorKind != "" {
		m["error_kind"] = s.ErrorKind
	}
	if s.RunOwner != "" {
		m["run_owner"] = s.RunOwner
	}
	if s.LastHeartbeat != nil {
		m["last_heartbeat"] = *s.LastHeartbeat
	}
	if s.QC != nil {
		m["qc"] = toMap(s.QC)
	}
	if s.Estimate != nil {
		m["estimate"] = toMap(s.Estimate)
	}
	if s.Context != nil {
		m["context"] = toMap(s.Context)
	}
	if s.Deltas != nil {
		m["deltas"] = toMap(s.Deltas)
	}
	if s.Insight != nil {
		m["insight"] = toMap(s.Insight)
	}
	if s.PublishedView != nil {
		m["published_view"] = toMap(s.PublishedView)
	}
	return m
}

func FirestoreToScan(m map[string]interface{}) (*scan.Scan, error) {
	s := &scan.Scan{
		ID:            getString(m, "id"),
		UserID:        getString(m, "user_id"),
		Date:          getString(m, "date"),
		AngleURLs:     getStringMap(m, "angle_urls"),
		Status:        scan.Status(getString(m, "status")),
		FailedStage:   scan.Stage(getString(m, "failed_stage")),
		FailureReason: getString(m, "failure_reason"),
		ErrorKind:     getString(m, "error_kind"),
		Authoritative: getBool(m, "authoritative"),
		RunOwner:      getString(m, "run_owner"),
		LastHeartbeat: getTime(m, "last_heartbeat"),
	}
	if t := getTime(m, "created_at"); t != nil {
		s.CreatedAt = *t
	}
	if t := getTime(m, "updated_at"); t != nil {
		s.UpdatedAt = *t
	}

	var err error
	if s.QC, err = fromMap[scan.QCResult](m, "qc"); err != nil {
		return nil, err
	}
	if s.Estimate, err = fromMap[scan.BodyEstimate](m, "estimate"); err != nil {
		return nil, err
	}
	if s.Context, err = fromMap[scan.BoundContext](m, "context"); err != nil {
		return nil, err
	}
	if s.Deltas, err = fromMap[scan.DeltaComparison](m, "deltas"); err != nil {
		return nil, err
	}
	if s.Insight, err = fromMap[scan.InsightData](m, "insight"); err != nil {
		return nil, err
	}
	if s.PublishedView, err = fromMap[scan.PublishedView](m, "published_view"); err != nil {
		return nil, err
	}
	return s, nil
}

// --- DayLog Converters ---

func DayLogToFirestore(d *scan.DayLog) map[string]interface{} {
	m := toMap(d)
	m["updated_at"] = d.UpdatedAt
	delete(m, "updatedAt")
	return m
}

func FirestoreToDayLog(m map[string]interface{}) (*scan.DayLog, error) {
	log, err := fromMap[scan.DayLog](map[string]interface{}{"v": m}, "v")
	if err != nil || log == nil {
		return log, err
	}
	if t := getTime(m, "updated_at"); t != nil {
		log.UpdatedAt = *t
	}
	return log, nil
}

// --- Profile Converters ---

// Profiles live on the user document under "profile" so other user fields
// written by other services are left alone by MergeAll.
func ProfileToFirestore(p *scan.Profile) map[string]interface{} {
	profile := toMap(p)
	delete(profile, "updatedAt")
	return map[string]interface{}{
		"user_id":            p.UserID,
		"profile":            profile,
		"profile_updated_at": p.UpdatedAt,
	}
}

func FirestoreToProfile(m map[string]interface{}) (*scan.Profile, error) {
	if _, ok := m["profile"]; !ok {
		return nil, nil
	}
	profile, err := fromMap[scan.Profile](m, "profile")
	if err != nil || profile == nil {
		return profile, err
	}
	if profile.UserID == "" {
		profile.UserID = getString(m, "user_id")
	}
	if t := getTime(m, "profile_updated_at"); t != nil {
		profile.UpdatedAt = *t
	}
	return profile, nil
}

// --- Attempt Converters ---

func AttemptToFirestore(a *scan.Attempt) map[string]interface{} {
	m := map[string]interface{}{
		"scan_id":     a.ScanID,
		"stage":       string(a.Stage),
		"attempt":     a.Attempt,
		"outcome":     a.Outcome,
		"backoff_ms":  a.Backoff.Milliseconds(),
		"started_at":  a.StartedAt,
		"finished_at": a.FinishedAt,
	}
	if a.ErrorKind != "" {
		m["error_kind"] = a.ErrorKind
	}
	if a.Message != "" {
		m["message"] = a.Message
	}
	return m
}

func FirestoreToAttempt(m map[string]interface{}) (*scan.Attempt, error) {
	a := &scan.Attempt{
		ScanID:    getString(m, "scan_id"),
		Stage:     scan.Stage(getString(m, "stage")),
		Attempt:   getInt(m, "attempt"),
		Outcome:   getString(m, "outcome"),
		ErrorKind: getString(m, "error_kind"),
		Message:   getString(m, "message"),
		Backoff:   time.Duration(getInt(m, "backoff_ms")) * time.Millisecond,
	}
	if t := getTime(m, "started_at"); t != nil {
		a.StartedAt = *t
	}
	if t := getTime(m, "finished_at"); t != nil {
		a.FinishedAt = *t
	}
	return a, nil
}
