// Package api defines the wire-format types, converters, and the chi HTTP
// router the daemon serves. It translates internal scan models into
// transport-friendly DTOs so CLI and dashboard consumers can render them
// without coupling to internal types.
//
// # Key Types
//
// Scan: transport representation of a scan record with its field groups,
// status, and failure details.
//
// Outcome: result of a synchronous process call.
//
// PipelineStatus: scheduler state, scan counts, stage health, and last scan.
//
// # Routes
//
// NewRouter mounts /api/scans (create, list, show, process, cancel, retry,
// view, attempts), /api/events (CloudEvent wrapping a Pub/Sub upload
// message), /api/status, and /metrics. Every /api route sits behind the
// bearer token when one is configured.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are mapped to HTTP statuses by their taxonomy kind so clients can
// tell a bad request from a dependency outage.
package api
