// Package scanstore persists scans, day context, run leases, and the stage
// attempt audit trail in SQLite.
//
// The Store implements scan.Repository. Field groups are written with
// COALESCE so a stage result, once present, is never replaced; terminal scans
// reject further patches unless the patch clears the failure for an operator
// retry. Run leases (run_owner plus last_heartbeat) keep at most one pipeline
// instance per scan across processes, and stale leases are reclaimed by the
// scheduler through Runnable.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt a new schema.
package scanstore
