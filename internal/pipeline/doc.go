// Package pipeline orchestrates the per-scan stage sequence.
//
// A Manager runs one instance per (user, date) key: in-process callers share
// a single run through singleflight, and a run lease on the scan record keeps
// other processes from executing the same instance. Stages execute strictly
// in order, each wrapped in the retry policy and a per-stage timeout, and
// every stage writes exactly one field group through the store. A stage whose
// field group already exists is skipped, which makes resuming a partially
// processed scan idempotent.
//
// The daemon drives the same Manager through Start/Stop, which polls the store
// for runnable scans (new, interrupted, or abandoned by a dead owner).
package pipeline
