// Package daemon coordinates the long-running scanpipe process.
//
// It wires the scan store, the pipeline manager and its scheduler, and the
// HTTP API into a single lifecycle with flock-based locking to prevent two
// daemons from sharing a state directory. Stop drains in-flight runs so a
// restart resumes them from their last persisted field group.
//
// Keep orchestration logic here: stage behaviour lives in the stage packages
// and retry policy in the pipeline package, while the daemon focuses on
// startup, shutdown, and high level coordination.
package daemon
