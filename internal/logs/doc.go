// Package logs reads and maintains the daemon's log files.
//
// Tail powers `scanpipe logs`: it returns the last N lines of a file with
// bounded memory, then follows appended lines from a byte offset. A Match
// function narrows output to one pipeline instance. PruneRunLogs removes
// per-run log files past the configured retention when the daemon starts.
package logs
