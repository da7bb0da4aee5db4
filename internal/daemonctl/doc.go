// Package daemonctl controls a scanpipe daemon from the CLI: launching it
// detached, stopping it through its pid file, and calling its HTTP API.
package daemonctl
