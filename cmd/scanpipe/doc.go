// Command scanpipe runs the body-scan pipeline daemon and offers CLI access
// to scans, day context, and diagnostics.
//
// Scan commands talk to a running daemon over its HTTP API when one answers
// on api.bind, and otherwise open the store and run the pipeline in-process.
// Pass --local to force the in-process path.
package main
