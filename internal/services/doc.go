// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp scan IDs, instance keys, stage names, attempt
//     numbers, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline taxonomy (invalid input, business rejection, transient
//     infrastructure, validation, policy degradation).
//   - IsRetryable, the single decision point for whether a failure may consume
//     retry budget.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
