// Package config loads, normalizes, and validates scanpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEY and SENTRY_DSN. The Config type centralizes every knob the
// daemon and CLI need: the store backend, the pipeline retry policy and stage
// timeouts, QC thresholds, and the AI service credentials.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
