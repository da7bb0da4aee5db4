// Package preflight provides readiness checks for the backends and
// providers scanpipe depends on.
//
// These checks run in two contexts:
//   - The CLI "scanpipe doctor" command calls RunAll and exits non-zero when
//     a required check fails.
//   - The CLI "scanpipe status" command renders SystemChecks next to the
//     daemon's pipeline snapshot.
//
// Provider checks are gated by configuration: a template insight provider
// skips the LLM probe and an unset notification topic is informational.
package preflight
