// Package scan defines the body-scan domain model shared by the pipeline,
// its stages, and the storage backends.
//
// A Scan is the durable record of one user's daily photo scan. Each pipeline
// stage owns exactly one write-once field group (QC, Estimate, Context,
// Deltas, Insight, PublishedView) and the Status enum mirrors the stage
// order. Stores never accept whole-document writes from the pipeline; every
// mutation is a Patch that touches at most one field group plus status or
// failure bookkeeping.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add a stage, extend Stages, the Status enum, and the field group
// mapping together.
package scan
