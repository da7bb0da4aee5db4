// Package notifications fans scan outcomes out to downstream consumers.
//
// Two transports are supported: ntfy for operator alerts and a Google Cloud
// Pub/Sub topic carrying CloudEvents for other services. Delivery is
// fire-and-forget from the pipeline's point of view; publish failures are
// logged by the caller and never change a scan's state. With no transport
// configured NewService returns a no-op implementation.
package notifications
