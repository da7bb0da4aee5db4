// Package llm provides a chat-completions client for OpenAI-compatible
// endpoints such as OpenRouter.
//
// The insight writer uses it to turn a scan's figures into a short narrative.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete: send system/user prompts, receive plain text.
// Client.CompleteJSON: same, with a JSON response format.
// Client.HealthCheck: verify API key and model availability.
//
// # Errors
//
// Every failure is tagged with a services marker so the orchestrator can
// decide whether to spend retry budget: HTTP 408/429/5xx, network timeouts and
// empty completions are transient; other 4xx responses are configuration
// errors. A Retry-After header is carried on the error.
//
// # Retry Behaviour
//
// The client makes exactly one attempt per call. Retries and their backoff
// belong to the pipeline's stage policy, which reads the error kind and any
// Retry-After hint.
package llm
