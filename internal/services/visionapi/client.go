package visionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

const defaultHTTPTimeout = 90 * time.Second

// Config captures the service endpoint settings.
type Config struct {
	Endpoint       string
	APIKey         string
	TimeoutSeconds int
}

// Client calls the estimation endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			Endpoint:       strings.TrimSpace(cfg.Endpoint),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is the estimation request body.
type Request struct {
	Angles map[string]string  `json:"angles"`
	Prior  *scan.BodyEstimate `json:"prior,omitempty"`
}

// Response is the estimation response body. Pointers distinguish a missing
// field from a zero value.
type Response struct {
	BodyFatPercent *float64 `json:"bodyFatPercent"`
	LeanMassKg     *float64 `json:"leanMassKg"`
	WeightKg       *float64 `json:"weightKg"`
	Confidence     *float64 `json:"confidence"`
	Model          string   `json:"model"`
}

// Estimate posts the angle URLs and returns the decoded estimate. Missing
// required fields are reported as validation errors.
func (c *Client) Estimate(ctx context.Context, angles map[string]string, prior *scan.BodyEstimate) (*scan.BodyEstimate, error) {
	if c.cfg.Endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "visionapi", "estimate", "estimator.endpoint required", nil)
	}
	encoded, err := json.Marshal(Request{Angles: angles, Prior: prior})
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "visionapi", "estimate", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "visionapi", "estimate", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "visionapi", "estimate", "read body", err)
	}
	if err := classifyStatus(resp, body); err != nil {
		return nil, err
	}

	var decoded Response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrValidation, "visionapi", "estimate", "malformed response", err)
	}
	return decoded.toEstimate()
}

func (r Response) toEstimate() (*scan.BodyEstimate, error) {
	var missing []string
	if r.BodyFatPercent == nil {
		missing = append(missing, "bodyFatPercent")
	}
	if r.LeanMassKg == nil {
		missing = append(missing, "leanMassKg")
	}
	if r.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrValidation, "visionapi", "estimate",
			"response missing "+strings.Join(missing, ", "), nil)
	}
	est := &scan.BodyEstimate{
		BodyFatPercent: *r.BodyFatPercent,
		LeanMassKg:     *r.LeanMassKg,
		Confidence:     *r.Confidence,
		Model:          strings.TrimSpace(r.Model),
	}
	if r.WeightKg != nil {
		est.WeightKg = *r.WeightKg
	}
	return est, nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	cause := fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		err := services.Wrap(services.ErrTransient, "visionapi", "estimate", "service unavailable", cause)
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); convErr == nil && seconds > 0 {
			err = services.WithRetryAfter(err, time.Duration(seconds)*time.Second)
		}
		return err
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service could not see a body in the photos.
		return services.Wrap(services.ErrValidation, "visionapi", "estimate", "photos rejected by estimator", cause)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.WithHint(
			services.Wrap(services.ErrConfiguration, "visionapi", "estimate", "request rejected", cause),
			"check estimator.api_key",
		)
	default:
		return services.Wrap(services.ErrInvalidInput, "visionapi", "estimate", "request rejected", cause)
	}
}

func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "visionapi", "estimate", "request deadline exceeded", err)
		}
		return services.Wrap(services.ErrCancelled, "visionapi", "estimate", "request cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "visionapi", "estimate", "http timeout", err)
	}
	return services.Wrap(services.ErrTransient, "visionapi", "estimate", "http error", err)
}
