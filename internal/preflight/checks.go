package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"scanpipe/internal/config"
	"scanpipe/internal/scanstore"
	"scanpipe/internal/services/llm"
)

// CheckLLM verifies that the chat completion API is reachable and the key is
// valid. It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.Insight) Result {
	if !present(cfg.APIKey) {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	})

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckEndpoint verifies that an HTTP service answers and accepts the key.
// Any status below 500 other than 401/403 counts as reachable.
func CheckEndpoint(ctx context.Context, name, endpoint, apiKey string) Result {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Result{Name: name, Detail: "missing endpoint"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid endpoint (%v)", err)}
	}
	if present(apiKey) {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("service error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStore opens the configured backend and counts scans.
func CheckStore(ctx context.Context, cfg *config.Config, open StoreOpener) Result {
	name := "Scan store (" + cfg.Store.Backend + ")"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := open(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	defer store.Close()

	stats, err := store.Stats(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	detail := fmt.Sprintf("Reachable (%d scans)", stats.Total)

	// The SQLite backend can also verify its own file.
	if checker, ok := store.(interface {
		CheckHealth(context.Context) (scanstore.DatabaseHealth, error)
	}); ok {
		health, err := checker.CheckHealth(checkCtx)
		switch {
		case err != nil:
			return Result{Name: name, Detail: summarizeError(err)}
		case len(health.MissingTables) > 0:
			return Result{Name: name, Detail: "missing tables: " + strings.Join(health.MissingTables, ", ")}
		case !health.IntegrityCheck:
			return Result{Name: name, Detail: "integrity check failed for " + health.DBPath}
		}
		detail = fmt.Sprintf("Reachable (%d scans, schema v%d)", stats.Total, health.SchemaVersion)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckEstimator validates the body-composition provider.
func CheckEstimator(ctx context.Context, cfg *config.Config) Result {
	const name = "Estimator"
	switch cfg.Estimator.Provider {
	case "gemini":
		if !present(cfg.Estimator.APIKey) && !present(cfg.Insight.APIKey) {
			return Result{Name: name, Detail: "gemini API key missing"}
		}
		return Result{Name: name, Passed: true, Detail: "gemini " + cfg.Estimator.Model}
	default:
		return CheckEndpoint(ctx, name, cfg.Estimator.Endpoint, cfg.Estimator.APIKey)
	}
}

// CheckInsight validates the narrative provider. Failures are optional when
// the policy degrades to the template.
func CheckInsight(ctx context.Context, cfg *config.Config) Result {
	const name = "Insight"
	optional := cfg.Insight.OnFailure != "fail"
	var result Result
	switch cfg.Insight.Provider {
	case "template":
		return Result{Name: name, Passed: true, Detail: "Template only"}
	case "gemini":
		result = Result{Name: name, Passed: true, Detail: "gemini " + cfg.Insight.Model}
		if !present(cfg.Insight.APIKey) && !present(cfg.Estimator.APIKey) {
			result = Result{Name: name, Detail: "gemini API key missing"}
		}
	default:
		result = CheckLLM(ctx, name, cfg.Insight)
	}
	result.Optional = optional
	if !result.Passed && optional {
		result.Detail += " (template fallback active)"
	}
	return result
}

// CheckStorage validates photo storage access.
func CheckStorage(cfg *config.Config) []Result {
	var results []Result
	if present(cfg.Storage.LocalRoot) {
		results = append(results, CheckDirectoryAccess("Local photos", cfg.Storage.LocalRoot))
	}
	const gcsName = "GCS credentials"
	switch {
	case present(cfg.Storage.CredentialsFile):
		if _, err := os.Stat(cfg.Storage.CredentialsFile); err != nil {
			results = append(results, Result{Name: gcsName, Detail: fmt.Sprintf("%s (error: %v)", cfg.Storage.CredentialsFile, err)})
		} else {
			results = append(results, Result{Name: gcsName, Passed: true, Detail: cfg.Storage.CredentialsFile})
		}
	default:
		results = append(results, Result{Name: gcsName, Passed: true, Optional: true, Detail: "Application default credentials"})
	}
	return results
}

// CheckNotifications reports which outcome channels are configured.
func CheckNotifications(cfg *config.Config) Result {
	const name = "Notifications"
	var channels []string
	if present(cfg.Notifications.PubSubTopic) {
		channels = append(channels, "pubsub:"+cfg.Notifications.PubSubTopic)
	}
	if present(cfg.Notifications.NtfyTopic) {
		channels = append(channels, "ntfy")
	}
	if len(channels) == 0 {
		return Result{Name: name, Optional: true, Detail: "Not configured"}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: strings.Join(channels, ", ")}
}

// summarizeError produces a human-readable summary for probe failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
