package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scanpipe/internal/config"
	"scanpipe/internal/scan"
	"scanpipe/internal/scanstore"
	"scanpipe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.WriteHeader(http.StatusMethodNotAllowed)
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	if r := CheckEndpoint(context.Background(), "est", srv.URL, "good"); !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Detail)
	}
	if r := CheckEndpoint(context.Background(), "est", srv.URL, "bad"); r.Passed {
		t.Fatal("expected auth failure")
	}
	if r := CheckEndpoint(context.Background(), "est", srv.URL, "broken"); r.Passed {
		t.Fatal("expected 5xx to fail")
	}
	if r := CheckEndpoint(context.Background(), "est", "", "good"); r.Passed {
		t.Fatal("expected missing endpoint to fail")
	}
}

func TestCheckInsightTemplateAlwaysPasses(t *testing.T) {
	cfg := config.Default()
	cfg.Insight.Provider = "template"
	if r := CheckInsight(context.Background(), &cfg); !r.Passed {
		t.Fatalf("template provider failed: %s", r.Detail)
	}
}

func TestCheckInsightMissingKeyIsOptionalWhenDegrading(t *testing.T) {
	cfg := config.Default()
	cfg.Insight.Provider = "llm"
	cfg.Insight.APIKey = ""
	cfg.Insight.OnFailure = "degrade"
	r := CheckInsight(context.Background(), &cfg)
	if r.Passed || !r.Optional {
		t.Fatalf("expected optional failure, got %+v", r)
	}
	if r.Severity() != "warn" {
		t.Fatalf("severity = %q", r.Severity())
	}

	cfg.Insight.OnFailure = "fail"
	r = CheckInsight(context.Background(), &cfg)
	if r.Optional || r.Severity() != "error" {
		t.Fatalf("expected required failure under fail policy, got %+v", r)
	}
}

func TestCheckStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	open := func(context.Context, *config.Config) (scan.Repository, error) {
		return scanstore.Open(cfg)
	}
	r := CheckStore(context.Background(), cfg, open)
	if !r.Passed {
		t.Fatalf("store check failed: %s", r.Detail)
	}
	if !strings.Contains(r.Detail, "schema v1") {
		t.Fatalf("expected schema version in detail, got %q", r.Detail)
	}

	failing := func(context.Context, *config.Config) (scan.Repository, error) {
		return nil, errors.New("permission denied")
	}
	if r := CheckStore(context.Background(), cfg, failing); r.Passed || r.Detail != "permission denied" {
		t.Fatalf("expected store failure, got %+v", r)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Estimator.Endpoint = srv.URL
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Storage.LocalRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg, nil)
	if Failed(results) {
		for _, r := range results {
			t.Logf("%s: passed=%v optional=%v %s", r.Name, r.Passed, r.Optional, r.Detail)
		}
		t.Fatal("expected every required check to pass")
	}
}

func TestSystemChecksReportsDaemonState(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Insight.Provider = "template"

	lines := SystemChecks(&cfg, false)
	if lines[0].Label != "Daemon" || lines[0].Severity != "warn" {
		t.Fatalf("unexpected daemon line: %+v", lines[0])
	}
	lines = SystemChecks(&cfg, true)
	if lines[0].Severity != "ok" {
		t.Fatalf("expected running daemon to be ok: %+v", lines[0])
	}
}
