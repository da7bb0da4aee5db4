package pipeline

import (
	"errors"
	"testing"
	"time"

	"scanpipe/internal/config"
	"scanpipe/internal/services"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Initial: time.Second, Coefficient: 2, MaxInterval: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestNextRetriesOnlyTransientWithinBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Initial: time.Second, Coefficient: 2, MaxInterval: 30 * time.Second}
	transient := services.Wrap(services.ErrTransient, "bf_estimator", "estimate", "503", nil)
	timeout := services.Wrap(services.ErrTimeout, "bf_estimator", "estimate", "deadline", nil)

	if wait, ok := p.Next(1, transient); !ok || wait != time.Second {
		t.Fatalf("Next(1, transient) = %s, %v", wait, ok)
	}
	if wait, ok := p.Next(2, timeout); !ok || wait != 2*time.Second {
		t.Fatalf("Next(2, timeout) = %s, %v", wait, ok)
	}
	if _, ok := p.Next(3, transient); ok {
		t.Fatal("budget exhausted after MaxAttempts")
	}
	for _, marker := range []error{services.ErrValidation, services.ErrBusinessRejection, services.ErrInvalidInput, services.ErrConfiguration} {
		if _, ok := p.Next(1, services.Wrap(marker, "x", "y", "z", nil)); ok {
			t.Fatalf("%v must not be retried", marker)
		}
	}
	if _, ok := p.Next(1, errors.New("plain")); !ok {
		t.Fatal("unclassified errors are treated as transient")
	}
}

func TestNextHonoursRetryAfterUpToCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Initial: time.Second, Coefficient: 2, MaxInterval: 10 * time.Second}
	err := services.WithRetryAfter(services.Wrap(services.ErrTransient, "insight_writer", "generate", "429", nil), 7*time.Second)
	if wait, _ := p.Next(1, err); wait != 7*time.Second {
		t.Fatalf("expected Retry-After wait, got %s", wait)
	}
	err = services.WithRetryAfter(err, time.Minute)
	if wait, _ := p.Next(1, err); wait != 10*time.Second {
		t.Fatalf("expected capped wait, got %s", wait)
	}
}

func TestPolicyFromConfigDefaults(t *testing.T) {
	p := PolicyFromConfig(&config.Config{})
	if p.MaxAttempts != 4 || p.Initial != time.Second || p.Coefficient != 2 || p.MaxInterval != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", p)
	}
	cfg := config.Default()
	if got := PolicyFromConfig(&cfg); got.Initial != time.Second || got.Coefficient != 2 {
		t.Fatalf("unexpected configured policy %+v", got)
	}
}
