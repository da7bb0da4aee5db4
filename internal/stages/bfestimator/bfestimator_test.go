package bfestimator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

type fakeService struct {
	est   *scan.BodyEstimate
	err   error
	prior *scan.BodyEstimate
	calls int
}

func (f *fakeService) Estimate(_ context.Context, _ map[string]string, prior *scan.BodyEstimate) (*scan.BodyEstimate, error) {
	f.calls++
	f.prior = prior
	return f.est, f.err
}

type fakeHistory struct {
	latest *scan.Scan
	before string
	err    error
}

func (f *fakeHistory) CompletedBefore(context.Context, string, string, string) ([]*scan.Scan, error) {
	return nil, errors.New("unexpected page read")
}

func (f *fakeHistory) LatestCompletedBefore(_ context.Context, _, date string) (*scan.Scan, error) {
	f.before = date
	return f.latest, f.err
}

var angles = map[string]string{"front": "gs://b/f.jpg", "side": "gs://b/s.jpg", "back": "gs://b/b.jpg"}

func TestEstimateDerivesWeight(t *testing.T) {
	svc := &fakeService{est: &scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, Confidence: 0.9}}
	est, err := New(svc, nil, logging.NewNop()).Estimate(context.Background(), angles, nil)
	require.NoError(t, err)
	assert.InDelta(t, 78.36, est.WeightKg, 1e-9)
	assert.False(t, est.UsedPrior)
}

func TestEstimateValidationIsNotRetryable(t *testing.T) {
	cases := map[string]scan.BodyEstimate{
		"body fat above range": {BodyFatPercent: 120, LeanMassKg: 60, WeightKg: 80, Confidence: 0.5},
		"negative confidence":  {BodyFatPercent: 20, LeanMassKg: 60, WeightKg: 80, Confidence: -0.1},
		"zero lean mass":       {BodyFatPercent: 20, LeanMassKg: 0, WeightKg: 80, Confidence: 0.5},
		"lean above weight":    {BodyFatPercent: 20, LeanMassKg: 90, WeightKg: 80, Confidence: 0.5},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			raw := raw
			_, err := New(&fakeService{est: &raw}, nil, logging.NewNop()).Estimate(context.Background(), angles, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrValidation))
			assert.False(t, services.IsRetryable(err))
		})
	}
}

func TestEstimatePassesServiceErrorsThrough(t *testing.T) {
	svcErr := services.Wrap(services.ErrTransient, "visionapi", "estimate", "down", nil)
	_, err := New(&fakeService{err: svcErr}, nil, logging.NewNop()).Estimate(context.Background(), angles, nil)
	assert.True(t, services.IsRetryable(err))
}

func TestEstimateRejectsEmptyAngles(t *testing.T) {
	svc := &fakeService{}
	_, err := New(svc, nil, logging.NewNop()).Estimate(context.Background(), nil, nil)
	assert.Equal(t, services.KindInvalidInput, services.KindOf(err))
	assert.Zero(t, svc.calls)
}

func TestRunUsesLatestPriorEstimate(t *testing.T) {
	history := &fakeHistory{latest: &scan.Scan{
		ID: "months-ago", Date: "2024-06-01",
		Estimate: &scan.BodyEstimate{BodyFatPercent: 19, LeanMassKg: 63.5, WeightKg: 78.4, Confidence: 0.8},
	}}
	svc := &fakeService{est: &scan.BodyEstimate{BodyFatPercent: 18.8, LeanMassKg: 63.7, WeightKg: 78.5, Confidence: 0.85}}
	estimator := New(svc, history, logging.NewNop())

	patch, err := estimator.Run(context.Background(), &scan.Scan{UserID: "u1", Date: "2025-01-10", AngleURLs: angles})
	require.NoError(t, err)
	require.NotNil(t, svc.prior)
	assert.Equal(t, 19.0, svc.prior.BodyFatPercent)
	assert.Equal(t, "2025-01-10", history.before)
	assert.True(t, patch.Estimate.UsedPrior)
	assert.Equal(t, scan.StatusEstimated, *patch.Status)
}

func TestRunWithoutPriorSendsNone(t *testing.T) {
	svc := &fakeService{est: &scan.BodyEstimate{BodyFatPercent: 18.8, LeanMassKg: 63.7, Confidence: 0.85}}
	patch, err := New(svc, &fakeHistory{}, logging.NewNop()).Run(context.Background(), &scan.Scan{UserID: "u1", Date: "2025-01-10", AngleURLs: angles})
	require.NoError(t, err)
	assert.Nil(t, svc.prior)
	assert.False(t, patch.Estimate.UsedPrior)
}

func TestRunHistoryFailureIsTransient(t *testing.T) {
	estimator := New(&fakeService{}, &fakeHistory{err: errors.New("disk busy")}, logging.NewNop())
	_, err := estimator.Run(context.Background(), &scan.Scan{UserID: "u1", Date: "2025-01-10", AngleURLs: angles})
	assert.True(t, services.IsRetryable(err))
}
