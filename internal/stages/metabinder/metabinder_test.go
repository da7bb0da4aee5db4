package metabinder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stages/metabinder"
	"scanpipe/internal/testsupport"
)

var estimate = scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9}

func TestBindWithoutDayLogOrProfile(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	bound, err := metabinder.New(store, logging.NewNop()).BindContext(context.Background(), "u1", "2025-01-10", estimate)
	require.NoError(t, err)
	assert.False(t, bound.HasDayLog)
	assert.Nil(t, bound.DayLog)
	assert.Empty(t, bound.Goal)
	assert.Nil(t, bound.TargetWeightKg)
}

func TestBindMergesDayLogAndGoals(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	require.NoError(t, store.PutDayLog(ctx, &scan.DayLog{UserID: "u1", Date: "2025-01-10", Workout: "squats", WorkoutMinutes: 45, ProteinGrams: 140}))
	require.NoError(t, store.PutUserProfile(ctx, &scan.Profile{UserID: "u1", Goal: "cut", Level: "intermediate", TargetWeightKg: scan.Float64(74)}))

	bound, err := metabinder.New(store, logging.NewNop()).BindContext(ctx, "u1", "2025-01-10", estimate)
	require.NoError(t, err)
	require.True(t, bound.HasDayLog)
	assert.Equal(t, "squats", bound.DayLog.Workout)
	assert.Equal(t, "cut", bound.Goal)
	assert.Equal(t, "intermediate", bound.Level)
	require.NotNil(t, bound.TargetWeightKg)
	assert.Equal(t, 74.0, *bound.TargetWeightKg)
}

func TestEmptyDayLogIsTreatedAsAbsent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	require.NoError(t, store.PutDayLog(ctx, &scan.DayLog{UserID: "u1", Date: "2025-01-10"}))

	bound, err := metabinder.New(store, logging.NewNop()).BindContext(ctx, "u1", "2025-01-10", estimate)
	require.NoError(t, err)
	assert.False(t, bound.HasDayLog)
}

func TestRunRequiresEstimate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := metabinder.New(store, logging.NewNop()).Run(context.Background(), &scan.Scan{UserID: "u1", Date: "2025-01-10"})
	assert.Equal(t, services.KindInvalidInput, services.KindOf(err))
}

func TestRunProducesBoundPatch(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	est := estimate
	patch, err := metabinder.New(store, logging.NewNop()).Run(context.Background(), &scan.Scan{UserID: "u1", Date: "2025-01-10", Estimate: &est})
	require.NoError(t, err)
	require.NoError(t, patch.Validate())
	assert.Equal(t, scan.StatusBound, *patch.Status)
	assert.NotNil(t, patch.Context)
}
