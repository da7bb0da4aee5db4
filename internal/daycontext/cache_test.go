package daycontext_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanpipe/internal/daycontext"
	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
)

type countingBackend struct {
	profiles map[string]*scan.Profile
	logs     map[string]*scan.DayLog
	reads    int
}

func newBackend() *countingBackend {
	return &countingBackend{profiles: map[string]*scan.Profile{}, logs: map[string]*scan.DayLog{}}
}

func (b *countingBackend) GetDayLog(_ context.Context, userID, date string) (*scan.DayLog, error) {
	return b.logs[scan.InstanceKey(userID, date)], nil
}

func (b *countingBackend) GetUserProfile(_ context.Context, userID string) (*scan.Profile, error) {
	b.reads++
	return b.profiles[userID], nil
}

func (b *countingBackend) PutDayLog(_ context.Context, log *scan.DayLog) error {
	b.logs[scan.InstanceKey(log.UserID, log.Date)] = log
	return nil
}

func (b *countingBackend) PutUserProfile(_ context.Context, profile *scan.Profile) error {
	b.profiles[profile.UserID] = profile
	return nil
}

func TestProfileReadsAreCached(t *testing.T) {
	backend := newBackend()
	backend.profiles["u1"] = &scan.Profile{UserID: "u1", Goal: "cut", Badges: []string{"first-scan"}}
	cache := daycontext.New(backend, 8, time.Minute, logging.NewNop())
	ctx := context.Background()

	first, err := cache.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	first.Badges[0] = "mutated"

	second, err := cache.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.reads)
	assert.Equal(t, "first-scan", second.Badges[0], "callers must not be able to mutate cached entries")
}

func TestMissingProfileIsCached(t *testing.T) {
	backend := newBackend()
	cache := daycontext.New(backend, 8, time.Minute, logging.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		profile, err := cache.GetUserProfile(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, profile)
	}
	assert.Equal(t, 1, backend.reads)
}

func TestPutProfileInvalidates(t *testing.T) {
	backend := newBackend()
	cache := daycontext.New(backend, 8, time.Minute, logging.NewNop())
	ctx := context.Background()

	profile, err := cache.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, profile)

	require.NoError(t, cache.PutUserProfile(ctx, &scan.Profile{UserID: "u1", Privacy: &scan.PrivacySettings{ShowTrend: true}}))
	assert.Equal(t, 0, cache.Len())

	profile, err = cache.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.True(t, profile.Privacy.ShowTrend)
}

func TestDisabledCacheReadsThrough(t *testing.T) {
	backend := newBackend()
	cache := daycontext.New(backend, 0, time.Minute, logging.NewNop())
	ctx := context.Background()

	_, _ = cache.GetUserProfile(ctx, "u1")
	_, _ = cache.GetUserProfile(ctx, "u1")
	assert.Equal(t, 2, backend.reads)

	require.NoError(t, cache.PutDayLog(ctx, &scan.DayLog{UserID: "u1", Date: "2025-01-10", Workout: "run"}))
	log, err := cache.GetDayLog(ctx, "u1", "2025-01-10")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "run", log.Workout)
}
