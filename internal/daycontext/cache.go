// Package daycontext wraps the day-context backend with an in-memory profile
// cache for the context binder. Day logs are read through on every call
// because users edit them during the day. Privacy publication reads the
// backend directly and never goes through this cache.
package daycontext

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/scan"
)

// Backend is what the cache reads through to and writes through to.
type Backend interface {
	scan.DayContext
	scan.DayContextWriter
}

// Cached implements scan.DayContext and scan.DayContextWriter.
type Cached struct {
	backend  Backend
	profiles *expirable.LRU[string, *scan.Profile]
	logger   *slog.Logger
}

// missing marks a user with no profile so repeated lookups stay cached too.
var missing = &scan.Profile{}

// New creates a cache of the given size and TTL. A non-positive size disables caching.
func New(backend Backend, size int, ttl time.Duration, logger *slog.Logger) *Cached {
	c := &Cached{
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "daycontext"),
	}
	if size > 0 {
		c.profiles = expirable.NewLRU[string, *scan.Profile](size, nil, ttl)
	}
	return c
}

func (c *Cached) GetDayLog(ctx context.Context, userID, date string) (*scan.DayLog, error) {
	return c.backend.GetDayLog(ctx, userID, date)
}

// GetUserProfile returns a copy of the cached profile or loads it from the backend.
func (c *Cached) GetUserProfile(ctx context.Context, userID string) (*scan.Profile, error) {
	if c.profiles != nil {
		if profile, ok := c.profiles.Get(userID); ok {
			metrics.CacheHit()
			if profile == missing {
				return nil, nil
			}
			return cloneProfile(profile), nil
		}
		metrics.CacheMiss()
	}

	profile, err := c.backend.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.profiles != nil {
		if profile == nil {
			c.profiles.Add(userID, missing)
		} else {
			c.profiles.Add(userID, cloneProfile(profile))
		}
	}
	return profile, nil
}

func (c *Cached) PutDayLog(ctx context.Context, log *scan.DayLog) error {
	return c.backend.PutDayLog(ctx, log)
}

// PutUserProfile writes through and drops the cached entry.
func (c *Cached) PutUserProfile(ctx context.Context, profile *scan.Profile) error {
	if err := c.backend.PutUserProfile(ctx, profile); err != nil {
		return err
	}
	c.Invalidate(profile.UserID)
	return nil
}

// Invalidate drops a user's cached profile.
func (c *Cached) Invalidate(userID string) {
	if c.profiles == nil {
		return
	}
	if c.profiles.Remove(userID) {
		c.logger.Debug("profile cache entry invalidated", logging.String("user_id", userID))
	}
}

// Len reports the number of cached profiles.
func (c *Cached) Len() int {
	if c.profiles == nil {
		return 0
	}
	return c.profiles.Len()
}

func cloneProfile(p *scan.Profile) *scan.Profile {
	cp := *p
	if p.Badges != nil {
		cp.Badges = append([]string(nil), p.Badges...)
	}
	if p.Privacy != nil {
		privacy := *p.Privacy
		cp.Privacy = &privacy
	}
	if p.TargetWeightKg != nil {
		target := *p.TargetWeightKg
		cp.TargetWeightKg = &target
	}
	return &cp
}
