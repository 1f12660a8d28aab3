package redis

import (
	"context"
	"errors"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ProfileCache decorates a risk.ProfileRepository with a Redis read cache on
// the (student, year) lookup, which dashboards hit far more often than the
// analysis jobs write. Every write path invalidates the cached entry and
// delegates; everything else passes through.
type ProfileCache struct {
	inner risk.ProfileRepository
	cache *Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewProfileCache wraps the repository with the read cache.
func NewProfileCache(inner risk.ProfileRepository, cache *Cache, log *logger.Logger) *ProfileCache {
	return &ProfileCache{inner: inner, cache: cache, ttl: TTLProfileCache, log: log}
}

// GetByStudent serves the profile from cache when possible.
// Cache failures degrade to a direct repository read.
func (c *ProfileCache) GetByStudent(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	key, ok := c.key(ctx, studentID, year)
	if ok {
		var cached risk.Profile
		err := c.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("profile cache read failed", logger.StudentID(studentID), logger.Err(err))
		}
	}

	profile, err := c.inner.GetByStudent(ctx, studentID, year)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := c.cache.Set(ctx, key, profile, c.ttl); err != nil {
			c.log.Warn("profile cache write failed", logger.StudentID(studentID), logger.Err(err))
		}
	}
	return profile, nil
}

// GetOrCreate delegates and invalidates: a fresh profile must not race a
// stale cached miss.
func (c *ProfileCache) GetOrCreate(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	profile, err := c.inner.GetOrCreate(ctx, studentID, year)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, studentID, year)
	return profile, nil
}

// GetByID always reads through: the cache is keyed by (student, year).
func (c *ProfileCache) GetByID(ctx context.Context, id string) (*risk.Profile, error) {
	return c.inner.GetByID(ctx, id)
}

// UpdateFromScoring writes through and drops the cached entry.
func (c *ProfileCache) UpdateFromScoring(ctx context.Context, profile *risk.Profile) error {
	if err := c.inner.UpdateFromScoring(ctx, profile); err != nil {
		return err
	}
	c.invalidate(ctx, profile.StudentID, profile.AcademicYear)
	return nil
}

// MergeIndicators writes through; the profile ID alone does not address the
// cache, so the entry is looked up through the repository first.
func (c *ProfileCache) MergeIndicators(ctx context.Context, profileID string, patch map[string]interface{}) error {
	if err := c.inner.MergeIndicators(ctx, profileID, patch); err != nil {
		return err
	}
	if profile, err := c.inner.GetByID(ctx, profileID); err == nil {
		c.invalidate(ctx, profile.StudentID, profile.AcademicYear)
	}
	return nil
}

// SetMonitoring writes through and drops the cached entry.
func (c *ProfileCache) SetMonitoring(ctx context.Context, profile *risk.Profile) error {
	if err := c.inner.SetMonitoring(ctx, profile); err != nil {
		return err
	}
	c.invalidate(ctx, profile.StudentID, profile.AcademicYear)
	return nil
}

// ListByStudents passes through; bulk reads are not cached.
func (c *ProfileCache) ListByStudents(ctx context.Context, studentIDs []string, year shared.AcademicYear) ([]*risk.Profile, error) {
	return c.inner.ListByStudents(ctx, studentIDs, year)
}

// ListMonitored passes through.
func (c *ProfileCache) ListMonitored(ctx context.Context, year shared.AcademicYear) ([]*risk.Profile, error) {
	return c.inner.ListMonitored(ctx, year)
}

// ListStale passes through.
func (c *ProfileCache) ListStale(ctx context.Context, year shared.AcademicYear, cutoff time.Time) ([]string, error) {
	return c.inner.ListStale(ctx, year, cutoff)
}

// ListAtLeast passes through.
func (c *ProfileCache) ListAtLeast(ctx context.Context, year shared.AcademicYear, level risk.Level) ([]*risk.Profile, error) {
	return c.inner.ListAtLeast(ctx, year, level)
}

// WithAnalysisLock passes through to the repository's advisory lock.
func (c *ProfileCache) WithAnalysisLock(ctx context.Context, profileID string, fn func(ctx context.Context) error) error {
	return c.inner.WithAnalysisLock(ctx, profileID, fn)
}

func (c *ProfileCache) key(ctx context.Context, studentID string, year shared.AcademicYear) (string, bool) {
	tenant, ok := shared.TenantFromContext(ctx)
	if !ok {
		return "", false
	}
	return ProfileKey(tenant.String(), studentID, year.String()), true
}

func (c *ProfileCache) invalidate(ctx context.Context, studentID string, year shared.AcademicYear) {
	key, ok := c.key(ctx, studentID, year)
	if !ok {
		return
	}
	if err := c.cache.Delete(ctx, key); err != nil {
		c.log.Warn("profile cache invalidation failed", logger.StudentID(studentID), logger.Err(err))
	}
}
