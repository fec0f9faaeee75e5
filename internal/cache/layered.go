package cache

import (
	"context"

	"go.uber.org/zap"

	"surfacescan/internal/database"
)

// durableStore is the narrow slice of database.Database the layered
// cache falls back to, matching internal/vulnfeed.CacheStore.
type durableStore interface {
	GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error)
	UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error
}

// LayeredVulnerabilityCache puts a Redis read-through cache in front
// of the durable vulnerability_cache table, so a cache hit never pays
// a database round trip. It implements the same two-method interface
// internal/vulnfeed.Client expects of its CacheStore, so it drops in
// wherever a bare database.Database was used as one.
type LayeredVulnerabilityCache struct {
	redis *VulnerabilityCache
	db    durableStore
	log   *zap.Logger
}

// NewLayeredVulnerabilityCache wraps db with redis as its fast path.
// redis may be nil, in which case every call falls straight through
// to db — used when Redis is unreachable at startup rather than
// failing the whole worker over an optional cache layer.
func NewLayeredVulnerabilityCache(redis *VulnerabilityCache, db durableStore, logger *zap.Logger) *LayeredVulnerabilityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayeredVulnerabilityCache{redis: redis, db: db, log: logger}
}

// GetVulnerabilityCacheEntry checks Redis first, then falls back to
// the durable store, warming Redis on a durable-store hit.
func (l *LayeredVulnerabilityCache) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error) {
	if l.redis != nil {
		var entry database.VulnerabilityCacheEntry
		if hit, err := l.redis.Get(ctx, entryKey(packageName, version), &entry); err != nil {
			l.log.Warn("vulnerability cache redis read failed, falling back to durable store", zap.Error(err))
		} else if hit {
			return &entry, nil
		}
	}

	entry, err := l.db.GetVulnerabilityCacheEntry(ctx, packageName, version)
	if err != nil || entry == nil {
		return entry, err
	}
	if l.redis != nil {
		if err := l.redis.Set(ctx, entryKey(packageName, version), entry); err != nil {
			l.log.Warn("vulnerability cache redis warm failed", zap.Error(err))
		}
	}
	return entry, nil
}

// UpsertVulnerabilityCacheEntry writes through to the durable store
// (the source of truth) and then best-effort warms Redis.
func (l *LayeredVulnerabilityCache) UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error {
	if err := l.db.UpsertVulnerabilityCacheEntry(ctx, entry); err != nil {
		return err
	}
	if l.redis != nil {
		if err := l.redis.Set(ctx, entryKey(entry.PackageName, entry.Version), entry); err != nil {
			l.log.Warn("vulnerability cache redis warm failed", zap.Error(err))
		}
	}
	return nil
}

func entryKey(packageName string, version *string) string {
	if version == nil || *version == "" {
		return packageName + "@*"
	}
	return packageName + "@" + *version
}
