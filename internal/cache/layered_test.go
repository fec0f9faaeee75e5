package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacescan/internal/database"
)

// fakeDurableStore is an in-memory stand-in for the database layer the
// layered cache falls back to. Exercising the redis-hit path would
// require a live Redis server (VulnerabilityCache wraps a concrete
// *redis.Client, not an interface), so these tests cover the
// nil-redis degradation path: every call must behave exactly like a
// direct call to the durable store.
type fakeDurableStore struct {
	entries   map[string]*database.VulnerabilityCacheEntry
	getErr    error
	upsertErr error
	upserted  []database.VulnerabilityCacheEntry
}

func newFakeDurableStore() *fakeDurableStore {
	return &fakeDurableStore{entries: make(map[string]*database.VulnerabilityCacheEntry)}
}

func (f *fakeDurableStore) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[entryKey(packageName, version)], nil
}

func (f *fakeDurableStore) UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, entry)
	f.entries[entryKey(entry.PackageName, entry.Version)] = &entry
	return nil
}

func TestLayeredCache_NilRedisFallsThroughToDurableStoreOnGet(t *testing.T) {
	version := "1.2.3"
	db := newFakeDurableStore()
	db.entries[entryKey("left-pad", &version)] = &database.VulnerabilityCacheEntry{PackageName: "left-pad", Version: &version}

	l := NewLayeredVulnerabilityCache(nil, db, nil)

	entry, err := l.GetVulnerabilityCacheEntry(context.Background(), "left-pad", &version)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "left-pad", entry.PackageName)
}

func TestLayeredCache_NilRedisReturnsNilOnDurableStoreMiss(t *testing.T) {
	db := newFakeDurableStore()
	l := NewLayeredVulnerabilityCache(nil, db, nil)

	version := "9.9.9"
	entry, err := l.GetVulnerabilityCacheEntry(context.Background(), "missing-pkg", &version)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLayeredCache_PropagatesDurableStoreGetError(t *testing.T) {
	db := newFakeDurableStore()
	db.getErr = errors.New("connection refused")
	l := NewLayeredVulnerabilityCache(nil, db, nil)

	version := "1.0.0"
	_, err := l.GetVulnerabilityCacheEntry(context.Background(), "some-pkg", &version)
	assert.EqualError(t, err, "connection refused")
}

func TestLayeredCache_UpsertWritesThroughToDurableStore(t *testing.T) {
	db := newFakeDurableStore()
	l := NewLayeredVulnerabilityCache(nil, db, nil)

	version := "2.0.0"
	require.NoError(t, l.UpsertVulnerabilityCacheEntry(context.Background(), database.VulnerabilityCacheEntry{
		PackageName: "some-pkg",
		Version:     &version,
	}))

	require.Len(t, db.upserted, 1)
	assert.Equal(t, "some-pkg", db.upserted[0].PackageName)
}

func TestLayeredCache_UpsertPropagatesDurableStoreError(t *testing.T) {
	db := newFakeDurableStore()
	db.upsertErr = errors.New("disk full")
	l := NewLayeredVulnerabilityCache(nil, db, nil)

	version := "3.0.0"
	err := l.UpsertVulnerabilityCacheEntry(context.Background(), database.VulnerabilityCacheEntry{PackageName: "x", Version: &version})
	assert.EqualError(t, err, "disk full")
}

func TestEntryKey_NilOrEmptyVersionUsesWildcard(t *testing.T) {
	assert.Equal(t, "left-pad@*", entryKey("left-pad", nil))
	empty := ""
	assert.Equal(t, "left-pad@*", entryKey("left-pad", &empty))
	version := "1.2.3"
	assert.Equal(t, "left-pad@1.2.3", entryKey("left-pad", &version))
}
