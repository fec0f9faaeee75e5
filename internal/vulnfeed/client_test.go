package vulnfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacescan/internal/database"
)

type fakeCacheStore struct {
	entries map[string]*database.VulnerabilityCacheEntry
	upserts int
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]*database.VulnerabilityCacheEntry)}
}

func cacheKey(name string, version *string) string {
	if version == nil {
		return name + "|"
	}
	return name + "|" + *version
}

func (f *fakeCacheStore) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error) {
	return f.entries[cacheKey(packageName, version)], nil
}

func (f *fakeCacheStore) UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error {
	f.upserts++
	e := entry
	f.entries[cacheKey(entry.PackageName, entry.Version)] = &e
	return nil
}

func TestGetVulnerabilities_CacheHitSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"vulns":[]}`))
	}))
	defer srv.Close()

	store := newFakeCacheStore()
	version := "1.2.3"
	store.entries[cacheKey("lodash", &version)] = &database.VulnerabilityCacheEntry{
		PackageName:     "lodash",
		Version:         &version,
		Vulnerabilities: []database.Vulnerability{{ID: "GHSA-1", Title: "cached"}},
		LastUpdated:     time.Now(),
		TTLSeconds:      3600,
	}

	c := New(store, Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1}, nil)
	vulns, err := c.GetVulnerabilities(context.Background(), "lodash", "1.2.3")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "cached", vulns[0].Title)
	assert.False(t, called)
}

func TestGetVulnerabilities_ExpiredCacheRefetchesAndUpserts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "npm", req.Package.Ecosystem)
		score := 9.8
		json.NewEncoder(w).Encode(queryResponse{Vulns: []feedVulnerability{
			{ID: "GHSA-2", Summary: "prototype pollution", CVSSScore: &score},
		}})
	}))
	defer srv.Close()

	store := newFakeCacheStore()
	version := "4.17.15"
	store.entries[cacheKey("lodash", &version)] = &database.VulnerabilityCacheEntry{
		PackageName: "lodash",
		Version:     &version,
		LastUpdated: time.Now().Add(-48 * time.Hour),
		TTLSeconds:  3600,
	}

	c := New(store, Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1}, nil)
	vulns, err := c.GetVulnerabilities(context.Background(), "lodash", "4.17.15")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, database.SeverityCritical, vulns[0].Severity)
	assert.Equal(t, 1, store.upserts)
}

func TestGetVulnerabilities_NetworkFailureReturnsEmptyNotError(t *testing.T) {
	store := newFakeCacheStore()
	c := New(store, Config{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond, MaxRetries: 1}, nil)
	vulns, err := c.GetVulnerabilities(context.Background(), "leftpad", "")
	require.NoError(t, err)
	assert.Empty(t, vulns)
	assert.Equal(t, 0, store.upserts, "a failed fetch must not poison the cache with a negative result")
}

func TestGetVulnerabilities_EmptyFeedResultUsesNegativeTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{Vulns: nil})
	}))
	defer srv.Close()

	store := newFakeCacheStore()
	c := New(store, Config{
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		MaxRetries:  1,
		PositiveTTL: 24 * time.Hour,
		NegativeTTL: 15 * time.Minute,
	}, nil)

	vulns, err := c.GetVulnerabilities(context.Background(), "left-pad", "1.0.0")
	require.NoError(t, err)
	assert.Empty(t, vulns)

	version := "1.0.0"
	entry := store.entries[cacheKey("left-pad", &version)]
	require.NotNil(t, entry)
	assert.Equal(t, int((15 * time.Minute).Seconds()), entry.TTLSeconds)
}

func TestGetVulnerabilities_PositiveFeedResultUsesPositiveTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		score := 9.8
		json.NewEncoder(w).Encode(queryResponse{Vulns: []feedVulnerability{
			{ID: "GHSA-3", Summary: "known bad", CVSSScore: &score},
		}})
	}))
	defer srv.Close()

	store := newFakeCacheStore()
	c := New(store, Config{
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		MaxRetries:  1,
		PositiveTTL: 24 * time.Hour,
		NegativeTTL: 15 * time.Minute,
	}, nil)

	vulns, err := c.GetVulnerabilities(context.Background(), "jquery", "1.12.4")
	require.NoError(t, err)
	require.Len(t, vulns, 1)

	version := "1.12.4"
	entry := store.entries[cacheKey("jquery", &version)]
	require.NotNil(t, entry)
	assert.Equal(t, int((24 * time.Hour).Seconds()), entry.TTLSeconds)
}

func TestGetVulnerabilities_ServerErrorIsRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(queryResponse{Vulns: nil})
	}))
	defer srv.Close()

	store := newFakeCacheStore()
	c := New(store, Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 3}, nil)
	vulns, err := c.GetVulnerabilities(context.Background(), "react", "")
	require.NoError(t, err)
	assert.Empty(t, vulns)
	assert.Equal(t, 2, attempts)
}
