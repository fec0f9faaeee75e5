package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surfacescan/internal/database"
)

// fakeDatabase is an in-process database.Database double used across
// this package's tests, mirroring the in-memory fake pattern already
// used for the job queue (internal/queue/fake_queue.go) and object
// store (internal/objectstore/fake_store.go).
type fakeDatabase struct {
	mu sync.Mutex

	scans     map[string]*database.Scan
	scripts   map[string][]database.Script
	libraries map[string][]database.Library
	findings  map[string][]database.Finding
	committed map[string]bool
	cache     map[string]*database.VulnerabilityCacheEntry
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		scans:     make(map[string]*database.Scan),
		scripts:   make(map[string][]database.Script),
		libraries: make(map[string][]database.Library),
		findings:  make(map[string][]database.Finding),
		committed: make(map[string]bool),
		cache:     make(map[string]*database.VulnerabilityCacheEntry),
	}
}

func (f *fakeDatabase) Connect(ctx context.Context) error { return nil }
func (f *fakeDatabase) Close() error                      { return nil }
func (f *fakeDatabase) Health(ctx context.Context) error  { return nil }

func (f *fakeDatabase) CreateScan(ctx context.Context, scan *database.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[scan.ID] = scan
	return nil
}

func (f *fakeDatabase) GetScan(ctx context.Context, id string) (*database.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan not found: %s", id)
	}
	return s, nil
}

func (f *fakeDatabase) GetLatestScanForURL(ctx context.Context, url string) (*database.Scan, error) {
	return nil, fmt.Errorf("not found")
}

func (f *fakeDatabase) ListScans(ctx context.Context, filter database.ScanListFilter) (*database.ScanList, error) {
	return &database.ScanList{}, nil
}

func (f *fakeDatabase) UpdateScanStatus(ctx context.Context, id string, prevStatus, newStatus database.ScanStatus, errMsg *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok {
		s = &database.Scan{ID: id, Status: prevStatus}
		f.scans[id] = s
	}
	if s.Status != prevStatus {
		return false, nil
	}
	s.Status = newStatus
	if errMsg != nil {
		s.Error = errMsg
	}
	return true, nil
}

func (f *fakeDatabase) UpdateScanProgress(ctx context.Context, id string, startedAt *time.Time) error {
	return nil
}

func (f *fakeDatabase) DeleteScan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scans, id)
	return nil
}

func (f *fakeDatabase) CommitAnalysis(ctx context.Context, scanID string, scripts []database.Script, libraries []database.Library, findings []database.Finding, globalRisk float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[scanID] = scripts
	f.libraries[scanID] = libraries
	f.findings[scanID] = findings
	f.committed[scanID] = true
	if s, ok := f.scans[scanID]; ok {
		s.Status = database.ScanCompleted
		s.GlobalRiskScore = globalRisk
	}
	return nil
}

func (f *fakeDatabase) FailScan(ctx context.Context, scanID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.scans[scanID]; ok {
		s.Status = database.ScanFailed
		s.Error = &reason
	}
	return nil
}

func (f *fakeDatabase) GetScripts(ctx context.Context, scanID string) ([]database.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scripts[scanID], nil
}

func (f *fakeDatabase) GetLibraries(ctx context.Context, scanID string) ([]database.Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.libraries[scanID], nil
}

func (f *fakeDatabase) GetFindings(ctx context.Context, scanID string) ([]database.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findings[scanID], nil
}

func (f *fakeDatabase) HasCommittedResults(ctx context.Context, scanID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed[scanID], nil
}

func (f *fakeDatabase) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[cacheKey(packageName, version)], nil
}

func (f *fakeDatabase) UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := entry
	f.cache[cacheKey(entry.PackageName, entry.Version)] = &e
	return nil
}

func (f *fakeDatabase) GetAnalyticsSummary(ctx context.Context) (*database.AnalyticsSummary, error) {
	return &database.AnalyticsSummary{}, nil
}

func cacheKey(name string, version *string) string {
	if version == nil {
		return name + "@"
	}
	return name + "@" + *version
}
