package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surfacescan/internal/database"
)

// fakeDatabase is a minimal in-process database.Database double for
// this package's tests, mirroring the pattern used in
// internal/worker/fake_database_test.go.
type fakeDatabase struct {
	mu    sync.Mutex
	scans map[string]*database.Scan
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{scans: make(map[string]*database.Scan)}
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
		return nil, database.ErrScanNotFound
	}
	return s, nil
}

func (f *fakeDatabase) GetLatestScanForURL(ctx context.Context, url string) (*database.Scan, error) {
	return nil, database.ErrScanNotFound
}

func (f *fakeDatabase) ListScans(ctx context.Context, filter database.ScanListFilter) (*database.ScanList, error) {
	return &database.ScanList{}, nil
}

func (f *fakeDatabase) UpdateScanStatus(ctx context.Context, id string, prevStatus, newStatus database.ScanStatus, errMsg *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok {
		return false, fmt.Errorf("scan not found: %s", id)
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
	return nil
}

func (f *fakeDatabase) FailScan(ctx context.Context, scanID string, reason string) error {
	return nil
}

func (f *fakeDatabase) GetScripts(ctx context.Context, scanID string) ([]database.Script, error) {
	return nil, nil
}

func (f *fakeDatabase) GetLibraries(ctx context.Context, scanID string) ([]database.Library, error) {
	return nil, nil
}

func (f *fakeDatabase) GetFindings(ctx context.Context, scanID string) ([]database.Finding, error) {
	return nil, nil
}

func (f *fakeDatabase) HasCommittedResults(ctx context.Context, scanID string) (bool, error) {
	return false, nil
}

func (f *fakeDatabase) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error) {
	return nil, nil
}

func (f *fakeDatabase) UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error {
	return nil
}

func (f *fakeDatabase) GetAnalyticsSummary(ctx context.Context) (*database.AnalyticsSummary, error) {
	return &database.AnalyticsSummary{}, nil
}
