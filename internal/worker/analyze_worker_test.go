package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"surfacescan/internal/database"
	"surfacescan/internal/detector"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/vulnfeed"
)

func newTestAnalyzeWorker(t *testing.T, feedURL string) (*AnalyzeWorker, *fakeDatabase, *objectstore.FakeStore) {
	t.Helper()
	db := newFakeDatabase()
	store := objectstore.NewFakeStore()
	det := detector.New(zap.NewNop())
	feed := vulnfeed.New(db, vulnfeed.Config{BaseURL: feedURL, MaxRetries: 1}, zap.NewNop())
	w := NewAnalyzeWorker(db, store, det, feed, zap.NewNop(), 0)
	return w, db, store
}

func TestAnalyzeWorker_Process_CommitsScriptsLibrariesAndFindings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"vulns":[]}`))
	}))
	defer server.Close()

	w, db, store := newTestAnalyzeWorker(t, server.URL)
	ctx := context.Background()

	require.NoError(t, db.CreateScan(ctx, &database.Scan{ID: "scan-1", Status: database.ScanPending}))
	require.NoError(t, store.Upload(ctx, "scans/scan-1/dom-snapshot.html", []byte("<html><body><form method='GET'></form></body></html>"), "text/html"))

	task := AnalysisTask{
		ScanID: "scan-1",
		Artifacts: Artifacts{
			DOMSnapshotPath: "scans/scan-1/dom-snapshot.html",
			Scripts: []ScriptArtifact{
				{IsInline: true, Content: "eval('alert(1)')", ArtifactPath: "inline-0"},
			},
		},
		DOMAnalysis: DOMAnalysis{URL: "http://example.com", IsHTTPS: false},
	}

	err := w.Process(ctx, task)
	require.NoError(t, err)

	committed, err := db.HasCommittedResults(ctx, "scan-1")
	require.NoError(t, err)
	assert.True(t, committed)

	scripts, _ := db.GetScripts(ctx, "scan-1")
	assert.Len(t, scripts, 1)

	findings, _ := db.GetFindings(ctx, "scan-1")
	foundEval := false
	for _, f := range findings {
		if f.Type == database.FindingEvalUsage {
			foundEval = true
		}
	}
	assert.True(t, foundEval, "expected an eval-usage finding from the inline script")

	scan, err := db.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, database.ScanCompleted, scan.Status)
}

func TestAnalyzeWorker_Process_ShortCircuitsWhenAlreadyCommitted(t *testing.T) {
	w, db, _ := newTestAnalyzeWorker(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, db.CreateScan(ctx, &database.Scan{ID: "scan-2", Status: database.ScanRunning}))
	db.committed["scan-2"] = true

	err := w.Process(ctx, AnalysisTask{ScanID: "scan-2"})
	assert.NoError(t, err)
}

func TestAnalyzeWorker_Process_ConcurrentCallsRequeueSecond(t *testing.T) {
	w, db, store := newTestAnalyzeWorker(t, "http://127.0.0.1:1")
	ctx := context.Background()
	require.NoError(t, db.CreateScan(ctx, &database.Scan{ID: "scan-3", Status: database.ScanPending}))
	require.NoError(t, store.Upload(ctx, "snap.html", []byte("<html></html>"), "text/html"))

	w.mu.Lock()
	w.inFlight["scan-3"] = true
	w.mu.Unlock()

	err := w.Process(ctx, AnalysisTask{ScanID: "scan-3", Artifacts: Artifacts{DOMSnapshotPath: "snap.html"}})
	assert.ErrorIs(t, err, errRequeue)
}
