package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"surfacescan/internal/analyze"
	"surfacescan/internal/database"
	"surfacescan/internal/detector"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/risk"
	"surfacescan/internal/vulnfeed"
)

// AnalyzeWorker implements spec §4.4: consolidate detections across
// scripts, enrich with vulnerability data, score risk, and commit
// atomically.
type AnalyzeWorker struct {
	db          database.Database
	store       objectstore.Store
	detector    *detector.Detector
	feed        *vulnfeed.Client
	logger      *zap.Logger
	taskTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]bool // processing-slot guard, per spec §4.4 step 1
}

// NewAnalyzeWorker builds an AnalyzeWorker. taskTimeout bounds the
// whole Process call (default 600s per spec §4.4).
func NewAnalyzeWorker(db database.Database, store objectstore.Store, det *detector.Detector, feed *vulnfeed.Client, logger *zap.Logger, taskTimeout time.Duration) *AnalyzeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if taskTimeout <= 0 {
		taskTimeout = 600 * time.Second
	}
	return &AnalyzeWorker{
		db:          db,
		store:       store,
		detector:    det,
		feed:        feed,
		logger:      logger,
		taskTimeout: taskTimeout,
		inFlight:    make(map[string]bool),
	}
}

// errRequeue is returned when another Process call in this worker
// already holds the scan's processing slot — the idempotency guard of
// spec §4.4 step 1. The dispatcher handles it like any other error:
// the job goes through queue.Fail, which retries it with backoff and
// counts it as an attempt.
var errRequeue = fmt.Errorf("analysis already in flight for this scan, requeueing")

// Process runs the full analyze-worker algorithm for one task.
func (w *AnalyzeWorker) Process(ctx context.Context, task AnalysisTask) error {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	// Step 1: idempotency / processing-slot guard.
	if !w.claim(task.ScanID) {
		return errRequeue
	}
	defer w.release(task.ScanID)

	if done, err := w.db.HasCommittedResults(ctx, task.ScanID); err == nil && done {
		w.logger.Info("analysis already committed, short-circuiting", zap.String("scanId", task.ScanID))
		return nil
	}

	if _, err := w.db.UpdateScanStatus(ctx, task.ScanID, database.ScanPending, database.ScanRunning, nil); err != nil {
		w.logger.Warn("failed to mark scan running (may already be running)", zap.String("scanId", task.ScanID), zap.Error(err))
	}

	scripts, libraries, findings, err := w.analyze(ctx, task)
	if err != nil {
		if failErr := w.db.FailScan(ctx, task.ScanID, err.Error()); failErr != nil {
			w.logger.Error("failed to record scan failure", zap.String("scanId", task.ScanID), zap.Error(failErr))
		}
		return err
	}

	libRisks := make([]float64, 0, len(libraries))
	for _, lib := range libraries {
		libRisks = append(libRisks, lib.RiskScore)
	}
	criticalFindings := 0
	for _, f := range findings {
		if f.Severity == database.SeverityCritical {
			criticalFindings++
		}
	}
	globalRisk := risk.CalculateGlobalRisk(libRisks, criticalFindings)

	if err := w.db.CommitAnalysis(ctx, task.ScanID, scripts, libraries, findings, globalRisk); err != nil {
		if failErr := w.db.FailScan(ctx, task.ScanID, err.Error()); failErr != nil {
			w.logger.Error("failed to record commit failure", zap.String("scanId", task.ScanID), zap.Error(failErr))
		}
		return fmt.Errorf("commit analysis: %w", err)
	}

	return nil
}

func (w *AnalyzeWorker) claim(scanID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[scanID] {
		return false
	}
	w.inFlight[scanID] = true
	return true
}

func (w *AnalyzeWorker) release(scanID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, scanID)
}

// scriptDetections bundles one script's persisted row with the raw
// detections produced against its content, kept distinct until
// consolidation runs across every script (spec §4.4 step 4).
type scriptDetections struct {
	script     database.Script
	detections []detector.Detection
}

func (w *AnalyzeWorker) analyze(ctx context.Context, task AnalysisTask) ([]database.Script, []database.Library, []database.Finding, error) {
	var (
		scripts   []database.Script
		allDrafts []analyze.FindingDraft
		perScript []scriptDetections
	)

	pageCtx := analyze.PageContext{
		HTML:             "", // set below once the DOM snapshot is loaded
		URL:              task.DOMAnalysis.URL,
		IsHTTPS:          task.DOMAnalysis.IsHTTPS,
		Headers:          task.DOMAnalysis.ResponseHeaders,
		SetCookieHeaders: task.DOMAnalysis.SetCookieHeaders,
	}
	if snapshot, err := w.store.Download(ctx, task.Artifacts.DOMSnapshotPath); err == nil {
		pageCtx.HTML = string(snapshot)
	} else {
		w.logger.Warn("dom snapshot unavailable, surface checks skipped", zap.String("scanId", task.ScanID), zap.Error(err))
	}
	allDrafts = append(allDrafts, analyze.AnalyzeSurface(pageCtx)...)

	// Step 2/3: per-script pattern scan + detection.
	for _, sa := range task.Artifacts.Scripts {
		content := sa.Content
		if content == "" && sa.ArtifactPath != "" {
			data, err := w.store.Download(ctx, sa.ArtifactPath)
			if err != nil {
				w.logger.Warn("script artifact fetch failed", zap.String("path", sa.ArtifactPath), zap.Error(err))
				continue
			}
			content = string(data)
		}

		location := sa.ArtifactPath
		if sa.IsInline {
			location = "inline:" + sa.ArtifactPath
		}
		allDrafts = append(allDrafts, analyze.DetectRiskyPatterns(content, location)...)

		var sourceMap []byte
		if !sa.IsInline {
			if mapPath, ok := task.DOMAnalysis.SourceMaps[sourceMappingURL(content)]; ok {
				if data, err := w.store.Download(ctx, mapPath); err == nil {
					sourceMap = data
				}
			}
		}

		in := detector.Input{Content: content, SourceMap: sourceMap}
		if !sa.IsInline {
			in.SourceURL = sa.SourceURL
		}
		detections := w.detector.Detect(ctx, in)

		fingerprint := fingerprintContent(content)
		script := database.Script{
			ID:           uuid.NewString(),
			ScanID:       task.ScanID,
			IsInline:     sa.IsInline,
			ArtifactPath: sa.ArtifactPath,
			Fingerprint:  fingerprint,
			Confidence:   topConfidence(detections),
		}
		if !sa.IsInline {
			url := sa.SourceURL
			script.SourceURL = &url
		}
		if v := topVersion(detections); v != "" {
			script.EstimatedVersion = &v
		}
		for _, d := range detections {
			script.DetectedPatterns = append(script.DetectedPatterns, d.Name)
		}

		scripts = append(scripts, script)
		perScript = append(perScript, scriptDetections{script: script, detections: detections})
	}

	// Step 4: consolidate detections across all scripts by name.
	var allDetections []detector.Detection
	relatedScripts := make(map[string][]string) // library name -> script IDs
	for _, psd := range perScript {
		for _, d := range psd.detections {
			allDetections = append(allDetections, d)
			relatedScripts[d.Name] = append(relatedScripts[d.Name], psd.script.ID)
		}
	}
	consolidated := detector.Consolidate(allDetections)

	// Step 5/6: vulnerability enrichment + per-library risk scoring.
	libraries := make([]database.Library, 0, len(consolidated))
	for _, c := range consolidated {
		vulns, err := w.feed.GetVulnerabilities(ctx, c.Name, c.Version)
		if err != nil {
			w.logger.Warn("vulnerability lookup failed", zap.String("library", c.Name), zap.Error(err))
		}

		lib := database.Library{
			ID:              uuid.NewString(),
			ScanID:          task.ScanID,
			Name:            c.Name,
			RelatedScripts:  uniqueStrings(relatedScripts[c.Name]),
			Vulnerabilities: vulns,
			Confidence:      c.Confidence,
		}
		if c.Version != "" {
			v := c.Version
			lib.DetectedVersion = &v
		}
		lib.RiskScore = risk.CalculateLibraryRisk(vulns, c.Confidence, false)
		libraries = append(libraries, lib)
	}

	// Attach ScanID/ID to every surface/pattern finding draft.
	findings := make([]database.Finding, 0, len(allDrafts))
	for _, d := range allDrafts {
		findings = append(findings, d.ToFinding(uuid.NewString(), task.ScanID))
	}

	return scripts, libraries, findings, nil
}

func sourceMappingURL(content string) string {
	const marker = "//# sourceMappingURL="
	idx := strings.LastIndex(content, marker)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(marker):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

func fingerprintContent(content string) string {
	// A stable, cheap fingerprint; collision resistance beyond
	// detecting identical script bodies across a scan is not needed.
	h := uint64(14695981039346656037) // FNV-1a offset basis
	for i := 0; i < len(content); i++ {
		h ^= uint64(content[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}

func topConfidence(detections []detector.Detection) int {
	max := 0
	for _, d := range detections {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}

func topVersion(detections []detector.Detection) string {
	best := ""
	bestConf := -1
	for _, d := range detections {
		if d.Version != "" && d.Confidence > bestConf {
			best = d.Version
			bestConf = d.Confidence
		}
	}
	return best
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
