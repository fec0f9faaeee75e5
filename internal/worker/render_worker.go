package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/chromedp/chromedp"
	"github.com/tomnomnom/linkheader"
	"go.uber.org/zap"

	"surfacescan/internal/config"
	"surfacescan/internal/database"
	"surfacescan/internal/objectstore"
	"surfacescan/internal/queue"
	"surfacescan/internal/ssrf"
)

// domExtraction is what the in-page JS snippet below hands back for
// one rendered page.
type domExtraction struct {
	InlineScripts   []InlineScriptRef   `json:"inlineScripts"`
	ExternalScripts []ExternalScriptRef `json:"externalScripts"`
	Links           []string            `json:"links"`
}

// extractionScript runs in the page context after load and pulls the
// script inventory chromedp's own API doesn't expose directly.
const extractionScript = `
(function() {
	var inline = [];
	var external = [];
	var links = [];
	var scripts = document.getElementsByTagName('script');
	for (var i = 0; i < scripts.length; i++) {
		var s = scripts[i];
		var attrs = {};
		for (var j = 0; j < s.attributes.length; j++) {
			attrs[s.attributes[j].name] = s.attributes[j].value;
		}
		if (s.src) {
			external.push({sourceUrl: s.src, attributes: attrs});
		} else {
			inline.push({content: s.textContent || '', attributes: attrs});
		}
	}
	var anchors = document.getElementsByTagName('a');
	for (var k = 0; k < anchors.length; k++) {
		if (anchors[k].href) {
			links.push(anchors[k].href);
		}
	}
	return {inlineScripts: inline, externalScripts: external, links: links};
})()
`

// RenderWorker implements spec §4.3: drives a headless browser over
// the target, collects the page's script and network surface, and
// hands the result to the analyze worker.
type RenderWorker struct {
	db        database.Database
	store     objectstore.Store
	queue     queue.Queue
	ssrfCfg   *config.SSRFConfig
	renderCfg config.RenderConfig
	logger    *zap.Logger

	scriptClient *http.Client
	robots       *robotsChecker
}

// NewRenderWorker builds a RenderWorker. The same ssrfCfg governs both
// the pre-browse validation and the redirect/dial enforcement used
// while fetching external script bodies.
func NewRenderWorker(db database.Database, store objectstore.Store, q queue.Queue, ssrfCfg *config.SSRFConfig, renderCfg config.RenderConfig, logger *zap.Logger) *RenderWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := newSSRFSafeClient(ssrfCfg, renderCfg.ScriptFetchTimeout)
	return &RenderWorker{
		db:           db,
		store:        store,
		queue:        q,
		ssrfCfg:      ssrfCfg,
		renderCfg:    renderCfg,
		logger:       logger,
		scriptClient: client,
		robots:       newRobotsChecker(client, renderCfg.UserAgent),
	}
}

// Process runs the full render-worker algorithm for one ScanTask.
func (w *RenderWorker) Process(ctx context.Context, task ScanTask) (TaskResult, error) {
	timeout := time.Duration(task.Parameters.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+w.renderCfg.AnalysisWaitSlack)
	defer cancel()

	if _, err := w.db.UpdateScanStatus(ctx, task.ScanID, database.ScanPending, database.ScanRunning, nil); err != nil {
		w.logger.Warn("failed to mark scan running", zap.String("scanId", task.ScanID), zap.Error(err))
	}
	w.reportProgress(ctx, task.ScanID, 10)

	target, err := ssrf.ValidateTargetURL(ctx, task.URL, w.ssrfCfg)
	if err != nil {
		return w.fail(ctx, task.ScanID, fmt.Errorf("target rejected at browse time: %w", err))
	}

	pages, err := w.render(ctx, target, task.Parameters)
	if err != nil {
		return w.fail(ctx, task.ScanID, fmt.Errorf("render: %w", err))
	}
	w.reportProgress(ctx, task.ScanID, 40)

	dom := mergePages(target, pages)

	snapshotPath := objectstore.ScanArtifactPath(task.ScanID, "dom-snapshot.html")
	if err := w.store.Upload(ctx, snapshotPath, []byte(pages[0].html), "text/html"); err != nil {
		return w.fail(ctx, task.ScanID, fmt.Errorf("upload dom snapshot: %w", err))
	}

	scripts, fetchErrors, linkedSourceMaps := w.fetchExternalScripts(ctx, task.ScanID, dom.ExternalScripts)
	for scriptURL, mapURL := range linkedSourceMaps {
		if _, exists := dom.SourceMaps[scriptURL]; !exists {
			dom.SourceMaps[scriptURL] = mapURL
		}
	}
	for i, inline := range dom.InlineScripts {
		scripts = append(scripts, ScriptArtifact{
			IsInline:     true,
			Content:      inline.Content,
			ArtifactPath: fmt.Sprintf("inline-%d", i),
		})
	}
	w.reportProgress(ctx, task.ScanID, 70)

	artifacts := Artifacts{DOMSnapshotPath: snapshotPath, Scripts: scripts}
	analysisTask := AnalysisTask{
		ScanID:      task.ScanID,
		Artifacts:   artifacts,
		DOMAnalysis: dom,
		FetchErrors: fetchErrors,
	}

	if _, err := w.queue.Enqueue(ctx, queue.AnalysisQueueName, analysisTask, queue.EnqueueOptions{
		JobID:       task.ScanID,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		Timeout:     600 * time.Second,
	}); err != nil {
		return w.fail(ctx, task.ScanID, fmt.Errorf("enqueue analysis job: %w", err))
	}
	w.reportProgress(ctx, task.ScanID, 85)

	waitDeadline := timeout
	if waitDeadline < 30*time.Second {
		waitDeadline = 30 * time.Second
	}
	waitDeadline += w.renderCfg.AnalysisWaitSlack

	if err := w.waitForAnalysis(ctx, task.ScanID, waitDeadline); err != nil {
		return w.fail(ctx, task.ScanID, err)
	}
	w.reportProgress(ctx, task.ScanID, 100)

	return TaskResult{ScanID: task.ScanID, Success: true, Artifacts: artifacts}, nil
}

func (w *RenderWorker) fail(ctx context.Context, scanID string, cause error) (TaskResult, error) {
	if err := w.db.FailScan(ctx, scanID, cause.Error()); err != nil {
		w.logger.Error("failed to record scan failure", zap.String("scanId", scanID), zap.Error(err))
	}
	return TaskResult{ScanID: scanID, Success: false, Error: cause.Error()}, cause
}

func (w *RenderWorker) reportProgress(ctx context.Context, scanID string, pct int) {
	if err := w.queue.SetProgress(ctx, queue.ScanQueueName, scanID, pct); err != nil {
		w.logger.Debug("progress update failed", zap.String("scanId", scanID), zap.Error(err))
	}
}

// waitForAnalysis polls the scan's own status for scanID until the
// analyze worker commits (database.ScanCompleted), fails terminally
// (database.ScanFailed), or deadline elapses (spec §4.3 step 7).
//
// The queue itself isn't a reliable completion signal here: both
// RedisQueue and FakeQueue delete a job's record on Complete, so a
// completed job and one that never existed are indistinguishable via
// GetJob. The scan row's status, set atomically by CommitAnalysis/
// FailScan, doesn't have that ambiguity.
func (w *RenderWorker) waitForAnalysis(ctx context.Context, scanID string, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("analysis job timeout")
		case <-ticker.C:
			scan, err := w.db.GetScan(ctx, scanID)
			if err != nil {
				continue
			}
			switch scan.Status {
			case database.ScanCompleted:
				return nil
			case database.ScanFailed:
				reason := "analysis failed"
				if scan.Error != nil {
					reason = *scan.Error
				}
				return fmt.Errorf("analysis job failed: %s", reason)
			}
		}
	}
}

type renderedPage struct {
	url             *url.URL
	html            string
	inlineScripts   []InlineScriptRef
	externalScripts []ExternalScriptRef
	resources       []NetworkResource
	sourceMaps      map[string]string
	responseHeaders map[string]string
}

// render drives the chromedp browser over one page, or a same-origin
// BFS crawl when parameters.depth > 0, per spec §4.3 step 3.
func (w *RenderWorker) render(ctx context.Context, target *url.URL, params database.ScanParameters) ([]renderedPage, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(w.renderCfg.UserAgent),
			chromedp.Flag("headless", true),
		)...,
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	maxPages := w.renderCfg.MaxPages
	if maxPages <= 0 || maxPages > 100 {
		maxPages = 100
	}
	if params.Depth <= 0 {
		page, err := w.renderOne(browserCtx, target)
		if err != nil {
			return nil, err
		}
		return []renderedPage{page}, nil
	}

	visited := map[string]bool{target.String(): true}
	frontier := []*url.URL{target}
	var pages []renderedPage

	for depth := 0; depth <= params.Depth && len(frontier) > 0 && len(pages) < maxPages; depth++ {
		var next []*url.URL
		for _, u := range frontier {
			if len(pages) >= maxPages {
				break
			}
			if w.renderCfg.RespectRobotsTxt && !w.robots.allowed(ctx, u) {
				continue
			}
			page, err := w.renderOne(browserCtx, u)
			if err != nil {
				w.logger.Warn("page render failed, skipping", zap.String("url", u.String()), zap.Error(err))
				continue
			}
			pages = append(pages, page)

			if depth < params.Depth {
				for _, link := range extractLinks(page.html, u) {
					if !sameOrigin(target, link) || visited[link.String()] {
						continue
					}
					visited[link.String()] = true
					next = append(next, link)
				}
			}
		}
		frontier = next
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page could be rendered")
	}
	return pages, nil
}

func (w *RenderWorker) renderOne(browserCtx context.Context, target *url.URL) (renderedPage, error) {
	capture := newNetworkCapture()
	capture.attach(browserCtx)

	var html string
	var extraction domExtraction

	err := chromedp.Run(browserCtx,
		enableNetwork(),
		chromedp.Navigate(target.String()),
		chromedp.Sleep(w.renderCfg.IdleWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(extractionScript, &extraction),
	)
	if err != nil {
		return renderedPage{}, err
	}

	resources, sourceMaps := capture.snapshot()
	headers := map[string]string{}
	for _, r := range resources {
		if r.URL == target.String() {
			headers = r.Headers
			break
		}
	}

	return renderedPage{
		url:             target,
		html:            html,
		inlineScripts:   extraction.InlineScripts,
		externalScripts: extraction.ExternalScripts,
		resources:       resources,
		sourceMaps:      sourceMaps,
		responseHeaders: headers,
	}, nil
}

// mergePages folds every crawled page's artifacts into a single
// DOMAnalysis keyed on the scan's primary target, per spec §4.3 step 3
// ("feeding every visited page's scripts/resources into the same
// per-scan artifact set", SPEC_FULL.md §C).
func mergePages(target *url.URL, pages []renderedPage) DOMAnalysis {
	primary := pages[0]
	dom := DOMAnalysis{
		URL:             target.String(),
		IsHTTPS:         strings.EqualFold(target.Scheme, "https"),
		ResponseHeaders: primary.responseHeaders,
		SourceMaps:      make(map[string]string),
	}

	seenInline := make(map[string]bool)
	seenExternal := make(map[string]bool)

	for _, p := range pages {
		for _, s := range p.inlineScripts {
			if s.Content == "" || seenInline[s.Content] {
				continue
			}
			seenInline[s.Content] = true
			dom.InlineScripts = append(dom.InlineScripts, s)
		}
		for _, s := range p.externalScripts {
			if seenExternal[s.SourceURL] {
				continue
			}
			seenExternal[s.SourceURL] = true
			dom.ExternalScripts = append(dom.ExternalScripts, s)
		}
		dom.NetworkResources = append(dom.NetworkResources, p.resources...)
		for k, v := range p.sourceMaps {
			dom.SourceMaps[k] = v
		}
	}
	return dom
}

// fetchExternalScripts retrieves each external script's body, bounded
// by RENDERER_MAX_EXTERNAL_SCRIPTS, per spec §4.3 step 5. The third
// return value maps a script's URL to a source-map URL discovered via
// its response's Link header (rel=sourcemap), for scripts that
// advertise their map that way instead of a trailing comment.
func (w *RenderWorker) fetchExternalScripts(ctx context.Context, scanID string, refs []ExternalScriptRef) ([]ScriptArtifact, map[string]string, map[string]string) {
	limit := w.renderCfg.MaxExternalScripts
	if limit <= 0 {
		limit = 30
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}

	var artifacts []ScriptArtifact
	fetchErrors := make(map[string]string)
	linkedSourceMaps := make(map[string]string)

	for i, ref := range refs {
		path := objectstore.ScanArtifactPath(scanID, fmt.Sprintf("scripts/external-script-%d.js", i))
		fetched, err := w.fetchOne(ctx, ref.SourceURL)
		if err != nil {
			fetchErrors[ref.SourceURL] = err.Error()
			if uploadErr := w.store.Upload(ctx, path, nil, "application/javascript"); uploadErr != nil {
				w.logger.Warn("failed to upload placeholder for failed script fetch", zap.String("url", ref.SourceURL), zap.Error(uploadErr))
			}
			artifacts = append(artifacts, ScriptArtifact{SourceURL: ref.SourceURL, ArtifactPath: path})
			continue
		}
		if err := w.store.Upload(ctx, path, fetched.body, "application/javascript"); err != nil {
			fetchErrors[ref.SourceURL] = fmt.Sprintf("upload failed: %v", err)
			continue
		}
		if fetched.sourceMapURL != "" {
			linkedSourceMaps[ref.SourceURL] = fetched.sourceMapURL
		}
		artifacts = append(artifacts, ScriptArtifact{SourceURL: ref.SourceURL, ArtifactPath: path})
	}
	return artifacts, fetchErrors, linkedSourceMaps
}

const maxScriptBodyBytes = 5 * 1024 * 1024

// fetchedScript is one external script body plus whatever source-map
// hint its own response carried.
type fetchedScript struct {
	body         []byte
	sourceMapURL string
}

func (w *RenderWorker) fetchOne(ctx context.Context, scriptURL string) (fetchedScript, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ { // one retry, per spec §4.3 step 5
		fetched, err := w.doFetchOne(ctx, scriptURL)
		if err == nil {
			return fetched, nil
		}
		lastErr = err
	}
	return fetchedScript{}, lastErr
}

func (w *RenderWorker) doFetchOne(ctx context.Context, scriptURL string) (fetchedScript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return fetchedScript{}, err
	}
	// identity is preferred, but some CDNs send br regardless; decode
	// it rather than reject, since andybalholm/brotli is on hand.
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", w.renderCfg.UserAgent)

	resp, err := w.scriptClient.Do(req)
	if err != nil {
		return fetchedScript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fetchedScript{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		body = brotli.NewReader(resp.Body)
	}

	limited := io.LimitReader(body, maxScriptBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return fetchedScript{}, err
	}
	if len(data) > maxScriptBodyBytes {
		return fetchedScript{}, fmt.Errorf("body exceeds %d bytes", maxScriptBodyBytes)
	}

	result := fetchedScript{body: data}
	if linkHeader := resp.Header.Get("Link"); linkHeader != "" {
		for _, l := range linkheader.Parse(linkHeader) {
			if l.Rel == "sourcemap" {
				result.sourceMapURL = l.URL
				break
			}
		}
	}
	return result, nil
}
