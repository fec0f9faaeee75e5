// Package worker implements the render and analyze workers that
// dequeue scan jobs and drive a scan from submission to completion,
// per spec §4.3 and §4.4.
package worker

import "surfacescan/internal/database"

// NetworkResource is one response observed during a render, per
// spec §4.3 step 3.
type NetworkResource struct {
	URL      string            `json:"url"`
	Type     string            `json:"type"`
	Method   string            `json:"method"`
	Status   int               `json:"status"`
	Size     int64             `json:"size"`
	Headers  map[string]string `json:"headers"`
	TimingMs int64             `json:"timingMs"`
}

// ExternalScriptRef describes one external script collected during a
// render, before its body has been fetched.
type ExternalScriptRef struct {
	SourceURL  string            `json:"sourceUrl"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// InlineScriptRef is an inline <script> block collected during a
// render.
type InlineScriptRef struct {
	Content    string            `json:"content"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DOMAnalysis is everything the render worker extracted from the
// rendered page, handed off to the analysis job per spec §4.3 step 6.
type DOMAnalysis struct {
	URL              string              `json:"url"`
	IsHTTPS          bool                `json:"isHttps"`
	ResponseHeaders  map[string]string   `json:"responseHeaders"`
	SetCookieHeaders []string            `json:"setCookieHeaders,omitempty"`
	InlineScripts    []InlineScriptRef   `json:"inlineScripts"`
	ExternalScripts  []ExternalScriptRef `json:"externalScripts"`
	SourceMaps       map[string]string   `json:"sourceMaps,omitempty"` // sourceMappingURL -> artifact path
	NetworkResources []NetworkResource   `json:"networkResources,omitempty"`
}

// ScanTask is the render worker's job payload, per spec §4.3.
type ScanTask struct {
	ScanID     string                  `json:"scanId"`
	URL        string                  `json:"url"`
	Parameters database.ScanParameters `json:"parameters"`
}

// ScriptArtifact references one fetched script's stored body.
type ScriptArtifact struct {
	SourceURL    string `json:"sourceUrl,omitempty"`
	IsInline     bool   `json:"isInline"`
	ArtifactPath string `json:"artifactPath,omitempty"`
	Content      string `json:"content,omitempty"` // inline scripts carry content directly
}

// Artifacts bundles everything the analyze worker needs to fetch or
// already has in hand.
type Artifacts struct {
	DOMSnapshotPath string           `json:"domSnapshot"`
	Scripts         []ScriptArtifact `json:"scripts"`
}

// AnalysisTask is the analyze worker's job payload, per spec §4.4.
type AnalysisTask struct {
	ScanID      string            `json:"scanId"`
	Artifacts   Artifacts         `json:"artifacts"`
	DOMAnalysis DOMAnalysis       `json:"domAnalysis"`
	FetchErrors map[string]string `json:"fetchErrors,omitempty"`
}

// TaskResult is returned by the render worker on completion, per spec
// §4.3 step 8.
type TaskResult struct {
	ScanID    string    `json:"scanId"`
	Success   bool      `json:"success"`
	Artifacts Artifacts `json:"artifacts"`
	Error     string    `json:"error,omitempty"`
}
