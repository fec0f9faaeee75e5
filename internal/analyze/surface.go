package analyze

import "strings"

// PageContext carries the rendered HTML and response metadata the
// surface checks need. Headers should already be lower-cased (a
// single normalization pass the caller performs once).
type PageContext struct {
	HTML             string
	URL              string
	IsHTTPS          bool
	Headers          map[string]string
	SetCookieHeaders []string
}

// AnalyzeSurface runs every HTML/header/cookie surface check from
// spec §4.5 over one rendered page and returns the combined finding
// set. JS risky-pattern scanning is driven separately per script by
// DetectRiskyPatterns, since it operates on script bodies rather than
// the top-level page.
func AnalyzeSurface(p PageContext) []FindingDraft {
	var drafts []FindingDraft

	drafts = append(drafts, AnalyzeForms(p.HTML, p.IsHTTPS)...)
	drafts = append(drafts, AnalyzeInlineEventHandlers(p.HTML)...)

	iframeDrafts, insecureIframeCount := AnalyzeIframes(p.HTML, p.URL)
	drafts = append(drafts, iframeDrafts...)

	drafts = append(drafts, AnalyzeMixedContent(p.HTML, p.IsHTTPS, insecureIframeCount)...)
	drafts = append(drafts, AnalyzeSecurityHeaders(p.Headers, p.IsHTTPS)...)
	drafts = append(drafts, AnalyzeCookies(p.SetCookieHeaders)...)
	drafts = append(drafts, AnalyzeScriptIntegrity(p.HTML, p.URL)...)

	return drafts
}

// NormalizeHeaders lower-cases every header key, the form every
// security-header check in this package expects.
func NormalizeHeaders(headers map[string][]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}
