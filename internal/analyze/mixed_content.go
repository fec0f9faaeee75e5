package analyze

import (
	"regexp"

	"surfacescan/internal/database"
)

var (
	httpScriptSrcPattern = regexp.MustCompile(`(?i)<script\b[^>]*\bsrc\s*=\s*["']http://[^"']+["']`)
	httpHrefPattern      = regexp.MustCompile(`(?i)<link\b[^>]*\bhref\s*=\s*["']http://[^"']+["']`)
	httpImgSrcPattern    = regexp.MustCompile(`(?i)<img\b[^>]*\bsrc\s*=\s*["']http://[^"']+["']`)
)

// AnalyzeMixedContent implements spec §4.5's mixed-content check: only
// applicable when the page itself was served over HTTPS.
// insecureIframeCount is the count already established by AnalyzeIframes, passed in rather
// than recomputed so both checks agree on what counts as insecure.
func AnalyzeMixedContent(html string, pageIsHTTPS bool, insecureIframeCount int) []FindingDraft {
	if !pageIsHTTPS {
		return nil
	}

	scriptCount := len(httpScriptSrcPattern.FindAllString(html, -1))
	linkCount := len(httpHrefPattern.FindAllString(html, -1))
	imgCount := len(httpImgSrcPattern.FindAllString(html, -1))

	if scriptCount == 0 && linkCount == 0 && imgCount == 0 && insecureIframeCount == 0 {
		return nil
	}

	severity := database.SeverityModerate
	if scriptCount > 0 || insecureIframeCount > 0 {
		severity = database.SeverityHigh
	}

	return []FindingDraft{{
		Type:        database.FindingSecurityHeader,
		Title:       "Mixed content detected on HTTPS page",
		Description: "The page is served over HTTPS but loads one or more subresources over plain HTTP.",
		Severity:    severity,
		Location:    "html",
	}}
}
