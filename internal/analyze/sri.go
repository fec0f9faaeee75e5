package analyze

import (
	"net/url"
	"regexp"
	"strings"

	"surfacescan/internal/database"
)

var scriptTagPattern = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=\s*["']([^"']+)["'][^>]*>`)

// AnalyzeScriptIntegrity implements spec §4.5's SRI check: a
// third-party https script tag with no integrity attribute is
// flagged, one finding per offending script tag.
func AnalyzeScriptIntegrity(html, pageURL string) []FindingDraft {
	pageHost := ""
	if u, err := url.Parse(pageURL); err == nil {
		pageHost = u.Hostname()
	}

	var drafts []FindingDraft
	for _, tag := range scriptTagPattern.FindAllString(html, -1) {
		m := scriptTagPattern.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		src := m[1]
		u, err := url.Parse(src)
		if err != nil || u.Scheme != "https" {
			continue
		}
		if u.Hostname() == "" || u.Hostname() == pageHost {
			continue // same-origin scripts are not third-party
		}
		if strings.Contains(strings.ToLower(tag), "integrity=") {
			continue
		}
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingScriptIntegrity,
			Title:       "Third-party script missing Subresource Integrity",
			Description: "A third-party script is loaded over HTTPS without an integrity attribute, so a compromised CDN could serve malicious code undetected.",
			Severity:    database.SeverityModerate,
			Location:    "html:script",
			Evidence:    src,
		})
	}
	return drafts
}
