package analyze

import (
	"fmt"
	"regexp"
	"strings"

	"surfacescan/internal/database"
)

// riskyPattern pairs a regex against a single line of script content
// with the finding it produces, per spec §4.5's JS risky patterns.
type riskyPattern struct {
	findingType database.FindingType
	title       string
	severity    database.Severity
	pattern     *regexp.Regexp
}

var riskyPatterns = []riskyPattern{
	{
		findingType: database.FindingEvalUsage,
		title:       "Use of eval()",
		severity:    database.SeverityHigh,
		pattern:     regexp.MustCompile(`\beval\s*\(`),
	},
	{
		findingType: database.FindingHardcodedToken,
		title:       "Hardcoded credential or token",
		severity:    database.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)(?:token|key|secret|password)\s*[:=]\s*['"][A-Za-z0-9+/]{20,}['"]`),
	},
	{
		findingType: database.FindingDynamicImport,
		title:       "Dynamic module import",
		severity:    database.SeverityModerate,
		pattern:     regexp.MustCompile(`import\s*\(`),
	},
	{
		findingType: database.FindingWebAssembly,
		title:       "WebAssembly instantiation",
		severity:    database.SeverityModerate,
		pattern:     regexp.MustCompile(`WebAssembly\.instantiate`),
	},
	{
		findingType: database.FindingDOMXSSSink,
		title:       "DOM XSS sink",
		severity:    database.SeverityHigh,
		pattern:     regexp.MustCompile(`(?:innerHTML|outerHTML)\s*=|insertAdjacentHTML\s*\(|document\.write(?:ln)?\s*\(`),
	},
}

// DetectRiskyPatterns scans script content line-by-line for the JS
// risky patterns named in spec §4.5, returning one finding per
// matched line with the 1-based line number and trimmed evidence.
// location identifies the script the content came from (e.g. a
// script's artifact path or "inline:<scriptId>").
func DetectRiskyPatterns(content, location string) []FindingDraft {
	var drafts []FindingDraft
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lineNo := i + 1
		for _, rp := range riskyPatterns {
			if !rp.pattern.MatchString(line) {
				continue
			}
			drafts = append(drafts, FindingDraft{
				Type:        rp.findingType,
				Title:       rp.title,
				Description: fmt.Sprintf("%s detected at line %d", rp.title, lineNo),
				Severity:    rp.severity,
				Location:    location,
				Evidence:    fmt.Sprintf("L%d: %s", lineNo, strings.TrimSpace(line)),
			})
		}
	}
	return drafts
}
