package analyze

import (
	"net/url"
	"regexp"
	"strings"

	"surfacescan/internal/database"
)

var (
	formTagPattern       = regexp.MustCompile(`(?is)<form\b[^>]*>`)
	formMethodGetPattern = regexp.MustCompile(`(?i)method\s*=\s*["']?get["']?`)
	passwordInputPattern = regexp.MustCompile(`(?i)<input\b[^>]*type\s*=\s*["']?password["']?`)
	csrfTokenPattern     = regexp.MustCompile(`(?i)csrf|xsrf|_token|authenticity_token`)
)

// AnalyzeForms implements spec §4.5's form-security checks: GET forms,
// password fields on non-HTTPS pages, and the absence of a CSRF
// indicator token anywhere a form is present.
func AnalyzeForms(html string, pageIsHTTPS bool) []FindingDraft {
	forms := formTagPattern.FindAllString(html, -1)
	if len(forms) == 0 {
		return nil
	}

	var drafts []FindingDraft

	for _, form := range forms {
		if formMethodGetPattern.MatchString(form) {
			drafts = append(drafts, FindingDraft{
				Type:        database.FindingFormSecurity,
				Title:       "Form submits via GET",
				Description: "A form on the page uses method=\"get\", which can leak sensitive field values into URLs, browser history, and server logs.",
				Severity:    database.SeverityModerate,
				Location:    "html:form",
				Evidence:    strings.TrimSpace(form),
			})
		}
	}

	if !pageIsHTTPS && passwordInputPattern.MatchString(html) {
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingFormSecurity,
			Title:       "Password field on non-HTTPS page",
			Description: "A password input is present on a page served without HTTPS, exposing credentials to network interception.",
			Severity:    database.SeverityHigh,
			Location:    "html:form",
		})
	}

	if !csrfTokenPattern.MatchString(html) {
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingFormSecurity,
			Title:       "No CSRF indicator token found",
			Description: "Forms are present but no common CSRF token field name (csrf, xsrf, _token, authenticity_token) was found in the page.",
			Severity:    database.SeverityModerate,
			Location:    "html:form",
		})
	}

	return drafts
}

var inlineEventHandlerPattern = regexp.MustCompile(`(?i)\bon\w+\s*=\s*["'][^"']*["']`)

const maxInlineEventExamples = 5

// AnalyzeInlineEventHandlers implements spec §4.5's inline-event-
// handler check: any on* attribute is at least moderate; one that
// contains eval( or a javascript: URI escalates to high.
func AnalyzeInlineEventHandlers(html string) []FindingDraft {
	matches := inlineEventHandlerPattern.FindAllString(html, -1)
	if len(matches) == 0 {
		return nil
	}

	examples := matches
	if len(examples) > maxInlineEventExamples {
		examples = examples[:maxInlineEventExamples]
	}

	severity := database.SeverityModerate
	for _, ex := range matches {
		if strings.Contains(ex, "eval(") || strings.Contains(strings.ToLower(ex), "javascript:") {
			severity = database.SeverityHigh
			break
		}
	}

	return []FindingDraft{{
		Type:        database.FindingInlineEventHandler,
		Title:       "Inline event handler attributes present",
		Description: "The page uses inline on* event handler attributes instead of addEventListener, widening the XSS attack surface.",
		Severity:    severity,
		Location:    "html",
		Evidence:    strings.Join(examples, " | "),
	}}
}

var iframeSrcPattern = regexp.MustCompile(`(?i)<iframe\b[^>]*\bsrc\s*=\s*["']([^"']+)["']`)

// AnalyzeIframes implements spec §4.5's iframe checks: classify each
// iframe as third-party (different hostname than pageURL) and/or
// insecure (http: scheme), emitting at most one finding per category.
// It also returns the insecure-iframe count so the mixed-content check
// can fold it into its own severity decision without re-parsing the
// HTML.
func AnalyzeIframes(html, pageURL string) ([]FindingDraft, int) {
	matches := iframeSrcPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return nil, 0
	}

	pageHost := ""
	if u, err := url.Parse(pageURL); err == nil {
		pageHost = u.Hostname()
	}

	var hasThirdParty bool
	insecureCount := 0
	for _, m := range matches {
		src := m[1]
		u, err := url.Parse(src)
		if err != nil {
			continue
		}
		if u.Hostname() != "" && u.Hostname() != pageHost {
			hasThirdParty = true
		}
		if u.Scheme == "http" {
			insecureCount++
		}
	}

	var drafts []FindingDraft
	if hasThirdParty {
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingIframeSecurity,
			Title:       "Third-party iframe embedded",
			Description: "One or more iframes load content from a different origin than the page.",
			Severity:    database.SeverityModerate,
			Location:    "html:iframe",
		})
	}
	if insecureCount > 0 {
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingIframeSecurity,
			Title:       "Insecure iframe source",
			Description: "One or more iframes load content over plain HTTP.",
			Severity:    database.SeverityHigh,
			Location:    "html:iframe",
		})
	}
	return drafts, insecureCount
}
