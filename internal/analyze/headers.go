package analyze

import (
	"regexp"
	"strings"

	"surfacescan/internal/database"
)

var unsafeCSPPattern = regexp.MustCompile(`(?i)unsafe-inline|unsafe-eval`)

// AnalyzeSecurityHeaders implements spec §4.5's security-header
// checks. headers keys are expected already lower-cased (the caller
// normalizes the raw response header map once up front).
func AnalyzeSecurityHeaders(headers map[string]string, pageIsHTTPS bool) []FindingDraft {
	var drafts []FindingDraft
	emit := func(title, description string, severity database.Severity) {
		drafts = append(drafts, FindingDraft{
			Type:        database.FindingSecurityHeader,
			Title:       title,
			Description: description,
			Severity:    severity,
			Location:    "http:headers",
		})
	}

	csp, hasCSP := headers["content-security-policy"]
	switch {
	case !hasCSP:
		emit("Content-Security-Policy header missing", "No CSP header was present on the response.", database.SeverityModerate)
	case unsafeCSPPattern.MatchString(csp):
		emit("Content-Security-Policy allows unsafe execution", "The CSP includes unsafe-inline or unsafe-eval, weakening its XSS protection.", database.SeverityHigh)
	}

	if pageIsHTTPS {
		if _, ok := headers["strict-transport-security"]; !ok {
			emit("HSTS header missing", "The page is served over HTTPS but has no Strict-Transport-Security header.", database.SeverityHigh)
		}
	}

	if xfo, ok := headers["x-frame-options"]; !ok {
		emit("X-Frame-Options header missing", "No X-Frame-Options header was present, leaving the page clickjackable.", database.SeverityModerate)
	} else if v := strings.ToUpper(strings.TrimSpace(xfo)); v != "DENY" && v != "SAMEORIGIN" {
		emit("X-Frame-Options header has an unrecognized value", "X-Frame-Options is present but not set to DENY or SAMEORIGIN.", database.SeverityModerate)
	}

	if xcto, ok := headers["x-content-type-options"]; !ok || strings.ToLower(strings.TrimSpace(xcto)) != "nosniff" {
		emit("X-Content-Type-Options header missing or incorrect", "X-Content-Type-Options should be set to nosniff to prevent MIME-sniffing.", database.SeverityModerate)
	}

	if rp, ok := headers["referrer-policy"]; !ok {
		emit("Referrer-Policy header missing", "No Referrer-Policy header was present.", database.SeverityModerate)
	} else if regexp.MustCompile(`(?i)unsafe-url|no-referrer-when-downgrade`).MatchString(rp) {
		emit("Referrer-Policy leaks referrer data", "Referrer-Policy is set to a value that leaks the full URL to third parties.", database.SeverityModerate)
	}

	if _, ok := headers["permissions-policy"]; !ok {
		emit("Permissions-Policy header missing", "No Permissions-Policy header was present.", database.SeverityLow)
	}

	if pageIsHTTPS {
		if coop, ok := headers["cross-origin-opener-policy"]; !ok || !(strings.Contains(coop, "same-origin")) {
			emit("Cross-Origin-Opener-Policy header missing or weak", "COOP should be same-origin or same-origin-allow-popups on an HTTPS page.", database.SeverityLow)
		}
		if _, ok := headers["cross-origin-embedder-policy"]; !ok {
			emit("Cross-Origin-Embedder-Policy header missing", "No COEP header was present.", database.SeverityLow)
		}
		if _, ok := headers["cross-origin-resource-policy"]; !ok {
			emit("Cross-Origin-Resource-Policy header missing", "No CORP header was present.", database.SeverityLow)
		}
	}

	drafts = append(drafts, analyzeCORS(headers)...)

	return drafts
}

// analyzeCORS implements spec §4.5's CORS check: a wildcard origin
// combined with credentialed requests is high severity; a bare
// wildcard alone is moderate.
func analyzeCORS(headers map[string]string) []FindingDraft {
	origin, ok := headers["access-control-allow-origin"]
	if !ok || strings.TrimSpace(origin) != "*" {
		return nil
	}

	credentials := strings.EqualFold(strings.TrimSpace(headers["access-control-allow-credentials"]), "true")
	if credentials {
		return []FindingDraft{{
			Type:        database.FindingSecurityHeader,
			Title:       "Permissive CORS policy allows credentialed wildcard requests",
			Description: "Access-Control-Allow-Origin is \"*\" together with Access-Control-Allow-Credentials: true, which browsers should reject but misconfigured clients may not.",
			Severity:    database.SeverityHigh,
			Location:    "http:headers",
		}}
	}
	return []FindingDraft{{
		Type:        database.FindingSecurityHeader,
		Title:       "Wildcard CORS policy",
		Description: "Access-Control-Allow-Origin is \"*\", allowing any origin to read responses.",
		Severity:    database.SeverityModerate,
		Location:    "http:headers",
	}}
}
