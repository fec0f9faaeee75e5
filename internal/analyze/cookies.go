package analyze

import (
	"regexp"
	"strings"

	"surfacescan/internal/database"
)

var sensitiveCookieNamePattern = regexp.MustCompile(`(?i)session|auth|token|jwt`)

type parsedCookie struct {
	name        string
	secure      bool
	httpOnly    bool
	hasSameSite bool
}

func parseSetCookie(raw string) parsedCookie {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return parsedCookie{}
	}
	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	c := parsedCookie{name: strings.TrimSpace(nameValue[0])}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		lower := strings.ToLower(attr)
		switch {
		case lower == "secure":
			c.secure = true
		case lower == "httponly":
			c.httpOnly = true
		case strings.HasPrefix(lower, "samesite"):
			c.hasSameSite = true
		}
	}
	return c
}

// AnalyzeCookies implements spec §4.5's cookie checks: at most one
// "sensitive cookie missing flags" finding and one "generic cookie
// missing flags" finding are emitted, stopping as soon as both are
// produced. setCookieHeaders is the raw, possibly multi-valued
// Set-Cookie header list.
func AnalyzeCookies(setCookieHeaders []string) []FindingDraft {
	var drafts []FindingDraft
	var emittedSensitive, emittedGeneric bool

	for _, raw := range setCookieHeaders {
		if emittedSensitive && emittedGeneric {
			break
		}
		c := parseSetCookie(raw)
		if c.name == "" {
			continue
		}
		missingFlags := !c.secure || !c.httpOnly || !c.hasSameSite
		if !missingFlags {
			continue
		}

		isSensitive := sensitiveCookieNamePattern.MatchString(c.name)
		if isSensitive && !emittedSensitive {
			emittedSensitive = true
			drafts = append(drafts, FindingDraft{
				Type:        database.FindingSecurityCookie,
				Title:       "Sensitive cookie missing security flags",
				Description: "A cookie whose name suggests it carries session/auth state is missing Secure, HttpOnly, or SameSite.",
				Severity:    database.SeverityHigh,
				Location:    "http:set-cookie",
				Evidence:    c.name,
			})
		} else if !isSensitive && !emittedGeneric {
			emittedGeneric = true
			drafts = append(drafts, FindingDraft{
				Type:        database.FindingSecurityCookie,
				Title:       "Cookie missing security flags",
				Description: "A cookie is missing one or more of Secure, HttpOnly, or SameSite.",
				Severity:    database.SeverityModerate,
				Location:    "http:set-cookie",
				Evidence:    c.name,
			})
		}
	}

	return drafts
}
