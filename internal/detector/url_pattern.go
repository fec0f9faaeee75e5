package detector

import "regexp"

// cdnPatterns match well-known CDN URL shapes that embed a library name
// and version directly in the path. Each must have exactly two capture
// groups: name, version.
var cdnPatterns = []*regexp.Regexp{
	// cdnjs.cloudflare.com/ajax/libs/<name>/<version>/...
	regexp.MustCompile(`cdnjs\.cloudflare\.com/ajax/libs/([a-zA-Z0-9_.\-]+)/(\d+\.\d+\.\d+[\w.\-]*)/`),
	// cdn.jsdelivr.net/npm/<name>@<version>/...  (also covers combined @scope/name)
	regexp.MustCompile(`cdn\.jsdelivr\.net/npm/((?:@[a-zA-Z0-9_.\-]+/)?[a-zA-Z0-9_.\-]+)@(\d+\.\d+\.\d+[\w.\-]*)`),
	// unpkg.com/<name>@<version>/...
	regexp.MustCompile(`unpkg\.com/((?:@[a-zA-Z0-9_.\-]+/)?[a-zA-Z0-9_.\-]+)@(\d+\.\d+\.\d+[\w.\-]*)`),
}

// npmNoVersionPattern matches an npm-style path without a pinned
// version (e.g. cdn.jsdelivr.net/npm/lodash/lodash.min.js) — lower
// confidence since only the name is known.
var npmNoVersionPattern = regexp.MustCompile(`(?:jsdelivr\.net/npm|unpkg\.com)/((?:@[a-zA-Z0-9_.\-]+/)?[a-zA-Z0-9_.\-]+)/`)

// detectByURLPattern extracts a library name (and, when present, a
// version) from the script's source URL shape. Confidence is higher
// when a version is present in the path (~80) than when only the name
// is (~40), per spec §4.6.
func detectByURLPattern(in Input) []Detection {
	if in.SourceURL == "" {
		return nil
	}

	for _, re := range cdnPatterns {
		m := re.FindStringSubmatch(in.SourceURL)
		if m != nil {
			return []Detection{{
				Name:       m[1],
				Version:    m[2],
				Confidence: 80,
				Method:     MethodURLPattern,
				Evidence:   in.SourceURL,
			}}
		}
	}

	if m := npmNoVersionPattern.FindStringSubmatch(in.SourceURL); m != nil {
		return []Detection{{
			Name:       m[1],
			Confidence: 40,
			Method:     MethodURLPattern,
			Evidence:   in.SourceURL,
		}}
	}

	return nil
}
