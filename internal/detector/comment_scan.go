package detector

import (
	"regexp"
	"strings"
)

// bannerVersionPattern matches the classic UMD-bundle header comment
// that names both the library and its version together, e.g.
// `/*! jQuery v3.6.0 | (c) OpenJS Foundation */` or `React v18.2.0`.
var bannerVersionPattern = regexp.MustCompile(`(?i)([a-zA-Z][a-zA-Z0-9_.\-]{1,40})\s+v(\d+\.\d+\.\d+[\w.\-]*)`)

const commentScanMaxLines = 50

// detectByCommentScan inspects the first commentScanMaxLines lines of
// the script for a banner comment disclosing both a name and version,
// per spec §4.6 method 2.
func detectByCommentScan(in Input) []Detection {
	lines := strings.Split(in.Content, "\n")
	if len(lines) > commentScanMaxLines {
		lines = lines[:commentScanMaxLines]
	}
	header := strings.Join(lines, "\n")

	m := bannerVersionPattern.FindStringSubmatch(header)
	if m == nil {
		return nil
	}
	return []Detection{{
		Name:       m[1],
		Version:    m[2],
		Confidence: 70,
		Method:     MethodCommentScan,
		Evidence:   strings.TrimSpace(m[0]),
	}}
}
