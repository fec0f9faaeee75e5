package detector

import (
	"encoding/json"
	"regexp"
)

// sourceMapDoc is the subset of the source map v3 format this package
// reads: the list of original source paths.
type sourceMapDoc struct {
	Sources []string `json:"sources"`
}

// nodeModulesPattern extracts a package name (and, when the path is
// version-pinned, its version) from a `node_modules/<name>/...` or
// `node_modules/<name>@<version>/...` source-map source path. Scoped
// packages (`@scope/name`) are supported.
var nodeModulesPattern = regexp.MustCompile(`node_modules/((?:@[a-zA-Z0-9_.\-]+/)?[a-zA-Z0-9_.\-]+?)(?:@(\d+\.\d+\.\d+[\w.\-]*))?/`)

// detectBySourceMap parses in.SourceMap (a raw source map v3 JSON
// document) and inspects its "sources" list for node_modules paths,
// per spec §4.6 method 3. A malformed source map degrades to zero
// detections rather than aborting the task.
func detectBySourceMap(in Input) []Detection {
	// Source maps are untrusted input: one over 2 MiB is skipped
	// unparsed, which also bounds the time json.Unmarshal can take.
	const maxSourceMapBytes = 2 << 20
	if len(in.SourceMap) > maxSourceMapBytes {
		return nil
	}

	var doc sourceMapDoc
	if err := json.Unmarshal(in.SourceMap, &doc); err != nil {
		return nil
	}

	best := make(map[string]Detection)
	for _, src := range doc.Sources {
		m := nodeModulesPattern.FindStringSubmatch(src)
		if m == nil {
			continue
		}
		name, version := m[1], m[2]
		confidence := 85
		existing, ok := best[name]
		if ok && existing.Version != "" {
			continue // already have a version-bearing hit for this name
		}
		best[name] = Detection{
			Name:       name,
			Version:    version,
			Confidence: confidence,
			Method:     MethodSourceMap,
			Evidence:   src,
		}
	}

	out := make([]Detection, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	return out
}
