package detector

import "regexp"

// versionStringPatterns match explicit version disclosures of the
// shape `<Lib>.version = "x.y.z"`, the highest-confidence method since
// the library names itself directly, per spec §4.6 method 5.
var versionStringPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9_$.]{1,40})\.version\s*=\s*['"](\d+\.\d+\.\d+[\w.\-]*)['"]`),
	regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9_$.]{1,40})\.VERSION\s*=\s*['"](\d+\.\d+\.\d+[\w.\-]*)['"]`),
}

func detectByVersionString(in Input) []Detection {
	seen := make(map[string]bool)
	var out []Detection
	for _, re := range versionStringPatterns {
		for _, m := range re.FindAllStringSubmatch(in.Content, -1) {
			name := m[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, Detection{
				Name:       name,
				Version:    m[2],
				Confidence: 95,
				Method:     MethodVersionString,
				Evidence:   m[0],
			})
		}
	}
	return out
}
