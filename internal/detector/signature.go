package detector

import "regexp"

// signature pairs a known call-expression / member-access shape with
// the library it identifies. The spec describes this method as
// "matching known signature regexes against extracted symbol
// features" rather than requiring a full AST — no JavaScript parser
// appears anywhere in the reference corpus, so symbol features are
// extracted directly via regexp, consistent with every other pattern
// method in this package.
type signature struct {
	name    string
	pattern *regexp.Regexp
}

var signatures = []signature{
	{"react", regexp.MustCompile(`React\.createElement\s*\(`)},
	{"react", regexp.MustCompile(`React\.Component\b`)},
	{"jquery", regexp.MustCompile(`jQuery\.fn\.jquery\b`)},
	{"jquery", regexp.MustCompile(`\$\.fn\.jquery\b`)},
	{"vue", regexp.MustCompile(`Vue\.component\s*\(`)},
	{"vue", regexp.MustCompile(`new Vue\s*\(`)},
	{"angular", regexp.MustCompile(`angular\.module\s*\(`)},
	{"lodash", regexp.MustCompile(`_\.VERSION\b`)},
	{"moment", regexp.MustCompile(`moment\.fn\.version\b`)},
	{"axios", regexp.MustCompile(`axios\.create\s*\(`)},
	{"d3", regexp.MustCompile(`d3\.select\s*\(`)},
	{"three", regexp.MustCompile(`THREE\.Scene\s*\(`)},
}

// detectBySignature matches known library call/member signatures
// against the script body, per spec §4.6 method 4.
func detectBySignature(in Input) []Detection {
	seen := make(map[string]bool)
	var out []Detection
	for _, sig := range signatures {
		if seen[sig.name] {
			continue
		}
		m := sig.pattern.FindString(in.Content)
		if m == "" {
			continue
		}
		seen[sig.name] = true
		out = append(out, Detection{
			Name:       sig.name,
			Confidence: 60,
			Method:     MethodSignature,
			Evidence:   m,
		})
	}
	return out
}
