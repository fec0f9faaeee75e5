// Package risk implements the scanner's risk-scoring formulas: pure
// functions mapping vulnerabilities, findings, and detection
// confidence to a 0-100 library score and a 0-100 global scan score,
// per spec §4.8. Nothing here touches I/O — every function is a
// deterministic arithmetic transform, safe to call from the analyze
// worker's single commit transaction without additional locking.
package risk

import (
	"math"
	"strings"

	"surfacescan/internal/database"
)

// popularLibraries receive a risk discount: widely-used, heavily
// audited libraries are statistically less likely to carry an
// unpatched exploit in the wild than an obscure dependency with an
// identical CVSS profile, per spec §4.8's advanced scoring rule.
var popularLibraries = map[string]bool{
	"react":   true,
	"vue":     true,
	"angular": true,
	"jquery":  true,
	"lodash":  true,
	"moment":  true,
	"axios":   true,
	"d3":      true,
}

// findingPenalty is the additive risk contribution of a co-located
// finding type, per spec §4.8's advanced scoring rule.
var findingPenalty = map[database.FindingType]float64{
	database.FindingEvalUsage:      25,
	database.FindingHardcodedToken: 30,
	database.FindingDynamicImport:  15,
	database.FindingRemoteCode:     35,
	database.FindingWebAssembly:    20,
}

// clamp01to100 bounds a score to [0,100].
func clamp01to100(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// round rounds half-up to the nearest integer, per spec §4.8 ("all
// arithmetic in IEEE-754 double; final scores rounded half-up").
func round(score float64) float64 {
	return math.Floor(score + 0.5)
}

// maxCVSS returns the highest CVSS score among vulns, or 0 if none
// carry one.
func maxCVSS(vulns []database.Vulnerability) float64 {
	var max float64
	for _, v := range vulns {
		if v.CVSSScore != nil && *v.CVSSScore > max {
			max = *v.CVSSScore
		}
	}
	return max
}

func countBySeverity(vulns []database.Vulnerability, sev database.Severity) int {
	n := 0
	for _, v := range vulns {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

// CalculateLibraryRisk implements spec §4.8's base library formula:
// base = max(cvssScore) × 10, scaled by confidence/100, plus
// 15 × criticalCount, multiplied by 1.5 when a public exploit is
// known, clamped to [0,100].
func CalculateLibraryRisk(vulns []database.Vulnerability, confidence int, hasPublicExploit bool) float64 {
	base := maxCVSS(vulns) * 10
	score := base * (float64(confidence) / 100)
	score += 15 * float64(countBySeverity(vulns, database.SeverityCritical))
	if hasPublicExploit {
		score *= 1.5
	}
	return round(clamp01to100(score))
}

// CalculateGlobalRisk implements spec §4.8's scan-level formula:
// 0.4×max + 0.3×avg over per-library risk scores, plus 5 per
// high-risk (≥70) library, plus 10 per critical finding, clamped to
// [0,100].
func CalculateGlobalRisk(libRisks []float64, criticalFindings int) float64 {
	if len(libRisks) == 0 {
		return round(clamp01to100(10 * float64(criticalFindings)))
	}

	var max, sum float64
	var countHighRisk int
	for _, r := range libRisks {
		if r > max {
			max = r
		}
		sum += r
		if r >= 70 {
			countHighRisk++
		}
	}
	avg := sum / float64(len(libRisks))

	score := 0.4*max + 0.3*avg + 5*float64(countHighRisk) + 10*float64(criticalFindings)
	return round(clamp01to100(score))
}

// GetRiskLevel buckets a numeric score into the closed risk-level
// enum, delegating to database.GetRiskLevel so both packages share
// one threshold definition.
func GetRiskLevel(score float64) database.RiskLevel {
	return database.GetRiskLevel(score)
}

// AdvancedScoreInput bundles the inputs the analyze worker's
// per-library advanced scoring pass needs, per spec §4.8's "advanced
// library scoring used by analyzer" rule.
type AdvancedScoreInput struct {
	LibraryName      string
	Vulnerabilities  []database.Vulnerability
	Confidence       int
	CoLocatedFinding []database.FindingType // finding types observed in scripts this library was detected in
	VersionAgeDays   int                     // 0 when unknown
}

// AdvancedLibraryScore implements spec §4.8's advanced scoring rule:
// start from max(cvss)·10 + 20·critical + 10·high, subtract
// 0.3·(100-confidence), add per-finding-type penalties for co-located
// findings, apply the popular-library discount, apply the version-age
// multiplier, clamp to [0,100].
func AdvancedLibraryScore(in AdvancedScoreInput) float64 {
	score := maxCVSS(in.Vulnerabilities)*10 +
		20*float64(countBySeverity(in.Vulnerabilities, database.SeverityCritical)) +
		10*float64(countBySeverity(in.Vulnerabilities, database.SeverityHigh))

	score -= 0.3 * (100 - float64(in.Confidence))

	for _, f := range in.CoLocatedFinding {
		if p, ok := findingPenalty[f]; ok {
			score += p
		}
	}

	if popularLibraries[strings.ToLower(in.LibraryName)] {
		score *= 0.8
	}

	switch {
	case in.VersionAgeDays > 365:
		score *= 1.3
	case in.VersionAgeDays > 180:
		score *= 1.1
	}

	return round(clamp01to100(score))
}
