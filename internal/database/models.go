// Package database defines the scanner's persisted entities and the
// storage interface workers and the API gateway depend on.
package database

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Database implementations.
var (
	ErrScanNotFound = errors.New("scan not found")
	ErrDuplicateJob = errors.New("scan already has committed results")
)

// ScanStatus is the closed set of lifecycle states a Scan may be in.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Severity is the closed set of finding/vulnerability severities.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FindingType is the closed set of finding kinds the analyzer emits.
type FindingType string

const (
	FindingEvalUsage          FindingType = "EVAL_USAGE"
	FindingHardcodedToken     FindingType = "HARDCODED_TOKEN"
	FindingDynamicImport      FindingType = "DYNAMIC_IMPORT"
	FindingWebAssembly        FindingType = "WEBASSEMBLY"
	FindingDOMXSSSink         FindingType = "DOM_XSS_SINK"
	FindingFormSecurity       FindingType = "FORM_SECURITY"
	FindingInlineEventHandler FindingType = "INLINE_EVENT_HANDLER"
	FindingIframeSecurity     FindingType = "IFRAME_SECURITY"
	FindingSecurityHeader     FindingType = "SECURITY_HEADER"
	FindingSecurityCookie     FindingType = "SECURITY_COOKIE"
	FindingScriptIntegrity    FindingType = "SCRIPT_INTEGRITY"
	FindingInfo               FindingType = "INFO"
	FindingError              FindingType = "ERROR"
	FindingCVE                FindingType = "CVE"
	FindingRemoteCode         FindingType = "REMOTE_CODE"
)

// RiskLevel buckets a numeric risk score for display purposes.
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "critical"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelModerate RiskLevel = "moderate"
	RiskLevelLow      RiskLevel = "low"
)

// GetRiskLevel buckets score per spec: >=80 critical, >=60 high, >=30 moderate, else low.
func GetRiskLevel(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelModerate
	default:
		return RiskLevelLow
	}
}

// Scan is the top-level entity for a single run of the pipeline against
// one URL.
type Scan struct {
	ID              string            `json:"id" db:"id"`
	URL             string            `json:"url" db:"url"`
	Parameters      ScanParameters    `json:"parameters" db:"parameters"`
	Status          ScanStatus        `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	StartedAt       *time.Time        `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	GlobalRiskScore float64           `json:"globalRiskScore" db:"global_risk_score"`
	ArtifactPaths   map[string]string `json:"artifactPaths,omitempty" db:"artifact_paths"`
	Error           *string           `json:"error,omitempty" db:"error"`
}

// ScanParameters captures the caller-supplied render/analysis options.
type ScanParameters struct {
	RenderJavaScript bool              `json:"renderJavaScript"`
	TimeoutSeconds   int               `json:"timeout"`
	Depth            int               `json:"depth"`
	UserAgent        string            `json:"userAgent,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// Script is a single inline or external script belonging to one Scan.
type Script struct {
	ID               string    `json:"id" db:"id"`
	ScanID           string    `json:"scanId" db:"scan_id"`
	SourceURL        *string   `json:"sourceUrl,omitempty" db:"source_url"`
	IsInline         bool      `json:"isInline" db:"is_inline"`
	ArtifactPath     string    `json:"artifactPath" db:"artifact_path"`
	Fingerprint      string    `json:"fingerprint" db:"fingerprint"`
	DetectedPatterns []string  `json:"detectedPatterns,omitempty" db:"detected_patterns"`
	EstimatedVersion *string   `json:"estimatedVersion,omitempty" db:"estimated_version"`
	Confidence       int       `json:"confidence" db:"confidence"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
}

// Vulnerability is an advisory record attached to a Library.
type Vulnerability struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	CVSSScore   *float64 `json:"cvssScore,omitempty"`
	References  []string `json:"references,omitempty"`
}

// SeverityFromCVSS derives a Severity from a CVSS score per spec §3.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9:
		return SeverityCritical
	case score >= 7:
		return SeverityHigh
	case score >= 4:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// Library is a detected client-side dependency with optional version.
type Library struct {
	ID              string          `json:"id" db:"id"`
	ScanID          string          `json:"scanId" db:"scan_id"`
	Name            string          `json:"name" db:"name"`
	DetectedVersion *string         `json:"detectedVersion,omitempty" db:"detected_version"`
	RelatedScripts  []string        `json:"relatedScripts,omitempty" db:"related_scripts"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty" db:"vulnerabilities"`
	RiskScore       float64         `json:"riskScore" db:"risk_score"`
	Confidence      int             `json:"confidence" db:"confidence"`
}

// Finding is a discrete security observation attached to a Scan.
type Finding struct {
	ID          string      `json:"id" db:"id"`
	ScanID      string      `json:"scanId" db:"scan_id"`
	Type        FindingType `json:"type" db:"type"`
	Title       string      `json:"title" db:"title"`
	Description string      `json:"description" db:"description"`
	Severity    Severity    `json:"severity" db:"severity"`
	Location    string      `json:"location" db:"location"`
	Evidence    *string     `json:"evidence,omitempty" db:"evidence"`
}

// VulnerabilityCacheEntry memoizes a feed lookup for (packageName, version).
type VulnerabilityCacheEntry struct {
	PackageName     string          `json:"packageName" db:"package_name"`
	Version         *string         `json:"version,omitempty" db:"version"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities" db:"vulnerabilities"`
	LastUpdated     time.Time       `json:"lastUpdated" db:"last_updated"`
	TTLSeconds      int             `json:"ttlSeconds" db:"ttl_seconds"`
}

// Expired reports whether the entry is stale as of now.
func (e VulnerabilityCacheEntry) Expired(now time.Time) bool {
	return now.After(e.LastUpdated.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// ScanResults is the joined view returned by GET /api/scans/:id/results.
type ScanResults struct {
	Scan        Scan               `json:"scan"`
	Libraries   []Library          `json:"libraries"`
	Findings    []Finding          `json:"findings"`
	Summary     ResultsSummary     `json:"summary"`
	Diagnostics ResultsDiagnostics `json:"diagnostics"`
}

// ResultsSummary aggregates counts over a scan's libraries/findings.
type ResultsSummary struct {
	LibraryCount       int            `json:"libraryCount"`
	FindingCount       int            `json:"findingCount"`
	VulnerabilityCount int            `json:"vulnerabilityCount"`
	SeverityBreakdown  map[string]int `json:"severityBreakdown"`
}

// ResultsDiagnostics reports scan-quality signals per spec §4.1.
type ResultsDiagnostics struct {
	PartialScan  bool `json:"partialScan"`
	QualityScore int  `json:"qualityScore"`
	ScriptCount  int  `json:"scriptCount"`
}

// AnalyticsSummary is the payload for GET /api/analytics/summary.
type AnalyticsSummary struct {
	TotalScans              int                `json:"totalScans"`
	ActiveThreats           int                `json:"activeThreats"`
	TotalVulnerabilities    int                `json:"totalVulnerabilities"`
	AverageRiskScore        float64            `json:"averageRiskScore"`
	AverageScanDurationSecs float64            `json:"averageScanDurationSeconds"`
	RiskDistribution        RiskDistribution   `json:"riskDistribution"`
	VulnerabilityTrends     []DateCount        `json:"vulnerabilityTrends"`
	RecentScans             []DateCount        `json:"recentScans"`
	LibrariesAnalyzed       int                `json:"libraries_analyzed"`
	TopVulnerabilities      []TopVulnerability `json:"top_vulnerabilities"`
}

// RiskDistribution buckets completed scans by their global risk level.
type RiskDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// DateCount is a single point in a daily time series.
type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TopVulnerability summarizes how often an advisory appears across scans.
type TopVulnerability struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// ScanListFilter narrows GET /api/scans.
type ScanListFilter struct {
	Limit  int
	Offset int
	Status ScanStatus // empty means "any"
}

// ScanList is the paginated response for GET /api/scans.
type ScanList struct {
	Scans  []Scan `json:"scans"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Database is the storage interface the API gateway and workers depend
// on. Implementations: PostgresDatabase (production), SQLiteDatabase
// (local/dev/test), both constructed through NewDatabase.
type Database interface {
	Connect(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	CreateScan(ctx context.Context, scan *Scan) error
	GetScan(ctx context.Context, id string) (*Scan, error)
	GetLatestScanForURL(ctx context.Context, url string) (*Scan, error)
	ListScans(ctx context.Context, filter ScanListFilter) (*ScanList, error)
	UpdateScanStatus(ctx context.Context, id string, prevStatus, newStatus ScanStatus, errMsg *string) (bool, error)
	UpdateScanProgress(ctx context.Context, id string, startedAt *time.Time) error
	DeleteScan(ctx context.Context, id string) error

	// CommitAnalysis atomically persists the output of the analyze
	// worker: all scripts/libraries/findings, the scan's global risk
	// score, and its terminal status, in one transaction.
	CommitAnalysis(ctx context.Context, scanID string, scripts []Script, libraries []Library, findings []Finding, globalRisk float64) error
	FailScan(ctx context.Context, scanID string, reason string) error

	GetScripts(ctx context.Context, scanID string) ([]Script, error)
	GetLibraries(ctx context.Context, scanID string) ([]Library, error)
	GetFindings(ctx context.Context, scanID string) ([]Finding, error)
	HasCommittedResults(ctx context.Context, scanID string) (bool, error)

	GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*VulnerabilityCacheEntry, error)
	UpsertVulnerabilityCacheEntry(ctx context.Context, entry VulnerabilityCacheEntry) error

	GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error)
}
