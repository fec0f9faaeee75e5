package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"surfacescan/internal/config"
)

// PostgresDatabase is the production Database implementation, backed by
// database/sql + lib/pq with raw SQL and manual Scan/marshal, in the
// style this codebase uses for its other storage adapters.
type PostgresDatabase struct {
	cfg *config.DatabaseConfig
	db  *sql.DB
}

// NewPostgresDatabase constructs an unconnected PostgresDatabase.
func NewPostgresDatabase(cfg *config.DatabaseConfig) *PostgresDatabase {
	return &PostgresDatabase{cfg: cfg}
}

func (p *PostgresDatabase) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		p.cfg.Host, p.cfg.Port, p.cfg.Username, p.cfg.Password, p.cfg.Database, p.cfg.SSLMode)
}

// Connect opens the pool, applies sizing, and pings within 10s.
func (p *PostgresDatabase) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn())
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	p.db = db
	if p.cfg.AutoMigrate {
		if err := p.migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *PostgresDatabase) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresDatabase) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresDatabase) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			global_risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			artifact_paths JSONB NOT NULL DEFAULT '{}',
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_url ON scans (url)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans (created_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS scripts (
			id UUID PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			source_url TEXT,
			is_inline BOOLEAN NOT NULL,
			artifact_path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			detected_patterns JSONB NOT NULL DEFAULT '[]',
			estimated_version TEXT,
			confidence INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scripts_scan_id ON scripts (scan_id)`,
		`CREATE TABLE IF NOT EXISTS libraries (
			id UUID PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			detected_version TEXT,
			related_scripts JSONB NOT NULL DEFAULT '[]',
			vulnerabilities JSONB NOT NULL DEFAULT '[]',
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_libraries_scan_id ON libraries (scan_id)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id UUID PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			severity TEXT NOT NULL,
			location TEXT NOT NULL,
			evidence TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_scan_id ON findings (scan_id)`,
		`CREATE TABLE IF NOT EXISTS vulnerability_cache (
			package_name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			vulnerabilities JSONB NOT NULL DEFAULT '[]',
			last_updated TIMESTAMPTZ NOT NULL,
			ttl_seconds INT NOT NULL,
			PRIMARY KEY (package_name, version)
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec migration %q: %w", s, err)
		}
	}
	return nil
}

// withRetry wraps retryable transient errors (connection refused/reset)
// with bounded attempts and exponential backoff, mirroring the resource
// model's DB-pool retry policy.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var lastErr error
	backoff := 100 * time.Millisecond
	for i := 0; i < attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *PostgresDatabase) CreateScan(ctx context.Context, scan *Scan) error {
	params, err := json.Marshal(scan.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	artifacts, err := json.Marshal(scan.ArtifactPaths)
	if err != nil {
		return fmt.Errorf("marshal artifact paths: %w", err)
	}

	return withRetry(ctx, 3, func() error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO scans (id, url, parameters, status, created_at, global_risk_score, artifact_paths)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			scan.ID, scan.URL, params, scan.Status, scan.CreatedAt, scan.GlobalRiskScore, artifacts)
		return err
	})
}

func (p *PostgresDatabase) scanRow(row interface {
	Scan(dest ...interface{}) error
}) (*Scan, error) {
	var s Scan
	var params, artifacts []byte
	if err := row.Scan(&s.ID, &s.URL, &params, &s.Status, &s.CreatedAt, &s.StartedAt,
		&s.CompletedAt, &s.GlobalRiskScore, &artifacts, &s.Error); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &s.Parameters)
	}
	if len(artifacts) > 0 {
		_ = json.Unmarshal(artifacts, &s.ArtifactPaths)
	}
	return &s, nil
}

const scanColumns = `id, url, parameters, status, created_at, started_at, completed_at, global_risk_score, artifact_paths, error`

func (p *PostgresDatabase) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	s, err := p.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrScanNotFound
	}
	return s, err
}

func (p *PostgresDatabase) GetLatestScanForURL(ctx context.Context, url string) (*Scan, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE url = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, url)
	s, err := p.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrScanNotFound
	}
	return s, err
}

func (p *PostgresDatabase) ListScans(ctx context.Context, filter ScanListFilter) (*ScanList, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + scanColumns + ` FROM scans`
	args := []interface{}{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	// Ordering per spec §9: createdAt DESC with id as secondary tiebreaker.
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		s, err := p.scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total int
	countQuery := `SELECT count(*) FROM scans`
	countArgs := []interface{}{}
	if filter.Status != "" {
		countQuery += ` WHERE status = $1`
		countArgs = append(countArgs, filter.Status)
	}
	if err := p.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	return &ScanList{Scans: scans, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateScanStatus performs a conditional (CAS-style) status transition:
// the write only applies if the row's current status equals prevStatus,
// so the API's queue-state reconciliation never clobbers a concurrent
// worker write (§9 design note).
func (p *PostgresDatabase) UpdateScanStatus(ctx context.Context, id string, prevStatus, newStatus ScanStatus, errMsg *string) (bool, error) {
	now := time.Now()
	var result sql.Result
	var err error

	switch newStatus {
	case ScanRunning:
		result, err = p.db.ExecContext(ctx, `
			UPDATE scans SET status = $1, started_at = COALESCE(started_at, $2)
			WHERE id = $3 AND status = $4`, newStatus, now, id, prevStatus)
	case ScanCompleted, ScanFailed:
		result, err = p.db.ExecContext(ctx, `
			UPDATE scans SET status = $1, completed_at = $2, error = $3
			WHERE id = $4 AND status = $5`, newStatus, now, errMsg, id, prevStatus)
	default:
		result, err = p.db.ExecContext(ctx, `
			UPDATE scans SET status = $1 WHERE id = $2 AND status = $3`, newStatus, id, prevStatus)
	}
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (p *PostgresDatabase) UpdateScanProgress(ctx context.Context, id string, startedAt *time.Time) error {
	if startedAt == nil {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `UPDATE scans SET started_at = COALESCE(started_at, $1) WHERE id = $2`, *startedAt, id)
	return err
}

func (p *PostgresDatabase) DeleteScan(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM scans WHERE id = $1`, id)
	return err
}

func (p *PostgresDatabase) HasCommittedResults(ctx context.Context, scanID string) (bool, error) {
	var status ScanStatus
	err := p.db.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = $1`, scanID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, ErrScanNotFound
	}
	if err != nil {
		return false, err
	}
	return status == ScanCompleted, nil
}

// CommitAnalysis persists scripts/libraries/findings and the scan's
// final risk score and status in one transaction (§4.4 step 8).
func (p *PostgresDatabase) CommitAnalysis(ctx context.Context, scanID string, scripts []Script, libraries []Library, findings []Finding, globalRisk float64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, s := range scripts {
		patterns, _ := json.Marshal(s.DetectedPatterns)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scripts (id, scan_id, source_url, is_inline, artifact_path, fingerprint, detected_patterns, estimated_version, confidence, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, scanID, s.SourceURL, s.IsInline, s.ArtifactPath, s.Fingerprint, patterns, s.EstimatedVersion, s.Confidence, s.CreatedAt); err != nil {
			return fmt.Errorf("insert script: %w", err)
		}
	}

	for _, l := range libraries {
		related, _ := json.Marshal(l.RelatedScripts)
		vulns, _ := json.Marshal(l.Vulnerabilities)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO libraries (id, scan_id, name, detected_version, related_scripts, vulnerabilities, risk_score, confidence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			l.ID, scanID, l.Name, l.DetectedVersion, related, vulns, l.RiskScore, l.Confidence); err != nil {
			return fmt.Errorf("insert library: %w", err)
		}
	}

	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (id, scan_id, type, title, description, severity, location, evidence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			f.ID, scanID, f.Type, f.Title, f.Description, f.Severity, f.Location, f.Evidence); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE scans SET status = $1, global_risk_score = $2, completed_at = $3, error = NULL
		WHERE id = $4 AND status <> $1`, ScanCompleted, globalRisk, now, scanID)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already completed by a concurrent delivery; treat as idempotent
		// no-op: the deferred Rollback discards the rows inserted above.
		return nil
	}

	return tx.Commit()
}

func (p *PostgresDatabase) FailScan(ctx context.Context, scanID string, reason string) error {
	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		UPDATE scans SET status = $1, completed_at = $2, error = $3
		WHERE id = $4 AND status <> $5`, ScanFailed, now, reason, scanID, ScanCompleted)
	return err
}

func (p *PostgresDatabase) GetScripts(ctx context.Context, scanID string) ([]Script, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, scan_id, source_url, is_inline, artifact_path, fingerprint, detected_patterns, estimated_version, confidence, created_at
		FROM scripts WHERE scan_id = $1`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		var s Script
		var patterns []byte
		if err := rows.Scan(&s.ID, &s.ScanID, &s.SourceURL, &s.IsInline, &s.ArtifactPath, &s.Fingerprint,
			&patterns, &s.EstimatedVersion, &s.Confidence, &s.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(patterns, &s.DetectedPatterns)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) GetLibraries(ctx context.Context, scanID string) ([]Library, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, scan_id, name, detected_version, related_scripts, vulnerabilities, risk_score, confidence
		FROM libraries WHERE scan_id = $1`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		var l Library
		var related, vulns []byte
		if err := rows.Scan(&l.ID, &l.ScanID, &l.Name, &l.DetectedVersion, &related, &vulns, &l.RiskScore, &l.Confidence); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(related, &l.RelatedScripts)
		_ = json.Unmarshal(vulns, &l.Vulnerabilities)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) GetFindings(ctx context.Context, scanID string) ([]Finding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, scan_id, type, title, description, severity, location, evidence
		FROM findings WHERE scan_id = $1`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.ScanID, &f.Type, &f.Title, &f.Description, &f.Severity, &f.Location, &f.Evidence); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*VulnerabilityCacheEntry, error) {
	v := ""
	if version != nil {
		v = *version
	}
	var entry VulnerabilityCacheEntry
	var vulns []byte
	var storedVersion string
	err := p.db.QueryRowContext(ctx, `
		SELECT package_name, version, vulnerabilities, last_updated, ttl_seconds
		FROM vulnerability_cache WHERE package_name = $1 AND version = $2`, packageName, v).
		Scan(&entry.PackageName, &storedVersion, &vulns, &entry.LastUpdated, &entry.TTLSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedVersion != "" {
		entry.Version = &storedVersion
	}
	_ = json.Unmarshal(vulns, &entry.Vulnerabilities)
	return &entry, nil
}

func (p *PostgresDatabase) UpsertVulnerabilityCacheEntry(ctx context.Context, entry VulnerabilityCacheEntry) error {
	v := ""
	if entry.Version != nil {
		v = *entry.Version
	}
	vulns, err := json.Marshal(entry.Vulnerabilities)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO vulnerability_cache (package_name, version, vulnerabilities, last_updated, ttl_seconds)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (package_name, version) DO UPDATE SET
			vulnerabilities = EXCLUDED.vulnerabilities,
			last_updated = EXCLUDED.last_updated,
			ttl_seconds = EXCLUDED.ttl_seconds`,
		entry.PackageName, v, vulns, entry.LastUpdated, entry.TTLSeconds)
	return err
}

func (p *PostgresDatabase) GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{RiskDistribution: RiskDistribution{}}

	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM scans`).Scan(&summary.TotalScans); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT global_risk_score, started_at, completed_at FROM scans WHERE status = $1`, ScanCompleted)
	if err != nil {
		return nil, err
	}
	var riskSum float64
	var durationSum float64
	var durationCount int
	var completedCount int
	for rows.Next() {
		var risk float64
		var started, completed *time.Time
		if err := rows.Scan(&risk, &started, &completed); err != nil {
			rows.Close()
			return nil, err
		}
		completedCount++
		riskSum += risk
		switch GetRiskLevel(risk) {
		case RiskLevelCritical:
			summary.RiskDistribution.Critical++
		case RiskLevelHigh:
			summary.RiskDistribution.High++
		case RiskLevelModerate:
			summary.RiskDistribution.Medium++
		default:
			summary.RiskDistribution.Low++
		}
		if started != nil && completed != nil {
			durationSum += completed.Sub(*started).Seconds()
			durationCount++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if completedCount > 0 {
		summary.AverageRiskScore = riskSum / float64(completedCount)
	}
	if durationCount > 0 {
		summary.AverageScanDurationSecs = durationSum / float64(durationCount)
	}

	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM findings WHERE severity = $1`, SeverityCritical).Scan(&summary.ActiveThreats); err != nil {
		return nil, err
	}

	if err := p.db.QueryRowContext(ctx, `
		SELECT count(DISTINCT name) FROM libraries`).Scan(&summary.LibrariesAnalyzed); err != nil {
		return nil, err
	}

	libRows, err := p.db.QueryContext(ctx, `SELECT vulnerabilities FROM libraries`)
	if err != nil {
		return nil, err
	}
	topCounts := map[string]*TopVulnerability{}
	totalVulns := 0
	for libRows.Next() {
		var raw []byte
		if err := libRows.Scan(&raw); err != nil {
			libRows.Close()
			return nil, err
		}
		var vulns []Vulnerability
		_ = json.Unmarshal(raw, &vulns)
		for _, v := range vulns {
			totalVulns++
			key := v.Title
			if entry, ok := topCounts[key]; ok {
				entry.Count++
			} else {
				topCounts[key] = &TopVulnerability{Name: v.Title, Severity: v.Severity, Count: 1}
			}
		}
	}
	libRows.Close()
	if err := libRows.Err(); err != nil {
		return nil, err
	}
	summary.TotalVulnerabilities = totalVulns
	for _, v := range topCounts {
		summary.TopVulnerabilities = append(summary.TopVulnerabilities, *v)
	}

	trendRows, err := p.db.QueryContext(ctx, `
		SELECT date_trunc('day', s.created_at)::date::text AS d, sum(jsonb_array_length(l.vulnerabilities))
		FROM libraries l JOIN scans s ON s.id = l.scan_id
		WHERE s.created_at > now() - interval '30 days'
		GROUP BY d ORDER BY d`)
	if err != nil {
		return nil, err
	}
	for trendRows.Next() {
		var dc DateCount
		if err := trendRows.Scan(&dc.Date, &dc.Count); err != nil {
			trendRows.Close()
			return nil, err
		}
		summary.VulnerabilityTrends = append(summary.VulnerabilityTrends, dc)
	}
	trendRows.Close()

	recentRows, err := p.db.QueryContext(ctx, `
		SELECT date_trunc('day', created_at)::date::text AS d, count(*)
		FROM scans WHERE created_at > now() - interval '7 days'
		GROUP BY d ORDER BY d`)
	if err != nil {
		return nil, err
	}
	for recentRows.Next() {
		var dc DateCount
		if err := recentRows.Scan(&dc.Date, &dc.Count); err != nil {
			recentRows.Close()
			return nil, err
		}
		summary.RecentScans = append(summary.RecentScans, dc)
	}
	recentRows.Close()

	return summary, nil
}
