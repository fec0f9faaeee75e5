package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"surfacescan/internal/config"
)

// SQLiteDatabase is a local/dev/test Database implementation against the
// same interface as PostgresDatabase, selected via the driver factory
// (DB_DRIVER=sqlite3). It stores JSON columns as TEXT.
type SQLiteDatabase struct {
	cfg *config.DatabaseConfig
	db  *sql.DB
}

// NewSQLiteDatabase constructs an unconnected SQLiteDatabase.
func NewSQLiteDatabase(cfg *config.DatabaseConfig) *SQLiteDatabase {
	return &SQLiteDatabase{cfg: cfg}
}

func (s *SQLiteDatabase) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.cfg.SQLitePath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open sqlite3: %w", err)
	}
	// SQLite allows only one writer; a single connection avoids
	// "database is locked" errors under this process's concurrency model.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite3: %w", err)
	}
	s.db = db
	if s.cfg.AutoMigrate {
		if err := s.migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDatabase) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			global_risk_score REAL NOT NULL DEFAULT 0,
			artifact_paths TEXT NOT NULL DEFAULT '{}',
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			source_url TEXT,
			is_inline INTEGER NOT NULL,
			artifact_path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			detected_patterns TEXT NOT NULL DEFAULT '[]',
			estimated_version TEXT,
			confidence INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS libraries (
			id TEXT PRIMARY KEY,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			detected_version TEXT,
			related_scripts TEXT NOT NULL DEFAULT '[]',
			vulnerabilities TEXT NOT NULL DEFAULT '[]',
			risk_score REAL NOT NULL DEFAULT 0,
			confidence INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id TEXT PRIMARY KEY,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			severity TEXT NOT NULL,
			location TEXT NOT NULL,
			evidence TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS vulnerability_cache (
			package_name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			vulnerabilities TEXT NOT NULL DEFAULT '[]',
			last_updated DATETIME NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			PRIMARY KEY (package_name, version)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteDatabase) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDatabase) CreateScan(ctx context.Context, scan *Scan) error {
	params, _ := json.Marshal(scan.Parameters)
	artifacts, _ := json.Marshal(scan.ArtifactPaths)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, url, parameters, status, created_at, global_risk_score, artifact_paths)
		VALUES (?,?,?,?,?,?,?)`,
		scan.ID, scan.URL, string(params), scan.Status, scan.CreatedAt, scan.GlobalRiskScore, string(artifacts))
	return err
}

func (s *SQLiteDatabase) scanRow(row interface {
	Scan(dest ...interface{}) error
}) (*Scan, error) {
	var sc Scan
	var params, artifacts string
	if err := row.Scan(&sc.ID, &sc.URL, &params, &sc.Status, &sc.CreatedAt, &sc.StartedAt,
		&sc.CompletedAt, &sc.GlobalRiskScore, &artifacts, &sc.Error); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(params), &sc.Parameters)
	_ = json.Unmarshal([]byte(artifacts), &sc.ArtifactPaths)
	return &sc, nil
}

func (s *SQLiteDatabase) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrScanNotFound
	}
	return sc, err
}

func (s *SQLiteDatabase) GetLatestScanForURL(ctx context.Context, url string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE url = ? ORDER BY created_at DESC, id DESC LIMIT 1`, url)
	sc, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrScanNotFound
	}
	return sc, err
}

func (s *SQLiteDatabase) ListScans(ctx context.Context, filter ScanListFilter) (*ScanList, error) {
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
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		sc, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}

	var total int
	countQuery := `SELECT count(*) FROM scans`
	countArgs := []interface{}{}
	if filter.Status != "" {
		countQuery += ` WHERE status = ?`
		countArgs = append(countArgs, filter.Status)
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	return &ScanList{Scans: scans, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *SQLiteDatabase) UpdateScanStatus(ctx context.Context, id string, prevStatus, newStatus ScanStatus, errMsg *string) (bool, error) {
	now := time.Now()
	var result sql.Result
	var err error
	switch newStatus {
	case ScanRunning:
		result, err = s.db.ExecContext(ctx, `
			UPDATE scans SET status = ?, started_at = COALESCE(started_at, ?)
			WHERE id = ? AND status = ?`, newStatus, now, id, prevStatus)
	case ScanCompleted, ScanFailed:
		result, err = s.db.ExecContext(ctx, `
			UPDATE scans SET status = ?, completed_at = ?, error = ?
			WHERE id = ? AND status = ?`, newStatus, now, errMsg, id, prevStatus)
	default:
		result, err = s.db.ExecContext(ctx, `UPDATE scans SET status = ? WHERE id = ? AND status = ?`, newStatus, id, prevStatus)
	}
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLiteDatabase) UpdateScanProgress(ctx context.Context, id string, startedAt *time.Time) error {
	if startedAt == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE scans SET started_at = COALESCE(started_at, ?) WHERE id = ?`, *startedAt, id)
	return err
}

func (s *SQLiteDatabase) DeleteScan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	return err
}

func (s *SQLiteDatabase) HasCommittedResults(ctx context.Context, scanID string) (bool, error) {
	var status ScanStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, scanID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, ErrScanNotFound
	}
	if err != nil {
		return false, err
	}
	return status == ScanCompleted, nil
}

func (s *SQLiteDatabase) CommitAnalysis(ctx context.Context, scanID string, scripts []Script, libraries []Library, findings []Finding, globalRisk float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sc := range scripts {
		patterns, _ := json.Marshal(sc.DetectedPatterns)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scripts (id, scan_id, source_url, is_inline, artifact_path, fingerprint, detected_patterns, estimated_version, confidence, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			sc.ID, scanID, sc.SourceURL, sc.IsInline, sc.ArtifactPath, sc.Fingerprint, string(patterns), sc.EstimatedVersion, sc.Confidence, sc.CreatedAt); err != nil {
			return err
		}
	}
	for _, l := range libraries {
		related, _ := json.Marshal(l.RelatedScripts)
		vulns, _ := json.Marshal(l.Vulnerabilities)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO libraries (id, scan_id, name, detected_version, related_scripts, vulnerabilities, risk_score, confidence)
			VALUES (?,?,?,?,?,?,?,?)`,
			l.ID, scanID, l.Name, l.DetectedVersion, string(related), string(vulns), l.RiskScore, l.Confidence); err != nil {
			return err
		}
	}
	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (id, scan_id, type, title, description, severity, location, evidence)
			VALUES (?,?,?,?,?,?,?,?)`,
			f.ID, scanID, f.Type, f.Title, f.Description, f.Severity, f.Location, f.Evidence); err != nil {
			return err
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE scans SET status = ?, global_risk_score = ?, completed_at = ?, error = NULL
		WHERE id = ? AND status <> ?`, ScanCompleted, globalRisk, now, scanID, ScanCompleted); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteDatabase) FailScan(ctx context.Context, scanID string, reason string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, completed_at = ?, error = ?
		WHERE id = ? AND status <> ?`, ScanFailed, now, reason, scanID, ScanCompleted)
	return err
}

func (s *SQLiteDatabase) GetScripts(ctx context.Context, scanID string) ([]Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, source_url, is_inline, artifact_path, fingerprint, detected_patterns, estimated_version, confidence, created_at
		FROM scripts WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Script
	for rows.Next() {
		var sc Script
		var patterns string
		if err := rows.Scan(&sc.ID, &sc.ScanID, &sc.SourceURL, &sc.IsInline, &sc.ArtifactPath, &sc.Fingerprint,
			&patterns, &sc.EstimatedVersion, &sc.Confidence, &sc.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(patterns), &sc.DetectedPatterns)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) GetLibraries(ctx context.Context, scanID string) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, name, detected_version, related_scripts, vulnerabilities, risk_score, confidence
		FROM libraries WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Library
	for rows.Next() {
		var l Library
		var related, vulns string
		if err := rows.Scan(&l.ID, &l.ScanID, &l.Name, &l.DetectedVersion, &related, &vulns, &l.RiskScore, &l.Confidence); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(related), &l.RelatedScripts)
		_ = json.Unmarshal([]byte(vulns), &l.Vulnerabilities)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) GetFindings(ctx context.Context, scanID string) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, type, title, description, severity, location, evidence
		FROM findings WHERE scan_id = ?`, scanID)
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

func (s *SQLiteDatabase) GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*VulnerabilityCacheEntry, error) {
	v := ""
	if version != nil {
		v = *version
	}
	var entry VulnerabilityCacheEntry
	var vulns, storedVersion string
	err := s.db.QueryRowContext(ctx, `
		SELECT package_name, version, vulnerabilities, last_updated, ttl_seconds
		FROM vulnerability_cache WHERE package_name = ? AND version = ?`, packageName, v).
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
	_ = json.Unmarshal([]byte(vulns), &entry.Vulnerabilities)
	return &entry, nil
}

func (s *SQLiteDatabase) UpsertVulnerabilityCacheEntry(ctx context.Context, entry VulnerabilityCacheEntry) error {
	v := ""
	if entry.Version != nil {
		v = *entry.Version
	}
	vulns, err := json.Marshal(entry.Vulnerabilities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vulnerability_cache (package_name, version, vulnerabilities, last_updated, ttl_seconds)
		VALUES (?,?,?,?,?)
		ON CONFLICT (package_name, version) DO UPDATE SET
			vulnerabilities = excluded.vulnerabilities,
			last_updated = excluded.last_updated,
			ttl_seconds = excluded.ttl_seconds`,
		entry.PackageName, v, string(vulns), entry.LastUpdated, entry.TTLSeconds)
	return err
}

func (s *SQLiteDatabase) GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{RiskDistribution: RiskDistribution{}}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scans`).Scan(&summary.TotalScans); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT global_risk_score, started_at, completed_at FROM scans WHERE status = ?`, ScanCompleted)
	if err != nil {
		return nil, err
	}
	var riskSum, durationSum float64
	var durationCount, completedCount int
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
	if completedCount > 0 {
		summary.AverageRiskScore = riskSum / float64(completedCount)
	}
	if durationCount > 0 {
		summary.AverageScanDurationSecs = durationSum / float64(durationCount)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM findings WHERE severity = ?`, SeverityCritical).Scan(&summary.ActiveThreats); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(DISTINCT name) FROM libraries`).Scan(&summary.LibrariesAnalyzed); err != nil {
		return nil, err
	}

	libRows, err := s.db.QueryContext(ctx, `SELECT vulnerabilities FROM libraries`)
	if err != nil {
		return nil, err
	}
	topCounts := map[string]*TopVulnerability{}
	total := 0
	for libRows.Next() {
		var raw string
		if err := libRows.Scan(&raw); err != nil {
			libRows.Close()
			return nil, err
		}
		var vulns []Vulnerability
		_ = json.Unmarshal([]byte(raw), &vulns)
		for _, v := range vulns {
			total++
			if entry, ok := topCounts[v.Title]; ok {
				entry.Count++
			} else {
				topCounts[v.Title] = &TopVulnerability{Name: v.Title, Severity: v.Severity, Count: 1}
			}
		}
	}
	libRows.Close()
	summary.TotalVulnerabilities = total
	for _, v := range topCounts {
		summary.TopVulnerabilities = append(summary.TopVulnerabilities, *v)
	}

	// SQLite lacks date_trunc and a json-array-length aggregate usable
	// here across driver versions; bucket per-vulnerability counts in Go
	// instead, joined through the owning scan's created_at.
	trendRows, err := s.db.QueryContext(ctx, `
		SELECT s.created_at, l.vulnerabilities
		FROM libraries l JOIN scans s ON s.id = l.scan_id
		WHERE s.created_at > ?`, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		return nil, err
	}
	trendCounts := map[string]int{}
	for trendRows.Next() {
		var t time.Time
		var raw string
		if err := trendRows.Scan(&t, &raw); err != nil {
			trendRows.Close()
			return nil, err
		}
		var vulns []Vulnerability
		_ = json.Unmarshal([]byte(raw), &vulns)
		trendCounts[t.Format("2006-01-02")] += len(vulns)
	}
	trendRows.Close()
	for d, c := range trendCounts {
		summary.VulnerabilityTrends = append(summary.VulnerabilityTrends, DateCount{Date: d, Count: c})
	}

	recentRows, err := s.db.QueryContext(ctx, `SELECT created_at FROM scans WHERE created_at > ?`, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	recentCounts := map[string]int{}
	for recentRows.Next() {
		var t time.Time
		if err := recentRows.Scan(&t); err != nil {
			recentRows.Close()
			return nil, err
		}
		recentCounts[t.Format("2006-01-02")]++
	}
	recentRows.Close()
	for d, c := range recentCounts {
		summary.RecentScans = append(summary.RecentScans, DateCount{Date: d, Count: c})
	}

	return summary, nil
}
