// Package vulnfeed implements the vulnerability feed client: a
// read-through cache in front of an external package-advisory API,
// per spec §4.7.
package vulnfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"surfacescan/internal/database"
)

// CacheStore is the narrow slice of database.Database this client
// needs — a read-through cache backed by the vulnerability_cache
// table, independent of the rest of the storage surface.
type CacheStore interface {
	GetVulnerabilityCacheEntry(ctx context.Context, packageName string, version *string) (*database.VulnerabilityCacheEntry, error)
	UpsertVulnerabilityCacheEntry(ctx context.Context, entry database.VulnerabilityCacheEntry) error
}

// Config mirrors config.VulnFeedConfig without importing the config
// package directly, keeping this package's dependency surface small.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// Client is the vulnerability feed client described in spec §4.7.
type Client struct {
	cache      CacheStore
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// New builds a Client. logger may be nil.
func New(cache CacheStore, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cache: cache,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// queryRequest is the advisory API request body: a package identifier
// plus an optional pinned version, scoped to the npm ecosystem since
// this scanner only inspects client-side JavaScript dependencies.
type queryRequest struct {
	Package queryPackage `json:"package"`
	Version string       `json:"version,omitempty"`
}

type queryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type queryResponse struct {
	Vulns []feedVulnerability `json:"vulns"`
}

// feedVulnerability is one record as returned by the advisory API.
type feedVulnerability struct {
	ID         string   `json:"id"`
	Summary    string   `json:"summary"`
	Details    string   `json:"details"`
	CVSSScore  *float64 `json:"cvssScore,omitempty"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

// GetVulnerabilities returns known vulnerabilities for (name, version),
// reading through a TTL-bounded cache in front of the advisory API per
// spec §4.7. version may be empty when a detection carried no pinned
// version.
func (c *Client) GetVulnerabilities(ctx context.Context, name, version string) ([]database.Vulnerability, error) {
	var versionPtr *string
	if version != "" {
		versionPtr = &version
	}

	if cached, err := c.cache.GetVulnerabilityCacheEntry(ctx, name, versionPtr); err == nil && cached != nil {
		if !cached.Expired(time.Now()) {
			return cached.Vulnerabilities, nil
		}
	}

	vulns, err := c.fetch(ctx, name, version)
	if err != nil {
		// Step 4: log and return empty rather than propagate. The
		// cache is not poisoned with a negative result here — only a
		// successful (possibly empty-from-the-feed) response is
		// cached, per spec §4.7 step 4 / §9.
		c.logger.Warn("vulnerability feed lookup failed",
			zap.String("package", name), zap.String("version", version), zap.Error(err))
		return nil, nil
	}

	ttl := c.positiveTTL()
	if len(vulns) == 0 {
		// A clean result gets a much shorter TTL than a positive one:
		// an empty advisory response is far more likely to reflect a
		// newly-disclosed CVE the upstream feed hasn't indexed yet
		// than it is to mean the package is actually clean forever.
		ttl = c.negativeTTL()
	}
	entry := database.VulnerabilityCacheEntry{
		PackageName:     name,
		Version:         versionPtr,
		Vulnerabilities: vulns,
		LastUpdated:     time.Now(),
		TTLSeconds:      int(ttl.Seconds()),
	}
	if err := c.cache.UpsertVulnerabilityCacheEntry(ctx, entry); err != nil {
		c.logger.Warn("vulnerability cache upsert failed",
			zap.String("package", name), zap.Error(err))
	}

	return vulns, nil
}

func (c *Client) positiveTTL() time.Duration {
	if c.cfg.PositiveTTL > 0 {
		return c.cfg.PositiveTTL
	}
	return 24 * time.Hour
}

func (c *Client) negativeTTL() time.Duration {
	if c.cfg.NegativeTTL > 0 {
		return c.cfg.NegativeTTL
	}
	return 15 * time.Minute
}

// fetch performs the advisory API call with bounded retries on
// transient network failure, mirroring internal/database's
// withRetry/isRetryable shape.
func (c *Client) fetch(ctx context.Context, name, version string) ([]database.Vulnerability, error) {
	reqBody, err := json.Marshal(queryRequest{
		Package: queryPackage{Name: name, Ecosystem: "npm"},
		Version: version,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal feed request: %w", err)
	}

	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for i := 0; i < attempts; i++ {
		vulns, err := c.doFetch(ctx, reqBody)
		if err == nil {
			return vulns, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *Client) doFetch(ctx context.Context, reqBody []byte) ([]database.Vulnerability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/query", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	out := make([]database.Vulnerability, 0, len(qr.Vulns))
	for _, v := range qr.Vulns {
		out = append(out, toVulnerability(v))
	}
	return out, nil
}

func toVulnerability(v feedVulnerability) database.Vulnerability {
	title := v.Summary
	if title == "" {
		title = v.ID
	}
	description := v.Details
	if description == "" {
		description = v.Summary
	}

	severity := database.SeverityLow
	if v.CVSSScore != nil {
		severity = database.SeverityFromCVSS(*v.CVSSScore)
	}

	refs := make([]string, 0, len(v.References))
	for _, r := range v.References {
		refs = append(refs, r.URL)
	}

	return database.Vulnerability{
		ID:          v.ID,
		Title:       title,
		Description: description,
		Severity:    severity,
		CVSSScore:   v.CVSSScore,
		References:  refs,
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "i/o timeout", "EOF", "status 5"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
