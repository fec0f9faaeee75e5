// Package config assembles runtime configuration from environment
// variables, following the same typed-sub-struct layout the rest of
// this codebase uses for its other composition roots.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Testing     Environment = "testing"
)

// Config holds all configuration for the scanner.
type Config struct {
	Environment   Environment         `json:"environment" yaml:"environment"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	ObjectStore   ObjectStoreConfig   `json:"object_store" yaml:"object_store"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	VulnFeed      VulnFeedConfig      `json:"vuln_feed" yaml:"vuln_feed"`
	SSRF          SSRFConfig          `json:"ssrf" yaml:"ssrf"`
	Render        RenderConfig        `json:"render" yaml:"render"`
	Features      FeatureFlags        `json:"features" yaml:"features"`
}

// ServerConfig holds HTTP server and API-gateway related configuration.
type ServerConfig struct {
	Port         int           `json:"port" yaml:"port"`
	Host         string        `json:"host" yaml:"host"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownGrace time.Duration `json:"shutdown_grace" yaml:"shutdown_grace"`

	CORS CORSConfig `json:"cors" yaml:"cors"`

	// SubmitCooldown is the minimum interval between accepted scans for
	// the same normalized target URL.
	SubmitCooldown time.Duration `json:"submit_cooldown" yaml:"submit_cooldown"`

	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// CORSConfig holds CORS configuration for the API gateway's own responses.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// RateLimitConfig configures the per-client token bucket applied to the API.
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DatabaseConfig holds relational-store configuration.
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`

	// SQLitePath is used only when Driver == "sqlite3".
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// RedisConfig holds the vulnerability-cache Redis connection.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

// QueueConfig holds the render/analyze job queue's Redis connection
// and retry policy. Uses the same go-redis/v9 client as RedisConfig,
// typically against a distinct DB index or key prefix.
type QueueConfig struct {
	Addr              string        `json:"addr" yaml:"addr"`
	Password          string        `json:"password" yaml:"password"`
	DB                int           `json:"db" yaml:"db"`
	KeyPrefix         string        `json:"key_prefix" yaml:"key_prefix"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff       time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff"`
	VisibilityTimeout time.Duration `json:"visibility_timeout" yaml:"visibility_timeout"`
	StalledCheckEvery time.Duration `json:"stalled_check_every" yaml:"stalled_check_every"`

	// WorkerConcurrency is the number of dispatcher goroutines each of
	// cmd/worker's render and analyze pools runs.
	WorkerConcurrency int `json:"worker_concurrency" yaml:"worker_concurrency"`
}

// ObjectStoreConfig holds the artifact object-store connection.
type ObjectStoreConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	URL       string `json:"url" yaml:"url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
}

// ObservabilityConfig holds logging, metrics and tracing configuration.
type ObservabilityConfig struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path" yaml:"metrics_path"`

	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	TracingURL     string `json:"tracing_url" yaml:"tracing_url"`

	HealthCheckPath string `json:"health_check_path" yaml:"health_check_path"`
}

// VulnFeedConfig holds the vulnerability feed client configuration.
type VulnFeedConfig struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	PositiveTTL time.Duration `json:"positive_ttl" yaml:"positive_ttl"`
	NegativeTTL time.Duration `json:"negative_ttl" yaml:"negative_ttl"`
}

// SSRFConfig holds target-URL validation policy.
type SSRFConfig struct {
	AllowedSchemes []string      `json:"allowed_schemes" yaml:"allowed_schemes"`
	DeniedPorts    []int         `json:"denied_ports" yaml:"denied_ports"`
	ResolveTimeout time.Duration `json:"resolve_timeout" yaml:"resolve_timeout"`
	AllowLoopback  bool          `json:"allow_loopback" yaml:"allow_loopback"` // dev/test escape hatch only
}

// RenderConfig holds headless-browser render worker configuration.
type RenderConfig struct {
	NavigationTimeout  time.Duration `json:"navigation_timeout" yaml:"navigation_timeout"`
	IdleWait           time.Duration `json:"idle_wait" yaml:"idle_wait"`
	MaxPages           int           `json:"max_pages" yaml:"max_pages"`
	MaxCrawlDepth      int           `json:"max_crawl_depth" yaml:"max_crawl_depth"`
	RespectRobotsTxt   bool          `json:"respect_robots_txt" yaml:"respect_robots_txt"`
	UserAgent          string        `json:"user_agent" yaml:"user_agent"`
	MaxResourceBytes   int64         `json:"max_resource_bytes" yaml:"max_resource_bytes"`
	MaxExternalScripts int           `json:"max_external_scripts" yaml:"max_external_scripts"`
	ScriptFetchTimeout time.Duration `json:"script_fetch_timeout" yaml:"script_fetch_timeout"`
	AnalysisWaitSlack  time.Duration `json:"analysis_wait_slack" yaml:"analysis_wait_slack"`
}

// FeatureFlags toggles optional subsystems.
type FeatureFlags struct {
	VulnFeedEnabled    bool `json:"vuln_feed_enabled" yaml:"vuln_feed_enabled"`
	CrawlEnabled       bool `json:"crawl_enabled" yaml:"crawl_enabled"`
	ObjectStoreEnabled bool `json:"object_store_enabled" yaml:"object_store_enabled"`
	DLQInspectionAPI   bool `json:"dlq_inspection_api" yaml:"dlq_inspection_api"`
}

// Load assembles configuration from environment variables. Callers that
// want .env support should call godotenv.Load() before Load(); this
// package does not read .env files itself.
//
// If CONFIG_FILE names a readable YAML file, it is overlaid on top of
// the env-derived values (file wins for whatever keys it sets) — this
// is the mechanism an operator uses to manage feature flags and the
// SSRF allowlist from a mounted file without a redeploy; see
// LoadYAMLOverlay and Watcher.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvironment(),
		Server:        getServerConfig(),
		Database:      getDatabaseConfig(),
		Redis:         getRedisConfig(),
		ObjectStore:   getObjectStoreConfig(),
		Queue:         getQueueConfig(),
		Observability: getObservabilityConfig(),
		VulnFeed:      getVulnFeedConfig(),
		SSRF:          getSSRFConfig(),
		Render:        getRenderConfig(),
		Features:      getFeatureFlags(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadYAMLOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("config file overlay failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants that must hold before the server can start.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Render.MaxCrawlDepth < 0 {
		return fmt.Errorf("render max crawl depth cannot be negative")
	}
	if c.Render.MaxPages <= 0 {
		return fmt.Errorf("render max pages must be positive")
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.URL == "" {
			return fmt.Errorf("object store URL is required when enabled")
		}
		if c.ObjectStore.APIKey == "" {
			return fmt.Errorf("object store API key is required when enabled")
		}
	}

	if len(c.SSRF.AllowedSchemes) == 0 {
		return fmt.Errorf("at least one allowed scheme is required for SSRF validation")
	}

	return nil
}

func getEnvironment() Environment {
	switch strings.ToLower(os.Getenv("ENV")) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "testing", "test":
		return Testing
	default:
		return Development
	}
}

func getServerConfig() ServerConfig {
	return ServerConfig{
		Port:          getEnvAsInt("PORT", 8080),
		Host:          getEnvAsString("HOST", "0.0.0.0"),
		ReadTimeout:   getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:  getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:   getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),
		SubmitCooldown: getEnvAsDuration("SUBMIT_COOLDOWN", 30*time.Second),
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvAsStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 3600),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			CleanupInterval:   getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),
		},
	}
}

func getDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnvAsString("DB_DRIVER", "postgres"),
		Host:            getEnvAsString("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		Username:        getEnvAsString("DB_USERNAME", "postgres"),
		Password:        getEnvAsString("DB_PASSWORD", ""),
		Database:        getEnvAsString("DB_DATABASE", "surfacescan"),
		SSLMode:         getEnvAsString("DB_SSL_MODE", "disable"),
		SQLitePath:      getEnvAsString("DB_SQLITE_PATH", "surfacescan.db"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
	}
}

func getRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnvAsString("VULN_CACHE_REDIS_ADDR", "localhost:6379"),
		Password: getEnvAsString("VULN_CACHE_REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("VULN_CACHE_REDIS_DB", 0),
		Prefix:   getEnvAsString("VULN_CACHE_PREFIX", "vulncache:"),
		TTL:      getEnvAsDuration("VULN_CACHE_TTL", 24*time.Hour),
	}
}

func getObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		Enabled: getEnvAsBool("OBJECT_STORE_ENABLED", false),
		URL:     getEnvAsString("OBJECT_STORE_URL", ""),
		APIKey:  getEnvAsString("OBJECT_STORE_API_KEY", ""),
		Bucket:  getEnvAsString("OBJECT_STORE_BUCKET", "scan-artifacts"),
	}
}

func getQueueConfig() QueueConfig {
	return QueueConfig{
		Addr:              getEnvAsString("QUEUE_REDIS_ADDR", "localhost:6379"),
		Password:          getEnvAsString("QUEUE_REDIS_PASSWORD", ""),
		DB:                getEnvAsInt("QUEUE_REDIS_DB", 1),
		KeyPrefix:         getEnvAsString("QUEUE_KEY_PREFIX", "scanq:"),
		MaxRetries:        getEnvAsInt("QUEUE_MAX_RETRIES", 5),
		BaseBackoff:       getEnvAsDuration("QUEUE_BASE_BACKOFF", 2*time.Second),
		MaxBackoff:        getEnvAsDuration("QUEUE_MAX_BACKOFF", 2*time.Minute),
		VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 90*time.Second),
		StalledCheckEvery: getEnvAsDuration("QUEUE_STALLED_CHECK_EVERY", 30*time.Second),
		WorkerConcurrency: getEnvAsInt("QUEUE_WORKER_CONCURRENCY", 4),
	}
}

func getObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        getEnvAsString("LOG_LEVEL", "info"),
		LogFormat:       getEnvAsString("LOG_FORMAT", "json"),
		MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
		MetricsPath:     getEnvAsString("METRICS_PATH", "/metrics"),
		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingURL:      getEnvAsString("TRACING_URL", ""),
		HealthCheckPath: getEnvAsString("HEALTH_CHECK_PATH", "/health"),
	}
}

func getVulnFeedConfig() VulnFeedConfig {
	return VulnFeedConfig{
		BaseURL:     getEnvAsString("VULN_FEED_BASE_URL", "https://api.osv.dev"),
		Timeout:     getEnvAsDuration("VULN_FEED_TIMEOUT", 10*time.Second),
		MaxRetries:  getEnvAsInt("VULN_FEED_MAX_RETRIES", 3),
		PositiveTTL: getEnvAsDuration("VULN_CACHE_POSITIVE_TTL", 24*time.Hour),
		NegativeTTL: getEnvAsDuration("VULN_CACHE_NEGATIVE_TTL", 15*time.Minute),
	}
}

func getSSRFConfig() SSRFConfig {
	return SSRFConfig{
		AllowedSchemes: getEnvAsStringSlice("SSRF_ALLOWED_SCHEMES", []string{"http", "https"}),
		DeniedPorts:    getEnvAsIntSlice("SSRF_DENIED_PORTS", []int{25, 587, 6379, 5432, 11211}),
		ResolveTimeout: getEnvAsDuration("SSRF_RESOLVE_TIMEOUT", 3*time.Second),
		AllowLoopback:  getEnvAsBool("SSRF_ALLOW_LOOPBACK", false),
	}
}

func getRenderConfig() RenderConfig {
	return RenderConfig{
		NavigationTimeout: getEnvAsDuration("RENDER_NAVIGATION_TIMEOUT", 20*time.Second),
		IdleWait:          getEnvAsDuration("RENDER_IDLE_WAIT", 2*time.Second),
		MaxPages:          getEnvAsInt("RENDER_MAX_PAGES", 5),
		MaxCrawlDepth:     getEnvAsInt("RENDER_MAX_CRAWL_DEPTH", 1),
		RespectRobotsTxt:  getEnvAsBool("RENDER_RESPECT_ROBOTS_TXT", true),
		UserAgent:         getEnvAsString("RENDER_USER_AGENT", "surfacescan-bot/1.0"),
		MaxResourceBytes:  getEnvAsInt64("RENDER_MAX_RESOURCE_BYTES", 5*1024*1024),
		MaxExternalScripts: getEnvAsInt("RENDERER_MAX_EXTERNAL_SCRIPTS", 30),
		ScriptFetchTimeout: getEnvAsDuration("RENDERER_SCRIPT_FETCH_TIMEOUT", 10*time.Second),
		AnalysisWaitSlack:  getEnvAsDuration("RENDERER_ANALYSIS_WAIT_SLACK", 120*time.Second),
	}
}

func getFeatureFlags() FeatureFlags {
	return FeatureFlags{
		VulnFeedEnabled:    getEnvAsBool("FEATURE_VULN_FEED", true),
		CrawlEnabled:       getEnvAsBool("FEATURE_CRAWL", true),
		ObjectStoreEnabled: getEnvAsBool("FEATURE_OBJECT_STORE", false),
		DLQInspectionAPI:   getEnvAsBool("FEATURE_DLQ_INSPECTION_API", true),
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsIntSlice(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
