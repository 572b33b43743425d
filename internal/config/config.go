// Package config provides centralized configuration management for the server
// and the CLI. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Endpoint EndpointConfig
	Sheets   SheetsConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	History  HistoryConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout must cover a full submission including retries (default: 3m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"3m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`
}

// EndpointConfig describes the remote ingestion service.
type EndpointConfig struct {
	// BaseURL is the ingestion service root, e.g. https://ingest.example.com (required)
	BaseURL string `env:"INGEST_BASE_URL" envAlt:"API_BASE_URL" required:"true"`

	// InsertPath receives batch submissions (default: /insert)
	InsertPath string `env:"INGEST_INSERT_PATH" default:"/insert"`

	// HealthPaths are probed in order by diagnostics (default: /api/health,/)
	HealthPaths []string `env:"INGEST_HEALTH_PATHS" default:"/api/health,/"`

	// DefaultTable is used when a submission names no target table (default: imports)
	DefaultTable string `env:"INGEST_DEFAULT_TABLE" default:"imports"`

	// Timeout bounds each HTTP attempt (default: 30s)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"30s"`

	// MaxAttempts is the total number of tries for network failures (default: 3)
	MaxAttempts int `env:"INGEST_MAX_ATTEMPTS" default:"3"`

	// BackoffBase is the delay before the first retry; it doubles per retry (default: 1s)
	BackoffBase time.Duration `env:"INGEST_BACKOFF_BASE" default:"1s"`

	// Origin, when set, makes calls cross-origin from this origin
	Origin string `env:"INGEST_ORIGIN"`

	// WithCredentials includes cookies and requires credentialed CORS (default: false)
	WithCredentials bool `env:"INGEST_WITH_CREDENTIALS" default:"false"`
}

// SheetsConfig holds shared-spreadsheet import settings.
type SheetsConfig struct {
	// ExportBaseURL is the spreadsheet host serving CSV exports (default: https://docs.google.com)
	ExportBaseURL string `env:"SHEETS_EXPORT_BASE_URL" default:"https://docs.google.com"`

	// Timeout bounds each export candidate request (default: 30s)
	Timeout time.Duration `env:"SHEETS_TIMEOUT" default:"30s"`
}

// UploadConfig holds upload, preview, and submission limits.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// PreviewRows is the number of records shown in a preview (default: 10)
	PreviewRows int `env:"UPLOAD_PREVIEW_ROWS" default:"10"`

	// StagingTTL is how long a parsed upload stays available for submission (default: 30m)
	StagingTTL time.Duration `env:"UPLOAD_STAGING_TTL" default:"30m"`

	// MaxConcurrent is the maximum number of parallel submissions (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a submission slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for preview, import and submit (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// HistoryConfig holds submission history settings. Without a database URL
// history is kept in memory.
type HistoryConfig struct {
	// DatabaseURL is the PostgreSQL connection string (optional)
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// RetentionDays is how long submission history is kept (default: 90)
	RetentionDays int `env:"HISTORY_RETENTION_DAYS" default:"90"`

	// PurgeInterval is how often expired history is removed (default: 24h)
	PurgeInterval time.Duration `env:"HISTORY_PURGE_INTERVAL" default:"24h"`

	// MemoryLimit caps entries kept by the in-memory store (default: 1000)
	MemoryLimit int `env:"HISTORY_MEMORY_LIMIT" default:"1000"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Persistent reports whether history should be stored in PostgreSQL.
func (c *HistoryConfig) Persistent() bool {
	return c.DatabaseURL != ""
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
