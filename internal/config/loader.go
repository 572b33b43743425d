package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment variable. It has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with a custom variable source.
func LoadWith(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Overlay returns a LookupFunc that prefers non-empty values from overrides
// and falls back to next. The CLI uses it to layer flags over the environment.
func Overlay(overrides map[string]string, next LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := overrides[key]; ok && v != "" {
			return v, true
		}
		return next(key)
	}
}

// LoadSheets reads only the spreadsheet export settings. Commands that never
// contact the ingestion endpoint use it, so INGEST_BASE_URL is not required.
func LoadSheets(lookup LookupFunc) (SheetsConfig, error) {
	var sc SheetsConfig
	if err := loadStruct(reflect.ValueOf(&sc).Elem(), lookup); err != nil {
		return SheetsConfig{}, fmt.Errorf("config load: %w", err)
	}
	if err := validateHTTPURL(sc.ExportBaseURL); err != nil {
		return SheetsConfig{}, fmt.Errorf("config validation: SHEETS_EXPORT_BASE_URL (%q) %v", sc.ExportBaseURL, err)
	}
	if sc.Timeout <= 0 {
		return SheetsConfig{}, fmt.Errorf("config validation: SHEETS_TIMEOUT must be positive")
	}
	return sc, nil
}

// loadStruct recursively populates struct fields from the variable source.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		value, _ := lookup(envName)
		if value == "" && envAlt != "" {
			value, _ = lookup(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Endpoint
	if err := validateHTTPURL(c.Endpoint.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_BASE_URL (%q) %v", c.Endpoint.BaseURL, err))
	}
	if !strings.HasPrefix(c.Endpoint.InsertPath, "/") {
		errs = append(errs, fmt.Sprintf("INGEST_INSERT_PATH (%q) must start with /", c.Endpoint.InsertPath))
	}
	if len(c.Endpoint.HealthPaths) == 0 {
		errs = append(errs, "INGEST_HEALTH_PATHS must list at least one path")
	}
	for _, p := range c.Endpoint.HealthPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Sprintf("INGEST_HEALTH_PATHS entry %q must start with /", p))
		}
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}
	if c.Endpoint.MaxAttempts <= 0 {
		errs = append(errs, "INGEST_MAX_ATTEMPTS must be positive")
	}
	if c.Endpoint.BackoffBase < 0 {
		errs = append(errs, "INGEST_BACKOFF_BASE must be non-negative")
	}
	if c.Endpoint.Origin != "" {
		if err := validateHTTPURL(c.Endpoint.Origin); err != nil {
			errs = append(errs, fmt.Sprintf("INGEST_ORIGIN (%q) %v", c.Endpoint.Origin, err))
		}
	}
	if c.Endpoint.WithCredentials && c.Endpoint.Origin == "" {
		errs = append(errs, "INGEST_WITH_CREDENTIALS requires INGEST_ORIGIN")
	}

	// Sheets
	if err := validateHTTPURL(c.Sheets.ExportBaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("SHEETS_EXPORT_BASE_URL (%q) %v", c.Sheets.ExportBaseURL, err))
	}
	if c.Sheets.Timeout <= 0 {
		errs = append(errs, "SHEETS_TIMEOUT must be positive")
	}

	// Upload
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.PreviewRows <= 0 {
		errs = append(errs, "UPLOAD_PREVIEW_ROWS must be positive")
	}
	if c.Upload.StagingTTL <= 0 {
		errs = append(errs, "UPLOAD_STAGING_TTL must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// History
	if c.History.Persistent() {
		if c.History.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.History.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.History.MaxConns < c.History.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.History.MaxConns, c.History.MinConns))
		}
	}
	if c.History.RetentionDays <= 0 {
		errs = append(errs, "HISTORY_RETENTION_DAYS must be positive")
	}
	if c.History.PurgeInterval <= 0 {
		errs = append(errs, "HISTORY_PURGE_INTERVAL must be positive")
	}
	if c.History.MemoryLimit <= 0 {
		errs = append(errs, "HISTORY_MEMORY_LIMIT must be positive")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Endpoint: {BaseURL: %q, InsertPath: %q, Timeout: %s, MaxAttempts: %d, Origin: %q, WithCredentials: %v}, ",
		c.Endpoint.BaseURL, c.Endpoint.InsertPath, c.Endpoint.Timeout, c.Endpoint.MaxAttempts,
		c.Endpoint.Origin, c.Endpoint.WithCredentials))
	b.WriteString(fmt.Sprintf("Upload: {MaxFileSize: %d, PreviewRows: %d, MaxConcurrent: %d}, ",
		c.Upload.MaxFileSize, c.Upload.PreviewRows, c.Upload.MaxConcurrent))
	if c.History.Persistent() {
		b.WriteString(fmt.Sprintf("History: {DatabaseURL: [MASKED], MaxConns: %d, RetentionDays: %d}, ",
			c.History.MaxConns, c.History.RetentionDays))
	} else {
		b.WriteString(fmt.Sprintf("History: {memory, Limit: %d}, ", c.History.MemoryLimit))
	}
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
