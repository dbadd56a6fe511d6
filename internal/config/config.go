package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Listing source identifiers.
const (
	SourceAPI = "api"
	SourceWeb = "web"
)

// Quota backends.
const (
	QuotaBackendFile     = "file"
	QuotaBackendSQLite   = "sqlite"
	QuotaBackendPostgres = "postgres"
)

// RateLimitConfig indicates how many requests are allowed within a given interval.
type RateLimitConfig struct {
	Requests int
	Interval time.Duration
}

// JitterRange bounds the random factor applied to a base delay.
type JitterRange struct {
	Min float64
	Max float64
}

// PacingConfig holds the courtesy delays applied between remote calls.
type PacingConfig struct {
	PageDelay       time.Duration
	PageJitter      JitterRange
	AttachmentRate  RateLimitConfig
	ExtraPause      time.Duration
	ExtraPauseEvery int
}

// QuotaConfig selects and sizes the monthly call budget.
type QuotaConfig struct {
	Backend    string
	Limit      int
	FilePath   string
	SQLitePath string
}

// Config aggregates application-wide configuration values.
type Config struct {
	Source         string
	SearchAPIURL   string
	SearchAPIKey   string
	SearchWebURL   string
	UserAgent      string
	PageSize       int
	OutputDir      string
	HTTPTimeout    time.Duration
	DatabaseURL    string
	MirrorContacts bool
	PhoneDedup     bool
	PhoneRegion    string
	LogLevel       string
	LogFormat      string
	Pacing         PacingConfig
	Quota          QuotaConfig
}

// fileConfig is the optional YAML overlay named by VCARDSYNC_CONFIG. Keys mirror the
// environment variable names; environment values win.
type fileConfig map[string]string

// Load reads configuration from environment variables and applies sane defaults.
func Load() (*Config, error) {
	overlay, err := loadFile(os.Getenv("VCARDSYNC_CONFIG"))
	if err != nil {
		return nil, err
	}
	get := func(key, fallback string) string {
		if val, ok := overlay[key]; ok && val != "" {
			fallback = val
		}
		return getEnv(key, fallback)
	}

	cfg := &Config{
		Source:       strings.ToLower(get("SOURCE", SourceAPI)),
		SearchAPIURL: get("SEARCH_API_URL", "https://tel.search.ch/api/"),
		SearchAPIKey: get("SEARCH_API_KEY", ""),
		SearchWebURL: get("SEARCH_WEB_URL", "https://search.ch/tel/"),
		UserAgent:    get("USER_AGENT", "vcardsync/1.0"),
		OutputDir:    get("OUTPUT_DIR", "."),
		DatabaseURL:  get("DATABASE_URL", ""),
		PhoneRegion:  strings.ToUpper(get("PHONE_REGION", "CH")),
		LogLevel:     strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(get("LOG_FORMAT", "console")),
		Quota: QuotaConfig{
			Backend:    strings.ToLower(get("QUOTA_BACKEND", QuotaBackendFile)),
			FilePath:   get("QUOTA_FILE", "api_quota.json"),
			SQLitePath: get("SQLITE_PATH", "vcardsync.db"),
		},
	}

	switch cfg.Source {
	case SourceAPI, SourceWeb:
	default:
		return nil, fmt.Errorf("invalid SOURCE value: %q", cfg.Source)
	}
	switch cfg.Quota.Backend {
	case QuotaBackendFile, QuotaBackendSQLite:
	case QuotaBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("QUOTA_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("invalid QUOTA_BACKEND value: %q", cfg.Quota.Backend)
	}

	if cfg.PageSize, err = parsePositiveInt(get("PAGE_SIZE", "10")); err != nil {
		return nil, fmt.Errorf("invalid PAGE_SIZE value: %w", err)
	}
	if cfg.Quota.Limit, err = parsePositiveInt(get("QUOTA_LIMIT", "1000")); err != nil {
		return nil, fmt.Errorf("invalid QUOTA_LIMIT value: %w", err)
	}
	if cfg.HTTPTimeout, err = time.ParseDuration(get("HTTP_TIMEOUT", "15s")); err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT value: %w", err)
	}
	if cfg.MirrorContacts, err = strconv.ParseBool(get("MIRROR_CONTACTS", "false")); err != nil {
		return nil, fmt.Errorf("invalid MIRROR_CONTACTS value: %w", err)
	}
	if cfg.MirrorContacts && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("MIRROR_CONTACTS requires DATABASE_URL")
	}
	if cfg.PhoneDedup, err = strconv.ParseBool(get("PHONE_DEDUP", "false")); err != nil {
		return nil, fmt.Errorf("invalid PHONE_DEDUP value: %w", err)
	}

	if cfg.Pacing.PageDelay, err = time.ParseDuration(get("PAGE_DELAY", "2s")); err != nil {
		return nil, fmt.Errorf("invalid PAGE_DELAY value: %w", err)
	}
	if cfg.Pacing.PageJitter, err = parseJitter(get("PAGE_JITTER", "0.8-1.2")); err != nil {
		return nil, fmt.Errorf("invalid PAGE_JITTER value: %w", err)
	}
	if cfg.Pacing.AttachmentRate, err = parseRateLimit(get("ATTACHMENT_RATE", "1/sec")); err != nil {
		return nil, fmt.Errorf("invalid ATTACHMENT_RATE value: %w", err)
	}
	if cfg.Pacing.ExtraPause, err = time.ParseDuration(get("EXTRA_PAUSE", "5m")); err != nil {
		return nil, fmt.Errorf("invalid EXTRA_PAUSE value: %w", err)
	}
	if cfg.Pacing.ExtraPauseEvery, err = strconv.Atoi(get("EXTRA_PAUSE_EVERY", "10")); err != nil || cfg.Pacing.ExtraPauseEvery < 0 {
		return nil, fmt.Errorf("invalid EXTRA_PAUSE_EVERY value: %q", get("EXTRA_PAUSE_EVERY", "10"))
	}

	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	if strings.TrimSpace(path) == "" {
		return fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	overlay := make(fileConfig, len(raw))
	for key, val := range raw {
		if val == nil {
			continue
		}
		overlay[strings.ToUpper(strings.TrimSpace(key))] = fmt.Sprint(val)
	}
	return overlay, nil
}

func parseRateLimit(value string) (RateLimitConfig, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("expected format <requests>/<interval>, got %q", value)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid request count: %v", parts[0])
	}

	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	var interval time.Duration
	switch unit {
	case "s", "sec", "second", "seconds":
		interval = time.Second
	case "m", "min", "minute", "minutes":
		interval = time.Minute
	case "h", "hr", "hour", "hours":
		interval = time.Hour
	default:
		return RateLimitConfig{}, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	return RateLimitConfig{Requests: requests, Interval: interval}, nil
}

func parseJitter(value string) (JitterRange, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return JitterRange{}, fmt.Errorf("expected format <min>-<max>, got %q", value)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return JitterRange{}, fmt.Errorf("invalid jitter minimum: %v", parts[0])
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return JitterRange{}, fmt.Errorf("invalid jitter maximum: %v", parts[1])
	}
	if lo < 0 || hi < lo {
		return JitterRange{}, fmt.Errorf("jitter range must satisfy 0 <= min <= max, got %q", value)
	}
	return JitterRange{Min: lo, Max: hi}, nil
}

func parsePositiveInt(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
