package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultMaxRequestBody  = 1 << 20 // 1 MiB
	defaultRateRPS         = 50
	defaultRateBurst       = 100
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultPageSize        = 50
	defaultMaxPageSize     = 200
	defaultPollInterval    = 5 * time.Second
	defaultSyncTimeout     = 10 * time.Second
	defaultSlowThreshold   = 200 * time.Millisecond
	defaultRetentionLock   = 300 * time.Second
	defaultRetentionCron   = "0 3 * * *" // daily at 03:00
	defaultRetentionPeriod = "365d"
	defaultRetentionMin    = "1h"
	defaultRetentionBatch  = 500
)

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"console": true, "text": true, "json": true}
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// MetricsEnabled reports whether /admin/metrics is served. Defaults to true.
func (c *Config) MetricsEnabled() bool {
	return c.Telemetry.MetricsEnabled == nil || *c.Telemetry.MetricsEnabled
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults.
func (c *Config) ValidateConfig() error {
	if c.Server.ReadTimeout.Duration() == 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.WriteTimeout.Duration() == 0 {
		c.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Server.IdleTimeout.Duration() == 0 {
		c.Server.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if c.Server.MaxRequestBody.Int64() == 0 {
		c.Server.MaxRequestBody = SizeBytes(defaultMaxRequestBody)
	}
	if c.Storage.MemTableSize < 0 || c.Storage.CacheSize < 0 {
		return fmt.Errorf("storage sizes must not be negative")
	}

	// rate limiting
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}
	if c.Security.RequireSignature && len(c.Security.SigningKeys) == 0 && len(c.Security.APIKeys.Backend) == 0 {
		return fmt.Errorf("security.require_signature is set but no signing or backend keys are configured")
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if !logLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if !logFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}

	if c.Messaging.DefaultPageSize <= 0 {
		c.Messaging.DefaultPageSize = defaultPageSize
	}
	if c.Messaging.MaxPageSize <= 0 {
		c.Messaging.MaxPageSize = defaultMaxPageSize
	}
	if c.Messaging.DefaultPageSize > c.Messaging.MaxPageSize {
		return fmt.Errorf("messaging.default_page_size (%d) exceeds max_page_size (%d)", c.Messaging.DefaultPageSize, c.Messaging.MaxPageSize)
	}

	if c.Sync.PollInterval.Duration() < 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.Sync.PollInterval.Duration() == 0 {
		c.Sync.PollInterval = Duration(defaultPollInterval)
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = c.Messaging.DefaultPageSize
	}
	if c.Sync.Timeout.Duration() == 0 {
		c.Sync.Timeout = Duration(defaultSyncTimeout)
	}

	if c.Telemetry.SlowThreshold.Duration() == 0 {
		c.Telemetry.SlowThreshold = Duration(defaultSlowThreshold)
	}

	// retention
	if c.Retention.LockTTL.Duration() == 0 {
		c.Retention.LockTTL = Duration(defaultRetentionLock)
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if !gronx.IsValid(c.Retention.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", c.Retention.Cron)
	}
	if c.Retention.Period == "" {
		c.Retention.Period = defaultRetentionPeriod
	}
	if c.Retention.MinPeriod == "" {
		c.Retention.MinPeriod = defaultRetentionMin
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = defaultRetentionBatch
	}
	period, err := ParsePeriod(c.Retention.Period)
	if err != nil {
		return fmt.Errorf("invalid retention.period: %w", err)
	}
	minPeriod, err := ParsePeriod(c.Retention.MinPeriod)
	if err != nil {
		return fmt.Errorf("invalid retention.min_period: %w", err)
	}
	if period < minPeriod {
		return fmt.Errorf("retention.period %s is shorter than retention.min_period %s", c.Retention.Period, c.Retention.MinPeriod)
	}
	return nil
}

// ValidateConfig checks the resolved sources and fills defaults on the
// effective config. It fails fast on anything the server cannot start with.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, HOMEFORPUP_DB_PATH env, or server.db_path in config")
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}
	return cfg.ValidateConfig()
}

// BuildRuntime derives the key sets used by request authentication.
func BuildRuntime(cfg *Config) *RuntimeConfig {
	set := func(lists ...[]string) map[string]struct{} {
		out := make(map[string]struct{})
		for _, l := range lists {
			for _, k := range l {
				if k = strings.TrimSpace(k); k != "" {
					out[k] = struct{}{}
				}
			}
		}
		return out
	}
	rc := &RuntimeConfig{
		BackendKeys:  set(cfg.Security.APIKeys.Backend),
		FrontendKeys: set(cfg.Security.APIKeys.Frontend),
		AdminKeys:    set(cfg.Security.APIKeys.Admin),
		SigningKeys:  set(cfg.Security.SigningKeys),
	}
	// signing falls back to backend keys
	if len(rc.SigningKeys) == 0 {
		rc.SigningKeys = set(cfg.Security.APIKeys.Backend)
	}
	return rc
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("HOMEFORPUP_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
