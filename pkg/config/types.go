package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds key sets other packages query at runtime.
type RuntimeConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
	AdminKeys    map[string]struct{}
	SigningKeys  map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Messaging MessagingConfig `yaml:"messaging"`
	Sync      SyncConfig      `yaml:"sync"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address        string    `yaml:"address"`
	Port           int       `yaml:"port"`
	DBPath         string    `yaml:"db_path"`
	TLS            TLSConfig `yaml:"tls"`
	ReadTimeout    Duration  `yaml:"read_timeout"`
	WriteTimeout   Duration  `yaml:"write_timeout"`
	IdleTimeout    Duration  `yaml:"idle_timeout"`
	MaxRequestBody SizeBytes `yaml:"max_request_body"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StorageConfig tunes the pebble store.
type StorageConfig struct {
	Sync         bool      `yaml:"sync"`
	MemTableSize SizeBytes `yaml:"memtable_size"`
	CacheSize    SizeBytes `yaml:"cache_size"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
	// SigningKeys verify X-User-Signature. Backend keys are used when empty.
	SigningKeys      []string `yaml:"signing_keys"`
	RequireSignature bool     `yaml:"require_signature"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
}

// RetentionConfig holds configuration for the idle-thread purge runner.
type RetentionConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Cron              string   `yaml:"cron"`
	Period            string   `yaml:"period"`
	MinPeriod         string   `yaml:"min_period"`
	BatchSize         int      `yaml:"batch_size"`
	BatchSleepMs      int      `yaml:"batch_sleep_ms"`
	DryRun            bool     `yaml:"dry_run"`
	RepairProjections bool     `yaml:"repair_projections"`
	LockTTL           Duration `yaml:"lock_ttl"`
}

// MessagingConfig bounds repository requests.
type MessagingConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// SyncConfig drives the polling client used by msgctl watch.
type SyncConfig struct {
	ServerURL    string   `yaml:"server_url"`
	PollInterval Duration `yaml:"poll_interval"`
	PageSize     int      `yaml:"page_size"`
	Timeout      Duration `yaml:"timeout"`
}

// TelemetryConfig controls slow-operation reporting and metrics exposure.
type TelemetryConfig struct {
	SlowThreshold  Duration `yaml:"slow_threshold"`
	MetricsEnabled *bool    `yaml:"metrics_enabled"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSizeBytes(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSizeBytes(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

// ParsePeriod parses retention periods such as "30d" or "720h".
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid days period: %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("period must be positive: %q", s)
	}
	return d, nil
}
