package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfigFileParsesHumanUnits(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /var/lib/messaging
  read_timeout: 2s
  max_request_body: 2MB
storage:
  memtable_size: 64MiB
sync:
  poll_interval: 3
retention:
  enabled: true
  period: 30d
`)
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, int64(2_000_000), cfg.Server.MaxRequestBody.Int64())
	assert.Equal(t, int64(64<<20), cfg.Storage.MemTableSize.Int64())
	assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval.Duration())
	assert.True(t, cfg.Retention.Enabled)
}

func TestInvalidUnitsFailToParse(t *testing.T) {
	var d struct {
		D Duration  `yaml:"d"`
		S SizeBytes `yaml:"s"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("d: soon"), &d))
	assert.Error(t, yaml.Unmarshal([]byte("s: lots"), &d))
}

func TestValidateConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.ValidateConfig())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.Messaging.DefaultPageSize)
	assert.Equal(t, 200, cfg.Messaging.MaxPageSize)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval.Duration())
	assert.Equal(t, defaultRetentionCron, cfg.Retention.Cron)
	assert.Equal(t, "365d", cfg.Retention.Period)
	assert.Equal(t, float64(defaultRateRPS), cfg.Security.RateLimit.RPS)
	assert.True(t, cfg.MetricsEnabled())
}

func TestValidateConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad cron", func(c *Config) { c.Retention.Cron = "every tuesday" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"period below minimum", func(c *Config) { c.Retention.Period = "10m"; c.Retention.MinPeriod = "1h" }},
		{"bad period", func(c *Config) { c.Retention.Period = "forever" }},
		{"page sizes", func(c *Config) { c.Messaging.DefaultPageSize = 500; c.Messaging.MaxPageSize = 100 }},
		{"negative poll", func(c *Config) { c.Sync.PollInterval = Duration(-time.Second) }},
		{"signature without keys", func(c *Config) { c.Security.RequireSignature = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateConfig())
		})
	}
}

func TestValidateEffectiveConfig(t *testing.T) {
	assert.Error(t, ValidateConfig(EffectiveConfigResult{}))
	assert.Error(t, ValidateConfig(EffectiveConfigResult{Config: &Config{}}))

	tls := &Config{}
	tls.Server.TLS.CertFile = "cert.pem"
	assert.Error(t, ValidateConfig(EffectiveConfigResult{Config: tls, DBPath: "db"}))

	assert.NoError(t, ValidateConfig(EffectiveConfigResult{Config: &Config{}, DBPath: "db"}))
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"12h", 12 * time.Hour, false},
		{"0d", 0, true},
		{"", 0, true},
		{"-5m", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnvs(t *testing.T) {
	cfg, res := parseEnvs(map[string]string{
		"ADDR":                     "0.0.0.0:7070",
		"DB_PATH":                  "/data",
		"API_BACKEND_KEYS":         "sk_a, sk_b,,",
		"REQUIRE_SIGNATURE":        "yes",
		"RATE_RPS":                 "12.5",
		"SYNC_POLL_INTERVAL":       "750ms",
		"STORAGE_CACHE_SIZE":       "128MB",
		"RETENTION_ENABLED":        "1",
		"RETENTION_LOCK_TTL":       "45",
		"METRICS_ENABLED":          "false",
		"MAX_PAGE_SIZE":            "not-a-number",
		"RETENTION_DRY_RUN":        "true",
		"LOG_LEVEL":                " debug ",
		"SIGNING_KEYS":             "sig_1",
		"SERVER_PORT":              "9999",
		"TELEMETRY_SLOW_THRESHOLD": "1s",
	})
	assert.True(t, res.EnvUsed)
	assert.Equal(t, "0.0.0.0:7070", cfg.Addr(), "ADDR wins over SERVER_PORT")
	assert.Equal(t, "/data", cfg.Server.DBPath)
	assert.Equal(t, []string{"sk_a", "sk_b"}, cfg.Security.APIKeys.Backend)
	assert.True(t, cfg.Security.RequireSignature)
	assert.Equal(t, 12.5, cfg.Security.RateLimit.RPS)
	assert.Equal(t, 750*time.Millisecond, cfg.Sync.PollInterval.Duration())
	assert.Equal(t, int64(128_000_000), cfg.Storage.CacheSize.Int64())
	assert.True(t, cfg.Retention.Enabled)
	assert.True(t, cfg.Retention.DryRun)
	assert.Equal(t, 45*time.Second, cfg.Retention.LockTTL.Duration())
	assert.False(t, cfg.MetricsEnabled())
	assert.Zero(t, cfg.Messaging.MaxPageSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Telemetry.SlowThreshold.Duration())

	_, res = parseEnvs(map[string]string{"ADDR": ""})
	assert.False(t, res.EnvUsed)
}

func TestParseConfigEnvsReadsPrefix(t *testing.T) {
	t.Setenv("HOMEFORPUP_DB_PATH", "/from/env")
	t.Setenv("HOMEFORPUP_LOG_FORMAT", "json")
	cfg, res := ParseConfigEnvs()
	assert.True(t, res.EnvUsed)
	assert.Equal(t, "/from/env", cfg.Server.DBPath)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	file := &Config{}
	file.Server.Address = "10.0.0.1"
	file.Server.Port = 9000
	file.Server.DBPath = "/file/db"
	file.Logging.Level = "warn"

	env := &Config{}
	env.Server.DBPath = "/env/db"

	t.Run("explicit config requires file", func(t *testing.T) {
		f, err := ParseFlags([]string{"--config", "/missing.yaml"})
		require.NoError(t, err)
		_, err = LoadEffectiveConfig(f, &Config{}, false, env, EnvResult{EnvUsed: true})
		assert.Error(t, err)

		res, err := LoadEffectiveConfig(f, file, true, env, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "config", res.Source)
		assert.Equal(t, "/file/db", res.DBPath)
	})

	t.Run("flags override file", func(t *testing.T) {
		f, err := ParseFlags([]string{"--addr", "127.0.0.1:7000"})
		require.NoError(t, err)
		res, err := LoadEffectiveConfig(f, file, true, env, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "flags", res.Source)
		assert.Equal(t, "127.0.0.1:7000", res.Addr)
		assert.Equal(t, "/file/db", res.DBPath)
		assert.Equal(t, "warn", res.Config.Logging.Level)
		assert.Equal(t, 9000, file.Server.Port, "file config untouched")
	})

	t.Run("db flag", func(t *testing.T) {
		f, err := ParseFlags([]string{"--db", "/flag/db"})
		require.NoError(t, err)
		res, err := LoadEffectiveConfig(f, &Config{}, false, env, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "/flag/db", res.DBPath)
		assert.Equal(t, "0.0.0.0:8080", res.Addr)
	})

	t.Run("file before env", func(t *testing.T) {
		f, err := ParseFlags(nil)
		require.NoError(t, err)
		res, err := LoadEffectiveConfig(f, file, true, env, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "config", res.Source)
		assert.Equal(t, "10.0.0.1:9000", res.Addr)
	})

	t.Run("env fallback", func(t *testing.T) {
		f, err := ParseFlags(nil)
		require.NoError(t, err)
		res, err := LoadEffectiveConfig(f, &Config{}, false, env, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "env", res.Source)
		assert.Equal(t, "/env/db", res.DBPath)
	})
}

func TestParseConfigFileMissingIsNotAnError(t *testing.T) {
	f, err := ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.NoError(t, err)
	cfg, found, err := ParseConfigFile(f)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, cfg)

	bad := writeConfig(t, "server: [")
	f, err = ParseFlags([]string{"--config", bad})
	require.NoError(t, err)
	_, _, err = ParseConfigFile(f)
	assert.Error(t, err)
}

func TestBuildRuntime(t *testing.T) {
	cfg := &Config{}
	cfg.Security.APIKeys.Backend = []string{"sk_1", " "}
	cfg.Security.APIKeys.Frontend = []string{"pk_1"}
	rc := BuildRuntime(cfg)
	assert.Equal(t, map[string]struct{}{"sk_1": {}}, rc.BackendKeys)
	assert.Equal(t, rc.BackendKeys, rc.SigningKeys)
	assert.Len(t, rc.FrontendKeys, 1)

	cfg.Security.SigningKeys = []string{"sig"}
	assert.Equal(t, map[string]struct{}{"sig": {}}, BuildRuntime(cfg).SigningKeys)
}
