package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "HOMEFORPUP_"

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the results of reading environment overrides
type EnvResult struct {
	EnvUsed bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// parses the process command line
func ParseConfigFlags() Flags {
	f, err := ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	return f
}

// parses args with the server's three flags and records which were set
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("messaging", flag.ContinueOnError)
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	dbPtr := fs.String("db", "./.database", "Pebble DB path")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}, nil
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// envKeys lists every variable read, without the HOMEFORPUP_ prefix
var envKeys = []string{
	"ADDR", "SERVER_ADDRESS", "SERVER_PORT", "DB_PATH", "TLS_CERT", "TLS_KEY",
	"READ_TIMEOUT", "WRITE_TIMEOUT", "MAX_REQUEST_BODY",
	"STORAGE_SYNC", "STORAGE_MEMTABLE_SIZE", "STORAGE_CACHE_SIZE",
	"CORS_ORIGINS", "RATE_RPS", "RATE_BURST", "IP_WHITELIST",
	"API_BACKEND_KEYS", "API_FRONTEND_KEYS", "API_ADMIN_KEYS",
	"SIGNING_KEYS", "REQUIRE_SIGNATURE",
	"LOG_LEVEL", "LOG_FORMAT",
	"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE",
	"SYNC_SERVER_URL", "SYNC_POLL_INTERVAL", "SYNC_PAGE_SIZE",
	"TELEMETRY_SLOW_THRESHOLD", "METRICS_ENABLED",
	"RETENTION_ENABLED", "RETENTION_CRON", "RETENTION_PERIOD", "RETENTION_MIN_PERIOD",
	"RETENTION_BATCH_SIZE", "RETENTION_BATCH_SLEEP_MS", "RETENTION_DRY_RUN",
	"RETENTION_REPAIR_PROJECTIONS", "RETENTION_LOCK_TTL",
}

// loads environment variables into a new Config; caller config is unchanged
func ParseConfigEnvs() (*Config, EnvResult) {
	envs := make(map[string]string, len(envKeys))
	for _, k := range envKeys {
		envs[k] = os.Getenv(envPrefix + k)
	}
	return parseEnvs(envs)
}

func parseEnvs(envs map[string]string) (*Config, EnvResult) {
	envUsed := false
	for _, v := range envs {
		if v != "" {
			envUsed = true
			break
		}
	}
	envCfg := &Config{}

	// parse helpers
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}
	parseInt := func(v string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
	parseDur := func(v string, dst *Duration) {
		if d, err := parseDuration(v); err == nil {
			*dst = d
		}
	}
	parseSize := func(v string, dst *SizeBytes) {
		if s, err := parseSizeBytes(v); err == nil {
			*dst = s
		}
	}

	if v := envs["ADDR"]; v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		if host := envs["SERVER_ADDRESS"]; host != "" {
			envCfg.Server.Address = host
		}
		if port := envs["SERVER_PORT"]; port != "" {
			parseInt(port, &envCfg.Server.Port)
		}
	}
	if v := envs["DB_PATH"]; v != "" {
		envCfg.Server.DBPath = v
	}
	if v := envs["TLS_CERT"]; v != "" {
		envCfg.Server.TLS.CertFile = v
	}
	if v := envs["TLS_KEY"]; v != "" {
		envCfg.Server.TLS.KeyFile = v
	}
	if v := envs["READ_TIMEOUT"]; v != "" {
		parseDur(v, &envCfg.Server.ReadTimeout)
	}
	if v := envs["WRITE_TIMEOUT"]; v != "" {
		parseDur(v, &envCfg.Server.WriteTimeout)
	}
	if v := envs["MAX_REQUEST_BODY"]; v != "" {
		parseSize(v, &envCfg.Server.MaxRequestBody)
	}

	// storage
	if v := envs["STORAGE_SYNC"]; v != "" {
		envCfg.Storage.Sync = parseBool(v)
	}
	if v := envs["STORAGE_MEMTABLE_SIZE"]; v != "" {
		parseSize(v, &envCfg.Storage.MemTableSize)
	}
	if v := envs["STORAGE_CACHE_SIZE"]; v != "" {
		parseSize(v, &envCfg.Storage.CacheSize)
	}

	// security
	if v := envs["CORS_ORIGINS"]; v != "" {
		envCfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := envs["RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envCfg.Security.RateLimit.RPS = f
		}
	}
	if v := envs["RATE_BURST"]; v != "" {
		parseInt(v, &envCfg.Security.RateLimit.Burst)
	}
	if v := envs["IP_WHITELIST"]; v != "" {
		envCfg.Security.IPWhitelist = parseList(v)
	}
	if v := envs["API_BACKEND_KEYS"]; v != "" {
		envCfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := envs["API_FRONTEND_KEYS"]; v != "" {
		envCfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := envs["API_ADMIN_KEYS"]; v != "" {
		envCfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := envs["SIGNING_KEYS"]; v != "" {
		envCfg.Security.SigningKeys = parseList(v)
	}
	if v := envs["REQUIRE_SIGNATURE"]; v != "" {
		envCfg.Security.RequireSignature = parseBool(v)
	}

	// logging
	if v := envs["LOG_LEVEL"]; v != "" {
		envCfg.Logging.Level = strings.TrimSpace(v)
	}
	if v := envs["LOG_FORMAT"]; v != "" {
		envCfg.Logging.Format = strings.TrimSpace(v)
	}

	// messaging and sync
	if v := envs["DEFAULT_PAGE_SIZE"]; v != "" {
		parseInt(v, &envCfg.Messaging.DefaultPageSize)
	}
	if v := envs["MAX_PAGE_SIZE"]; v != "" {
		parseInt(v, &envCfg.Messaging.MaxPageSize)
	}
	if v := envs["SYNC_SERVER_URL"]; v != "" {
		envCfg.Sync.ServerURL = strings.TrimSpace(v)
	}
	if v := envs["SYNC_POLL_INTERVAL"]; v != "" {
		parseDur(v, &envCfg.Sync.PollInterval)
	}
	if v := envs["SYNC_PAGE_SIZE"]; v != "" {
		parseInt(v, &envCfg.Sync.PageSize)
	}

	// telemetry
	if v := envs["TELEMETRY_SLOW_THRESHOLD"]; v != "" {
		parseDur(v, &envCfg.Telemetry.SlowThreshold)
	}
	if v := envs["METRICS_ENABLED"]; v != "" {
		b := parseBool(v)
		envCfg.Telemetry.MetricsEnabled = &b
	}

	// retention
	if v := envs["RETENTION_ENABLED"]; v != "" {
		envCfg.Retention.Enabled = parseBool(v)
	}
	if v := envs["RETENTION_CRON"]; v != "" {
		envCfg.Retention.Cron = v
	}
	if v := envs["RETENTION_PERIOD"]; v != "" {
		envCfg.Retention.Period = v
	}
	if v := envs["RETENTION_MIN_PERIOD"]; v != "" {
		envCfg.Retention.MinPeriod = v
	}
	if v := envs["RETENTION_BATCH_SIZE"]; v != "" {
		parseInt(v, &envCfg.Retention.BatchSize)
	}
	if v := envs["RETENTION_BATCH_SLEEP_MS"]; v != "" {
		parseInt(v, &envCfg.Retention.BatchSleepMs)
	}
	if v := envs["RETENTION_DRY_RUN"]; v != "" {
		envCfg.Retention.DryRun = parseBool(v)
	}
	if v := envs["RETENTION_REPAIR_PROJECTIONS"]; v != "" {
		envCfg.Retention.RepairProjections = parseBool(v)
	}
	if v := envs["RETENTION_LOCK_TTL"]; v != "" {
		parseDur(v, &envCfg.Retention.LockTTL)
	}
	return envCfg, EnvResult{EnvUsed: envUsed}
}

// decides which source to use. if --config is set, only the config file is
// used; otherwise addr/db flags override the file (or env when no file
// exists); else the config file if present; else env
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["db"] {
		base := *envCfg
		if fileExists {
			base = *fileCfg
		}
		out := &base
		addr := out.Addr()
		if flags.Set["addr"] {
			addr = flags.Addr
			out.Server.Address = hostFromAddr(addr)
			out.Server.Port = parsePortFromAddr(addr)
		}
		dbPath := strings.TrimSpace(out.Server.DBPath)
		if flags.Set["db"] || dbPath == "" {
			dbPath = flags.DB
		}
		out.Server.DBPath = dbPath
		res.Config = out
		res.Addr = addr
		res.DBPath = dbPath
		res.Source = "flags"
		return res, nil
	}

	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Server.DBPath
		res.Source = "config"
		return res, nil
	}
	if envCfg.Server.DBPath == "" {
		envCfg.Server.DBPath = flags.DB
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Server.DBPath
	res.Source = "env"
	return res, nil
}

// extracts port integer from host:port string
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}

func hostFromAddr(a string) string {
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}
	return a
}
