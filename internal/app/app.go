// Package app wires the messaging server: state directories, the pebble
// store, the repository, the HTTP API, the disk sensor and retention.
package app

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/internal/retention"
	"github.com/iwoork/homeforpup-sub006/pkg/api"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/repository"
	"github.com/iwoork/homeforpup-sub006/pkg/state"
	"github.com/iwoork/homeforpup-sub006/pkg/state/sensor"
	"github.com/iwoork/homeforpup-sub006/pkg/store"
	"github.com/iwoork/homeforpup-sub006/pkg/telemetry"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	paths     state.Paths
	db        *store.DB
	repo      *repository.Repository
	sensor    *sensor.Sensor
	retention *retention.Manager
	api       *api.Server
	srv       *fasthttp.Server

	mu      sync.Mutex
	addr    net.Addr
	started chan struct{}
	cancel  context.CancelFunc
	state   string
}

// New prepares the data directory and opens the store. It does not start
// any goroutine; Run does.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("effective config is nil")
	}
	cfg := eff.Config

	paths, err := state.Prepare(eff.DBPath)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare state directories under %s", eff.DBPath)
	}

	db, err := store.Open(store.Options{
		Path:         paths.Store,
		Sync:         cfg.Storage.Sync,
		MemTableSize: cfg.Storage.MemTableSize.Int64(),
		CacheSize:    cfg.Storage.CacheSize.Int64(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open store at %s", paths.Store)
	}

	telemetry.SetSlowThreshold(cfg.Telemetry.SlowThreshold.Duration())

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		paths:     paths,
		db:        db,
		repo:      repository.New(db, repository.WithMaxPageSize(cfg.Messaging.MaxPageSize)),
		sensor:    sensor.New(sensor.Config{Path: paths.DB}),
		started:   make(chan struct{}),
		state:     "initialized",
	}
	a.retention = retention.New(cfg.Retention, a.repo, paths.Retention)
	a.registerGauges()
	return a, nil
}

func (a *App) registerGauges() {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"store_disk_usage_bytes", "Bytes held on disk by the message store.", func() float64 { return float64(a.db.DiskUsage()) }},
		{"data_disk_used_percent", "Used percentage of the filesystem holding the data directory.", a.sensor.UsedPct},
	}
	for _, g := range gauges {
		if err := telemetry.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				logger.Debug("gauge_already_registered", "name", g.name)
				continue
			}
			logger.Warn("gauge_register_failed", "name", g.name, "error", err)
		}
	}
}

// Run starts the HTTP server, the sensor and retention, and blocks until
// ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config
	// requests run under base so a signal does not abort them mid-drain;
	// Shutdown cancels it once the server has stopped
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.cancel = cancel
	a.state = "starting"
	a.mu.Unlock()

	a.sensor.Start()
	if err := a.retention.Start(ctx); err != nil {
		return err
	}
	a.printBanner()

	ln, err := net.Listen("tcp", a.listenAddr())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", a.listenAddr())
	}
	errCh := a.serve(base, ln)

	a.mu.Lock()
	a.addr = ln.Addr()
	a.state = "running"
	a.mu.Unlock()
	close(a.started)
	logger.Info("server_listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS.CertFile != "")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) listenAddr() string {
	if a.eff.Addr != "" {
		return a.eff.Addr
	}
	return a.eff.Config.Addr()
}

// Addr is the bound listener address; it blocks until Run has bound it or
// ctx ends.
func (a *App) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-a.started:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *App) printBanner() {
	cfg := a.eff.Config
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	retentionState := "disabled"
	if cfg.Retention.Enabled {
		retentionState = fmt.Sprintf("%s every %q", cfg.Retention.Period, cfg.Retention.Cron)
	}
	logger.LogConfigSummary("startup_summary", []string{
		fmt.Sprintf("version: %s", ver),
		fmt.Sprintf("addr: %s", a.listenAddr()),
		fmt.Sprintf("db_path: %s", a.paths.DB),
		fmt.Sprintf("config_source: %s", a.eff.Source),
		fmt.Sprintf("store_on_disk: %s", humanize.IBytes(a.db.DiskUsage())),
		fmt.Sprintf("max_request_body: %s", humanize.IBytes(uint64(cfg.Server.MaxRequestBody.Int64()))),
		fmt.Sprintf("page_size: %d (max %d)", cfg.Messaging.DefaultPageSize, cfg.Messaging.MaxPageSize),
		fmt.Sprintf("retention: %s", retentionState),
	})
}
