package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iwoork/homeforpup-sub006/internal/app"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 20 * time.Second

func abort(msg string, err error) {
	logger.Error("fatal", "msg", msg, "error", err)
	logger.Sync()
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		abort("failed to load config file", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		abort("failed to build effective config", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		abort("invalid configuration", err)
	}

	// initialize logger after config is fully loaded
	if err := logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Format); err != nil {
		abort("failed to initialize logger", err)
	}
	defer logger.Sync()
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		abort("failed to initialize app", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("app_shutdown_failed", "error", err)
	}
	if runErr != nil {
		logger.Sync()
		os.Exit(1)
	}
}
