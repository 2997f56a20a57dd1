package app

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

// Shutdown stops the server, retention and the sensor, then closes the
// store. ctx bounds how long in-flight requests may take to drain.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.state = "shutting_down"
	cancel := a.cancel
	a.mu.Unlock()

	var errs error
	if a.srv != nil {
		done := make(chan error, 1)
		go func() { done <- a.srv.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrap(err, "http shutdown"))
			}
		case <-ctx.Done():
			logger.Warn("http_shutdown_timeout", "error", ctx.Err())
			errs = errors.CombineErrors(errs, errors.Wrap(ctx.Err(), "http shutdown"))
		}
	}
	if cancel != nil {
		cancel()
	}
	a.retention.Stop()
	a.sensor.Stop()
	if a.api != nil {
		a.api.Close()
	}
	if err := a.db.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "close store"))
	}

	a.mu.Lock()
	if errs == nil {
		a.state = "stopped"
	}
	a.mu.Unlock()
	logger.Info("app_shutdown_complete", "error", errs)
	return errs
}

// State reports the lifecycle phase: initialized, starting, running,
// shutting_down or stopped.
func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
