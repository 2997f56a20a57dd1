package app

import (
	"context"
	"net"

	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/pkg/api"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
)

const readBufferSize = 64 * 1024

// serve builds the API and the fasthttp server on ln; the returned channel
// delivers the serve error.
func (a *App) serve(ctx context.Context, ln net.Listener) <-chan error {
	cfg := a.eff.Config
	a.api = api.New(a.repo, api.SecConfigFrom(cfg, config.BuildRuntime(cfg)),
		api.WithBaseContext(ctx),
		api.WithProbe(a.sensor.Ready),
		api.WithMetrics(cfg.MetricsEnabled()),
		api.WithDefaultPageSize(cfg.Messaging.DefaultPageSize),
		api.WithVersion(a.version),
	)

	a.srv = &fasthttp.Server{
		Name:               "homeforpup-messaging",
		Handler:            a.api.Handler(),
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: int(cfg.Server.MaxRequestBody.Int64()),
		ReadTimeout:        cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:       cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:        cfg.Server.IdleTimeout.Duration(),
	}

	errCh := make(chan error, 1)
	go func() {
		tls := cfg.Server.TLS
		if tls.CertFile != "" && tls.KeyFile != "" {
			errCh <- a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srv.Serve(ln)
	}()
	return errCh
}
