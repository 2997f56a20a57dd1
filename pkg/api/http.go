// Package api serves the messaging repository over fasthttp.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/iwoork/homeforpup-sub006/pkg/api/auth"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/router"
)

// Store is the slice of the repository the API serves.
type Store interface {
	CreateThread(ctx context.Context, in models.NewThread) (models.Thread, models.Message, error)
	AppendMessage(ctx context.Context, in models.NewMessage) (models.Message, error)
	ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error)
	FindThreadsBetween(ctx context.Context, userA, userB string) ([]models.Thread, error)
	SearchThreads(ctx context.Context, userID string, filter models.ThreadFilter) ([]models.Thread, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
	GetThreadFor(ctx context.Context, threadID, userID string) (models.Thread, error)
	ListMessages(ctx context.Context, threadID string, limit int, before int64) (models.MessagePage, error)
	MarkThreadRead(ctx context.Context, threadID, userID string) error
	DeleteThread(ctx context.Context, threadID string) error
	Ready() bool
}

// Probe is an extra readiness check; a non-nil error fails /readyz.
type Probe func() error

type Server struct {
	store    Store
	gate     *auth.Gateway
	base     context.Context
	probes   []Probe
	metrics  bool
	pageSize int
	version  string
}

type Option func(*Server)

// WithBaseContext sets the context repository calls run under; cancel it
// on shutdown.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

func WithProbe(p Probe) Option {
	return func(s *Server) { s.probes = append(s.probes, p) }
}

// WithMetrics toggles /admin/metrics.
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

func WithDefaultPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func New(store Store, sec auth.SecConfig, opts ...Option) *Server {
	s := &Server{
		store:    store,
		base:     context.Background(),
		metrics:  true,
		pageSize: 50,
		version:  "dev",
	}
	for _, o := range opts {
		o(s)
	}
	s.gate = auth.NewGateway(sec, WriteJSONError)
	return s
}

// SecConfigFrom builds the gateway configuration from the loaded config.
func SecConfigFrom(cfg *config.Config, rt *config.RuntimeConfig) auth.SecConfig {
	return auth.SecConfig{
		AllowedOrigins:   append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:              cfg.Security.RateLimit.RPS,
		Burst:            cfg.Security.RateLimit.Burst,
		IPWhitelist:      append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:      rt.BackendKeys,
		FrontendKeys:     rt.FrontendKeys,
		AdminKeys:        rt.AdminKeys,
		SigningKeys:      rt.SigningKeys,
		RequireSignature: cfg.Security.RequireSignature,
	}
}

// wrapHTTPHandler adapts a net/http handler to fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires all API routes onto r.
func (s *Server) RegisterRoutes(r *router.Router) {
	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)

	// participant views
	r.GET("/v1/users/{userId}/threads", s.listThreads)
	r.GET("/v1/users/{userId}/threads/search", s.searchThreads)
	r.GET("/v1/users/{userId}/unread", s.unread)

	// thread operations
	r.POST("/v1/threads", s.createThread)
	r.GET("/v1/threads/{threadId}", s.getThread)
	r.DELETE("/v1/threads/{threadId}", s.deleteThread)
	r.GET("/v1/threads/{threadId}/messages", s.listMessages)
	r.POST("/v1/threads/{threadId}/messages", s.appendMessage)
	r.POST("/v1/threads/{threadId}/read", s.markRead)

	if s.metrics {
		r.GET("/admin/metrics", wrapHTTPHandler(promhttp.Handler()))
	}

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(ctx *fasthttp.RequestCtx) {
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the routed handler behind the auth gateway.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	s.RegisterRoutes(r)
	return s.gate.Middleware(r.Handler)
}

// Close releases the gateway's background cleanup.
func (s *Server) Close() {
	s.gate.Close()
}

func (s *Server) healthz(ctx *fasthttp.RequestCtx) {
	WriteJSONStatus(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(ctx *fasthttp.RequestCtx) {
	if !s.store.Ready() {
		WriteJSONStatus(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	for _, p := range s.probes {
		if err := p(); err != nil {
			WriteJSONStatus(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
			return
		}
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
