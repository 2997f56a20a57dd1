// Package auth is the request gate in front of the messaging API: CORS,
// IP allow-list, API key roles, per-key rate limiting and the acting-user
// identity.
package auth

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

type writeErrorFunc func(ctx *fasthttp.RequestCtx, status int, msg string)

// Gateway wraps API handlers with the security checks in cfg.
type Gateway struct {
	cfg      SecConfig
	limiters *limiterPool
	writeErr writeErrorFunc
}

func NewGateway(cfg SecConfig, writeErr writeErrorFunc) *Gateway {
	return &Gateway{cfg: cfg, limiters: newLimiterPool(cfg.RPS, cfg.Burst), writeErr: writeErr}
}

// Close stops the limiter cleanup loop.
func (g *Gateway) Close() {
	g.limiters.Shutdown()
}

func (g *Gateway) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	cfg := g.cfg
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequest(ctx)
		path := string(ctx.Path())

		// cors headers and options shortcut
		origin := header(ctx, "Origin")
		if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Name,X-User-Signature")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		if len(cfg.IPWhitelist) > 0 {
			ip := clientIP(ctx)
			if !ipWhitelisted(ip, cfg.IPWhitelist) {
				g.writeErr(ctx, fasthttp.StatusForbidden, "forbidden")
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", path)
				return
			}
		}

		if publicPath(ctx) {
			next(ctx)
			return
		}

		role, key := g.role(ctx)
		if role == RoleUnauth {
			g.writeErr(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			logger.Warn("request_unauthorized", "path", path, "remote", ctx.RemoteAddr().String())
			return
		}

		admin := strings.HasPrefix(path, "/admin")
		switch {
		case admin && (role == RoleFrontend || role == RoleBackend):
			g.writeErr(ctx, fasthttp.StatusForbidden, "admin routes require an admin api key")
			logger.Warn("admin_access_denied", "role", role.String(), "path", path)
			return
		case !admin && role == RoleAdmin:
			g.writeErr(ctx, fasthttp.StatusForbidden, "admin api keys may only access /admin routes")
			logger.Warn("admin_route_violation", "path", path)
			return
		}

		if !g.limiters.Allow(key) {
			g.writeErr(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "role", role.String(), "path", path)
			return
		}

		if !admin {
			id, problem := resolveIdentity(ctx, role, cfg)
			if problem != "" {
				g.writeErr(ctx, fasthttp.StatusUnauthorized, problem)
				logger.Warn("identity_rejected", "reason", problem, "user", id.UserID, "path", path)
				return
			}
			ctx.SetUserValue(identityKey, id)
		}
		next(ctx)
	}
}

// role classifies the API key; the limiter key falls back to the client ip.
func (g *Gateway) role(ctx *fasthttp.RequestCtx) (Role, string) {
	key := extractAPIKey(ctx)
	if !g.cfg.keysConfigured() {
		if key == "" {
			key = clientIP(ctx)
		}
		return RoleOpen, key
	}
	if key == "" {
		return RoleUnauth, ""
	}
	if _, ok := g.cfg.AdminKeys[key]; ok {
		return RoleAdmin, key
	}
	if _, ok := g.cfg.BackendKeys[key]; ok {
		return RoleBackend, key
	}
	if _, ok := g.cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key
	}
	return RoleUnauth, ""
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func publicPath(ctx *fasthttp.RequestCtx) bool {
	path := string(ctx.Path())
	return (path == "/healthz" || path == "/readyz") && string(ctx.Method()) == fasthttp.MethodGet
}
