package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/valyala/fasthttp"
)

// caller role
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
	// RoleOpen is assigned when no API keys are configured at all.
	RoleOpen
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	case RoleOpen:
		return "open"
	default:
		return "unauth"
	}
}

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderSignature = "X-User-Signature"

	identityKey = "identity"
	maxUserID   = 128
)

// Identity is the acting user attached to a request.
type Identity struct {
	UserID   string
	UserName string
	Role     Role
	// Verified is set when X-User-Signature matched a signing key.
	Verified bool
}

// SecConfig is the security configuration the gateway enforces.
type SecConfig struct {
	AllowedOrigins   []string
	RPS              float64
	Burst            int
	IPWhitelist      []string
	BackendKeys      map[string]struct{}
	FrontendKeys     map[string]struct{}
	AdminKeys        map[string]struct{}
	SigningKeys      map[string]struct{}
	RequireSignature bool
}

func (c SecConfig) keysConfigured() bool {
	return len(c.BackendKeys)+len(c.FrontendKeys)+len(c.AdminKeys) > 0
}

// SignUser returns the hex HMAC-SHA256 of userID under key.
func SignUser(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyUser checks signature against every signing key.
func VerifyUser(userID, signature string, keys map[string]struct{}) bool {
	for k := range keys {
		if hmac.Equal([]byte(SignUser(userID, k)), []byte(signature)) {
			return true
		}
	}
	return false
}

// Current returns whatever identity the gateway attached, possibly with an
// empty UserID for backend callers that act through the request body.
func Current(ctx *fasthttp.RequestCtx) Identity {
	id, _ := ctx.UserValue(identityKey).(Identity)
	return id
}

// FromContext returns the identity resolved by the gateway.
func FromContext(ctx *fasthttp.RequestCtx) (Identity, bool) {
	id := Current(ctx)
	return id, id.UserID != ""
}

func header(ctx *fasthttp.RequestCtx, name string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(name)))
}

// extractAPIKey reads "Authorization: Bearer <key>" or X-API-Key.
func extractAPIKey(ctx *fasthttp.RequestCtx) string {
	if auth := header(ctx, "Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return header(ctx, HeaderAPIKey)
}

// resolveIdentity reads the user headers and enforces the signature rule.
// Backend callers are trusted to speak for any user.
func resolveIdentity(ctx *fasthttp.RequestCtx, role Role, cfg SecConfig) (Identity, string) {
	id := Identity{
		UserID:   header(ctx, HeaderUserID),
		UserName: header(ctx, HeaderUserName),
		Role:     role,
	}
	if id.UserID == "" {
		return id, ""
	}
	if len(id.UserID) > maxUserID {
		return id, "user id too long"
	}
	sig := header(ctx, HeaderSignature)
	if sig != "" {
		if !VerifyUser(id.UserID, sig, cfg.SigningKeys) {
			return id, "invalid signature"
		}
		id.Verified = true
		return id, ""
	}
	if cfg.RequireSignature && role != RoleBackend {
		return id, "missing signature"
	}
	return id, ""
}
