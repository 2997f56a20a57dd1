package logger

import (
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap/zapcore"
)

var sensitiveHeaders = map[string]bool{
	"authorization":    true,
	"x-api-key":        true,
	"x-user-signature": true,
	"cookie":           true,
}

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	if utf8.RuneCountInString(v) <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

// SafeHeaders renders request headers with credentials masked.
func SafeHeaders(ctx *fasthttp.RequestCtx) string {
	parts := make([]string, 0, 8)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		val := string(v)
		if sensitiveHeaders[strings.ToLower(key)] {
			val = maskedValue(val)
		}
		parts = append(parts, key+"="+val)
	})
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise summary of an incoming request at debug level.
func LogRequest(ctx *fasthttp.RequestCtx) {
	if !Log.Desugar().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	Debug("incoming_request", "method", string(ctx.Method()), "path", string(ctx.Path()), "remote", ctx.RemoteAddr().String(), "headers", SafeHeaders(ctx))
}
