package api

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

// WriteJSON writes a JSON response with the current status code.
func WriteJSON(ctx *fasthttp.RequestCtx, data interface{}) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus sets status and writes data.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	ctx.SetStatusCode(status)
	if err := WriteJSON(ctx, data); err != nil {
		logger.Error("write_response_failed", "path", string(ctx.Path()), "error", err)
	}
}

// WriteJSONError writes {"error": message}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(ErrorBody{Error: message})
}

// WriteError maps an apperr kind onto its status code.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status := apperr.StatusCode(err)
	kind := apperr.KindOf(err)
	msg := err.Error()
	if status >= fasthttp.StatusInternalServerError {
		logger.Error("request_failed", "path", string(ctx.Path()), "kind", kind, "error", err)
		if kind == apperr.KindUnknown {
			msg = "internal error"
		}
	}
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(ErrorBody{Error: msg, Kind: kind})
}
