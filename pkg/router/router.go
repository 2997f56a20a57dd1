// Package router is a small fasthttp router with {name} path parameters.
package router

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Router dispatches by method and path. Literal segments win over
// parameters when two routes could both match a path.
type Router struct {
	routes           map[string][]route
	notFound         fasthttp.RequestHandler
	methodNotAllowed fasthttp.RequestHandler
}

type route struct {
	pattern  string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler satisfies fasthttp.RequestHandler.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	parts := split(string(ctx.Path()))

	if rt, values, ok := r.lookup(method, parts); ok {
		for k, v := range values {
			ctx.SetUserValue(k, v)
		}
		rt.handler(ctx)
		return
	}

	if allowed := r.allowed(method, parts); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		if r.methodNotAllowed != nil {
			r.methodNotAllowed(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched paths.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// MethodNotAllowed registers a handler for paths that exist under another
// method. The Allow header is set before it runs.
func (r *Router) MethodNotAllowed(h fasthttp.RequestHandler) {
	r.methodNotAllowed = h
}

// Routes lists registered "METHOD pattern" pairs.
func (r *Router) Routes() []string {
	var out []string
	for m, list := range r.routes {
		for _, rt := range list {
			out = append(out, m+" "+rt.pattern)
		}
	}
	return out
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: parse(path), handler: h})
}

func (r *Router) lookup(method string, parts []string) (route, map[string]string, bool) {
	var (
		best       route
		bestValues map[string]string
		bestScore  = -1
	)
	for _, rt := range r.routes[method] {
		values, score, ok := match(parts, rt.segments)
		if ok && score > bestScore {
			best, bestValues, bestScore = rt, values, score
		}
	}
	return best, bestValues, bestScore >= 0
}

func (r *Router) allowed(method string, parts []string) []string {
	var out []string
	for m, list := range r.routes {
		if m == method {
			continue
		}
		for _, rt := range list {
			if _, _, ok := match(parts, rt.segments); ok {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parse(path string) []segment {
	parts := split(path)
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

// match returns the path parameters and the number of literal segments
// that matched.
func match(parts []string, segs []segment) (map[string]string, int, bool) {
	if len(parts) != len(segs) {
		return nil, 0, false
	}
	values := make(map[string]string)
	literal := 0
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, 0, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, 0, false
		}
		literal++
	}
	return values, literal, true
}
