// Package pipeline wires the router, per-request key derivation, and the
// SWR engine into a single http.Handler, matching C9 of the design: every
// inbound request runs through short-circuits, routing, key derivation,
// the cache decision, and response framing, in that order.
package pipeline

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kestrelcache/edgecache/internal/cachekey"
	"github.com/kestrelcache/edgecache/internal/codec"
	"github.com/kestrelcache/edgecache/internal/corsutil"
	"github.com/kestrelcache/edgecache/internal/reqmemo"
	"github.com/kestrelcache/edgecache/internal/reverseproxy"
	"github.com/kestrelcache/edgecache/internal/router"
	"github.com/kestrelcache/edgecache/internal/swr"
)

// Pipeline is the top-level http.Handler.
type Pipeline struct {
	routes *router.Table
	engine *swr.Engine
	cors   *corsutil.Policy
	log    zerolog.Logger
}

// New builds a Pipeline over a compiled route table and SWR engine.
// cors may be nil to disable CORS stamping entirely.
func New(routes *router.Table, engine *swr.Engine, cors *corsutil.Policy, log zerolog.Logger) *Pipeline {
	return &Pipeline{routes: routes, engine: engine, cors: cors, log: log}
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer p.recoverPanic(w, r)

	r, scope := reqmemo.WithScope(r)

	switch {
	case r.URL.Path == "/favicon.ico":
		p.writeNotFound(w, r)
		return
	case r.URL.Path == "/healthcheck":
		p.writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "message": "Health Check is good."})
		return
	case r.Method == http.MethodOptions && !p.cors.Disabled():
		p.cors.Apply(w.Header(), r)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	route, params, ok := p.routes.Match(r)
	if !ok {
		p.writeNotFound(w, r)
		return
	}

	requestKey := reqmemo.Get(scope, "requestKey", func() string {
		return cachekey.RequestKey(r)
	})
	acceptable := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))

	entry, status, err := p.engine.Handle(r, params, route, requestKey, acceptable)
	if err != nil {
		p.writeError(w, r, err, "")
		return
	}
	if len(entry.Body) == 0 {
		p.writeNotFound(w, r)
		return
	}
	if status == swr.StatusNone {
		status = swr.StatusMiss
	}

	for k, v := range entry.Headers {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.Header().Set("X-Cache", string(status))
	p.cors.Apply(w.Header(), r)
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func (p *Pipeline) recoverPanic(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	p.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Bytes("stack", debug.Stack()).Msg("unhandled panic in pipeline")
	p.writeError(w, r, panicError{rec}, string(debug.Stack()))
}

type panicError struct{ value any }

func (e panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return err.Error()
	}
	return "panic"
}

type errorBody struct {
	Error        string `json:"error"`
	Stack        string `json:"stack,omitempty"`
	Code         string `json:"code"`
	ResponseText string `json:"responseText,omitempty"`
}

func (p *Pipeline) writeError(w http.ResponseWriter, r *http.Request, err error, stack string) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error(), Stack: stack, Code: "INTERNAL_ERROR"}

	if routeErr, ok := err.(*reverseproxy.RouteError); ok {
		status = routeErr.StatusCode
		body.Code = "UPSTREAM_ERROR"
		body.ResponseText = routeErr.Body
	}

	p.log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "ERROR")
	p.cors.Apply(w.Header(), r)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (p *Pipeline) writeNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	p.cors.Apply(w.Header(), r)
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(errorBody{Error: "Page not found!", Code: "NOT_FOUND"})
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	p.cors.Apply(w.Header(), r)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseAcceptEncoding comma-splits and trims Accept-Encoding, dropping
// unrecognized tokens; an empty or fully-unrecognized header falls back
// to identity-only.
func parseAcceptEncoding(header string) []codec.Name {
	if header == "" {
		return []codec.Name{codec.Identity}
	}
	var out []codec.Name
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if semi := strings.IndexByte(tok, ';'); semi >= 0 {
			tok = tok[:semi]
		}
		if codec.Valid(tok) {
			out = append(out, codec.Name(tok))
		}
	}
	if len(out) == 0 {
		return []codec.Name{codec.Identity}
	}
	return out
}
