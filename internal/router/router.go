// Package router compiles URL-path patterns supporting ":name" and
// ":name?" segments, matches inbound requests against them, and can
// reconstruct a concrete path from a pattern and a parameter set.
//
// Route matching deliberately walks the compiled table in reverse
// insertion order: the last-declared route that matches wins. This
// mirrors the source's tie-break rule and is a preserved contract, not an
// accident -- it lets callers register a catch-all early and override
// specific paths later.
package router

import (
	"fmt"
	"net/http"
	"strings"
)

// HandlerResult is what a route handler produces. Exactly one of the two
// shapes is populated: a full HTTP response (Status/Header/Body) or a
// structured JSON value (JSON). The pipeline normalizes either shape into
// a cache entry.
type HandlerResult struct {
	IsJSON bool

	// Response-like shape.
	StatusCode int
	Header     http.Header
	Body       []byte

	// Structured-value shape.
	JSON any
}

// HandlerFunc produces a HandlerResult for a matched request and its path
// parameters.
type HandlerFunc func(r *http.Request, params map[string]string) (*HandlerResult, error)

// RouteSpec is immutable once compiled.
type RouteSpec struct {
	Pattern   string
	Cacheable bool
	Handler   HandlerFunc

	segments []segment
}

type segment struct {
	literal  string
	param    string
	optional bool
}

func (s segment) isParam() bool { return s.param != "" }

// New returns a RouteSpec with Cacheable defaulted to true, per spec.
func New(pattern string, handler HandlerFunc) RouteSpec {
	return RouteSpec{Pattern: pattern, Cacheable: true, Handler: handler, segments: compilePattern(pattern)}
}

func compilePattern(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, ":") {
			name := strings.TrimPrefix(p, ":")
			optional := strings.HasSuffix(name, "?")
			name = strings.TrimSuffix(name, "?")
			segs = append(segs, segment{param: name, optional: optional})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

// Table is a compiled, immutable route table.
type Table struct {
	routes []RouteSpec
}

// Compile compiles routes, pre-splitting each pattern into matchable
// segments. Each input RouteSpec should have been built with New (or have
// its Pattern set consistently with New's segment syntax); Compile
// (re)compiles segments from Pattern regardless, so callers may also
// construct RouteSpec literals directly.
func Compile(routes []RouteSpec) *Table {
	compiled := make([]RouteSpec, len(routes))
	for i, rt := range routes {
		rt.segments = compilePattern(rt.Pattern)
		compiled[i] = rt
	}
	return &Table{routes: compiled}
}

// Match finds the route for r, walking the table in reverse insertion
// order so later-declared routes take precedence. It returns the matched
// route, the extracted path parameters, and whether a match was found.
func (t *Table) Match(r *http.Request) (*RouteSpec, map[string]string, bool) {
	pathParts := splitPath(r.URL.Path)
	for i := len(t.routes) - 1; i >= 0; i-- {
		route := t.routes[i]
		if params, ok := matchSegments(route.segments, pathParts); ok {
			return &t.routes[i], params, true
		}
	}
	return nil, nil, false
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchSegments(segs []segment, pathParts []string) (map[string]string, bool) {
	params := make(map[string]string)
	pi := 0
	for si := 0; si < len(segs); si++ {
		seg := segs[si]
		if seg.isParam() {
			if pi >= len(pathParts) {
				if seg.optional {
					continue
				}
				return nil, false
			}
			params[seg.param] = pathParts[pi]
			pi++
			continue
		}
		if pi >= len(pathParts) || pathParts[pi] != seg.literal {
			return nil, false
		}
		pi++
	}
	if pi != len(pathParts) {
		return nil, false
	}
	return params, true
}

// ParamMissingError is returned by ConstructURL when a required (non-"?")
// parameter is not present in the supplied map.
type ParamMissingError struct {
	Pattern string
	Param   string
}

func (e *ParamMissingError) Error() string {
	return fmt.Sprintf("router: missing required parameter %q for pattern %q", e.Param, e.Pattern)
}

// ConstructURL substitutes params into pattern's ":name" and ":name?"
// segments. A missing mandatory parameter fails with *ParamMissingError;
// missing optional parameters resolve to the empty string (the segment is
// simply omitted from the resulting path).
func ConstructURL(pattern string, params map[string]string) (string, error) {
	segs := compilePattern(pattern)
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if !seg.isParam() {
			parts = append(parts, seg.literal)
			continue
		}
		v, ok := params[seg.param]
		if !ok || v == "" {
			if seg.optional {
				continue
			}
			return "", &ParamMissingError{Pattern: pattern, Param: seg.param}
		}
		parts = append(parts, v)
	}
	return "/" + strings.Join(parts, "/"), nil
}
