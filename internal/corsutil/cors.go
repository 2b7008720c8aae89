// Package corsutil stamps CORS response headers. It is deliberately a
// pure header transform, not a policy engine: origin matching, preflight
// caching, and credentialed-request rules are the caller's business.
package corsutil

import (
	"net/http"
	"strings"
)

// Policy configures the CORS headers stamped on every response and
// answered on OPTIONS preflights.
type Policy struct {
	AllowOrigin      string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
}

// Disabled reports whether CORS stamping is off: p is nil or has no
// AllowOrigin.
func (p *Policy) Disabled() bool {
	return p == nil || p.AllowOrigin == ""
}

// Apply stamps p's headers onto h. If AllowOrigin is "*" but the request
// carries credentials-relevant cookies, implementations should instead
// configure an explicit origin; Apply does not second-guess the config.
func (p *Policy) Apply(h http.Header, r *http.Request) {
	if p.Disabled() {
		return
	}
	h.Set("Access-Control-Allow-Origin", p.AllowOrigin)
	if p.AllowMethods != "" {
		h.Set("Access-Control-Allow-Methods", p.AllowMethods)
	}
	if p.AllowHeaders != "" {
		h.Set("Access-Control-Allow-Headers", p.AllowHeaders)
	} else if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
	}
	if p.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// DefaultMethods is a sensible default for AllowMethods covering the
// pipeline's supported verbs.
var DefaultMethods = strings.Join([]string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}, ", ")
