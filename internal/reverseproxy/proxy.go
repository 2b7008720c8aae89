// Package reverseproxy builds route handlers that forward requests to an
// upstream origin, normalizing the response for the cache pipeline instead
// of streaming it straight to the client.
package reverseproxy

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelcache/edgecache/internal/codec"
	"github.com/kestrelcache/edgecache/internal/router"
)

// hopByHopHeaders are stripped from the copied inbound headers before
// forwarding upstream; they describe a single connection hop, not the
// resource. Upstream response headers are passed on without this step.
var hopByHopHeaders = []string{
	"Host",
	"Connection",
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"Public-Key-Pins",
}

// RouteError is raised when the upstream responds with a non-2xx status.
// The pipeline renders it as the response's error body.
type RouteError struct {
	StatusCode int
	Body       string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("reverseproxy: upstream returned %d: %s", e.StatusCode, e.Body)
}

// Target describes the upstream this route proxies to.
type Target struct {
	Scheme      string
	Host        string
	PathPattern string
}

// Options configures a proxied route.
type Options struct {
	Cacheable bool
	Client    *http.Client
	CodecPool *codec.Pool
}

// New builds a RouteSpec that forwards matched requests to target,
// substituting target.PathPattern's ":name"/":name?" segments with the
// route's own matched params.
func New(pattern string, target Target, opts Options) router.RouteSpec {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	pool := opts.CodecPool
	if pool == nil {
		pool = codec.New(true)
	}

	handler := func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
		return forward(r, params, target, client, pool)
	}

	spec := router.New(pattern, handler)
	spec.Cacheable = opts.Cacheable
	return spec
}

func forward(r *http.Request, params map[string]string, target Target, client *http.Client, pool *codec.Pool) (*router.HandlerResult, error) {
	upstreamPath, err := router.ConstructURL(target.PathPattern, params)
	if err != nil {
		return nil, err
	}

	upstreamURL := url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     upstreamPath,
		RawQuery: r.URL.RawQuery,
	}

	body, contentType, contentLength, err := prepareBody(r)
	if err != nil {
		return nil, err
	}

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), body)
	if err != nil {
		return nil, err
	}
	upReq.Header = cloneHeader(r.Header)
	stripHopByHop(upReq.Header)
	if contentType != "" {
		upReq.Header.Set("Content-Type", contentType)
	}
	if contentLength >= 0 {
		upReq.ContentLength = contentLength
	}

	upReq.Header.Set("X-Forwarded-Host", r.Host)
	upReq.Header.Set("X-Forwarded-Proto", forwardedProto(r))
	if ip := ClientIP(r); ip != "" {
		upReq.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := client.Do(upReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RouteError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	current := codec.Name(resp.Header.Get("Content-Encoding"))
	if current == "" {
		current = codec.Identity
	}
	identityBody, err := pool.Decompress(respBody, current)
	if err != nil {
		return nil, err
	}

	header := cloneHeader(resp.Header)
	header.Del("Content-Encoding")
	header.Set("Content-Length", fmt.Sprint(len(identityBody)))

	return &router.HandlerResult{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       identityBody,
	}, nil
}

// prepareBody returns the body to forward upstream. Every body, multipart
// form uploads included, is forwarded byte-for-byte. For a multipart
// upload only the content length is left unset; the body is not
// re-encoded, and the inbound Content-Type (with its boundary) stays on
// the cloned upstream headers.
func prepareBody(r *http.Request) (io.Reader, string, int64, error) {
	if r.Body == nil {
		return nil, "", -1, nil
	}
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err == nil && mediaType == "multipart/form-data" {
		return r.Body, "", -1, nil
	}
	return r.Body, ct, r.ContentLength, nil
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// ClientIP derives the originating client address, checking (in order)
// x-forwarded-for's first element, x-client-ip, x-azure-forwarded-for's
// first element, x-real-ip, the "for=" parameter of Forwarded, and
// finally the socket's remote address. The first populated source wins.
func ClientIP(r *http.Request) string {
	if v := firstCommaField(r.Header.Get("X-Forwarded-For")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Client-IP"); v != "" {
		return v
	}
	if v := firstCommaField(r.Header.Get("X-Azure-Forwarded-For")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		return v
	}
	if v := forwardedFor(r.Header.Get("Forwarded")); v != "" {
		return v
	}
	return remoteIP(r.RemoteAddr)
}

func firstCommaField(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, ",", 2)
	return strings.TrimSpace(parts[0])
}

func forwardedFor(v string) string {
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "for=") {
			val := part[len("for="):]
			val = strings.Trim(val, `"`)
			return val
		}
	}
	return ""
}

func remoteIP(remoteAddr string) string {
	idx := strings.LastIndex(remoteAddr, ":")
	if idx < 0 {
		return remoteAddr
	}
	return remoteAddr[:idx]
}
