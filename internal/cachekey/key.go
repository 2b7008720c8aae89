// Package cachekey derives the stable request fingerprint used to look
// entries up in the cache store. The key is deliberately host- and
// scheme-agnostic: the same path served over different hosts or schemes is
// treated as the same logical resource.
package cachekey

import (
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// UniqueIDHeader is consulted as the per-client salt for request keys.
const UniqueIDHeader = "x-unique-id"

// URLKey derives the fingerprint for a raw URL and an optional per-client
// salt. Query parameters are sorted by name before hashing so that two
// URLs differing only in parameter order hash identically.
func URLKey(rawURL, salt string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// fall back to hashing the raw string verbatim; still deterministic
		return "u:" + hashHex(salt+rawURL)
	}
	canon := canonicalize(u.Path, u.Query())
	return "u:" + hashHex(salt+canon)
}

// RequestKey derives the fingerprint for an inbound HTTP request, using the
// value of the x-unique-id header (if any) as the per-client salt. Host and
// scheme are deliberately excluded (see package doc).
func RequestKey(r *http.Request) string {
	salt := r.Header.Get(UniqueIDHeader)
	canon := canonicalize(r.URL.Path, r.URL.Query())
	return "req:" + hashHex(salt+canon)
}

// StoreKey namespaces a RequestKey by HTTP method before it is used to
// index the cache store. The bare RequestKey is a pure function of URL and
// salt (matching the source's documented fingerprint), but GET, HEAD and
// OPTIONS requests to the same URL are cached separately -- otherwise a
// HEAD request would poison the cache entry a subsequent GET reads from.
func StoreKey(method, requestKey string) string {
	return strings.ToUpper(method) + ":" + requestKey
}

// canonicalize reassembles pathname + "?" + sortedQuery, sorted by
// parameter name in ascending Unicode code-point order; values for a given
// name keep their original relative order. The "?" is omitted when there
// is no query.
func canonicalize(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		for _, v := range q[name] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

func hashHex(s string) string {
	h := xxhash.Sum64String(s)
	var buf [8]byte
	buf[0] = byte(h >> 56)
	buf[1] = byte(h >> 48)
	buf[2] = byte(h >> 40)
	buf[3] = byte(h >> 32)
	buf[4] = byte(h >> 24)
	buf[5] = byte(h >> 16)
	buf[6] = byte(h >> 8)
	buf[7] = byte(h)
	return hex.EncodeToString(buf[:])
}
