// Package cacheobject defines CachedEntry, the canonical unit stored in
// the cache, and the logic that turns a route HandlerResult into one
// (ToCacheable) and re-encodes a stored entry for a different
// Accept-Encoding (Transcode).
package cacheobject

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelcache/edgecache/internal/codec"
)

// CachedEntry is the unit stored in the cache store.
type CachedEntry struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Size returns the byte footprint used for the cache store's budget
// accounting: body bytes plus a per-header-pair overhead estimate
// covering the map/slice bookkeeping Go's http.Header carries.
func (e *CachedEntry) Size() int64 {
	const headerOverhead = 40
	n := int64(len(e.Body))
	for name, values := range e.Headers {
		n += int64(len(name))
		for _, v := range values {
			n += int64(len(v)) + headerOverhead
		}
	}
	return n
}

// Clone returns a deep-enough copy safe to mutate (e.g. via Transcode)
// without affecting the stored original.
func (e *CachedEntry) Clone() *CachedEntry {
	h := make(http.Header, len(e.Headers))
	for k, v := range e.Headers {
		vv := make([]string, len(v))
		copy(vv, v)
		h[k] = vv
	}
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return &CachedEntry{Status: e.Status, Headers: h, Body: body}
}

// EncodingUnavailable is returned by Transcode when no candidate codec in
// the acceptable list can be produced.
type EncodingUnavailable struct {
	Acceptable []codec.Name
}

func (e *EncodingUnavailable) Error() string {
	return fmt.Sprintf("cacheobject: no acceptable encoding available out of %v", e.Acceptable)
}

// pickEncoding returns the first of pool's preferred encodings that also
// appears in acceptable. It assumes pool.PreferredEncodings() always ends
// in Identity, so it never returns false when acceptable is non-empty and
// contains identity (the conventional default).
func pickEncoding(pool *codec.Pool, acceptable []codec.Name) (codec.Name, bool) {
	accept := func(n codec.Name) bool {
		for _, a := range acceptable {
			if a == n {
				return true
			}
		}
		return false
	}
	for _, preferred := range pool.PreferredEncodings() {
		if accept(preferred) {
			return preferred, true
		}
	}
	return "", false
}

// DefaultAcceptable is "all non-identity encodings", used when a caller
// doesn't constrain the store encoding -- the canonical store format is
// compressed.
var DefaultAcceptable = []codec.Name{codec.Brotli, codec.Gzip, codec.Deflate}

// HandlerSource is the normalized input ToCacheable accepts: either a
// full HTTP response (IsResponse true) or a structured value to be
// serialized (IsResponse false). A string value is tagged text/plain; any
// other value is serialized as JSON and tagged application/json.
type HandlerSource struct {
	IsResponse bool

	// Response-like shape.
	StatusCode int
	Header     http.Header
	Body       []byte

	// Structured-value shape.
	Value any
}

// ToCacheable normalizes a handler's output into a CachedEntry, storing
// its body under the first encoding in pool's preference order that also
// appears in acceptable (DefaultAcceptable if acceptable is empty).
func ToCacheable(pool *codec.Pool, src HandlerSource, acceptable []codec.Name) (*CachedEntry, error) {
	if len(acceptable) == 0 {
		acceptable = DefaultAcceptable
	}
	storeEncoding, ok := pickEncoding(pool, acceptable)
	if !ok {
		return nil, &EncodingUnavailable{Acceptable: acceptable}
	}

	entry := &CachedEntry{Headers: make(http.Header)}

	if src.IsResponse {
		entry.Status = src.StatusCode
		for k, v := range src.Header {
			entry.Headers[k] = append([]string(nil), v...)
		}
		current := codec.Name(entry.Headers.Get("Content-Encoding"))
		if current == "" {
			current = codec.Identity
		}
		raw, err := pool.Decompress(src.Body, current)
		if err != nil {
			return nil, err
		}
		compressed, err := pool.Compress(raw, storeEncoding)
		if err != nil {
			return nil, err
		}
		entry.Body = compressed
	} else {
		var raw []byte
		var err error
		if s, ok := src.Value.(string); ok {
			raw = []byte(s)
			entry.Headers.Set("Content-Type", "text/plain")
		} else {
			raw, err = json.Marshal(src.Value)
			if err != nil {
				return nil, err
			}
			entry.Headers.Set("Content-Type", "application/json")
		}
		entry.Status = http.StatusOK
		compressed, err2 := pool.Compress(raw, storeEncoding)
		if err2 != nil {
			return nil, err2
		}
		entry.Body = compressed
	}

	entry.Headers.Del("Content-Encoding")
	entry.Headers.Del("Content-Length")
	entry.Headers.Set("Content-Encoding", string(storeEncoding))
	entry.Headers.Set("Content-Length", fmt.Sprint(len(entry.Body)))
	return entry, nil
}

// Transcode returns a copy of entry re-encoded for acceptable, leaving
// entry itself untouched. The target is the first of the pool's preferred
// encodings that appears in acceptable; if that target equals entry's
// current encoding, Transcode returns entry unchanged (same pointer).
// An entry whose encoding is acceptable but not the preferred target is
// still re-encoded.
func Transcode(pool *codec.Pool, entry *CachedEntry, acceptable []codec.Name) (*CachedEntry, error) {
	if len(acceptable) == 0 {
		acceptable = []codec.Name{codec.Identity}
	}
	current := codec.Name(entry.Headers.Get("Content-Encoding"))
	if current == "" {
		current = codec.Identity
	}
	target, ok := pickEncoding(pool, acceptable)
	if !ok {
		return nil, &EncodingUnavailable{Acceptable: acceptable}
	}
	if target == current {
		return entry, nil
	}

	raw, err := pool.Decompress(entry.Body, current)
	if err != nil {
		return nil, err
	}
	body, err := pool.Compress(raw, target)
	if err != nil {
		return nil, err
	}

	out := entry.Clone()
	out.Body = body
	out.Headers.Set("Content-Encoding", string(target))
	out.Headers.Set("Content-Length", fmt.Sprint(len(body)))
	return out, nil
}

// StampTimestamp sets x-cache-date to the current UTC time in RFC 3339,
// marking entry as having passed through the store path.
func StampTimestamp(entry *CachedEntry) {
	entry.Headers.Set("x-cache-date", time.Now().UTC().Format(time.RFC3339))
}
