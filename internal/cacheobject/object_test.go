package cacheobject

import (
	"net/http"
	"testing"

	"github.com/kestrelcache/edgecache/internal/codec"
)

func TestToCacheableStringTaggedTextPlain(t *testing.T) {
	pool := codec.New(true)
	entry, err := ToCacheable(pool, HandlerSource{Value: "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ct := entry.Headers.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("got content-type %q", ct)
	}
	assertInvariants(t, pool, entry)
}

func TestToCacheableStructValueTaggedJSON(t *testing.T) {
	pool := codec.New(true)
	entry, err := ToCacheable(pool, HandlerSource{Value: map[string]any{"a": 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ct := entry.Headers.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("got content-type %q", ct)
	}
	assertInvariants(t, pool, entry)
}

func TestToCacheableResponseRespectsAcceptable(t *testing.T) {
	pool := codec.New(true)
	src := HandlerSource{
		IsResponse: true,
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte("plain body"),
	}
	entry, err := ToCacheable(pool, src, []codec.Name{codec.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if enc := entry.Headers.Get("Content-Encoding"); enc != "identity" {
		t.Fatalf("expected identity, got %s", enc)
	}
	if string(entry.Body) != "plain body" {
		t.Fatalf("got body %q", entry.Body)
	}
	assertInvariants(t, pool, entry)
}

func TestTranscodeUnchangedWhenAlreadyAcceptable(t *testing.T) {
	pool := codec.New(true)
	entry, _ := ToCacheable(pool, HandlerSource{Value: "hi"}, []codec.Name{codec.Gzip})
	out, err := Transcode(pool, entry, []codec.Name{codec.Gzip, codec.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if out != entry {
		t.Fatal("expected same pointer when encoding already acceptable")
	}
}

func TestTranscodeRewritesEncodingAndLength(t *testing.T) {
	pool := codec.New(true)
	entry, _ := ToCacheable(pool, HandlerSource{Value: "a somewhat longer payload for compression"}, []codec.Name{codec.Gzip})
	out, err := Transcode(pool, entry, []codec.Name{codec.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if out == entry {
		t.Fatal("expected a distinct copy")
	}
	if out.Headers.Get("Content-Encoding") != "identity" {
		t.Fatalf("got %s", out.Headers.Get("Content-Encoding"))
	}
	if string(out.Body) != "a somewhat longer payload for compression" {
		t.Fatalf("got body %q", out.Body)
	}
	// original entry must not be mutated
	if entry.Headers.Get("Content-Encoding") != "gzip" {
		t.Fatal("transcode must not mutate the stored entry")
	}
}

func assertInvariants(t *testing.T, pool *codec.Pool, entry *CachedEntry) {
	t.Helper()
	enc := entry.Headers.Get("Content-Encoding")
	if !codec.Valid(enc) {
		t.Fatalf("invalid content-encoding %q", enc)
	}
	if entry.Headers.Get("Content-Length") != itoa(len(entry.Body)) {
		t.Fatalf("content-length mismatch: header=%s body=%d", entry.Headers.Get("Content-Length"), len(entry.Body))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
