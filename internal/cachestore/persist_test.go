package cachestore

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelcache/edgecache/internal/cacheobject"
)

func TestWriteReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.sidecar")

	entries := []DumpEntry{
		{
			Key: "req:abc123",
			Entry: &cacheobject.CachedEntry{
				Status:  200,
				Headers: http.Header{"Content-Type": []string{"text/plain"}, "Content-Encoding": []string{"identity"}},
				Body:    []byte("hello world"),
			},
		},
		{
			Key: "req:def456",
			Entry: &cacheobject.CachedEntry{
				Status:  404,
				Headers: http.Header{"Content-Type": []string{"application/json"}},
				Body:    []byte(`{"error":"not found"}`),
			},
		},
	}

	if err := WriteFile(path, entries); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Key != "req:abc123" {
		t.Fatalf("got key %s", got[0].Key)
	}
	if string(got[0].Entry.Body) != "hello world" {
		t.Fatalf("got body %q", got[0].Entry.Body)
	}
	if got[0].Entry.Headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("got content-type %q", got[0].Entry.Headers.Get("Content-Type"))
	}
	if got[1].Entry.Status != 404 {
		t.Fatalf("got status %d", got[1].Entry.Status)
	}
}

func TestReadFileMissingReturnsNilNil(t *testing.T) {
	entries, err := ReadFile(filepath.Join(t.TempDir(), "does-not-exist.sidecar"))
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}

func TestReadFileBadMagicErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sidecar")
	if err := os.WriteFile(path, []byte("NOPE0000"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
