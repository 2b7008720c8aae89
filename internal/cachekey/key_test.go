package cachekey

import (
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func TestRequestKeyStableUnderQueryReorder(t *testing.T) {
	r1, _ := http.NewRequest("GET", "http://x/p?a=1&c=3&b=2", nil)
	r2, _ := http.NewRequest("GET", "http://x/p?a=1&b=2&c=3", nil)

	k1 := RequestKey(r1)
	k2 := RequestKey(r2)
	if k1 != k2 {
		t.Fatalf("keys differ on query reorder: %s vs %s", k1, k2)
	}

	want := "req:" + hex.EncodeToString(beBytes(xxhash.Sum64String("/p?a=1&b=2&c=3")))
	if k1 != want {
		t.Fatalf("got %s want %s", k1, want)
	}
}

func TestRequestKeyRootPathNoQuery(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://x/", nil)
	got := RequestKey(r)
	want := "req:" + hex.EncodeToString(beBytes(xxhash.Sum64String("/")))
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestRequestKeySalted(t *testing.T) {
	r1, _ := http.NewRequest("GET", "http://x/p", nil)
	r2, _ := http.NewRequest("GET", "http://x/p", nil)
	r2.Header.Set(UniqueIDHeader, "client-a")

	if RequestKey(r1) == RequestKey(r2) {
		t.Fatal("expected salted key to differ")
	}
}

func TestStoreKeyNamespacesByMethod(t *testing.T) {
	req := "req:abc"
	if StoreKey("GET", req) == StoreKey("HEAD", req) {
		t.Fatal("expected GET and HEAD store keys to differ")
	}
}

func beBytes(h uint64) []byte {
	return []byte{
		byte(h >> 56), byte(h >> 48), byte(h >> 40), byte(h >> 32),
		byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h),
	}
}
