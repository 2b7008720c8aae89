package swr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelcache/edgecache/internal/cachekey"
	"github.com/kestrelcache/edgecache/internal/cachestore"
	"github.com/kestrelcache/edgecache/internal/codec"
	"github.com/kestrelcache/edgecache/internal/router"
)

func newEngine() *Engine {
	return New(cachestore.New(1<<20), codec.New(true), zerolog.Nop())
}

func request(t *testing.T, path string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	return r
}

func TestMissThenHitTriggersRevalidation(t *testing.T) {
	e := newEngine()
	var calls int32
	route := router.New("/greet", func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
		n := atomic.AddInt32(&calls, 1)
		return &router.HandlerResult{StatusCode: 200, Header: http.Header{}, Body: []byte("hello " + itoa(int(n)))}, nil
	})

	r := request(t, "/greet")
	key := cachekey.RequestKey(r)

	entry, status, err := e.Handle(r, nil, &route, key, []codec.Name{codec.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusMiss {
		t.Fatalf("expected MISS, got %s", status)
	}
	if string(entry.Body) != "hello 1" {
		t.Fatalf("got body %q", entry.Body)
	}

	entry2, status2, err := e.Handle(r, nil, &route, key, []codec.Name{codec.Identity})
	if err != nil {
		t.Fatal(err)
	}
	if status2 != StatusHit {
		t.Fatalf("expected HIT, got %s", status2)
	}
	if string(entry2.Body) != "hello 1" {
		t.Fatalf("expected stale copy from first call, got %q", entry2.Body)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected background revalidation to run handler again, calls=%d", calls)
	}

	storeKey := cachekey.StoreKey(http.MethodGet, key)
	deadline = time.Now().Add(time.Second)
	for {
		got, _ := e.store.Get(storeKey)
		// The store holds the canonical compressed encoding; decode it
		// before comparing against the handler's plaintext output.
		var body []byte
		if got != nil {
			body, _ = e.codec.Decompress(got.Body, codec.Name(got.Headers.Get("Content-Encoding")))
		}
		if string(body) == "hello 2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected store updated with refreshed body, got %q", body)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRevalidationFailureEvictsEntry(t *testing.T) {
	e := newEngine()
	var calls int32
	route := router.New("/flaky", func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return &router.HandlerResult{StatusCode: 200, Header: http.Header{}, Body: []byte("ok")}, nil
		}
		return nil, errors.New("simulated upstream failure")
	})

	r := request(t, "/flaky")
	key := cachekey.RequestKey(r)

	if _, status, err := e.Handle(r, nil, &route, key, []codec.Name{codec.Identity}); err != nil || status != StatusMiss {
		t.Fatalf("expected MISS, got status=%s err=%v", status, err)
	}
	if _, status, err := e.Handle(r, nil, &route, key, []codec.Name{codec.Identity}); err != nil || status != StatusHit {
		t.Fatalf("expected HIT, got status=%s err=%v", status, err)
	}

	storeKey := cachekey.StoreKey(http.MethodGet, key)
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := e.store.Get(storeKey); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected entry evicted after failed revalidation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNonCacheableRouteBypassesStore(t *testing.T) {
	e := newEngine()
	var calls int32
	route := router.New("/live", func(r *http.Request, params map[string]string) (*router.HandlerResult, error) {
		atomic.AddInt32(&calls, 1)
		return &router.HandlerResult{StatusCode: 200, Header: http.Header{}, Body: []byte("live")}, nil
	})
	route.Cacheable = false

	r := request(t, "/live")
	key := cachekey.RequestKey(r)

	for i := 0; i < 3; i++ {
		_, status, err := e.Handle(r, nil, &route, key, []codec.Name{codec.Identity})
		if err != nil {
			t.Fatal(err)
		}
		if status != StatusNone {
			t.Fatalf("expected StatusNone for non-cacheable route, got %s", status)
		}
	}
	if calls != 3 {
		t.Fatalf("expected handler invoked every time for non-cacheable route, got %d", calls)
	}
	if e.store.Len() != 0 {
		t.Fatalf("expected store untouched, has %d entries", e.store.Len())
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
