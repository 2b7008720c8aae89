// Package swr implements the stale-while-revalidate decision procedure:
// serve a cached response immediately when one exists, refreshing it in
// the background with at most one revalidation in flight per key.
package swr

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kestrelcache/edgecache/internal/cacheobject"
	"github.com/kestrelcache/edgecache/internal/cachekey"
	"github.com/kestrelcache/edgecache/internal/cachestore"
	"github.com/kestrelcache/edgecache/internal/codec"
	"github.com/kestrelcache/edgecache/internal/router"
)

// Status is stamped as X-Cache on the eventual response.
type Status string

const (
	StatusHit  Status = "HIT"
	StatusMiss Status = "MISS"
	// StatusNone is returned for requests the engine never touches the
	// cache for (non-cacheable route, or unsafe method); the pipeline
	// falls back to StatusMiss when stamping X-Cache.
	StatusNone Status = ""
)

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Engine ties a cache store and codec pool together with single-flight
// background revalidation.
type Engine struct {
	store    *cachestore.Store
	codec    *codec.Pool
	inflight *InFlightSet
	log      zerolog.Logger
}

// New builds an Engine over store, using pool for all compression work.
func New(store *cachestore.Store, pool *codec.Pool, log zerolog.Logger) *Engine {
	return &Engine{store: store, codec: pool, inflight: NewInFlightSet(), log: log}
}

// Handle runs the decision procedure for a matched route: it returns the
// entry to send to the client (already transcoded for acceptable, if
// needed) and the X-Cache status to stamp.
func (e *Engine) Handle(r *http.Request, params map[string]string, route *router.RouteSpec, requestKey string, acceptable []codec.Name) (*cacheobject.CachedEntry, Status, error) {
	if !route.Cacheable || !isSafeMethod(r.Method) {
		entry, err := e.runHandler(route.Handler, r, params, acceptable)
		if err != nil {
			return nil, StatusNone, err
		}
		return entry, StatusNone, nil
	}

	storeKey := cachekey.StoreKey(r.Method, requestKey)

	if cached, ok := e.store.Get(storeKey); ok && len(cached.Body) > 0 {
		e.scheduleRevalidation(storeKey, route, r, params)
		out, err := e.prepareForClient(cached, acceptable)
		if err != nil {
			return nil, StatusNone, err
		}
		return out, StatusHit, nil
	}

	entry, err := e.runHandler(route.Handler, r, params, cacheobject.DefaultAcceptable)
	if err != nil {
		return nil, StatusNone, err
	}
	cacheobject.StampTimestamp(entry)
	e.store.Set(storeKey, entry)

	out, err := e.prepareForClient(entry, acceptable)
	if err != nil {
		return nil, StatusNone, err
	}
	return out, StatusMiss, nil
}

// scheduleRevalidation launches a background refresh for storeKey unless
// one is already running. The cloned request carries a background context
// so it outlives the inbound request that triggered it.
func (e *Engine) scheduleRevalidation(storeKey string, route *router.RouteSpec, r *http.Request, params map[string]string) {
	if !e.inflight.TryAcquire(storeKey) {
		return
	}
	cloned := r.Clone(context.Background())

	go func() {
		defer e.inflight.Release(storeKey)
		defer func() {
			if p := recover(); p != nil {
				e.log.Error().Interface("panic", p).Str("key", storeKey).Msg("panic during background revalidation, evicting")
				e.store.Delete(storeKey)
			}
		}()

		entry, err := e.runHandler(route.Handler, cloned, params, cacheobject.DefaultAcceptable)
		if err != nil {
			e.log.Warn().Err(err).Str("key", storeKey).Msg("background revalidation failed, evicting entry")
			e.store.Delete(storeKey)
			return
		}
		cacheobject.StampTimestamp(entry)
		e.store.Set(storeKey, entry)
	}()
}

func (e *Engine) runHandler(h router.HandlerFunc, r *http.Request, params map[string]string, acceptable []codec.Name) (*cacheobject.CachedEntry, error) {
	result, err := h(r, params)
	if err != nil {
		return nil, err
	}
	return cacheobject.ToCacheable(e.codec, toHandlerSource(result), acceptable)
}

func toHandlerSource(r *router.HandlerResult) cacheobject.HandlerSource {
	if r.IsJSON {
		return cacheobject.HandlerSource{Value: r.JSON}
	}
	return cacheobject.HandlerSource{
		IsResponse: true,
		StatusCode: r.StatusCode,
		Header:     r.Header,
		Body:       r.Body,
	}
}

// prepareForClient transcodes entry for acceptable only if its current
// encoding isn't already acceptable, and never mutates the stored entry.
func (e *Engine) prepareForClient(entry *cacheobject.CachedEntry, acceptable []codec.Name) (*cacheobject.CachedEntry, error) {
	current := codec.Name(entry.Headers.Get("Content-Encoding"))
	for _, a := range acceptable {
		if a == current {
			return entry, nil
		}
	}
	return cacheobject.Transcode(e.codec, entry, acceptable)
}
