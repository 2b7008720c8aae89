package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/kestrelcache/edgecache/internal/cachestore"
	"github.com/kestrelcache/edgecache/internal/codec"
	"github.com/kestrelcache/edgecache/internal/config"
	"github.com/kestrelcache/edgecache/internal/corsutil"
	"github.com/kestrelcache/edgecache/internal/memprobe"
	"github.com/kestrelcache/edgecache/internal/pipeline"
	"github.com/kestrelcache/edgecache/internal/reverseproxy"
	"github.com/kestrelcache/edgecache/internal/router"
	"github.com/kestrelcache/edgecache/internal/swr"
)

var (
	configFilenameFlag string
	portFlag           int
	hostFlag           string
	sidecarPathFlag    string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Host/address to bind to (overrides config)")
	flag.StringVar(&sidecarPathFlag, "sidecar", "", "Path to cache sidecar file (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	cfg = config.ApplyEnv(cfg)
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if sidecarPathFlag != "" {
		cfg.SidecarPath = sidecarPathFlag
	}

	logLevel := zerolog.InfoLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	} else if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logLevel = lvl
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	codecPool := codec.New(cfg.PreferBrotli)
	if !codecPool.BrotliAvailable() {
		log.Logger.Warn().Msg("brotli unavailable at startup, falling back to gzip as canonical encoding")
	}

	maxBytes := uint64(cfg.MaxCacheBytes)
	if maxBytes == 0 {
		maxBytes = memprobe.DefaultMaxBytes(256 << 20)
	}
	store := cachestore.New(int64(maxBytes))

	if entries, err := cachestore.ReadFile(cfg.SidecarPath); err != nil {
		log.Logger.Error().Err(err).Str("path", cfg.SidecarPath).Msg("could not load cache sidecar, starting cold")
	} else if len(entries) > 0 {
		store.Load(entries)
		log.Logger.Info().Int("entries", len(entries)).Msg("warmed cache from sidecar")
	}

	origins := make(map[string]config.Origin, len(cfg.Origins))
	for _, o := range cfg.Origins {
		origins[o.Name] = o
	}

	routes := make([]router.RouteSpec, 0, len(cfg.Routes))
	for _, rt := range cfg.Routes {
		cacheable := true
		if rt.Cacheable != nil {
			cacheable = *rt.Cacheable
		}
		if rt.Origin == "" {
			log.Fatal().Str("pattern", rt.Pattern).Msg("route has no origin")
		}
		origin, ok := origins[rt.Origin]
		if !ok {
			log.Fatal().Str("origin", rt.Origin).Msg("route references unknown origin")
		}
		routes = append(routes, reverseproxy.New(rt.Pattern, reverseproxy.Target{
			Scheme:      origin.Scheme,
			Host:        origin.Host,
			PathPattern: origin.PathPattern,
		}, reverseproxy.Options{Cacheable: cacheable, CodecPool: codecPool}))
	}

	table := router.Compile(routes)
	engine := swr.New(store, codecPool, log.Logger)

	var cors *corsutil.Policy
	if cfg.CORS.Enabled {
		cors = &corsutil.Policy{
			AllowOrigin:      cfg.CORS.AllowOrigin,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		}
	}

	p := pipeline.New(table, engine, cors, log.Logger)

	dumpInterval, err := time.ParseDuration(cfg.DumpInterval)
	if err != nil || dumpInterval <= 0 {
		dumpInterval = 5 * time.Second
	}
	persister := cachestore.NewPersister(store, cfg.SidecarPath, dumpInterval, log.Logger)
	go persister.Run()

	handler := withRequestID(p, log.Logger)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler: handler,
	}

	go func() {
		log.Logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForShutdown(srv, persister, log.Logger)
}

// withRequestID stamps every request with a correlation id and a
// request-scoped logger, following the source's hlog-based access-log
// pattern.
func withRequestID(next http.Handler, logger zerolog.Logger) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.RequestIDHandler("requestID", "X-Request-Id")(next),
	)
}

func waitForShutdown(srv *http.Server, persister *cachestore.Persister, logger zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down, flushing cache sidecar")
	if err := persister.DumpNow(); err != nil {
		logger.Error().Err(err).Msg("final cache dump failed")
	}
	persister.Stop()

	_ = srv.Close()
}
