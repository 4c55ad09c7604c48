// Command cxm-proxy is a reverse proxy that lets browser-facing applications
// talk to the CXM platform without ever seeing the platform API key.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cxmware/cxm-go/internal/config"
	"github.com/cxmware/cxm-go/pkg/cache"
	"github.com/cxmware/cxm-go/pkg/client"
	"github.com/cxmware/cxm-go/pkg/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		fallback := logging.NewLogger("cxm-proxy")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("cxm-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var responseCache *cache.Cache
	if cfg.Cache.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.Addr,
			DB:   cfg.Cache.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Cache.Addr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		rules, err := cache.NewRules(true, cfg.RuleGroups())
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid cache rules")
		}
		responseCache = cache.New(rules, cache.NewStore(redisClient))
		logger.Info().Str("addr", cfg.Cache.Addr).Msg("Response cache enabled")
	}

	p := newProxy(cfg.Host, cfg.APIKey, client.ParseScope(cfg.Scope), responseCache, cfg.Timeout, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Proxy.RateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(cfg.Proxy.RateLimitRPS, cfg.Proxy.RateLimitBurst))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.HandleFunc("/api/*", p.handle)

	server := &http.Server{
		Addr:              cfg.Proxy.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("listen", cfg.Proxy.Listen).
			Str("host", cfg.Host).
			Str("scope", cfg.Scope).
			Msg("Starting CXM proxy")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("Shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
