package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"comicfacade/adapters/events"
	"comicfacade/adapters/rest"
	"comicfacade/adapters/rest/middleware"
	"comicfacade/adapters/xkcd"
	"comicfacade/config"
	"comicfacade/core"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "server configuration file")
	flag.Parse()

	cfg := config.MustLoad(configPath)
	log := mustMakeLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	log.Info("starting comic facade")
	log.Debug("debug messages are enabled")

	// Graceful shutdown using Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := xkcd.NewClient(cfg.XKCDAddress, cfg.XKCDTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to create xkcd client: %w", err)
	}

	var pub core.Events
	if cfg.BrokerAddress != "" {
		p, err := events.NewPublisher(log, cfg.BrokerAddress)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer p.Close()
		pub = p
	}

	cache := core.NewTTLCache[core.Comic](cfg.CacheTTL)
	svc, err := core.NewService(log, client, pub, cache, cfg.CacheHitDelay, cfg.FetchDelay)
	if err != nil {
		return fmt.Errorf("failed to create comic service: %w", err)
	}

	counters := middleware.NewCounters()
	rateLimiter := middleware.NewRateLimiter(ctx, cfg.RateLimit, cfg.RateBurst)
	searchLimiter := middleware.NewConcurrencyLimiter(cfg.SearchConcurrency)

	mux := http.NewServeMux()
	mux.Handle("GET /api/ping", counters.Count("ping", rest.NewPingHandler()))
	mux.Handle("GET /api/stats", counters.Count("stats", rest.NewStatsHandler(log, svc, counters)))
	mux.Handle("GET /api/comics/latest", counters.Count("latest", rest.NewLatestHandler(log, svc)))
	mux.Handle("GET /api/comics/random", counters.Count("random", rest.NewRandomHandler(log, svc)))
	mux.Handle("GET /api/comics/search", counters.Count("search",
		searchLimiter.Wrap(rest.NewSearchHandler(log, svc))))
	mux.Handle("GET /api/comics/{id}", counters.Count("comic", rest.NewComicHandler(log, svc)))

	var handler http.Handler = mux
	handler = rateLimiter.Wrap(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.AccessLog(log)(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.Recover(log)(handler)

	server := http.Server{
		Addr:        cfg.HTTPConfig.Address,
		ReadTimeout: cfg.HTTPConfig.Timeout,
		Handler:     handler,
	}

	go func() {
		<-ctx.Done()
		log.Debug("shutting down server")
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error("erroneous shutdown", "error", err)
		}
	}()

	log.Info("running HTTP server", "address", cfg.HTTPConfig.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func mustMakeLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "ERROR":
		level = slog.LevelError
	default:
		panic("unknown log level: " + levelStr)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
