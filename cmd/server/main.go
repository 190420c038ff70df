package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "melostream/searchservice/internal/api/http"
	"melostream/searchservice/internal/app"
	"melostream/searchservice/internal/endpoint"
	"melostream/searchservice/internal/kv"
	"melostream/searchservice/internal/metrics"
	"melostream/searchservice/internal/providers/saavn"
	"melostream/searchservice/internal/providers/tidal"
	"melostream/searchservice/internal/search"
	"melostream/searchservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "music-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "music-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Int("saavnEndpoints", len(cfg.SaavnEndpoints)),
		slog.Int("tidalEndpoints", len(cfg.TidalEndpoints)),
		slog.Bool("hasTidalProxy", strings.TrimSpace(cfg.TidalProxyURL) != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("cacheTTL", cfg.CacheTTL),
	)

	saavnClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	tidalClient := newTidalHTTPClient(cfg.RequestTimeout, cfg.TidalProxyURL)

	saavnRegistry := endpoint.NewRegistry(string(searchSourceSaavn), buildEndpoints(cfg.SaavnEndpoints, endpoint.ModeDirect),
		endpoint.WithFailureThreshold(cfg.FailureThreshold))
	tidalMode := endpoint.ModeDirect
	if strings.TrimSpace(cfg.TidalProxyURL) != "" {
		tidalMode = endpoint.ModeProxy
	}
	tidalRegistry := endpoint.NewRegistry(string(searchSourceTidal), buildEndpoints(cfg.TidalEndpoints, tidalMode),
		endpoint.WithFailureThreshold(cfg.FailureThreshold))

	redisClient := buildRedisClient(cfg, logger)
	store := buildStore(redisClient)

	searchService := search.NewService([]search.Source{
		saavn.NewProvider(saavn.Config{
			Registry:  saavnRegistry,
			UserAgent: cfg.UserAgent,
			Client:    saavnClient,
			Logger:    logger,
		}),
		tidal.NewProvider(tidal.Config{
			Registry:  tidalRegistry,
			UserAgent: cfg.UserAgent,
			Client:    tidalClient,
			Logger:    logger,
		}),
	}, cfg.RequestTimeout, buildServiceOptions(cfg, logger, redisClient, store)...)

	handler := apihttp.NewServer(searchService, apihttp.WithLogger(logger)).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE streaming (/search/stream) can legitimately exceed short write timeouts.
		// Keep it disabled at the server level; rely on per-endpoint timeouts and upstream limits.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	searchService.StartBackground(rootCtx)
	defer searchService.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("music search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("music search service stopped")
}

const (
	searchSourceSaavn = "saavn"
	searchSourceTidal = "tidal"
)

func buildEndpoints(baseURLs []string, mode endpoint.Mode) []endpoint.Endpoint {
	endpoints := make([]endpoint.Endpoint, 0, len(baseURLs))
	for _, baseURL := range baseURLs {
		id := baseURL
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Host != "" {
			id = parsed.Host
		}
		endpoints = append(endpoints, endpoint.Endpoint{
			ID:      id,
			BaseURL: baseURL,
			Mode:    mode,
		})
	}
	return endpoints
}

func newTidalHTTPClient(timeout time.Duration, proxyRaw string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true

	proxyValue := strings.TrimSpace(proxyRaw)
	if proxyValue != "" {
		parsed, err := url.Parse(proxyValue)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			if err == nil {
				err = errors.New("missing scheme or host")
			}
			slog.Default().Warn("invalid tidal proxy url; proxy disabled", slog.String("error", err.Error()))
			transport.Proxy = nil
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		// Avoid picking up unrelated container/host proxy environment variables unless explicitly configured.
		transport.Proxy = nil
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, falling back to in-memory storage", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, falling back to in-memory storage", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func buildStore(redisClient *redis.Client) kv.Store {
	if redisClient == nil {
		return kv.NewMemoryStore()
	}
	return kv.NewRedisStore(redisClient)
}

func buildServiceOptions(cfg app.Config, logger *slog.Logger, redisClient *redis.Client, store kv.Store) []search.ServiceOption {
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithStore(store),
	}

	if cfg.HistoryCapacity > 0 {
		opts = append(opts, search.WithHistoryCapacity(cfg.HistoryCapacity))
	}
	if cfg.DebounceInterval > 0 {
		opts = append(opts, search.WithDebounceInterval(cfg.DebounceInterval))
	}

	if cfg.CacheDisabled {
		opts = append(opts, search.WithCacheDisabled(true))
		return opts
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, search.WithCacheTTL(cfg.CacheTTL))
	}
	if cfg.CacheCapacity > 0 {
		opts = append(opts, search.WithCacheCapacity(cfg.CacheCapacity))
	}
	if redisClient != nil {
		opts = append(opts, search.WithRedisCache(search.NewRedisCacheBackend(redisClient)))
	}
	return opts
}
