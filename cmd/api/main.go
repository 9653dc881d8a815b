// Package main is the entrypoint for the creditgate API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/creditgate/creditgate/api"
	"github.com/creditgate/creditgate/internal/auth"
	"github.com/creditgate/creditgate/internal/cache"
	"github.com/creditgate/creditgate/internal/config"
	"github.com/creditgate/creditgate/internal/handler"
	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/middleware"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/predictor"
	"github.com/creditgate/creditgate/internal/registry"
	"github.com/creditgate/creditgate/internal/repository/backend"
	"github.com/creditgate/creditgate/internal/server"
	"github.com/creditgate/creditgate/internal/service"
	"github.com/creditgate/creditgate/internal/usage"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	pricing, err := cfg.Pricing()
	if err != nil {
		logger.Error("invalid pricing", "error", err)
		os.Exit(1)
	}

	metricsRecorder := metrics.NewInMemory()

	// Initialize record store
	store, kind, err := backend.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to open record store",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("record store ready", "backend", string(kind))
	if kind == backend.Memory && cfg.IsProduction() {
		logger.Warn("memory store in production: accounts and balances are lost on restart")
	}

	// Initialize cache (optional)
	var (
		cacheClient *cache.Cache
		publisher   *usage.Publisher
		limiter     middleware.IPRateLimiter
		cacheHealth handler.HealthChecker
	)
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			_ = store.Close()
			os.Exit(1)
		}
		logger.Info("connected to Redis")
		publisher = usage.NewPublisher(cacheClient.Client(), logger, metricsRecorder)
		limiter = cacheClient
		cacheHealth = cacheClient
	} else {
		logger.Info("REDIS_URL not set: rate limiting and usage events disabled")
	}

	// Initialize services
	hasher, err := auth.NewPasswordHasher(auth.DefaultParams)
	if err != nil {
		logger.Error("failed to initialize password hasher", "error", err)
		os.Exit(1)
	}

	authn := service.NewAuthenticator(store, hasher, service.AuthConfig{
		Secret:          []byte(cfg.JWTSecret),
		TokenTTL:        cfg.TokenTTL,
		StartingCredits: cfg.StartingCredits,
	}, service.WithAuthLogger(logger), service.WithAuthMetrics(metricsRecorder))

	models := registry.New(predictor.DirLoader{Dir: cfg.ModelDir},
		registry.WithLoadTimeout(cfg.ModelLoadTimeout),
		registry.WithLogger(logger),
		registry.WithMetrics(metricsRecorder),
	)
	if _, err := models.Resolve(ctx, model.DefaultModelType); err != nil {
		logger.Error("failed to load default model", "model_type", model.DefaultModelType, "error", err)
		os.Exit(1)
	}

	gatewayOpts := []service.GatewayOption{
		service.WithPredictTimeout(cfg.PredictTimeout),
		service.WithGatewayLogger(logger),
		service.WithGatewayMetrics(metricsRecorder),
	}
	if publisher != nil {
		gatewayOpts = append(gatewayOpts, service.WithUsagePublisher(publisher))
	}
	gateway := service.NewGateway(authn, models, store, pricing, gatewayOpts...)

	// Setup router
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r := server.NewRouter(server.Routes{
		Logger:        logger,
		Index:         handler.New(),
		Health:        handler.NewHealthHandler(store, cacheHealth),
		Metrics:       handler.NewMetricsHandler(metricsRecorder),
		Models:        handler.NewModelsHandler(pricing, models),
		Account:       handler.NewAccountHandler(authn, logger),
		Predict:       handler.NewPredictHandler(gateway, logger),
		Authenticator: authn,
		OpenAPI:       api.OpenAPI,
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
			MaxPredictBodySize: cfg.MaxPredictBodySize,
		},
		CORS: corsCfg,
		RateLimit: middleware.RateLimitConfig{
			Logger:  logger,
			Limiter: limiter,
			Metrics: metricsRecorder,
			Enabled: cfg.RateLimitEnabled,
			RPS:     cfg.RateLimitRPS,
			Burst:   cfg.RateLimitBurst,
		},
	})

	// Create and run server
	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, closed last.
	srv.OnShutdown("store", func(context.Context) error {
		return store.Close()
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}
	if publisher != nil {
		srv.OnShutdown("usage-publisher", publisher.Wait)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"model_dir", cfg.ModelDir,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
