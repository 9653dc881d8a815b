package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/creditgate/creditgate/internal/handler"
	"github.com/creditgate/creditgate/internal/metrics"
	"github.com/creditgate/creditgate/internal/middleware"
)

// Routes bundles everything the router needs.
type Routes struct {
	Logger *slog.Logger

	Index   *handler.Handler
	Health  *handler.HealthHandler
	Metrics *handler.MetricsHandler
	Models  *handler.ModelsHandler
	Account *handler.AccountHandler
	Predict *handler.PredictHandler

	// Authenticator backs the bearer middleware on /users/me.
	Authenticator middleware.TokenAuthenticator

	// OpenAPI is served verbatim at /openapi.yaml when set.
	OpenAPI []byte

	Security  middleware.SecurityConfig
	CORS      middleware.CORSConfig
	RateLimit middleware.RateLimitConfig
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(rt Routes) *chi.Mux {
	if rt.RateLimit.Logger == nil {
		rt.RateLimit.Logger = rt.Logger
	}
	if rt.RateLimit.Metrics == nil {
		rt.RateLimit.Metrics = metrics.NewNoop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(rt.Logger))
	r.Use(middleware.Recoverer(rt.Logger))
	r.Use(middleware.Security(rt.Security))
	r.Use(middleware.CORS(rt.CORS))

	accountBody := middleware.MaxBodySize(rt.Security.MaxRequestBodySize)
	predictBody := middleware.MaxBodySize(rt.Security.MaxPredictBodySize)

	// Health and info endpoints (no auth required)
	r.Get("/healthz", rt.Health.Healthz)
	r.Get("/readyz", rt.Health.Readyz)
	r.Get("/metrics", rt.Metrics.Metrics)
	r.Get("/", rt.Index.Index)
	r.Get("/models", rt.Models.List)
	if len(rt.OpenAPI) > 0 {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.Header().Set("Cache-Control", "public, max-age=300")
			_, _ = w.Write(rt.OpenAPI)
		})
	}

	authCfg := middleware.AuthConfig{
		Logger:        rt.Logger,
		Authenticator: rt.Authenticator,
		WriteError:    handler.ErrorWriter(rt.Logger),
	}

	r.With(middleware.RateLimitIP(rt.RateLimit, middleware.ScopeRegister), accountBody).Post("/users/", rt.Account.Register)
	r.With(middleware.Auth(authCfg)).Get("/users/me", rt.Account.Me)
	r.With(middleware.RateLimitIP(rt.RateLimit, middleware.ScopeToken), accountBody).Post("/token", rt.Account.Token)

	// The gateway authenticates the bearer token itself.
	r.With(middleware.RateLimitIP(rt.RateLimit, middleware.ScopePredict), predictBody).Post("/predict", rt.Predict.Predict)

	// 404 and 405 handlers
	r.NotFound(rt.Index.NotFound)
	r.MethodNotAllowed(rt.Index.MethodNotAllowed)

	return r
}
