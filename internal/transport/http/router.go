package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"acsadmin/internal/platform/middleware"
)

// Module mounts its routes on a router. Protected modules are mounted behind
// RequireAuth.
type Module interface {
	Register(r chi.Router)
}

// ModuleFunc adapts a plain function to Module.
type ModuleFunc func(r chi.Router)

func (f ModuleFunc) Register(r chi.Router) { f(r) }

// Metrics is what the router records about requests it serves.
type Metrics interface {
	middleware.LatencyObserver
	middleware.AuthFailureCounter
}

// Deps collects everything NewRouter wires together.
type Deps struct {
	Authenticator  middleware.TokenAuthenticator
	Metrics        Metrics
	MetricsHandler http.Handler
	Health         Module
	Public         []Module
	Protected      []Module
	CORSOrigins    []string
	TrustedProxies []netip.Prefix
}

// NewRouter wires the public and authenticated endpoints with the shared
// middleware stack.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata(deps.TrustedProxies))
	r.Use(middleware.Logger(logger))
	if deps.Metrics != nil {
		r.Use(middleware.Latency(deps.Metrics))
	}
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.ContentTypeJSON)

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	for _, m := range deps.Public {
		m.Register(r)
	}

	// RequireAuth needs a true nil interface when no counter is configured.
	var failures middleware.AuthFailureCounter
	if deps.Metrics != nil {
		failures = deps.Metrics
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Authenticator, failures, logger))
		for _, m := range deps.Protected {
			m.Register(r)
		}
	})

	return r
}
