package billing

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stocktally/stocktally/internal/billing/registry"
	bstripe "github.com/stocktally/stocktally/internal/billing/stripe"
	"github.com/stocktally/stocktally/internal/logging"
	"github.com/stocktally/stocktally/pkg/entitlements"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *Config
	Registry   *registry.TeamRegistry
	Resolver   *entitlements.Resolver
	Reconciler *bstripe.Reconciler      // nil when STRIPE_API_KEY is unset
	Checkout   *bstripe.CheckoutService // nil when STRIPE_API_KEY is unset
	Version    string

	limiters []*RateLimiter
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Resolver == nil {
		deps.Resolver = entitlements.NewResolver(nil)
	}
	apiAuth := func(next http.Handler) http.Handler {
		return APIKeyMiddleware(deps.Config.APIKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness checks.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Registry))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", apiAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated)
	sync := bstripe.NewSynchronizer(deps.Registry, deps.Config.Prices)
	webhookHandler := bstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, sync, deps.Config.WebhookTimeout)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))
	deps.limiters = append(deps.limiters, webhookLimiter)

	// Team API (key-authenticated, called by the app backend)
	teams := &TeamHandlers{deps: deps}
	teamLimiter := NewRateLimiter(600, time.Minute)
	deps.limiters = append(deps.limiters, teamLimiter)
	team := func(h http.HandlerFunc) http.Handler {
		return teamLimiter.Middleware(apiAuth(h))
	}
	mux.Handle("POST /api/teams", team(teams.HandleCreateTeam))
	mux.Handle("GET /api/teams/{team_id}/entitlements", team(teams.HandleGetEntitlements))
	mux.Handle("GET /api/teams/{team_id}/warehouses/check", team(teams.HandleWarehouseCheck))
	mux.Handle("POST /api/teams/{team_id}/trial", team(teams.HandleStartTrial))
	mux.Handle("POST /api/teams/{team_id}/checkout", team(teams.HandleCheckout))
	mux.Handle("POST /api/teams/{team_id}/portal", team(teams.HandlePortal))
	mux.Handle("PUT /api/teams/{team_id}/extra-user-slots", team(teams.HandleSetExtraUserSlots))
}

// NewHandler builds the service's root handler.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return logging.RequestIDMiddleware(mux)
}

// APIKeyMiddleware returns middleware that requires the internal API key,
// sent as X-API-Key or Authorization: Bearer <key>.
func APIKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || apiKey == "" || key != apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleHealthz returns 200 "ok" unconditionally (liveness check).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness check).
func HandleReadyz(reg *registry.TeamRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := reg.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
