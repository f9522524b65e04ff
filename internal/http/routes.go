package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capy-town/capyauth/internal/apps"
	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/rate"
	"github.com/capy-town/capyauth/internal/store"
)

// RouterConfig son los knobs de despliegue que el router necesita.
type RouterConfig struct {
	CORSAllowedOrigins []string
	LegacyHost         string
	CanonicalOrigin    string
	CompletePath       string // path del canje del bridge
	CookieName         string
	InternalSecret     string
	Version            string
}

// RouterDeps contiene las dependencias del router principal.
// Los campos nil degradan a NotConfigured en los handlers que los usan.
type RouterDeps struct {
	Config   RouterConfig
	Registry *apps.Registry
	Rewriter *CookieRewriter

	Sessions engine.SessionService
	Keys     engine.APIKeyVerifier
	Bridge   engine.TokenBridgeService
	SignOut  engine.SignOutService

	Resolver    *authz.Resolver
	Authorizer  *authz.Authorizer
	Memberships store.MembershipStore
	Users       store.UserStore
	Applier     MigrationApplier

	Limiter     rate.Limiter // nil => sin rate limit
	Metrics     http.Handler // nil => sin /metrics
	ReadyChecks []ReadyCheck
}

// NewRouter arma el router completo con su cadena de middlewares.
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	if cfg.CompletePath == "" {
		cfg.CompletePath = "/api/sso/complete"
	}

	r := chi.NewRouter()

	// El orden importa: request id y logging primero para que todo lo demás
	// (incluido el recover) tenga contexto; CORS antes del rate limit para
	// que los preflights no consuman cuota.
	r.Use(WithRequestID)
	r.Use(WithLogging)
	r.Use(WithRecover)
	r.Use(WithMetrics)
	r.Use(WithSecurityHeaders)
	r.Use(func(next http.Handler) http.Handler {
		return WithCORS(next, cfg.CORSAllowedOrigins)
	})
	r.Use(func(next http.Handler) http.Handler {
		return WithRateLimit(next, deps.Limiter)
	})

	// Infraestructura
	r.Get("/healthz", NewHealthzHandler(cfg.Version))
	r.Get("/readyz", NewReadyzHandler(deps.ReadyChecks))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Bridge cross-domain
	r.Get("/api/sso/start", NewSSOStartHandler(deps.Registry, deps.Sessions, deps.Bridge, deps.Rewriter, SSOStartConfig{
		CanonicalOrigin: cfg.CanonicalOrigin,
		LegacyHost:      cfg.LegacyHost,
		CompletePath:    cfg.CompletePath,
	}))
	r.Get(cfg.CompletePath, NewSSOCompleteHandler(deps.Registry, deps.Bridge, deps.Rewriter))

	// Sesión de browser
	r.Get("/api/session", NewSessionHandler(deps.Sessions))
	r.Get("/api/me", NewMeHandler(deps.Resolver, deps.Memberships))
	r.Post("/api/sign-out", NewSignOutHandler(deps.SignOut, deps.Rewriter, cfg.CookieName))

	// Server-to-server por API key
	verifyOrg := NewVerifyOrganizationHandler(deps.Keys, deps.Authorizer)
	r.Get("/api/verify-organization", verifyOrg)
	r.Post("/api/verify-organization", verifyOrg)

	orgMembers := NewOrganizationMembersHandler(deps.Keys, deps.Authorizer, deps.Memberships)
	r.Get("/api/organization-members", orgMembers)
	r.Post("/api/organization-members", orgMembers)

	keyOrgs := NewKeyOrganizationsHandler(deps.Keys, deps.Memberships)
	r.Get("/api/key-organizations", keyOrgs)
	r.Post("/api/key-organizations", keyOrgs)

	keyInfo := NewKeyInfoHandler(deps.Keys, deps.Users)
	r.Get("/api/key-info", keyInfo)
	r.Post("/api/key-info", keyInfo)

	// Interno
	r.Post("/api/internal/tenants/{slug}/migrations/apply",
		NewMigrationsApplyHandler(cfg.InternalSecret, deps.Keys, deps.Authorizer, deps.Applier))

	// El redirector de host legado corre ANTES del router: aplica a cualquier
	// ruta salvo el path de canje, que sigue vivo en el host viejo.
	return WithLegacyHostRedirect(r, cfg.LegacyHost, cfg.CanonicalOrigin, cfg.CompletePath)
}
