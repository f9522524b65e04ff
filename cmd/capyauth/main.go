package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/capy-town/capyauth/internal/apps"
	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/config"
	"github.com/capy-town/capyauth/internal/engine"
	httpserver "github.com/capy-town/capyauth/internal/http"
	"github.com/capy-town/capyauth/internal/observability/logger"
	"github.com/capy-town/capyauth/internal/rate"
	"github.com/capy-town/capyauth/internal/store"
	"github.com/capy-town/capyauth/internal/store/pg"
)

var version = "dev" // inyectada con -ldflags en el build

func main() {
	configPath := flag.String("config", envOr("CAPYAUTH_CONFIG", "config.yaml"), "ruta del config YAML")
	flag.Parse()

	// .env es opcional: en producción las vars vienen del entorno real
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// el logger todavía no existe
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       envOr("LOG_LEVEL", "info"),
		ServiceName: "capyauth",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	// ── registro de apps ──
	registry, err := apps.Load(cfg.Apps, cfg.SSO.ExtraAllowedOrigins)
	if err != nil {
		log.Fatal("registro de apps inválido", logger.Err(err))
	}
	for _, warn := range registry.Drift() {
		log.Warn("drift entre orígenes de apps y lista SSO", logger.String("detail", warn))
	}
	log.Info("registro de apps cargado", logger.Count(len(registry.Apps())))

	// ── motor de credenciales ──
	var (
		sessions engine.SessionService
		keys     engine.APIKeyVerifier
		bridge   engine.TokenBridgeService
		signOut  engine.SignOutService
		engineCl *engine.Client
	)
	if cfg.Engine.BaseURL != "" {
		engineCl = engine.NewClient(cfg.Engine.BaseURL, cfg.EngineTimeout())
		sessions, keys, bridge, signOut = engineCl, engineCl, engineCl, engineCl
		log.Info("motor de credenciales configurado", logger.String("base_url", cfg.Engine.BaseURL))
	} else {
		log.Warn("ENGINE_BASE_URL vacío: endpoints de sesión y bridge degradarán a not_configured")
	}

	// ── almacén relacional ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		memberships store.MembershipStore
		users       store.UserStore
		applier     httpserver.MigrationApplier
		pgStore     *pg.Store
	)
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN != "" {
		pgStore, err = pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal("no se pudo abrir Postgres", logger.Err(err))
		}
		defer pgStore.Close()
		memberships, users, applier = pgStore, pgStore, pgStore
		log.Info("Postgres conectado")
	} else {
		log.Warn("sin almacén configurado: endpoints de organización degradarán a not_configured")
	}

	// ── rate limiting ──
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		window, err := time.ParseDuration(cfg.Rate.Window)
		if err != nil || window <= 0 {
			window = time.Minute
		}
		if cfg.Rate.Redis.Addr != "" {
			client := rdb.NewClient(&rdb.Options{Addr: cfg.Rate.Redis.Addr, DB: cfg.Rate.Redis.DB})
			limiter = rate.NewRedisLimiter(client, cfg.Rate.Redis.Prefix, cfg.Rate.MaxRequests, window)
			log.Info("rate limit con Redis", logger.String("addr", cfg.Rate.Redis.Addr))
		} else {
			limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, window)
			log.Info("rate limit en memoria (una sola instancia)")
		}
	}

	// ── métricas ──
	metricsHandler, err := httpserver.RegisterMetrics(httpserver.MetricsConfig{
		GlobalPool: func() *pgxpool.Pool { return pgStore.Pool() },
	})
	if err != nil {
		log.Fatal("registro de métricas falló", logger.Err(err))
	}

	// ── readiness ──
	var checks []httpserver.ReadyCheck
	if pgStore != nil {
		checks = append(checks, httpserver.ReadyCheck{Name: "pg", Check: func(ctx context.Context) error {
			return pgStore.Pool().Ping(ctx)
		}})
	}
	if engineCl != nil {
		checks = append(checks, httpserver.ReadyCheck{Name: "engine", Check: engineCl.Ping})
	}

	// ── router ──
	resolver := &authz.Resolver{
		Sessions:  sessions,
		Keys:      keys,
		JWTSecret: []byte(cfg.Engine.JWTSecret),
	}
	handler := httpserver.NewRouter(httpserver.RouterDeps{
		Config: httpserver.RouterConfig{
			CORSAllowedOrigins: corsOrigins(cfg, registry),
			LegacyHost:         cfg.Server.LegacyHost,
			CanonicalOrigin:    cfg.Server.CanonicalOrigin,
			CompletePath:       cfg.SSO.CompletePath,
			CookieName:         cfg.Auth.Session.CookieName,
			InternalSecret:     cfg.Engine.InternalSecret,
			Version:            version,
		},
		Registry:    registry,
		Rewriter:    httpserver.NewCookieRewriter(cfg.SSO.CookieDomains),
		Sessions:    sessions,
		Keys:        keys,
		Bridge:      bridge,
		SignOut:     signOut,
		Resolver:    resolver,
		Authorizer:  &authz.Authorizer{Store: memberships},
		Memberships: memberships,
		Users:       users,
		Applier:     applier,
		Limiter:     limiter,
		Metrics:     metricsHandler,
		ReadyChecks: checks,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("escuchando", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("apagando")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server terminó con error", logger.Err(err))
	}
	log.Info("apagado limpio")
}

// corsOrigins arma la allow-list de CORS: lo configurado más los orígenes
// SSO conocidos, que siempre necesitan llamar /api/session con credenciales.
func corsOrigins(cfg *config.Config, reg *apps.Registry) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(o string) {
		if o == "" {
			return
		}
		if _, ok := seen[o]; ok {
			return
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	for _, o := range cfg.Server.CORSAllowedOrigins {
		add(o)
	}
	for _, o := range reg.SSOOrigins() {
		add(o)
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
