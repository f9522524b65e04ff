package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppEntry describe una aplicación cliente registrada (tenant) y los
// orígenes desde los que acepta redirects post-login.
type AppEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	ValidOrigins []string `yaml:"valid_origins"`
}

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		// Host legado que debe redirigir 307 al origin canónico.
		LegacyHost      string `yaml:"legacy_host"`
		CanonicalOrigin string `yaml:"canonical_origin"`
	} `yaml:"server"`

	// Registro estático de aplicaciones cliente.
	Apps []AppEntry `yaml:"apps"`

	SSO struct {
		// Orígenes permitidos para el bridge además de los declarados por las apps.
		ExtraAllowedOrigins []string `yaml:"extra_allowed_origins"`
		// Path del endpoint de completado del bridge (se mantiene estable entre hosts).
		CompletePath string `yaml:"complete_path"`
		// Dominios registrables conocidos para re-scoping de cookies.
		CookieDomains []string `yaml:"cookie_domains"`
	} `yaml:"sso"`

	// Motor de credenciales (sesiones, api keys, one-time tokens).
	Engine struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
		// Clave HS256 compartida para verificar access tokens emitidos por el motor.
		// Vacía => los bearer JWT se tratan como API keys.
		JWTSecret string `yaml:"jwt_secret"`
		// Secreto para llamadas service-to-service internas (migrations apply).
		InternalSecret string `yaml:"internal_secret"`
	} `yaml:"engine"`

	Storage struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Auth struct {
		Session struct {
			CookieName string `yaml:"cookie_name"`
			SameSite   string `yaml:"samesite"`
			Secure     bool   `yaml:"secure"`
		} `yaml:"session"`
	} `yaml:"auth"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
		Redis       struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"rate"`
}

// EngineTimeout devuelve el timeout parseado para llamadas al motor.
func (c *Config) EngineTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.SSO.CompletePath == "" {
		c.SSO.CompletePath = "/api/sso/complete"
	}
	if c.Engine.Timeout == "" {
		c.Engine.Timeout = "5s"
	}
	if c.Auth.Session.CookieName == "" {
		c.Auth.Session.CookieName = "session"
	}
	if c.Auth.Session.SameSite == "" {
		c.Auth.Session.SameSite = "Lax"
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}

	// Overrides por env
	c.applyEnvOverrides()

	// validate string durations
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return nil, err
		}
	}
	if _, err := time.ParseDuration(c.Engine.Timeout); err != nil {
		return nil, err
	}
	if _, err := time.ParseDuration(c.Rate.Window); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate chequea invariantes mínimas de la configuración.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for i, a := range c.Apps {
		id := strings.ToLower(strings.TrimSpace(a.ID))
		if id == "" {
			return fmt.Errorf("config: apps[%d] sin id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: app id duplicado: %q", id)
		}
		seen[id] = struct{}{}
		if len(a.ValidOrigins) == 0 {
			return fmt.Errorf("config: app %q sin valid_origins", id)
		}
	}
	if c.Server.LegacyHost != "" && c.Server.CanonicalOrigin == "" {
		return fmt.Errorf("config: legacy_host requiere canonical_origin")
	}
	if !strings.HasPrefix(c.SSO.CompletePath, "/") {
		return fmt.Errorf("config: sso.complete_path debe comenzar con /")
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
// Los secretos (engine) normalmente llegan por acá, no por YAML.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("LEGACY_AUTH_HOST"); ok {
		c.Server.LegacyHost = v
	}
	if v, ok := getEnvStr("CANONICAL_AUTH_ORIGIN"); ok {
		c.Server.CanonicalOrigin = v
	}

	// SSO
	if v, ok := getEnvCSV("SSO_ALLOWED_REDIRECT_ORIGINS"); ok {
		c.SSO.ExtraAllowedOrigins = append(c.SSO.ExtraAllowedOrigins, v...)
	}
	if v, ok := getEnvCSV("SSO_COOKIE_DOMAINS"); ok {
		c.SSO.CookieDomains = v
	}

	// ENGINE
	if v, ok := getEnvStr("ENGINE_BASE_URL"); ok {
		c.Engine.BaseURL = v
	}
	if v, ok := getEnvStr("ENGINE_JWT_SECRET"); ok {
		c.Engine.JWTSecret = v
	}
	if v, ok := getEnvStr("INTERNAL_SERVICE_SECRET"); ok {
		c.Engine.InternalSecret = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
	if v, ok := getEnvStr("RATE_REDIS_ADDR"); ok {
		c.Rate.Redis.Addr = v
	}
}
