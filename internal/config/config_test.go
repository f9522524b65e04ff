package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const minimalYAML = `
server:
  canonical_origin: "https://auth.capy.town"
apps:
  - id: capyschool
    valid_origins: ["https://capyschool.com"]
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.SSO.CompletePath != "/api/sso/complete" {
		t.Errorf("complete_path default = %q", cfg.SSO.CompletePath)
	}
	if cfg.Auth.Session.CookieName != "session" {
		t.Errorf("cookie_name default = %q", cfg.Auth.Session.CookieName)
	}
	if got := cfg.EngineTimeout().String(); got != "5s" {
		t.Errorf("engine timeout default = %s", got)
	}
	if cfg.Rate.MaxRequests != 60 {
		t.Errorf("rate max default = %d", cfg.Rate.MaxRequests)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("ENGINE_BASE_URL", "http://engine:3000")
	t.Setenv("SSO_COOKIE_DOMAINS", "capy.town, capyschool.com")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.BaseURL != "http://engine:3000" {
		t.Errorf("engine base_url = %q", cfg.Engine.BaseURL)
	}
	if len(cfg.SSO.CookieDomains) != 2 || cfg.SSO.CookieDomains[1] != "capyschool.com" {
		t.Errorf("cookie_domains = %v", cfg.SSO.CookieDomains)
	}
}

func TestLoadRejectsDuplicateAppIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
apps:
  - id: capyschool
    valid_origins: ["https://capyschool.com"]
  - id: CapySchool
    valid_origins: ["https://www.capyschool.com"]
`))
	if err == nil {
		t.Fatal("esperaba error por app id duplicado")
	}
}

func TestLoadRejectsLegacyHostWithoutCanonical(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  legacy_host: "auth.capyschool.com"
apps:
  - id: capyschool
    valid_origins: ["https://capyschool.com"]
`))
	if err == nil {
		t.Fatal("esperaba error: legacy_host sin canonical_origin")
	}
}

func TestLoadRejectsAppWithoutOrigins(t *testing.T) {
	_, err := Load(writeConfig(t, `
apps:
  - id: capyschool
    valid_origins: []
`))
	if err == nil {
		t.Fatal("esperaba error: app sin valid_origins")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
engine:
  timeout: "not-a-duration"
apps:
  - id: capyschool
    valid_origins: ["https://capyschool.com"]
`))
	if err == nil {
		t.Fatal("esperaba error por duración inválida")
	}
}
