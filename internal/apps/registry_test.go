package apps

import (
	"net/url"
	"testing"

	"github.com/capy-town/capyauth/internal/config"
)

func testEntries() []config.AppEntry {
	return []config.AppEntry{
		{
			ID:   "capyschool",
			Name: "CapySchool",
			ValidOrigins: []string{
				"https://capyschool.com",
				"https://www.capyschool.com",
				"https://capy.town",
				"http://localhost:4321",
			},
		},
		{
			ID:   "cms-ai",
			Name: "CMS-AI",
			ValidOrigins: []string{
				"https://cms.capy.town",
				"https://capy.town",
			},
		},
	}
}

func mustLoad(t *testing.T, extra []string) *Registry {
	t.Helper()
	r, err := Load(testEntries(), extra)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestLookup_CaseInsensitive(t *testing.T) {
	r := mustLoad(t, nil)
	for _, id := range []string{"capyschool", "CapySchool", "CAPYSCHOOL", "  capyschool  "} {
		if _, ok := r.Lookup(id); !ok {
			t.Fatalf("Lookup(%q) = false, quería true", id)
		}
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("Lookup(nope) = true")
	}
	if _, ok := r.Lookup(""); ok {
		t.Fatal("Lookup(\"\") = true")
	}
}

func TestIsRedirectAllowed_OriginsRegistrados(t *testing.T) {
	r := mustLoad(t, nil)
	app, _ := r.Lookup("capyschool")

	// path y query son irrelevantes: decide solo el origin
	allowed := []string{
		"https://capyschool.com",
		"https://capyschool.com/",
		"https://capyschool.com/any/path?x=1",
		"https://capyschool.com:443/deep",
		"https://CAPYSCHOOL.com/courses",
		"http://localhost:4321/dev",
	}
	for _, c := range allowed {
		if !app.IsRedirectAllowed(c) {
			t.Errorf("IsRedirectAllowed(%q) = false, quería true", c)
		}
	}
}

func TestIsRedirectAllowed_FallaCerrado(t *testing.T) {
	r := mustLoad(t, nil)
	app, _ := r.Lookup("capyschool")

	denied := []string{
		"",
		"not a url",
		"/relative/path",
		"//capyschool.com/protocol-relative",
		"javascript:alert(1)",
		"ftp://capyschool.com/",
		"http://capyschool.com/",           // scheme distinto
		"https://evil.com/?r=capyschool",   // origin ajeno
		"https://capyschool.com.evil.com/", // sufijo, no match exacto
		"https://sub.capyschool.com/",      // sin wildcards de subdominio
		"https://capyschool.com:8443/",     // puerto distinto
	}
	for _, c := range denied {
		if app.IsRedirectAllowed(c) {
			t.Errorf("IsRedirectAllowed(%q) = true, quería false", c)
		}
	}
}

func TestIsSSORedirectAllowed_Union(t *testing.T) {
	r := mustLoad(t, []string{"https://know.capy.town"})

	ok := []string{
		"https://capyschool.com/welcome",
		"https://cms.capy.town/editor",
		"https://know.capy.town/docs", // viene de la lista extra
	}
	for _, c := range ok {
		u, _ := url.Parse(c)
		if !r.IsSSORedirectAllowed(u) {
			t.Errorf("IsSSORedirectAllowed(%q) = false, quería true", c)
		}
	}

	u, _ := url.Parse("https://attacker.example/phish")
	if r.IsSSORedirectAllowed(u) {
		t.Error("IsSSORedirectAllowed(attacker.example) = true")
	}
}

func TestLoad_OriginInvalidoEsError(t *testing.T) {
	_, err := Load([]config.AppEntry{
		{ID: "broken", ValidOrigins: []string{"::no-es-url::"}},
	}, nil)
	if err == nil {
		t.Fatal("Load no falló con origin inválido")
	}

	_, err = Load(nil, []string{"not a url"})
	if err == nil {
		t.Fatal("Load no falló con extra origin inválido")
	}
}

func TestLoad_AppDuplicadaEsError(t *testing.T) {
	_, err := Load([]config.AppEntry{
		{ID: "dup", ValidOrigins: []string{"https://a.example"}},
		{ID: "DUP", ValidOrigins: []string{"https://b.example"}},
	}, nil)
	if err == nil {
		t.Fatal("Load no detectó id duplicado")
	}
}

func TestDrift_ReportaOrigenesFueraDeListaSSO(t *testing.T) {
	r := mustLoad(t, []string{"https://capyschool.com", "https://capy.town"})
	drift := r.Drift()
	if len(drift) == 0 {
		t.Fatal("quería drift reportado")
	}
	// www.capyschool.com está en la app pero no en la lista extra
	found := false
	for _, d := range drift {
		if d == "capyschool: https://www.capyschool.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("drift no incluye www.capyschool.com: %v", drift)
	}
}

func TestParseOrigin_NormalizaPuertosDefault(t *testing.T) {
	a, err := ParseOrigin("https://Capy.Town:443/ignored?x=1")
	if err != nil {
		t.Fatalf("ParseOrigin: %v", err)
	}
	b, err := ParseOrigin("https://capy.town")
	if err != nil {
		t.Fatalf("ParseOrigin: %v", err)
	}
	if a != b {
		t.Fatalf("orígenes no normalizados: %v vs %v", a, b)
	}
	if got := a.String(); got != "https://capy.town" {
		t.Fatalf("String() = %q", got)
	}
}
