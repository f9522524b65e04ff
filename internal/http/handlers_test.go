package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capy-town/capyauth/internal/apps"
	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/config"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/store"
)

// ─────────────── fakes ───────────────

type fakeSessions struct {
	session *engine.Session
	err     error
}

func (f *fakeSessions) VerifySession(_ context.Context, cookie string) (*engine.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if cookie == "" {
		return nil, nil
	}
	return f.session, nil
}

type fakeKeys struct {
	keys map[string]*engine.APIKey
}

func (f *fakeKeys) VerifyAPIKey(_ context.Context, key string) (*engine.APIKey, error) {
	if k, ok := f.keys[key]; ok {
		return k, nil
	}
	return nil, engine.ErrInvalidKey
}

// fakeBridge consume cada token exactamente una vez.
type fakeBridge struct {
	issueToken string
	issueErr   error
	cookies    []string
	consumed   map[string]bool
	lastFwd    engine.ForwardedClient
}

func (f *fakeBridge) IssueToken(_ context.Context, _ string) (string, error) {
	return f.issueToken, f.issueErr
}

func (f *fakeBridge) RedeemToken(_ context.Context, token string, fwd engine.ForwardedClient) (*engine.RedeemResult, error) {
	f.lastFwd = fwd
	if f.consumed == nil {
		f.consumed = map[string]bool{}
	}
	if token != "tok-valid" || f.consumed[token] {
		return nil, engine.ErrRedeemDenied
	}
	f.consumed[token] = true
	return &engine.RedeemResult{SetCookies: f.cookies}, nil
}

type fakeMemberships struct {
	memberships map[string]*store.Membership // key: userID|slug
	orgs        map[string][]store.Organization
	members     map[string][]store.Member
}

func (f *fakeMemberships) GetMembership(_ context.Context, userID, slug string) (*store.Membership, error) {
	if m, ok := f.memberships[userID+"|"+slug]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeMemberships) ListUserOrganizations(_ context.Context, userID string) ([]store.Organization, error) {
	return f.orgs[userID], nil
}

func (f *fakeMemberships) ListOrganizationMembers(_ context.Context, orgID string) ([]store.Member, error) {
	return f.members[orgID], nil
}

type fakeUsers struct {
	users map[string]*store.User
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type fakeApplier struct {
	applied []string
	tenants []string
}

func (f *fakeApplier) ApplyMigrations(_ context.Context, tenant string) ([]string, error) {
	f.tenants = append(f.tenants, tenant)
	return f.applied, nil
}

// ─────────────── fixtures ───────────────

func testRegistry(t *testing.T) *apps.Registry {
	t.Helper()
	reg, err := apps.Load([]config.AppEntry{
		{ID: "capyschool", Name: "CapySchool", ValidOrigins: []string{"https://capyschool.com", "https://www.capyschool.com"}},
		{ID: "cms-ai", Name: "CMS AI", ValidOrigins: []string{"https://cms.capy.town"}},
	}, []string{"https://staging.capyschool.com"})
	require.NoError(t, err)
	return reg
}

func memberSince(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2025-03-01T12:00:00Z")
	require.NoError(t, err)
	return ts
}

func testAuthorizer(t *testing.T) (*authz.Authorizer, *fakeMemberships) {
	t.Helper()
	ms := &fakeMemberships{
		memberships: map[string]*store.Membership{
			"user-1|capyschool": {
				OrganizationID:   "org-1",
				OrganizationSlug: "capyschool",
				UserID:           "user-1",
				Role:             store.RoleAdmin,
				MemberSince:      memberSince(t),
			},
			"user-2|capyschool": {
				OrganizationID:   "org-1",
				OrganizationSlug: "capyschool",
				UserID:           "user-2",
				Role:             store.RoleMember,
				MemberSince:      memberSince(t),
			},
		},
		members: map[string][]store.Member{
			"org-1": {
				{UserID: "user-1", Email: "ana@capy.town", Name: "Ana", Role: store.RoleAdmin, MemberSince: memberSince(t)},
				{UserID: "user-2", Email: "bob@capy.town", Name: "Bob", Role: store.RoleMember, MemberSince: memberSince(t)},
			},
		},
	}
	return &authz.Authorizer{Store: ms}, ms
}

func testKeys() *fakeKeys {
	return &fakeKeys{keys: map[string]*engine.APIKey{
		"key-admin":  {ID: "k1", UserID: "user-1", Name: "n8n"},
		"key-member": {ID: "k2", UserID: "user-2", Name: "viewer"},
	}}
}

func errBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

// ─────────────── SSO complete ───────────────

func TestSSOCompleteMissingParams(t *testing.T) {
	h := NewSSOCompleteHandler(testRegistry(t), &fakeBridge{}, newTestRewriter())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sso/complete?token=tok-valid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing token or redirect", errBody(t, rec))
}

func TestSSOCompleteInvalidRedirect(t *testing.T) {
	h := NewSSOCompleteHandler(testRegistry(t), &fakeBridge{}, newTestRewriter())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sso/complete?token=tok-valid&redirect=%2Frelative", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid redirect URL", errBody(t, rec))
}

func TestSSOCompleteDisallowedRedirect(t *testing.T) {
	bridge := &fakeBridge{}
	h := NewSSOCompleteHandler(testRegistry(t), bridge, newTestRewriter())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/sso/complete?token=tok-valid&redirect=https%3A%2F%2Fevil.com%2F", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Redirect URL not allowed", errBody(t, rec))
	// el token NO se canjea si el redirect no pasa validación
	assert.Empty(t, bridge.consumed)
}

func TestSSOCompleteSuccessRewritesCookies(t *testing.T) {
	bridge := &fakeBridge{cookies: []string{"session=abc; Path=/; HttpOnly"}}
	h := NewSSOCompleteHandler(testRegistry(t), bridge, newTestRewriter())

	req := httptest.NewRequest(http.MethodGet,
		"/api/sso/complete?token=tok-valid&redirect=https%3A%2F%2Fcapyschool.com%2Fdashboard", nil)
	req.Host = "auth.capyschool.com"
	req.Header.Set("User-Agent", "ua-test")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://capyschool.com/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []string{"session=abc; Path=/; HttpOnly; Domain=capyschool.com"}, rec.Header().Values("Set-Cookie"))

	// solo se reenvían los headers del contrato
	assert.Equal(t, "ua-test", bridge.lastFwd.UserAgent)
	assert.Equal(t, "203.0.113.7", bridge.lastFwd.XForwardedFor)
}

func TestSSOCompleteSecondRedeemDenied(t *testing.T) {
	bridge := &fakeBridge{cookies: []string{"session=abc; Path=/"}}
	h := NewSSOCompleteHandler(testRegistry(t), bridge, newTestRewriter())

	url := "/api/sso/complete?token=tok-valid&redirect=https%3A%2F%2Fcapyschool.com%2F"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", errBody(t, rec))
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestSSOCompleteExtraSSOOriginAllowed(t *testing.T) {
	bridge := &fakeBridge{}
	h := NewSSOCompleteHandler(testRegistry(t), bridge, newTestRewriter())

	// origen de la lista extra de SSO, no de ninguna app
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/sso/complete?token=tok-valid&redirect=https%3A%2F%2Fstaging.capyschool.com%2Fx", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
}

// ─────────────── SSO start ───────────────

func startConfig() SSOStartConfig {
	return SSOStartConfig{
		CanonicalOrigin: "https://auth.capy.town",
		LegacyHost:      "auth.capyschool.com",
		CompletePath:    "/api/sso/complete",
	}
}

func TestSSOStartUnknownApp(t *testing.T) {
	h := NewSSOStartHandler(testRegistry(t), &fakeSessions{}, &fakeBridge{}, newTestRewriter(), startConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/sso/start?app=nope&redirect=https%3A%2F%2Fcapyschool.com%2F", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown app 'nope'", errBody(t, rec))
}

func TestSSOStartRedirectNotAllowedForApp(t *testing.T) {
	h := NewSSOStartHandler(testRegistry(t), &fakeSessions{}, &fakeBridge{}, newTestRewriter(), startConfig())

	// cms.capy.town es válido para cms-ai pero NO para capyschool
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/sso/start?app=capyschool&redirect=https%3A%2F%2Fcms.capy.town%2F", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSOStartNoSessionRedirectsDirect(t *testing.T) {
	h := NewSSOStartHandler(testRegistry(t), &fakeSessions{}, &fakeBridge{issueToken: "tok-valid"}, newTestRewriter(), startConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/sso/start?app=capyschool&redirect=https%3A%2F%2Fcapyschool.com%2Fhome", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://capyschool.com/home", rec.Header().Get("Location"))
}

func TestSSOStartWithSessionGoesThroughBridge(t *testing.T) {
	sessions := &fakeSessions{session: &engine.Session{UserID: "user-1"}}
	h := NewSSOStartHandler(testRegistry(t), sessions, &fakeBridge{issueToken: "tok-valid"}, newTestRewriter(), startConfig())

	req := httptest.NewRequest(http.MethodGet,
		"/api/sso/start?app=capyschool&redirect=https%3A%2F%2Fcapyschool.com%2Fhome", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	// el canje corre en el host del dominio destino
	assert.True(t, strings.HasPrefix(loc, "https://auth.capyschool.com/api/sso/complete?"), loc)
	assert.Contains(t, loc, "token=tok-valid")
	assert.Contains(t, loc, "redirect=https%3A%2F%2Fcapyschool.com%2Fhome")
}

func TestSSOStartSameDomainSkipsBridge(t *testing.T) {
	sessions := &fakeSessions{session: &engine.Session{UserID: "user-1"}}
	h := NewSSOStartHandler(testRegistry(t), sessions, &fakeBridge{issueToken: "tok-valid"}, newTestRewriter(), startConfig())

	// cms.capy.town comparte dominio de cookies con auth.capy.town
	req := httptest.NewRequest(http.MethodGet,
		"/api/sso/start?app=cms-ai&redirect=https%3A%2F%2Fcms.capy.town%2F", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cms.capy.town/", rec.Header().Get("Location"))
}

// ─────────────── sesión y sign-out ───────────────

func TestSessionHandler(t *testing.T) {
	exp := memberSince(t).Add(24 * time.Hour)
	sessions := &fakeSessions{session: &engine.Session{UserID: "user-1", Email: "ana@capy.town", Name: "Ana", ExpiresAt: exp}}
	h := NewSessionHandler(sessions)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		ExpiresAt string `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, "ana@capy.town", resp.User.Email)
	assert.Equal(t, "2025-03-02T12:00:00Z", resp.ExpiresAt)
}

func TestSessionHandlerNoSession(t *testing.T) {
	h := NewSessionHandler(&fakeSessions{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeSignOut struct {
	called bool
	err    error
}

func (f *fakeSignOut) SignOut(_ context.Context, _ string) error {
	f.called = true
	return f.err
}

func TestSignOutClearsCookies(t *testing.T) {
	so := &fakeSignOut{}
	h := NewSignOutHandler(so, newTestRewriter(), "session")

	req := httptest.NewRequest(http.MethodPost, "/api/sign-out", nil)
	req.Host = "auth.capy.town"
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, so.called)

	cookies := rec.Header().Values("Set-Cookie")
	require.Len(t, cookies, 2)
	assert.Contains(t, cookies[0], "session=;")
	assert.Contains(t, cookies[0], "Max-Age=0")
	assert.Contains(t, cookies[1], "Domain=capy.town")
}

func TestSignOutSurvivesEngineFailure(t *testing.T) {
	so := &fakeSignOut{err: assert.AnError}
	h := NewSignOutHandler(so, newTestRewriter(), "session")

	req := httptest.NewRequest(http.MethodPost, "/api/sign-out", nil)
	req.Host = "auth.capy.town"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Values("Set-Cookie"))
}

// ─────────────── verify-organization ───────────────

func TestVerifyOrganizationPOST(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := NewVerifyOrganizationHandler(testKeys(), auth)

	body := `{"apiKey":"key-admin","organizationSlug":"capyschool"}`
	req := httptest.NewRequest(http.MethodPost, "/api/verify-organization", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success    bool `json:"success"`
		Authorized bool `json:"authorized"`
		Data       struct {
			KeyID        string `json:"keyId"`
			UserID       string `json:"userId"`
			Organization struct {
				ID   string `json:"id"`
				Slug string `json:"slug"`
			} `json:"organization"`
			Membership struct {
				Role        string `json:"role"`
				MemberSince string `json:"memberSince"`
			} `json:"membership"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authorized)
	assert.Equal(t, "k1", resp.Data.KeyID)
	assert.Equal(t, "user-1", resp.Data.UserID)
	assert.Equal(t, "org-1", resp.Data.Organization.ID)
	assert.Equal(t, "admin", resp.Data.Membership.Role)
	assert.Equal(t, "2025-03-01T12:00:00Z", resp.Data.Membership.MemberSince)
}

func TestVerifyOrganizationGETFromHeaders(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := NewVerifyOrganizationHandler(testKeys(), auth)

	req := httptest.NewRequest(http.MethodGet, "/api/verify-organization?organizationSlug=capyschool", nil)
	req.Header.Set("X-API-Key", "key-admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyOrganizationDeniedUniformMessage(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := NewVerifyOrganizationHandler(testKeys(), auth)

	// misma respuesta para org inexistente y para no-membresía
	deny := func(body string) string {
		req := httptest.NewRequest(http.MethodPost, "/api/verify-organization", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		return errBody(t, rec)
	}

	ghost := deny(`{"apiKey":"key-admin","organizationSlug":"ghost-org"}`)
	assert.Equal(t, "not a member of organization 'ghost-org'", ghost)

	other := deny(`{"apiKey":"key-member","organizationSlug":"ghost-org"}`)
	assert.Equal(t, ghost, other)
}

func TestVerifyOrganizationMissingKey(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := NewVerifyOrganizationHandler(testKeys(), auth)

	req := httptest.NewRequest(http.MethodPost, "/api/verify-organization",
		strings.NewReader(`{"organizationSlug":"capyschool"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "API key is required", errBody(t, rec))
}

func TestVerifyOrganizationInvalidKey(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := NewVerifyOrganizationHandler(testKeys(), auth)

	req := httptest.NewRequest(http.MethodPost, "/api/verify-organization",
		strings.NewReader(`{"apiKey":"nope","organizationSlug":"capyschool"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API key", errBody(t, rec))
}

// ─────────────── organization-members ───────────────

func TestOrganizationMembers(t *testing.T) {
	auth, ms := testAuthorizer(t)
	h := NewOrganizationMembersHandler(testKeys(), auth, ms)

	req := httptest.NewRequest(http.MethodGet, "/api/organization-members?organizationSlug=capyschool", nil)
	req.Header.Set("X-API-Key", "key-member")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			RequestingUser struct {
				Role string `json:"role"`
			} `json:"requestingUser"`
			Members      []map[string]any `json:"members"`
			TotalMembers int              `json:"totalMembers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "member", resp.Data.RequestingUser.Role)
	assert.Equal(t, 2, resp.Data.TotalMembers)
}

func TestOrganizationMembersNonMemberForbidden(t *testing.T) {
	auth, ms := testAuthorizer(t)
	h := NewOrganizationMembersHandler(testKeys(), auth, ms)

	req := httptest.NewRequest(http.MethodGet, "/api/organization-members?organizationSlug=other-org", nil)
	req.Header.Set("X-API-Key", "key-member")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not a member of organization 'other-org'", errBody(t, rec))
}

// ─────────────── key-organizations / key-info ───────────────

func TestKeyOrganizations(t *testing.T) {
	_, ms := testAuthorizer(t)
	logo := "https://cdn.capy.town/logo.png"
	meta := `{"tier":"pro"}`
	ms.orgs = map[string][]store.Organization{
		"user-1": {
			{ID: "org-1", Name: "CapySchool", Slug: "capyschool", Logo: &logo, Metadata: &meta,
				CreatedAt: memberSince(t), Role: store.RoleAdmin, MemberSince: memberSince(t)},
		},
	}
	h := NewKeyOrganizationsHandler(testKeys(), ms)

	req := httptest.NewRequest(http.MethodPost, "/api/key-organizations",
		strings.NewReader(`{"apiKey":"key-admin"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			UserID        string `json:"userId"`
			Organizations []struct {
				Slug     string         `json:"slug"`
				Role     string         `json:"role"`
				Metadata map[string]any `json:"metadata"`
			} `json:"organizations"`
			TotalOrganizations int `json:"totalOrganizations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.Data.UserID)
	require.Len(t, resp.Data.Organizations, 1)
	assert.Equal(t, "capyschool", resp.Data.Organizations[0].Slug)
	assert.Equal(t, "pro", resp.Data.Organizations[0].Metadata["tier"])
	assert.Equal(t, 1, resp.Data.TotalOrganizations)
}

func TestKeyInfo(t *testing.T) {
	users := &fakeUsers{users: map[string]*store.User{
		"user-1": {ID: "user-1", Email: "ana@capy.town", Name: "Ana"},
	}}
	h := NewKeyInfoHandler(testKeys(), users)

	req := httptest.NewRequest(http.MethodGet, "/api/key-info", nil)
	req.Header.Set("Authorization", "Bearer key-admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			KeyID  string `json:"keyId"`
			UserID string `json:"userId"`
			User   struct {
				Email string `json:"email"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "k1", resp.Data.KeyID)
	assert.Equal(t, "ana@capy.town", resp.Data.User.Email)
}

// ─────────────── migrations apply ───────────────

func migrationsRouter(h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/internal/tenants/{slug}/migrations/apply", h)
	return r
}

func TestMigrationsApplyWithInternalSecret(t *testing.T) {
	auth, _ := testAuthorizer(t)
	applier := &fakeApplier{applied: []string{"0001_app_user"}}
	h := migrationsRouter(NewMigrationsApplyHandler("s3cret", testKeys(), auth, applier))

	req := httptest.NewRequest(http.MethodPost, "/api/internal/tenants/capyschool/migrations/apply", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"capyschool"}, applier.tenants)
}

func TestMigrationsApplyWithElevatedKey(t *testing.T) {
	auth, _ := testAuthorizer(t)
	applier := &fakeApplier{}
	h := migrationsRouter(NewMigrationsApplyHandler("s3cret", testKeys(), auth, applier))

	req := httptest.NewRequest(http.MethodPost, "/api/internal/tenants/capyschool/migrations/apply", nil)
	req.Header.Set("X-API-Key", "key-admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMigrationsApplyMemberRoleForbidden(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := migrationsRouter(NewMigrationsApplyHandler("s3cret", testKeys(), auth, &fakeApplier{}))

	req := httptest.NewRequest(http.MethodPost, "/api/internal/tenants/capyschool/migrations/apply", nil)
	req.Header.Set("X-API-Key", "key-member")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMigrationsApplyNoCredentials(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := migrationsRouter(NewMigrationsApplyHandler("s3cret", testKeys(), auth, &fakeApplier{}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/internal/tenants/capyschool/migrations/apply", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMigrationsApplyWrongSecretFallsToKeyPath(t *testing.T) {
	auth, _ := testAuthorizer(t)
	h := migrationsRouter(NewMigrationsApplyHandler("s3cret", testKeys(), auth, &fakeApplier{}))

	req := httptest.NewRequest(http.MethodPost, "/api/internal/tenants/capyschool/migrations/apply", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ─────────────── readiness ───────────────

func TestReadyzAllOK(t *testing.T) {
	h := NewReadyzHandler([]ReadyCheck{
		{Name: "pg", Check: func(context.Context) error { return nil }},
		{Name: "engine", Check: func(context.Context) error { return nil }},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzDegraded(t *testing.T) {
	h := NewReadyzHandler([]ReadyCheck{
		{Name: "pg", Check: func(context.Context) error { return nil }},
		{Name: "engine", Check: func(context.Context) error { return assert.AnError }},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unavailable", resp.Checks["engine"])
}
