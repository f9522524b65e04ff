package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/store"
)

func TestMeWithSession(t *testing.T) {
	_, ms := testAuthorizer(t)
	ms.orgs = map[string][]store.Organization{
		"user-1": {{ID: "org-1", Name: "CapySchool", Slug: "capyschool", Role: store.RoleAdmin}},
	}
	resolver := &authz.Resolver{
		Sessions: &fakeSessions{session: &engine.Session{UserID: "user-1"}},
		Keys:     testKeys(),
	}
	h := NewMeHandler(resolver, ms)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		UserID        string `json:"userId"`
		AuthMethod    string `json:"authMethod"`
		Organizations []struct {
			Slug string `json:"slug"`
			Role string `json:"role"`
		} `json:"organizations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "session", resp.AuthMethod)
	require.Len(t, resp.Organizations, 1)
	assert.Equal(t, "capyschool", resp.Organizations[0].Slug)
}

func TestMeWithAPIKey(t *testing.T) {
	_, ms := testAuthorizer(t)
	resolver := &authz.Resolver{Sessions: &fakeSessions{}, Keys: testKeys()}
	h := NewMeHandler(resolver, ms)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-API-Key", "key-member")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AuthMethod string `json:"authMethod"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "api_key", resp.AuthMethod)
}

func TestMeNoCredentials(t *testing.T) {
	resolver := &authz.Resolver{Sessions: &fakeSessions{}, Keys: testKeys()}
	h := NewMeHandler(resolver, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
