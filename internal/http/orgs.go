package http

import (
	"encoding/json"
	stderr "errors"
	"net/http"
	"strings"
	"time"

	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/store"
)

// Los endpoints de organización son server-to-server: la credencial es una
// API key, en el body (POST, compat con clientes existentes) o en los headers
// X-API-Key / Authorization: Bearer (GET). Ambas variantes comparten la misma
// semántica de errores.

type orgRequest struct {
	APIKey           string `json:"apiKey"`
	OrganizationSlug string `json:"organizationSlug"`
}

// credentialsFrom extrae key y slug según el método.
func credentialsFrom(w http.ResponseWriter, r *http.Request) (key, slug string, ok bool) {
	if r.Method == http.MethodPost {
		var req orgRequest
		if !ReadJSON(w, r, &req) {
			return "", "", false
		}
		return strings.TrimSpace(req.APIKey), strings.TrimSpace(req.OrganizationSlug), true
	}
	key = strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return key, strings.TrimSpace(r.URL.Query().Get("organizationSlug")), true
}

// verifyKeyOrWrite valida la key contra el motor; escribe la respuesta de
// error y devuelve nil si no pasa.
func verifyKeyOrWrite(w http.ResponseWriter, r *http.Request, keys engine.APIKeyVerifier, key string) *engine.APIKey {
	if key == "" {
		errors.WriteError(w, errors.ErrBadRequest.WithMessage("API key is required"))
		return nil
	}
	if keys == nil {
		errors.WriteError(w, errors.ErrNotConfigured.WithMessage("Credential engine not configured"))
		return nil
	}
	k, err := keys.VerifyAPIKey(r.Context(), key)
	if err != nil {
		if stderr.Is(err, engine.ErrInvalidKey) {
			errors.WriteError(w, errors.ErrInvalidCredential.WithMessage("Invalid API key"))
		} else {
			errors.WriteError(w, errors.ErrInternal.WithCause(err))
		}
		return nil
	}
	return k
}

// metadataJSON expone el metadata crudo de la organización si es JSON válido.
func metadataJSON(m *string) json.RawMessage {
	if m == nil || !json.Valid([]byte(*m)) {
		return nil
	}
	return json.RawMessage(*m)
}

type orgDTO struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Slug     string          `json:"slug"`
	Logo     *string         `json:"logo,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type membershipDTO struct {
	Role        string `json:"role"`
	MemberSince string `json:"memberSince"`
}

// NewVerifyOrganizationHandler responde si la API key pertenece a un miembro
// de la organización.
//
//	POST /api/verify-organization   body {apiKey, organizationSlug}
//	GET  /api/verify-organization?organizationSlug=<slug>  (key en headers)
func NewVerifyOrganizationHandler(keys engine.APIKeyVerifier, auth *authz.Authorizer) http.HandlerFunc {
	type response struct {
		Success    bool `json:"success"`
		Authorized bool `json:"authorized"`
		Data       struct {
			KeyID        string        `json:"keyId"`
			KeyName      string        `json:"keyName"`
			UserID       string        `json:"userId"`
			Organization orgDTO        `json:"organization"`
			Membership   membershipDTO `json:"membership"`
		} `json:"data"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key, slug, ok := credentialsFrom(w, r)
		if !ok {
			return
		}
		k := verifyKeyOrWrite(w, r, keys, key)
		if k == nil {
			return
		}

		ac, err := auth.AuthorizeOrg(r.Context(), &authz.Principal{UserID: k.UserID, Method: authz.MethodAPIKey}, slug)
		if err != nil {
			errors.WriteError(w, err)
			return
		}

		var resp response
		resp.Success = true
		resp.Authorized = true
		resp.Data.KeyID = k.ID
		resp.Data.KeyName = k.Name
		resp.Data.UserID = ac.UserID
		resp.Data.Organization = orgDTO{ID: ac.OrganizationID, Slug: ac.Slug}
		resp.Data.Membership = membershipDTO{
			Role:        string(ac.Role),
			MemberSince: ac.MemberSince.UTC().Format(time.RFC3339),
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// NewOrganizationMembersHandler lista los integrantes de una organización.
// El dueño de la key tiene que ser miembro para poder mirar la lista.
//
//	POST /api/organization-members   body {apiKey, organizationSlug}
//	GET  /api/organization-members?organizationSlug=<slug>
func NewOrganizationMembersHandler(keys engine.APIKeyVerifier, auth *authz.Authorizer, memberships store.MembershipStore) http.HandlerFunc {
	type memberDTO struct {
		UserID      string `json:"userId"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		Role        string `json:"role"`
		MemberSince string `json:"memberSince"`
	}
	type response struct {
		Success bool `json:"success"`
		Data    struct {
			Organization   orgDTO `json:"organization"`
			RequestingUser struct {
				UserID string `json:"userId"`
				Role   string `json:"role"`
			} `json:"requestingUser"`
			Members      []memberDTO `json:"members"`
			TotalMembers int         `json:"totalMembers"`
		} `json:"data"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key, slug, ok := credentialsFrom(w, r)
		if !ok {
			return
		}
		k := verifyKeyOrWrite(w, r, keys, key)
		if k == nil {
			return
		}

		ac, err := auth.AuthorizeOrg(r.Context(), &authz.Principal{UserID: k.UserID, Method: authz.MethodAPIKey}, slug)
		if err != nil {
			errors.WriteError(w, err)
			return
		}

		members, err := memberships.ListOrganizationMembers(r.Context(), ac.OrganizationID)
		if err != nil {
			errors.WriteError(w, errors.ErrInternal.WithCause(err))
			return
		}

		var resp response
		resp.Success = true
		resp.Data.Organization = orgDTO{ID: ac.OrganizationID, Slug: ac.Slug}
		resp.Data.RequestingUser.UserID = ac.UserID
		resp.Data.RequestingUser.Role = string(ac.Role)
		resp.Data.Members = make([]memberDTO, 0, len(members))
		for _, m := range members {
			resp.Data.Members = append(resp.Data.Members, memberDTO{
				UserID:      m.UserID,
				Name:        m.Name,
				Email:       m.Email,
				Role:        string(m.Role),
				MemberSince: m.MemberSince.UTC().Format(time.RFC3339),
			})
		}
		resp.Data.TotalMembers = len(members)
		WriteJSON(w, http.StatusOK, resp)
	}
}
