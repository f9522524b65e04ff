package http

import (
	stderr "errors"
	"net/http"
	"time"

	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/store"
)

// NewKeyOrganizationsHandler lista todas las organizaciones del dueño de la key.
//
//	POST /api/key-organizations   body {apiKey}
//	GET  /api/key-organizations   (key en headers)
func NewKeyOrganizationsHandler(keys engine.APIKeyVerifier, memberships store.MembershipStore) http.HandlerFunc {
	type keyOrgDTO struct {
		orgDTO
		Role        string `json:"role"`
		MemberSince string `json:"memberSince"`
		CreatedAt   string `json:"createdAt"`
	}
	type response struct {
		Success bool `json:"success"`
		Data    struct {
			KeyID              string      `json:"keyId"`
			KeyName            string      `json:"keyName"`
			UserID             string      `json:"userId"`
			Organizations      []keyOrgDTO `json:"organizations"`
			TotalOrganizations int         `json:"totalOrganizations"`
		} `json:"data"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key, _, ok := credentialsFrom(w, r)
		if !ok {
			return
		}
		k := verifyKeyOrWrite(w, r, keys, key)
		if k == nil {
			return
		}
		if memberships == nil {
			errors.WriteError(w, errors.ErrNotConfigured.WithMessage("Database not configured"))
			return
		}

		orgs, err := memberships.ListUserOrganizations(r.Context(), k.UserID)
		if err != nil {
			errors.WriteError(w, errors.ErrInternal.WithCause(err))
			return
		}

		var resp response
		resp.Success = true
		resp.Data.KeyID = k.ID
		resp.Data.KeyName = k.Name
		resp.Data.UserID = k.UserID
		resp.Data.Organizations = make([]keyOrgDTO, 0, len(orgs))
		for _, o := range orgs {
			resp.Data.Organizations = append(resp.Data.Organizations, keyOrgDTO{
				orgDTO: orgDTO{
					ID:       o.ID,
					Name:     o.Name,
					Slug:     o.Slug,
					Logo:     o.Logo,
					Metadata: metadataJSON(o.Metadata),
				},
				Role:        string(o.Role),
				MemberSince: o.MemberSince.UTC().Format(time.RFC3339),
				CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		resp.Data.TotalOrganizations = len(orgs)
		WriteJSON(w, http.StatusOK, resp)
	}
}

// NewKeyInfoHandler devuelve la key verificada y su usuario dueño.
// La contabilidad de last_used es efecto del verify en el motor; acá no se toca.
//
//	POST /api/key-info   body {apiKey}
//	GET  /api/key-info   (key en headers)
func NewKeyInfoHandler(keys engine.APIKeyVerifier, users store.UserStore) http.HandlerFunc {
	type userDTO struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	type response struct {
		Success bool `json:"success"`
		Data    struct {
			KeyID     string   `json:"keyId"`
			KeyName   string   `json:"keyName"`
			UserID    string   `json:"userId"`
			User      *userDTO `json:"user,omitempty"`
			ExpiresAt *string  `json:"expiresAt"`
		} `json:"data"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key, _, ok := credentialsFrom(w, r)
		if !ok {
			return
		}
		k := verifyKeyOrWrite(w, r, keys, key)
		if k == nil {
			return
		}

		var resp response
		resp.Success = true
		resp.Data.KeyID = k.ID
		resp.Data.KeyName = k.Name
		resp.Data.UserID = k.UserID
		if k.ExpiresAt != nil {
			s := k.ExpiresAt.UTC().Format(time.RFC3339)
			resp.Data.ExpiresAt = &s
		}

		// user info es best-effort: sin almacén configurado la key verificada
		// ya es respuesta útil
		if users != nil {
			u, err := users.GetUser(r.Context(), k.UserID)
			switch {
			case err == nil:
				resp.Data.User = &userDTO{ID: u.ID, Email: u.Email, Name: u.Name}
			case stderr.Is(err, store.ErrNotFound):
				// key huérfana: el motor es la fuente de verdad, seguimos
			default:
				errors.WriteError(w, errors.ErrInternal.WithCause(err))
				return
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}
