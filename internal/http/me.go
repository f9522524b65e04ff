package http

import (
	"net/http"

	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/store"
)

// NewMeHandler resuelve la identidad del caller con cualquiera de las
// credenciales aceptadas (cookie de sesión, bearer, API key) y devuelve el
// principal con sus organizaciones.
//
//	GET /api/me
func NewMeHandler(resolver *authz.Resolver, memberships store.MembershipStore) http.HandlerFunc {
	type meOrgDTO struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	type response struct {
		UserID        string     `json:"userId"`
		AuthMethod    string     `json:"authMethod"`
		Organizations []meOrgDTO `json:"organizations"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		p, err := resolver.ResolvePrincipal(r.Context(), r)
		if err != nil {
			errors.WriteError(w, err)
			return
		}

		resp := response{
			UserID:        p.UserID,
			AuthMethod:    string(p.Method),
			Organizations: []meOrgDTO{},
		}
		if memberships != nil {
			orgs, err := memberships.ListUserOrganizations(r.Context(), p.UserID)
			if err != nil {
				errors.WriteError(w, errors.ErrInternal.WithCause(err))
				return
			}
			for _, o := range orgs {
				resp.Organizations = append(resp.Organizations, meOrgDTO{
					ID:   o.ID,
					Slug: o.Slug,
					Name: o.Name,
					Role: string(o.Role),
				})
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
