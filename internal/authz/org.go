package authz

import (
	"context"
	"errors"
	"time"

	httperr "github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/store"
)

// AuthContext es la salida del autorizador: identidad + organización + rol.
// Vive lo que vive el request; nunca se cachea más allá.
type AuthContext struct {
	UserID         string
	OrganizationID string
	Slug           string
	Role           store.Role
	MemberSince    time.Time
}

// Authorizer chequea membership contra el almacén relacional.
type Authorizer struct {
	Store store.MembershipStore
}

// AuthorizeOrg valida que el principal sea miembro de la organización slug.
//
// La ausencia de fila es denegación dura y el mensaje es UNIFORME: no debe
// poder distinguirse "la org no existe" de "existe pero no sos miembro",
// para no permitir enumerar slugs.
func (a *Authorizer) AuthorizeOrg(ctx context.Context, p *Principal, slug string) (*AuthContext, error) {
	if slug == "" {
		return nil, httperr.ErrBadRequest.WithMessage("Organization slug is required")
	}
	if p == nil || p.UserID == "" {
		return nil, httperr.ErrUnauthenticated
	}
	if a.Store == nil {
		return nil, httperr.ErrNotConfigured.WithMessage("Database not configured")
	}

	m, err := a.Store.GetMembership(ctx, p.UserID, slug)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, forbiddenForSlug(slug)
		case errors.Is(err, store.ErrInvariant):
			// membership duplicada: corrupción, nunca elegir una fila al azar
			return nil, httperr.ErrInternal.WithCause(err)
		default:
			return nil, httperr.ErrInternal.WithCause(err)
		}
	}

	return &AuthContext{
		UserID:         p.UserID,
		OrganizationID: m.OrganizationID,
		Slug:           m.OrganizationSlug,
		Role:           m.Role,
		MemberSince:    m.MemberSince,
	}, nil
}

// RequireElevated es el chequeo en capa para operaciones administrativas
// (owner/admin). Se aplica SOBRE un AuthContext ya autorizado, así el
// autorizador base queda reutilizable.
func RequireElevated(ac *AuthContext) error {
	if ac == nil {
		return httperr.ErrUnauthenticated
	}
	if !ac.Role.Elevated() {
		return forbiddenForSlug(ac.Slug)
	}
	return nil
}

// forbiddenForSlug produce el 403 con mensaje estable, byte-idéntico para
// cualquier causa de denegación sobre el mismo slug.
func forbiddenForSlug(slug string) error {
	return httperr.ErrForbidden.WithMessagef("not a member of organization '%s'", slug)
}
