package http

import (
	"context"
	"crypto/subtle"
	stderr "errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/capy-town/capyauth/internal/audit"
	"github.com/capy-town/capyauth/internal/authz"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/observability/logger"
)

// MigrationApplier aplica el esquema de lectura de un tenant.
type MigrationApplier interface {
	ApplyMigrations(ctx context.Context, tenant string) ([]string, error)
}

// NewMigrationsApplyHandler aplica migraciones a un tenant. Endpoint interno
// para automatización (n8n y similares).
//
//	POST /api/internal/tenants/{slug}/migrations/apply
//
// Autorización, en orden:
//  1. Authorization: Bearer <secreto interno>, comparado en tiempo constante.
//  2. API key cuyo dueño tenga rol elevado (owner/admin) en la organización.
func NewMigrationsApplyHandler(internalSecret string, keys engine.APIKeyVerifier, auth *authz.Authorizer, applier MigrationApplier) http.HandlerFunc {
	denied := func(w http.ResponseWriter) {
		errors.WriteError(w, errors.ErrInvalidCredential.WithMessage(
			"Unauthorized: Internal service secret or valid admin API key required"))
	}

	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if slug == "" {
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Organization slug is required"))
			return
		}

		bearer := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			bearer = strings.TrimPrefix(h, "Bearer ")
		}

		authorized := false
		actor := "internal_service"

		if internalSecret != "" && bearer != "" &&
			subtle.ConstantTimeCompare([]byte(bearer), []byte(internalSecret)) == 1 {
			authorized = true
		}

		if !authorized {
			key := bearer
			if key == "" {
				key = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if key == "" || keys == nil {
				denied(w)
				return
			}
			k, err := keys.VerifyAPIKey(r.Context(), key)
			if err != nil {
				if stderr.Is(err, engine.ErrInvalidKey) {
					denied(w)
				} else {
					errors.WriteError(w, errors.ErrInternal.WithCause(err))
				}
				return
			}
			ac, err := auth.AuthorizeOrg(r.Context(), &authz.Principal{UserID: k.UserID, Method: authz.MethodAPIKey}, slug)
			if err != nil {
				errors.WriteError(w, err)
				return
			}
			if err := authz.RequireElevated(ac); err != nil {
				errors.WriteError(w, err)
				return
			}
			actor = k.UserID
		}

		if applier == nil {
			errors.WriteError(w, errors.ErrNotConfigured.WithMessage("Database not configured"))
			return
		}

		applied, err := applier.ApplyMigrations(r.Context(), slug)
		if err != nil {
			logger.From(r.Context()).Error("migraciones fallaron",
				logger.OrgSlug(slug), logger.Err(err))
			errors.WriteError(w, errors.ErrInternal.WithCause(err))
			return
		}

		audit.Log(r.Context(), "tenant.migrations.applied",
			logger.OrgSlug(slug), logger.UserID(actor), logger.Count(len(applied)))

		WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"tenant":  slug,
			"applied": applied,
		})
	}
}
