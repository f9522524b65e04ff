package http

import (
	"net/http"
	"time"

	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
)

type sessionUserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionResponse struct {
	User      sessionUserDTO `json:"user"`
	ExpiresAt string         `json:"expiresAt"`
}

// NewSessionHandler expone la sesión actual del browser.
//
// GET /api/session: 200 con la sesión, 401 si no hay. Lo consumen las apps
// satélite vía CORS con credenciales para pintar el estado de login.
func NewSessionHandler(sessions engine.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil {
			errors.WriteError(w, errors.ErrNotConfigured.WithMessage("Credential engine not configured"))
			return
		}
		s, err := sessions.VerifySession(r.Context(), r.Header.Get("Cookie"))
		if err != nil {
			errors.WriteError(w, errors.ErrInternal.WithCause(err))
			return
		}
		if s == nil {
			errors.WriteError(w, errors.ErrUnauthenticated)
			return
		}
		WriteJSON(w, http.StatusOK, sessionResponse{
			User:      sessionUserDTO{ID: s.UserID, Email: s.Email, Name: s.Name},
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}
