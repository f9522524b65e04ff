package http

import (
	"net/http"

	"github.com/capy-town/capyauth/internal/audit"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/observability/logger"
)

// NewSignOutHandler invalida la sesión en el motor y borra las cookies del
// dominio actual.
//
// POST /api/sign-out: siempre responde 200 con cookies expiradas, incluso si
// el motor falla: el peor caso es una sesión server-side huérfana que expira
// sola, nunca un browser que se cree deslogueado sin estarlo.
func NewSignOutHandler(signOut engine.SignOutService, rewriter *CookieRewriter, cookieName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		if signOut != nil {
			if err := signOut.SignOut(r.Context(), r.Header.Get("Cookie")); err != nil {
				logger.From(r.Context()).Warn("sign-out en el motor falló, borrando cookies igual",
					logger.Component("session"), logger.Err(err))
			}
		}

		// Expiramos la cookie tanto host-only como en el dominio registrable,
		// según cómo la haya scopeado el bridge.
		expired := cookieName + "=; Path=/; Max-Age=0; HttpOnly; Secure; SameSite=Lax"
		w.Header().Add("Set-Cookie", expired)
		if domain := rewriter.Resolve(r.Host); domain != "" {
			w.Header().Add("Set-Cookie", expired+"; Domain="+domain)
		}

		audit.Log(r.Context(), "session.sign_out", logger.ClientIP(clientIP(r)))
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
