package http

import (
	"net/http"
	"net/url"

	"github.com/capy-town/capyauth/internal/apps"
	"github.com/capy-town/capyauth/internal/audit"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/observability/logger"
)

// NewSSOCompleteHandler canjea un one-time token y establece la sesión en el
// dominio del host actual.
//
// GET /api/sso/complete?token=<t>&redirect=<url>
//
// El canje es at-most-once: ante CUALQUIER fallo (incluido timeout de
// transporte, donde no se sabe si el motor consumió el token) respondemos 401
// sin redirigir y sin reintentar. El redirect solo ocurre con cookies ya
// escritas en la respuesta.
func NewSSOCompleteHandler(reg *apps.Registry, bridge engine.TokenBridgeService, rewriter *CookieRewriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// El token viaja en la query: esta respuesta no debe quedar en
		// ningún cache intermedio.
		w.Header().Set("Cache-Control", "no-store")

		q := r.URL.Query()
		token := q.Get("token")
		redirect := q.Get("redirect")

		if token == "" || redirect == "" {
			ObserveRedemption("bad_request")
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Missing token or redirect"))
			return
		}

		target, err := url.Parse(redirect)
		if err != nil || !target.IsAbs() {
			ObserveRedemption("bad_request")
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Invalid redirect URL"))
			return
		}
		if !reg.IsSSORedirectAllowed(target) {
			ObserveRedemption("bad_request")
			audit.Log(r.Context(), "sso.redeem.rejected_redirect",
				logger.Redirect(redirect), logger.ClientIP(clientIP(r)))
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Redirect URL not allowed"))
			return
		}

		fwd := engine.ForwardedClient{
			Cookie:        r.Header.Get("Cookie"),
			UserAgent:     r.Header.Get("User-Agent"),
			XForwardedFor: r.Header.Get("X-Forwarded-For"),
			XRealIP:       r.Header.Get("X-Real-IP"),
		}

		// Contexto desacoplado del socket: un disconnect del browser a mitad
		// del canje dejaría el token consumido sin entregar cookies.
		res, err := bridge.RedeemToken(detachedContext(r.Context()), token, fwd)
		if err != nil {
			ObserveRedemption("denied")
			audit.Log(r.Context(), "sso.redeem.denied",
				logger.Redirect(redirect), logger.ClientIP(clientIP(r)), logger.Err(err))
			errors.WriteError(w, errors.ErrInvalidCredential.WithMessage("Invalid or expired token"))
			return
		}

		for _, sc := range rewriter.RewriteAll(res.SetCookies, r.Host) {
			w.Header().Add("Set-Cookie", sc)
		}

		ObserveRedemption("success")
		audit.Log(r.Context(), "sso.redeem.success",
			logger.Redirect(redirect), logger.ClientIP(clientIP(r)),
			logger.Count(len(res.SetCookies)))

		http.Redirect(w, r, target.String(), http.StatusFound)
	}
}
