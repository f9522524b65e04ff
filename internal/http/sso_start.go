package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/capy-town/capyauth/internal/apps"
	"github.com/capy-town/capyauth/internal/engine"
	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/observability/logger"
)

// SSOStartConfig agrupa los datos de despliegue que decide el arranque del bridge.
type SSOStartConfig struct {
	CanonicalOrigin string // origin público del servicio, p.ej. https://auth.capy.town
	LegacyHost      string // host del bridge en el dominio secundario, puede ser ""
	CompletePath    string // path del endpoint de canje
}

// NewSSOStartHandler inicia el salto cross-domain hacia una app registrada.
//
// GET /api/sso/start?app=<id>&redirect=<url>
//
// Con sesión activa emite un one-time token y redirige al endpoint de
// completado en el host cuyo cookie domain cubre al redirect. Sin sesión, o si
// el redirect ya comparte dominio de cookies con este servicio, se redirige
// directo: la app destino decide qué hacer con un visitante anónimo.
func NewSSOStartHandler(reg *apps.Registry, sessions engine.SessionService, bridge engine.TokenBridgeService, rewriter *CookieRewriter, cfg SSOStartConfig) http.HandlerFunc {
	canonicalHost := hostOfOrigin(cfg.CanonicalOrigin)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		q := r.URL.Query()
		appID := q.Get("app")
		redirect := q.Get("redirect")

		if appID == "" || redirect == "" {
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Missing app or redirect"))
			return
		}

		app, ok := reg.Lookup(appID)
		if !ok {
			errors.WriteError(w, errors.ErrBadRequest.WithMessagef("Unknown app '%s'", appID))
			return
		}

		target, err := url.Parse(redirect)
		if err != nil || !target.IsAbs() {
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Invalid redirect URL"))
			return
		}
		if !app.IsRedirectAllowed(redirect) {
			errors.WriteError(w, errors.ErrBadRequest.WithMessage("Redirect URL not allowed for this app"))
			return
		}

		// Sin sesión no hay nada que puentear.
		cookie := r.Header.Get("Cookie")
		var hasSession bool
		if cookie != "" && sessions != nil {
			s, err := sessions.VerifySession(r.Context(), cookie)
			if err != nil {
				errors.WriteError(w, errors.ErrInternal.WithCause(err))
				return
			}
			hasSession = s != nil
		}
		if !hasSession {
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}

		// Mismo dominio de cookies que este servicio: las cookies ya viajan
		// solas, el bridge sobra.
		targetDomain := rewriter.Resolve(target.Host)
		if targetDomain != "" && targetDomain == rewriter.Resolve(canonicalHost) {
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}

		token, err := bridge.IssueToken(r.Context(), cookie)
		if err != nil {
			// Degradación: la app destino recibe un visitante sin sesión y
			// puede relanzar el login. Mejor eso que un 500 en pleno salto.
			logger.From(r.Context()).Warn("no se pudo emitir one-time token, redirigiendo sin bridge",
				logger.Component("sso"), logger.AppID(app.ID), logger.Err(err))
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}

		base := strings.TrimRight(cfg.CanonicalOrigin, "/")
		if cfg.LegacyHost != "" && targetDomain != "" && targetDomain == rewriter.Resolve(cfg.LegacyHost) {
			// El redirect vive en el dominio secundario: el canje tiene que
			// correr en un host de ESE dominio para poder escribir la cookie.
			base = "https://" + cfg.LegacyHost
		}

		loc := base + cfg.CompletePath +
			"?token=" + url.QueryEscape(token) +
			"&redirect=" + url.QueryEscape(target.String())
		http.Redirect(w, r, loc, http.StatusFound)
	}
}

// hostOfOrigin extrae el host de un origin configurado; "" si no parsea.
func hostOfOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return ""
	}
	return u.Host
}
