package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/observability/logger"
	"github.com/capy-town/capyauth/internal/rate"
)

// ─────────────── CORS ───────────────

// WithCORS habilita CORS con credenciales SOLO para los orígenes de la
// allow-list. La lista es inmutable después del arranque: se deriva de la
// configuración y nunca se muta por request.
func WithCORS(next http.Handler, allowed []string) http.Handler {
	trim := func(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }

	alist := make([]string, len(allowed))
	for i, v := range allowed {
		alist[i] = trim(v)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := trim(r.Header.Get("Origin"))
		allowedOrigin := ""

		for _, a := range alist {
			if origin != "" && strings.EqualFold(origin, a) {
				allowedOrigin = origin
				break
			}
		}

		// Ayuda a caches/proxies
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Method")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if allowedOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET,POST,HEAD,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After, Location")
			h.Set("Access-Control-Max-Age", "600") // preflight 10m
		} else if origin != "" {
			observeCORSReject(origin)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Legacy Host Redirect ───────────────

// WithLegacyHostRedirect corre ANTES que cualquier otro handler: los requests
// que llegan al hostname deprecado se mandan 307 (preserva método y body) al
// mismo path+query en el origin canónico.
//
// Excepción: el path de completado del bridge sigue respondiendo en el host
// legado, porque los canjes en vuelo emitidos antes de la migración apuntan ahí.
func WithLegacyHostRedirect(next http.Handler, legacyHost, canonicalOrigin, bridgePath string) http.Handler {
	legacyHost = strings.ToLower(strings.TrimSpace(legacyHost))
	canonicalOrigin = strings.TrimRight(strings.TrimSpace(canonicalOrigin), "/")
	if legacyHost == "" || canonicalOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := strings.ToLower(r.Host)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host == legacyHost && !strings.HasPrefix(r.URL.Path, bridgePath) {
			dest := canonicalOrigin + r.URL.Path
			if r.URL.RawQuery != "" {
				dest += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Security Headers ───────────────

// isHTTPS intenta detectar si el request llegó por HTTPS (directo o detrás de proxy).
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return false
}

// WithSecurityHeaders inyecta cabeceras de defensa por defecto.
// No toca Cache-Control: eso lo maneja cada handler sensible a tokens.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		// CSP estricta para API (no servimos HTML acá)
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// HSTS solo si estamos en HTTPS (directo o detrás de proxy)
		if isHTTPS(r) {
			w.Header().Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// ─────────────── Request ID ───────────────

func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			var b [16]byte
			_, _ = rand.Read(b[:])
			rid = hex.EncodeToString(b[:])
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Recover de pánicos ───────────────

func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := w.Header().Get("X-Request-ID")
				logger.From(r.Context()).Error("panic",
					logger.RequestID(rid), logger.Any("recover", rec))
				errors.WriteError(w, errors.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Logging ───────────────

// statusRecorder captura el status code y bytes escritos de la respuesta.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// WithLogging loguea cada request con campos estructurados e inyecta un
// logger "scoped" (request_id, method, path) en el contexto.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rid := w.Header().Get("X-Request-ID")
		reqLog := logger.L().With(
			logger.RequestID(rid),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ctx := logger.ToContext(r.Context(), reqLog)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		dur := time.Since(start)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		switch {
		case status >= 500:
			reqLog.Error("request failed",
				logger.Status(status), logger.Bytes(rec.bytes), logger.DurationMs(dur.Milliseconds()))
		case status >= 400:
			reqLog.Warn("request completed with client error",
				logger.Status(status), logger.Bytes(rec.bytes), logger.DurationMs(dur.Milliseconds()))
		default:
			reqLog.Info("request completed",
				logger.Status(status), logger.Bytes(rec.bytes), logger.DurationMs(dur.Milliseconds()))
		}
	})
}

// ─────────────── Rate Limit ───────────────

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func rateKey(r *http.Request) string {
	return clientIP(r) + "|" + r.URL.Path
}

// WithRateLimit aplica el limiter por IP+path. Si el limiter falla
// (p.ej. Redis caído) el request pasa: preferimos degradar el límite antes
// que tirar el servicio de login completo.
func WithRateLimit(next http.Handler, limiter rate.Limiter) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// whitelist: no contar health checks
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		res, err := limiter.Allow(r.Context(), rateKey(r))
		if err != nil {
			logger.From(r.Context()).Warn("rate limiter error", logger.Err(err))
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			}
			errors.WriteError(w, &errors.AppError{
				Kind:       "rate_limited",
				Message:    "Too many requests",
				HTTPStatus: http.StatusTooManyRequests,
			})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		next.ServeHTTP(w, r)
	})
}

// ─────────────── util ───────────────

// detachedContext conserva los values del contexto (logger, request id) pero
// corta la cancelación. Lo usa el bridge: un disconnect del browser no debe
// abortar un canje en vuelo, porque dejaría el token consumido sin sesión.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
