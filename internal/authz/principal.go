// Package authz resuelve la identidad del caller y su autorización por
// organización. Construye valores efímeros por request; nada se persiste
// ni se cachea acá.
package authz

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capy-town/capyauth/internal/engine"
	httperr "github.com/capy-town/capyauth/internal/http/errors"
	"github.com/capy-town/capyauth/internal/observability/logger"
)

// Method indica cómo se autenticó el principal.
type Method string

const (
	MethodSession Method = "session"
	MethodBearer  Method = "bearer"
	MethodAPIKey  Method = "api_key"
)

// Principal es la identidad resuelta para el request actual.
type Principal struct {
	UserID string
	Method Method
}

// Resolver convierte un request entrante en un Principal.
//
// Orden de resolución (gana el primero):
//  1. cookie de sesión (motor de credenciales)
//  2. Authorization: Bearer, sea JWT del motor verificado localmente o API key
//  3. X-API-Key
//
// Una credencial PRESENTADA que falla verificación corta la resolución
// (invalid_credential); una credencial ausente o con forma inválida pasa
// al método siguiente. Sin nada utilizable => unauthenticated.
type Resolver struct {
	Sessions engine.SessionService
	Keys     engine.APIKeyVerifier

	// JWTSecret verifica access tokens HS256 emitidos por el motor.
	// Vacío => todo bearer se trata como API key opaca.
	JWTSecret []byte
}

// ResolvePrincipal aplica el orden de resolución sobre los headers del request.
func (r *Resolver) ResolvePrincipal(ctx context.Context, req *http.Request) (*Principal, error) {
	// 1) sesión de browser
	if cookie := req.Header.Get("Cookie"); cookie != "" && r.Sessions != nil {
		s, err := r.Sessions.VerifySession(ctx, cookie)
		if err != nil {
			return nil, httperr.ErrInternal.WithCause(err)
		}
		if s != nil {
			return &Principal{UserID: s.UserID, Method: MethodSession}, nil
		}
		// cookie presente pero sin sesión válida: no es terminal, puede
		// venir una key de server-to-server en el mismo request
	}

	// 2) bearer
	if tok := bearerToken(req); tok != "" {
		if len(r.JWTSecret) > 0 && looksLikeJWT(tok) {
			return r.resolveJWT(ctx, tok)
		}
		return r.resolveKey(ctx, tok, MethodBearer)
	}

	// 3) api key explícita
	if key := strings.TrimSpace(req.Header.Get("X-API-Key")); key != "" {
		return r.resolveKey(ctx, key, MethodAPIKey)
	}

	return nil, httperr.ErrUnauthenticated
}

// resolveJWT verifica localmente un access token del motor.
// Si parsea como JWT pero la firma/expiración falla, es terminal: el caller
// presentó una credencial y fue rechazada.
func (r *Resolver) resolveJWT(ctx context.Context, raw string) (*Principal, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	tok, err := parser.Parse(raw, func(t *jwt.Token) (any, error) {
		return r.JWTSecret, nil
	})
	if err != nil || !tok.Valid {
		logger.From(ctx).Debug("bearer JWT rechazado", logger.Component("authz"), logger.Err(err))
		return nil, httperr.ErrInvalidCredential
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, httperr.ErrInvalidCredential
	}
	return &Principal{UserID: sub, Method: MethodBearer}, nil
}

// resolveKey delega al motor. El motor ya avanza last_used como efecto.
func (r *Resolver) resolveKey(ctx context.Context, key string, m Method) (*Principal, error) {
	if r.Keys == nil {
		return nil, httperr.ErrNotConfigured.WithMessage("Credential engine not configured")
	}
	k, err := r.Keys.VerifyAPIKey(ctx, key)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidKey) {
			return nil, httperr.ErrInvalidCredential
		}
		return nil, httperr.ErrInternal.WithCause(err)
	}
	return &Principal{UserID: k.UserID, Method: m}, nil
}

// bearerToken extrae el token del header Authorization.
// "" cuando el header falta o no tiene forma Bearer (se sigue al próximo método).
func bearerToken(req *http.Request) string {
	ah := strings.TrimSpace(req.Header.Get("Authorization"))
	if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[len("bearer "):])
}

// looksLikeJWT: forma header.payload.signature. Un bearer que no tiene esa
// forma es una API key opaca, no un JWT malformado.
func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}
