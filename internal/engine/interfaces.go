// Package engine modela el motor de credenciales como colaborador externo.
//
// El motor es dueño de sesiones, API keys y one-time tokens; este servicio
// solo orquesta llamadas. Las capacidades se exponen como interfaces chicas
// para poder sustituirlas por fakes en tests de integración.
package engine

import (
	"context"
	"errors"
	"time"
)

// Session es la vista mínima de una sesión verificada por el motor.
type Session struct {
	UserID    string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// APIKey es la vista mínima de una API key verificada por el motor.
// El motor ya avanzó last_used como efecto de la verificación; acá no se
// duplica esa contabilidad.
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	ExpiresAt *time.Time
}

// RedeemResult es el resultado de canjear un one-time token: las cookies
// de sesión emitidas por el motor, crudas, para que el rewriter las re-scopee.
type RedeemResult struct {
	SetCookies []string
}

// ForwardedClient son los únicos headers del request original que se
// propagan al motor en el redeem (anti-replay / auditoría). Nada más:
// headers controlados por el caller no deben poder inyectar señales de
// confianza adicionales.
type ForwardedClient struct {
	Cookie        string
	UserAgent     string
	XForwardedFor string
	XRealIP       string
}

// Errores del colaborador. Las capas de arriba los traducen a la taxonomía HTTP.
var (
	// ErrInvalidKey: la key fue presentada y el motor la rechazó
	// (inexistente, expirada o revocada).
	ErrInvalidKey = errors.New("engine: invalid api key")

	// ErrRedeemDenied: el motor negó el canje (token desconocido, expirado
	// o ya usado). También cubre el caso ambiguo de transporte: si no se
	// sabe si el canje ocurrió, el bridge falla en vez de adivinar.
	ErrRedeemDenied = errors.New("engine: one-time token redemption denied")
)

// SessionService verifica la sesión del browser a partir del header Cookie.
// Devuelve (nil, nil) cuando simplemente no hay sesión válida; error solo
// ante fallas del colaborador.
type SessionService interface {
	VerifySession(ctx context.Context, cookieHeader string) (*Session, error)
}

// APIKeyVerifier verifica una API key opaca.
type APIKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (*APIKey, error)
}

// TokenBridgeService emite y canjea one-time tokens para el bridge cross-origin.
// El canje es at-most-once DENTRO del motor; este servicio nunca reintenta
// un redeem, ni siquiera ante timeout.
type TokenBridgeService interface {
	IssueToken(ctx context.Context, cookieHeader string) (string, error)
	RedeemToken(ctx context.Context, token string, fwd ForwardedClient) (*RedeemResult, error)
}

// SignOutService invalida la sesión actual en el motor.
type SignOutService interface {
	SignOut(ctx context.Context, cookieHeader string) error
}
