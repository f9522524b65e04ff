// Package errors define la taxonomía de errores del servicio y su
// serialización HTTP. El sobre público es siempre {"error": <string>}:
// nunca exponemos stack traces ni identificadores internos.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError es el resultado tipado que cruzan los bordes de componente.
// Los handlers lo traducen a HTTP; las capas internas nunca devuelven
// errores genéricos sin clasificar hacia arriba.
type AppError struct {
	Kind       string // identificador estable de la categoría
	Message    string // mensaje público (va en el body)
	HTTPStatus int    // status asociado, no se serializa
	Err        error  // causa original, solo para logs
}

// Error implementa la interfaz error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap permite acceder al error original.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMessage devuelve una COPIA con otro mensaje público.
// No muta los sentinels globales.
func (e *AppError) WithMessage(msg string) *AppError {
	n := *e
	n.Message = msg
	return &n
}

// WithMessagef es WithMessage con formato.
func (e *AppError) WithMessagef(format string, args ...any) *AppError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithCause devuelve una COPIA con la causa original adjunta.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

// Is hace que errors.Is matchee por categoría, ignorando mensaje y causa.
// Así los tests y callers pueden comparar contra los sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Kind == e.Kind
}

// FromError clasifica un error genérico. Si no es un AppError conocido,
// se trata como fallo interno conservando la causa para logs.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// =================================================================================
// SENTINELS: la taxonomía completa del subsistema
// =================================================================================

var (
	// ErrBadRequest: input malformado o faltante. Nunca se reintenta.
	ErrBadRequest = &AppError{
		Kind:       "bad_request",
		Message:    "Bad request",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrUnauthenticated: ninguna credencial utilizable presente.
	ErrUnauthenticated = &AppError{
		Kind:       "unauthenticated",
		Message:    "Unauthorized",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrInvalidCredential: credencial presente pero rechazada
	// (expirada, revocada, token ya usado).
	ErrInvalidCredential = &AppError{
		Kind:       "invalid_credential",
		Message:    "Unauthorized",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrForbidden: autenticado pero sin derecho sobre el recurso.
	ErrForbidden = &AppError{
		Kind:       "forbidden",
		Message:    "Forbidden",
		HTTPStatus: http.StatusForbidden,
	}

	// ErrNotConfigured: falta una dependencia downstream requerida.
	ErrNotConfigured = &AppError{
		Kind:       "not_configured",
		Message:    "Service not configured",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrInternal: fallo inesperado de un colaborador.
	ErrInternal = &AppError{
		Kind:       "internal",
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// =================================================================================
// SERIALIZACIÓN
// =================================================================================

type envelope struct {
	Error string `json:"error"`
}

// WriteError escribe la respuesta HTTP para un error.
// Solo el mensaje público llega al cliente; la causa queda para el logging.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(envelope{Error: appErr.Message})
}
