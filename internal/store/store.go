// Package store define el contrato de lectura sobre el almacén relacional
// del motor de credenciales. Este subsistema solo LEE membership/organización;
// la escritura es del motor.
package store

import (
	"context"
	"errors"
	"time"
)

// Role es el rol de un usuario dentro de una organización.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Elevated indica si el rol habilita operaciones administrativas
// (p.ej. aplicar migraciones de tenant).
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Membership es la relación (organización, usuario, rol).
type Membership struct {
	OrganizationID   string
	OrganizationSlug string
	UserID           string
	Role             Role
	MemberSince      time.Time
}

// Organization es la vista de una organización para listados por usuario.
type Organization struct {
	ID          string
	Name        string
	Slug        string
	Logo        *string
	Metadata    *string
	CreatedAt   time.Time
	Role        Role
	MemberSince time.Time
}

// Member es un integrante de una organización.
type Member struct {
	UserID      string
	Email       string
	Name        string
	Role        Role
	MemberSince time.Time
}

// User es la vista mínima del dueño de una credencial.
type User struct {
	ID    string
	Email string
	Name  string
}

// Errores del almacén.
var (
	// ErrNotFound: no existe la fila pedida. Para membership, la ausencia
	// es una denegación dura (nunca un rol default).
	ErrNotFound = errors.New("store: not found")

	// ErrInvariant: el almacén devolvió algo que viola una invariante del
	// modelo (p.ej. membership duplicada para un (org, user)).
	ErrInvariant = errors.New("store: invariant violation")
)

// MembershipStore lee membership y organizaciones. Sin caching en ninguna
// implementación: los roles pueden cambiar entre requests y una autorización
// stale no se sirve jamás.
type MembershipStore interface {
	// GetMembership hace el join (member ⋈ organization) para un usuario y
	// un slug. ErrNotFound si no hay fila; ErrInvariant si hay más de una.
	GetMembership(ctx context.Context, userID, slug string) (*Membership, error)

	// ListUserOrganizations lista todas las organizaciones del usuario.
	ListUserOrganizations(ctx context.Context, userID string) ([]Organization, error)

	// ListOrganizationMembers lista los integrantes de una organización.
	ListOrganizationMembers(ctx context.Context, organizationID string) ([]Member, error)
}

// UserStore lee usuarios. Separado de MembershipStore para que el
// autorizador no dependa de más de lo que usa.
type UserStore interface {
	// GetUser devuelve el usuario o ErrNotFound.
	GetUser(ctx context.Context, userID string) (*User, error)
}
