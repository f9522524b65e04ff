// Package pg implementa store.MembershipStore para PostgreSQL vía pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capy-town/capyauth/internal/store"
)

// Store lee membership desde el Postgres del motor de credenciales.
type Store struct {
	pool *pgxpool.Pool
}

// Config afina el pool; los ceros usan defaults conservadores.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// New abre el pool y verifica conectividad.
func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	// MaxIdleConns se mapea a MinConns en pgxpool
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool interno (metrics/readyz).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// GetMembership: un solo join por request, sin cache.
// Cero filas => store.ErrNotFound. Más de una => store.ErrInvariant:
// membership es única por (org, user) y un duplicado es corrupción de datos.
func (s *Store) GetMembership(ctx context.Context, userID, slug string) (*store.Membership, error) {
	const q = `
SELECT m.organization_id, o.slug, m.user_id, m.role, m.created_at
FROM member m
JOIN organization o ON o.id = m.organization_id
WHERE m.user_id = $1 AND o.slug = $2;`

	rows, err := s.pool.Query(ctx, q, userID, slug)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	defer rows.Close()

	var out *store.Membership
	for rows.Next() {
		if out != nil {
			return nil, store.ErrInvariant
		}
		var m store.Membership
		var role string
		if err := rows.Scan(&m.OrganizationID, &m.OrganizationSlug, &m.UserID, &role, &m.MemberSince); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = store.Role(role)
		out = &m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if out == nil {
		return nil, store.ErrNotFound
	}
	return out, nil
}

// ListUserOrganizations lista organizaciones con el rol del usuario en cada una.
func (s *Store) ListUserOrganizations(ctx context.Context, userID string) ([]store.Organization, error) {
	const q = `
SELECT o.id, o.name, o.slug, o.logo, o.metadata, o.created_at, m.role, m.created_at
FROM member m
JOIN organization o ON o.id = m.organization_id
WHERE m.user_id = $1
ORDER BY o.slug;`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list user orgs: %w", err)
	}
	defer rows.Close()

	var out []store.Organization
	for rows.Next() {
		var o store.Organization
		var role string
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.Logo, &o.Metadata, &o.CreatedAt, &role, &o.MemberSince); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		o.Role = store.Role(role)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOrganizationMembers lista integrantes con email/nombre del usuario.
func (s *Store) ListOrganizationMembers(ctx context.Context, organizationID string) ([]store.Member, error) {
	const q = `
SELECT m.user_id, u.email, u.name, m.role, m.created_at
FROM member m
JOIN app_user u ON u.id = m.user_id
WHERE m.organization_id = $1
ORDER BY m.created_at;`

	rows, err := s.pool.Query(ctx, q, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []store.Member
	for rows.Next() {
		var m store.Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Email, &m.Name, &role, &m.MemberSince); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = store.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetUser devuelve la vista mínima del usuario.
func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	const q = `SELECT id, email, name FROM app_user WHERE id = $1;`

	var u store.User
	err := s.pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Checks de interfaz en compile-time.
var (
	_ store.MembershipStore = (*Store)(nil)
	_ store.UserStore       = (*Store)(nil)
)
