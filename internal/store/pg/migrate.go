package pg

import (
	"context"
	"fmt"
)

// migration es un paso idempotente del esquema de lectura del tenant.
type migration struct {
	name string
	sql  string
}

// El orden importa: member referencia a organization y app_user.
var migrations = []migration{
	{
		name: "0001_app_user",
		sql: `
CREATE TABLE IF NOT EXISTS app_user (
    id         TEXT PRIMARY KEY,
    email      TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		name: "0002_organization",
		sql: `
CREATE TABLE IF NOT EXISTS organization (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    slug       TEXT NOT NULL UNIQUE,
    logo       TEXT,
    metadata   TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		name: "0003_member",
		sql: `
CREATE TABLE IF NOT EXISTS member (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
    user_id         TEXT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    role            TEXT NOT NULL DEFAULT 'member',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		name: "0004_member_org_user_unique",
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS member_org_user_unique
    ON member (organization_id, user_id);`,
	},
	{
		name: "0005_organization_slug_idx",
		sql: `
CREATE INDEX IF NOT EXISTS organization_slug_idx ON organization (slug);`,
	},
}

// ApplyMigrations ejecuta los pasos de esquema en una transacción y devuelve
// los nombres aplicados. Todos los pasos son idempotentes, así que repetir la
// llamada es seguro.
func (s *Store) ApplyMigrations(ctx context.Context, tenant string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migrations: %w", err)
	}
	defer tx.Rollback(ctx)

	applied := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return nil, fmt.Errorf("migration %s (tenant %s): %w", m.name, tenant, err)
		}
		applied = append(applied, m.name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	return applied, nil
}
