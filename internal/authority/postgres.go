package authority

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresAuthority implements AuthorityPort and RegistryPort over the
// shared access-control tables. Both are plain lookups; caching is the
// ModuleCache's job.
type PostgresAuthority struct {
	db *sql.DB
}

func NewPostgresAuthority(db *sql.DB) *PostgresAuthority {
	return &PostgresAuthority{db: db}
}

func (pa *PostgresAuthority) HasRole(ctx context.Context, action Action, identity Identity) (bool, error) {
	var exists bool
	err := pa.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM access.role_grants WHERE action = $1 AND identity = $2
		)`, string(action), string(identity),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("role lookup %s/%s: %w", action, identity, err)
	}
	return exists, nil
}

func (pa *PostgresAuthority) Resolve(ctx context.Context, logicalKey string) (Identity, error) {
	var identity string
	err := pa.db.QueryRowContext(ctx,
		`SELECT identity FROM access.module_registry WHERE logical_key = $1`,
		logicalKey,
	).Scan(&identity)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("module %s not registered", logicalKey)
	}
	if err != nil {
		return "", fmt.Errorf("registry lookup %s: %w", logicalKey, err)
	}
	return Identity(identity), nil
}
