// Package pgx provides PostgreSQL-backed stores for users, MFA secrets
// and WebAuthn credentials. See schema.sql for the expected tables.
package pgx

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmfrees/warden/core"
)

type Adapter struct {
	pool *pgxpool.Pool
}

var (
	_ core.UserStore       = (*Adapter)(nil)
	_ core.MFASecretStore  = (*Adapter)(nil)
	_ core.CredentialStore = (*Adapter)(nil)
)

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool: pool,
	}
}
