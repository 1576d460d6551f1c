package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jmfrees/warden/core"
)

const userColumns = `id, email, name, role, attributes, active, mfa_enabled, webauthn_enabled, created_at, updated_at`

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM public.users WHERE id = $1`
	return a.scanUser(a.pool.QueryRow(ctx, q, id))
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	q := `SELECT ` + userColumns + ` FROM public.users WHERE email = $1`
	return a.scanUser(a.pool.QueryRow(ctx, q, email))
}

func (a *Adapter) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	q := `SELECT password_hash FROM public.users WHERE id = $1`

	var hash string
	err := a.pool.QueryRow(ctx, q, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.ErrUserNotFound
		}
		return "", err
	}
	return hash, nil
}

func (a *Adapter) scanUser(row pgx.Row) (*core.User, error) {
	user := &core.User{}
	var role string
	// attributes is a jsonb column; pgx decodes it into the map directly.
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &role, &user.Attributes,
		&user.Active, &user.MFAEnabled, &user.WebAuthnEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	user.Role = core.Role(role)
	return user, nil
}
