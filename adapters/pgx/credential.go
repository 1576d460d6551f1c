package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jmfrees/warden/core"
)

const credentialColumns = `id, user_id, credential_id, public_key, sign_count, name, created_at, last_used_at`

func (a *Adapter) GetCredentials(ctx context.Context, userID string) ([]*core.WebAuthnCredential, error) {
	q := `SELECT ` + credentialColumns + ` FROM public.webauthn_credentials WHERE user_id = $1 ORDER BY created_at`

	rows, err := a.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*core.WebAuthnCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (a *Adapter) GetCredential(ctx context.Context, credentialID string) (*core.WebAuthnCredential, error) {
	q := `SELECT ` + credentialColumns + ` FROM public.webauthn_credentials WHERE credential_id = $1`

	cred, err := scanCredential(a.pool.QueryRow(ctx, q, credentialID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrCredentialNotFound
		}
		return nil, err
	}
	return cred, nil
}

func (a *Adapter) SaveCredential(ctx context.Context, cred *core.WebAuthnCredential) error {
	q := `INSERT INTO public.webauthn_credentials (id, user_id, credential_id, public_key, sign_count, name, created_at, last_used_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := a.pool.Exec(ctx, q,
		cred.ID, cred.UserID, cred.CredentialID, cred.PublicKey,
		cred.SignCount, cred.Name, cred.CreatedAt, cred.LastUsedAt,
	)
	return err
}

func (a *Adapter) UpdateSignCount(ctx context.Context, credentialID string, count uint32, usedAt time.Time) error {
	q := `UPDATE public.webauthn_credentials SET sign_count = $1, last_used_at = $2 WHERE credential_id = $3`

	tag, err := a.pool.Exec(ctx, q, count, usedAt, credentialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

func (a *Adapter) DeleteCredential(ctx context.Context, credentialID string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM public.webauthn_credentials WHERE credential_id = $1`, credentialID)
	return err
}

func scanCredential(row pgx.Row) (*core.WebAuthnCredential, error) {
	cred := &core.WebAuthnCredential{}
	err := row.Scan(
		&cred.ID, &cred.UserID, &cred.CredentialID, &cred.PublicKey,
		&cred.SignCount, &cred.Name, &cred.CreatedAt, &cred.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return cred, nil
}
