package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jmfrees/warden/core"
)

func (a *Adapter) GetSecret(ctx context.Context, userID string) (*core.MFASecret, error) {
	q := `SELECT id, user_id, secret, backup_codes, created_at, verified_at FROM public.mfa_secrets WHERE user_id = $1`

	secret := &core.MFASecret{}
	err := a.pool.QueryRow(ctx, q, userID).Scan(
		&secret.ID, &secret.UserID, &secret.Secret, &secret.BackupCodes,
		&secret.CreatedAt, &secret.VerifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrMFANotEnrolled
		}
		return nil, err
	}
	return secret, nil
}

// SaveSecret upserts on user_id: re-enrolling replaces the previous
// secret and resets verification.
func (a *Adapter) SaveSecret(ctx context.Context, secret *core.MFASecret) error {
	q := `INSERT INTO public.mfa_secrets (id, user_id, secret, backup_codes, created_at, verified_at)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (user_id) DO UPDATE SET
	        id = EXCLUDED.id,
	        secret = EXCLUDED.secret,
	        backup_codes = EXCLUDED.backup_codes,
	        created_at = EXCLUDED.created_at,
	        verified_at = EXCLUDED.verified_at`

	_, err := a.pool.Exec(ctx, q,
		secret.ID, secret.UserID, secret.Secret, secret.BackupCodes,
		secret.CreatedAt, secret.VerifiedAt,
	)
	return err
}

func (a *Adapter) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	q := `UPDATE public.mfa_secrets SET verified_at = $1 WHERE user_id = $2`

	tag, err := a.pool.Exec(ctx, q, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrMFANotEnrolled
	}
	return nil
}

func (a *Adapter) UpdateBackupCodes(ctx context.Context, userID string, remaining []string) error {
	q := `UPDATE public.mfa_secrets SET backup_codes = $1 WHERE user_id = $2`

	tag, err := a.pool.Exec(ctx, q, remaining, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrMFANotEnrolled
	}
	return nil
}

func (a *Adapter) DeleteSecret(ctx context.Context, userID string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM public.mfa_secrets WHERE user_id = $1`, userID)
	return err
}
