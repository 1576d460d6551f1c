package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// SESSION STORE PORT
// ============================================

// KV is the expiring key-value backend sessions live in. Redis in
// production, the in-memory implementation in tests and small
// deployments.
//
// Get returns ErrKeyNotFound for absent keys. Infrastructure failures
// must be returned as other errors so callers can tell the two apart.
// Operations are atomic per key; no cross-key transaction is assumed.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns keys matching a glob pattern such as "session:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// ============================================
// STORAGE PORTS (Database operations)
// ============================================

// UserStore is the read-only boundary to the external user system.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetPasswordHash returns the stored argon2id hash for a user.
	GetPasswordHash(ctx context.Context, userID string) (string, error)
}

// MFASecretStore persists TOTP enrollments.
type MFASecretStore interface {
	GetSecret(ctx context.Context, userID string) (*MFASecret, error)
	SaveSecret(ctx context.Context, secret *MFASecret) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
	// UpdateBackupCodes replaces the unused-code set after one is spent.
	UpdateBackupCodes(ctx context.Context, userID string, remaining []string) error
	DeleteSecret(ctx context.Context, userID string) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, userID string) ([]*WebAuthnCredential, error)
	GetCredential(ctx context.Context, credentialID string) (*WebAuthnCredential, error)
	SaveCredential(ctx context.Context, cred *WebAuthnCredential) error
	// UpdateSignCount must be called after every successful
	// authentication; skipping it reopens the replay window.
	UpdateSignCount(ctx context.Context, credentialID string, count uint32, usedAt time.Time) error
	DeleteCredential(ctx context.Context, credentialID string) error
}

// ============================================
// HTTP PORT
// ============================================

type HTTPAdapter interface {
	RegisterRoutes(handler AuthHandler, basePath string) error
}

// Authorizer is the policy decision point consumed by gatekeeping
// middleware.
type Authorizer interface {
	Evaluate(user *User, resource, action string, resourceAttrs, envAttrs map[string]any) bool
}
