package core

import "time"

// Role is the coarse role assigned to a user. Policies may match on it
// in addition to the user's id.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// User is the identity resolved for a request.
//
// The user record is owned by the external user store; warden reads it
// and never writes it.
type User struct {
	ID              string         `json:"id"`
	Email           string         `json:"email"`
	Name            string         `json:"name"`
	Role            Role           `json:"role"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	Active          bool           `json:"active"`
	MFAEnabled      bool           `json:"mfaEnabled"`
	WebAuthnEnabled bool           `json:"webauthnEnabled"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Session represents one authenticated device/browser lineage.
//
// A session is valid only while Active is true and ExpiresAt is in the
// future. The session manager is the sole mutator; everything else
// treats sessions as read-only.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Token          string    `json:"-"` // current access token, never exposed in JSON
	IPAddress      string    `json:"ipAddress"`
	UserAgent      string    `json:"userAgent"`
	Active         bool      `json:"active"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// MFASecret holds a user's TOTP enrollment: the shared secret and the
// still-unused backup codes in their hashed form. Written once at
// enrollment; backup codes are removed one at a time as they are spent.
type MFASecret struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Secret      string     `json:"-"` // base32, never exposed in JSON
	BackupCodes []string   `json:"-"` // HMAC digests of unused codes
	CreatedAt   time.Time  `json:"createdAt"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"` // nil until enrollment is proven
}

// WebAuthnCredential is a registered authenticator public key.
//
// SignCount is the anti-replay counter: any successful authentication
// must report a strictly greater value, unless the authenticator does
// not count (value pinned at 0).
type WebAuthnCredential struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	CredentialID string     `json:"credentialId"` // base64url
	PublicKey    string     `json:"-"`            // base64, never exposed in JSON
	SignCount    uint32     `json:"signCount"`
	Name         string     `json:"name"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// Effect is the outcome a policy contributes when it applies.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Operator compares a context attribute against a policy condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// Condition is one attribute check within a policy. Attribute is a
// dot-separated path prefixed by its namespace: "user.", "resource."
// or "env."; an unprefixed path is looked up against the whole context.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     any      `json:"value"`
}

// Policy maps (subject, resource, action, conditions) to an effect.
//
// Subject matches a user id or a role exactly; it does not take
// wildcards. Resource and Action may be "*" or contain "*" globs.
// All conditions must hold for the policy to apply.
type Policy struct {
	ID         string      `json:"id"`
	Subject    string      `json:"subject"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Effect     Effect      `json:"effect"`
	Conditions []Condition `json:"conditions,omitempty"`
}

/// Permission is one entry of a user's capability listing: a policy that
// matched the user, flattened. Its presence is not an authorization.
type Permission struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// SessionConfig bounds the session lifecycle.
type SessionConfig struct {
	// MaxAge is the absolute session lifetime, fixed at creation.
	// Refresh rotates tokens but never extends it.
	MaxAge time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{MaxAge: 7 * 24 * time.Hour}
}

// TokenConfig parameterizes the token codec.
type TokenConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:     "warden",
		Audience:   "warden:portal",
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// MFAConfig parameterizes TOTP enrollment.
type MFAConfig struct {
	Issuer          string // shown in authenticator apps
	BackupCodeCount int
}

func DefaultMFAConfig() MFAConfig {
	return MFAConfig{Issuer: "warden", BackupCodeCount: 10}
}

// WebAuthnConfig identifies the relying party.
type WebAuthnConfig struct {
	RPID      string
	RPName    string
	RPOrigins []string
}

// CacheStats are simple counters for the in-memory store.
// These are intended for diagnostics and monitoring.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}
