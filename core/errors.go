package core

import "errors"

// Token and session validation outcomes. These are expected failures:
// they are returned, matched with errors.Is, and mapped to HTTP status
// codes at the gatekeeping boundary.
var (
	ErrInvalidToken    = errors.New("invalid token")       // 401
	ErrSessionNotFound = errors.New("session not found")   // 401
	ErrSessionInactive = errors.New("session is inactive") // 401
	ErrSessionExpired  = errors.New("session expired")     // 401
)

// ErrStoreUnavailable marks an infrastructure failure of the session
// store. It is deliberately distinct from ErrSessionNotFound: an
// unreachable store is not an invalid session.
var ErrStoreUnavailable = errors.New("session store unavailable") // 503

// ErrKeyNotFound is returned by KV implementations for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Credential and account errors.
var (
	ErrUserNotFound       = errors.New("user not found")            // 401
	ErrUserInactive       = errors.New("user account is inactive")  // 401
	ErrInvalidCredentials = errors.New("invalid email or password") // 401
)

// Authorization and MFA errors.
var (
	ErrInsufficientPermission = errors.New("insufficient permission")     // 403
	ErrMFARequired            = errors.New("mfa verification required")   // 403
	ErrInvalidMFACode         = errors.New("invalid mfa code")            // 401
	ErrMFANotEnrolled         = errors.New("mfa enrollment not found")    // 400
	ErrCredentialNotFound     = errors.New("webauthn credential unknown") // 404
	ErrCeremonyNotFound       = errors.New("webauthn ceremony not found or expired") // 400
	ErrVerificationFailed     = errors.New("webauthn verification failed")           // 400
)

// ErrMalformedAttestation marks a WebAuthn response that could not be
// parsed at all. A well-formed response that merely fails verification
// is not an error; it yields Verified=false.
var ErrMalformedAttestation = errors.New("malformed webauthn response") // 400

// Request validation errors (client input).
var (
	ErrMissingAuthToken  = errors.New("missing authentication token")                            // 401
	ErrInvalidAuthHeader = errors.New("invalid authorization format, expected 'Bearer <token>'") // 401
	ErrEmailRequired     = errors.New("email is required")                                       // 400
	ErrPasswordRequired  = errors.New("password is required")                                    // 400
)

// Config errors (server-side configuration).
var (
	ErrSecretRequired    = errors.New("secret is required")       // 500
	ErrSecretTooShort    = errors.New("secret too short")         // 500
	ErrStoreRequired     = errors.New("session store is required")
	ErrUserStoreRequired = errors.New("user store is required")
)

var ErrNotImplemented = errors.New("not implemented") // 501
