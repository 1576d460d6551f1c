package core

import (
	"context"
	"encoding/json"
)

// SignInInput contains the credentials for authentication. MFACode is
// required when the user has MFA enabled; it may be a TOTP code or an
// unused backup code.
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfaCode,omitempty"`
}

// SignInResult contains the authenticated user, their session, and the
// token pair for it.
type SignInResult struct {
	User         *User    `json:"user"`
	Session      *Session `json:"session"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

// RefreshResult carries the rotated token pair for an existing session.
type RefreshResult struct {
	Session      *Session `json:"session"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

// SessionData combines user and session info.
// The model returned to clients and attached to requests.
type SessionData struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// MFAEnrollment is returned once, at enrollment time. The secret and
// the plaintext backup codes are never recoverable afterwards.
type MFAEnrollment struct {
	Secret      string   `json:"secret"`
	QRCodeURL   string   `json:"qrCodeUrl"`
	BackupCodes []string `json:"backupCodes"`
}

// AuthHandler provides authentication operations for HTTP adapters.
//
// Passkey ceremony options are returned pre-marshalled: adapters write
// them to the wire as-is.
type AuthHandler interface {
	SignIn(ctx context.Context, input SignInInput, ipAddress, userAgent string) (*SignInResult, error)
	SignOut(ctx context.Context, token string) error
	SignOutEverywhere(ctx context.Context, userID string) (int, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
	GetSession(ctx context.Context, token string) (*SessionData, error)

	EnrollMFA(ctx context.Context, userID string) (*MFAEnrollment, error)
	ConfirmMFA(ctx context.Context, userID, code string) error

	BeginPasskeyRegistration(ctx context.Context, userID string) (json.RawMessage, error)
	FinishPasskeyRegistration(ctx context.Context, userID, name string, response []byte) error
	BeginPasskeyLogin(ctx context.Context, email string) (json.RawMessage, error)
	FinishPasskeyLogin(ctx context.Context, email string, response []byte, ipAddress, userAgent string) (*SignInResult, error)
}
