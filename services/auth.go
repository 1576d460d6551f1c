package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/pkg/crypto"
)

const (
	webauthnRegKeyPrefix   = "webauthn:reg:"
	webauthnLoginKeyPrefix = "webauthn:login:"
	ceremonyTTL            = 5 * time.Minute
)

// AuthService is the application-facing entry point: credential
// sign-in with the MFA gate, sign-out, token refresh, and the MFA and
// passkey enrollment flows. It composes the session manager, token
// codec and the two second-factor engines; all collaborators are
// injected.
type AuthService struct {
	users       core.UserStore
	mfaSecrets  core.MFASecretStore
	credentials core.CredentialStore
	store       core.KV
	sessions    *SessionManager
	codec       *TokenCodec
	mfa         *MFAEngine
	webauthn    *WebAuthnEngine
	passwords   crypto.PasswordHandler
	logger      *slog.Logger
}

// Ensure AuthService implements AuthHandler
var _ core.AuthHandler = (*AuthService)(nil)

type AuthServiceDeps struct {
	Users       core.UserStore
	MFASecrets  core.MFASecretStore
	Credentials core.CredentialStore
	Store       core.KV
	Sessions    *SessionManager
	Codec       *TokenCodec
	MFA         *MFAEngine
	WebAuthn    *WebAuthnEngine
	Passwords   crypto.PasswordHandler
	Logger      *slog.Logger
}

func NewAuthService(deps AuthServiceDeps) *AuthService {
	if deps.Passwords == nil {
		deps.Passwords = crypto.NewArgon2()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &AuthService{
		users:       deps.Users,
		mfaSecrets:  deps.MFASecrets,
		credentials: deps.Credentials,
		store:       deps.Store,
		sessions:    deps.Sessions,
		codec:       deps.Codec,
		mfa:         deps.MFA,
		webauthn:    deps.WebAuthn,
		passwords:   deps.Passwords,
		logger:      deps.Logger,
	}
}

// SignIn authenticates email+password, applies the MFA gate, and
// issues a session with its token pair.
func (s *AuthService) SignIn(ctx context.Context, input core.SignInInput, ipAddress, userAgent string) (*core.SignInResult, error) {
	if input.Email == "" {
		return nil, core.ErrEmailRequired
	}
	if input.Password == "" {
		return nil, core.ErrPasswordRequired
	}

	user, err := s.users.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.Active {
		return nil, core.ErrUserInactive
	}

	hash, err := s.users.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get password hash: %w", err)
	}
	valid, err := s.passwords.Verify(input.Password, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, core.ErrInvalidCredentials
	}

	mfaVerified := false
	if user.MFAEnabled {
		if input.MFACode == "" {
			return nil, core.ErrMFARequired
		}
		if err := s.checkMFACode(ctx, user.ID, input.MFACode); err != nil {
			return nil, err
		}
		mfaVerified = true
	}

	result, err := s.sessions.Create(ctx, user, CreateOptions{
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		MFAVerified: mfaVerified,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed in", "user_id", user.ID, "session_id", result.Session.ID, "mfa", mfaVerified)

	return &core.SignInResult{
		User:         user,
		Session:      result.Session,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, nil
}

// checkMFACode accepts a TOTP code or an unused backup code. A spent
// backup code is removed from the stored set before the gate opens, so
// it can never verify twice.
func (s *AuthService) checkMFACode(ctx context.Context, userID, code string) error {
	if s.mfaSecrets == nil {
		return core.ErrMFANotEnrolled
	}

	secret, err := s.mfaSecrets.GetSecret(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load mfa secret: %w", err)
	}
	if secret == nil || secret.VerifiedAt == nil {
		return core.ErrMFANotEnrolled
	}

	if s.mfa.VerifyTOTP(code, secret.Secret) {
		return nil
	}

	if s.mfa.VerifyBackupCode(code, secret.BackupCodes) {
		spent := s.mfa.HashBackupCode(code)
		remaining := make([]string, 0, len(secret.BackupCodes)-1)
		for _, h := range secret.BackupCodes {
			if h != spent {
				remaining = append(remaining, h)
			}
		}
		if err := s.mfaSecrets.UpdateBackupCodes(ctx, userID, remaining); err != nil {
			// The code must not remain spendable; refuse the login
			// rather than accept a replayable factor.
			return fmt.Errorf("failed to consume backup code: %w", err)
		}
		s.logger.Info("backup code consumed", "user_id", userID, "remaining", len(remaining))
		return nil
	}

	return core.ErrInvalidMFACode
}

// SignOut invalidates the session named by the token.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	claims, err := s.codec.VerifyAccessToken(token)
	if err != nil {
		return core.ErrInvalidToken
	}
	if _, err := s.sessions.Invalidate(ctx, claims.SessionID); err != nil {
		return err
	}
	return nil
}

// SignOutEverywhere invalidates every session the user owns.
func (s *AuthService) SignOutEverywhere(ctx context.Context, userID string) (int, error) {
	return s.sessions.InvalidateAllForUser(ctx, userID)
}

// Refresh exchanges a valid refresh token for a rotated pair on the
// same session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*core.RefreshResult, error) {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, core.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.Active {
		return nil, core.ErrUserInactive
	}

	return s.sessions.Refresh(ctx, claims.SessionID, user)
}

// GetSession validates a token and returns the resolved user and
// session, the shape gatekeeping attaches to requests.
func (s *AuthService) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	result, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err // store unavailable
	}
	if !result.Valid {
		return nil, result.Err
	}

	user, err := s.users.GetUserByID(ctx, result.Session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return &core.SessionData{User: user, Session: result.Session}, nil
}

// EnrollMFA generates a TOTP enrollment for the user and stores it
// unverified. The plaintext backup codes appear only in the returned
// value; the stored set is one-way hashed.
func (s *AuthService) EnrollMFA(ctx context.Context, userID string) (*core.MFAEnrollment, error) {
	if s.mfaSecrets == nil {
		return nil, core.ErrNotImplemented
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	enrollment, err := s.mfa.Enroll(user.Email)
	if err != nil {
		return nil, err
	}

	secret := &core.MFASecret{
		ID:          uuid.NewString(),
		UserID:      userID,
		Secret:      enrollment.Secret,
		BackupCodes: enrollment.HashedCodes,
		CreatedAt:   time.Now(),
	}
	if err := s.mfaSecrets.SaveSecret(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to store mfa secret: %w", err)
	}

	return &core.MFAEnrollment{
		Secret:      enrollment.Secret,
		QRCodeURL:   enrollment.QRCodeURL,
		BackupCodes: enrollment.PlainCodes,
	}, nil
}

// ConfirmMFA completes enrollment by proving one valid code against the
// pending secret.
func (s *AuthService) ConfirmMFA(ctx context.Context, userID, code string) error {
	if s.mfaSecrets == nil {
		return core.ErrNotImplemented
	}

	secret, err := s.mfaSecrets.GetSecret(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load mfa secret: %w", err)
	}
	if secret == nil {
		return core.ErrMFANotEnrolled
	}
	if !s.mfa.VerifyTOTP(code, secret.Secret) {
		return core.ErrInvalidMFACode
	}
	if err := s.mfaSecrets.MarkVerified(ctx, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark enrollment verified: %w", err)
	}
	s.logger.Info("mfa enrollment confirmed", "user_id", userID)
	return nil
}

// BeginPasskeyRegistration starts a credential registration ceremony,
// parking the challenge state in the KV store until the finish call.
func (s *AuthService) BeginPasskeyRegistration(ctx context.Context, userID string) (json.RawMessage, error) {
	if s.webauthn == nil || s.credentials == nil {
		return nil, core.ErrNotImplemented
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	existing, err := s.credentials.GetCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	options, state, err := s.webauthn.StartRegistration(user, existing)
	if err != nil {
		return nil, err
	}

	if err := s.putCeremonyState(ctx, webauthnRegKeyPrefix+userID, state); err != nil {
		return nil, err
	}
	return json.Marshal(options)
}

// FinishPasskeyRegistration verifies the authenticator response and
// stores the new credential under the given friendly name.
func (s *AuthService) FinishPasskeyRegistration(ctx context.Context, userID, name string, response []byte) error {
	if s.webauthn == nil || s.credentials == nil {
		return core.ErrNotImplemented
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	state, err := s.takeCeremonyState(ctx, webauthnRegKeyPrefix+userID)
	if err != nil {
		return err
	}

	result, err := s.webauthn.FinishRegistration(user, *state, response)
	if err != nil {
		return err // malformed response
	}
	if !result.Verified {
		return core.ErrVerificationFailed
	}

	cred := &core.WebAuthnCredential{
		ID:           uuid.NewString(),
		UserID:       userID,
		CredentialID: result.CredentialID,
		PublicKey:    result.PublicKey,
		SignCount:    result.SignCount,
		Name:         name,
		CreatedAt:    time.Now(),
	}
	if err := s.credentials.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	s.logger.Info("passkey registered", "user_id", userID, "credential_id", cred.CredentialID)
	return nil
}

// BeginPasskeyLogin starts an authentication ceremony for the user's
// registered credentials.
func (s *AuthService) BeginPasskeyLogin(ctx context.Context, email string) (json.RawMessage, error) {
	if s.webauthn == nil || s.credentials == nil {
		return nil, core.ErrNotImplemented
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	existing, err := s.credentials.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if len(existing) == 0 {
		return nil, core.ErrCredentialNotFound
	}

	options, state, err := s.webauthn.StartAuthentication(user, existing)
	if err != nil {
		return nil, err
	}

	if err := s.putCeremonyState(ctx, webauthnLoginKeyPrefix+user.ID, state); err != nil {
		return nil, err
	}
	return json.Marshal(options)
}

// FinishPasskeyLogin verifies the assertion, persists the advanced
// counter, and issues a session. A passkey login counts as
// MFA-verified: possession plus local user verification.
func (s *AuthService) FinishPasskeyLogin(ctx context.Context, email string, response []byte, ipAddress, userAgent string) (*core.SignInResult, error) {
	if s.webauthn == nil || s.credentials == nil {
		return nil, core.ErrNotImplemented
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.Active {
		return nil, core.ErrUserInactive
	}

	state, err := s.takeCeremonyState(ctx, webauthnLoginKeyPrefix+user.ID)
	if err != nil {
		return nil, err
	}

	credential, err := s.matchAssertedCredential(ctx, user.ID, response)
	if err != nil {
		return nil, err
	}

	result, err := s.webauthn.FinishAuthentication(user, *state, credential, response)
	if err != nil {
		return nil, err
	}
	if !result.Verified {
		return nil, core.ErrInvalidCredentials
	}

	if err := s.credentials.UpdateSignCount(ctx, credential.CredentialID, result.NewSignCount, time.Now()); err != nil {
		// The replay window must not reopen; fail the login instead.
		return nil, fmt.Errorf("failed to persist credential counter: %w", err)
	}

	sessionResult, err := s.sessions.Create(ctx, user, CreateOptions{
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		MFAVerified: true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("passkey sign-in", "user_id", user.ID, "credential_id", credential.CredentialID)

	return &core.SignInResult{
		User:         user,
		Session:      sessionResult.Session,
		AccessToken:  sessionResult.AccessToken,
		RefreshToken: sessionResult.RefreshToken,
	}, nil
}

// matchAssertedCredential resolves which stored credential the
// assertion claims to be from, without trusting anything but its id.
func (s *AuthService) matchAssertedCredential(ctx context.Context, userID string, response []byte) (*core.WebAuthnCredential, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &envelope); err != nil || envelope.ID == "" {
		return nil, fmt.Errorf("%w: missing credential id", core.ErrMalformedAttestation)
	}

	credential, err := s.credentials.GetCredential(ctx, envelope.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if credential == nil || credential.UserID != userID {
		return nil, core.ErrCredentialNotFound
	}
	return credential, nil
}

func (s *AuthService) putCeremonyState(ctx context.Context, key string, state *CeremonyState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode ceremony state: %w", err)
	}
	if err := s.store.Set(ctx, key, string(raw), ceremonyTTL); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// takeCeremonyState consumes the parked state: one challenge, one
// finish attempt.
func (s *AuthService) takeCeremonyState(ctx context.Context, key string) (*CeremonyState, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, core.ErrCeremonyNotFound
		}
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	_, _ = s.store.Delete(ctx, key)

	var state CeremonyState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("%w: unreadable ceremony state", core.ErrMalformedAttestation)
	}
	return &state, nil
}
