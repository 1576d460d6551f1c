package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/pkg/crypto"
)

// fastArgon2 keeps test runs quick; production parameters live in
// crypto.NewArgon2.
func fastArgon2() *crypto.Argon2 {
	return &crypto.Argon2{
		Memory:      1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type authFixture struct {
	service     *AuthService
	users       *FakeUserStore
	mfaSecrets  *FakeMFASecretStore
	credentials *FakeCredentialStore
	store       *FakeKV
	mfa         *MFAEngine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := NewFakeUserStore()
	mfaSecrets := NewFakeMFASecretStore()
	credentials := NewFakeCredentialStore()
	store := NewFakeKV()
	codec := NewTokenCodec(testSecret, core.TokenConfig{})
	sessions := NewSessionManager(core.SessionConfig{MaxAge: time.Hour}, store, codec, nil)
	mfa := NewMFAEngine(core.MFAConfig{}, testSecret)

	service := NewAuthService(AuthServiceDeps{
		Users:       users,
		MFASecrets:  mfaSecrets,
		Credentials: credentials,
		Store:       store,
		Sessions:    sessions,
		Codec:       codec,
		MFA:         mfa,
		Passwords:   fastArgon2(),
	})

	return &authFixture{
		service:     service,
		users:       users,
		mfaSecrets:  mfaSecrets,
		credentials: credentials,
		store:       store,
		mfa:         mfa,
	}
}

func (f *authFixture) addUser(t *testing.T, user *core.User, password string) {
	t.Helper()
	hash, err := fastArgon2().Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	f.users.Put(user, hash)
}

// enrollVerified installs a confirmed MFA enrollment and returns the
// secret plus one plaintext backup code.
func (f *authFixture) enrollVerified(t *testing.T, userID string) (string, string) {
	t.Helper()
	enrollment, err := f.mfa.Enroll("dev@example.com")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	now := time.Now()
	err = f.mfaSecrets.SaveSecret(context.Background(), &core.MFASecret{
		ID:          "mfa1",
		UserID:      userID,
		Secret:      enrollment.Secret,
		BackupCodes: enrollment.HashedCodes,
		CreatedAt:   now,
		VerifiedAt:  &now,
	})
	if err != nil {
		t.Fatalf("SaveSecret() error = %v", err)
	}
	return enrollment.Secret, enrollment.PlainCodes[0]
}

// Requirement: email+password sign-in issues a session with its token
// pair; failures never reveal whether the email or the password was
// wrong.
func TestAuthService_SignIn(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		inactive bool
		wantErr  error
	}{
		{name: "valid credentials", email: "dev@example.com", password: "correct horse battery"},
		{name: "wrong password", email: "dev@example.com", password: "nope", wantErr: core.ErrInvalidCredentials},
		{name: "unknown email", email: "ghost@example.com", password: "correct horse battery", wantErr: core.ErrInvalidCredentials},
		{name: "missing email", email: "", password: "x", wantErr: core.ErrEmailRequired},
		{name: "missing password", email: "dev@example.com", password: "", wantErr: core.ErrPasswordRequired},
		{name: "inactive user", email: "dev@example.com", password: "correct horse battery", inactive: true, wantErr: core.ErrUserInactive},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fixture := newAuthFixture(t)
			fixture.addUser(t, &core.User{
				ID:     "user123",
				Email:  "dev@example.com",
				Role:   core.RoleUser,
				Active: !test.inactive,
			}, "correct horse battery")

			result, err := fixture.service.SignIn(context.Background(), core.SignInInput{
				Email:    test.email,
				Password: test.password,
			}, "10.0.0.7", "Mozilla/5.0")

			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("SignIn() error = %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignIn() error = %v", err)
			}
			if result.AccessToken == "" || result.RefreshToken == "" {
				t.Error("token pair incomplete")
			}
			if result.Session.IPAddress != "10.0.0.7" {
				t.Errorf("IPAddress = %q, want %q", result.Session.IPAddress, "10.0.0.7")
			}
			if result.User.ID != "user123" {
				t.Errorf("User.ID = %q, want %q", result.User.ID, "user123")
			}
		})
	}
}

// Requirement: a user with MFA enabled cannot sign in on password
// alone; a valid TOTP code opens the gate.
func TestAuthService_SignInMFAGate(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true, MFAEnabled: true,
	}, "correct horse battery")
	secret, _ := fixture.enrollVerified(t, "user123")

	input := core.SignInInput{Email: "dev@example.com", Password: "correct horse battery"}

	_, err := fixture.service.SignIn(context.Background(), input, "", "")
	if !errors.Is(err, core.ErrMFARequired) {
		t.Fatalf("SignIn() without code error = %v, want ErrMFARequired", err)
	}

	input.MFACode = "000000"
	if _, err := fixture.service.SignIn(context.Background(), input, "", ""); !errors.Is(err, core.ErrInvalidMFACode) {
		t.Fatalf("SignIn() with bad code error = %v, want ErrInvalidMFACode", err)
	}

	input.MFACode = totpCodeAt(t, secret, time.Now())
	result, err := fixture.service.SignIn(context.Background(), input, "", "")
	if err != nil {
		t.Fatalf("SignIn() with TOTP error = %v", err)
	}

	// The issued access token carries the MFA-verified claim.
	claims, err := NewTokenCodec(testSecret, core.TokenConfig{}).VerifyAccessToken(result.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if !claims.MFAVerified {
		t.Error("MFAVerified claim = false after TOTP sign-in")
	}
}

// Requirement: a backup code passes the MFA gate exactly once; the
// stored set shrinks on use, and a failed shrink fails the login.
func TestAuthService_SignInBackupCode(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true, MFAEnabled: true,
	}, "correct horse battery")
	_, backupCode := fixture.enrollVerified(t, "user123")

	input := core.SignInInput{
		Email:    "dev@example.com",
		Password: "correct horse battery",
		MFACode:  backupCode,
	}

	if _, err := fixture.service.SignIn(context.Background(), input, "", ""); err != nil {
		t.Fatalf("SignIn() with backup code error = %v", err)
	}

	stored, err := fixture.mfaSecrets.GetSecret(context.Background(), "user123")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if len(stored.BackupCodes) != 9 {
		t.Errorf("len(BackupCodes) = %d after use, want 9", len(stored.BackupCodes))
	}

	// Same code again: spent.
	if _, err := fixture.service.SignIn(context.Background(), input, "", ""); !errors.Is(err, core.ErrInvalidMFACode) {
		t.Fatalf("SignIn() with spent code error = %v, want ErrInvalidMFACode", err)
	}
}

func TestAuthService_SignInBackupCodeConsumptionFailure(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true, MFAEnabled: true,
	}, "correct horse battery")
	_, backupCode := fixture.enrollVerified(t, "user123")

	fixture.mfaSecrets.updateErr = errors.New("write refused")

	_, err := fixture.service.SignIn(context.Background(), core.SignInInput{
		Email:    "dev@example.com",
		Password: "correct horse battery",
		MFACode:  backupCode,
	}, "", "")
	if err == nil {
		t.Fatal("SignIn() error = nil when backup code could not be consumed")
	}
}

// Requirement: sign-out invalidates the session; the token stops
// resolving afterwards.
func TestAuthService_SignOut(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	result, err := fixture.service.SignIn(context.Background(), core.SignInInput{
		Email: "dev@example.com", Password: "correct horse battery",
	}, "", "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	if err := fixture.service.SignOut(context.Background(), result.AccessToken); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if _, err := fixture.service.GetSession(context.Background(), result.AccessToken); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("GetSession() after sign-out error = %v, want ErrSessionNotFound", err)
	}
}

// Requirement: refresh accepts only refresh tokens and returns a
// rotated pair for the same session.
func TestAuthService_Refresh(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	signedIn, err := fixture.service.SignIn(context.Background(), core.SignInInput{
		Email: "dev@example.com", Password: "correct horse battery",
	}, "", "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	// An access token is not a refresh token.
	if _, err := fixture.service.Refresh(context.Background(), signedIn.AccessToken); !errors.Is(err, core.ErrInvalidToken) {
		t.Fatalf("Refresh(access token) error = %v, want ErrInvalidToken", err)
	}

	refreshed, err := fixture.service.Refresh(context.Background(), signedIn.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.Session.ID != signedIn.Session.ID {
		t.Errorf("session id changed: %q -> %q", signedIn.Session.ID, refreshed.Session.ID)
	}
	if refreshed.AccessToken == signedIn.AccessToken {
		t.Error("access token not rotated")
	}
}

// Requirement: GetSession resolves the token to the user and session
// pair gatekeeping attaches to requests.
func TestAuthService_GetSession(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	signedIn, err := fixture.service.SignIn(context.Background(), core.SignInInput{
		Email: "dev@example.com", Password: "correct horse battery",
	}, "", "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	data, err := fixture.service.GetSession(context.Background(), signedIn.AccessToken)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.User.ID != "user123" {
		t.Errorf("User.ID = %q, want %q", data.User.ID, "user123")
	}
	if data.Session.ID != signedIn.Session.ID {
		t.Errorf("Session.ID = %q, want %q", data.Session.ID, signedIn.Session.ID)
	}

	if _, err := fixture.service.GetSession(context.Background(), "garbage"); !errors.Is(err, core.ErrInvalidToken) {
		t.Errorf("GetSession(garbage) error = %v, want ErrInvalidToken", err)
	}
}

// Requirement: MFA enrollment returns the secret and plaintext backup
// codes once, stores only hashes, and stays pending until one code is
// proven.
func TestAuthService_MFAEnrollmentFlow(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	enrollment, err := fixture.service.EnrollMFA(context.Background(), "user123")
	if err != nil {
		t.Fatalf("EnrollMFA() error = %v", err)
	}
	if len(enrollment.BackupCodes) != 10 {
		t.Fatalf("len(BackupCodes) = %d, want 10", len(enrollment.BackupCodes))
	}

	stored, err := fixture.mfaSecrets.GetSecret(context.Background(), "user123")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if stored.VerifiedAt != nil {
		t.Error("enrollment marked verified before confirmation")
	}
	for i, hashed := range stored.BackupCodes {
		if hashed == enrollment.BackupCodes[i] {
			t.Fatal("backup code stored in plaintext")
		}
	}

	if err := fixture.service.ConfirmMFA(context.Background(), "user123", "000000"); !errors.Is(err, core.ErrInvalidMFACode) {
		t.Fatalf("ConfirmMFA(bad code) error = %v, want ErrInvalidMFACode", err)
	}

	code := totpCodeAt(t, enrollment.Secret, time.Now())
	if err := fixture.service.ConfirmMFA(context.Background(), "user123", code); err != nil {
		t.Fatalf("ConfirmMFA() error = %v", err)
	}

	stored, err = fixture.mfaSecrets.GetSecret(context.Background(), "user123")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if stored.VerifiedAt == nil {
		t.Error("enrollment not marked verified after confirmation")
	}
}

// Requirement: passkey operations without a configured relying party
// report not implemented instead of panicking.
func TestAuthService_PasskeyWithoutEngine(t *testing.T) {
	fixture := newAuthFixture(t)

	if _, err := fixture.service.BeginPasskeyRegistration(context.Background(), "user123"); !errors.Is(err, core.ErrNotImplemented) {
		t.Errorf("BeginPasskeyRegistration() error = %v, want ErrNotImplemented", err)
	}
	if _, err := fixture.service.BeginPasskeyLogin(context.Background(), "dev@example.com"); !errors.Is(err, core.ErrNotImplemented) {
		t.Errorf("BeginPasskeyLogin() error = %v, want ErrNotImplemented", err)
	}
}

// Requirement: a finish call without a pending ceremony is rejected;
// challenge state is single-use.
func TestAuthService_PasskeyCeremonyStateRequired(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	engine, err := NewWebAuthnEngine(core.WebAuthnConfig{
		RPID: "localhost", RPName: "Warden Test", RPOrigins: []string{"http://localhost:3000"},
	})
	if err != nil {
		t.Fatalf("NewWebAuthnEngine() error = %v", err)
	}
	fixture.service.webauthn = engine

	err = fixture.service.FinishPasskeyRegistration(context.Background(), "user123", "laptop", []byte("{}"))
	if !errors.Is(err, core.ErrCeremonyNotFound) {
		t.Fatalf("FinishPasskeyRegistration() error = %v, want ErrCeremonyNotFound", err)
	}

	if _, err := fixture.service.BeginPasskeyRegistration(context.Background(), "user123"); err != nil {
		t.Fatalf("BeginPasskeyRegistration() error = %v", err)
	}

	// First finish consumes the parked state even though the response is
	// garbage; the second finds nothing.
	_ = fixture.service.FinishPasskeyRegistration(context.Background(), "user123", "laptop", []byte("garbage"))
	err = fixture.service.FinishPasskeyRegistration(context.Background(), "user123", "laptop", []byte("garbage"))
	if !errors.Is(err, core.ErrCeremonyNotFound) {
		t.Errorf("second finish error = %v, want ErrCeremonyNotFound", err)
	}
}

// Requirement: a passkey login for a user with no registered
// credentials cannot begin.
func TestAuthService_PasskeyLoginNeedsCredentials(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.addUser(t, &core.User{
		ID: "user123", Email: "dev@example.com", Role: core.RoleUser, Active: true,
	}, "correct horse battery")

	engine, err := NewWebAuthnEngine(core.WebAuthnConfig{
		RPID: "localhost", RPName: "Warden Test", RPOrigins: []string{"http://localhost:3000"},
	})
	if err != nil {
		t.Fatalf("NewWebAuthnEngine() error = %v", err)
	}
	fixture.service.webauthn = engine

	if _, err := fixture.service.BeginPasskeyLogin(context.Background(), "dev@example.com"); !errors.Is(err, core.ErrCredentialNotFound) {
		t.Errorf("BeginPasskeyLogin() error = %v, want ErrCredentialNotFound", err)
	}
	if _, err := fixture.service.BeginPasskeyLogin(context.Background(), "ghost@example.com"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("BeginPasskeyLogin(unknown) error = %v, want ErrInvalidCredentials", err)
	}
}
