// Package warden is the authentication and authorization core for the
// portal: sessions over an expiring KV store, a JWT token codec, an
// attribute-based policy engine, TOTP+backup-code MFA, and WebAuthn
// passkeys, with adapters for Fiber, Redis and PostgreSQL.
package warden

import (
	"fmt"
	"log/slog"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/pkg/crypto"
	"github.com/jmfrees/warden/pkg/kv"
	"github.com/jmfrees/warden/services"
)

// interfaces
type (
	KV              = core.KV
	UserStore       = core.UserStore
	MFASecretStore  = core.MFASecretStore
	CredentialStore = core.CredentialStore
	HTTPAdapter     = core.HTTPAdapter
	Authorizer      = core.Authorizer
	AuthHandler     = core.AuthHandler

	PasswordHandler = crypto.PasswordHandler
)

// domain types
type (
	User               = core.User
	Role               = core.Role
	Session            = core.Session
	SessionData        = core.SessionData
	MFASecret          = core.MFASecret
	WebAuthnCredential = core.WebAuthnCredential

	Policy     = core.Policy
	Condition  = core.Condition
	Effect     = core.Effect
	Operator   = core.Operator
	Permission = core.Permission

	SignInInput   = core.SignInInput
	SignInResult  = core.SignInResult
	RefreshResult = core.RefreshResult
	MFAEnrollment = core.MFAEnrollment

	SessionConfig  = core.SessionConfig
	TokenConfig    = core.TokenConfig
	MFAConfig      = core.MFAConfig
	WebAuthnConfig = core.WebAuthnConfig
	CacheStats     = core.CacheStats
)

const (
	RoleAdmin   = core.RoleAdmin
	RoleManager = core.RoleManager
	RoleUser    = core.RoleUser

	EffectAllow = core.EffectAllow
	EffectDeny  = core.EffectDeny

	OpEquals      = core.OpEquals
	OpNotEquals   = core.OpNotEquals
	OpContains    = core.OpContains
	OpStartsWith  = core.OpStartsWith
	OpEndsWith    = core.OpEndsWith
	OpGreaterThan = core.OpGreaterThan
	OpLessThan    = core.OpLessThan
	OpIn          = core.OpIn
	OpNotIn       = core.OpNotIn
)

const (
	defaultBasePath  = "/api/auth"
	defaultSecretLen = 32
)

// Constructors & helpers (convenience re-exports)
var (
	NewMemoryKV          = kv.NewMemory
	NewArgon2            = crypto.NewArgon2
	NewPolicyEngine      = services.NewPolicyEngine
	DefaultSessionConfig = core.DefaultSessionConfig
	DefaultTokenConfig   = core.DefaultTokenConfig
	DefaultMFAConfig     = core.DefaultMFAConfig
)

var (
	ErrUserNotFound       = core.ErrUserNotFound
	ErrUserInactive       = core.ErrUserInactive
	ErrInvalidCredentials = core.ErrInvalidCredentials
)

var (
	ErrMissingAuthToken = core.ErrMissingAuthToken
	ErrInvalidToken     = core.ErrInvalidToken
	ErrSessionNotFound  = core.ErrSessionNotFound
	ErrSessionInactive  = core.ErrSessionInactive
	ErrSessionExpired   = core.ErrSessionExpired
	ErrStoreUnavailable = core.ErrStoreUnavailable
	ErrKeyNotFound      = core.ErrKeyNotFound
)

var (
	ErrInsufficientPermission = core.ErrInsufficientPermission
	ErrMFARequired            = core.ErrMFARequired
	ErrInvalidMFACode         = core.ErrInvalidMFACode
	ErrMFANotEnrolled         = core.ErrMFANotEnrolled
	ErrCredentialNotFound     = core.ErrCredentialNotFound
	ErrCeremonyNotFound       = core.ErrCeremonyNotFound
	ErrVerificationFailed     = core.ErrVerificationFailed
)

var (
	ErrStoreRequired     = core.ErrStoreRequired
	ErrUserStoreRequired = core.ErrUserStoreRequired
	ErrSecretRequired    = core.ErrSecretRequired
	ErrSecretTooShort    = core.ErrSecretTooShort
)

// Config assembles a Warden instance. Secret, Store and Users are
// required; everything else defaults.
type Config struct {
	// Secret signs tokens and keys the backup-code HMAC. Minimum 32
	// characters.
	Secret string

	Store       core.KV
	Users       core.UserStore
	MFASecrets  core.MFASecretStore
	Credentials core.CredentialStore

	// HTTP, when set, gets the auth routes registered under BasePath.
	HTTP     core.HTTPAdapter
	BasePath string

	Session  *core.SessionConfig
	Tokens   *core.TokenConfig
	MFA      *core.MFAConfig
	WebAuthn *core.WebAuthnConfig

	// Policies seed the policy engine. With none configured every
	// Evaluate call denies.
	Policies []core.Policy

	Passwords crypto.PasswordHandler
	Logger    *slog.Logger
}

// Warden exposes the assembled engines. Fields are safe for concurrent
// use.
type Warden struct {
	Auth     core.AuthHandler
	Sessions *services.SessionManager
	Tokens   *services.TokenCodec
	Policies *services.PolicyEngine
	MFA      *services.MFAEngine
	WebAuthn *services.WebAuthnEngine

	BasePath string
}

func New(config Config) (*Warden, error) {
	if config.Secret == "" {
		return nil, ErrSecretRequired
	}
	if len(config.Secret) < defaultSecretLen {
		return nil, fmt.Errorf("%w - minimum of %d characters", ErrSecretTooShort, defaultSecretLen)
	}
	if config.Store == nil {
		return nil, ErrStoreRequired
	}
	if config.Users == nil {
		return nil, ErrUserStoreRequired
	}

	// Set Defaults

	sessionConfig := core.DefaultSessionConfig()
	if config.Session != nil {
		sessionConfig = *config.Session
	}

	tokenConfig := core.DefaultTokenConfig()
	if config.Tokens != nil {
		tokenConfig = *config.Tokens
	}

	mfaConfig := core.DefaultMFAConfig()
	if config.MFA != nil {
		mfaConfig = *config.MFA
	}

	passwords := config.Passwords
	if passwords == nil {
		passwords = crypto.NewArgon2()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	basePath := config.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}

	secret := []byte(config.Secret)
	codec := services.NewTokenCodec(secret, tokenConfig)
	sessions := services.NewSessionManager(sessionConfig, config.Store, codec, logger)
	policies := services.NewPolicyEngine(config.Policies...)
	mfa := services.NewMFAEngine(mfaConfig, secret)

	var webAuthn *services.WebAuthnEngine
	if config.WebAuthn != nil {
		engine, err := services.NewWebAuthnEngine(*config.WebAuthn)
		if err != nil {
			return nil, err
		}
		webAuthn = engine
	}

	auth := services.NewAuthService(services.AuthServiceDeps{
		Users:       config.Users,
		MFASecrets:  config.MFASecrets,
		Credentials: config.Credentials,
		Store:       config.Store,
		Sessions:    sessions,
		Codec:       codec,
		MFA:         mfa,
		WebAuthn:    webAuthn,
		Passwords:   passwords,
		Logger:      logger,
	})

	warden := &Warden{
		Auth:     auth,
		Sessions: sessions,
		Tokens:   codec,
		Policies: policies,
		MFA:      mfa,
		WebAuthn: webAuthn,
		BasePath: basePath,
	}

	if config.HTTP != nil {
		if err := config.HTTP.RegisterRoutes(auth, basePath); err != nil {
			return nil, err
		}
	}

	return warden, nil
}
