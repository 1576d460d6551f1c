package services

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jmfrees/warden/core"
)

// WebAuthnEngine runs credential registration and authentication
// ceremonies: challenge out, authenticator response in, verdict plus
// the data the caller must persist.
//
// Cryptographic failures on a parseable response yield Verified=false;
// core.ErrMalformedAttestation is reserved for input that cannot be
// parsed at all.
type WebAuthnEngine struct {
	wa *webauthn.WebAuthn
}

func NewWebAuthnEngine(config core.WebAuthnConfig) (*WebAuthnEngine, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          config.RPID,
		RPDisplayName: config.RPName,
		RPOrigins:     config.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid webauthn config: %w", err)
	}
	return &WebAuthnEngine{wa: wa}, nil
}

// CeremonyState is the server-side half of an in-flight ceremony
// (challenge, user handle, allowed credentials). It must round-trip
// between Start* and Finish* through server-controlled storage.
type CeremonyState = webauthn.SessionData

// RegistrationResult reports a finished registration ceremony. On
// success, CredentialID and PublicKey are portable text forms ready to
// store.
type RegistrationResult struct {
	Verified     bool
	CredentialID string // base64url
	PublicKey    string // base64
	SignCount    uint32
}

// AuthenticationResult reports a finished authentication ceremony.
// NewSignCount must be persisted as the credential's counter by the
// caller; omitting that reopens the replay window.
type AuthenticationResult struct {
	Verified     bool
	NewSignCount uint32
}

// StartRegistration produces the creation options for a new credential:
// random challenge, relying-party and user descriptors, ES256/RS256,
// and an exclusion list so a device cannot re-register an authenticator
// it already holds.
func (e *WebAuthnEngine) StartRegistration(user *core.User, existing []*core.WebAuthnCredential) (*protocol.CredentialCreation, *CeremonyState, error) {
	wu := newCeremonyUser(user, existing)

	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, cred := range existing {
		id, err := base64.RawURLEncoding.DecodeString(cred.CredentialID)
		if err != nil {
			continue // unusable stored id, skip rather than block enrollment
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
		})
	}

	options, state, err := e.wa.BeginRegistration(wu,
		webauthn.WithExclusions(exclusions),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	return options, state, nil
}

// FinishRegistration verifies that the authenticator honored the
// challenge, origin and relying-party id, and that the attestation
// signature holds.
func (e *WebAuthnEngine) FinishRegistration(user *core.User, state CeremonyState, response []byte) (*RegistrationResult, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedAttestation, err)
	}

	wu := newCeremonyUser(user, nil)
	cred, err := e.wa.CreateCredential(wu, state, parsed)
	if err != nil {
		return &RegistrationResult{Verified: false}, nil
	}

	return &RegistrationResult{
		Verified:     true,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:    base64.StdEncoding.EncodeToString(cred.PublicKey),
		SignCount:    cred.Authenticator.SignCount,
	}, nil
}

// StartAuthentication produces the assertion options: random challenge
// plus the allow-list of the user's active credential ids.
func (e *WebAuthnEngine) StartAuthentication(user *core.User, existing []*core.WebAuthnCredential) (*protocol.CredentialAssertion, *CeremonyState, error) {
	wu := newCeremonyUser(user, existing)
	options, state, err := e.wa.BeginLogin(wu)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin authentication: %w", err)
	}
	return options, state, nil
}

// FinishAuthentication verifies the assertion signature against the
// stored public key and enforces the anti-replay counter: on a counting
// authenticator the reported counter must exceed the stored one, or the
// credential is treated as cloned and rejected regardless of signature
// validity.
func (e *WebAuthnEngine) FinishAuthentication(user *core.User, state CeremonyState, credential *core.WebAuthnCredential, response []byte) (*AuthenticationResult, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedAttestation, err)
	}

	if counterRegressed(credential.SignCount, parsed.Response.AuthenticatorData.Counter) {
		return &AuthenticationResult{Verified: false}, nil
	}

	wu := newCeremonyUser(user, []*core.WebAuthnCredential{credential})
	validated, err := e.wa.ValidateLogin(wu, state, parsed)
	if err != nil {
		return &AuthenticationResult{Verified: false}, nil
	}
	if validated.Authenticator.CloneWarning {
		return &AuthenticationResult{Verified: false}, nil
	}

	return &AuthenticationResult{
		Verified:     true,
		NewSignCount: validated.Authenticator.SignCount,
	}, nil
}

// counterRegressed applies the anti-replay invariant: a counting
// authenticator must report a strictly increasing counter. A pair of
// zeros means the authenticator does not count and is exempt.
func counterRegressed(stored, asserted uint32) bool {
	if stored == 0 && asserted == 0 {
		return false
	}
	return asserted <= stored
}

// ceremonyUser adapts a core.User and its stored credentials to the
// library's user contract.
type ceremonyUser struct {
	user  *core.User
	creds []webauthn.Credential
}

var _ webauthn.User = (*ceremonyUser)(nil)

func newCeremonyUser(user *core.User, stored []*core.WebAuthnCredential) *ceremonyUser {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		id, err := base64.RawURLEncoding.DecodeString(c.CredentialID)
		if err != nil {
			continue
		}
		pub, err := base64.StdEncoding.DecodeString(c.PublicKey)
		if err != nil {
			continue
		}
		creds = append(creds, webauthn.Credential{
			ID:        id,
			PublicKey: pub,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return &ceremonyUser{user: user, creds: creds}
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *ceremonyUser) WebAuthnName() string                       { return u.user.Email }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.user.Name }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }
