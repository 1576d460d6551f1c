package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmfrees/warden/core"
)

const refreshTokenType = "refresh"

// Claims is the signed claim set carried by access and refresh tokens.
// Refresh tokens are marked with Type="refresh"; the two kinds are
// never interchangeable.
type Claims struct {
	Email       string    `json:"email,omitempty"`
	Role        core.Role `json:"role,omitempty"`
	SessionID   string    `json:"sid"`
	MFAVerified bool      `json:"mfa_verified,omitempty"`
	Type        string    `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies the signed tokens that couple a
// request to a session. It holds only the signing secret and the
// configured lifetimes; every method is pure and safe for concurrent
// use.
type TokenCodec struct {
	secret []byte
	config core.TokenConfig
}

func NewTokenCodec(secret []byte, config core.TokenConfig) *TokenCodec {
	if config.Issuer == "" {
		config.Issuer = core.DefaultTokenConfig().Issuer
	}
	if config.Audience == "" {
		config.Audience = core.DefaultTokenConfig().Audience
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = core.DefaultTokenConfig().AccessTTL
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = core.DefaultTokenConfig().RefreshTTL
	}
	return &TokenCodec{secret: secret, config: config}
}

// IssueAccessToken signs a short-lived token binding the user to a
// session, carrying whether the login was MFA-verified.
func (c *TokenCodec) IssueAccessToken(user *core.User, sessionID string, mfaVerified bool) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:       user.Email,
		Role:        user.Role,
		SessionID:   sessionID,
		MFAVerified: mfaVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    c.config.Issuer,
			Audience:  jwt.ClaimStrings{c.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
		},
	}
	return c.sign(claims)
}

// IssueRefreshToken signs the longer-lived token used only to obtain
// new access tokens for an existing session.
func (c *TokenCodec) IssueRefreshToken(user *core.User, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		Type:      refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    c.config.Issuer,
			Audience:  jwt.ClaimStrings{c.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.RefreshTTL)),
		},
	}
	return c.sign(claims)
}

func (c *TokenCodec) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, issuer, audience and expiry, and
// rejects refresh tokens presented as access tokens. Any failure is
// core.ErrInvalidToken.
func (c *TokenCodec) VerifyAccessToken(token string) (*Claims, error) {
	claims, err := c.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefreshToken performs the same checks and additionally requires
// the refresh marker.
func (c *TokenCodec) VerifyRefreshToken(token string) (*Claims, error) {
	claims, err := c.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != refreshTokenType {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) verify(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.config.Issuer),
		jwt.WithAudience(c.config.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}
	return &claims, nil
}

// DecodeUnsafe decodes a token without verifying its signature. Only
// for expiry inspection; never a basis for authorization.
func (c *TokenCodec) DecodeUnsafe(token string) *Claims {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil
	}
	return &claims
}

// IsExpired reports whether a token is past its embedded expiry.
// Undecodable tokens count as expired.
func (c *TokenCodec) IsExpired(token string) bool {
	claims := c.DecodeUnsafe(token)
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time)
}
