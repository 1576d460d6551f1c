package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/jmfrees/warden/core"
	"github.com/jmfrees/warden/services"
)

// Context keys for the resolved identity.
const (
	LocalUser    = "user"
	LocalSession = "session"
)

// RequireAuth authenticates the request: extract token, validate the
// session, attach user and session for downstream handlers. Rejects
// with 401; a session-store outage is 503, never a silent 401.
func RequireAuth(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return writeError(c, core.ErrMissingAuthToken)
		}

		data, err := handler.GetSession(c.Context(), token)
		if err != nil {
			return writeError(c, err)
		}

		c.Locals(LocalUser, data.User)
		c.Locals(LocalSession, data.Session)
		return c.Next()
	}
}

// RequirePermission authorizes the request against the policy engine
// for a fixed (resource, action) pair. Must run after RequireAuth.
// Denials are 403 with the denied resource/action echoed for audit.
func RequirePermission(policies core.Authorizer, resource, action string) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		envAttrs := map[string]any{
			"ip":        c.IP(),
			"userAgent": c.Get(fiber.HeaderUserAgent),
		}
		if !policies.Evaluate(user, resource, action, nil, envAttrs) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":    core.ErrInsufficientPermission.Error(),
				"code":     "INSUFFICIENT_PERMISSION",
				"resource": resource,
				"action":   action,
			})
		}
		return c.Next()
	}
}

// RequireMFA gates an MFA-protected action: the session's access token
// must carry the mfa-verified claim. Must run after RequireAuth. The
// response code distinguishes this from a generic policy denial.
func RequireMFA(codec *services.TokenCodec) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := extractToken(c)
		claims, err := codec.VerifyAccessToken(token)
		if err != nil {
			return writeError(c, core.ErrInvalidToken)
		}
		if !claims.MFAVerified {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": core.ErrMFARequired.Error(),
				"code":  "MFA_REQUIRED",
			})
		}
		return c.Next()
	}
}

// UserFromContext returns the identity RequireAuth attached, or nil.
func UserFromContext(c fiber.Ctx) *core.User {
	user, _ := c.Locals(LocalUser).(*core.User)
	return user
}

// SessionFromContext returns the session RequireAuth attached, or nil.
func SessionFromContext(c fiber.Ctx) *core.Session {
	session, _ := c.Locals(LocalSession).(*core.Session)
	return session
}

// writeError maps auth errors to HTTP responses with machine-readable
// codes. Nothing propagates past this boundary as an uncaught fault.
func writeError(c fiber.Ctx, err error) error {
	status, code := statusFor(err)
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable, "SESSION_STORE_UNAVAILABLE"
	case errors.Is(err, core.ErrMFARequired):
		return fiber.StatusForbidden, "MFA_REQUIRED"
	case errors.Is(err, core.ErrInsufficientPermission):
		return fiber.StatusForbidden, "INSUFFICIENT_PERMISSION"
	case errors.Is(err, core.ErrInvalidToken):
		return fiber.StatusUnauthorized, "INVALID_TOKEN"
	case errors.Is(err, core.ErrSessionNotFound):
		return fiber.StatusUnauthorized, "SESSION_NOT_FOUND"
	case errors.Is(err, core.ErrSessionInactive):
		return fiber.StatusUnauthorized, "SESSION_INACTIVE"
	case errors.Is(err, core.ErrSessionExpired):
		return fiber.StatusUnauthorized, "SESSION_EXPIRED"
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrUserInactive),
		errors.Is(err, core.ErrInvalidMFACode),
		errors.Is(err, core.ErrMissingAuthToken):
		return fiber.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, core.ErrEmailRequired),
		errors.Is(err, core.ErrPasswordRequired),
		errors.Is(err, core.ErrMFANotEnrolled),
		errors.Is(err, core.ErrMalformedAttestation),
		errors.Is(err, core.ErrCeremonyNotFound),
		errors.Is(err, core.ErrVerificationFailed):
		return fiber.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, core.ErrCredentialNotFound):
		return fiber.StatusNotFound, "CREDENTIAL_NOT_FOUND"
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}
