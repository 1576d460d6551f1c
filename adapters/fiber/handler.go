package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/jmfrees/warden/core"
)

// handleSignIn returns a handler for the sign-in endpoint.
func handleSignIn(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		var input core.SignInInput
		if err := c.Bind().Body(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}

		result, err := handler.SignIn(c.Context(), input, c.IP(), c.Get(fiber.HeaderUserAgent))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(result)
	}
}

// handleSignOut invalidates the current session.
func handleSignOut(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := handler.SignOut(c.Context(), extractToken(c)); err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "signed out successfully",
		})
	}
}

// handleSignOutEverywhere invalidates every session of the current user.
func handleSignOutEverywhere(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		count, err := handler.SignOutEverywhere(c.Context(), user.ID)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"invalidated": count,
		})
	}
}

// handleGetSession returns the identity RequireAuth already resolved.
func handleGetSession() fiber.Handler {
	return func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(core.SessionData{
			User:    UserFromContext(c),
			Session: SessionFromContext(c),
		})
	}
}

// handleRefresh exchanges a refresh token for a rotated pair.
func handleRefresh(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		var input struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := c.Bind().Body(&input); err != nil || input.RefreshToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "refreshToken is required",
			})
		}

		result, err := handler.Refresh(c.Context(), input.RefreshToken)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(result)
	}
}

// handleEnrollMFA generates a TOTP enrollment for the current user.
// The response is the only time the secret and backup codes appear in
// plaintext.
func handleEnrollMFA(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		enrollment, err := handler.EnrollMFA(c.Context(), user.ID)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(enrollment)
	}
}

// handleConfirmMFA completes enrollment with one proven code.
func handleConfirmMFA(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		var input struct {
			Code string `json:"code"`
		}
		if err := c.Bind().Body(&input); err != nil || input.Code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "code is required",
			})
		}

		if err := handler.ConfirmMFA(c.Context(), user.ID, input.Code); err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "mfa enabled",
		})
	}
}

func handleBeginPasskeyRegistration(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		options, err := handler.BeginPasskeyRegistration(c.Context(), user.ID)
		if err != nil {
			return writeError(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).Send(options)
	}
}

func handleFinishPasskeyRegistration(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := UserFromContext(c)
		if user == nil {
			return writeError(c, core.ErrMissingAuthToken)
		}

		name := c.Query("name", "passkey")
		if err := handler.FinishPasskeyRegistration(c.Context(), user.ID, name, c.Body()); err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "credential registered",
		})
	}
}

func handleBeginPasskeyLogin(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		var input struct {
			Email string `json:"email"`
		}
		if err := c.Bind().Body(&input); err != nil || input.Email == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "email is required",
			})
		}

		options, err := handler.BeginPasskeyLogin(c.Context(), input.Email)
		if err != nil {
			return writeError(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).Send(options)
	}
}

func handleFinishPasskeyLogin(handler core.AuthHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		email := c.Query("email")
		if email == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "email is required",
			})
		}

		result, err := handler.FinishPasskeyLogin(c.Context(), email, c.Body(), c.IP(), c.Get(fiber.HeaderUserAgent))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(result)
	}
}
