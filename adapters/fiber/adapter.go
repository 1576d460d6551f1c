// Package fiber adapts the auth core to gofiber. It registers the auth
// routes and provides the gatekeeping middleware that authenticates and
// authorizes inbound requests.
package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/jmfrees/warden/core"
)

type Adapter struct {
	app *fiber.App
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(app *fiber.App) *Adapter {
	return &Adapter{app: app}
}

func (a *Adapter) RegisterRoutes(handler core.AuthHandler, basePath string) error {
	api := a.app.Group(basePath)
	auth := RequireAuth(handler)

	// Public routes
	api.Post("/sign-in", handleSignIn(handler))
	api.Post("/refresh", handleRefresh(handler))
	api.Post("/webauthn/login/begin", handleBeginPasskeyLogin(handler))
	api.Post("/webauthn/login/finish", handleFinishPasskeyLogin(handler))

	// Protected routes; RequireAuth is attached as route middleware and
	// runs before each handler.
	api.Post("/sign-out", handleSignOut(handler), auth)
	api.Post("/sign-out-all", handleSignOutEverywhere(handler), auth)
	api.Get("/session", handleGetSession(), auth)
	api.Post("/mfa/enroll", handleEnrollMFA(handler), auth)
	api.Post("/mfa/confirm", handleConfirmMFA(handler), auth)
	api.Post("/webauthn/register/begin", handleBeginPasskeyRegistration(handler), auth)
	api.Post("/webauthn/register/finish", handleFinishPasskeyRegistration(handler), auth)

	return nil
}

// extractToken pulls the bearer token from the request: Authorization
// header first, then the auth cookie, then the query parameter.
func extractToken(c fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}

	if cookie := c.Cookies("auth_token"); cookie != "" {
		return cookie
	}

	return c.Query("token")
}
