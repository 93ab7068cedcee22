package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/auth"
	"docvault/internal/model"
)

// IdentityLocalKey is the key under which the verified identity is stored in
// Fiber's context locals.
const IdentityLocalKey = "identity"

// Auth gates a route group behind credential verification. The signed token is
// read from the configured cookie, with an Authorization bearer header as
// fallback for non-browser clients. On success the verified identity is stored
// in context locals; downstream handlers must take the acting identity from
// there and nowhere else.
//
// Absence or verification failure is always a 401, never a 500.
func Auth(gate *auth.Gate, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(cookieName)
		if token == "" {
			if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}

		identity, err := gate.Verify(token)
		if err != nil {
			code := "INVALID_CREDENTIAL"
			msg := "credential verification failed"
			if errors.Is(err, auth.ErrMissingCredential) {
				code = "UNAUTHENTICATED"
				msg = "authentication required"
			}
			return writeAuthError(c, code, msg)
		}

		c.Locals(IdentityLocalKey, identity)
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by Auth, or nil when the request
// did not pass through it.
func IdentityFromCtx(c *fiber.Ctx) *model.Identity {
	if v := c.Locals(IdentityLocalKey); v != nil {
		if id, ok := v.(*model.Identity); ok {
			return id
		}
	}
	return nil
}

// writeAuthError mirrors the handler package's error envelope. It is inlined
// here to keep the middleware free of a dependency on the handler package.
func writeAuthError(c *fiber.Ctx, code, message string) error {
	rid, _ := c.Locals(RequestIDLocalKey).(string)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"request_id": rid,
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}
