package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/carepoint-health/carepoint/internal/session"
)

const (
	localAccountID    = "account_id"
	localTokenVersion = "token_version"
)

// TokenVerifier checks an access token. *session.Issuer satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (session.Claims, error)
}

// SessionAuth rejects requests without a live bearer access token and stores
// the caller's account ID in the request locals.
func SessionAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		const prefix = "bearer "
		if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.Verify(c.UserContext(), strings.TrimSpace(authz[len(prefix):]))
		switch {
		case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrTokenRevoked):
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or revoked token")
		case err != nil:
			return err
		}

		c.Locals(localAccountID, claims.Subject)
		c.Locals(localTokenVersion, claims.Version)
		return c.Next()
	}
}

// AccountIDFrom returns the account authenticated by SessionAuth, if any.
func AccountIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(localAccountID).(string)
	return id
}
