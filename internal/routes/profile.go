package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/middleware"
)

// RegisterProfileRoute exposes the signed-in account's profile.
func RegisterProfileRoute(r fiber.Router, repo account.Repository, authenticated fiber.Handler) {
	r.Get("/me", authenticated, func(c *fiber.Ctx) error {
		accountID := middleware.AccountIDFrom(c)
		if accountID == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		acct, err := repo.FindByID(c.UserContext(), accountID)
		if errors.Is(err, account.ErrNotFound) {
			return fiber.NewError(http.StatusUnauthorized, "account not found")
		}
		if err != nil {
			return err
		}

		profile := fiber.Map{
			"id":            acct.ID,
			"name":          acct.Name,
			"email":         acct.Email,
			"phone":         acct.Phone,
			"verified":      acct.Verified,
			"token_version": acct.TokenVersion,
			"created_at":    acct.CreatedAt,
			"last_login_at": acct.LastLoginAt,
		}
		if acct.Location != nil {
			profile["location"] = []float64{acct.Location.Longitude, acct.Location.Latitude}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "account": profile})
	})
}
