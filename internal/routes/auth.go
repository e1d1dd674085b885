package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carepoint-health/carepoint/internal/verification"
)

// authLimiters holds the per-endpoint rate limiters; nil entries are skipped.
type authLimiters struct {
	login   fiber.Handler
	verify  fiber.Handler
	confirm fiber.Handler
}

// RegisterAuthRoutes wires registration, two-step sign-in and the token lifecycle.
func RegisterAuthRoutes(r fiber.Router, h *verification.Handler, limits authLimiters, idempotent, authenticated fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", chain(h.Register, idempotent)...)
	group.Post("/register/confirm", chain(h.Confirm, limits.confirm)...)
	group.Post("/register/resend", chain(h.Resend, limits.confirm)...)
	group.Post("/login", chain(h.Login, limits.login)...)
	group.Post("/login/verify", chain(h.VerifyLogin, limits.verify)...)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", authenticated, h.Logout)
}

func chain(final fiber.Handler, middlewares ...fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(middlewares)+1)
	for _, mw := range middlewares {
		if mw != nil {
			handlers = append(handlers, mw)
		}
	}
	return append(handlers, final)
}
