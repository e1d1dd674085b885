package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/config"
	"github.com/carepoint-health/carepoint/internal/credential"
	"github.com/carepoint-health/carepoint/internal/middleware"
	"github.com/carepoint-health/carepoint/internal/notification"
	"github.com/carepoint-health/carepoint/internal/otp"
	"github.com/carepoint-health/carepoint/internal/session"
	"github.com/carepoint-health/carepoint/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier delivers one-time codes. Defaults to the logging gateway.
	Notifier notification.Notifier
	// AccessLog enables the plain text fiber access log.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var repo account.Repository
	if d.DB != nil {
		repo = account.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set; accounts are kept in memory")
		repo = account.NewMemoryRepository()
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	hasher := credential.NewBcryptHasher(d.Cfg.BcryptCost)
	otps := otp.NewGenerator(hasher, otp.WithTTL(d.Cfg.OTPTTL))
	sessions := session.NewIssuer(session.Config{
		AccessSecret:  []byte(d.Cfg.JWTSecret),
		RefreshSecret: []byte(d.Cfg.RefreshSecret),
		Issuer:        d.Cfg.TokenIssuer,
		AccessTTL:     d.Cfg.AccessTokenTTL,
		RefreshTTL:    d.Cfg.RefreshTokenTTL,
	}, repo)
	svc := verification.NewService(repo, hasher, otps, notifier, sessions, d.Logger)
	handler := verification.NewHandler(svc, sessions)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	limit := d.Cfg.LoginRateLimit
	limits := authLimiters{
		login:   middleware.IdentityRateLimit(d.Cache, "login", limit, d.Logger),
		verify:  middleware.IdentityRateLimit(d.Cache, "login-verify", limit, d.Logger),
		confirm: middleware.IdentityRateLimit(d.Cache, "register-confirm", limit, d.Logger),
	}
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	authenticated := middleware.SessionAuth(sessions)

	RegisterAuthRoutes(api, handler, limits, idempotent, authenticated)

	RegisterProfileRoute(api, repo, authenticated)

	return nil
}

// ErrorHandler renders errors raised outside the verification handlers, such
// as rate limiting or authentication failures, in the API's JSON shape.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := http.StatusInternalServerError
		message := "internal error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else if logger != nil {
			logger.Error("unhandled request error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{"ok": false, "kind": kindForStatus(code), "message": message})
	}
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return string(verification.KindInvalidCredentials)
	case http.StatusTooManyRequests:
		return "RateLimited"
	case http.StatusNotFound:
		return string(verification.KindNotFound)
	case http.StatusConflict:
		return "Conflict"
	}
	if code >= http.StatusInternalServerError {
		return string(verification.KindInternal)
	}
	return string(verification.KindValidation)
}
