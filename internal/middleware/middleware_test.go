package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/logging"
	"github.com/carepoint-health/carepoint/internal/session"
)

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestIdentityRateLimitPerIdentity(t *testing.T) {
	cache, _ := newTestCache(t)
	app := fiber.New()
	app.Post("/login", IdentityRateLimit(cache, "login", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 2; i++ {
		if status := postJSON(t, app, "/login", `{"identity":"A@x.com"}`); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i+1, status)
		}
	}
	if status := postJSON(t, app, "/login", `{"identity":" a@x.com "}`); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected normalized identity to share a counter, got %d", status)
	}
	if status := postJSON(t, app, "/login", `{"identity":"b@x.com"}`); status != fiber.StatusOK {
		t.Fatalf("expected other identity to be unaffected, got %d", status)
	}
}

func TestIdentityRateLimitWindowExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	app := fiber.New()
	app.Post("/verify", IdentityRateLimit(cache, "verify", 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	postJSON(t, app, "/verify", `{"identity":"+1555"}`)
	if status := postJSON(t, app, "/verify", `{"identity":"+1555"}`); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", status)
	}
	mr.FastForward(rateLimitWindow + time.Second)
	if status := postJSON(t, app, "/verify", `{"identity":"+1555"}`); status != fiber.StatusOK {
		t.Fatalf("expected window reset, got %d", status)
	}
}

// failingExpireHook makes every EXPIRE fail while other commands run normally.
type failingExpireHook struct{}

func (failingExpireHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failingExpireHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "expire" {
			err := errors.New("expire unavailable")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failingExpireHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestIdentityRateLimitDropsCounterWithoutWindow(t *testing.T) {
	cache, mr := newTestCache(t)
	cache.AddHook(failingExpireHook{})
	app := fiber.New()
	app.Post("/login", IdentityRateLimit(cache, "login", 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 3; i++ {
		if status := postJSON(t, app, "/login", `{"identity":"a@x.com"}`); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i+1, status)
		}
	}
	if mr.Exists("rl:login:a@x.com") {
		t.Fatalf("expected counter without ttl to be removed")
	}
}

func TestIdentityRateLimitWithoutCache(t *testing.T) {
	app := fiber.New()
	app.Post("/login", IdentityRateLimit(nil, "login", 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	for i := 0; i < 3; i++ {
		if status := postJSON(t, app, "/login", `{}`); status != fiber.StatusOK {
			t.Fatalf("expected no-op limiter, got %d", status)
		}
	}
}

func TestRequestIDEchoesHeader(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestSessionAuth(t *testing.T) {
	repo := account.NewMemoryRepository()
	acct := account.Account{ID: "acct-1", Email: "a@x.com", Phone: "+1555", Verified: true}
	if err := repo.Create(context.Background(), acct); err != nil {
		t.Fatalf("create: %v", err)
	}
	issuer := session.NewIssuer(session.Config{
		AccessSecret:  []byte("access"),
		RefreshSecret: []byte("refresh"),
		Issuer:        "carepoint-test",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, repo)
	pair, err := issuer.Issue(context.Background(), acct)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	app := fiber.New()
	app.Get("/me", SessionAuth(issuer), func(c *fiber.Ctx) error { return c.SendString(AccountIDFrom(c)) })

	call := func(authz string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if authz != "" {
			req.Header.Set(fiber.HeaderAuthorization, authz)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if status := call(""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status := call("Bearer " + pair.RefreshToken); status != fiber.StatusUnauthorized {
		t.Fatalf("expected refresh token to be rejected, got %d", status)
	}
	if status := call("Bearer " + pair.AccessToken); status != fiber.StatusOK {
		t.Fatalf("expected 200 with access token, got %d", status)
	}
	if err := issuer.Logout(context.Background(), acct.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if status := call("bearer " + pair.AccessToken); status != fiber.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", status)
	}
}
