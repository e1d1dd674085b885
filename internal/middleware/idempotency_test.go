package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carepoint-health/carepoint/internal/logging"
)

func newTestCache(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func setupIdempotentApp(t *testing.T, status int) (*fiber.App, *int32) {
	t.Helper()
	cache, _ := newTestCache(t)
	calls := new(int32)
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/register", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(calls, 1)
		return c.Status(status).JSON(fiber.Map{"ok": status < 400, "call": n})
	})
	return app, calls
}

func postRegister(t *testing.T, app *fiber.App, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/register", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusCreated)

	postRegister(t, app, "")
	postRegister(t, app, "")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusCreated)

	status, first := postRegister(t, app, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	status, second := postRegister(t, app, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(second), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusInternalServerError)

	postRegister(t, app, "retry-me")
	postRegister(t, app, "retry-me")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected server errors to be retried, handler ran %d times", got)
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	cache, mr := newTestCache(t)
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/register", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	if err := mr.Set(idempotencyPrefix+"POST:/register:busy", inProgressMarker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	status, _ := postRegister(t, app, "busy")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
}
