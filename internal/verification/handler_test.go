package verification

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carepoint-health/carepoint/internal/middleware"
)

func newTestApp(f *fixture) *fiber.App {
	h := NewHandler(f.svc, f.issuer)
	app := fiber.New()
	auth := app.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/register/confirm", h.Confirm)
	auth.Post("/register/resend", h.Resend)
	auth.Post("/login", h.Login)
	auth.Post("/login/verify", h.VerifyLogin)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", middleware.SessionAuth(f.issuer), h.Logout)
	return app
}

func doJSON(t *testing.T, app *fiber.App, path, body, bearer string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, out
}

func TestHandlerFullFlow(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	status, body := doJSON(t, app, "/auth/register",
		`{"name":"Ada","email":"A@x.com","phone":"+1 555","password":"Str0ng!pw","location":[36.8,-1.29]}`, "")
	if status != fiber.StatusCreated || body["ok"] != true || body["status"] != string(StatusPendingVerification) {
		t.Fatalf("register: %d %v", status, body)
	}
	acct, err := f.repo.FindByIdentity(context.Background(), "a@x.com")
	if err != nil || acct.Location == nil || acct.Location.Longitude != 36.8 {
		t.Fatalf("expected stored location, got %+v %v", acct, err)
	}

	status, body = doJSON(t, app, "/auth/register/confirm", `{"identity":"a@x.com","code":"`+f.notifier.lastCode(t)+`"}`, "")
	if status != fiber.StatusOK || body["status"] != string(StatusVerified) {
		t.Fatalf("confirm: %d %v", status, body)
	}

	status, body = doJSON(t, app, "/auth/login", `{"identity":"+1555","password":"Str0ng!pw"}`, "")
	if status != fiber.StatusOK || body["otp_required"] != true || body["access_token"] != nil {
		t.Fatalf("login: %d %v", status, body)
	}

	status, body = doJSON(t, app, "/auth/login/verify", `{"identity":"+1555","code":"`+f.notifier.lastCode(t)+`"}`, "")
	if status != fiber.StatusOK {
		t.Fatalf("verify: %d %v", status, body)
	}
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("expected tokens, got %v", body)
	}

	status, body = doJSON(t, app, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != fiber.StatusOK || body["access_token"] == "" {
		t.Fatalf("refresh: %d %v", status, body)
	}

	status, _ = doJSON(t, app, "/auth/logout", `{}`, access)
	if status != fiber.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	status, body = doJSON(t, app, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != fiber.StatusUnauthorized || body["kind"] != string(KindInvalidCredentials) {
		t.Fatalf("expected revoked refresh token, got %d %v", status, body)
	}
}

func TestHandlerErrorStatuses(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	status, body := doJSON(t, app, "/auth/register", `{"name":"Ada","email":"a@x.com","phone":"+1555","password":"weak"}`, "")
	if status != fiber.StatusBadRequest || body["ok"] != false || body["kind"] != string(KindValidation) {
		t.Fatalf("weak password: %d %v", status, body)
	}

	status, body = doJSON(t, app, "/auth/register/confirm", `{"identity":"ghost@x.com","code":"123456"}`, "")
	if status != fiber.StatusNotFound || body["kind"] != string(KindNotFound) {
		t.Fatalf("unknown identity: %d %v", status, body)
	}

	status, body = doJSON(t, app, "/auth/login", `{"identity":"ghost@x.com","password":"Str0ng!pw"}`, "")
	if status != fiber.StatusUnauthorized || body["kind"] != string(KindInvalidCredentials) {
		t.Fatalf("unknown login: %d %v", status, body)
	}

	status, body = doJSON(t, app, "/auth/register", `{"name":"Ada","email":"a@x.com","phone":"+1555","password":"Str0ng!pw","location":{"longitude":10}}`, "")
	if status != fiber.StatusBadRequest || body["kind"] != string(KindValidation) {
		t.Fatalf("partial location: %d %v", status, body)
	}

	f.registerAndVerify(t)
	status, body = doJSON(t, app, "/auth/register", `{"name":"Ada","email":"a@x.com","phone":"+1555","password":"Str0ng!pw"}`, "")
	if status != fiber.StatusConflict || body["kind"] != string(KindAlreadyExists) {
		t.Fatalf("duplicate: %d %v", status, body)
	}

	if _, err := f.svc.AuthenticateStepOne(context.Background(), "a@x.com", "Str0ng!pw"); err != nil {
		t.Fatalf("step one: %v", err)
	}
	f.clock.Advance(11 * time.Minute)
	status, body = doJSON(t, app, "/auth/login/verify", `{"identity":"a@x.com","code":"`+f.notifier.lastCode(t)+`"}`, "")
	if status != fiber.StatusGone || body["kind"] != string(KindExpired) {
		t.Fatalf("expired: %d %v", status, body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:         400,
		KindAlreadyExists:      409,
		KindNotFound:           404,
		KindInvalidCredentials: 401,
		KindNoChallenge:        400,
		KindExpired:            410,
		KindInvalidCode:        400,
		KindInternal:           500,
	}
	for kind, want := range cases {
		if got := StatusFor(kind); got != want {
			t.Errorf("%s: expected %d got %d", kind, want, got)
		}
	}
}
