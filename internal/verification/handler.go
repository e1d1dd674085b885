package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/middleware"
	"github.com/carepoint-health/carepoint/internal/session"
)

// SessionManager covers the token lifecycle after sign-in.
type SessionManager interface {
	Refresh(ctx context.Context, refreshToken string) (string, int64, error)
	Logout(ctx context.Context, accountID string) error
}

// Handler exposes registration and sign-in over HTTP.
type Handler struct {
	svc      *Service
	sessions SessionManager
}

// NewHandler builds the HTTP handler for the verification flows.
func NewHandler(svc *Service, sessions SessionManager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// locationField accepts either {"longitude":..,"latitude":..} or a GeoJSON
// style [lng, lat] pair.
type locationField struct {
	account.Location
}

func (l *locationField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return errors.New("location must be [longitude, latitude]")
		}
		l.Longitude, l.Latitude = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Longitude *float64 `json:"longitude"`
		Latitude  *float64 `json:"latitude"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Longitude == nil || obj.Latitude == nil {
		return errors.New("location needs longitude and latitude")
	}
	l.Longitude, l.Latitude = *obj.Longitude, *obj.Latitude
	return nil
}

type registerRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Phone    string         `json:"phone"`
	Password string         `json:"password"`
	Location *locationField `json:"location"`
}

type codeRequest struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Register starts a registration and sends the verification code.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	input := RegisterInput{Name: req.Name, Email: req.Email, Phone: req.Phone, Password: req.Password}
	if req.Location != nil {
		loc := req.Location.Location
		input.Location = &loc
	}
	res, err := h.svc.Register(c.UserContext(), input)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(resultBody(res))
}

// Confirm completes a registration with the delivered code.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := h.svc.ConfirmRegistration(c.UserContext(), req.Identity, req.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(resultBody(res))
}

// Resend replaces the outstanding registration code.
func (h *Handler) Resend(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := h.svc.ResendRegistrationCode(c.UserContext(), req.Identity)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(resultBody(res))
}

// Login checks the password and sends a sign-in code.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := h.svc.AuthenticateStepOne(c.UserContext(), req.Identity, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	body := resultBody(res)
	body["otp_required"] = true
	return c.Status(http.StatusOK).JSON(body)
}

// VerifyLogin confirms the sign-in code and returns the session tokens.
func (h *Handler) VerifyLogin(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	res, err := h.svc.AuthenticateStepTwo(c.UserContext(), req.Identity, req.Code)
	if err != nil {
		return writeError(c, err)
	}
	body := resultBody(res)
	body["access_token"] = res.Session.AccessToken
	body["refresh_token"] = res.Session.RefreshToken
	body["expires_in"] = res.Session.ExpiresIn
	return c.Status(http.StatusOK).JSON(body)
}

// Refresh issues a new access token from a refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.RefreshToken == "" {
		return writeError(c, validationError("refresh_token is required"))
	}
	token, exp, err := h.sessions.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrTokenRevoked) {
			return writeError(c, ErrInvalidCredentials)
		}
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "access_token": token, "expires_in": exp})
}

// Logout revokes every token of the authenticated account.
func (h *Handler) Logout(c *fiber.Ctx) error {
	accountID := middleware.AccountIDFrom(c)
	if accountID == "" {
		return writeError(c, ErrInvalidCredentials)
	}
	if err := h.sessions.Logout(c.UserContext(), accountID); err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"ok": true, "status": "logged_out"})
}

func resultBody(res Result) fiber.Map {
	body := fiber.Map{"ok": true, "status": res.Status, "account_id": res.AccountID}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	return body
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindNoChallenge, KindInvalidCode:
		return http.StatusBadRequest
	case KindAlreadyExists:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	kind := KindOf(err)
	message := "internal error"
	if kind != KindInternal {
		message = err.Error()
	}
	return c.Status(StatusFor(kind)).JSON(fiber.Map{"ok": false, "kind": kind, "message": message})
}

func badRequest(c *fiber.Ctx, err error) error {
	return writeError(c, validationError("invalid request body: "+err.Error()))
}
