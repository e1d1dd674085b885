package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/credential"
	"github.com/carepoint-health/carepoint/internal/notification"
	"github.com/carepoint-health/carepoint/internal/otp"
	"github.com/carepoint-health/carepoint/internal/session"
)

const deliveryWarning = "verification code could not be delivered; request a new code"

// Status is the successful outcome of an operation.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusVerified            Status = "verified"
	StatusOTPRequired         Status = "otp_required"
	StatusSessionIssued       Status = "session_issued"
)

// Result describes a successful operation. Session is set only for
// StatusSessionIssued. Warning is set when the account write succeeded but the
// code could not be delivered.
type Result struct {
	Status    Status
	AccountID string
	Warning   string
	Session   *session.TokenPair
}

// SessionIssuer mints a session for an account that completed both factors.
type SessionIssuer interface {
	Issue(ctx context.Context, acct account.Account) (session.TokenPair, error)
}

// burner is implemented by hashers that can spend a comparison's worth of
// work without a real hash.
type burner interface {
	Burn(plaintext string)
}

// Service runs registration and two-step sign-in against the account store.
//
// Concurrent operations on the same identity are not serialized: the last
// challenge written wins and earlier codes stop working.
type Service struct {
	repo     account.Repository
	hasher   credential.Hasher
	otps     *otp.Generator
	notifier notification.Notifier
	sessions SessionIssuer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the state machine to its collaborators.
func NewService(repo account.Repository, hasher credential.Hasher, otps *otp.Generator, notifier notification.Notifier, sessions SessionIssuer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		hasher:   hasher,
		otps:     otps,
		notifier: notifier,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register creates or reissues a pending account and sends it a verification code.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Result, error) {
	input = input.normalized()
	if err := input.validate(); err != nil {
		return Result{}, err
	}

	matches, err := s.repo.FindByEmailOrPhone(ctx, input.Email, input.Phone)
	if err != nil {
		return Result{}, s.internal("lookup account", err)
	}
	var target *account.Account
	for i := range matches {
		if matches[i].Verified {
			return Result{}, ErrAlreadyExists
		}
		if target == nil || matches[i].Email == input.Email {
			target = &matches[i]
		}
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Result{}, s.internal("hash password", err)
	}
	issued, err := s.otps.Issue()
	if err != nil {
		return Result{}, s.internal("issue otp", err)
	}

	now := s.now().UTC()
	var acct account.Account
	if target != nil {
		acct = *target
	} else {
		acct = account.Account{ID: uuid.NewString(), CreatedAt: now}
	}
	acct.Name = input.Name
	acct.Email = input.Email
	acct.Phone = input.Phone
	acct.PasswordHash = passwordHash
	acct.Location = input.Location
	acct.Challenge = &account.Challenge{Hash: issued.Hash, ExpiresAt: issued.ExpiresAt}
	acct.UpdatedAt = now

	if target != nil {
		err = s.repo.Save(ctx, acct)
	} else {
		err = s.repo.Create(ctx, acct)
	}
	if err != nil {
		if errors.Is(err, account.ErrDuplicateIdentity) {
			return Result{}, ErrAlreadyExists
		}
		return Result{}, s.internal("store pending account", err)
	}

	s.logger.InfoContext(ctx, "registration pending", "account_id", acct.ID, "reissued", target != nil)
	return Result{
		Status:    StatusPendingVerification,
		AccountID: acct.ID,
		Warning:   s.deliver(ctx, notification.KindRegistrationOTP, acct, issued.Code),
	}, nil
}

// ConfirmRegistration completes registration with the code sent to the account.
func (s *Service) ConfirmRegistration(ctx context.Context, identity, code string) (Result, error) {
	handle, code, err := requireIdentityAndSecret(identity, strings.TrimSpace(code), "code")
	if err != nil {
		return Result{}, err
	}

	acct, err := s.repo.FindByIdentity(ctx, handle)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Result{}, ErrNotFound
		}
		return Result{}, s.internal("lookup account", err)
	}
	if acct.Verified {
		return Result{}, ErrNoChallenge
	}
	if err := s.checkChallenge(acct, code); err != nil {
		return Result{}, err
	}

	acct.Verified = true
	acct.Challenge = nil
	acct.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, acct); err != nil {
		if errors.Is(err, account.ErrDuplicateIdentity) {
			return Result{}, ErrAlreadyExists
		}
		return Result{}, s.internal("store verified account", err)
	}

	s.logger.InfoContext(ctx, "registration verified", "account_id", acct.ID)
	return Result{Status: StatusVerified, AccountID: acct.ID}, nil
}

// ResendRegistrationCode replaces the outstanding code of a pending account
// and delivers the new one.
func (s *Service) ResendRegistrationCode(ctx context.Context, identity string) (Result, error) {
	handle := account.NormalizeIdentity(identity)
	if handle == "" {
		return Result{}, validationError("identity is required")
	}

	acct, err := s.repo.FindByIdentity(ctx, handle)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Result{}, ErrNotFound
		}
		return Result{}, s.internal("lookup account", err)
	}
	if acct.Verified {
		return Result{}, ErrNotFound
	}

	code, err := s.rechallenge(ctx, &acct)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Status:    StatusPendingVerification,
		AccountID: acct.ID,
		Warning:   s.deliver(ctx, notification.KindRegistrationOTP, acct, code),
	}, nil
}

// AuthenticateStepOne checks the password of a verified account and sends it
// a sign-in code. It never issues a session.
func (s *Service) AuthenticateStepOne(ctx context.Context, identity, password string) (Result, error) {
	handle, password, err := requireIdentityAndSecret(identity, password, "password")
	if err != nil {
		return Result{}, err
	}

	acct, err := s.repo.FindByIdentity(ctx, handle)
	switch {
	case errors.Is(err, account.ErrNotFound), err == nil && !acct.Verified:
		s.burn(password)
		return Result{}, ErrInvalidCredentials
	case err != nil:
		return Result{}, s.internal("lookup account", err)
	}
	if !s.hasher.Compare(password, acct.PasswordHash) {
		return Result{}, ErrInvalidCredentials
	}

	code, err := s.rechallenge(ctx, &acct)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Status:    StatusOTPRequired,
		AccountID: acct.ID,
		Warning:   s.deliver(ctx, notification.KindLoginOTP, acct, code),
	}, nil
}

// AuthenticateStepTwo confirms the sign-in code and issues a session.
func (s *Service) AuthenticateStepTwo(ctx context.Context, identity, code string) (Result, error) {
	handle, code, err := requireIdentityAndSecret(identity, strings.TrimSpace(code), "code")
	if err != nil {
		return Result{}, err
	}

	acct, err := s.repo.FindByIdentity(ctx, handle)
	switch {
	case errors.Is(err, account.ErrNotFound), err == nil && !acct.Verified:
		return Result{}, ErrInvalidCredentials
	case err != nil:
		return Result{}, s.internal("lookup account", err)
	}
	if err := s.checkChallenge(acct, code); err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	acct.Challenge = nil
	acct.LastLoginAt = &now
	acct.UpdatedAt = now
	if err := s.repo.Save(ctx, acct); err != nil {
		return Result{}, s.internal("clear login challenge", err)
	}

	pair, err := s.sessions.Issue(ctx, acct)
	if err != nil {
		return Result{}, s.internal("issue session", err)
	}

	s.logger.InfoContext(ctx, "session issued", "account_id", acct.ID)
	return Result{Status: StatusSessionIssued, AccountID: acct.ID, Session: &pair}, nil
}

// checkChallenge leaves the challenge untouched on every failure.
func (s *Service) checkChallenge(acct account.Account, code string) error {
	if acct.Challenge == nil {
		return ErrNoChallenge
	}
	if s.now().After(acct.Challenge.ExpiresAt) {
		return ErrExpired
	}
	if !s.otps.Verify(code, acct.Challenge.Hash) {
		return ErrInvalidCode
	}
	return nil
}

// rechallenge stores a fresh challenge on acct, replacing any outstanding one,
// and returns the plaintext code.
func (s *Service) rechallenge(ctx context.Context, acct *account.Account) (string, error) {
	issued, err := s.otps.Issue()
	if err != nil {
		return "", s.internal("issue otp", err)
	}
	acct.Challenge = &account.Challenge{Hash: issued.Hash, ExpiresAt: issued.ExpiresAt}
	acct.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, *acct); err != nil {
		return "", s.internal("store challenge", err)
	}
	return issued.Code, nil
}

// deliver sends code to the account's phone. A failed send is logged and
// reported as a warning; the stored challenge stays in place.
func (s *Service) deliver(ctx context.Context, kind string, acct account.Account, code string) string {
	if s.notifier == nil {
		return deliveryWarning
	}
	msg := notification.OTPMessage(kind, acct.Phone, code, s.otps.TTL())
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "otp delivery failed", "account_id", acct.ID, "kind", kind, "error", err)
		return deliveryWarning
	}
	return ""
}

func (s *Service) burn(password string) {
	if b, ok := s.hasher.(burner); ok {
		b.Burn(password)
	}
}

func (s *Service) internal(op string, err error) error {
	s.logger.Error("verification store failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func requireIdentityAndSecret(identity, secret, secretName string) (string, string, error) {
	handle := account.NormalizeIdentity(identity)
	if handle == "" || secret == "" {
		return "", "", validationError(fmt.Sprintf("identity and %s are required", secretName))
	}
	return handle, secret, nil
}
