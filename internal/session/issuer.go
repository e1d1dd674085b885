package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carepoint-health/carepoint/internal/account"
)

var (
	// ErrInvalidToken covers malformed, expired, or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens minted before the last logout.
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims are the JWT claims carried by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"ver"`
}

// TokenPair is the session artifact handed to a client after sign-in.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Config holds signing material and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer mints and checks HS256 session tokens.
type Issuer struct {
	cfg  Config
	repo account.Repository
	now  func() time.Time
}

// NewIssuer builds a session issuer. repo is consulted for token versions on
// refresh, verification and logout.
func NewIssuer(cfg Config, repo account.Repository) *Issuer {
	return &Issuer{cfg: cfg, repo: repo, now: time.Now}
}

// WithClock returns a copy of the issuer using now as its time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Issue mints an access/refresh pair for a verified account.
func (i *Issuer) Issue(_ context.Context, acct account.Account) (TokenPair, error) {
	access, err := i.sign(acct.ID, acct.Email, acct.Name, acct.TokenVersion, i.cfg.AccessSecret, i.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(acct.ID, "", "", acct.TokenVersion, i.cfg.RefreshSecret, i.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(i.cfg.AccessTTL.Seconds())}, nil
}

// Refresh checks a refresh token and returns a new access token.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := i.parse(refreshToken, i.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	acct, err := i.current(ctx, claims)
	if err != nil {
		return "", 0, err
	}
	access, err := i.sign(acct.ID, acct.Email, acct.Name, acct.TokenVersion, i.cfg.AccessSecret, i.cfg.AccessTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(i.cfg.AccessTTL.Seconds()), nil
}

// Verify checks an access token and that it has not been revoked.
func (i *Issuer) Verify(ctx context.Context, accessToken string) (Claims, error) {
	claims, err := i.parse(accessToken, i.cfg.AccessSecret)
	if err != nil {
		return Claims{}, err
	}
	if _, err := i.current(ctx, claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Logout increments the token version so older tokens become invalid.
func (i *Issuer) Logout(ctx context.Context, accountID string) error {
	acct, err := i.repo.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	return i.repo.UpdateTokenVersion(ctx, acct.ID, acct.TokenVersion+1)
}

func (i *Issuer) sign(subject, email, name string, version int, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:   email,
		Name:    name,
		Version: version,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(token string, secret []byte) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) current(ctx context.Context, claims Claims) (account.Account, error) {
	acct, err := i.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Account{}, ErrInvalidToken
		}
		return account.Account{}, err
	}
	if !acct.Verified {
		return account.Account{}, ErrInvalidToken
	}
	if acct.TokenVersion != claims.Version {
		return account.Account{}, ErrTokenRevoked
	}
	return acct, nil
}
