package credential

import (
	"errors"
	"strings"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 8
	// MaxPasswordLength is the most bcrypt will hash.
	MaxPasswordLength = 72
	passwordSymbols   = "@$!%*?&"
)

var (
	// ErrWeakPassword is returned by ValidatePassword.
	ErrWeakPassword = errors.New("password must be at least 8 characters long and contain at least one uppercase letter, one lowercase letter, one number, and one special character (@$!%*?&)")
	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters long")
)

// ValidatePassword enforces the account password policy: between
// MinPasswordLength and MaxPasswordLength characters drawn only from ASCII
// letters, digits and passwordSymbols, with one of each class present.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		default:
			return ErrWeakPassword
		}
	}
	if !upper || !lower || !digit || !symbol {
		return ErrWeakPassword
	}
	return nil
}
