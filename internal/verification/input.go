package verification

import (
	"net/mail"
	"strings"

	"github.com/carepoint-health/carepoint/internal/account"
	"github.com/carepoint-health/carepoint/internal/credential"
)

// RegisterInput is the data a new patient or doctor submits at sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Location *account.Location
}

func (in RegisterInput) normalized() RegisterInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = account.NormalizeIdentity(in.Email)
	in.Phone = account.NormalizeIdentity(in.Phone)
	return in
}

func (in RegisterInput) validate() error {
	if in.Name == "" || in.Email == "" || in.Phone == "" || in.Password == "" {
		return validationError("all fields are required")
	}
	if !validEmail(in.Email) {
		return validationError("email address is malformed")
	}
	if !validPhone(in.Phone) {
		return validationError("phone number is malformed")
	}
	if err := credential.ValidatePassword(in.Password); err != nil {
		return validationError(err.Error())
	}
	if in.Location != nil && !in.Location.Valid() {
		return validationError("location coordinates are out of range")
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// validPhone accepts an optional leading + followed by 3 to 15 digits.
func validPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 3 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
