package account

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateIdentity is returned when a write would give a second account
	// the same email or phone.
	ErrDuplicateIdentity = errors.New("email or phone already in use")
)

// Account is a registered patient or doctor login.
type Account struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash []byte
	Verified     bool
	Challenge    *Challenge
	Location     *Location
	TokenVersion int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// Challenge is an outstanding one-time code awaiting confirmation.
type Challenge struct {
	Hash      []byte
	ExpiresAt time.Time
}

// Location is a profile coordinate in GeoJSON order.
type Location struct {
	Longitude float64
	Latitude  float64
}

// Valid reports whether the coordinate lies on the globe.
func (l Location) Valid() bool {
	return l.Longitude >= -180 && l.Longitude <= 180 && l.Latitude >= -90 && l.Latitude <= 90
}

// Pending reports whether the account has not completed registration.
func (a Account) Pending() bool {
	return !a.Verified
}

// MatchesIdentity reports whether handle is this account's email or phone.
func (a Account) MatchesIdentity(handle string) bool {
	return handle != "" && (handle == a.Email || handle == a.Phone)
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeIdentity trims a handle and lower-cases it when it is an email.
// Phone handles lose their formatting separators.
func NormalizeIdentity(handle string) string {
	handle = strings.TrimSpace(handle)
	if strings.Contains(handle, "@") {
		return strings.ToLower(handle)
	}
	return phoneSeparators.Replace(handle)
}
