package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/carepoint-health/carepoint/internal/credential"
)

const (
	// CodeLength is the number of digits in an issued code.
	CodeLength = 6
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute
)

var codeSpace = big.NewInt(1_000_000)

// Issued is a freshly generated code. Code is the only copy of the plaintext
// and must go to the notifier, never to storage.
type Issued struct {
	Code      string
	Hash      []byte
	ExpiresAt time.Time
}

// Generator issues and checks one-time codes.
type Generator struct {
	hasher credential.Hasher
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(g *Generator) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// NewGenerator builds a code generator hashing through hasher.
func NewGenerator(hasher credential.Hasher, opts ...Option) *Generator {
	g := &Generator{hasher: hasher, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Issue returns a new random code, its hash, and an expiry exactly TTL from now.
func (g *Generator) Issue() (Issued, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return Issued{}, fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%0*d", CodeLength, n.Int64())
	hash, err := g.hasher.Hash(code)
	if err != nil {
		return Issued{}, fmt.Errorf("hash otp: %w", err)
	}
	return Issued{Code: code, Hash: hash, ExpiresAt: g.now().UTC().Add(g.ttl)}, nil
}

// Verify reports whether code matches hash.
func (g *Generator) Verify(code string, hash []byte) bool {
	if len(code) != CodeLength {
		return false
	}
	return g.hasher.Compare(code, hash)
}

// TTL returns the configured validity window.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}
