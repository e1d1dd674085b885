package credential

import "golang.org/x/crypto/bcrypt"

// Hasher produces and checks one-way hashes of secrets. It is used for both
// account passwords and one-time codes.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(plaintext string, hash []byte) bool
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	cost  int
	dummy []byte
}

// NewBcryptHasher returns a bcrypt hasher at the given cost. Out of range costs
// fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("carepoint-dummy-secret"), cost)
	return &BcryptHasher{cost: cost, dummy: dummy}
}

// Hash returns the bcrypt hash of plaintext.
func (h *BcryptHasher) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare reports whether plaintext matches hash.
func (h *BcryptHasher) Compare(plaintext string, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(plaintext))
	return err == nil
}

// Burn spends the same work as a real comparison against a fixed hash so a
// missing account takes as long to reject as a wrong password.
func (h *BcryptHasher) Burn(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
