package account

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store for tests and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account)}
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.ID]; exists {
		return ErrDuplicateIdentity
	}
	if r.conflictLocked(account) {
		return ErrDuplicateIdentity
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

func (r *memoryRepository) Save(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.ID]; !exists {
		return ErrNotFound
	}
	if r.conflictLocked(account) {
		return ErrDuplicateIdentity
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(account), nil
}

func (r *memoryRepository) FindByIdentity(_ context.Context, handle string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Account
	for _, account := range r.accounts {
		if !account.MatchesIdentity(handle) {
			continue
		}
		if found == nil || (account.Verified && !found.Verified) {
			a := account
			found = &a
		}
	}
	if found == nil {
		return Account{}, ErrNotFound
	}
	return clone(*found), nil
}

func (r *memoryRepository) FindByEmailOrPhone(_ context.Context, email, phone string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, account := range r.accounts {
		if (email != "" && account.Email == email) || (phone != "" && account.Phone == phone) {
			out = append(out, clone(account))
		}
	}
	return out, nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.TokenVersion = version
	r.accounts[id] = account
	return nil
}

// conflictLocked reports whether another account already holds the email or phone.
func (r *memoryRepository) conflictLocked(account Account) bool {
	for id, existing := range r.accounts {
		if id == account.ID {
			continue
		}
		if existing.Email == account.Email || (account.Phone != "" && existing.Phone == account.Phone) {
			return true
		}
	}
	return false
}

// clone copies pointer fields so callers never share state with the store.
func clone(a Account) Account {
	if a.Challenge != nil {
		c := *a.Challenge
		c.Hash = append([]byte(nil), c.Hash...)
		a.Challenge = &c
	}
	if a.Location != nil {
		l := *a.Location
		a.Location = &l
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		a.LastLoginAt = &t
	}
	a.PasswordHash = append([]byte(nil), a.PasswordHash...)
	return a
}
