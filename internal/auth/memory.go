package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryAuthenticator checks logins against an in-process table of user
// names and bcrypt hashes.
type MemoryAuthenticator struct {
	hasher *PasswordHasher

	mu    sync.RWMutex
	users map[string]string
}

// NewMemoryAuthenticator returns an empty table. hasher is used by Add.
func NewMemoryAuthenticator(hasher *PasswordHasher) *MemoryAuthenticator {
	if hasher == nil {
		hasher = NewPasswordHasher(DefaultBcryptCost)
	}
	return &MemoryAuthenticator{
		hasher: hasher,
		users:  make(map[string]string),
	}
}

// Demo returns the table with the built-in demo accounts.
func Demo(hasher *PasswordHasher) (*MemoryAuthenticator, error) {
	a := NewMemoryAuthenticator(hasher)
	for user, password := range map[string]string{
		"flori": "test",
		"alter": "ego",
	} {
		if err := a.Add(user, password); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Add hashes password and stores it for userName, replacing any entry.
func (a *MemoryAuthenticator) Add(userName, password string) error {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", userName, err)
	}
	a.SetHash(userName, hash)
	return nil
}

// SetHash stores an already hashed password for userName.
func (a *MemoryAuthenticator) SetHash(userName, hash string) {
	a.mu.Lock()
	a.users[userName] = hash
	a.mu.Unlock()
}

// Len returns the number of known users.
func (a *MemoryAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// Allowed reports whether password matches the stored hash for userName.
func (a *MemoryAuthenticator) Allowed(_ context.Context, userName, password string) bool {
	a.mu.RLock()
	hash, ok := a.users[userName]
	a.mu.RUnlock()

	return ok && a.hasher.Verify(password, hash)
}

// usersFile is the YAML shape of a users file:
//
//	users:
//	  flori: $2a$12$...
type usersFile struct {
	Users map[string]string `yaml:"users"`
}

// LoadUsersFile reads user names and bcrypt hashes from a YAML file.
func LoadUsersFile(path string, hasher *PasswordHasher) (*MemoryAuthenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	a := NewMemoryAuthenticator(hasher)
	for user, hash := range f.Users {
		if user == "" || hash == "" {
			return nil, fmt.Errorf("users file %s: empty user name or hash", path)
		}
		a.SetHash(user, hash)
	}
	return a, nil
}
