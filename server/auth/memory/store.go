// Package memory authenticates API users against a fixed set of accounts,
// normally the auth.users section of the configuration.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/cyp0633/librecur/server/auth"
)

// account holds either a bcrypt hash or a plain password.
type account struct {
	secret []byte
	hashed bool
}

// Store implements auth.Authenticator over an in-memory account table
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account // map[username]account
	logger   *slog.Logger
	err      error
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUsers loads accounts from a username to password map. Passwords that
// look like bcrypt hashes ("$2a$", "$2b$", "$2y$") are compared as hashes.
func WithUsers(users map[string]string) Option {
	return func(s *Store) {
		for name, password := range users {
			if err := s.AddUser(name, password); err != nil && s.err == nil {
				s.err = err
			}
		}
	}
}

// New creates the store. It fails if an account from WithUsers is invalid.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		accounts: make(map[string]account),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

// AddUser registers an account. password may be a bcrypt hash.
func (s *Store) AddUser(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("user %q: username and password are required", username)
	}

	acct := account{secret: []byte(password)}
	if isBcryptHash(password) {
		if _, err := bcrypt.Cost(acct.secret); err != nil {
			return fmt.Errorf("user %q: invalid bcrypt hash: %w", username, err)
		}
		acct.hashed = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[username]; exists {
		return fmt.Errorf("user already exists: %s", username)
	}
	s.accounts[username] = acct

	s.logger.Debug("user registered",
		"username", username,
		"hashed", acct.hashed)
	return nil
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *Store) Authenticate(_ context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	acct, exists := s.accounts[creds.Username]
	s.mu.RUnlock()

	if !exists || !acct.matches(creds.Password) {
		s.logger.Info("authentication failed",
			"username", creds.Username,
			"known_user", exists)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	return &auth.Principal{ID: creds.Username}, nil
}

func (a account) matches(password string) bool {
	if a.hashed {
		return bcrypt.CompareHashAndPassword(a.secret, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
