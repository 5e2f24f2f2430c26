package state

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenEnvVar overrides any stored backend token.
const TokenEnvVar = "BUGNOSIS_GITHUB_TOKEN"

// ErrCredentialNotFound is returned when no token is stored.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore persists the token handed to the scanning backend.
// Keys are backend names; only "github" is used today.
type CredentialStore interface {
	SetToken(name, token string) error
	GetToken(name string) (string, error)
	DeleteToken(name string) error
}

// MemoryCredentialStore keeps tokens for the lifetime of the process.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{tokens: make(map[string]string)}
}

func (s *MemoryCredentialStore) SetToken(name, token string) error {
	if name == "" {
		return errors.New("credential name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[name] = token
	return nil
}

func (s *MemoryCredentialStore) GetToken(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[name]
	if !ok {
		return "", ErrCredentialNotFound
	}
	return tok, nil
}

func (s *MemoryCredentialStore) DeleteToken(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, name)
	return nil
}

// ResolveToken returns the backend token, checking TokenEnvVar before the
// store. An empty string means the backend runs unauthenticated.
func ResolveToken(cs CredentialStore) (string, error) {
	if v := strings.TrimSpace(os.Getenv(TokenEnvVar)); v != "" {
		return v, nil
	}
	if cs == nil {
		return "", nil
	}
	tok, err := cs.GetToken("github")
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("credential store failure: %w", err)
	}
	return strings.TrimSpace(tok), nil
}

// RedactToken shortens a token for log output.
func RedactToken(tok string) string {
	switch {
	case tok == "":
		return ""
	case len(tok) <= 4:
		return "***"
	default:
		return tok[:4] + "***"
	}
}
