package conn

import "sync"

// CredentialStore is the opaque per-account secret storage. The real
// implementation lives outside this core; the in-memory one below backs
// tests and single-process deployments.
type CredentialStore interface {
	AccessToken(accountID string) (string, bool)
	SaveAccessToken(accountID, token string)
	SaveRefreshToken(accountID, token string)
}

// MemoryCredentialStore keeps tokens in process memory.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	access  map[string]string
	refresh map[string]string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		access:  make(map[string]string),
		refresh: make(map[string]string),
	}
}

func (s *MemoryCredentialStore) AccessToken(accountID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.access[accountID]
	return token, ok && token != ""
}

func (s *MemoryCredentialStore) SaveAccessToken(accountID, token string) {
	s.mu.Lock()
	s.access[accountID] = token
	s.mu.Unlock()
}

func (s *MemoryCredentialStore) SaveRefreshToken(accountID, token string) {
	s.mu.Lock()
	s.refresh[accountID] = token
	s.mu.Unlock()
}
