package capabilities

import (
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
)

// TokenStore holds signed CapabilityToken records behind a single
// reader-writer lock; reads release the lock before calling into any other
// store, matching the locking discipline the specification requires of
// every component the interceptor consults.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[action.ID]CapabilityToken
	clock  func() time.Time
}

// NewTokenStore creates an empty in-memory capability store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[action.ID]CapabilityToken),
		clock:  time.Now,
	}
}

// WithClock overrides the store's time source, letting tests and the
// runtime inject an authority clock instead of reading the wall clock
// directly inside match/expiry logic.
func (s *TokenStore) WithClock(clock func() time.Time) *TokenStore {
	s.clock = clock
	return s
}

// Add stores token, keyed by its ID. Tokens are immutable once stored.
func (s *TokenStore) Add(token CapabilityToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return nil
}

// Get retrieves a token by id.
func (s *TokenStore) Get(id action.ID) (CapabilityToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	return t, ok
}

// Revoke removes a token from the store. Once revoked a token's ID is never
// reused.
func (s *TokenStore) Revoke(id action.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return kernelerrors.New(kernelerrors.KindStoreError, "capabilities.Revoke")
	}
	delete(s.tokens, id)
	return nil
}

// List returns every non-expired token, lazily filtering out expired TTL
// tokens on read rather than running a background reaper.
func (s *TokenStore) List() []CapabilityToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	out := make([]CapabilityToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		if t.IsExpired(now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FindCapability iterates non-revoked, non-expired tokens whose permission
// set contains perm and whose resource pattern matches resourceURI,
// returning the first hit, ties broken by most-recently-created. The read
// lock is released before this function returns -- no other store is
// touched while it is held.
func (s *TokenStore) FindCapability(resourceURI string, perm action.Permission) (CapabilityToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var best CapabilityToken
	found := false
	for _, t := range s.tokens {
		if t.IsExpired(now) || !t.HasPermission(perm) {
			continue
		}
		if !t.ResourcePattern.Matches(resourceURI) {
			continue
		}
		if !found || t.CreatedAt.After(best.CreatedAt) {
			best = t
			found = true
		}
	}
	return best, found
}
