package allowance

import (
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
)

// Store holds allowances behind a single reader-writer lock. The atomic
// find-and-consume operation is the central correctness constraint of the
// whole allowance subsystem: a naive two-call sequence (find, then
// decrement) could let two concurrent callers both observe
// uses_remaining == 1 and both proceed, double-spending a single-use grant.
// FindMatchingAndConsume holds the write lock across the whole
// find-test-decrement-reap sequence to close that race, following
// astrid-approval's store.rs find_matching_and_consume.
type Store struct {
	mu    sync.RWMutex
	byID  map[action.ID]Allowance
	clock func() time.Time
}

// NewStore creates an empty allowance store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[action.ID]Allowance),
		clock: time.Now,
	}
}

// WithClock overrides the store's time source.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Add stores a.
func (s *Store) Add(a Allowance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
}

// FindMatching is the read-only counterpart of FindMatchingAndConsume: it
// reports a matching valid allowance without consuming a use. Used by
// callers that only need to know whether an allowance *would* cover an
// action (e.g. UI hinting), never by the interceptor's authorization path.
func (s *Store) FindMatching(uri string, perm action.Permission, workspaceRoot string) (Allowance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	for _, a := range s.byID {
		if s.eligible(a, uri, perm, workspaceRoot, now) {
			return a, true
		}
	}
	return Allowance{}, false
}

func (s *Store) eligible(a Allowance, uri string, perm action.Permission, workspaceRoot string, now time.Time) bool {
	if !a.IsValid(now) {
		return false
	}
	if a.Permission != perm {
		return false
	}
	if !a.MatchesWorkspace(workspaceRoot) {
		return false
	}
	return a.ActionPattern.Matches(uri)
}

// FindMatchingAndConsume performs the atomic read-modify-write the
// specification's §4.3 and §8 property 4 demand: under a single write lock,
// it reaps expired allowances, finds the first eligible match, decrements
// its UsesRemaining if bounded, and returns a copy of the post-decrement
// state. The critical section performs no I/O and never awaits, per the
// concurrency discipline in §5.
func (s *Store) FindMatchingAndConsume(uri string, perm action.Permission, workspaceRoot string) (Allowance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.reapExpiredLocked(now)

	for id, a := range s.byID {
		if !s.eligible(a, uri, perm, workspaceRoot, now) {
			continue
		}
		if a.UsesRemaining != nil {
			remaining := *a.UsesRemaining - 1
			a.UsesRemaining = &remaining
		}
		s.byID[id] = a
		return a, true
	}
	return Allowance{}, false
}

// ConsumeUse decrements a specific allowance's remaining-use counter by one,
// saturating at zero, and reports whether the allowance was found and had a
// bounded use count to decrement.
func (s *Store) ConsumeUse(id action.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.UsesRemaining == nil {
		return false
	}
	if *a.UsesRemaining > 0 {
		remaining := *a.UsesRemaining - 1
		a.UsesRemaining = &remaining
		s.byID[id] = a
	}
	return true
}

// reapExpiredLocked removes expired allowances. Must be called with mu held.
func (s *Store) reapExpiredLocked(now time.Time) {
	for id, a := range s.byID {
		if a.IsExpired(now) {
			delete(s.byID, id)
		}
	}
}

// CleanupExpired is the cleanup pass: it removes every expired allowance and
// every exhausted one (UsesRemaining at zero) and returns the count removed.
// Between cleanup passes an exhausted allowance stays in the store.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	before := len(s.byID)
	s.reapExpiredLocked(now)
	for id, a := range s.byID {
		if !a.HasUsesRemaining() {
			delete(s.byID, id)
		}
	}
	return before - len(s.byID)
}

// ClearSessionAllowances drops every session-scoped allowance, called when a
// session ends.
func (s *Store) ClearSessionAllowances() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.byID {
		if a.SessionOnly {
			delete(s.byID, id)
		}
	}
}

// ClearSession drops only the allowances scoped to a particular sessionID.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.byID {
		if a.SessionOnly && a.SessionID == sessionID {
			delete(s.byID, id)
		}
	}
}

// ExportSessionAllowances returns every unexpired session-scoped allowance,
// including exhausted ones that no cleanup pass has removed yet.
func (s *Store) ExportSessionAllowances() []Allowance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	var out []Allowance
	for _, a := range s.byID {
		if a.SessionOnly && !a.IsExpired(now) {
			out = append(out, a)
		}
	}
	return out
}

// ExportWorkspaceAllowances returns every currently-valid workspace-scoped
// allowance, for persistence into the workspace KV store.
func (s *Store) ExportWorkspaceAllowances() []Allowance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock()
	var out []Allowance
	for _, a := range s.byID {
		if !a.SessionOnly && a.WorkspaceRoot != "" && a.IsValid(now) {
			out = append(out, a)
		}
	}
	return out
}

// ImportAllowances adds every currently-valid allowance from in, silently
// dropping any that are already expired or exhausted.
func (s *Store) ImportAllowances(in []Allowance) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	n := 0
	for _, a := range in {
		if a.IsValid(now) {
			s.byID[a.ID] = a
			n++
		}
	}
	return n
}

// Count returns the number of allowances currently held, including expired
// or exhausted ones not yet reaped.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Get retrieves an allowance by ID, for callers (audits, exports) that need
// to inspect a specific allowance's post-consume state.
func (s *Store) Get(id action.ID) (Allowance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}
