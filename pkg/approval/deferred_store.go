package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
)

// FileDeferredStore persists pending requests as a JSON file under the
// workspace state directory, keyed by request ID -- the deferred-approvals
// section of the workspace state file described in §6.
type FileDeferredStore struct {
	mu   sync.Mutex
	path string
}

// NewFileDeferredStore opens (or creates) path as a deferred-approval
// store. File permissions are 0600, per §6.
func NewFileDeferredStore(path string) (*FileDeferredStore, error) {
	s := &FileDeferredStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeAll(map[string]Request{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileDeferredStore) readAll() (map[string]Request, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Request{}, nil
		}
		return nil, fmt.Errorf("approval: read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return map[string]Request{}, nil
	}
	var m map[string]Request
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("approval: decode %s: %w", s.path, err)
	}
	return m, nil
}

func (s *FileDeferredStore) writeAll(m map[string]Request) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("approval: encode deferred store: %w", err)
	}
	return os.WriteFile(s.path, b, 0o600)
}

// Save persists req under its ID, overwriting any existing entry.
func (s *FileDeferredStore) Save(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return err
	}
	m[string(req.ID)] = req
	return s.writeAll(m)
}

// Load returns every persisted deferred request.
func (s *FileDeferredStore) Load() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out, nil
}

// Delete removes id from the store, if present.
func (s *FileDeferredStore) Delete(id action.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := m[string(id)]; !ok {
		return nil
	}
	delete(m, string(id))
	return s.writeAll(m)
}
