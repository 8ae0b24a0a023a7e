package crypto

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RuntimeKeyStore persists the process-wide Ed25519 runtime key to disk so
// a restarted daemon signs with the same identity its audit chain and
// already-issued capability tokens were signed under, rather than minting
// a new, untrusted key on every restart. Grounded on the donor's
// file-backed SoftHSM pattern, trimmed to the single key shape this kernel
// needs.
type RuntimeKeyStore struct {
	keyDir string
	mu     sync.Mutex
}

// NewRuntimeKeyStore creates a store rooted at keyDir, creating it with
// owner-only permissions if it does not exist.
func NewRuntimeKeyStore(keyDir string) (*RuntimeKeyStore, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key dir: %w", err)
	}
	return &RuntimeKeyStore{keyDir: keyDir}, nil
}

// LoadOrCreate returns the signer for keyLabel, generating and persisting
// a new keypair on first use. File permissions are 0600.
func (ks *RuntimeKeyStore) LoadOrCreate(keyLabel string) (*Ed25519Signer, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	path := filepath.Join(ks.keyDir, keyLabel+".key")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		signer, err := NewEd25519Signer(keyLabel)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, signer.privKey, 0600); err != nil {
			return nil, fmt.Errorf("failed to persist runtime key: %w", err)
		}
		return signer, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime key: %w", err)
	}
	if len(raw) == ed25519.SeedSize {
		raw = ed25519.NewKeyFromSeed(raw)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid runtime key size: %d", len(raw))
	}
	return NewEd25519SignerFromKey(ed25519.PrivateKey(raw), keyLabel), nil
}
