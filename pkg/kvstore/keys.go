// Package kvstore implements the workspace state file described in §6: a
// single workspace-scoped key-value store at
// "<workspace>/.<product>/state" holding the cumulative budget counter,
// exported workspace allowances, the cumulative audit sequence pointer, and
// deferred approvals. It is backed by modernc.org/sqlite, the pure-Go
// SQLite driver the donor already depends on for its own embedded stores.
package kvstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// subkeySize is the AES-256 key width derived for each purpose.
const subkeySize = 32

// DeriveSubkey derives a purpose-scoped AES-256 key from the runtime
// signing key's seed using HKDF-SHA256, so the workspace KV store's
// at-rest encryption key is never the runtime key itself, and keys derived
// for different purpose strings are independent. Store derives a single
// "kvstore-blobs" subkey that seals both deferred-approval payloads and
// allowance bundles. runtimeSeed is the Ed25519 private
// key's seed (ed25519.PrivateKey.Seed()), not the whole 64-byte key.
func DeriveSubkey(runtimeSeed []byte, purpose string) ([subkeySize]byte, error) {
	var out [subkeySize]byte
	r := hkdf.New(sha256.New, runtimeSeed, []byte("helm-trust-kernel-kvstore"), []byte(purpose))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("kvstore: derive subkey for %q: %w", purpose, err)
	}
	return out, nil
}

// sealer wraps an AES-256-GCM cipher keyed by a derived subkey, used to
// encrypt blobs (deferred-approval payloads, allowance bundles) before they
// are written to the SQLite file.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key [subkeySize]byte) (*sealer, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("kvstore: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kvstore: gcm: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts plaintext, prefixing the output with a fresh random nonce.
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kvstore: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a blob produced by seal.
func (s *sealer) open(ciphertext []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("kvstore: ciphertext too short")
	}
	nonce, body := ciphertext[:n], ciphertext[n:]
	plaintext, err := s.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: decrypt: %w", err)
	}
	return plaintext, nil
}
