package crypto

import (
	"sort"
	"sync"
)

// KeyRing is a set of trusted signers, keyed by key ID, supporting
// rotation: a new key is added before the old one is revoked, so
// in-flight tokens signed under the old key keep verifying until it is
// explicitly dropped. It is the rotation-aware building block for any
// component that needs to hold more than one trusted signer at a time;
// pkg/capabilities.Verifier tracks its trusted issuers separately (a
// flat set of public keys with no rotation bookkeeping) since capability
// tokens are validated by raw issuer public key, not by key ID.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]*Ed25519Signer
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		signers: make(map[string]*Ed25519Signer),
	}
}

// AddKey adds or replaces a signer in the keyring, keyed by its KeyID.
func (k *KeyRing) AddKey(s *Ed25519Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID] = s
}

// RevokeKey removes a key from the keyring by ID. A token or audit entry
// signed under a revoked key ID no longer verifies.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
}

// Trusted reports whether pubKeyHex belongs to any key currently in the
// ring -- the "issuer ∈ trusted set" half of §4.2's token validity check.
func (k *KeyRing) Trusted(pubKeyHex string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, s := range k.signers {
		if s.PublicKey() == pubKeyHex {
			return true
		}
	}
	return false
}

// VerifyKey verifies signature for a specific key ID.
func (k *KeyRing) VerifyKey(keyID string, message []byte, signature []byte) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	signer, exists := k.signers[keyID]
	if !exists {
		return false
	}
	return signer.Verify(message, signature)
}

// Verify tries every key currently in the ring, returning true if any one
// of them produced the signature. Used when the verifying caller does not
// know which key ID signed the payload (e.g. a raw pubkey-hex signature
// with no embedded key ID).
func (k *KeyRing) Verify(message []byte, signature []byte) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, s := range k.signers {
		if s.Verify(message, signature) {
			return true
		}
	}
	return false
}

// ActiveKeyID returns the deterministically-selected "current" key: the
// lexicographically last key ID. Used when a caller needs a single signer
// from a ring primarily used for verification (e.g. minting a fresh
// capability token after a rotation).
func (k *KeyRing) ActiveKeyID() (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activeKeyIDLocked()
}

// Active returns the signer for ActiveKeyID.
func (k *KeyRing) Active() (*Ed25519Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.activeKeyIDLocked()
	if !ok {
		return nil, false
	}
	return k.signers[id], true
}

// activeKeyIDLocked is ActiveKeyID's body, callable while mu is already
// held for reading.
func (k *KeyRing) activeKeyIDLocked() (string, bool) {
	if len(k.signers) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(k.signers))
	for id := range k.signers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys[len(keys)-1], true
}
