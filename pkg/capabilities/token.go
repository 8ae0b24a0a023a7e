package capabilities

import (
	"encoding/base64"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
)

// Scope discriminates a CapabilityToken's lifetime.
type Scope struct {
	Kind      ScopeKind  `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // set iff Kind == ScopeTTL
}

type ScopeKind string

const (
	ScopeSession    ScopeKind = "session"
	ScopePersistent ScopeKind = "persistent"
	ScopeTTL        ScopeKind = "ttl"
)

// SessionScope, PersistentScope and TTLScope are the three constructors for
// CapabilityToken.Scope.
func SessionScope() Scope    { return Scope{Kind: ScopeSession} }
func PersistentScope() Scope { return Scope{Kind: ScopePersistent} }
func TTLScope(expiresAt time.Time) Scope {
	e := expiresAt.UTC()
	return Scope{Kind: ScopeTTL, ExpiresAt: &e}
}

// CapabilityToken is an immutable, signed grant of authority for a resource
// pattern and permission set. Tokens are created only as the result of an
// approved request and are never mutated after creation -- scope or
// permission changes require revocation and re-issue (invariant 3).
type CapabilityToken struct {
	ID              action.ID              `json:"id"`
	ResourcePattern action.ResourcePattern `json:"resource_pattern"`
	Permissions     []action.Permission    `json:"permissions"`
	Scope           Scope                  `json:"scope"`
	Issuer          string                 `json:"issuer"` // hex Ed25519 public key
	AuditID         action.ID              `json:"audit_id"`
	CreatedAt       time.Time              `json:"created_at"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
	Signature       string                 `json:"signature"` // base64 Ed25519 signature
}

// signingPayload returns the canonical byte encoding covering every field
// except Signature itself -- the bytes the signature actually covers.
func (t CapabilityToken) signingPayload() ([]byte, error) {
	view := struct {
		ID              string              `json:"id"`
		ResourcePattern string              `json:"resource_pattern"`
		Permissions     []action.Permission `json:"permissions"`
		Scope           Scope               `json:"scope"`
		Issuer          string              `json:"issuer"`
		AuditID         string              `json:"audit_id"`
		CreatedAt       string              `json:"created_at"`
		Metadata        map[string]string   `json:"metadata"`
	}{
		ID:              string(t.ID),
		ResourcePattern: t.ResourcePattern.String(),
		Permissions:     t.Permissions,
		Scope:           t.Scope,
		Issuer:          t.Issuer,
		AuditID:         string(t.AuditID),
		CreatedAt:       action.Timestamp(t.CreatedAt),
		Metadata:        t.Metadata,
	}
	return canonicalize.JCS(view)
}

// Sign computes and attaches the signature over t's canonical payload using
// signer, and sets Issuer to the signer's public key.
func (t *CapabilityToken) Sign(signer *hkcrypto.Ed25519Signer) error {
	t.Issuer = signer.PublicKey()
	payload, err := t.signingPayload()
	if err != nil {
		return err
	}
	sigHex, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	sigBytes, err := hexDecode(sigHex)
	if err != nil {
		return err
	}
	t.Signature = base64.StdEncoding.EncodeToString(sigBytes)
	return nil
}

// verifySignature checks t.Signature against t's canonical payload under
// t.Issuer. It does not consult trust or expiry -- see Verifier.
func (t CapabilityToken) verifySignature() (bool, error) {
	payload, err := t.signingPayload()
	if err != nil {
		return false, err
	}
	sigBytes, err := base64.StdEncoding.DecodeString(t.Signature)
	if err != nil {
		return false, nil
	}
	sigHex := hexEncode(sigBytes)
	return hkcrypto.Verify(t.Issuer, sigHex, payload)
}

// IsExpired reports whether a TTL-scoped token has passed its expiry. Other
// scopes never expire by time (persistent tokens expire only via explicit
// revocation; session tokens expire when the session ends, tracked by the
// store, not the token).
func (t CapabilityToken) IsExpired(now time.Time) bool {
	return t.Scope.Kind == ScopeTTL && t.Scope.ExpiresAt != nil && now.After(*t.Scope.ExpiresAt)
}

// TokenHash returns the hex content hash of t's signing payload, recorded in
// an audit entry's AuthorizationProof so a reader can confirm which exact
// token version authorized an action without the audit log needing to store
// the token itself.
func TokenHash(t CapabilityToken) (string, error) {
	payload, err := t.signingPayload()
	if err != nil {
		return "", err
	}
	return hkcrypto.HashWithDomain("capability-token", payload).Hex(), nil
}

// HasPermission reports whether perm is in the token's permission set.
func (t CapabilityToken) HasPermission(perm action.Permission) bool {
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
