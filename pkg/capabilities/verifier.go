package capabilities

import (
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
)

// AuthorizationResult is the outcome of Verifier.Check: either the action is
// Authorized under a specific token, or it RequiresApproval.
type AuthorizationResult struct {
	Authorized bool
	Token      *CapabilityToken
}

// Verifier validates tokens against a set of trusted issuer public keys, not
// just the single runtime key -- a delegated signer (e.g. a CI pipeline's
// own keypair) can issue capability tokens the kernel still honors, mirroring
// CapabilityValidator's trust_issuer builder in the original implementation.
type Verifier struct {
	mu       sync.RWMutex
	store    *TokenStore
	trusted  map[string]bool // hex public keys
	clock    func() time.Time
}

// NewVerifier builds a Verifier backed by store, trusting no issuers yet.
func NewVerifier(store *TokenStore) *Verifier {
	return &Verifier{
		store:   store,
		trusted: make(map[string]bool),
		clock:   time.Now,
	}
}

// TrustIssuer adds a public key (hex-encoded) to the trusted set. Builder
// style: returns the receiver so callers can chain TrustIssuer calls.
func (v *Verifier) TrustIssuer(pubKeyHex string) *Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trusted[pubKeyHex] = true
	return v
}

// WithClock overrides the verifier's time source.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

func (v *Verifier) isTrusted(issuer string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trusted[issuer]
}

// Check looks up a capability token covering (resourceURI, perm). If found
// and the token verifies (expiry, signature, trusted issuer), it returns
// Authorized. A token that fails verification yields Authorized false
// together with kernelerrors.SignatureInvalid; the interceptor treats that
// error as non-fatal and falls through to the allowance store. Check does
// not log or audit the failure.
func (v *Verifier) Check(resourceURI string, perm action.Permission) (AuthorizationResult, error) {
	tok, ok := v.store.FindCapability(resourceURI, perm)
	if !ok {
		return AuthorizationResult{Authorized: false}, nil
	}
	valid, err := v.ValidateToken(tok)
	if err != nil {
		return AuthorizationResult{}, err
	}
	if !valid {
		return AuthorizationResult{Authorized: false}, kernelerrors.SignatureInvalid
	}
	t := tok
	return AuthorizationResult{Authorized: true, Token: &t}, nil
}

// ValidateToken checks expiry, signature validity, and issuer trust -- the
// three conditions the specification requires for a token to be "valid".
func (v *Verifier) ValidateToken(t CapabilityToken) (bool, error) {
	if t.IsExpired(v.clock()) {
		return false, nil
	}
	if !v.isTrusted(t.Issuer) {
		return false, nil
	}
	ok, err := t.verifySignature()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ValidateByID loads a token by ID from the backing store and validates it.
func (v *Verifier) ValidateByID(id action.ID) (bool, error) {
	t, ok := v.store.Get(id)
	if !ok {
		return false, kernelerrors.New(kernelerrors.KindStoreError, "capabilities.ValidateByID")
	}
	return v.ValidateToken(t)
}

// MultiCheck batches several (resource, permission) authorization checks so
// a caller staging an atomic multi-resource operation (e.g. a move that
// reads its source and writes its destination) can learn which legs are
// already authorized without issuing one intercept call per leg.
type MultiCheck struct {
	verifier *Verifier
	pairs    []multiCheckPair
}

type multiCheckPair struct {
	resourceURI string
	permission  action.Permission
	result      AuthorizationResult
}

// NewMultiCheck creates a batch authorization check against v.
func NewMultiCheck(v *Verifier) *MultiCheck {
	return &MultiCheck{verifier: v}
}

// Add stages a (resource, permission) pair for CheckAll.
func (m *MultiCheck) Add(resourceURI string, perm action.Permission) *MultiCheck {
	m.pairs = append(m.pairs, multiCheckPair{resourceURI: resourceURI, permission: perm})
	return m
}

// CheckAll runs Verifier.Check for every staged pair and records the result.
func (m *MultiCheck) CheckAll() error {
	for i, p := range m.pairs {
		res, err := m.verifier.Check(p.resourceURI, p.permission)
		if err != nil {
			return err
		}
		m.pairs[i].result = res
	}
	return nil
}

// AllAuthorized reports whether every staged pair was authorized by a
// capability token after CheckAll ran.
func (m *MultiCheck) AllAuthorized() bool {
	for _, p := range m.pairs {
		if !p.result.Authorized {
			return false
		}
	}
	return true
}

// NeedsApproval returns the subset of staged (resource, permission) pairs
// that were not covered by a capability token.
func (m *MultiCheck) NeedsApproval() []string {
	var out []string
	for _, p := range m.pairs {
		if !p.result.Authorized {
			out = append(out, p.resourceURI)
		}
	}
	return out
}
