// Package auditlog implements the hash-chained, signed audit log: the
// append-only record of every security decision the interceptor makes.
// Every entry embeds the content hash of its predecessor (BLAKE3, domain
// string "audit-entry"), is signed with the runtime Ed25519 key, and carries
// an AuthorizationProof discriminating which layer of the pipeline allowed
// the action it describes.
package auditlog

import (
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
)

// DomainString is the fixed prefix mixed into every entry hash, preventing a
// hash computed for one purpose (a capability token digest, say) from ever
// colliding with an audit entry hash. Implementations in other languages
// must use this exact string.
const DomainString = "audit-entry"

// Outcome discriminates whether the described action was permitted or
// denied; a denial is still recorded (§7 "Propagation": every failure
// produces either an audit entry or a log record).
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// ProofKind discriminates AuthorizationProof variants.
type ProofKind string

const (
	ProofPolicyAllowed     ProofKind = "policy_allowed"
	ProofUserApproval      ProofKind = "user_approval"
	ProofCapability        ProofKind = "capability"
	ProofSessionApproval   ProofKind = "session_approval"
	ProofWorkspaceApproval ProofKind = "workspace_approval"
	ProofCapabilityCreated ProofKind = "capability_created"
	ProofAllowance         ProofKind = "allowance"
	ProofNotRequired       ProofKind = "not_required"
)

// AuthorizationProof is the "why was this allowed?" discriminator recorded
// in every audit entry. Exactly the fields relevant to Kind are meaningful,
// following the same tagged-union-via-discriminator rendering as
// action.SensitiveAction.
type AuthorizationProof struct {
	Kind ProofKind `json:"kind"`

	ApprovalEntryID action.ID `json:"approval_entry_id,omitempty"` // UserApproval, CapabilityCreated
	TokenID         action.ID `json:"token_id,omitempty"`          // Capability, CapabilityCreated
	TokenHash       string    `json:"token_hash,omitempty"`        // Capability
	AllowanceID     action.ID `json:"allowance_id,omitempty"`      // SessionApproval, WorkspaceApproval, Allowance
	Reason          string    `json:"reason,omitempty"`            // NotRequired
}

// Entry is one immutable link in the hash chain. Entries are never mutated
// or deleted once appended.
type Entry struct {
	ID               action.ID          `json:"id"`
	Sequence         uint64             `json:"sequence"`
	Timestamp        time.Time          `json:"timestamp"`
	PreviousHash     crypto.ContentHash `json:"previous_hash"`
	Actor            string             `json:"actor"`
	ActionType       string             `json:"action"`
	ActionSummary    string             `json:"action_summary"`
	ResourceURI      string             `json:"resource_uri,omitempty"`
	Outcome          Outcome            `json:"outcome"`
	DenialReason     string             `json:"denial_reason,omitempty"`
	AuthorizationProof AuthorizationProof `json:"authorization_proof"`

	EntryHash crypto.ContentHash `json:"entry_hash"`
	Signature string             `json:"signature"` // base64 Ed25519 signature over EntryHash
}

// canonicalView is the field set hashed to produce EntryHash: every field of
// Entry except EntryHash and Signature themselves, with deterministic
// encodings for timestamps and identifiers (§4.5 "Canonical encoding").
type canonicalView struct {
	ID                 string             `json:"id"`
	Sequence           uint64             `json:"sequence"`
	Timestamp          string             `json:"timestamp"`
	PreviousHash       string             `json:"previous_hash"`
	Actor              string             `json:"actor"`
	ActionType         string             `json:"action"`
	ActionSummary      string             `json:"action_summary"`
	ResourceURI        string             `json:"resource_uri"`
	Outcome            Outcome            `json:"outcome"`
	DenialReason       string             `json:"denial_reason"`
	AuthorizationProof AuthorizationProof `json:"authorization_proof"`
}

func (e Entry) canonicalBytes() ([]byte, error) {
	return canonicalize.JCS(canonicalView{
		ID:                 string(e.ID),
		Sequence:           e.Sequence,
		Timestamp:          action.Timestamp(e.Timestamp),
		PreviousHash:       e.PreviousHash.Hex(),
		Actor:              e.Actor,
		ActionType:         e.ActionType,
		ActionSummary:      e.ActionSummary,
		ResourceURI:        e.ResourceURI,
		Outcome:            e.Outcome,
		DenialReason:       e.DenialReason,
		AuthorizationProof: e.AuthorizationProof,
	})
}

// computeHash returns BLAKE3(DomainString || canonical(e sans hash/sig)).
func (e Entry) computeHash() (crypto.ContentHash, error) {
	b, err := e.canonicalBytes()
	if err != nil {
		return crypto.ContentHash{}, err
	}
	return crypto.HashWithDomain(DomainString, b), nil
}
