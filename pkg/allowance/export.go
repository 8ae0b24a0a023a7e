package allowance

import (
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
)

// WorkspaceBundleDomain is the BLAKE3 domain string for signed workspace
// allowance bundles, distinct from "audit-entry" so the two hash spaces
// never collide.
const WorkspaceBundleDomain = "workspace-allowance-bundle"

// WorkspaceBundle wraps an exported workspace allowance set in the same
// canonical-JSON + signature discipline as audit entries, so the set can be
// copied between machines without forgery risk -- grounded in
// export_workspace_allowances, extended with the domain-separated signing
// style used for audit entries and capability tokens.
type WorkspaceBundle struct {
	WorkspaceRoot string      `json:"workspace_root"`
	CreatedAt     time.Time   `json:"created_at"`
	Allowances    []Allowance `json:"allowances"`
	BundleHash    string      `json:"bundle_hash"` // hex BLAKE3
	Signature     string      `json:"signature"`   // base64 Ed25519
}

func (b WorkspaceBundle) hashInput() ([]byte, error) {
	view := struct {
		WorkspaceRoot string      `json:"workspace_root"`
		CreatedAt     string      `json:"created_at"`
		Allowances    []Allowance `json:"allowances"`
	}{
		WorkspaceRoot: b.WorkspaceRoot,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339Nano),
		Allowances:    b.Allowances,
	}
	return canonicalize.JCS(view)
}

// ExportWorkspaceBundle builds and signs a WorkspaceBundle from the store's
// currently-valid workspace-scoped allowances rooted at workspaceRoot.
func (s *Store) ExportWorkspaceBundle(workspaceRoot string, signer *hkcrypto.Ed25519Signer, now time.Time) (WorkspaceBundle, error) {
	var matched []Allowance
	for _, a := range s.ExportWorkspaceAllowances() {
		if a.WorkspaceRoot == workspaceRoot {
			matched = append(matched, a)
		}
	}
	b := WorkspaceBundle{WorkspaceRoot: workspaceRoot, CreatedAt: now.UTC(), Allowances: matched}

	payload, err := b.hashInput()
	if err != nil {
		return WorkspaceBundle{}, err
	}
	hash := hkcrypto.HashWithDomain(WorkspaceBundleDomain, payload)
	b.BundleHash = hash.Hex()

	sigHex, err := signer.Sign(hash[:])
	if err != nil {
		return WorkspaceBundle{}, err
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return WorkspaceBundle{}, err
	}
	b.Signature = base64.StdEncoding.EncodeToString(sigBytes)
	return b, nil
}

// VerifyWorkspaceBundle recomputes the bundle hash and checks its signature
// under issuerPubKeyHex.
func VerifyWorkspaceBundle(b WorkspaceBundle, issuerPubKeyHex string) (bool, error) {
	payload, err := b.hashInput()
	if err != nil {
		return false, err
	}
	hash := hkcrypto.HashWithDomain(WorkspaceBundleDomain, payload)
	if hash.Hex() != b.BundleHash {
		return false, nil
	}
	sigBytes, err := base64.StdEncoding.DecodeString(b.Signature)
	if err != nil {
		return false, nil
	}
	return hkcrypto.Verify(issuerPubKeyHex, hex.EncodeToString(sigBytes), hash[:])
}
