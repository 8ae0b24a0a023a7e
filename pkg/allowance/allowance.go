// Package allowance implements scoped, signed pre-approvals for a class of
// actions, consumed as they are used. It is the Go rendering of
// astrid-approval's allowance module: session-scoped allowances cleared when
// a session ends, and workspace-scoped allowances persisted to the workspace
// key-value store and matched only within their originating workspace.
package allowance

import (
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
)

// Allowance is a scoped pre-approval for actions matching ActionPattern.
// Use counting is atomic (see Store.FindMatchingAndConsume); once
// UsesRemaining reaches zero the allowance is invalid but is not deleted
// until the next cleanup pass, matching invariant 4 ("uses_remaining never
// increases") and the specification's explicit "not deleted until cleanup"
// rule.
type Allowance struct {
	ID            action.ID              `json:"id"`
	ActionPattern action.ResourcePattern `json:"action_pattern"`
	Permission    action.Permission      `json:"permission"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	MaxUses       *uint32                `json:"max_uses,omitempty"`
	UsesRemaining *uint32                `json:"uses_remaining,omitempty"`
	SessionOnly   bool                   `json:"session_only"`
	WorkspaceRoot string                 `json:"workspace_root,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Signature     string                 `json:"signature,omitempty"`
}

// IsExpired reports whether the allowance's TTL, if any, has passed.
func (a Allowance) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// HasUsesRemaining reports whether the allowance still has uses left, or has
// no use limit at all.
func (a Allowance) HasUsesRemaining() bool {
	return a.UsesRemaining == nil || *a.UsesRemaining > 0
}

// IsValid reports whether the allowance can currently authorize an action:
// not expired and not exhausted.
func (a Allowance) IsValid(now time.Time) bool {
	return !a.IsExpired(now) && a.HasUsesRemaining()
}

// MatchesWorkspace reports whether a is eligible given the caller's current
// workspace root: a workspace-scoped allowance matches only when the roots
// are equal; a session-scoped allowance ignores workspace entirely.
func (a Allowance) MatchesWorkspace(workspaceRoot string) bool {
	if a.SessionOnly {
		return true
	}
	return a.WorkspaceRoot != "" && a.WorkspaceRoot == workspaceRoot
}

func u32(v uint32) *uint32 { return &v }

// NewSessionAllowance builds a session-scoped allowance for pattern/perm with
// an optional max-use count (0 means unlimited).
func NewSessionAllowance(pattern action.ResourcePattern, perm action.Permission, sessionID string, maxUses uint32, ttl time.Duration, now time.Time) Allowance {
	a := Allowance{
		ID:            action.NewID("allowance"),
		ActionPattern: pattern,
		Permission:    perm,
		CreatedAt:     now.UTC(),
		SessionOnly:   true,
		SessionID:     sessionID,
	}
	if maxUses > 0 {
		a.MaxUses = u32(maxUses)
		a.UsesRemaining = u32(maxUses)
	}
	if ttl > 0 {
		exp := now.Add(ttl).UTC()
		a.ExpiresAt = &exp
	}
	return a
}

// NewWorkspaceAllowance builds a workspace-scoped allowance rooted at
// workspaceRoot.
func NewWorkspaceAllowance(pattern action.ResourcePattern, perm action.Permission, workspaceRoot string, maxUses uint32, ttl time.Duration, now time.Time) Allowance {
	a := NewSessionAllowance(pattern, perm, "", maxUses, ttl, now)
	a.SessionOnly = false
	a.WorkspaceRoot = workspaceRoot
	return a
}
