// Package interceptor implements the single entry point every caller (tool
// dispatcher, MCP bridge, plugin host) must pass through before a sensitive
// action happens: Intercept, the orchestrator that classifies, gates,
// approves and records every side-effecting request per §4.1.
package interceptor

import (
	"context"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/allowance"
	"github.com/Mindburn-Labs/helm/core/pkg/approval"
	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
	"github.com/Mindburn-Labs/helm/core/pkg/budget"
	"github.com/Mindburn-Labs/helm/core/pkg/capabilities"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
	"github.com/Mindburn-Labs/helm/core/pkg/wsboundary"
)

// Context carries the caller-scoped identity and budget information every
// Intercept call needs but which is not part of the action itself.
type Context struct {
	Actor         string // "agent:<id>" or similar
	SessionID     string
	WorkspaceRoot string
}

// Outcome is the successful result of an Intercept call.
type Outcome struct {
	Proof         auditlog.AuthorizationProof
	BudgetWarning *budget.Result // non-nil iff the budget check returned WarnAndAllow
	AuditEntry    auditlog.Entry
}

// Interceptor wires together every security-decision component into the
// seven-step pipeline of §4.1. It is the only thing callers touch --
// nothing outside this package is allowed to read policy, budget,
// boundary, capability or allowance state directly (§4.1 "Contract").
type Interceptor struct {
	Policy     *policy.Policy
	Budget     *budget.Tracker
	Boundary   *wsboundary.Boundary
	Tokens     *capabilities.Verifier
	TokenStore *capabilities.TokenStore
	Allowances *allowance.Store
	Approvals  *approval.Manager
	Audit      *auditlog.Log
	Signer     *hkcrypto.Ed25519Signer
	Clock      func() time.Time
}

// New builds an Interceptor from its component dependencies. All fields are
// required except Clock, which defaults to time.Now.
func New(
	pol *policy.Policy,
	budgetTracker *budget.Tracker,
	boundary *wsboundary.Boundary,
	tokenStore *capabilities.TokenStore,
	verifier *capabilities.Verifier,
	allowances *allowance.Store,
	approvals *approval.Manager,
	audit *auditlog.Log,
	signer *hkcrypto.Ed25519Signer,
) *Interceptor {
	return &Interceptor{
		Policy:     pol,
		Budget:     budgetTracker,
		Boundary:   boundary,
		Tokens:     verifier,
		TokenStore: tokenStore,
		Allowances: allowances,
		Approvals:  approvals,
		Audit:      audit,
		Signer:     signer,
		Clock:      time.Now,
	}
}

func (i *Interceptor) now() time.Time {
	if i.Clock != nil {
		return i.Clock()
	}
	return time.Now()
}

// auditAllowed appends an "allowed" entry and builds the Outcome.
func (i *Interceptor) auditAllowed(ctx Context, a action.SensitiveAction, proof auditlog.AuthorizationProof, warn *budget.Result) (Outcome, error) {
	entry, err := i.Audit.Append(ctx.Actor, a.ActionType(), a.Summary(), a.CanonicalURI(), auditlog.OutcomeAllowed, "", proof)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Proof: proof, BudgetWarning: warn, AuditEntry: entry}, nil
}

// auditDenied appends a "denied" entry recording the attempt, per §7's
// "every failure produces either an audit entry ... or a log record".
func (i *Interceptor) auditDenied(ctx Context, a action.SensitiveAction, reason string, proof auditlog.AuthorizationProof) {
	_, _ = i.Audit.Append(ctx.Actor, a.ActionType(), a.Summary(), a.CanonicalURI(), auditlog.OutcomeDenied, reason, proof)
}

// Intercept runs the full seven-step pipeline of §4.1 for a, returning the
// proof of why it was allowed, or an error. cost is nil when the caller has
// no cost estimate for this action (network/plugin calls without a priced
// backend, say); a nil cost skips the budget check entirely.
func (i *Interceptor) Intercept(ctx context.Context, callCtx Context, a action.SensitiveAction, costCents *int64) (Outcome, error) {
	// Step 1: policy fast-path.
	verdict, risk, err := i.Policy.Evaluate(a)
	if err != nil {
		return Outcome{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "interceptor.Intercept", err)
	}
	switch verdict {
	case policy.AutoDeny:
		i.auditDenied(callCtx, a, "policy denied", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "policy_denied"})
		return Outcome{}, kernelerrors.PolicyDenied
	case policy.AutoAllow:
		return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed}, nil)
	}

	// Optional short-circuit (§9 Design Notes open question): in-workspace
	// reads may skip the rest of the pipeline entirely, with no audit
	// entry, when explicitly enabled. Off by default.
	if i.Policy.FastPathReadsInWorkspace && a.Kind == action.KindFileRead && i.Boundary != nil {
		switch i.Boundary.Check(a.Path) {
		case wsboundary.Allowed, wsboundary.AutoAllowed:
			return Outcome{Proof: auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "fast_path_read_in_workspace"}}, nil
		}
	}

	// Step 2: budget check (reserve only; committed at step 7).
	var warn *budget.Result
	if costCents != nil && i.Budget != nil {
		result := i.Budget.Check(*costCents)
		switch result.Kind {
		case budget.Exceeded:
			i.auditDenied(callCtx, a, "budget exceeded: "+result.LimitKind, auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "budget_exceeded"})
			return Outcome{}, kernelerrors.BudgetExceeded.WithReason(result.LimitKind)
		case budget.WarnAndAllow:
			warn = &result
		}
	}

	// Step 3: workspace boundary, path-bearing variants only.
	requiresApprovalFromBoundary := false
	if a.IsPathBearing() && i.Boundary != nil {
		switch i.Boundary.Check(a.Path) {
		case wsboundary.NeverAllowed:
			i.auditDenied(callCtx, a, "workspace boundary: never_allow", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "workspace_boundary"})
			return Outcome{}, kernelerrors.PolicyDenied.WithReason("workspace_boundary")
		case wsboundary.RequiresApproval:
			requiresApprovalFromBoundary = true
		}
	}

	resourceURI := a.CanonicalURI()
	perm := a.RequiredPermission()

	// Step 4: capability lookup. A signature-verification failure is not
	// fatal -- the invalid token is ignored and the pipeline falls through
	// to the allowance store.
	if i.Tokens != nil && !requiresApprovalFromBoundary {
		result, err := i.Tokens.Check(resourceURI, perm)
		if err != nil && kernelerrors.KindOf(err) != kernelerrors.KindSignatureInvalid {
			return Outcome{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "interceptor.Intercept", err)
		}
		if result.Authorized {
			i.commitBudget(costCents)
			tokenHash, err := capabilities.TokenHash(*result.Token)
			if err != nil {
				return Outcome{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "interceptor.Intercept", err)
			}
			return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{
				Kind:      auditlog.ProofCapability,
				TokenID:   result.Token.ID,
				TokenHash: tokenHash,
			}, warn)
		}
	}

	// Step 5: allowance lookup with atomic consume.
	if i.Allowances != nil && !requiresApprovalFromBoundary {
		if a2, ok := i.Allowances.FindMatchingAndConsume(resourceURI, perm, callCtx.WorkspaceRoot); ok {
			i.commitBudget(costCents)
			proofKind := auditlog.ProofSessionApproval
			if !a2.SessionOnly {
				proofKind = auditlog.ProofWorkspaceApproval
			}
			return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{Kind: proofKind, AllowanceID: a2.ID}, warn)
		}
	}

	// Step 6: approval path.
	if i.Approvals == nil {
		i.auditDenied(callCtx, a, "no approval manager configured", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "no_approval_manager"})
		return Outcome{}, kernelerrors.ApprovalDenied.WithReason("no_approval_manager")
	}

	req := approval.Request{
		Action:  a,
		Risk:    risk,
		Context: a.Context,
	}
	decision, err := i.Approvals.RequestApproval(ctx, req)
	if err != nil {
		i.auditDenied(callCtx, a, "approval error: "+string(kernelerrors.KindOf(err)), auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "approval_error"})
		return Outcome{}, err
	}

	switch decision.Option {
	case approval.Deny:
		i.auditDenied(callCtx, a, "user denied", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "user_denied"})
		return Outcome{}, kernelerrors.ApprovalDenied.WithReason("user_denied")

	case approval.AllowOnce:
		i.commitBudget(costCents)
		return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{Kind: auditlog.ProofUserApproval, Reason: decision.Reason}, warn)

	case approval.AllowSession:
		newAllowance := allowance.NewSessionAllowance(action.Exact(schemeOf(resourceURI), targetOf(resourceURI)), perm, callCtx.SessionID, 0, 0, i.now())
		i.Allowances.Add(newAllowance)
		i.commitBudget(costCents)
		return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{Kind: auditlog.ProofSessionApproval, AllowanceID: newAllowance.ID}, warn)

	case approval.AllowWorkspace:
		newAllowance := allowance.NewWorkspaceAllowance(action.Exact(schemeOf(resourceURI), targetOf(resourceURI)), perm, callCtx.WorkspaceRoot, 0, 0, i.now())
		i.Allowances.Add(newAllowance)
		i.commitBudget(costCents)
		return i.auditAllowed(callCtx, a, auditlog.AuthorizationProof{Kind: auditlog.ProofWorkspaceApproval, AllowanceID: newAllowance.ID}, warn)

	case approval.AllowAlways:
		tokenID := action.NewID("token")
		proof := auditlog.AuthorizationProof{Kind: auditlog.ProofCapabilityCreated, TokenID: tokenID}
		entry, err := i.Audit.Append(callCtx.Actor, a.ActionType(), a.Summary(), resourceURI, auditlog.OutcomeAllowed, "", proof)
		if err != nil {
			return Outcome{}, err
		}

		tok := capabilities.CapabilityToken{
			ID:              tokenID,
			ResourcePattern: action.Exact(schemeOf(resourceURI), targetOf(resourceURI)),
			Permissions:     []action.Permission{perm},
			Scope:           capabilities.PersistentScope(),
			AuditID:         entry.ID,
			CreatedAt:       i.now(),
		}
		if err := tok.Sign(i.Signer); err != nil {
			return Outcome{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "interceptor.Intercept", err)
		}
		if err := i.TokenStore.Add(tok); err != nil {
			return Outcome{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "interceptor.Intercept", err)
		}
		i.commitBudget(costCents)
		return Outcome{Proof: proof, BudgetWarning: warn, AuditEntry: entry}, nil

	default:
		i.auditDenied(callCtx, a, "unrecognized approval option", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired, Reason: "unrecognized_option"})
		return Outcome{}, kernelerrors.ApprovalDenied.WithReason("unrecognized_option")
	}
}

func (i *Interceptor) commitBudget(costCents *int64) {
	if costCents != nil && i.Budget != nil {
		i.Budget.Record(*costCents)
	}
}

func schemeOf(uri string) string {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return ""
	}
	return scheme
}

func targetOf(uri string) string {
	_, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	return rest
}
