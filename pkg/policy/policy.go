// Package policy implements the static, declarative rule set consulted
// before any dynamic authority store: per-action-type auto-allow/auto-deny
// rules, risk elevation, and the workspace-config tightening merge.
package policy

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/google/cel-go/cel"
)

// Verdict is the result of applying a Rule to an action.
type Verdict int

const (
	// Fallthrough means the policy has no opinion; the interceptor proceeds
	// to the budget check and beyond.
	Fallthrough Verdict = iota
	AutoAllow
	AutoDeny
)

// Rule pairs an optional CEL predicate with a verdict and a risk
// elevation. An empty Expr always matches (an unconditional rule for the
// action type); a non-empty Expr is compiled against a CEL environment
// exposing the action's fields as the "action" variable and its Context map
// as "context", letting operators write rules like
// `action.host == "prod-db.internal"` to elevate a NetworkRequest's risk.
type Rule struct {
	ActionType string // action.Kind string, or "*" for every kind
	Expr       string // CEL predicate; empty means unconditional
	Verdict    Verdict
	ElevateTo  action.RiskLevel // zero value (RiskLow) means "do not elevate"
}

// Policy is the static rule set plus the blocked/approval-required tool
// lists and path/host allow-deny lists from §4.8.
type Policy struct {
	Rules []Rule

	BlockedTools           map[string]bool
	ApprovalRequiredTools  map[string]bool
	AllowedPaths           []string
	DeniedPaths            []string
	AllowedHosts           []string
	DeniedHosts            []string
	RequireApprovalFor     map[string]bool // e.g. "delete", "network"
	MaxArgumentSize        int

	// FastPathReadsInWorkspace implements the Design Notes open question:
	// when true, a FileRead that step 1 leaves at Fallthrough and that the
	// workspace boundary classifies Allowed/AutoAllowed returns at once with
	// a NotRequired proof (reason "fast_path_read_in_workspace"), skipping
	// capability/allowance lookups and the audit entry. Off by default --
	// the specification's default is to audit every read.
	FastPathReadsInWorkspace bool

	// ToolSchemas validates an MCP tool call's or plugin invocation's
	// Context against a per-tool JSON Schema after the rules have run; a
	// failed validation turns the verdict into AutoDeny.
	// Nil means no tool has argument-schema validation configured.
	ToolSchemas *ToolSchemas

	env *cel.Env
}

// New builds a Policy with an initialized CEL environment exposing "action"
// (a map of the action's fields) and "context" (SensitiveAction.Context).
func New() (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	return &Policy{
		BlockedTools:          map[string]bool{},
		ApprovalRequiredTools: map[string]bool{},
		RequireApprovalFor:    map[string]bool{},
		env:                   env,
	}, nil
}

func actionView(a action.SensitiveAction) map[string]any {
	return map[string]any{
		"kind":        string(a.Kind),
		"path":        a.Path,
		"command":     a.Command,
		"host":        a.Host,
		"port":        int64(a.Port),
		"destination": a.Destination,
		"data_type":   a.DataType,
		"amount":      a.Amount,
		"recipient":   a.Recipient,
		"resource":    a.Resource,
		"server":      a.Server,
		"tool":        a.Tool,
		"plugin_id":   a.PluginID,
	}
}

// evalExpr compiles and runs expr against a; a non-empty expr must evaluate
// to a bool.
func (p *Policy) evalExpr(expr string, a action.SensitiveAction) (bool, error) {
	if expr == "" {
		return true, nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("policy: compile %q: %w", expr, issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("policy: program %q: %w", expr, err)
	}
	ctx := a.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"action":  actionView(a),
		"context": ctx,
	})
	if err != nil {
		return false, fmt.Errorf("policy: eval %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: rule %q did not evaluate to bool", expr)
	}
	return b, nil
}

// Evaluate applies every matching rule for a's action type (plus "*"
// wildcard rules) in declaration order and returns the first AutoAllow or
// AutoDeny verdict, along with the action's risk level after any elevation
// the matching rules apply. If no rule produces a definitive verdict,
// Evaluate returns Fallthrough so the interceptor's pipeline continues to
// the budget check (§4.1 step 1).
func (p *Policy) Evaluate(a action.SensitiveAction) (Verdict, action.RiskLevel, error) {
	risk := a.DefaultRisk()
	verdict := Fallthrough

	for _, r := range p.Rules {
		if r.ActionType != "*" && r.ActionType != string(a.Kind) {
			continue
		}
		matched, err := p.evalExpr(r.Expr, a)
		if err != nil {
			return Fallthrough, risk, err
		}
		if !matched {
			continue
		}
		if r.ElevateTo > risk {
			risk = r.ElevateTo
		}
		if verdict == Fallthrough && r.Verdict != Fallthrough {
			verdict = r.Verdict
		}
	}

	if a.Kind == action.KindMcpToolCall || a.Kind == action.KindPluginExecution {
		if p.BlockedTools[a.Tool] {
			verdict = AutoDeny
		} else if p.ApprovalRequiredTools[a.Tool] && risk < action.RiskHigh {
			risk = action.RiskHigh
		}
		if p.ToolSchemas != nil && verdict != AutoDeny {
			if err := p.ToolSchemas.Validate(a.Tool, a.Context); err != nil {
				// Malformed arguments are a policy denial, not an internal
				// error: the call never reaches the approval path at all.
				verdict = AutoDeny
			}
		}
	}

	return verdict, risk, nil
}
