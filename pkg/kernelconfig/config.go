// Package kernelconfig loads the baseline Policy and WorkspaceConfig pair
// from YAML, applies the <PRODUCT>_SECURITY_MODE environment override (§6),
// and performs the tightening merge (pkg/policy.Merge) of a workspace-layer
// override against that baseline. This is the Go rendering of
// astrid-config/src/merge/enforce.rs's clamp/enforce/union/tighten
// primitives, following the donor's gopkg.in/yaml.v3 config-loading style.
package kernelconfig

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
)

// SchemaVersion is the config schema version this loader produces and
// understands. schemaConstraint gates compatibility of files on disk --
// a major-version bump in either direction is rejected rather than
// silently misinterpreted.
const SchemaVersion = "1.0.0"

var schemaConstraint = semver.MustParse(SchemaVersion)

// SecurityMode is the preset family named by <PRODUCT>_SECURITY_MODE (§6).
type SecurityMode string

const (
	ModeParanoid   SecurityMode = "paranoid"
	ModeStrict     SecurityMode = "strict"
	ModeNormal     SecurityMode = "normal"
	ModePermissive SecurityMode = "permissive"
)

// RuleFile is the YAML rendering of a policy.Rule.
type RuleFile struct {
	ActionType string `yaml:"action_type"`
	Expr       string `yaml:"expr"`
	Verdict    string `yaml:"verdict"` // "allow" | "deny" | "fallthrough" (or empty)
	ElevateTo  string `yaml:"elevate_to,omitempty"`
}

// PolicyFile is the on-disk YAML shape for a baseline Policy.
type PolicyFile struct {
	SchemaVersion            string   `yaml:"schema_version"`
	Rules                     []RuleFile `yaml:"rules"`
	BlockedTools              []string `yaml:"blocked_tools"`
	ApprovalRequiredTools     []string `yaml:"approval_required_tools"`
	AllowedPaths              []string `yaml:"allowed_paths"`
	DeniedPaths               []string `yaml:"denied_paths"`
	AllowedHosts              []string `yaml:"allowed_hosts"`
	DeniedHosts               []string `yaml:"denied_hosts"`
	RequireApprovalFor        []string `yaml:"require_approval_for"`
	MaxArgumentSize           int      `yaml:"max_argument_size"`
	FastPathReadsInWorkspace  bool     `yaml:"fast_path_reads_in_workspace"`
}

// WorkspaceFile is the on-disk YAML shape for a WorkspaceConfig.
type WorkspaceFile struct {
	SchemaVersion       string   `yaml:"schema_version"`
	Root                string   `yaml:"root"`
	Mode                string   `yaml:"mode"`          // safe | guided | autonomous
	EscapePolicy        string   `yaml:"escape_policy"` // deny | ask | allow
	AutoAllowRead       []string `yaml:"auto_allow_read"`
	AutoAllowWrite      []string `yaml:"auto_allow_write"`
	AutoAllowGlob       []string `yaml:"auto_allow_glob"`
	NeverAllow          []string `yaml:"never_allow"`
	SessionLimitCents   int64    `yaml:"session_limit_cents"`
	PerActionLimitCents int64    `yaml:"per_action_limit_cents"`
	WarnFraction        float64  `yaml:"warn_fraction"`
}

func checkSchemaVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("kernelconfig: invalid schema_version %q: %w", raw, err)
	}
	if v.Major() != schemaConstraint.Major() {
		return fmt.Errorf("kernelconfig: schema_version %s is incompatible with loader version %s", raw, SchemaVersion)
	}
	return nil
}

func parseVerdict(s string) (policy.Verdict, error) {
	switch s {
	case "", "fallthrough":
		return policy.Fallthrough, nil
	case "allow":
		return policy.AutoAllow, nil
	case "deny":
		return policy.AutoDeny, nil
	default:
		return policy.Fallthrough, fmt.Errorf("kernelconfig: unknown verdict %q", s)
	}
}

func parseRisk(s string) (action.RiskLevel, error) {
	switch s {
	case "":
		return action.RiskLow, nil
	case "low":
		return action.RiskLow, nil
	case "medium":
		return action.RiskMedium, nil
	case "high":
		return action.RiskHigh, nil
	case "critical":
		return action.RiskCritical, nil
	default:
		return action.RiskLow, fmt.Errorf("kernelconfig: unknown risk level %q", s)
	}
}

func parseMode(s string) (policy.Mode, error) {
	switch s {
	case "", "safe":
		return policy.ModeSafe, nil
	case "guided":
		return policy.ModeGuided, nil
	case "autonomous":
		return policy.ModeAutonomous, nil
	default:
		return policy.ModeSafe, fmt.Errorf("kernelconfig: unknown mode %q", s)
	}
}

func parseEscapePolicy(s string) (policy.EscapePolicy, error) {
	switch s {
	case "", "deny":
		return policy.EscapeDeny, nil
	case "ask":
		return policy.EscapeAsk, nil
	case "allow":
		return policy.EscapeAllow, nil
	default:
		return policy.EscapeDeny, fmt.Errorf("kernelconfig: unknown escape_policy %q", s)
	}
}

func setToBoolMap(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

// LoadPolicy parses a PolicyFile from path and materializes a *policy.Policy
// with a fresh CEL environment compiled from its rules.
func LoadPolicy(path string) (*policy.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kernelconfig: read %s: %w", path, err)
	}
	var f PolicyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("kernelconfig: parse %s: %w", path, err)
	}
	if err := checkSchemaVersion(f.SchemaVersion); err != nil {
		return nil, err
	}
	return policyFromFile(f)
}

func policyFromFile(f PolicyFile) (*policy.Policy, error) {
	pol, err := policy.New()
	if err != nil {
		return nil, fmt.Errorf("kernelconfig: new policy: %w", err)
	}
	pol.BlockedTools = setToBoolMap(f.BlockedTools)
	pol.ApprovalRequiredTools = setToBoolMap(f.ApprovalRequiredTools)
	pol.AllowedPaths = f.AllowedPaths
	pol.DeniedPaths = f.DeniedPaths
	pol.AllowedHosts = f.AllowedHosts
	pol.DeniedHosts = f.DeniedHosts
	pol.RequireApprovalFor = setToBoolMap(f.RequireApprovalFor)
	pol.MaxArgumentSize = f.MaxArgumentSize
	pol.FastPathReadsInWorkspace = f.FastPathReadsInWorkspace

	for _, rf := range f.Rules {
		verdict, err := parseVerdict(rf.Verdict)
		if err != nil {
			return nil, err
		}
		elevate, err := parseRisk(rf.ElevateTo)
		if err != nil {
			return nil, err
		}
		actionType := rf.ActionType
		if actionType == "" {
			actionType = "*"
		}
		pol.Rules = append(pol.Rules, policy.Rule{
			ActionType: actionType,
			Expr:       rf.Expr,
			Verdict:    verdict,
			ElevateTo:  elevate,
		})
	}
	return pol, nil
}

// LoadWorkspace parses a WorkspaceFile from path into a policy.WorkspaceConfig.
func LoadWorkspace(path string) (policy.WorkspaceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy.WorkspaceConfig{}, fmt.Errorf("kernelconfig: read %s: %w", path, err)
	}
	var f WorkspaceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return policy.WorkspaceConfig{}, fmt.Errorf("kernelconfig: parse %s: %w", path, err)
	}
	if err := checkSchemaVersion(f.SchemaVersion); err != nil {
		return policy.WorkspaceConfig{}, err
	}
	return workspaceFromFile(f)
}

func workspaceFromFile(f WorkspaceFile) (policy.WorkspaceConfig, error) {
	mode, err := parseMode(f.Mode)
	if err != nil {
		return policy.WorkspaceConfig{}, err
	}
	escape, err := parseEscapePolicy(f.EscapePolicy)
	if err != nil {
		return policy.WorkspaceConfig{}, err
	}
	return policy.WorkspaceConfig{
		Root:                f.Root,
		Mode:                mode,
		EscapePolicy:        escape,
		AutoAllowRead:       f.AutoAllowRead,
		AutoAllowWrite:      f.AutoAllowWrite,
		AutoAllowGlob:       f.AutoAllowGlob,
		NeverAllow:          f.NeverAllow,
		SessionLimitCents:   f.SessionLimitCents,
		PerActionLimitCents: f.PerActionLimitCents,
		WarnFraction:        f.WarnFraction,
	}, nil
}

// SecurityModePreset returns the baseline WorkspaceConfig restrictiveness
// for a security mode, consumed as the Merge baseline so no on-disk
// workspace file can relax below the operator's chosen mode (§6's
// "<PRODUCT>_SECURITY_MODE ... maps to a baseline policy preset").
func SecurityModePreset(mode SecurityMode) policy.WorkspaceConfig {
	switch mode {
	case ModeParanoid:
		return policy.WorkspaceConfig{Mode: policy.ModeSafe, EscapePolicy: policy.EscapeDeny, WarnFraction: 0.5}
	case ModeStrict:
		return policy.WorkspaceConfig{Mode: policy.ModeSafe, EscapePolicy: policy.EscapeAsk, WarnFraction: 0.7}
	case ModePermissive:
		return policy.WorkspaceConfig{Mode: policy.ModeAutonomous, EscapePolicy: policy.EscapeAllow, WarnFraction: 0.9}
	case ModeNormal:
		fallthrough
	default:
		return policy.WorkspaceConfig{Mode: policy.ModeGuided, EscapePolicy: policy.EscapeAsk, WarnFraction: 0.8}
	}
}

// SecurityModeEnvVar builds the "<PRODUCT>_SECURITY_MODE" variable name for
// product (e.g. "HELM" -> "HELM_SECURITY_MODE").
func SecurityModeEnvVar(product string) string {
	return product + "_SECURITY_MODE"
}

// SecurityModeFromEnv reads the security mode env var for product, defaulting
// to ModeNormal when unset or unrecognized.
func SecurityModeFromEnv(product string) SecurityMode {
	switch SecurityMode(os.Getenv(SecurityModeEnvVar(product))) {
	case ModeParanoid:
		return ModeParanoid
	case ModeStrict:
		return ModeStrict
	case ModePermissive:
		return ModePermissive
	default:
		return ModeNormal
	}
}

// LoadMerged loads the workspace file at workspacePath, derives the security
// mode's preset as the tightening baseline (per SecurityModeFromEnv), and
// returns the merged, validated configuration plus any warnings raised
// while clamping an overreaching override (§4.8's config merger guarantee).
func LoadMerged(product, workspacePath string) (policy.MergeResult, error) {
	override, err := LoadWorkspace(workspacePath)
	if err != nil {
		return policy.MergeResult{}, err
	}
	baseline := SecurityModePreset(SecurityModeFromEnv(product))
	// The preset baseline carries no root or allow-lists of its own -- it
	// only tightens mode/escape-policy/warn-fraction; let the workspace
	// file's own root and allow-lists pass through by seeding the baseline
	// allow-lists wide on those fields the preset doesn't opinionate about.
	baseline.Root = override.Root
	baseline.AutoAllowRead = override.AutoAllowRead
	baseline.AutoAllowWrite = override.AutoAllowWrite
	baseline.AutoAllowGlob = override.AutoAllowGlob
	baseline.NeverAllow = override.NeverAllow
	baseline.SessionLimitCents = override.SessionLimitCents
	baseline.PerActionLimitCents = override.PerActionLimitCents
	return policy.Merge(baseline, override), nil
}
