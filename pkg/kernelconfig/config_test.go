package kernelconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelconfig"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
)

const samplePolicyYAML = `
schema_version: "1.0.0"
blocked_tools: ["rm_rf"]
approval_required_tools: ["send_email"]
rules:
  - action_type: "network_request"
    expr: "action.host == 'prod-db.internal'"
    verdict: "deny"
    elevate_to: "critical"
  - action_type: "*"
    verdict: "fallthrough"
max_argument_size: 4096
`

const sampleWorkspaceYAML = `
schema_version: "1.0.0"
root: "/home/user/project"
mode: "guided"
escape_policy: "ask"
auto_allow_read: ["/home/user/project/**"]
never_allow: ["/home/user/project/.env"]
session_limit_cents: 500
per_action_limit_cents: 50
warn_fraction: 0.8
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicy(t *testing.T) {
	path := writeTemp(t, "policy.yaml", samplePolicyYAML)
	pol, err := kernelconfig.LoadPolicy(path)
	require.NoError(t, err)
	require.True(t, pol.BlockedTools["rm_rf"])
	require.True(t, pol.ApprovalRequiredTools["send_email"])
	require.Len(t, pol.Rules, 2)
	require.Equal(t, action.RiskCritical, pol.Rules[0].ElevateTo)

	verdict, risk, err := pol.Evaluate(action.SensitiveAction{
		Kind: action.KindNetworkRequest,
		Host: "prod-db.internal",
	})
	require.NoError(t, err)
	require.Equal(t, policy.AutoDeny, verdict)
	require.Equal(t, action.RiskCritical, risk)
}

func TestLoadPolicy_RejectsIncompatibleSchema(t *testing.T) {
	path := writeTemp(t, "policy.yaml", "schema_version: \"2.0.0\"\n")
	_, err := kernelconfig.LoadPolicy(path)
	require.Error(t, err)
}

func TestLoadWorkspace(t *testing.T) {
	path := writeTemp(t, "workspace.yaml", sampleWorkspaceYAML)
	ws, err := kernelconfig.LoadWorkspace(path)
	require.NoError(t, err)
	require.Equal(t, "/home/user/project", ws.Root)
	require.Equal(t, policy.ModeGuided, ws.Mode)
	require.Equal(t, policy.EscapeAsk, ws.EscapePolicy)
	require.Equal(t, int64(500), ws.SessionLimitCents)
}

func TestSecurityModePreset_ParanoidIsMostRestrictive(t *testing.T) {
	paranoid := kernelconfig.SecurityModePreset(kernelconfig.ModeParanoid)
	permissive := kernelconfig.SecurityModePreset(kernelconfig.ModePermissive)
	require.True(t, paranoid.Mode <= permissive.Mode)
	require.True(t, paranoid.EscapePolicy <= permissive.EscapePolicy)
}

func TestSecurityModeFromEnv(t *testing.T) {
	t.Setenv("HELM_SECURITY_MODE", "strict")
	require.Equal(t, kernelconfig.ModeStrict, kernelconfig.SecurityModeFromEnv("HELM"))

	t.Setenv("HELM_SECURITY_MODE", "")
	require.Equal(t, kernelconfig.ModeNormal, kernelconfig.SecurityModeFromEnv("HELM"))
}

func TestLoadMerged_ParanoidClampsPermissiveWorkspaceFile(t *testing.T) {
	t.Setenv("HELM_SECURITY_MODE", "paranoid")
	path := writeTemp(t, "workspace.yaml", `
schema_version: "1.0.0"
root: "/home/user/project"
mode: "autonomous"
escape_policy: "allow"
`)
	result, err := kernelconfig.LoadMerged("HELM", path)
	require.NoError(t, err)
	require.Equal(t, policy.ModeSafe, result.Config.Mode)
	require.Equal(t, policy.EscapeDeny, result.Config.EscapePolicy)
	require.NotEmpty(t, result.Warnings)
}
