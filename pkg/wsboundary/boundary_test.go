package wsboundary_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm/core/pkg/policy"
	"github.com/Mindburn-Labs/helm/core/pkg/wsboundary"
	"github.com/stretchr/testify/require"
)

func TestCheck_InsideRootIsAllowed(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w"}, nil)
	require.Equal(t, wsboundary.Allowed, b.Check("/w/src/main.go"))
}

func TestCheck_NeverAllowWinsOverRoot(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", NeverAllow: []string{"/w/.git"}}, nil)
	require.Equal(t, wsboundary.NeverAllowed, b.Check("/w/.git/config"))
}

func TestCheck_AutoAllowPrefixOutsideRoot(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", AutoAllowRead: []string{"/usr/share/docs"}}, nil)
	require.Equal(t, wsboundary.AutoAllowed, b.Check("/usr/share/docs/readme.txt"))
}

func TestCheck_AutoAllowGlob(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", AutoAllowGlob: []string{"/tmp/**/*.log"}}, nil)
	require.Equal(t, wsboundary.AutoAllowed, b.Check("/tmp/session/a/b.log"))
	require.Equal(t, wsboundary.NeverAllowed, b.Check("/tmp/session/a/b.txt"))
}

func TestCheck_SafeModeDenyEscape(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", Mode: policy.ModeSafe, EscapePolicy: policy.EscapeDeny}, nil)
	require.Equal(t, wsboundary.NeverAllowed, b.Check("/tmp/x"))
}

func TestCheck_GuidedModeAskEscape(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", Mode: policy.ModeGuided, EscapePolicy: policy.EscapeAsk}, nil)
	require.Equal(t, wsboundary.RequiresApproval, b.Check("/tmp/x"))
}

func TestCheck_AutonomousModeAllowsEscape(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", Mode: policy.ModeAutonomous, EscapePolicy: policy.EscapeDeny}, nil)
	require.Equal(t, wsboundary.Allowed, b.Check("/tmp/x"))
}

func TestCheck_DotDotIsResolvedBeforeClassification(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", NeverAllow: []string{"/etc"}}, nil)
	require.Equal(t, wsboundary.NeverAllowed, b.Check("/w/../etc/passwd"))
}

func TestCheckAll_ReturnsMostRestrictive(t *testing.T) {
	b := wsboundary.New(policy.WorkspaceConfig{Root: "/w", Mode: policy.ModeSafe, EscapePolicy: policy.EscapeDeny}, nil)
	result := b.CheckAll([]string{"/w/a", "/tmp/escape"})
	require.Equal(t, wsboundary.NeverAllowed, result)
}

func TestNew_InvalidGlobIsIgnoredNotFatal(t *testing.T) {
	var logged []string
	b := wsboundary.New(policy.WorkspaceConfig{
		Root:          "/w",
		AutoAllowGlob: []string{"[invalid"},
	}, func(format string, args ...any) { logged = append(logged, format) })
	require.NotEmpty(t, logged)
	require.Equal(t, wsboundary.Allowed, b.Check("/w/a"))
}
