package kernelobs

import (
	"context"
	"testing"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/allowance"
	"github.com/Mindburn-Labs/helm/core/pkg/approval"
	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
	"github.com/Mindburn-Labs/helm/core/pkg/budget"
	"github.com/Mindburn-Labs/helm/core/pkg/capabilities"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/interceptor"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
)

func newTestInterceptor(t *testing.T) *interceptor.Interceptor {
	t.Helper()

	pol, err := policy.New()
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	pol.Rules = append(pol.Rules, policy.Rule{ActionType: "*", Verdict: policy.AutoAllow})

	signer, err := hkcrypto.NewEd25519Signer("test")
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	log, err := auditlog.New(auditlog.NewMemoryStorage(), signer)
	if err != nil {
		t.Fatalf("auditlog.New: %v", err)
	}

	return interceptor.New(
		pol,
		budget.NewTracker(100000, 10000, 0.8),
		nil,
		capabilities.NewTokenStore(),
		capabilities.NewVerifier(capabilities.NewTokenStore()),
		allowance.NewStore(),
		approval.NewManager(nil),
		log,
		signer,
	)
}

func TestObserver_DisabledIsPassthrough(t *testing.T) {
	ctx := context.Background()
	o, err := New(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ic := newTestInterceptor(t)
	a := action.SensitiveAction{Kind: action.KindFileRead, Path: "/tmp/x"}

	outcome, err := o.Intercept(ctx, ic, interceptor.Context{Actor: "agent:test", SessionID: "s1"}, a, nil)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if outcome.Proof.Kind != auditlog.ProofPolicyAllowed {
		t.Fatalf("expected policy_allowed proof, got %v", outcome.Proof.Kind)
	}
}

func TestObserver_RecordChainFailureNoopWhenDisabled(t *testing.T) {
	o, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.RecordChainFailure(context.Background(), "hash_mismatch")
}
