package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/approval"
	"github.com/stretchr/testify/require"
)

type stubFrontend struct {
	decision approval.Decision
	delay    time.Duration
	err      error
}

func (f *stubFrontend) RequestApproval(ctx context.Context, req approval.Request) (approval.Decision, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return approval.Decision{}, ctx.Err()
		}
	}
	if f.err != nil {
		return approval.Decision{}, f.err
	}
	return f.decision, nil
}
func (f *stubFrontend) ShowStatus(string) {}
func (f *stubFrontend) ShowError(string)  {}

func TestRequestApproval_ReturnsFrontendDecision(t *testing.T) {
	m := approval.NewManager(nil)
	m.Attach(&stubFrontend{decision: approval.Decision{Option: approval.AllowOnce}})

	decision, err := m.RequestApproval(context.Background(), approval.Request{
		Action: action.SensitiveAction{Kind: action.KindFileDelete, Path: "/w/a.txt"},
		Risk:   action.RiskHigh,
	})
	require.NoError(t, err)
	require.Equal(t, approval.AllowOnce, decision.Option)
	require.Equal(t, 0, m.PendingCount())
}

func TestAvailableOptionsFor_CriticalHidesAllowAlways(t *testing.T) {
	opts := approval.AvailableOptionsFor(action.RiskCritical)
	require.NotContains(t, opts, approval.AllowAlways)

	opts2 := approval.AvailableOptionsFor(action.RiskHigh)
	require.Contains(t, opts2, approval.AllowAlways)
}

func TestRequestApproval_NoFrontendPersistsToDeferredStore(t *testing.T) {
	dir := t.TempDir()
	store, err := approval.NewFileDeferredStore(dir + "/deferred.json")
	require.NoError(t, err)

	m := approval.NewManager(store)
	m.WithClock(func() time.Time { return time.Now() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.RequestApproval(ctx, approval.Request{
		Action: action.SensitiveAction{Kind: action.KindFileDelete, Path: "/w/a.txt"},
		Risk:   action.RiskHigh,
	})
	require.Error(t, err)

	reqs, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, reqs, "entry should be cleared once the waiting RequestApproval call times out")
}

func TestResolve_SecondCallIsNoOp(t *testing.T) {
	m := approval.NewManager(nil)
	f := &stubFrontend{decision: approval.Decision{Option: approval.Deny}, delay: 10 * time.Millisecond}
	m.Attach(f)

	decision, err := m.RequestApproval(context.Background(), approval.Request{
		Action: action.SensitiveAction{Kind: action.KindFileDelete, Path: "/w/a.txt"},
		Risk:   action.RiskHigh,
	})
	require.NoError(t, err)
	require.Equal(t, approval.Deny, decision.Option)

	// Resolving an already-completed/removed request must not panic.
	m.Resolve(action.NewID("approval"), approval.Decision{Option: approval.AllowOnce})
}

func TestAttachToken_RoundTrips(t *testing.T) {
	secret := []byte("test-secret")
	token, err := approval.IssueAttachToken(secret, "session:1", "cli", time.Minute)
	require.NoError(t, err)

	sessionID, frontend, err := approval.ParseAttachToken(secret, token)
	require.NoError(t, err)
	require.Equal(t, "session:1", sessionID)
	require.Equal(t, "cli", frontend)
}

func TestAttachToken_RejectsWrongSecret(t *testing.T) {
	token, err := approval.IssueAttachToken([]byte("a"), "session:1", "cli", time.Minute)
	require.NoError(t, err)
	_, _, err = approval.ParseAttachToken([]byte("b"), token)
	require.Error(t, err)
}
