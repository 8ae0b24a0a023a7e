package auditlog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) *hkcrypto.Ed25519Signer {
	t.Helper()
	s, err := hkcrypto.NewEd25519Signer("runtime")
	require.NoError(t, err)
	return s
}

func TestAppend_GenesisHasZeroPreviousHash(t *testing.T) {
	log, err := auditlog.New(auditlog.NewMemoryStorage(), newSigner(t))
	require.NoError(t, err)

	e, err := log.Append("agent:1", "file_read", "read file /w/a.txt", "file:///w/a.txt",
		auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)

	require.Equal(t, uint64(0), e.Sequence)
	require.True(t, e.PreviousHash.IsZero())
}

func TestAppend_ChainsPreviousHash(t *testing.T) {
	log, err := auditlog.New(auditlog.NewMemoryStorage(), newSigner(t))
	require.NoError(t, err)

	e1, err := log.Append("agent:1", "file_read", "r1", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)
	e2, err := log.Append("agent:1", "file_read", "r2", "file:///b", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)

	require.Equal(t, uint64(1), e2.Sequence)
	require.Equal(t, e1.EntryHash, e2.PreviousHash)
	require.NoError(t, log.VerifyChain(0, 1))
}

func TestVerifyChain_DetectsMutation(t *testing.T) {
	storage := auditlog.NewMemoryStorage()
	log, err := auditlog.New(storage, newSigner(t))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := log.Append("agent:1", "file_read", "r", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
		require.NoError(t, err)
	}

	storage.MutateForTest(5, func(e *auditlog.Entry) {
		e.Outcome = auditlog.OutcomeDenied
	})

	err = log.VerifyChain(0, 9)
	require.Error(t, err)
	require.Equal(t, kernelerrors.KindChainCorruption, kernelerrors.KindOf(err))
}

func TestNew_RefusesToAppendAfterCorruptionDetected(t *testing.T) {
	storage := auditlog.NewMemoryStorage()
	signer := newSigner(t)
	log, err := auditlog.New(storage, signer)
	require.NoError(t, err)
	_, err = log.Append("agent:1", "file_read", "r", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)

	storage.MutateForTest(0, func(e *auditlog.Entry) {
		e.ActionSummary = "tampered"
	})

	reopened, err := auditlog.New(storage, signer)
	require.Error(t, err)
	require.True(t, reopened.Disabled())

	_, err = reopened.Append("agent:1", "file_read", "r", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.ErrorIs(t, err, kernelerrors.ChainCorruption)
}

func TestIter_FiltersByOutcome(t *testing.T) {
	log, err := auditlog.New(auditlog.NewMemoryStorage(), newSigner(t))
	require.NoError(t, err)

	_, err = log.Append("agent:1", "file_read", "r1", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)
	_, err = log.Append("agent:1", "file_delete", "d1", "file:///a", auditlog.OutcomeDenied, "policy", auditlog.AuthorizationProof{Kind: auditlog.ProofNotRequired})
	require.NoError(t, err)

	denied, err := log.Iter(auditlog.Filter{Outcome: auditlog.OutcomeDenied})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	require.Equal(t, "d1", denied[0].ActionSummary)
}

func TestFileStorage_RoundTripsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")
	signer := newSigner(t)

	storage, err := auditlog.OpenFileStorage(path)
	require.NoError(t, err)
	log, err := auditlog.New(storage, signer)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := log.Append("agent:1", "file_read", "r", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
		require.NoError(t, err)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := auditlog.OpenFileStorage(path)
	require.NoError(t, err)
	reopenedLog, err := auditlog.New(reopened, signer)
	require.NoError(t, err)
	require.NoError(t, reopenedLog.VerifyChain(0, 2))

	n, err := reopened.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestClock_IsInjectable(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log, err := auditlog.New(auditlog.NewMemoryStorage(), newSigner(t))
	require.NoError(t, err)
	log = log.WithClock(func() time.Time { return fixed })

	e, err := log.Append("agent:1", "file_read", "r", "file:///a", auditlog.OutcomeAllowed, "", auditlog.AuthorizationProof{Kind: auditlog.ProofPolicyAllowed})
	require.NoError(t, err)
	require.Equal(t, fixed, e.Timestamp)
}
