package auditlog

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	hkcrypto "github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
)

// Appender is the subset of Log the interceptor depends on, letting callers
// that only append (never verify or iterate) take a narrower dependency.
type Appender interface {
	Append(actor, actionType, actionSummary, resourceURI string, outcome Outcome, denialReason string, proof AuthorizationProof) (Entry, error)
}

// Storage is the append-only persistence backend a Log writes through.
// Implementations must make the entry write and the "last hash" pointer
// update durable together -- a crash between them must be recoverable by
// re-reading the last persisted entry at startup (§4.5 "Appending").
type Storage interface {
	// LastEntry returns the most recently appended entry, or ok=false if the
	// log is empty.
	LastEntry() (Entry, bool, error)
	// Persist durably appends entry. Called only while Log's writer lock is
	// held. Log's read paths (VerifyChain, Iter) call EntryAt, Range and Len
	// without that lock, so those reads can run concurrently with Persist.
	Persist(entry Entry) error
	// EntryAt returns the entry at the given sequence number.
	EntryAt(sequence uint64) (Entry, bool, error)
	// Range returns entries with from <= sequence <= to, inclusive, in
	// ascending sequence order.
	Range(from, to uint64) ([]Entry, error)
	// Len reports the number of entries currently stored.
	Len() (uint64, error)
}

// Log is the hash-chained, signed audit log. A single writer lock serialises
// Append calls; Storage I/O happens while the lock is held (§5: "a dedicated
// writer task" -- this in-process rendering uses a mutex rather than an
// actor, since the spec only requires serialisation, not a separate
// goroutine).
type Log struct {
	mu      sync.Mutex
	storage Storage
	signer  *hkcrypto.Ed25519Signer
	clock   func() time.Time

	// disabled is set after ChainCorruption is detected at startup, per §7:
	// "appending is disabled ... until an operator runs a repair command."
	disabled bool
}

// New constructs a Log over storage, signing every entry with signer.
// Verifies the tail on construction per §7 ("on startup the log verifies the
// tail"); if the existing chain is already corrupt, the returned Log has
// appending disabled and every Append call fails with ChainCorruption.
func New(storage Storage, signer *hkcrypto.Ed25519Signer) (*Log, error) {
	l := &Log{storage: storage, signer: signer, clock: time.Now}
	n, err := storage.Len()
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.New", err)
	}
	if n > 0 {
		verifyFrom := uint64(0)
		if n > 64 {
			verifyFrom = n - 64
		}
		if err := l.VerifyChain(verifyFrom, n-1); err != nil {
			l.disabled = true
			return l, err
		}
	}
	return l, nil
}

// WithClock overrides the log's time source.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append constructs, signs and durably persists the next entry in the
// chain, returning it. Fails with ChainCorruption (without touching
// storage) if appending has been disabled by a prior verification failure.
func (l *Log) Append(actor, actionType, actionSummary, resourceURI string, outcome Outcome, denialReason string, proof AuthorizationProof) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled {
		return Entry{}, kernelerrors.ChainCorruption.WithReason("appending disabled: repair required")
	}

	var sequence uint64
	prevHash := hkcrypto.ZeroHash
	last, ok, err := l.storage.LastEntry()
	if err != nil {
		return Entry{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Append", err)
	}
	if ok {
		sequence = last.Sequence + 1
		prevHash = last.EntryHash
	}

	e := Entry{
		ID:                 action.NewID("audit"),
		Sequence:           sequence,
		Timestamp:          l.clock().UTC(),
		PreviousHash:       prevHash,
		Actor:              actor,
		ActionType:         actionType,
		ActionSummary:      actionSummary,
		ResourceURI:        resourceURI,
		Outcome:            outcome,
		DenialReason:       denialReason,
		AuthorizationProof: proof,
	}

	hash, err := e.computeHash()
	if err != nil {
		return Entry{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Append", err)
	}
	e.EntryHash = hash

	sigHex, err := l.signer.Sign(hash[:])
	if err != nil {
		return Entry{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Append", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return Entry{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Append", err)
	}
	e.Signature = base64.StdEncoding.EncodeToString(sigBytes)

	if err := l.storage.Persist(e); err != nil {
		return Entry{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Append", err)
	}
	return e, nil
}

// VerifyChain checks, for every sequence n in [from, to]: previous_hash
// linkage against entry[n-1] (skipped at the true genesis), recomputed
// entry_hash equality, and signature validity under runtimePublicKey. It
// returns a ChainCorruption error naming the first broken sequence, or nil
// if the whole range verifies.
func (l *Log) VerifyChain(from, to uint64) error {
	entries, err := l.storage.Range(from, to)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.VerifyChain", err)
	}

	pubKeyHex := l.signer.PublicKey()
	var prev *Entry
	if from > 0 {
		p, ok, err := l.storage.EntryAt(from - 1)
		if err != nil {
			return kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.VerifyChain", err)
		}
		if ok {
			prev = &p
		}
	}

	for i := range entries {
		e := entries[i]
		if prev != nil && e.PreviousHash != prev.EntryHash {
			return corrupt(e.Sequence, "previous_hash mismatch")
		}
		wantHash, err := e.computeHash()
		if err != nil {
			return corrupt(e.Sequence, fmt.Sprintf("hash recompute failed: %v", err))
		}
		if wantHash != e.EntryHash {
			return corrupt(e.Sequence, "entry_hash mismatch")
		}
		sigBytes, err := base64.StdEncoding.DecodeString(e.Signature)
		if err != nil {
			return corrupt(e.Sequence, "signature not valid base64")
		}
		ok, err := hkcrypto.Verify(pubKeyHex, hex.EncodeToString(sigBytes), e.EntryHash[:])
		if err != nil || !ok {
			return corrupt(e.Sequence, "signature verification failed")
		}
		prevCopy := e
		prev = &prevCopy
	}
	return nil
}

func corrupt(sequence uint64, reason string) error {
	return kernelerrors.ChainCorruption.WithReason(fmt.Sprintf("sequence %d: %s", sequence, reason))
}

// Filter narrows Iter to entries matching non-zero fields.
type Filter struct {
	Actor      string
	ActionType string
	Outcome    Outcome
}

func (f Filter) matches(e Entry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	return true
}

// Iter returns every entry matching filter, in ascending sequence order.
func (l *Log) Iter(filter Filter) ([]Entry, error) {
	n, err := l.storage.Len()
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Iter", err)
	}
	if n == 0 {
		return nil, nil
	}
	all, err := l.storage.Range(0, n-1)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindStoreError, "auditlog.Iter", err)
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Disabled reports whether appending has been halted by a chain-corruption
// finding, per §7's fatal-condition handling.
func (l *Log) Disabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disabled
}
