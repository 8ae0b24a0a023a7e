package budget

import (
	"context"
	"sync/atomic"
)

// Result is the outcome of a Tracker.Check call.
type Result struct {
	Kind         ResultKind
	PercentUsed  float64 // set for WarnAndAllow
	LimitKind    string  // set for Exceeded: "session" or "per_action"
}

type ResultKind int

const (
	Allow ResultKind = iota
	WarnAndAllow
	Exceeded
)

// State is the immutable snapshot of a Tracker's counters, corresponding to
// the specification's BudgetState.
type State struct {
	SessionSpent   int64
	PerActionLimit int64
	SessionLimit   int64
	WarnFraction   float64 // e.g. 0.80
}

// Tracker enforces a per-session cumulative budget using lock-free atomic
// counters, per the specification's concurrency model ("Budget tracker:
// atomic counters -- no locking"). session_spent is monotone non-decreasing
// (invariant 6): Record only ever adds.
type Tracker struct {
	sessionSpent   int64 // cents, atomic
	perActionLimit int64
	sessionLimit   int64
	warnFraction   float64 // read-only after construction
}

// NewTracker creates a Tracker with the given limits. Amounts are in cents
// to keep the hot counters integer and atomic-friendly.
func NewTracker(sessionLimitCents, perActionLimitCents int64, warnFraction float64) *Tracker {
	return &Tracker{
		perActionLimit: perActionLimitCents,
		sessionLimit:   sessionLimitCents,
		warnFraction:   warnFraction,
	}
}

// Check evaluates whether cost (cents) can be incurred without committing
// it. The interceptor calls Check to reserve, then either Record (on
// approval) or does nothing further (on denial/cancellation) -- Check
// itself never mutates state, matching §4.1 step 2's "reserve the cost;
// finalise only if approved."
func (t *Tracker) Check(costCents int64) Result {
	spent := atomic.LoadInt64(&t.sessionSpent)

	if costCents > t.perActionLimit && t.perActionLimit > 0 {
		return Result{Kind: Exceeded, LimitKind: "per_action"}
	}
	if t.sessionLimit > 0 && spent+costCents > t.sessionLimit {
		return Result{Kind: Exceeded, LimitKind: "session"}
	}

	if t.sessionLimit > 0 {
		percentUsed := float64(spent+costCents) / float64(t.sessionLimit)
		if percentUsed >= t.warnFraction {
			return Result{Kind: WarnAndAllow, PercentUsed: percentUsed * 100}
		}
	}
	return Result{Kind: Allow}
}

// Record commits a spend, the "finalise" step of §4.1 step 7. Never
// decreases sessionSpent -- there is no refund path, matching invariant 6.
func (t *Tracker) Record(costCents int64) {
	if costCents <= 0 {
		return
	}
	atomic.AddInt64(&t.sessionSpent, costCents)
}

// Spent returns the current cumulative spend.
func (t *Tracker) Spent() int64 { return atomic.LoadInt64(&t.sessionSpent) }

// Remaining returns the session budget left, floored at zero.
func (t *Tracker) Remaining() int64 {
	r := t.sessionLimit - t.Spent()
	if r < 0 {
		return 0
	}
	return r
}

// Snapshot returns an immutable State view of the tracker's counters.
func (t *Tracker) Snapshot() State {
	return State{
		SessionSpent:   t.Spent(),
		PerActionLimit: t.perActionLimit,
		SessionLimit:   t.sessionLimit,
		WarnFraction:   t.warnFraction,
	}
}

// PersistentTracker wraps a Tracker with workspace-level cumulative budget
// persisted through any Storage implementation (MemoryStorage,
// PostgresStorage, RedisStorage or kvstore.Store), reloaded on
// restart -- the specification's "parallel counter persisted in the
// workspace KV, reloaded on restart." It reuses the tenant-scoped
// Storage/Budget machinery already built for cost enforcement, keyed by
// workspace root instead of tenant ID.
type PersistentTracker struct {
	*Tracker
	storage       Storage
	workspaceRoot string
}

// LoadPersistentTracker reloads a workspace's cumulative spend from storage
// (falling back to zero on a fresh workspace) and wraps it in a Tracker
// enforcing the given limits.
func LoadPersistentTracker(ctx context.Context, storage Storage, workspaceRoot string, sessionLimitCents, perActionLimitCents int64, warnFraction float64) (*PersistentTracker, error) {
	b, err := storage.Get(ctx, workspaceRoot)
	if err != nil {
		return nil, err
	}
	tr := NewTracker(sessionLimitCents, perActionLimitCents, warnFraction)
	if b != nil {
		atomic.StoreInt64(&tr.sessionSpent, b.DailyUsed)
	}
	return &PersistentTracker{Tracker: tr, storage: storage, workspaceRoot: workspaceRoot}, nil
}

// Persist writes the tracker's current cumulative spend back to storage.
func (p *PersistentTracker) Persist(ctx context.Context) error {
	return p.storage.Set(ctx, &Budget{
		WorkspaceRoot: p.workspaceRoot,
		DailyUsed:     p.Spent(),
		DailyLimit:    p.sessionLimit,
	})
}
