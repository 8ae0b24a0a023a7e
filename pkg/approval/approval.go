// Package approval implements the Approval Manager: the bridge between the
// interceptor and an out-of-band human decision-maker. It holds the
// pending-request table, dispatches requests to attached frontends, awaits
// a decision with a risk-dependent timeout, and persists requests nobody is
// currently attached to answer so a reconnecting frontend can drain them.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
	"golang.org/x/time/rate"
)

// Option is one of the choices offered to the human for a pending request.
type Option string

const (
	AllowOnce      Option = "allow_once"
	AllowSession   Option = "allow_session"
	AllowWorkspace Option = "allow_workspace"
	AllowAlways    Option = "allow_always"
	Deny           Option = "deny"
)

// Request describes a pending approval ask, handed to every attached
// frontend.
type Request struct {
	ID               action.ID
	Action           action.SensitiveAction
	Risk             action.RiskLevel
	Context          map[string]any
	AvailableOptions []Option
	CreatedAt        time.Time
}

// AvailableOptionsFor returns the option set §4.1 step 6 offers for risk:
// AllowAlways is hidden for Critical actions, which
// must always re-enter approval (no capability can silently cover a
// Critical action going forward).
func AvailableOptionsFor(risk action.RiskLevel) []Option {
	opts := []Option{AllowOnce, AllowSession, AllowWorkspace, Deny}
	if risk != action.RiskCritical {
		// insert AllowAlways before Deny
		opts = append(opts[:len(opts)-1:len(opts)-1], AllowAlways, Deny)
	}
	return opts
}

// Decision is the human's resolution of a pending Request.
type Decision struct {
	Option Option
	Reason string
}

// Frontend is the polymorphic approval-UI surface the manager dispatches
// requests to (§6's frontend trait). A session may attach any number of
// frontends (CLI, daemon event stream, Telegram, Discord); RequestApproval
// is called on all of them, and the manager resolves on whichever responds
// first.
type Frontend interface {
	RequestApproval(ctx context.Context, req Request) (Decision, error)
	ShowStatus(message string)
	ShowError(message string)
}

// DeferredStore persists requests that have no attached frontend to answer
// them, so a later-connecting frontend can drain and resolve them (§4.4
// "Deferred resolutions").
type DeferredStore interface {
	Save(req Request) error
	Load() ([]Request, error)
	Delete(id action.ID) error
}

const (
	// DefaultTimeout is the approval wait for Low/Medium/High risk.
	DefaultTimeout = 5 * time.Minute
	// CriticalTimeout is the approval wait for Critical risk, allowing time
	// for out-of-band verification.
	CriticalTimeout = 15 * time.Minute
	// DeferredRetention is how long a deferred (un-attached) request is kept
	// before being purged (§5 "Timeouts").
	DeferredRetention = 24 * time.Hour
	// pendingReaperInterval is the sweep cadence of the reaper started by
	// StartReaper, which purges deferred-store entries older than
	// DeferredRetention.
	pendingReaperInterval = 30 * time.Second
	// drainRateLimit caps how fast DrainDeferred redispatches persisted
	// requests to a newly attached frontend, so a CLI reconnecting after a
	// long disconnect doesn't get flooded with a burst of approval prompts.
	drainRateLimit = 5 // requests per second
	drainBurst     = 5
)

type pendingEntry struct {
	request   Request
	createdAt time.Time
	done      chan Decision
	resolved  bool
}

// Manager is the approval manager. A short write lock guards insertion and
// removal of pending entries; the wait on a request's completion channel
// happens outside the lock, per §5's locking discipline.
type Manager struct {
	mu          sync.Mutex
	pending     map[action.ID]*pendingEntry
	frontends   []Frontend
	deferred    DeferredStore
	clock       func() time.Time
	drainLimiter *rate.Limiter

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// NewManager creates a Manager with no attached frontends. deferred may be
// nil, in which case requests with no attached frontend fail fast rather
// than being persisted.
func NewManager(deferred DeferredStore) *Manager {
	m := &Manager{
		pending:      make(map[action.ID]*pendingEntry),
		deferred:     deferred,
		clock:        time.Now,
		stopReaper:   make(chan struct{}),
		drainLimiter: rate.NewLimiter(rate.Limit(drainRateLimit), drainBurst),
	}
	return m
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Attach registers f as a frontend that receives future approval requests.
func (m *Manager) Attach(f Frontend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frontends = append(m.frontends, f)
}

// timeoutFor returns the approval wait for risk.
func timeoutFor(risk action.RiskLevel) time.Duration {
	if risk == action.RiskCritical {
		return CriticalTimeout
	}
	return DefaultTimeout
}

// RequestApproval inserts req into the pending table, dispatches it to every
// attached frontend (or persists it to the deferred store if none are
// attached), and awaits a decision up to the risk-appropriate timeout. A
// timeout or a cancelled ctx surfaces as ApprovalDenied; the caller
// distinguishes them via the KernelError's Reason field ("timeout" or
// "cancelled"). An explicit Deny is returned as a Decision with a nil
// error.
func (m *Manager) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	if req.ID == "" {
		req.ID = action.NewID("approval")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.clock()
	}
	if req.AvailableOptions == nil {
		req.AvailableOptions = AvailableOptionsFor(req.Risk)
	}

	entry := &pendingEntry{
		request:   req,
		createdAt: m.clock(),
		done:      make(chan Decision, 1),
	}

	m.mu.Lock()
	m.pending[req.ID] = entry
	frontends := append([]Frontend(nil), m.frontends...)
	m.mu.Unlock()

	if len(frontends) == 0 {
		if m.deferred == nil {
			m.removeEntry(req.ID)
			return Decision{}, kernelerrors.ApprovalDenied.WithReason("no_frontend")
		}
		if m.deferred != nil {
			if err := m.deferred.Save(req); err != nil {
				m.removeEntry(req.ID)
				return Decision{}, kernelerrors.Wrap(kernelerrors.KindStoreError, "approval.RequestApproval", err)
			}
		}
	} else {
		for _, f := range frontends {
			go m.dispatch(ctx, f, req, entry)
		}
	}

	timeout := timeoutFor(req.Risk)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-entry.done:
		m.removeEntry(req.ID)
		return decision, nil
	case <-timer.C:
		m.removeEntry(req.ID)
		if m.deferred != nil {
			_ = m.deferred.Delete(req.ID)
		}
		return Decision{}, kernelerrors.ApprovalDenied.WithReason("timeout")
	case <-ctx.Done():
		m.removeEntry(req.ID)
		if m.deferred != nil {
			_ = m.deferred.Delete(req.ID)
		}
		return Decision{}, kernelerrors.ApprovalDenied.WithReason("cancelled")
	}
}

// dispatch calls f.RequestApproval and resolves entry with the first
// successful response received from any frontend.
func (m *Manager) dispatch(ctx context.Context, f Frontend, req Request, entry *pendingEntry) {
	decision, err := f.RequestApproval(ctx, req)
	if err != nil {
		f.ShowError(err.Error())
		return
	}
	m.Resolve(req.ID, decision)
}

// Resolve is called by a frontend (directly, or via the daemon's RPC layer)
// when a human has made a decision for id. It is a no-op if id is not
// pending or has already resolved -- a second frontend answering after the
// first is harmless.
func (m *Manager) Resolve(id action.ID, decision Decision) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if ok && !entry.resolved {
		entry.resolved = true
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	select {
	case entry.done <- decision:
	default:
	}
	if m.deferred != nil {
		_ = m.deferred.Delete(id)
	}
}

func (m *Manager) removeEntry(id action.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// PendingCount reports the number of requests currently awaiting a
// decision, for tests and operator tooling.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// DrainDeferred loads every persisted deferred request and redispatches it
// to f, the newly attached frontend -- this is what makes the system
// robust to a CLI that disconnects mid-approval (§4.4).
func (m *Manager) DrainDeferred(ctx context.Context, f Frontend) error {
	if m.deferred == nil {
		return nil
	}
	reqs, err := m.deferred.Load()
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindStoreError, "approval.DrainDeferred", err)
	}
	now := m.clock()
	for _, req := range reqs {
		if now.Sub(req.CreatedAt) > DeferredRetention {
			_ = m.deferred.Delete(req.ID)
			continue
		}
		m.mu.Lock()
		entry, alive := m.pending[req.ID]
		m.mu.Unlock()
		if !alive {
			// The original RequestApproval call already timed out and
			// returned to its caller; draining a stale deferred entry with
			// nothing waiting on it just clears the persisted copy.
			_ = m.deferred.Delete(req.ID)
			continue
		}
		if err := m.drainLimiter.Wait(ctx); err != nil {
			return kernelerrors.Wrap(kernelerrors.KindStoreError, "approval.DrainDeferred", err)
		}
		go m.dispatch(ctx, f, req, entry)
	}
	return nil
}

// StartReaper launches a background goroutine that periodically purges
// deferred entries older than DeferredRetention. Call Stop to halt it.
func (m *Manager) StartReaper() {
	go func() {
		ticker := time.NewTicker(pendingReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapDeferred()
			case <-m.stopReaper:
				return
			}
		}
	}()
}

func (m *Manager) reapDeferred() {
	if m.deferred == nil {
		return
	}
	reqs, err := m.deferred.Load()
	if err != nil {
		return
	}
	now := m.clock()
	for _, req := range reqs {
		if now.Sub(req.CreatedAt) > DeferredRetention {
			_ = m.deferred.Delete(req.ID)
		}
	}
}

// Stop halts the background reaper started by StartReaper. Safe to call at
// most once.
func (m *Manager) Stop() {
	m.reaperOnce.Do(func() { close(m.stopReaper) })
}
