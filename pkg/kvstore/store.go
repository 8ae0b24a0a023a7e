package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/approval"
	"github.com/Mindburn-Labs/helm/core/pkg/budget"
)

// DefaultStateDirName is the "." + product name directory §6 describes:
// "<workspace>/.<product>/state".
const DefaultStateDirName = ".helm"

// StatePath returns the conventional state-file path for a workspace root.
func StatePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, DefaultStateDirName, "state")
}

// Store is the single workspace-scoped SQLite-backed KV store holding
// everything §6 assigns to the workspace state file: the cumulative budget
// counter, exported workspace allowances, the cumulative audit sequence
// pointer, and deferred approvals. It implements budget.Storage directly
// and can back an approval.DeferredStore via DeferredStoreAdapter, so a
// single file -- not three -- persists a workspace's authority state.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	sealer *sealer // nil when the store was opened without an encryption key
}

// Open creates (if needed) the state directory and database at path with
// 0600 permissions and prepares the schema. If runtimeSeed is non-nil, a
// purpose-scoped subkey is derived per DeriveSubkey and blob columns
// (allowance bundles, deferred-approval payloads) are encrypted at rest;
// passing nil stores them as plaintext JSON, which is still fine for the
// audit-pointer and budget counters since those carry no secrets.
func Open(path string, runtimeSeed []byte) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("kvstore: mkdir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; sqlite serializes anyway

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: chmod %s: %w", path, err)
	}

	if runtimeSeed != nil {
		key, err := DeriveSubkey(runtimeSeed, "kvstore-blobs")
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sl, err := newSealer(key)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.sealer = sl
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS budget_counters (
			workspace_root TEXT PRIMARY KEY,
			daily_limit INTEGER NOT NULL DEFAULT 0,
			monthly_limit INTEGER NOT NULL DEFAULT 0,
			daily_used INTEGER NOT NULL DEFAULT 0,
			monthly_used INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_pointers (
			workspace_root TEXT PRIMARY KEY,
			sequence INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_allowances (
			workspace_root TEXT PRIMARY KEY,
			blob BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deferred_approvals (
			id TEXT PRIMARY KEY,
			blob BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("kvstore: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) blobOut(plaintext []byte) ([]byte, error) {
	if s.sealer == nil {
		return plaintext, nil
	}
	return s.sealer.seal(plaintext)
}

func (s *Store) blobIn(stored []byte) ([]byte, error) {
	if s.sealer == nil {
		return stored, nil
	}
	return s.sealer.open(stored)
}

// --- budget.Storage -------------------------------------------------------

var _ budget.Storage = (*Store)(nil)

// Get implements budget.Storage, keyed by workspace root (the donor's
// tenant ID slot repurposed per pkg/budget's adaptation notes).
func (s *Store) Get(ctx context.Context, workspaceRoot string) (*budget.Budget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT daily_limit, monthly_limit, daily_used, monthly_used, last_updated
		FROM budget_counters WHERE workspace_root = ?`, workspaceRoot)
	var b budget.Budget
	var lastUpdated string
	err := row.Scan(&b.DailyLimit, &b.MonthlyLimit, &b.DailyUsed, &b.MonthlyUsed, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get budget %s: %w", workspaceRoot, err)
	}
	b.WorkspaceRoot = workspaceRoot
	b.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return &b, nil
}

// Set implements budget.Storage.
func (s *Store) Set(ctx context.Context, b *budget.Budget) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO budget_counters
		(workspace_root, daily_limit, monthly_limit, daily_used, monthly_used, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_root) DO UPDATE SET
			daily_limit=excluded.daily_limit, monthly_limit=excluded.monthly_limit,
			daily_used=excluded.daily_used, monthly_used=excluded.monthly_used,
			last_updated=excluded.last_updated`,
		b.WorkspaceRoot, b.DailyLimit, b.MonthlyLimit, b.DailyUsed, b.MonthlyUsed,
		b.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kvstore: set budget %s: %w", b.WorkspaceRoot, err)
	}
	return nil
}

// Limits implements budget.Storage, returning the donor's conservative
// defaults when no row exists yet.
func (s *Store) Limits(ctx context.Context, workspaceRoot string) (daily, monthly int64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT daily_limit, monthly_limit FROM budget_counters WHERE workspace_root = ?`, workspaceRoot)
	err = row.Scan(&daily, &monthly)
	if err == sql.ErrNoRows {
		return 1000, 50000, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: limits %s: %w", workspaceRoot, err)
	}
	return daily, monthly, nil
}

// SetLimits implements budget.Storage.
func (s *Store) SetLimits(ctx context.Context, workspaceRoot string, daily, monthly int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO budget_counters (workspace_root, daily_limit, monthly_limit, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_root) DO UPDATE SET daily_limit=excluded.daily_limit, monthly_limit=excluded.monthly_limit`,
		workspaceRoot, daily, monthly, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kvstore: set limits %s: %w", workspaceRoot, err)
	}
	return nil
}

// --- audit sequence pointer -----------------------------------------------

// AuditPointer returns the last audit sequence number this workspace has
// durably recorded, or 0 if none.
func (s *Store) AuditPointer(workspaceRoot string) (uint64, error) {
	row := s.db.QueryRow(`SELECT sequence FROM audit_pointers WHERE workspace_root = ?`, workspaceRoot)
	var seq uint64
	err := row.Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kvstore: audit pointer %s: %w", workspaceRoot, err)
	}
	return seq, nil
}

// SetAuditPointer persists the latest audit sequence number reached by
// workspaceRoot, so a restarted daemon can detect a truncated or replaced
// log file at startup.
func (s *Store) SetAuditPointer(workspaceRoot string, seq uint64) error {
	_, err := s.db.Exec(`INSERT INTO audit_pointers (workspace_root, sequence) VALUES (?, ?)
		ON CONFLICT(workspace_root) DO UPDATE SET sequence=excluded.sequence`, workspaceRoot, seq)
	if err != nil {
		return fmt.Errorf("kvstore: set audit pointer %s: %w", workspaceRoot, err)
	}
	return nil
}

// --- workspace allowance bundles ------------------------------------------

// SaveAllowanceBundle persists the signed JSON encoding of an
// allowance.WorkspaceBundle for workspaceRoot, overwriting any prior bundle.
func (s *Store) SaveAllowanceBundle(workspaceRoot string, bundleJSON []byte) error {
	blob, err := s.blobOut(bundleJSON)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO workspace_allowances (workspace_root, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(workspace_root) DO UPDATE SET blob=excluded.blob, updated_at=excluded.updated_at`,
		workspaceRoot, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kvstore: save allowance bundle %s: %w", workspaceRoot, err)
	}
	return nil
}

// LoadAllowanceBundle returns the persisted bundle JSON for workspaceRoot,
// or ok=false if none has been saved.
func (s *Store) LoadAllowanceBundle(workspaceRoot string) (bundleJSON []byte, ok bool, err error) {
	row := s.db.QueryRow(`SELECT blob FROM workspace_allowances WHERE workspace_root = ?`, workspaceRoot)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kvstore: load allowance bundle %s: %w", workspaceRoot, err)
	}
	plaintext, err := s.blobIn(blob)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// --- deferred approvals (approval.DeferredStore) --------------------------

// DeferredStoreAdapter adapts Store to approval.DeferredStore, letting the
// approval manager persist requests nobody is attached to answer into the
// same file as the rest of the workspace's authority state, instead of the
// separate JSON file approval.FileDeferredStore uses.
type DeferredStoreAdapter struct {
	store *Store
}

var _ approval.DeferredStore = (*DeferredStoreAdapter)(nil)

// DeferredStore returns a DeferredStoreAdapter backed by s.
func (s *Store) DeferredStore() *DeferredStoreAdapter {
	return &DeferredStoreAdapter{store: s}
}

// Save persists req, encrypted at rest if the store was opened with a
// runtime seed.
func (a *DeferredStoreAdapter) Save(req approval.Request) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	plaintext, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("kvstore: encode deferred request: %w", err)
	}
	blob, err := a.store.blobOut(plaintext)
	if err != nil {
		return err
	}
	_, err = a.store.db.Exec(`INSERT INTO deferred_approvals (id, blob) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET blob=excluded.blob`, string(req.ID), blob)
	if err != nil {
		return fmt.Errorf("kvstore: save deferred %s: %w", req.ID, err)
	}
	return nil
}

// Load returns every persisted deferred request, decrypting as needed.
func (a *DeferredStoreAdapter) Load() ([]approval.Request, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	rows, err := a.store.db.Query(`SELECT blob FROM deferred_approvals`)
	if err != nil {
		return nil, fmt.Errorf("kvstore: load deferred: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("kvstore: scan deferred: %w", err)
		}
		plaintext, err := a.store.blobIn(blob)
		if err != nil {
			return nil, err
		}
		var req approval.Request
		if err := json.Unmarshal(plaintext, &req); err != nil {
			return nil, fmt.Errorf("kvstore: decode deferred: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Delete removes a deferred request, if present.
func (a *DeferredStoreAdapter) Delete(id action.ID) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	_, err := a.store.db.Exec(`DELETE FROM deferred_approvals WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("kvstore: delete deferred %s: %w", id, err)
	}
	return nil
}
