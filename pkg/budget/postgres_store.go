package budget

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStorage implements Storage using PostgreSQL. The `budgets` table's
// primary key column is still named `tenant_id` in the schema this was
// adapted from, but every row it holds is keyed by workspace root, not a
// multi-tenant billing identifier.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) Get(ctx context.Context, workspaceRoot string) (*Budget, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT tenant_id, daily_limit, monthly_limit, daily_used, monthly_used, last_updated FROM budgets WHERE tenant_id = $1",
		workspaceRoot)

	var b Budget
	err := row.Scan(&b.WorkspaceRoot, &b.DailyLimit, &b.MonthlyLimit, &b.DailyUsed, &b.MonthlyUsed, &b.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil // Not found is valid, caller initializes a fresh budget
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &b, nil
}

func (s *PostgresStorage) Set(ctx context.Context, b *Budget) error {
	// Upsert logic to handle both new and existing budgets
	query := `
		INSERT INTO budgets (tenant_id, daily_limit, monthly_limit, daily_used, monthly_used, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_used = EXCLUDED.daily_used,
			monthly_used = EXCLUDED.monthly_used,
			last_updated = EXCLUDED.last_updated
	`
	_, err := s.db.ExecContext(ctx, query, b.WorkspaceRoot, b.DailyLimit, b.MonthlyLimit, b.DailyUsed, b.MonthlyUsed, b.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to persist budget: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Limits(ctx context.Context, workspaceRoot string) (int64, int64, error) {
	// Limits live on the same row as usage; fall back to the session
	// defaults when the workspace has never recorded spend.
	row := s.db.QueryRowContext(ctx, "SELECT daily_limit, monthly_limit FROM budgets WHERE tenant_id = $1", workspaceRoot)
	var daily, monthly int64
	err := row.Scan(&daily, &monthly)
	if err == sql.ErrNoRows {
		return 1000, 50000, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return daily, monthly, nil
}

func (s *PostgresStorage) SetLimits(ctx context.Context, workspaceRoot string, daily, monthly int64) error {
	// Upsert just the limits
	query := `
		INSERT INTO budgets (tenant_id, daily_limit, monthly_limit, daily_used, monthly_used, last_updated)
		VALUES ($1, $2, $3, 0, 0, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit
	`
	_, err := s.db.ExecContext(ctx, query, workspaceRoot, daily, monthly)
	if err != nil {
		return fmt.Errorf("failed to set limits: %w", err)
	}
	return nil
}
