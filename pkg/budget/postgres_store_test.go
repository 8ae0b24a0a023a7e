package budget

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStorage_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewPostgresStorage(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"tenant_id", "daily_limit", "monthly_limit", "daily_used", "monthly_used", "last_updated"}).
		AddRow("/workspace/project-a", 1000, 50000, 100, 500, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT tenant_id, daily_limit, monthly_limit, daily_used, monthly_used, last_updated FROM budgets WHERE tenant_id = $1")).
		WithArgs("/workspace/project-a").
		WillReturnRows(rows)

	b, err := store.Get(ctx, "/workspace/project-a")
	assert.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, "/workspace/project-a", b.WorkspaceRoot)
	assert.Equal(t, int64(100), b.DailyUsed)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT tenant_id, daily_limit, monthly_limit, daily_used, monthly_used, last_updated FROM budgets WHERE tenant_id = $1")).
		WithArgs("/workspace/project-b").
		WillReturnError(sql.ErrNoRows)

	b2, err := store.Get(ctx, "/workspace/project-b")
	assert.NoError(t, err)
	assert.Nil(t, b2)
}

func TestPostgresStorage_Set(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewPostgresStorage(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO budgets")).
		WithArgs("/workspace/project-a", int64(1000), int64(50000), int64(200), int64(600), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	b := &Budget{
		WorkspaceRoot: "/workspace/project-a",
		DailyLimit:    1000,
		MonthlyLimit:  50000,
		DailyUsed:     200,
		MonthlyUsed:   600,
		LastUpdated:   time.Now(),
	}

	err = store.Set(ctx, b)
	assert.NoError(t, err)
}
