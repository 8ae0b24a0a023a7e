// Package budget tracks and enforces a session's cumulative spend against
// the workspace's configured limits, persisting the running total so a
// restarted session picks up where the last one left off.
package budget

import (
	"context"
	"time"
)

// Budget is a workspace's persisted cumulative-spend record, keyed by
// workspace root instead of the donor enforcer's tenant ID.
type Budget struct {
	WorkspaceRoot string    `json:"workspace_root"`
	DailyLimit    int64     `json:"daily_limit"`   // cents
	MonthlyLimit  int64     `json:"monthly_limit"` // cents
	DailyUsed     int64     `json:"daily_used"`    // cents
	MonthlyUsed   int64     `json:"monthly_used"`  // cents
	LastUpdated   time.Time `json:"last_updated"`
}

// DailyRemaining returns how much budget is remaining for the day.
func (b *Budget) DailyRemaining() int64 {
	remaining := b.DailyLimit - b.DailyUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Storage handles persistence of a workspace's cumulative spend, backing
// PersistentTracker. MemoryStorage and PostgresStorage are the two
// implementations carried over from the donor tenant-budget module, their
// tenant-keyed lookups repurposed to key by workspace root instead.
type Storage interface {
	Get(ctx context.Context, workspaceRoot string) (*Budget, error)
	Set(ctx context.Context, budget *Budget) error
	Limits(ctx context.Context, workspaceRoot string) (daily, monthly int64, err error)
	SetLimits(ctx context.Context, workspaceRoot string, daily, monthly int64) error
}
