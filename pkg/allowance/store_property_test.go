//go:build property
// +build property

package allowance_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/allowance"
)

// TestUsesRemainingNeverIncreases verifies invariant 4: repeated
// FindMatchingAndConsume calls against a single allowance only ever lower
// (or leave unchanged, once exhausted) its UsesRemaining counter.
func TestUsesRemainingNeverIncreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	pattern := action.Exact("file", "/workspace/report.csv")

	properties.Property("UsesRemaining is monotone non-increasing across consumes", prop.ForAll(
		func(maxUsesInt, attempts int) bool {
			maxUses := uint32(maxUsesInt)
			if maxUses == 0 {
				maxUses = 1
			}
			store := allowance.NewStore()
			now := time.Now()
			a := allowance.NewSessionAllowance(pattern, action.PermissionRead, "sess-1", maxUses, 0, now)
			store.Add(a)

			prev := *a.UsesRemaining
			for i := 0; i < attempts%50; i++ {
				got, ok := store.FindMatchingAndConsume("file:///workspace/report.csv", action.PermissionRead, "")
				if !ok {
					// Exhausted: no further consumption should ever succeed again.
					continue
				}
				if got.UsesRemaining == nil {
					return false
				}
				if *got.UsesRemaining > prev {
					return false
				}
				prev = *got.UsesRemaining
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestExhaustedAllowanceNeverMatchesAgain verifies that once UsesRemaining
// reaches zero, FindMatchingAndConsume never reports it eligible again, no
// matter how many further attempts are made.
func TestExhaustedAllowanceNeverMatchesAgain(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	pattern := action.Exact("file", "/workspace/report.csv")

	properties.Property("an exhausted allowance cannot be consumed again", prop.ForAll(
		func(maxUsesInt, extraAttempts int) bool {
			maxUses := uint32(maxUsesInt)
			if maxUses == 0 {
				maxUses = 1
			}
			store := allowance.NewStore()
			now := time.Now()
			a := allowance.NewSessionAllowance(pattern, action.PermissionRead, "sess-1", maxUses, 0, now)
			store.Add(a)

			for i := uint32(0); i < maxUses; i++ {
				if _, ok := store.FindMatchingAndConsume("file:///workspace/report.csv", action.PermissionRead, ""); !ok {
					return false // should succeed exactly maxUses times
				}
			}
			for i := 0; i < extraAttempts%20; i++ {
				if _, ok := store.FindMatchingAndConsume("file:///workspace/report.csv", action.PermissionRead, ""); ok {
					return false // exhausted allowance must never match again
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
