//go:build property
// +build property

package budget_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/Mindburn-Labs/helm/core/pkg/budget"
)

// TestSessionSpentMonotonicity verifies invariant 6: session_spent never
// decreases across any sequence of Record calls, regardless of cost order.
func TestSessionSpentMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Tracker.Spent never decreases as costs are recorded", prop.ForAll(
		func(costs []int64) bool {
			tr := budget.NewTracker(0, 0, 0.8) // unbounded limits; only monotonicity matters here
			prev := int64(0)
			for _, c := range costs {
				if c < 0 {
					c = -c
				}
				tr.Record(c)
				now := tr.Spent()
				if now < prev {
					return false
				}
				prev = now
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1_000_000)),
	))

	properties.TestingRun(t)
}

// TestCheckNeverMutatesState verifies Check is a pure reservation: calling it
// any number of times leaves Spent() unchanged until Record is called.
func TestCheckNeverMutatesState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Check never mutates sessionSpent", prop.ForAll(
		func(sessionLimit, cost int64, checks int) bool {
			if sessionLimit < 0 {
				sessionLimit = -sessionLimit
			}
			if cost < 0 {
				cost = -cost
			}
			tr := budget.NewTracker(sessionLimit, 0, 0.8)
			before := tr.Spent()
			for i := 0; i < checks%20; i++ {
				tr.Check(cost)
			}
			return tr.Spent() == before
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestSessionLimitNeverExceededAfterRecord verifies that when Check reports
// Exceeded for the session limit, a caller honoring that verdict (never
// calling Record) keeps Spent() within the limit -- the reserve-then-commit
// split the interceptor relies on at §4.1 step 2/7.
func TestSessionLimitNeverExceededAfterRecord(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("honoring Check's Exceeded verdict keeps Spent within the session limit", prop.ForAll(
		func(sessionLimit int64, costs []int64) bool {
			if sessionLimit <= 0 {
				sessionLimit = 1
			}
			tr := budget.NewTracker(sessionLimit, 0, 0.8)
			for _, c := range costs {
				if c < 0 {
					c = -c
				}
				if tr.Check(c).Kind == budget.Exceeded {
					continue
				}
				tr.Record(c)
			}
			return tr.Spent() <= sessionLimit
		},
		gen.Int64Range(1, 1_000_000),
		gen.SliceOf(gen.Int64Range(0, 500_000)),
	))

	properties.TestingRun(t)
}
